package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Oat2Milk/immortal-legacy/internal/game"
	"github.com/Oat2Milk/immortal-legacy/internal/leaderboard"
	"github.com/Oat2Milk/immortal-legacy/internal/payments"
)

// Store keeps accounts and purchases in process memory. It is used when no
// database is configured and by tests. Each account owns its own mutex so
// updates to one account are serialised without blocking the others.
type Store struct {
	mu         sync.RWMutex
	accounts   map[uuid.UUID]*record
	byEmail    map[string]uuid.UUID
	byUsername map[string]uuid.UUID

	purchaseMu sync.Mutex
	purchases  map[string]*payments.Purchase
}

type record struct {
	mu  sync.Mutex
	acc game.Account
}

func New() *Store {
	return &Store{
		accounts:   map[uuid.UUID]*record{},
		byEmail:    map[string]uuid.UUID{},
		byUsername: map[string]uuid.UUID{},
		purchases:  map[string]*payments.Purchase{},
	}
}

func usernameKey(s string) string { return strings.TrimSpace(s) }

func (s *Store) CreateAccount(_ context.Context, a game.Account) (game.Account, error) {
	email := game.NormalizeEmail(a.Email)
	uname := usernameKey(a.Username)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[email]; ok {
		return game.Account{}, game.ErrAccountExists
	}
	if _, ok := s.byUsername[uname]; ok {
		return game.Account{}, game.ErrAccountExists
	}
	if _, ok := s.accounts[a.ID]; ok {
		return game.Account{}, game.ErrAccountExists
	}
	a.Email = email
	a.Username = uname
	s.accounts[a.ID] = &record{acc: a}
	s.byEmail[email] = a.ID
	s.byUsername[uname] = a.ID
	return a, nil
}

func (s *Store) lookup(id uuid.UUID) (*record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.accounts[id]
	return r, ok
}

func (s *Store) GetAccount(_ context.Context, id uuid.UUID) (game.Account, error) {
	r, ok := s.lookup(id)
	if !ok {
		return game.Account{}, game.ErrAccountNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.acc, nil
}

func (s *Store) GetAccountByEmail(ctx context.Context, email string) (game.Account, error) {
	s.mu.RLock()
	id, ok := s.byEmail[game.NormalizeEmail(email)]
	s.mu.RUnlock()
	if !ok {
		return game.Account{}, game.ErrAccountNotFound
	}
	return s.GetAccount(ctx, id)
}

// UpdateAccount runs fn on a copy of the account while holding the account's
// lock and stores the copy only if fn succeeds.
func (s *Store) UpdateAccount(_ context.Context, id uuid.UUID, fn func(a *game.Account) error) (game.Account, error) {
	r, ok := s.lookup(id)
	if !ok {
		return game.Account{}, game.ErrAccountNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.acc
	if err := fn(&next); err != nil {
		return game.Account{}, err
	}
	r.acc = next
	return next, nil
}

func (s *Store) CreatePurchase(_ context.Context, p payments.Purchase) error {
	s.purchaseMu.Lock()
	defer s.purchaseMu.Unlock()
	if _, ok := s.purchases[p.SessionID]; ok {
		return nil
	}
	cp := p
	s.purchases[p.SessionID] = &cp
	return nil
}

func (s *Store) Purchase(sessionID string) (payments.Purchase, bool) {
	s.purchaseMu.Lock()
	defer s.purchaseMu.Unlock()
	p, ok := s.purchases[sessionID]
	if !ok {
		return payments.Purchase{}, false
	}
	return *p, true
}

func (s *Store) FulfillPurchase(ctx context.Context, sessionID string, now time.Time) (payments.Purchase, bool, error) {
	s.purchaseMu.Lock()
	defer s.purchaseMu.Unlock()

	p, ok := s.purchases[sessionID]
	if !ok {
		return payments.Purchase{}, false, payments.ErrPurchaseNotFound
	}
	if p.Status == payments.StatusFulfilled {
		return *p, false, nil
	}
	_, err := s.UpdateAccount(ctx, p.AccountID, func(a *game.Account) error {
		a.Amethyst += p.Amethyst
		return nil
	})
	if err != nil {
		return payments.Purchase{}, false, err
	}
	t := now.UTC()
	p.Status = payments.StatusFulfilled
	p.FulfilledAt = &t
	return *p, true, nil
}

func (s *Store) ExpirePurchase(_ context.Context, sessionID string) error {
	s.purchaseMu.Lock()
	defer s.purchaseMu.Unlock()
	p, ok := s.purchases[sessionID]
	if !ok {
		return payments.ErrPurchaseNotFound
	}
	if p.Status == payments.StatusPending {
		p.Status = payments.StatusExpired
	}
	return nil
}

func (s *Store) Top(_ context.Context, limit int) ([]leaderboard.Entry, error) {
	limit = leaderboard.ClampLimit(limit)

	s.mu.RLock()
	recs := make([]*record, 0, len(s.accounts))
	for _, r := range s.accounts {
		recs = append(recs, r)
	}
	s.mu.RUnlock()

	accs := make([]game.Account, 0, len(recs))
	for _, r := range recs {
		r.mu.Lock()
		accs = append(accs, r.acc)
		r.mu.Unlock()
	}
	sort.Slice(accs, func(i, j int) bool {
		a, b := accs[i], accs[j]
		if a.Level != b.Level {
			return a.Level > b.Level
		}
		if a.Experience != b.Experience {
			return a.Experience > b.Experience
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	if len(accs) > limit {
		accs = accs[:limit]
	}
	out := make([]leaderboard.Entry, 0, len(accs))
	for i, a := range accs {
		out = append(out, leaderboard.Entry{
			Rank:       int64(i + 1),
			Username:   a.Username,
			Level:      a.Level,
			Experience: a.Experience,
			Gold:       a.Gold,
		})
	}
	return out, nil
}
