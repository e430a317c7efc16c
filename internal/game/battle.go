package game

import (
	"context"
	"math/rand"
	"time"

	"github.com/google/uuid"
)

// Reward ranges, each drawn as base + [0, spread).
const (
	DamageBase   = 200_000
	DamageSpread = 100_000
	GoldBase     = 500
	GoldSpread   = 1_000
	XPBase       = 50
	XPSpread     = 100
)

// Rand is the randomness source used for battle draws.
type Rand interface {
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.Intn(n) }

// Outcome is the result of one resolved battle. Everything except Damage
// reflects the account after the battle was applied.
type Outcome struct {
	Damage           int64 `json:"damage"`
	GoldReward       int64 `json:"goldReward"`
	XPReward         int64 `json:"xpReward"`
	RemainingActions int64 `json:"remainingActions"`
	Level            int64 `json:"level"`
	Experience       int64 `json:"experience"`

	LeveledUp bool `json:"-"`
}

type Engine struct {
	Store Store
	Regen RegenPolicy
	Rand  Rand
	Now   func() time.Time
}

func NewEngine(store Store, regen RegenPolicy) *Engine {
	return &Engine{
		Store: store,
		Regen: regen,
		Rand:  globalRand{},
		Now:   func() time.Time { return time.Now().UTC() },
	}
}

// ResolveBattle draws the rewards and applies them to a. On error a is not
// modified.
func (e *Engine) ResolveBattle(a *Account, now time.Time) (Outcome, error) {
	next := *a
	e.Regen.Apply(&next, now)
	if !CanAct(&next) {
		return Outcome{}, ErrInsufficientActions
	}

	damage := int64(DamageBase + e.Rand.IntN(DamageSpread))
	gold := int64(GoldBase + e.Rand.IntN(GoldSpread))
	xp := int64(XPBase + e.Rand.IntN(XPSpread))

	if err := Consume(&next); err != nil {
		return Outcome{}, err
	}
	next.Gold += gold
	next.Experience += xp

	prevLevel := next.Level
	next.Level, next.Experience = ApplyLeveling(next.Level, next.Experience)
	next.LastAction = now.UTC()

	*a = next
	return Outcome{
		Damage:           damage,
		GoldReward:       gold,
		XPReward:         xp,
		RemainingActions: next.Actions,
		Level:            next.Level,
		Experience:       next.Experience,
		LeveledUp:        next.Level > prevLevel,
	}, nil
}

// Battle resolves one battle for the account and persists it. Battles on the
// same account are serialised by the store; if persisting fails the outcome
// is discarded.
func (e *Engine) Battle(ctx context.Context, accountID uuid.UUID) (Outcome, error) {
	var out Outcome
	_, err := e.Store.UpdateAccount(ctx, accountID, func(a *Account) error {
		o, err := e.ResolveBattle(a, e.Now())
		if err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}
	return out, nil
}
