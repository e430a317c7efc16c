package game

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Defaults applied to a freshly registered account.
const (
	StartLevel   int64 = 1
	StartGold    int64 = 100
	StartActions int64 = 6000
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrAccountExists   = errors.New("account already exists")
)

type Skill struct {
	Level int64 `json:"level"`
	XP    int64 `json:"xp"`
}

// Skills is declared on every account but no operation advances it yet.
type Skills struct {
	Mining      Skill `json:"mining"`
	Fishing     Skill `json:"fishing"`
	Woodcutting Skill `json:"woodcutting"`
	Crafting    Skill `json:"crafting"`
}

func DefaultSkills() Skills {
	s := Skill{Level: 1, XP: 0}
	return Skills{Mining: s, Fishing: s, Woodcutting: s, Crafting: s}
}

// Account is the persisted state of one player.
type Account struct {
	ID           uuid.UUID `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`

	Level      int64 `json:"level"`
	TotalLevel int64 `json:"totalLevel"`
	Experience int64 `json:"experience"`

	Gold     int64 `json:"gold"`
	Amethyst int64 `json:"amethyst"`

	Actions        int64     `json:"actions"`
	ActionsRegenAt time.Time `json:"-"`

	Skills Skills `json:"skills"`

	LastAction time.Time `json:"lastAction"`
	CreatedAt  time.Time `json:"createdAt"`
}

// NewAccount builds a registration record with the starting balances.
func NewAccount(username, email, passwordHash string, now time.Time) Account {
	now = now.UTC()
	return Account{
		ID:             uuid.New(),
		Username:       strings.TrimSpace(username),
		Email:          NormalizeEmail(email),
		PasswordHash:   passwordHash,
		Level:          StartLevel,
		TotalLevel:     StartLevel,
		Experience:     0,
		Gold:           StartGold,
		Amethyst:       0,
		Actions:        StartActions,
		ActionsRegenAt: now,
		Skills:         DefaultSkills(),
		LastAction:     now,
		CreatedAt:      now,
	}
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Store persists accounts. UpdateAccount must run fn exclusively for the given
// account and persist the mutation only when fn returns nil.
type Store interface {
	CreateAccount(ctx context.Context, a Account) (Account, error)
	GetAccount(ctx context.Context, id uuid.UUID) (Account, error)
	GetAccountByEmail(ctx context.Context, email string) (Account, error)
	UpdateAccount(ctx context.Context, id uuid.UUID, fn func(a *Account) error) (Account, error)
}
