package game

import (
	"errors"
	"time"
)

// ErrInsufficientActions is returned when a battle is attempted with no actions left.
var ErrInsufficientActions = errors.New("no actions remaining")

func CanAct(a *Account) bool {
	return a.Actions > 0
}

// Consume spends one action. The account is left untouched on error.
func Consume(a *Account) error {
	if !CanAct(a) {
		return ErrInsufficientActions
	}
	a.Actions--
	return nil
}

// RegenPolicy refills one action per Every, up to Max. A zero Every disables
// regeneration entirely.
type RegenPolicy struct {
	Every time.Duration
	Max   int64
}

func (p RegenPolicy) Enabled() bool {
	return p.Every > 0 && p.Max > 0
}

// Apply credits the whole intervals elapsed since the account's regen anchor.
// The anchor only moves by the intervals credited, so a partial interval is
// carried into the next call. Balances above Max are never reduced.
func (p RegenPolicy) Apply(a *Account, now time.Time) int64 {
	if !p.Enabled() {
		return 0
	}
	now = now.UTC()
	if a.ActionsRegenAt.IsZero() || a.Actions >= p.Max {
		a.ActionsRegenAt = now
		return 0
	}
	dt := now.Sub(a.ActionsRegenAt)
	if dt < p.Every {
		return 0
	}
	n := int64(dt / p.Every)
	room := p.Max - a.Actions
	if n >= room {
		a.Actions = p.Max
		a.ActionsRegenAt = now
		return room
	}
	a.Actions += n
	a.ActionsRegenAt = a.ActionsRegenAt.Add(time.Duration(n) * p.Every)
	return n
}
