package game

import (
	"errors"
	"testing"
	"time"
)

func TestConsume(t *testing.T) {
	a := Account{Actions: 2}
	if err := Consume(&a); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if err := Consume(&a); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if a.Actions != 0 || CanAct(&a) {
		t.Fatalf("actions = %d, canAct = %v", a.Actions, CanAct(&a))
	}
	if err := Consume(&a); !errors.Is(err, ErrInsufficientActions) {
		t.Fatalf("err = %v, want ErrInsufficientActions", err)
	}
	if a.Actions != 0 {
		t.Fatalf("actions went negative: %d", a.Actions)
	}
}

func TestRegenPolicyApply(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := RegenPolicy{Every: 30 * time.Second, Max: 100}

	cases := []struct {
		name       string
		actions    int64
		anchor     time.Time
		wantGain   int64
		wantActs   int64
		wantAnchor time.Time
	}{
		{"partial interval", 10, now.Add(-29 * time.Second), 0, 10, now.Add(-29 * time.Second)},
		{"whole intervals carry remainder", 10, now.Add(-95 * time.Second), 3, 13, now.Add(-5 * time.Second)},
		{"clamped at max", 95, now.Add(-time.Hour), 5, 100, now},
		{"at max resets anchor", 100, now.Add(-time.Hour), 0, 100, now},
		{"above max untouched", 6000, now.Add(-time.Hour), 0, 6000, now},
		{"zero anchor starts clock", 0, time.Time{}, 0, 0, now},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := Account{Actions: tc.actions, ActionsRegenAt: tc.anchor}
			got := p.Apply(&a, now)
			if got != tc.wantGain || a.Actions != tc.wantActs {
				t.Fatalf("gain=%d actions=%d, want %d/%d", got, a.Actions, tc.wantGain, tc.wantActs)
			}
			if !a.ActionsRegenAt.Equal(tc.wantAnchor) {
				t.Fatalf("anchor = %v, want %v", a.ActionsRegenAt, tc.wantAnchor)
			}
		})
	}
}

func TestRegenPolicyDisabled(t *testing.T) {
	anchor := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	a := Account{Actions: 0, ActionsRegenAt: anchor}
	if got := (RegenPolicy{}).Apply(&a, time.Now()); got != 0 {
		t.Fatalf("gain = %d", got)
	}
	if a.Actions != 0 || !a.ActionsRegenAt.Equal(anchor) {
		t.Fatalf("disabled policy mutated account: %+v", a)
	}
}
