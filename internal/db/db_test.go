package db

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Oat2Milk/immortal-legacy/internal/game"
	"github.com/Oat2Milk/immortal-legacy/internal/payments"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("Skipping test: TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	d, err := Connect(ctx, url)
	if err != nil {
		t.Skip("Skipping test: database not available")
	}
	t.Cleanup(d.Close)
	if err := d.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return d
}

func newAccount(t *testing.T, d *DB) game.Account {
	t.Helper()
	suffix := uuid.NewString()[:8]
	a, err := d.CreateAccount(context.Background(), game.NewAccount("player_"+suffix, suffix+"@example.com", "hash", time.Now()))
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	return a
}

func TestAccountRoundTrip(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()
	a := newAccount(t, d)

	got, err := d.GetAccountByEmail(ctx, a.Email)
	if err != nil {
		t.Fatalf("GetAccountByEmail: %v", err)
	}
	if got.ID != a.ID || got.Gold != game.StartGold || got.Actions != game.StartActions || got.Skills != game.DefaultSkills() {
		t.Fatalf("account = %+v", got)
	}

	dup := game.NewAccount(a.Username, "other_"+a.Email, "h", time.Now())
	if _, err := d.CreateAccount(ctx, dup); !errors.Is(err, game.ErrAccountExists) {
		t.Fatalf("duplicate err = %v", err)
	}
	if _, err := d.GetAccount(ctx, uuid.New()); !errors.Is(err, game.ErrAccountNotFound) {
		t.Fatalf("missing err = %v", err)
	}
}

func TestUpdateAccountSerialises(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()
	a := newAccount(t, d)
	if _, err := d.UpdateAccount(ctx, a.ID, func(acc *game.Account) error {
		acc.Actions = 5
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	e := game.NewEngine(d, game.RegenPolicy{})
	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.Battle(ctx, a.ID); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			} else if !errors.Is(err, game.ErrInsufficientActions) {
				t.Errorf("Battle: %v", err)
			}
		}()
	}
	wg.Wait()

	got, _ := d.GetAccount(ctx, a.ID)
	if ok != 5 || got.Actions != 0 {
		t.Fatalf("ok=%d actions=%d", ok, got.Actions)
	}
}

func TestFulfillPurchaseIdempotent(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()
	a := newAccount(t, d)
	sid := "cs_test_" + uuid.NewString()

	p := payments.Purchase{SessionID: sid, AccountID: a.ID, PackageID: "starter", Amethyst: 1000, AmountCents: 499, Status: payments.StatusPending, CreatedAt: time.Now()}
	if err := d.CreatePurchase(ctx, p); err != nil {
		t.Fatalf("CreatePurchase: %v", err)
	}
	for i := 0; i < 2; i++ {
		_, credited, err := d.FulfillPurchase(ctx, sid, time.Now())
		if err != nil {
			t.Fatalf("FulfillPurchase: %v", err)
		}
		if credited != (i == 0) {
			t.Fatalf("attempt %d credited=%v", i, credited)
		}
	}
	got, _ := d.GetAccount(ctx, a.ID)
	if got.Amethyst != 1000 {
		t.Fatalf("amethyst = %d", got.Amethyst)
	}
	if _, _, err := d.FulfillPurchase(ctx, "cs_nope_"+uuid.NewString(), time.Now()); !errors.Is(err, payments.ErrPurchaseNotFound) {
		t.Fatalf("unknown err = %v", err)
	}
	if err := d.ExpirePurchase(ctx, sid); err != nil {
		t.Fatalf("ExpirePurchase: %v", err)
	}
	stored, _ := d.GetPurchase(ctx, sid)
	if stored.Status != payments.StatusFulfilled {
		t.Fatalf("fulfilled purchase changed to %s", stored.Status)
	}
}
