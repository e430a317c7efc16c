package db

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Oat2Milk/immortal-legacy/internal/game"
	"github.com/Oat2Milk/immortal-legacy/internal/payments"
)

// DB is the Postgres-backed account and purchase store.
type DB struct {
	Pool *pgxpool.Pool
}

func Connect(ctx context.Context, databaseURL string) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 10
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &DB{Pool: pool}, nil
}

func (d *DB) Close() {
	if d.Pool != nil {
		d.Pool.Close()
	}
}

func (d *DB) Migrate(ctx context.Context) error {
	sql := `
CREATE TABLE IF NOT EXISTS accounts (
  id UUID PRIMARY KEY,
  username TEXT NOT NULL UNIQUE,
  email TEXT NOT NULL UNIQUE,
  password_hash TEXT NOT NULL,
  level BIGINT NOT NULL DEFAULT 1,
  total_level BIGINT NOT NULL DEFAULT 1,
  experience BIGINT NOT NULL DEFAULT 0,
  gold BIGINT NOT NULL DEFAULT 100,
  amethyst BIGINT NOT NULL DEFAULT 0,
  actions BIGINT NOT NULL DEFAULT 6000,
  actions_regen_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  skills JSONB NOT NULL DEFAULT '{}'::jsonb,
  last_action TIMESTAMPTZ NOT NULL DEFAULT now(),
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  CHECK (actions >= 0)
);

CREATE INDEX IF NOT EXISTS idx_accounts_rank ON accounts(level DESC, experience DESC, created_at ASC);

CREATE TABLE IF NOT EXISTS purchases (
  session_id TEXT PRIMARY KEY,
  account_id UUID NOT NULL REFERENCES accounts(id),
  package_id TEXT NOT NULL,
  amethyst BIGINT NOT NULL,
  amount_cents BIGINT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  fulfilled_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_purchases_account ON purchases(account_id);

CREATE TABLE IF NOT EXISTS ledger (
  id BIGSERIAL PRIMARY KEY,
  kind TEXT NOT NULL,
  account_id UUID NOT NULL,
  amount BIGINT NOT NULL,
  meta JSONB NOT NULL DEFAULT '{}'::jsonb,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`
	_, err := d.Pool.Exec(ctx, sql)
	return err
}

func (d *DB) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := d.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const accountColumns = `id::text, username, email, password_hash, level, total_level, experience, gold, amethyst,
       actions, actions_regen_at, skills, last_action, created_at`

func scanAccount(row pgx.Row) (game.Account, error) {
	var (
		a      game.Account
		id     string
		skills []byte
	)
	err := row.Scan(&id, &a.Username, &a.Email, &a.PasswordHash, &a.Level, &a.TotalLevel, &a.Experience, &a.Gold, &a.Amethyst,
		&a.Actions, &a.ActionsRegenAt, &skills, &a.LastAction, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return game.Account{}, game.ErrAccountNotFound
		}
		return game.Account{}, err
	}
	if a.ID, err = uuid.Parse(id); err != nil {
		return game.Account{}, err
	}
	a.Skills = game.DefaultSkills()
	if len(skills) > 0 {
		if err := json.Unmarshal(skills, &a.Skills); err != nil {
			return game.Account{}, err
		}
	}
	return a, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (d *DB) CreateAccount(ctx context.Context, a game.Account) (game.Account, error) {
	skills, err := json.Marshal(a.Skills)
	if err != nil {
		return game.Account{}, err
	}
	row := d.Pool.QueryRow(ctx, `
INSERT INTO accounts (id, username, email, password_hash, level, total_level, experience, gold, amethyst,
                      actions, actions_regen_at, skills, last_action, created_at)
VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::jsonb, $13, $14)
RETURNING `+accountColumns,
		a.ID.String(), a.Username, game.NormalizeEmail(a.Email), a.PasswordHash, a.Level, a.TotalLevel, a.Experience, a.Gold, a.Amethyst,
		a.Actions, a.ActionsRegenAt, string(skills), a.LastAction, a.CreatedAt)
	out, err := scanAccount(row)
	if err != nil {
		if isUniqueViolation(err) {
			return game.Account{}, game.ErrAccountExists
		}
		return game.Account{}, err
	}
	return out, nil
}

func (d *DB) GetAccount(ctx context.Context, id uuid.UUID) (game.Account, error) {
	return scanAccount(d.Pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id=$1::uuid`, id.String()))
}

func (d *DB) GetAccountByEmail(ctx context.Context, email string) (game.Account, error) {
	return scanAccount(d.Pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email=$1`, game.NormalizeEmail(email)))
}

// UpdateAccount locks the account row for the duration of fn, so concurrent
// updates to the same account run one after another.
func (d *DB) UpdateAccount(ctx context.Context, id uuid.UUID, fn func(a *game.Account) error) (game.Account, error) {
	var out game.Account
	err := d.WithTx(ctx, func(tx pgx.Tx) error {
		a, err := scanAccount(tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id=$1::uuid FOR UPDATE`, id.String()))
		if err != nil {
			return err
		}
		if err := fn(&a); err != nil {
			return err
		}
		if err := writeAccount(ctx, tx, a); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return game.Account{}, err
	}
	return out, nil
}

func writeAccount(ctx context.Context, tx pgx.Tx, a game.Account) error {
	skills, err := json.Marshal(a.Skills)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
UPDATE accounts SET level=$2, total_level=$3, experience=$4, gold=$5, amethyst=$6, actions=$7,
                    actions_regen_at=$8, skills=$9::jsonb, last_action=$10
WHERE id=$1::uuid
`, a.ID.String(), a.Level, a.TotalLevel, a.Experience, a.Gold, a.Amethyst, a.Actions,
		a.ActionsRegenAt, string(skills), a.LastAction)
	return err
}

func (d *DB) CreatePurchase(ctx context.Context, p payments.Purchase) error {
	_, err := d.Pool.Exec(ctx, `
INSERT INTO purchases (session_id, account_id, package_id, amethyst, amount_cents, status, created_at)
VALUES ($1, $2::uuid, $3, $4, $5, $6, $7)
ON CONFLICT (session_id) DO NOTHING
`, p.SessionID, p.AccountID.String(), p.PackageID, p.Amethyst, p.AmountCents, string(p.Status), p.CreatedAt)
	return err
}

func scanPurchase(row pgx.Row) (payments.Purchase, error) {
	var (
		p         payments.Purchase
		accountID string
		status    string
	)
	err := row.Scan(&p.SessionID, &accountID, &p.PackageID, &p.Amethyst, &p.AmountCents, &status, &p.CreatedAt, &p.FulfilledAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return payments.Purchase{}, payments.ErrPurchaseNotFound
		}
		return payments.Purchase{}, err
	}
	if p.AccountID, err = uuid.Parse(accountID); err != nil {
		return payments.Purchase{}, err
	}
	p.Status = payments.Status(status)
	return p, nil
}

const purchaseColumns = `session_id, account_id::text, package_id, amethyst, amount_cents, status, created_at, fulfilled_at`

func (d *DB) GetPurchase(ctx context.Context, sessionID string) (payments.Purchase, error) {
	return scanPurchase(d.Pool.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE session_id=$1`, sessionID))
}

// FulfillPurchase credits the purchase's amethyst once. The purchase row is
// locked first, then the account row, so concurrent redeliveries of the same
// webhook serialise on the purchase.
func (d *DB) FulfillPurchase(ctx context.Context, sessionID string, now time.Time) (payments.Purchase, bool, error) {
	var (
		out      payments.Purchase
		credited bool
	)
	err := d.WithTx(ctx, func(tx pgx.Tx) error {
		p, err := scanPurchase(tx.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE session_id=$1 FOR UPDATE`, sessionID))
		if err != nil {
			return err
		}
		if p.Status == payments.StatusFulfilled {
			out = p
			return nil
		}
		tag, err := tx.Exec(ctx, `UPDATE accounts SET amethyst = amethyst + $1 WHERE id=$2::uuid`, p.Amethyst, p.AccountID.String())
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return game.ErrAccountNotFound
		}
		at := now.UTC()
		if _, err := tx.Exec(ctx, `UPDATE purchases SET status=$1, fulfilled_at=$2 WHERE session_id=$3`, string(payments.StatusFulfilled), at, sessionID); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `INSERT INTO ledger(kind, account_id, amount, meta) VALUES('purchase', $1::uuid, $2, $3::jsonb)`,
			p.AccountID.String(), p.Amethyst,
			toJSON(map[string]any{"session_id": sessionID, "package": p.PackageID, "amount_cents": p.AmountCents}),
		)
		if err != nil {
			return err
		}
		p.Status = payments.StatusFulfilled
		p.FulfilledAt = &at
		out = p
		credited = true
		return nil
	})
	if err != nil {
		return payments.Purchase{}, false, err
	}
	return out, credited, nil
}

func (d *DB) ExpirePurchase(ctx context.Context, sessionID string) error {
	tag, err := d.Pool.Exec(ctx, `UPDATE purchases SET status=$1 WHERE session_id=$2 AND status=$3`,
		string(payments.StatusExpired), sessionID, string(payments.StatusPending))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := d.Pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM purchases WHERE session_id=$1)`, sessionID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return payments.ErrPurchaseNotFound
		}
	}
	return nil
}

func toJSON(v any) string {
	if v == nil {
		return `{}`
	}
	b, err := json.Marshal(v)
	if err != nil {
		return `{}`
	}
	return string(b)
}
