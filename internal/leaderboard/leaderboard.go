package leaderboard

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// Entry is one ranked account. Rank starts at 1.
type Entry struct {
	Rank       int64  `json:"rank" db:"rank"`
	Username   string `json:"username" db:"username"`
	Level      int64  `json:"level" db:"level"`
	Experience int64  `json:"experience" db:"experience"`
	Gold       int64  `json:"gold" db:"gold"`
}

// Source returns the top accounts ordered by level, then experience, then
// registration time.
type Source interface {
	Top(ctx context.Context, limit int) ([]Entry, error)
}

func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// SQLSource reads the ranking straight from the accounts table.
type SQLSource struct {
	DB *sqlx.DB
}

func Open(ctx context.Context, databaseURL string) (*SQLSource, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &SQLSource{DB: db}, nil
}

func (s *SQLSource) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

func (s *SQLSource) Top(ctx context.Context, limit int) ([]Entry, error) {
	limit = ClampLimit(limit)
	out := []Entry{}
	err := s.DB.SelectContext(ctx, &out, `
SELECT ROW_NUMBER() OVER (ORDER BY level DESC, experience DESC, created_at ASC) AS rank,
       username, level, experience, gold
FROM accounts
ORDER BY level DESC, experience DESC, created_at ASC
LIMIT $1
`, limit)
	if err != nil {
		return nil, err
	}
	return out, nil
}
