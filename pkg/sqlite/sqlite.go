// Package sqlite opens database/sql handles on mattn/go-sqlite3 with the
// pragmas every stockbot database uses.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

type options struct {
	busyTimeoutMS int
	maxOpenConns  int
}

type Option func(*options)

// WithBusyTimeout sets how long a writer waits on a locked database.
func WithBusyTimeout(ms int) Option {
	return func(o *options) { o.busyTimeoutMS = ms }
}

// WithMaxOpenConns caps the pool. Sector workers share one handle, so the
// default keeps a single writer connection.
func WithMaxOpenConns(n int) Option {
	return func(o *options) { o.maxOpenConns = n }
}

func Open(dbPath string, opts ...Option) (*sql.DB, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	o := options{busyTimeoutMS: 3000, maxOpenConns: 1}
	for _, opt := range opts {
		opt(&o)
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_loc=UTC")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if o.maxOpenConns > 0 {
		db.SetMaxOpenConns(o.maxOpenConns)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		fmt.Sprintf("PRAGMA busy_timeout=%d;", o.busyTimeoutMS),
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %s: %w", p, err)
		}
	}
	return db, nil
}
