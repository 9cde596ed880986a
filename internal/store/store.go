package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Options configures Open.
type Options struct {
	// JournalMode is the SQLite journal mode. Empty means WAL.
	JournalMode string

	// BusyTimeout is how long a statement waits on another process's lock.
	// Zero means 5 seconds.
	BusyTimeout time.Duration

	// ReadOnly opens the database without write access.
	ReadOnly bool
}

// Open creates or opens the SQLite database at path and applies the
// connection pragmas. The pool is limited to one connection.
func Open(path string, opts Options) (*sql.DB, error) {
	dsn := path
	if opts.ReadOnly {
		dsn = "file:" + path + "?mode=ro"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer; the access queue owns this one
	// connection for the lifetime of the database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := applyPragmas(db, opts); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	return db, nil
}

func applyPragmas(db *sql.DB, opts Options) error {
	mode := strings.ToUpper(opts.JournalMode)
	if mode == "" {
		mode = "WAL"
	}
	switch mode {
	case "WAL", "DELETE", "TRUNCATE", "PERSIST", "MEMORY", "OFF":
	default:
		return fmt.Errorf("unsupported journal mode %q", opts.JournalMode)
	}
	timeout := opts.BusyTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", timeout.Milliseconds()),
		"PRAGMA foreign_keys = ON",
	}
	if !opts.ReadOnly {
		pragmas = append([]string{"PRAGMA journal_mode = " + mode}, pragmas...)
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// Pragma reads a single pragma value as a string.
func Pragma(db *sql.DB, name string) (string, error) {
	var value string
	if err := db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return "", fmt.Errorf("failed to query %s: %w", name, err)
	}
	return value, nil
}
