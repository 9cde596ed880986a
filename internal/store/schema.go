package store

import (
	"context"
	"database/sql"
	"fmt"
)

// SchemaBuilder brings the schema forward from *version. It is called
// repeatedly inside one transaction; each call performs one step and
// increments *version. Returning without changing *version ends the loop.
type SchemaBuilder func(ctx context.Context, tx *sql.Tx, version *int) error

// BuildSchema runs builder until it stops advancing the version, then
// stores the final version in PRAGMA user_version. A builder error rolls
// back every step taken in this call.
func BuildSchema(ctx context.Context, db *sql.DB, builder SchemaBuilder) (int, error) {
	if builder == nil {
		return UserVersion(ctx, db)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin schema transaction: %w", err)
	}
	defer tx.Rollback()

	var version int
	if err := tx.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("get user_version: %w", err)
	}
	start := version

	for {
		before := version
		if err := builder(ctx, tx, &version); err != nil {
			return start, fmt.Errorf("schema step from version %d: %w", before, err)
		}
		if version == before {
			break
		}
		if version < before {
			return start, fmt.Errorf("schema builder moved version backwards (%d -> %d)", before, version)
		}
	}

	if version != start {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
			return start, fmt.Errorf("set user_version: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return start, fmt.Errorf("commit schema: %w", err)
	}
	return version, nil
}

// UserVersion returns PRAGMA user_version.
func UserVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("get user_version: %w", err)
	}
	return version, nil
}
