// Package store opens the SQLite database behind a rowmodel database and
// manages its schema.
//
// # Database Configuration
//
//   - journal_mode=WAL by default: readers in other processes never block
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout: wait for locks held by other processes (default 5s)
//   - foreign_keys=ON: enforce referential integrity
//
// The pool is capped at a single connection. rowmodel's access queue takes
// that connection for its lifetime, so everything that needs the raw
// *sql.DB (schema building, goose migrations) runs before the queue starts.
//
// # Schema
//
// Two mechanisms are offered. BuildSchema runs an application callback that
// advances PRAGMA user_version one step at a time inside a transaction.
// MigrateFS applies goose SQL migrations from any fs.FS.
package store
