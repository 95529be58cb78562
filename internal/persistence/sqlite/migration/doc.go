// Package migration applies versioned SQL files to a SQLite database.
//
// Files are named {version}_{description}.sql and read from any fs.FS, which
// lets the schema ship embedded in the binary. Applied versions are tracked
// in a schema_migrations table; each file runs in its own transaction
// together with its bookkeeping row.
package migration
