package sqlite

import (
	"context"
	"log/slog"

	"github.com/m-mizutani/goerr/v2"

	"edurag/internal/logging"
)

// migration represents a single database migration.
type migration struct {
	version int
	name    string
	up      func(ctx context.Context) error
}

// runMigrations executes database schema migrations.
func (s *Storage) runMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TEXT NOT NULL DEFAULT (datetime('now'))
		)
	`); err != nil {
		return goerr.Wrap(err, "failed to create schema_migrations table")
	}

	var version int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version); err != nil {
		return goerr.Wrap(err, "failed to read migration version")
	}

	migrations := []migration{
		{version: 1, name: "initial_schema", up: s.migration001InitialSchema},
	}
	for _, m := range migrations {
		if version >= m.version {
			continue
		}
		logging.From(ctx).Debug("running index migration",
			slog.Int("version", m.version), slog.String("name", m.name))
		if err := m.up(ctx); err != nil {
			return goerr.Wrap(err, "migration failed", goerr.V("version", m.version), goerr.V("name", m.name))
		}
		if _, err := s.db.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, name) VALUES (?, ?)", m.version, m.name); err != nil {
			return goerr.Wrap(err, "failed to record migration", goerr.V("version", m.version))
		}
	}
	return nil
}

func (s *Storage) migration001InitialSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS collections (
			name TEXT PRIMARY KEY,
			dimension INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS entries (
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			text TEXT NOT NULL,
			document_type TEXT NOT NULL,
			owner_scope TEXT NOT NULL,
			filename TEXT NOT NULL,
			metadata TEXT NOT NULL,
			vector TEXT NOT NULL,
			PRIMARY KEY (collection, id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_type ON entries(collection, document_type)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_owner ON entries(collection, owner_scope)`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return goerr.Wrap(err, "failed to apply schema statement")
		}
	}
	return nil
}
