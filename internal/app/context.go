package app

import (
	"database/sql"
	"fmt"

	"preflight/internal/config"
	"preflight/internal/db"
	"preflight/internal/engine"
	"preflight/internal/migrate"
)

// OpenWorkspace opens the workspace database, applies pending
// migrations and loads the optional preflight.yml next to it. Callers
// own closing the returned DB.
func OpenWorkspace(workspace string) (*sql.DB, *config.Config, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, nil, fmt.Errorf("open workspace db: %w", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return conn, cfg, nil
}

// NewEngine opens the workspace and wires an engine over it.
func NewEngine(workspace string) (engine.Engine, *sql.DB, error) {
	conn, cfg, err := OpenWorkspace(workspace)
	if err != nil {
		return engine.Engine{}, nil, err
	}
	return engine.New(conn, cfg), conn, nil
}
