package app

import (
	"database/sql"
	"fmt"
	"time"

	"rekenwolk/internal/config"
	"rekenwolk/internal/db"
	"rekenwolk/internal/engine"
	"rekenwolk/internal/migrate"
	"rekenwolk/internal/pdf"
)

// Open prepares the workspace: it opens the SQLite database, applies
// migrations, loads the optional rekenwolk.yml and returns a ready engine.
// The caller owns the returned connection.
func Open(workspace string) (engine.Engine, *sql.DB, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return engine.Engine{}, nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return engine.Engine{}, nil, fmt.Errorf("migrate: %w", err)
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		conn.Close()
		return engine.Engine{}, nil, err
	}
	if err := cfg.Validate(); err != nil {
		conn.Close()
		return engine.Engine{}, nil, fmt.Errorf("config: %w", err)
	}
	e := engine.New(conn, cfg)
	if cfg.PDF.RendererURL != "" {
		e.PDF = pdf.NewHTTPRenderer(cfg.PDF.RendererURL, time.Duration(cfg.PDF.TimeoutSeconds)*time.Second)
	}
	return e, conn, nil
}
