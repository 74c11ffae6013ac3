package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"taskline/internal/config"
	"taskline/internal/db"
	"taskline/internal/domain"
	"taskline/internal/engine"
	"taskline/internal/migrate"
	"taskline/internal/repo"
)

// Context bundles everything a command needs after bootstrap.
type Context struct {
	DB     *sql.DB
	Config *config.Config
	Engine engine.Engine
}

// Bootstrap opens the workspace database, applies migrations, resolves
// the config file and seeds the root admin. Missing config falls back to
// defaults; a root admin is required either way.
func Bootstrap(ctx context.Context, workspace, rootAdmin string) (*Context, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		if rootAdmin == "" {
			return nil, fmt.Errorf("root admin not configured; set admin.root in %s or pass --admin", config.Path(workspace))
		}
		cfg = config.Default(rootAdmin)
	}
	if rootAdmin != "" {
		cfg.Admin.Root = rootAdmin
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	eng := engine.New(conn, cfg)
	if err := seedRootAdmin(ctx, conn, eng.Repo, cfg.Admin.Root); err != nil {
		conn.Close()
		return nil, err
	}
	return &Context{DB: conn, Config: cfg, Engine: eng}, nil
}

// seedRootAdmin guarantees the root admin row exists with the admin
// role, repairing the role if an earlier run registered the identity as
// a plain user.
func seedRootAdmin(ctx context.Context, conn *sql.DB, r repo.Repo, identity string) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	now := time.Now().UTC().Format(time.RFC3339)
	u, err := r.EnsureUser(ctx, tx, identity, domain.RoleAdmin, now)
	if err != nil {
		return fmt.Errorf("seed root admin: %w", err)
	}
	if u.Role != domain.RoleAdmin {
		if err := r.SetUserRole(ctx, tx, identity, domain.RoleAdmin); err != nil {
			return fmt.Errorf("seed root admin: %w", err)
		}
	}
	return tx.Commit()
}

// Close releases the database handle.
func (c *Context) Close() error {
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}
