// Package migrations exposes the embedded wearables schema as per-dialect
// filesystems for the persistence layer to register.
package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"strings"

	wearables "github.com/goliatone/go-wearables"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

// RegisterFunc receives one dialect's migration filesystem.
type RegisterFunc func(ctx context.Context, dialect string, fsys fs.FS) error

// FS returns the migration set for one dialect. The postgres set is
// canonical at the tree root; sqlite carries a full alternative under
// sqlite/ since the two share no DDL dialect.
func FS(dialect string) (fs.FS, error) {
	root, err := fs.Sub(wearables.GetMigrationsFS(), "data/sql/migrations")
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve migration root: %w", err)
	}
	switch strings.TrimSpace(strings.ToLower(dialect)) {
	case DialectPostgres:
		return verified(root, DialectPostgres)
	case DialectSQLite:
		sub, err := fs.Sub(root, "sqlite")
		if err != nil {
			return nil, fmt.Errorf("migrations: resolve sqlite filesystem: %w", err)
		}
		return verified(sub, DialectSQLite)
	default:
		return nil, fmt.Errorf("migrations: unknown dialect %q", dialect)
	}
}

// Register hands each requested dialect's filesystem to registerFn. With no
// dialects given, both sets are registered.
func Register(ctx context.Context, registerFn RegisterFunc, dialects ...string) error {
	if registerFn == nil {
		return fmt.Errorf("migrations: register function is required")
	}
	if len(dialects) == 0 {
		dialects = []string{DialectPostgres, DialectSQLite}
	}
	for _, dialect := range dialects {
		fsys, err := FS(dialect)
		if err != nil {
			return err
		}
		if err := registerFn(ctx, dialect, fsys); err != nil {
			return fmt.Errorf("migrations: register %s: %w", dialect, err)
		}
	}
	return nil
}

func verified(fsys fs.FS, dialect string) (fs.FS, error) {
	matches, err := fs.Glob(fsys, "*.up.sql")
	if err != nil {
		return nil, fmt.Errorf("migrations: glob %s: %w", dialect, err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("migrations: %s set has no *.up.sql files", dialect)
	}
	return fsys, nil
}
