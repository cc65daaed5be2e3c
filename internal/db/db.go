package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// The database lives under <workspace>/.meritline/ next to any org config the
// CLI imports.
const dbName = "meritline.db"

type Config struct {
	Workspace string
}

func dbPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".meritline", dbName)
}

// EnsureWorkspace creates the .meritline directory and returns its path.
func EnsureWorkspace(workspace string) (string, error) {
	dir := filepath.Join(workspace, ".meritline")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create workspace dir %s: %w", dir, err)
	}
	return dir, nil
}

// Open opens the workspace database. Foreign keys are enforced; contributions
// and assignments cascade from their parent rows.
func Open(cfg Config) (*sql.DB, error) {
	if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=foreign_keys(1)", dbPath(cfg.Workspace))
	return sql.Open("sqlite", dsn)
}

// Path returns where Open would place the database for a workspace.
func Path(workspace string) string {
	return dbPath(workspace)
}
