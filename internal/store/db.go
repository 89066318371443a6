package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection to the storywalk SQLite database.
type DB struct {
	*sql.DB
	Path string
}

const (
	dbFile     = "storywalk.db"
	memoryPath = ":memory:"
)

// DefaultDBPath returns $XDG_DATA_HOME/storywalk/storywalk.db when
// XDG_DATA_HOME is set, else ~/.storywalk/storywalk.db.
func DefaultDBPath() (string, error) {
	if dataHome := os.Getenv("XDG_DATA_HOME"); filepath.IsAbs(dataHome) {
		return filepath.Join(dataHome, "storywalk", dbFile), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve db path: %w", err)
	}
	return filepath.Join(home, ".storywalk", dbFile), nil
}

// Open opens (or creates) the SQLite database at the given path,
// configures pragmas, and runs migrations.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return setup(sqlDB, path)
}

// OpenMemory opens an in-memory SQLite database for testing.
func OpenMemory() (*DB, error) {
	sqlDB, err := sql.Open("sqlite", memoryPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory: %w", err)
	}
	// Every connection to :memory: is a separate database.
	sqlDB.SetMaxOpenConns(1)
	return setup(sqlDB, memoryPath)
}

func setup(sqlDB *sql.DB, path string) (*DB, error) {
	db := &DB{DB: sqlDB, Path: path}
	if err := db.applyPragmas(pragmasFor(path)); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

type pragma struct {
	name  string
	value string
}

// pragmasFor returns the connection settings for a database. WAL and mmap
// only apply to file databases.
func pragmasFor(path string) []pragma {
	ps := []pragma{
		{"foreign_keys", "ON"},
		{"busy_timeout", "5000"},
	}
	if path == memoryPath {
		return ps
	}
	return append(ps,
		pragma{"journal_mode", "WAL"},
		pragma{"synchronous", "NORMAL"},
		pragma{"mmap_size", "268435456"},
	)
}

// applyPragmas sets each pragma and fails if foreign keys did not take;
// scene_embeddings relies on ON DELETE CASCADE.
func (db *DB) applyPragmas(ps []pragma) error {
	for _, p := range ps {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA %s=%s", p.name, p.value)); err != nil {
			return fmt.Errorf("pragma %s: %w", p.name, err)
		}
	}

	var fk int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		return fmt.Errorf("read pragma foreign_keys: %w", err)
	}
	if fk != 1 {
		return errors.New("foreign keys not enabled")
	}
	return nil
}
