package store

import (
	"fmt"
	"time"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "scenes: remembered events",
		SQL: `
CREATE TABLE scenes (
    id          TEXT PRIMARY KEY,
    seq         INTEGER NOT NULL,
    timestamp   TEXT NOT NULL,
    title       TEXT,
    content     TEXT,

    -- JSON arrays, display order preserved
    entities    TEXT NOT NULL DEFAULT '[]',
    topics      TEXT NOT NULL DEFAULT '[]',
    motifs      TEXT NOT NULL DEFAULT '[]',
    tones       TEXT NOT NULL DEFAULT '[]',

    -- Pathos; both NULL when absent
    valence     REAL,
    arousal     REAL,

    context     TEXT NOT NULL DEFAULT '{}',
    created_at  INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL
);

CREATE INDEX idx_scenes_seq ON scenes(seq);
`,
	},
	{
		Version:     2,
		Description: "scene_embeddings: named vectors per scene",
		SQL: `
CREATE TABLE scene_embeddings (
    scene_id   TEXT NOT NULL,
    name       TEXT NOT NULL,
    embedding  BLOB NOT NULL,
    dimensions INTEGER NOT NULL,
    PRIMARY KEY (scene_id, name),
    FOREIGN KEY (scene_id) REFERENCES scenes(id) ON DELETE CASCADE
);
`,
	},
	{
		Version:     3,
		Description: "edges: typed weighted links between scenes",
		SQL: `
CREATE TABLE edges (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    source     TEXT NOT NULL,
    target     TEXT NOT NULL,
    relation   TEXT NOT NULL,
    layer      TEXT NOT NULL,
    weight     REAL NOT NULL CHECK (weight >= 0 AND weight <= 1),
    created_at INTEGER NOT NULL
);

CREATE INDEX idx_edges_source ON edges(source);
`,
	},
	{
		Version:     4,
		Description: "motifs and feedback: recorded, not used by recall",
		SQL: `
CREATE TABLE motifs (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL UNIQUE COLLATE NOCASE,
    description TEXT,
    created_at  INTEGER NOT NULL
);

CREATE TABLE feedback (
    id         TEXT PRIMARY KEY,
    scene_id   TEXT,
    rating     REAL NOT NULL CHECK (rating >= -1 AND rating <= 1),
    note       TEXT,
    created_at INTEGER NOT NULL
);

CREATE INDEX idx_feedback_scene ON feedback(scene_id);
`,
	},
}

const schemaVersionsDDL = `
CREATE TABLE IF NOT EXISTS schema_versions (
    version     INTEGER PRIMARY KEY,
    description TEXT NOT NULL,
    applied_at  INTEGER NOT NULL
)`

// checkOrder fails unless versions start at 1 and increase by one.
func checkOrder(ms []migration) error {
	for i, m := range ms {
		if m.Version != i+1 {
			return fmt.Errorf("migration %q has version %d, want %d", m.Description, m.Version, i+1)
		}
	}
	return nil
}

// migrate applies every migration newer than the recorded schema version,
// each in its own transaction together with its schema_versions row.
func (db *DB) migrate() error {
	if err := checkOrder(migrations); err != nil {
		return err
	}
	if _, err := db.Exec(schemaVersionsDDL); err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	current, err := db.SchemaVersion()
	if err != nil {
		return err
	}
	if current > len(migrations) {
		return fmt.Errorf("database schema v%d is newer than this binary (v%d)", current, len(migrations))
	}

	for _, m := range migrations[current:] {
		if err := db.apply(m); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) apply(m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", m.Version, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.SQL); err != nil {
		return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
	}
	if _, err := tx.Exec(
		`INSERT INTO schema_versions (version, description, applied_at) VALUES (?, ?, ?)`,
		m.Version, m.Description, time.Now().UnixMilli(),
	); err != nil {
		return fmt.Errorf("record migration %d: %w", m.Version, err)
	}
	return tx.Commit()
}

// SchemaVersion returns the highest applied migration, 0 for a fresh
// database.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_versions`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}
