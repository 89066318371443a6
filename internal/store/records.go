package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Motif is a named recurring theme. Motifs are recorded for later use and
// do not influence recall.
type Motif struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CreatedAt   int64  `json:"created_at"`
}

// Feedback is a caller's rating of a recalled scene.
type Feedback struct {
	ID        string  `json:"id"`
	SceneID   string  `json:"scene_id,omitempty"`
	Rating    float64 `json:"rating"`
	Note      string  `json:"note,omitempty"`
	CreatedAt int64   `json:"created_at"`
}

// SaveMotif records a motif. Names are unique regardless of case; saving an
// existing name updates its description and keeps the original id.
func (db *DB) SaveMotif(name, description string) (*Motif, error) {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO motifs (id, name, description, created_at)
		VALUES (?, ?, NULLIF(?, ''), ?)
		ON CONFLICT(name) DO UPDATE SET description = excluded.description
	`, uuid.New().String(), name, description, now)
	if err != nil {
		return nil, fmt.Errorf("save motif: %w", err)
	}

	var m Motif
	var desc sql.NullString
	err = db.QueryRow(`
		SELECT id, name, description, created_at FROM motifs WHERE name = ?
	`, name).Scan(&m.ID, &m.Name, &desc, &m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("read motif: %w", err)
	}
	m.Description = desc.String
	return &m, nil
}

// ListMotifs returns all motifs ordered by name.
func (db *DB) ListMotifs() ([]Motif, error) {
	rows, err := db.Query(`SELECT id, name, description, created_at FROM motifs ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list motifs: %w", err)
	}
	defer rows.Close()

	var motifs []Motif
	for rows.Next() {
		var m Motif
		var desc sql.NullString
		if err := rows.Scan(&m.ID, &m.Name, &desc, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan motif: %w", err)
		}
		m.Description = desc.String
		motifs = append(motifs, m)
	}
	return motifs, rows.Err()
}

// SaveFeedback records a feedback entry under a fresh id.
func (db *DB) SaveFeedback(f *Feedback) error {
	f.ID = uuid.New().String()
	f.CreatedAt = time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO feedback (id, scene_id, rating, note, created_at)
		VALUES (?, NULLIF(?, ''), ?, NULLIF(?, ''), ?)
	`, f.ID, f.SceneID, f.Rating, f.Note, f.CreatedAt)
	if err != nil {
		return fmt.Errorf("save feedback: %w", err)
	}
	return nil
}

// ListFeedback returns feedback for a scene, or all feedback when sceneID
// is empty, newest first.
func (db *DB) ListFeedback(sceneID string) ([]Feedback, error) {
	query := `SELECT id, scene_id, rating, note, created_at FROM feedback`
	var args []any
	if sceneID != "" {
		query += ` WHERE scene_id = ?`
		args = append(args, sceneID)
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list feedback: %w", err)
	}
	defer rows.Close()

	var out []Feedback
	for rows.Next() {
		var f Feedback
		var scene, note sql.NullString
		if err := rows.Scan(&f.ID, &scene, &f.Rating, &note, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		f.SceneID = scene.String
		f.Note = note.String
		out = append(out, f)
	}
	return out, rows.Err()
}
