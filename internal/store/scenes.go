package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lazypower/storywalk/internal/engine"
)

const sceneColumns = `id, timestamp, title, content, entities, topics, motifs, tones,
	valence, arousal, context`

// UpsertScene inserts a scene or replaces the stored scene with the same id.
// A replaced scene keeps its original position in ListScenes order.
func (db *DB) UpsertScene(scene *engine.Scene) error {
	entities, topics, motifs, tones, context, err := encodeSceneFields(scene)
	if err != nil {
		return err
	}

	var valence, arousal sql.NullFloat64
	if scene.Pathos != nil {
		valence = sql.NullFloat64{Float64: scene.Pathos.Valence, Valid: true}
		arousal = sql.NullFloat64{Float64: scene.Pathos.Arousal, Valid: true}
	}

	now := time.Now().UnixMilli()
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin upsert scene: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO scenes (id, seq, timestamp, title, content, entities, topics, motifs, tones,
			valence, arousal, context, created_at, updated_at)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM scenes), ?, NULLIF(?, ''), NULLIF(?, ''),
			?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			timestamp = excluded.timestamp, title = excluded.title, content = excluded.content,
			entities = excluded.entities, topics = excluded.topics, motifs = excluded.motifs,
			tones = excluded.tones, valence = excluded.valence, arousal = excluded.arousal,
			context = excluded.context, updated_at = excluded.updated_at
	`, scene.ID, scene.Timestamp, scene.Title, scene.Content,
		entities, topics, motifs, tones,
		valence, arousal, context, now, now)
	if err != nil {
		return fmt.Errorf("upsert scene: %w", err)
	}

	if err := saveEmbeddings(tx, scene.ID, scene.Embeddings); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit scene: %w", err)
	}
	return nil
}

// GetScene returns a scene by id, or nil if not found.
func (db *DB) GetScene(id string) (*engine.Scene, error) {
	row := db.QueryRow(`SELECT `+sceneColumns+` FROM scenes WHERE id = ?`, id)
	scene, err := scanScene(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get scene: %w", err)
	}

	scene.Embeddings, err = db.embeddingsFor(id)
	if err != nil {
		return nil, err
	}
	return scene, nil
}

// ListScenes returns every scene with its embeddings, in insertion order.
func (db *DB) ListScenes() ([]engine.Scene, error) {
	rows, err := db.Query(`SELECT ` + sceneColumns + ` FROM scenes ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("list scenes: %w", err)
	}
	defer rows.Close()

	var scenes []engine.Scene
	for rows.Next() {
		scene, err := scanScene(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scene: %w", err)
		}
		scenes = append(scenes, *scene)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	vectors, err := db.allEmbeddings()
	if err != nil {
		return nil, err
	}
	for i := range scenes {
		scenes[i].Embeddings = vectors[scenes[i].ID]
	}
	return scenes, nil
}

// DeleteScene removes a scene and its embeddings. Edges are left in place;
// recall skips edges to missing scenes.
func (db *DB) DeleteScene(id string) error {
	if _, err := db.Exec("DELETE FROM scenes WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete scene: %w", err)
	}
	return nil
}

// CountScenes returns the number of stored scenes.
func (db *DB) CountScenes() (int, error) {
	var n int
	err := db.QueryRow("SELECT COUNT(*) FROM scenes").Scan(&n)
	return n, err
}

// LoadGraph returns all scenes and edges in insertion order, ready for
// engine.New.
func (db *DB) LoadGraph() ([]engine.Scene, []engine.Edge, error) {
	scenes, err := db.ListScenes()
	if err != nil {
		return nil, nil, err
	}
	edges, err := db.ListEdges()
	if err != nil {
		return nil, nil, err
	}
	return scenes, edges, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanScene(row rowScanner) (*engine.Scene, error) {
	var s engine.Scene
	var title, content sql.NullString
	var entities, topics, motifs, tones, context string
	var valence, arousal sql.NullFloat64

	err := row.Scan(&s.ID, &s.Timestamp, &title, &content,
		&entities, &topics, &motifs, &tones,
		&valence, &arousal, &context)
	if err != nil {
		return nil, err
	}
	s.Title = title.String
	s.Content = content.String
	if valence.Valid && arousal.Valid {
		s.Pathos = &engine.Pathos{Valence: valence.Float64, Arousal: arousal.Float64}
	}

	for _, f := range []struct {
		raw  string
		dest any
	}{
		{entities, &s.Entities},
		{topics, &s.Topics},
		{motifs, &s.Motifs},
		{tones, &s.Tones},
		{context, &s.Context},
	} {
		if err := json.Unmarshal([]byte(f.raw), f.dest); err != nil {
			return nil, fmt.Errorf("decode scene %s: %w", s.ID, err)
		}
	}
	return &s, nil
}

func encodeSceneFields(s *engine.Scene) (entities, topics, motifs, tones, context string, err error) {
	list := func(v []string) (string, error) {
		if v == nil {
			v = []string{}
		}
		b, err := json.Marshal(v)
		return string(b), err
	}
	if entities, err = list(s.Entities); err != nil {
		return
	}
	if topics, err = list(s.Topics); err != nil {
		return
	}
	if motifs, err = list(s.Motifs); err != nil {
		return
	}
	if tones, err = list(s.Tones); err != nil {
		return
	}
	ctx := s.Context
	if ctx == nil {
		ctx = map[string]string{}
	}
	b, err := json.Marshal(ctx)
	if err != nil {
		return
	}
	context = string(b)
	return
}
