package store

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
)

// encodeEmbedding converts a []float64 to a binary BLOB (8 bytes per float64).
func encodeEmbedding(vec []float64) []byte {
	buf := make([]byte, len(vec)*8)
	for i, v := range vec {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

// decodeEmbedding converts a binary BLOB back to []float64.
func decodeEmbedding(buf []byte) []float64 {
	n := len(buf) / 8
	vec := make([]float64, n)
	for i := 0; i < n; i++ {
		vec[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return vec
}

// saveEmbeddings replaces every named vector of a scene inside tx.
// Empty vectors are not stored.
func saveEmbeddings(tx *sql.Tx, sceneID string, embeddings map[string][]float64) error {
	if _, err := tx.Exec("DELETE FROM scene_embeddings WHERE scene_id = ?", sceneID); err != nil {
		return fmt.Errorf("clear embeddings: %w", err)
	}
	for name, vec := range embeddings {
		if len(vec) == 0 {
			continue
		}
		_, err := tx.Exec(`
			INSERT INTO scene_embeddings (scene_id, name, embedding, dimensions)
			VALUES (?, ?, ?, ?)
		`, sceneID, name, encodeEmbedding(vec), len(vec))
		if err != nil {
			return fmt.Errorf("save embedding %q: %w", name, err)
		}
	}
	return nil
}

// embeddingsFor returns the named vectors of one scene, or nil if none.
func (db *DB) embeddingsFor(sceneID string) (map[string][]float64, error) {
	rows, err := db.Query(`
		SELECT name, embedding FROM scene_embeddings WHERE scene_id = ?
	`, sceneID)
	if err != nil {
		return nil, fmt.Errorf("get embeddings: %w", err)
	}
	defer rows.Close()

	var out map[string][]float64
	for rows.Next() {
		var name string
		var blob []byte
		if err := rows.Scan(&name, &blob); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		if out == nil {
			out = make(map[string][]float64)
		}
		out[name] = decodeEmbedding(blob)
	}
	return out, rows.Err()
}

// allEmbeddings returns every stored vector keyed by scene id.
func (db *DB) allEmbeddings() (map[string]map[string][]float64, error) {
	rows, err := db.Query(`SELECT scene_id, name, embedding FROM scene_embeddings`)
	if err != nil {
		return nil, fmt.Errorf("all embeddings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]map[string][]float64)
	for rows.Next() {
		var sceneID, name string
		var blob []byte
		if err := rows.Scan(&sceneID, &name, &blob); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		if out[sceneID] == nil {
			out[sceneID] = make(map[string][]float64)
		}
		out[sceneID][name] = decodeEmbedding(blob)
	}
	return out, rows.Err()
}
