package store

import (
	"fmt"
	"time"

	"github.com/lazypower/storywalk/internal/engine"
)

// AddEdge appends an edge and returns its row id. Multiple edges between
// the same pair of scenes are allowed.
func (db *DB) AddEdge(e engine.Edge) (int64, error) {
	result, err := db.Exec(`
		INSERT INTO edges (source, target, relation, layer, weight, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.Source, e.Target, e.Relation, e.Layer, e.Weight, time.Now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("add edge: %w", err)
	}
	id, _ := result.LastInsertId()
	return id, nil
}

// ListEdges returns every edge in insertion order.
func (db *DB) ListEdges() ([]engine.Edge, error) {
	return db.queryEdges(`SELECT source, target, relation, layer, weight FROM edges ORDER BY id`)
}

// EdgesFrom returns the outgoing edges of a scene in insertion order.
func (db *DB) EdgesFrom(source string) ([]engine.Edge, error) {
	return db.queryEdges(`
		SELECT source, target, relation, layer, weight FROM edges
		WHERE source = ? ORDER BY id
	`, source)
}

// CountEdges returns the number of stored edges.
func (db *DB) CountEdges() (int, error) {
	var n int
	err := db.QueryRow("SELECT COUNT(*) FROM edges").Scan(&n)
	return n, err
}

func (db *DB) queryEdges(query string, args ...any) ([]engine.Edge, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query edges: %w", err)
	}
	defer rows.Close()

	var edges []engine.Edge
	for rows.Next() {
		var e engine.Edge
		if err := rows.Scan(&e.Source, &e.Target, &e.Relation, &e.Layer, &e.Weight); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}
