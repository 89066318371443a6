package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	ErrInvalidScene   = errors.New("invalid scene")
	ErrInvalidEdge    = errors.New("invalid edge")
	ErrDuplicateScene = errors.New("duplicate scene id")
)

// Embedding space names looked up during scoring.
const (
	EmbeddingContent = "content"
	EmbeddingEmotion = "emotion"
)

// Scene is an atomic remembered event.
type Scene struct {
	ID         string               `json:"id" yaml:"id"`
	Timestamp  string               `json:"timestamp" yaml:"timestamp"`
	Title      string               `json:"title,omitempty" yaml:"title,omitempty"`
	Content    string               `json:"content,omitempty" yaml:"content,omitempty"`
	Entities   []string             `json:"entities,omitempty" yaml:"entities,omitempty"`
	Topics     []string             `json:"topics,omitempty" yaml:"topics,omitempty"`
	Motifs     []string             `json:"motifs,omitempty" yaml:"motifs,omitempty"`
	Tones      []string             `json:"tones,omitempty" yaml:"tones,omitempty"`
	Pathos     *Pathos              `json:"pathos,omitempty" yaml:"pathos,omitempty"`
	Context    map[string]string    `json:"context,omitempty" yaml:"context,omitempty"`
	Embeddings map[string][]float64 `json:"embeddings,omitempty" yaml:"embeddings,omitempty"`
}

// Pathos is the emotional affect of a scene.
type Pathos struct {
	Valence float64 `json:"valence" yaml:"valence"`
	Arousal float64 `json:"arousal" yaml:"arousal"`
}

// UnmarshalJSON accepts both {"valence":v,"arousal":a} and the pair form [v, a].
func (p *Pathos) UnmarshalJSON(data []byte) error {
	var pair []float64
	if err := json.Unmarshal(data, &pair); err == nil {
		if len(pair) != 2 {
			return fmt.Errorf("pathos: want [valence, arousal], got %d values", len(pair))
		}
		p.Valence, p.Arousal = pair[0], pair[1]
		return nil
	}

	type plain Pathos
	var obj plain
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("pathos: %w", err)
	}
	*p = Pathos(obj)
	return nil
}

// UnmarshalYAML mirrors UnmarshalJSON for import files.
func (p *Pathos) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.SequenceNode {
		var pair []float64
		if err := node.Decode(&pair); err != nil {
			return fmt.Errorf("pathos: %w", err)
		}
		if len(pair) != 2 {
			return fmt.Errorf("pathos: want [valence, arousal], got %d values", len(pair))
		}
		p.Valence, p.Arousal = pair[0], pair[1]
		return nil
	}

	type plain Pathos
	var obj plain
	if err := node.Decode(&obj); err != nil {
		return fmt.Errorf("pathos: %w", err)
	}
	*p = Pathos(obj)
	return nil
}

// Embedding returns the named vector, or nil when absent.
func (s *Scene) Embedding(name string) []float64 {
	if s.Embeddings == nil {
		return nil
	}
	return s.Embeddings[name]
}

// Validate checks the fields a scene cannot exist without.
func (s *Scene) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("%w: id required", ErrInvalidScene)
	}
	if strings.TrimSpace(s.Timestamp) == "" {
		return fmt.Errorf("%w: %s: timestamp required", ErrInvalidScene, s.ID)
	}
	if s.Pathos != nil && (!finite(s.Pathos.Valence) || !finite(s.Pathos.Arousal)) {
		return fmt.Errorf("%w: %s: pathos must be finite", ErrInvalidScene, s.ID)
	}
	for name, vec := range s.Embeddings {
		for _, v := range vec {
			if !finite(v) {
				return fmt.Errorf("%w: %s: embedding %q has non-finite value", ErrInvalidScene, s.ID, name)
			}
		}
	}
	return nil
}

// Edge is a directed, typed, weighted link between two scenes.
type Edge struct {
	Source   string  `json:"source" yaml:"source"`
	Target   string  `json:"target" yaml:"target"`
	Relation string  `json:"relation" yaml:"relation"`
	Layer    string  `json:"layer" yaml:"layer"`
	Weight   float64 `json:"weight" yaml:"weight"`
}

// Validate checks that an edge is structurally complete. The target scene
// is not required to exist.
func (e *Edge) Validate() error {
	switch {
	case e.Source == "":
		return fmt.Errorf("%w: source required", ErrInvalidEdge)
	case e.Target == "":
		return fmt.Errorf("%w: target required", ErrInvalidEdge)
	case e.Relation == "":
		return fmt.Errorf("%w: relation required", ErrInvalidEdge)
	case e.Layer == "":
		return fmt.Errorf("%w: layer required", ErrInvalidEdge)
	case !finite(e.Weight) || e.Weight < 0 || e.Weight > 1:
		return fmt.Errorf("%w: weight %v outside [0, 1]", ErrInvalidEdge, e.Weight)
	}
	return nil
}

// Reason renders the edge as "{layer}:{relation}".
func (e *Edge) Reason() string {
	return e.Layer + ":" + e.Relation
}

// Beat is one rendered narrative unit. Beats are derived per recall and
// never stored.
type Beat struct {
	SceneID string   `json:"scene_id"`
	When    string   `json:"when"`
	Where   *string  `json:"where"`
	Who     []string `json:"who"`
	What    *string  `json:"what"`
	Feeling *string  `json:"feeling"`
	Reason  []string `json:"reason"`
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
