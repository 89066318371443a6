package engine

import (
	"fmt"
	"math/rand"
	"time"
)

// Recall defaults.
const (
	DefaultSeedCount = 3
	DefaultMaxBeats  = 10
)

// DefaultLayerOrder is the traversal preference used when no layer bias is
// given. Earlier layers score higher.
func DefaultLayerOrder() []string {
	return []string{"Pathos", "Chronos", "Logos", "Context"}
}

// Rand is the randomness consumed by the weighted edge draw. *rand.Rand
// satisfies it.
type Rand interface {
	Float64() float64
}

// WalkOptions controls a single StoryWalk call.
type WalkOptions struct {
	QueryEmbedding []float64
	VibeEmbedding  []float64
	ContextHints   map[string]string
	MotifHints     []string

	// SeedCount is the number of seed scenes to walk from. Zero or less
	// means DefaultSeedCount, not "no seeds".
	SeedCount int
	// MaxBeats bounds the returned beats. Zero or less means DefaultMaxBeats.
	MaxBeats int

	BlendWeights   map[string]float64 // nil = DefaultBlend
	LayerBias      []string           // nil = DefaultLayerOrder
	AllowMoodJumps bool
	Rand           Rand // nil = time-seeded source
}

func (o WalkOptions) seedCount() int {
	if o.SeedCount <= 0 {
		return DefaultSeedCount
	}
	return o.SeedCount
}

func (o WalkOptions) maxBeats() int {
	if o.MaxBeats <= 0 {
		return DefaultMaxBeats
	}
	return o.MaxBeats
}

func (o WalkOptions) layerOrder() []string {
	if len(o.LayerBias) == 0 {
		return DefaultLayerOrder()
	}
	return o.LayerBias
}

func (o WalkOptions) rng() Rand {
	if o.Rand == nil {
		return rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return o.Rand
}

// StoryWalker owns the in-memory scene and edge index and turns recall
// queries into beat sequences.
//
// StoryWalker does no locking. Mutations (AddScene, AddEdge) must not run
// concurrently with each other or with StoryWalk.
type StoryWalker struct {
	scenes    map[string]*Scene
	order     []string // scene ids in insertion order
	edges     []Edge
	adjacency map[string][]*Edge
}

// New validates scenes and edges and builds the index. Duplicate scene ids
// are rejected.
func New(scenes []Scene, edges []Edge) (*StoryWalker, error) {
	w := &StoryWalker{
		scenes: make(map[string]*Scene, len(scenes)),
	}
	for i := range scenes {
		sc := scenes[i]
		if err := sc.Validate(); err != nil {
			return nil, err
		}
		if _, dup := w.scenes[sc.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateScene, sc.ID)
		}
		w.scenes[sc.ID] = &sc
		w.order = append(w.order, sc.ID)
	}
	for i := range edges {
		if err := edges[i].Validate(); err != nil {
			return nil, err
		}
	}
	w.edges = append([]Edge(nil), edges...)
	w.rebuild()
	return w, nil
}

// AddScene inserts a scene or replaces the one with the same id, then
// rebuilds the adjacency index.
func (w *StoryWalker) AddScene(scene Scene) error {
	if err := scene.Validate(); err != nil {
		return err
	}
	if _, ok := w.scenes[scene.ID]; !ok {
		w.order = append(w.order, scene.ID)
	}
	w.scenes[scene.ID] = &scene
	w.rebuild()
	return nil
}

// AddEdge appends an edge and rebuilds the adjacency index.
func (w *StoryWalker) AddEdge(edge Edge) error {
	if err := edge.Validate(); err != nil {
		return err
	}
	w.edges = append(w.edges, edge)
	w.rebuild()
	return nil
}

// rebuild reconstructs the adjacency index from the full edge collection.
// Edges whose source is unknown are kept but left out of the index.
func (w *StoryWalker) rebuild() {
	adj := make(map[string][]*Edge, len(w.scenes))
	for i := range w.edges {
		e := &w.edges[i]
		if _, ok := w.scenes[e.Source]; !ok {
			continue
		}
		adj[e.Source] = append(adj[e.Source], e)
	}
	w.adjacency = adj
}

// Len returns the number of scenes.
func (w *StoryWalker) Len() int { return len(w.order) }

// Scene returns the scene with the given id, or nil.
func (w *StoryWalker) Scene(id string) *Scene {
	return w.scenes[id]
}

// Scenes returns all scenes in insertion order.
func (w *StoryWalker) Scenes() []Scene {
	out := make([]Scene, len(w.order))
	for i, id := range w.order {
		out[i] = *w.scenes[id]
	}
	return out
}

// Edges returns every edge, including ones not in the index.
func (w *StoryWalker) Edges() []Edge {
	return append([]Edge(nil), w.edges...)
}

// EdgesFrom returns the indexed outgoing edges of a scene.
func (w *StoryWalker) EdgesFrom(id string) []Edge {
	out := make([]Edge, len(w.adjacency[id]))
	for i, e := range w.adjacency[id] {
		out[i] = *e
	}
	return out
}

// StoryWalk selects seeds for the query and walks from each of them,
// returning at most MaxBeats beats in seed-major, path order. No scene
// appears twice.
func (w *StoryWalker) StoryWalk(opts WalkOptions) []Beat {
	if len(w.scenes) == 0 {
		return []Beat{}
	}

	maxBeats := opts.maxBeats()
	seeds := w.SelectSeeds(SeedQuery{
		QueryEmbedding: opts.QueryEmbedding,
		VibeEmbedding:  opts.VibeEmbedding,
		ContextHints:   opts.ContextHints,
		MotifHints:     opts.MotifHints,
		Blend:          NormalizeBlend(opts.BlendWeights),
	}, opts.seedCount())

	wk := &walker{
		graph:          w,
		layerOrder:     opts.layerOrder(),
		vibe:           opts.VibeEmbedding,
		allowMoodJumps: opts.AllowMoodJumps,
		rng:            opts.rng(),
		visited:        make(map[string]bool),
	}

	beats := make([]Beat, 0, maxBeats)
	for _, seed := range seeds {
		if wk.visited[seed] {
			continue
		}
		path := wk.walkFrom(seed, maxBeats-len(beats))
		for i := range path {
			beats = append(beats, w.makeBeat(path, i))
		}
		if len(beats) >= maxBeats {
			break
		}
	}
	if len(beats) > maxBeats {
		beats = beats[:maxBeats]
	}
	return beats
}
