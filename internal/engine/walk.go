package engine

import "sort"

const (
	// topCandidates bounds the weighted draw to the best-scoring edges.
	topCandidates = 5
	// layerStep is the score discount per position in the layer order.
	layerStep = 0.1
	// moodFloor is the smallest mood penalty; mood never fully forbids an edge.
	moodFloor = 0.1
)

// walker holds the per-recall state shared by every seed's walk.
type walker struct {
	graph          *StoryWalker
	layerOrder     []string
	vibe           []float64
	allowMoodJumps bool
	rng            Rand
	visited        map[string]bool
}

// scoredEdge is a traversal candidate.
type scoredEdge struct {
	edge  *Edge
	score float64
}

// walkFrom extends a path of at most remaining scene ids from seed. The
// seed is always the first element.
func (wk *walker) walkFrom(seed string, remaining int) []string {
	if remaining <= 0 {
		return nil
	}

	path := []string{seed}
	wk.visited[seed] = true
	current := seed
	for len(path) < remaining {
		next := wk.nextEdge(current)
		if next == nil {
			break
		}
		current = next.Target
		wk.visited[current] = true
		path = append(path, current)
	}
	return path
}

// candidates returns the scored outgoing edges of a scene whose target is
// a known, unvisited scene, best first.
func (wk *walker) candidates(sceneID string) []scoredEdge {
	var ranked []scoredEdge
	for _, e := range wk.graph.adjacency[sceneID] {
		if wk.visited[e.Target] {
			continue
		}
		if _, ok := wk.graph.scenes[e.Target]; !ok {
			continue
		}
		score := (1.0 - float64(layerRank(e.Layer, wk.layerOrder))*layerStep) *
			e.Weight *
			wk.moodPenalty(sceneID, e.Target)
		ranked = append(ranked, scoredEdge{edge: e, score: score})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})
	return ranked
}

// nextEdge picks the edge to follow from sceneID, or nil when the walk
// cannot continue. The choice is a weighted draw over the top candidates
// so that walks vary while still favouring strong edges.
func (wk *walker) nextEdge(sceneID string) *Edge {
	ranked := wk.candidates(sceneID)
	if len(ranked) == 0 {
		return nil
	}
	if len(ranked) > topCandidates {
		ranked = ranked[:topCandidates]
	}

	var total float64
	for _, c := range ranked {
		total += max(c.score, 0)
	}
	if total <= 0 {
		return ranked[0].edge
	}

	pick := wk.rng.Float64() * total
	var cumulative float64
	last := ranked[0].edge
	for _, c := range ranked {
		if c.score <= 0 {
			continue
		}
		cumulative += c.score
		last = c.edge
		if pick < cumulative {
			return c.edge
		}
	}
	return last
}

// moodPenalty discounts moves toward a scene that is less aligned with the
// requested vibe than the current one.
func (wk *walker) moodPenalty(sourceID, targetID string) float64 {
	if wk.allowMoodJumps || len(wk.vibe) == 0 {
		return 1.0
	}
	source := wk.graph.scenes[sourceID].Embedding(EmbeddingEmotion)
	target := wk.graph.scenes[targetID].Embedding(EmbeddingEmotion)
	if len(source) == 0 || len(target) == 0 {
		return 1.0
	}

	current := CosineSimilarity(source, wk.vibe)
	next := CosineSimilarity(target, wk.vibe)
	if next >= current {
		return 1.0
	}
	return max(moodFloor, next/max(current, 1e-6))
}

// layerRank is the index of layer in order, or len(order) when absent.
func layerRank(layer string, order []string) int {
	for i, l := range order {
		if l == layer {
			return i
		}
	}
	return len(order)
}
