package engine

import (
	"sort"
	"strings"
)

// Blend keys.
const (
	BlendContent = "content"
	BlendEmotion = "emotion"
	BlendContext = "context"
	BlendMotif   = "motif"
)

// DefaultBlend returns the seed scoring weights used when the caller
// supplies none.
func DefaultBlend() map[string]float64 {
	return map[string]float64{
		BlendContent: 0.3,
		BlendEmotion: 0.4,
		BlendContext: 0.2,
		BlendMotif:   0.1,
	}
}

// NormalizeBlend scales weights to sum to 1. Empty maps and maps whose
// values sum to <= 0 fall back to DefaultBlend.
func NormalizeBlend(weights map[string]float64) map[string]float64 {
	if len(weights) == 0 {
		return DefaultBlend()
	}
	var total float64
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		return DefaultBlend()
	}
	out := make(map[string]float64, len(weights))
	for k, w := range weights {
		out[k] = w / total
	}
	return out
}

// SeedQuery holds the signals a scene is scored against.
type SeedQuery struct {
	QueryEmbedding []float64
	VibeEmbedding  []float64
	ContextHints   map[string]string
	MotifHints     []string
	Blend          map[string]float64 // already normalized
}

// SeedScore is a scored scene.
type SeedScore struct {
	SceneID string
	Score   float64
}

// ScoreScene computes the blended seed score for one scene.
func ScoreScene(scene *Scene, q SeedQuery, motifHints map[string]bool) float64 {
	contentSim := CosineSimilarity(scene.Embedding(EmbeddingContent), q.QueryEmbedding)
	emotionSim := CosineSimilarity(scene.Embedding(EmbeddingEmotion), q.VibeEmbedding)
	contextBonus := contextOverlap(scene.Context, q.ContextHints)
	motifBonus := motifOverlap(scene.Motifs, motifHints)

	return q.Blend[BlendContent]*contentSim +
		q.Blend[BlendEmotion]*emotionSim +
		q.Blend[BlendContext]*contextBonus +
		q.Blend[BlendMotif]*motifBonus
}

// RankSeeds scores every scene and returns them ordered by score
// descending, ties broken by scene id ascending.
func (w *StoryWalker) RankSeeds(q SeedQuery) []SeedScore {
	hints := lowerSet(q.MotifHints)

	scored := make([]SeedScore, 0, len(w.order))
	for _, id := range w.order {
		scored = append(scored, SeedScore{
			SceneID: id,
			Score:   ScoreScene(w.scenes[id], q, hints),
		})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].SceneID < scored[j].SceneID
	})
	return scored
}

// SelectSeeds returns the ids of the top n scenes for the query.
func (w *StoryWalker) SelectSeeds(q SeedQuery, n int) []string {
	if n <= 0 {
		return nil
	}
	ranked := w.RankSeeds(q)
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	ids := make([]string, len(ranked))
	for i, s := range ranked {
		ids[i] = s.SceneID
	}
	return ids
}

// contextOverlap is the fraction of hints whose key maps to the same
// value in the scene context.
func contextOverlap(context, hints map[string]string) float64 {
	if len(hints) == 0 {
		return 0
	}
	matches := 0
	for k, v := range hints {
		if got, ok := context[k]; ok && got == v {
			matches++
		}
	}
	return float64(matches) / float64(max(len(hints), 1))
}

// motifOverlap is |motifs ∩ hints| / |hints|, case-insensitive.
func motifOverlap(motifs []string, hints map[string]bool) float64 {
	if len(hints) == 0 || len(motifs) == 0 {
		return 0
	}
	overlap := 0
	for m := range lowerSet(motifs) {
		if hints[m] {
			overlap++
		}
	}
	return float64(overlap) / float64(len(hints))
}

func lowerSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[strings.ToLower(v)] = true
	}
	return set
}
