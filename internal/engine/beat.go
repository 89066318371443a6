package engine

import (
	"fmt"
	"strings"
)

const reasonSeed = "seed"

// makeBeat renders the scene at path[idx]. The reason lists every edge from
// the previous scene in the path to this one, or "seed" for the first.
func (w *StoryWalker) makeBeat(path []string, idx int) Beat {
	scene := w.scenes[path[idx]]

	beat := Beat{
		SceneID: scene.ID,
		When:    scene.Timestamp,
		Who:     append([]string{}, scene.Entities...),
		Feeling: renderFeeling(scene),
		Reason:  []string{},
	}
	if place, ok := scene.Context["place"]; ok {
		beat.Where = &place
	}
	if what := firstNonEmpty(scene.Title, scene.Content); what != "" {
		beat.What = &what
	}

	if idx == 0 {
		beat.Reason = append(beat.Reason, reasonSeed)
		return beat
	}
	for _, e := range w.adjacency[path[idx-1]] {
		if e.Target == scene.ID {
			beat.Reason = append(beat.Reason, e.Reason())
		}
	}
	return beat
}

// renderFeeling formats pathos and tones, e.g.
// "valence=0.50, arousal=-0.25 (calm, warm)".
func renderFeeling(scene *Scene) *string {
	tones := strings.Join(scene.Tones, ", ")
	var feeling string
	switch {
	case scene.Pathos != nil:
		feeling = fmt.Sprintf("valence=%.2f, arousal=%.2f", scene.Pathos.Valence, scene.Pathos.Arousal)
		if tones != "" {
			feeling += " (" + tones + ")"
		}
	case len(scene.Tones) > 0:
		feeling = tones
	default:
		return nil
	}
	return &feeling
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
