package cli

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/storywalk/internal/config"
	"github.com/lazypower/storywalk/internal/engine"
	"github.com/lazypower/storywalk/internal/server"
	"github.com/lazypower/storywalk/internal/store"
)

const graphYAML = `
scenes:
  - id: kitchen
    timestamp: 2024-05-01T08:00:00Z
    title: Breakfast
    pathos: [0.5, 0.2]
    tones: [warm]
    context: {place: home}
    embeddings:
      content: [1, 0]
  - id: station
    timestamp: 2024-05-01T09:00:00Z
    title: Train
    embeddings:
      content: [0, 1]
edges:
  - {source: kitchen, target: station, relation: followed_by, layer: Chronos, weight: 0.9}
`

func run(t *testing.T, args ...string) string {
	t.Helper()
	walkRequestPath, walkSeed, walkServer, importServer = "", 0, "", ""

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append(args, "--env-file", filepath.Join(t.TempDir(), "none.env")))
	require.NoError(t, rootCmd.Execute(), out.String())
	return out.String()
}

func TestImportWalkScenes(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("STORYWALK_DB", filepath.Join(dir, "sw.db"))

	graph := filepath.Join(dir, "graph.yaml")
	require.NoError(t, os.WriteFile(graph, []byte(graphYAML), 0644))

	out := run(t, "import", graph)
	assert.Contains(t, out, "imported 2 scenes, 1 edges")

	out = run(t, "scenes")
	assert.Contains(t, out, "kitchen")
	assert.Contains(t, out, "Breakfast")
	assert.Contains(t, out, "2 scenes, 1 edges")

	request := filepath.Join(dir, "request.json")
	require.NoError(t, os.WriteFile(request, []byte(`{"query_embedding":[1,0],"seed_count":1}`), 0644))

	out = run(t, "walk", "--request", request, "--seed", "3")
	var resp struct {
		Beats []engine.Beat `json:"beats"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Len(t, resp.Beats, 2)
	assert.Equal(t, "kitchen", resp.Beats[0].SceneID)
	require.NotNil(t, resp.Beats[0].Where)
	assert.Equal(t, "home", *resp.Beats[0].Where)
	assert.Equal(t, "station", resp.Beats[1].SceneID)
	assert.Equal(t, []string{"Chronos:followed_by"}, resp.Beats[1].Reason)
}

func TestImportAndWalkRemote(t *testing.T) {
	db, err := store.OpenMemory()
	require.NoError(t, err)
	defer db.Close()
	walker, err := engine.New(nil, nil)
	require.NoError(t, err)
	ts := httptest.NewServer(server.New(db, walker, server.Options{}))
	defer ts.Close()

	dir := t.TempDir()
	graph := filepath.Join(dir, "graph.yaml")
	require.NoError(t, os.WriteFile(graph, []byte(graphYAML), 0644))

	out := run(t, "import", graph, "--server", ts.URL)
	assert.Contains(t, out, "imported 2 scenes, 1 edges")

	n, err := db.CountScenes()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, walker.Len())

	request := filepath.Join(dir, "request.yaml")
	require.NoError(t, os.WriteFile(request, []byte("query_embedding: [0, 1]\nseed_count: 1\n"), 0644))

	out = run(t, "walk", "--request", request, "--server", ts.URL, "--seed", "1")
	var resp struct {
		Beats []engine.Beat `json:"beats"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Len(t, resp.Beats, 1)
	assert.Equal(t, "station", resp.Beats[0].SceneID)
}

func TestImportRejectsInvalidGraph(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("STORYWALK_DB", filepath.Join(dir, "sw.db"))

	cfg, err := config.Load("")
	require.NoError(t, err)
	db, err := openDB(cfg)
	require.NoError(t, err)
	defer db.Close()

	dup := graphFile{Scenes: []engine.Scene{
		{ID: "a", Timestamp: "t"},
		{ID: "a", Timestamp: "t"},
	}}
	_, _, err = importGraph(db, dup)
	assert.ErrorIs(t, err, engine.ErrDuplicateScene)

	badEdge := graphFile{
		Scenes: []engine.Scene{{ID: "a", Timestamp: "t"}},
		Edges:  []engine.Edge{{Source: "a", Target: "b", Relation: "r", Layer: "Logos", Weight: 3}},
	}
	_, _, err = importGraph(db, badEdge)
	assert.ErrorIs(t, err, engine.ErrInvalidEdge)

	noWeight := filepath.Join(dir, "noweight.yaml")
	require.NoError(t, os.WriteFile(noWeight, []byte(`
scenes:
  - {id: a, timestamp: t}
  - {id: b, timestamp: t}
edges:
  - {source: a, target: b, relation: r, layer: Chronos}
`), 0644))
	_, err = readGraphFile(noWeight)
	assert.ErrorIs(t, err, engine.ErrInvalidEdge)

	zeroWeight := filepath.Join(dir, "zeroweight.yaml")
	require.NoError(t, os.WriteFile(zeroWeight, []byte(`
edges:
  - {source: a, target: b, relation: r, layer: Chronos, weight: 0}
`), 0644))
	g, err := readGraphFile(zeroWeight)
	require.NoError(t, err)
	require.Len(t, g.Edges, 1)
	assert.Zero(t, g.Edges[0].Weight)

	// Nothing was written.
	n, err := db.CountScenes()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWalkOptions(t *testing.T) {
	rc := config.Default().Recall

	opts, err := walkOptions(walkRequest{}, rc, 1)
	require.NoError(t, err)
	assert.Equal(t, rc.SeedCount, opts.SeedCount)
	assert.Equal(t, rc.MaxBeats, opts.MaxBeats)
	assert.Equal(t, rc.LayerOrder, opts.LayerBias)
	assert.NotNil(t, opts.Rand)

	opts, err = walkOptions(walkRequest{MaxBeats: 4, LayerBias: []string{"Logos"}}, rc, 1)
	require.NoError(t, err)
	assert.Equal(t, 4, opts.MaxBeats)
	assert.Equal(t, []string{"Logos"}, opts.LayerBias)

	_, err = walkOptions(walkRequest{MaxBeats: rc.MaxBeatsCap + 1}, rc, 1)
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	out := run(t, "version")
	assert.Contains(t, out, "storywalk dev")
}
