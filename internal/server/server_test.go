package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/storywalk/internal/config"
	"github.com/lazypower/storywalk/internal/engine"
	"github.com/lazypower/storywalk/internal/store"
)

func testServer(t *testing.T, opts Options) (*Server, *store.DB) {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	walker, err := engine.New(nil, nil)
	require.NoError(t, err)
	if opts.Version == "" {
		opts.Version = "test-version"
	}
	return New(db, walker, opts), db
}

func do(t *testing.T, srv http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		buf, err := json.Marshal(b)
		require.NoError(t, err)
		r = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

// seedChain loads A -> B -> C through the API.
func seedChain(t *testing.T, srv http.Handler) {
	t.Helper()
	scenes := []map[string]any{
		{"id": "A", "timestamp": "2024-05-01T09:00:00Z", "title": "Morning", "content": "coffee",
			"pathos": []float64{0.6, 0.3}, "tones": []string{"calm"},
			"embeddings": map[string][]float64{"content": {1, 0, 0}}},
		{"id": "B", "timestamp": "2024-05-01T12:00:00Z", "title": "Noon",
			"embeddings": map[string][]float64{"content": {0, 1, 0}}},
		{"id": "C", "timestamp": "2024-05-01T18:00:00Z", "title": "Evening",
			"embeddings": map[string][]float64{"content": {0, 0, 1}}},
	}
	for _, s := range scenes {
		w := do(t, srv, "POST", "/api/memories", s)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}
	for _, e := range [][2]string{{"A", "B"}, {"B", "C"}} {
		w := do(t, srv, "POST", "/api/edges", map[string]any{
			"source": e[0], "target": e[1], "relation": "followed_by", "layer": "Chronos", "weight": 0.8,
		})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := testServer(t, Options{})
	seedChain(t, srv)

	w := do(t, srv, "GET", "/api/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test-version", body["version"])
	assert.Equal(t, true, body["db"])
	assert.EqualValues(t, 4, body["schema"])
	assert.EqualValues(t, 3, body["scenes"])
	assert.EqualValues(t, 2, body["edges"])
}

func TestUpsertAndGetScene(t *testing.T) {
	srv, db := testServer(t, Options{})
	seedChain(t, srv)

	w := do(t, srv, "GET", "/api/memories/A", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "A", body["id"])
	assert.Equal(t, "Morning", body["title"])

	// Persisted as well as indexed.
	stored, err := db.GetScene("B")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, []float64{0, 1, 0}, stored.Embedding(engine.EmbeddingContent))

	w = do(t, srv, "GET", "/api/memories/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpsertSceneValidation(t *testing.T) {
	srv, _ := testServer(t, Options{})

	cases := map[string]any{
		"invalid json":    "{not json",
		"missing id":      map[string]any{"timestamp": "2024-05-01T09:00:00Z"},
		"missing time":    map[string]any{"id": "X"},
		"nonfinite value": `{"id":"X","timestamp":"t","pathos":[2e308,0]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			w := do(t, srv, "POST", "/api/memories", body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			assert.NotEmpty(t, decodeBody(t, w)["error"])
		})
	}
}

func TestAddEdgeValidation(t *testing.T) {
	srv, _ := testServer(t, Options{})

	cases := map[string]map[string]any{
		"missing weight": {"source": "A", "target": "B", "relation": "r", "layer": "Logos"},
		"weight too big": {"source": "A", "target": "B", "relation": "r", "layer": "Logos", "weight": 1.5},
		"negative":       {"source": "A", "target": "B", "relation": "r", "layer": "Logos", "weight": -0.1},
		"missing layer":  {"source": "A", "target": "B", "relation": "r", "weight": 0.5},
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			w := do(t, srv, "POST", "/api/edges", body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}

	// Zero is a valid weight.
	w := do(t, srv, "POST", "/api/edges", map[string]any{
		"source": "A", "target": "B", "relation": "r", "layer": "Logos", "weight": 0,
	})
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

type recallResponse struct {
	Beats []engine.Beat `json:"beats"`
}

func recall(t *testing.T, srv http.Handler, body any) (int, recallResponse) {
	t.Helper()
	w := do(t, srv, "POST", "/api/recall/story", body)
	var resp recallResponse
	if w.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w.Code, resp
}

func TestStoryRecall(t *testing.T) {
	srv, _ := testServer(t, Options{})
	seedChain(t, srv)

	code, resp := recall(t, srv, map[string]any{
		"query_embedding": []float64{1, 0, 0},
		"seed_count":      1,
		"seed":            7,
	})
	require.Equal(t, http.StatusOK, code)
	require.Len(t, resp.Beats, 3)

	assert.Equal(t, "A", resp.Beats[0].SceneID)
	assert.Equal(t, "B", resp.Beats[1].SceneID)
	assert.Equal(t, "C", resp.Beats[2].SceneID)

	first := resp.Beats[0]
	require.NotNil(t, first.Feeling)
	assert.Equal(t, "valence=0.60, arousal=0.30 (calm)", *first.Feeling)
	assert.Equal(t, []string{"seed"}, first.Reason)
	assert.Equal(t, []string{"Chronos:followed_by"}, resp.Beats[1].Reason)
}

func TestStoryRecallRawJSON(t *testing.T) {
	srv, _ := testServer(t, Options{})
	seedChain(t, srv)

	w := do(t, srv, "POST", "/api/recall/story", `{"query_embedding":[0,0,1],"seed_count":1,"max_beats":1}`)
	require.Equal(t, http.StatusOK, w.Code)

	// Absent optional fields are rendered as null, not omitted.
	var raw struct {
		Beats []map[string]json.RawMessage `json:"beats"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
	require.Len(t, raw.Beats, 1)
	assert.Equal(t, "null", string(raw.Beats[0]["feeling"]))
	assert.Equal(t, `"C"`, string(raw.Beats[0]["scene_id"]))
}

func TestStoryRecallEmptyIndex(t *testing.T) {
	srv, _ := testServer(t, Options{})

	w := do(t, srv, "POST", "/api/recall/story", map[string]any{})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"beats":[]}`, w.Body.String())
}

func TestStoryRecallEmptyBody(t *testing.T) {
	srv, _ := testServer(t, Options{})
	seedChain(t, srv)

	w := do(t, srv, "POST", "/api/recall/story", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp recallResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Beats)

	// Other routes still need a body.
	w = do(t, srv, "POST", "/api/edges", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStoryRecallDeterministicWithSeed(t *testing.T) {
	srv, _ := testServer(t, Options{})
	seedChain(t, srv)
	for _, e := range [][2]string{{"A", "C"}, {"C", "A"}, {"B", "A"}} {
		w := do(t, srv, "POST", "/api/edges", map[string]any{
			"source": e[0], "target": e[1], "relation": "echoes", "layer": "Logos", "weight": 0.5,
		})
		require.Equal(t, http.StatusCreated, w.Code)
	}

	req := map[string]any{"query_embedding": []float64{0.5, 0.5, 0}, "seed": 99}
	_, first := recall(t, srv, req)
	for i := 0; i < 5; i++ {
		_, again := recall(t, srv, req)
		assert.Equal(t, first, again)
	}
}

func TestStoryRecallValidation(t *testing.T) {
	srv, _ := testServer(t, Options{})

	cases := map[string]any{
		"max beats over cap": map[string]any{"max_beats": 26},
		"max beats zero":     map[string]any{"max_beats": 0},
		"seed count zero":    map[string]any{"seed_count": 0},
		"unknown blend key":  map[string]any{"blend_weights": map[string]float64{"mood": 1}},
		"negative blend":     map[string]any{"blend_weights": map[string]float64{"content": -1}},
		"empty layer":        map[string]any{"layer_bias": []string{""}},
		"invalid json":       "[",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			code, _ := recall(t, srv, body)
			assert.Equal(t, http.StatusBadRequest, code)
		})
	}

	code, _ := recall(t, srv, map[string]any{"max_beats": 25})
	assert.Equal(t, http.StatusOK, code, "cap is inclusive")
}

func TestStoryRecallUsesReloadedDefaults(t *testing.T) {
	srv, _ := testServer(t, Options{})
	seedChain(t, srv)

	rc := config.Default().Recall
	rc.MaxBeats = 1
	rc.SeedCount = 1
	srv.SetRecall(rc)

	code, resp := recall(t, srv, map[string]any{"query_embedding": []float64{1, 0, 0}})
	require.Equal(t, http.StatusOK, code)
	require.Len(t, resp.Beats, 1)
	assert.Equal(t, "A", resp.Beats[0].SceneID)
}

func TestRateLimit(t *testing.T) {
	srv, _ := testServer(t, Options{RateLimit: config.RateLimitConfig{RPS: 0.001, Burst: 1}})

	code, _ := recall(t, srv, map[string]any{})
	assert.Equal(t, http.StatusOK, code)

	w := do(t, srv, "POST", "/api/recall/story", map[string]any{})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	// Only recall is limited.
	w = do(t, srv, "GET", "/api/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMotifAndFeedback(t *testing.T) {
	srv, db := testServer(t, Options{})

	w := do(t, srv, "POST", "/api/motifs", map[string]any{"name": "  homecoming ", "description": "returning"})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.Equal(t, "accepted", body["status"])
	assert.NotEmpty(t, body["id"])

	motifs, err := db.ListMotifs()
	require.NoError(t, err)
	require.Len(t, motifs, 1)
	assert.Equal(t, "homecoming", motifs[0].Name)

	w = do(t, srv, "POST", "/api/motifs", map[string]any{"description": "nameless"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, srv, "POST", "/api/feedback", map[string]any{"scene_id": "A", "rating": -0.5, "note": "too sad"})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	fb, err := db.ListFeedback("A")
	require.NoError(t, err)
	require.Len(t, fb, 1)
	assert.Equal(t, -0.5, fb[0].Rating)

	w = do(t, srv, "POST", "/api/feedback", map[string]any{"scene_id": "A", "rating": 2})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(t, srv, "POST", "/api/feedback", map[string]any{"scene_id": "A"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := testServer(t, Options{})
	seedChain(t, srv)
	recall(t, srv, map[string]any{"query_embedding": []float64{1, 0, 0}})

	w := do(t, srv, "GET", "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)

	out := w.Body.String()
	assert.Contains(t, out, "storywalk_scenes 3")
	assert.Contains(t, out, "storywalk_edges 2")
	assert.Contains(t, out, "storywalk_recall_beats_count 1")
	assert.Contains(t, out, `route="/api/memories"`)
}

func TestCORS(t *testing.T) {
	srv, _ := testServer(t, Options{CORSOrigins: []string{"http://localhost:5173"}})

	req := httptest.NewRequest("OPTIONS", "/api/recall/story", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))
}
