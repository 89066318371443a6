// Package client is a small HTTP client for a running storywalk server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/lazypower/storywalk/internal/engine"
)

const (
	DefaultServerURL = "http://127.0.0.1:37778"
	httpTimeout      = 10 * time.Second
)

// ErrCircuitOpen is returned without contacting the server after repeated
// transport or server failures.
var ErrCircuitOpen = errors.New("storywalk server unavailable: circuit open")

// StatusError is a non-2xx reply from the server.
type StatusError struct {
	Method  string
	Path    string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Message)
}

// BreakerConfig controls when the client stops calling a failing server.
type BreakerConfig struct {
	MaxFailures uint32        // consecutive failures before opening, default 3
	Timeout     time.Duration // open period before a trial request, default 30s
}

// Client talks to the storywalk HTTP API.
type Client struct {
	http      *http.Client
	serverURL string
	breaker   *gobreaker.CircuitBreaker
}

// New creates a client for serverURL. An empty URL uses STORYWALK_URL, then
// DefaultServerURL.
func New(serverURL string, bc BreakerConfig) *Client {
	if serverURL == "" {
		serverURL = os.Getenv("STORYWALK_URL")
	}
	if serverURL == "" {
		serverURL = DefaultServerURL
	}
	if bc.MaxFailures == 0 {
		bc.MaxFailures = 3
	}
	if bc.Timeout == 0 {
		bc.Timeout = 30 * time.Second
	}

	return &Client{
		http:      &http.Client{Timeout: httpTimeout},
		serverURL: strings.TrimRight(serverURL, "/"),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "storywalk",
			MaxRequests: 1,
			Timeout:     bc.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= bc.MaxFailures
			},
			// 4xx replies mean the server is up.
			IsSuccessful: func(err error) bool {
				var se *StatusError
				if errors.As(err, &se) {
					return se.Code < http.StatusInternalServerError
				}
				return err == nil
			},
		}),
	}
}

// State reports the breaker state: "closed", "half-open" or "open".
func (c *Client) State() string {
	return c.breaker.State().String()
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.roundTrip(ctx, method, path, in, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+path, body)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response %s: %w", path, err)
	}
	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Message: msg}
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
	}
	return nil
}

// Healthy checks if the server is reachable.
func (c *Client) Healthy(ctx context.Context) bool {
	return c.do(ctx, http.MethodGet, "/api/health", nil, nil) == nil
}

// UpsertScene stores a scene and adds it to the server's index.
func (c *Client) UpsertScene(ctx context.Context, scene engine.Scene) error {
	return c.do(ctx, http.MethodPost, "/api/memories", scene, nil)
}

// AddEdge stores an edge and returns its id.
func (c *Client) AddEdge(ctx context.Context, edge engine.Edge) (int64, error) {
	var resp struct {
		EdgeID int64 `json:"edge_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/edges", edge, &resp); err != nil {
		return 0, err
	}
	return resp.EdgeID, nil
}

// RecallRequest is the body of POST /api/recall/story. Zero values leave
// the server's defaults in place.
type RecallRequest struct {
	QueryEmbedding []float64          `json:"query_embedding,omitempty"`
	VibeEmbedding  []float64          `json:"vibe_embedding,omitempty"`
	ContextHints   map[string]string  `json:"context_hints,omitempty"`
	MotifHints     []string           `json:"motif_hints,omitempty"`
	SeedCount      int                `json:"seed_count,omitempty"`
	MaxBeats       int                `json:"max_beats,omitempty"`
	BlendWeights   map[string]float64 `json:"blend_weights,omitempty"`
	LayerBias      []string           `json:"layer_bias,omitempty"`
	AllowMoodJumps bool               `json:"allow_mood_jumps,omitempty"`
	Seed           *int64             `json:"seed,omitempty"`
}

// StoryRecall runs a recall on the server.
func (c *Client) StoryRecall(ctx context.Context, req RecallRequest) ([]engine.Beat, error) {
	var resp struct {
		Beats []engine.Beat `json:"beats"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/recall/story", req, &resp); err != nil {
		return nil, err
	}
	return resp.Beats, nil
}
