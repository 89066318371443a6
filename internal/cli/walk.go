package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lazypower/storywalk/internal/client"
	"github.com/lazypower/storywalk/internal/config"
	"github.com/lazypower/storywalk/internal/engine"
)

// walkRequest mirrors the recall request body of the HTTP API.
type walkRequest struct {
	QueryEmbedding []float64          `yaml:"query_embedding"`
	VibeEmbedding  []float64          `yaml:"vibe_embedding"`
	ContextHints   map[string]string  `yaml:"context_hints"`
	MotifHints     []string           `yaml:"motif_hints"`
	SeedCount      int                `yaml:"seed_count"`
	MaxBeats       int                `yaml:"max_beats"`
	BlendWeights   map[string]float64 `yaml:"blend_weights"`
	LayerBias      []string           `yaml:"layer_bias"`
	AllowMoodJumps bool               `yaml:"allow_mood_jumps"`
}

var (
	walkRequestPath string
	walkSeed        int64
	walkServer      string
)

var walkCmd = &cobra.Command{
	Use:   "walk",
	Short: "Run a story recall against the local database and print the beats",
	RunE:  runWalk,
}

func init() {
	walkCmd.Flags().StringVarP(&walkRequestPath, "request", "r", "", "YAML or JSON recall request (empty = no hints)")
	walkCmd.Flags().Int64Var(&walkSeed, "seed", 0, "Random seed for the edge draw (0 = config rand_seed, then time)")
	walkCmd.Flags().StringVar(&walkServer, "server", "", "Recall from a running server at this URL instead of the local database")
}

func runWalk(cmd *cobra.Command, args []string) error {
	var req walkRequest
	if walkRequestPath != "" {
		data, err := os.ReadFile(walkRequestPath)
		if err != nil {
			return fmt.Errorf("read request: %w", err)
		}
		if err := yaml.Unmarshal(data, &req); err != nil {
			return fmt.Errorf("parse request: %w", err)
		}
	}

	if walkServer != "" {
		return walkRemote(cmd, req)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	scenes, edges, err := db.LoadGraph()
	if err != nil {
		return fmt.Errorf("load graph: %w", err)
	}
	walker, err := engine.New(scenes, edges)
	if err != nil {
		return fmt.Errorf("build index: %w", err)
	}

	opts, err := walkOptions(req, cfg.Recall, walkSeed)
	if err != nil {
		return err
	}
	return printBeats(cmd, walker.StoryWalk(opts))
}

func walkRemote(cmd *cobra.Command, req walkRequest) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	rr := client.RecallRequest{
		QueryEmbedding: req.QueryEmbedding,
		VibeEmbedding:  req.VibeEmbedding,
		ContextHints:   req.ContextHints,
		MotifHints:     req.MotifHints,
		SeedCount:      req.SeedCount,
		MaxBeats:       req.MaxBeats,
		BlendWeights:   req.BlendWeights,
		LayerBias:      req.LayerBias,
		AllowMoodJumps: req.AllowMoodJumps,
	}
	if walkSeed != 0 {
		rr.Seed = &walkSeed
	}
	beats, err := client.New(walkServer, client.BreakerConfig{}).StoryRecall(ctx, rr)
	if err != nil {
		return err
	}
	return printBeats(cmd, beats)
}

func printBeats(cmd *cobra.Command, beats []engine.Beat) error {
	if beats == nil {
		beats = []engine.Beat{}
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{"beats": beats})
}

// walkOptions fills unset request fields from the recall defaults.
func walkOptions(req walkRequest, rc config.RecallConfig, seed int64) (engine.WalkOptions, error) {
	opts := engine.WalkOptions{
		QueryEmbedding: req.QueryEmbedding,
		VibeEmbedding:  req.VibeEmbedding,
		ContextHints:   req.ContextHints,
		MotifHints:     req.MotifHints,
		SeedCount:      rc.SeedCount,
		MaxBeats:       rc.MaxBeats,
		BlendWeights:   rc.Blend,
		LayerBias:      rc.LayerOrder,
		AllowMoodJumps: req.AllowMoodJumps,
	}
	if req.SeedCount > 0 {
		opts.SeedCount = req.SeedCount
	}
	if req.MaxBeats > 0 {
		if rc.MaxBeatsCap > 0 && req.MaxBeats > rc.MaxBeatsCap {
			return opts, fmt.Errorf("max_beats %d exceeds cap %d", req.MaxBeats, rc.MaxBeatsCap)
		}
		opts.MaxBeats = req.MaxBeats
	}
	if len(req.BlendWeights) > 0 {
		opts.BlendWeights = req.BlendWeights
	}
	if len(req.LayerBias) > 0 {
		opts.LayerBias = req.LayerBias
	}

	switch {
	case seed != 0:
	case rc.RandSeed != 0:
		seed = rc.RandSeed
	default:
		seed = time.Now().UnixNano()
	}
	opts.Rand = rand.New(rand.NewSource(seed))
	return opts, nil
}
