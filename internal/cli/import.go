package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lazypower/storywalk/internal/client"
	"github.com/lazypower/storywalk/internal/engine"
	"github.com/lazypower/storywalk/internal/store"
)

// graphFile is the import format. JSON files parse as YAML too.
type graphFile struct {
	Scenes []engine.Scene `yaml:"scenes"`
	Edges  []engine.Edge  `yaml:"edges"`
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import scenes and edges from a YAML or JSON file",
	Long: "Import reads {scenes: [...], edges: [...]} and upserts every scene, then " +
		"appends every edge. The whole file is validated before anything is written.",
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

var importServer string

func init() {
	importCmd.Flags().StringVar(&importServer, "server", "", "Send to a running server at this URL instead of the local database")
}

func runImport(cmd *cobra.Command, args []string) error {
	g, err := readGraphFile(args[0])
	if err != nil {
		return err
	}

	if importServer != "" {
		if _, err := engine.New(g.Scenes, g.Edges); err != nil {
			return fmt.Errorf("validate: %w", err)
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
		defer cancel()
		scenes, edges, err := importRemote(ctx, client.New(importServer, client.BreakerConfig{}), g)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d scenes, %d edges into %s\n", scenes, edges, importServer)
		return nil
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

	scenes, edges, err := importGraph(db, g)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "imported %d scenes, %d edges into %s\n", scenes, edges, db.Path)
	return nil
}

// fileEdge is an edge as written in an import file. Weight has no default.
type fileEdge struct {
	Source   string   `yaml:"source"`
	Target   string   `yaml:"target"`
	Relation string   `yaml:"relation"`
	Layer    string   `yaml:"layer"`
	Weight   *float64 `yaml:"weight"`
}

func readGraphFile(path string) (graphFile, error) {
	var g graphFile
	data, err := os.ReadFile(path)
	if err != nil {
		return g, fmt.Errorf("read %s: %w", path, err)
	}

	var doc struct {
		Scenes []engine.Scene `yaml:"scenes"`
		Edges  []fileEdge     `yaml:"edges"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return g, fmt.Errorf("parse %s: %w", path, err)
	}

	g.Scenes = doc.Scenes
	for i, e := range doc.Edges {
		if e.Weight == nil {
			return graphFile{}, fmt.Errorf("%s: edge %d (%s->%s): %w: weight required",
				path, i, e.Source, e.Target, engine.ErrInvalidEdge)
		}
		g.Edges = append(g.Edges, engine.Edge{
			Source:   e.Source,
			Target:   e.Target,
			Relation: e.Relation,
			Layer:    e.Layer,
			Weight:   *e.Weight,
		})
	}
	return g, nil
}

// importGraph validates g as a standalone index, then writes it.
func importGraph(db *store.DB, g graphFile) (int, int, error) {
	if _, err := engine.New(g.Scenes, g.Edges); err != nil {
		return 0, 0, fmt.Errorf("validate: %w", err)
	}

	for i := range g.Scenes {
		if err := db.UpsertScene(&g.Scenes[i]); err != nil {
			return i, 0, err
		}
	}
	for i, e := range g.Edges {
		if _, err := db.AddEdge(e); err != nil {
			return len(g.Scenes), i, err
		}
	}
	return len(g.Scenes), len(g.Edges), nil
}

func importRemote(ctx context.Context, c *client.Client, g graphFile) (int, int, error) {
	for i, sc := range g.Scenes {
		if err := c.UpsertScene(ctx, sc); err != nil {
			return i, 0, fmt.Errorf("scene %s: %w", sc.ID, err)
		}
	}
	for i, e := range g.Edges {
		if _, err := c.AddEdge(ctx, e); err != nil {
			return len(g.Scenes), i, fmt.Errorf("edge %s->%s: %w", e.Source, e.Target, err)
		}
	}
	return len(g.Scenes), len(g.Edges), nil
}
