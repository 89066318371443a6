package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/lazypower/storywalk/internal/engine"
)

var scenesCmd = &cobra.Command{
	Use:   "scenes",
	Short: "List stored scenes with their outgoing edge counts",
	RunE:  runScenes,
}

func runScenes(cmd *cobra.Command, args []string) error {
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
	printScenes(cmd.OutOrStdout(), scenes, edges)
	return nil
}

func printScenes(w io.Writer, scenes []engine.Scene, edges []engine.Edge) {
	if len(scenes) == 0 {
		fmt.Fprintln(w, "no scenes")
		return
	}

	out := make(map[string]int, len(scenes))
	for _, e := range edges {
		out[e.Source]++
	}
	for _, s := range scenes {
		title := s.Title
		if title == "" {
			title = "-"
		}
		fmt.Fprintf(w, "%-24s %-25s %3d  %s\n", s.ID, s.Timestamp, out[s.ID], title)
	}
	fmt.Fprintf(w, "\n%d scenes, %d edges\n", len(scenes), len(edges))
}
