package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lazypower/storywalk/internal/config"
	"github.com/lazypower/storywalk/internal/store"
)

var (
	configPath string
	envFile    string
)

var rootCmd = &cobra.Command{
	Use:   "storywalk",
	Short: "Narrative recall over a graph of remembered scenes",
	Long: "StoryWalk stores scenes and the typed edges between them, and answers " +
		"recall queries with short chains of story beats.",
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Dotenv file loaded before config")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(walkCmd)
	rootCmd.AddCommand(scenesCmd)
}

// loadConfig reads the dotenv file, then the config file, then env overrides.
func loadConfig() (config.Config, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return config.Config{}, err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// openDB opens the database named by cfg, or the default path.
func openDB(cfg config.Config) (*store.DB, error) {
	dbPath := cfg.Database.Path
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("resolve db path: %w", err)
		}
	}
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}
