package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lazypower/storywalk/internal/config"
	"github.com/lazypower/storywalk/internal/engine"
	"github.com/lazypower/storywalk/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := cfg.Log.NewLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

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

	srv := server.New(db, walker, server.Options{
		Version:     VersionString(),
		Logger:      logger,
		Recall:      cfg.Recall,
		CORSOrigins: cfg.Server.CORSOrigins,
		RateLimit:   cfg.Server.RateLimit,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if configPath != "" {
		err := config.Watch(ctx, configPath, logger, func(c config.Config) {
			srv.SetRecall(c.Recall)
		})
		if err != nil {
			logger.Warn("config watch disabled", zap.Error(err))
		}
	}

	addr := cfg.ListenAddr()
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("storywalk serving",
			zap.String("addr", addr),
			zap.String("db", db.Path),
			zap.Int("scenes", walker.Len()),
			zap.Int("edges", len(walker.Edges())),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return httpServer.Shutdown(shutdownCtx)
}
