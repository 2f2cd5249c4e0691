package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/strefethen/music-central-go/internal/config"
	"github.com/strefethen/music-central-go/internal/db"
	"github.com/strefethen/music-central-go/internal/logging"
	"github.com/strefethen/music-central-go/internal/server"
	"github.com/strefethen/music-central-go/internal/system"
)

const shutdownTimeout = 10 * time.Second

func main() {
	app := &cli.Command{
		Name:    "music-central",
		Usage:   "Unified music streaming backend",
		Version: system.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a TOML configuration file",
				Sources: cli.EnvVars("CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API",
				Action: serve,
			},
			{
				Name:   "migrate",
				Usage:  "Create or update the database schema and exit",
				Action: migrate,
			},
		},
		DefaultCommand: "serve",
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Fatal("music-central failed", "error", err)
	}
}

func loadConfig(cmd *cli.Command) (config.Config, error) {
	if path := cmd.String("config"); path != "" {
		if err := os.Setenv("CONFIG_FILE", path); err != nil {
			return config.Config{}, err
		}
	}
	return config.Load()
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := logging.New(nil, cfg.LogLevel)

	handler, shutdownHandler, err := server.NewHandler(cfg, server.Options{Logger: logger})
	if err != nil {
		return err
	}

	addr := cfg.Host + ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("music-central listening", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			_ = shutdownHandler(context.Background())
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := shutdownHandler(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func migrate(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := logging.New(nil, cfg.LogLevel)

	dbPair, err := db.Init(cfg.SQLiteDBPath)
	if err != nil {
		return err
	}
	defer dbPair.Close()
	if err := dbPair.Ping(ctx); err != nil {
		return err
	}
	logger.Info("schema applied", "path", cfg.SQLiteDBPath)
	return nil
}
