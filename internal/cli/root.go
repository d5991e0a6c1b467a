// Package cli implements the essence command line.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lifehub/essence/internal/app/engine"
	"github.com/lifehub/essence/internal/daemon"
	"github.com/lifehub/essence/internal/infra/sqlite"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "essence",
	Short: "Gamification engine for LifeHub domains",
	Long: `essence turns domain events (tasks, habits, budgets, profile changes)
into essence, levels, achievements and cosmetic rewards.

Run 'essence serve' for the HTTP API and Redis stream consumer, or use the
other commands against the local database directly.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $ESSENCE_HOME/config.toml)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func loadConfig() (*daemon.Config, error) {
	cfg, err := daemon.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// local is an engine over the configured database, for one-shot commands.
type local struct {
	cfg    *daemon.Config
	db     *sqlite.DB
	engine *engine.Engine
	stop   func()
}

// openLocal opens the database and starts an engine without the API.
func openLocal(ctx context.Context) (*local, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log, err := daemon.NewLogger(cfg)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath()), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := sqlite.OpenFile(cfg.DBPath())
	if err != nil {
		return nil, err
	}
	eng, err := daemon.BuildEngine(cfg, db, nil, log)
	if err != nil {
		db.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		eng.Run(ctx)
		close(done)
	}()
	return &local{
		cfg:    cfg,
		db:     db,
		engine: eng,
		stop: func() {
			cancel()
			<-done
			log.Sync()
			db.Close()
		},
	}, nil
}

func (l *local) Close() { l.stop() }

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
