package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lifehub/essence/internal/daemon"
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", "", "override api.host")
	serveCmd.Flags().Int("port", 0, "override api.port")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, engine lanes and stream consumer",
	Long: `Start the essence service. Events arrive over POST /v1/events and, when
redis.addr is set, from the Redis stream consumer group. Stops cleanly on
SIGINT or SIGTERM; queued events are completed before exit.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.API.Host = host
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.API.Port = port
	}

	log, err := daemon.NewLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := daemon.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer d.Close()

	fmt.Fprintf(cmd.OutOrStdout(), "essence listening on http://%s\n", cfg.Addr())
	return d.Run(ctx)
}
