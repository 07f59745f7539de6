package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MinchaoZhu/chaos-bot/internal/daemon"
	"github.com/spf13/cobra"
)

var shutdownTimeout time.Duration

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chaos-bot gateway",
	Long: `Run the chaos-bot gateway in the foreground until SIGINT or SIGTERM.
A restart requested through POST /api/config/restart reloads agent.json and
rebuilds every component in the same process.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 30*time.Second, "time allowed for graceful shutdown")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for {
		restart, err := serveOnce(ctx)
		if err != nil {
			return err
		}
		if !restart || ctx.Err() != nil {
			return nil
		}
	}
}

// serveOnce runs one daemon generation and reports whether a restart was
// requested.
func serveOnce(ctx context.Context) (bool, error) {
	loaded, err := loadConfig()
	if err != nil {
		return false, err
	}
	log, err := newLogger(loaded.App, true)
	if err != nil {
		return false, err
	}
	defer log.Close()
	cliLog := log.Component("cli")

	d, err := daemon.New(ctx, loaded, log, daemon.Options{Version: version})
	if err != nil {
		return false, fmt.Errorf("failed to initialize daemon: %w", err)
	}
	if err := d.Start(); err != nil {
		_ = d.Stop(context.Background())
		return false, err
	}

	waitErr := d.Wait(ctx)
	restart := errors.Is(waitErr, daemon.ErrRestart)
	if restart {
		cliLog.Info().Msg("Restarting with reloaded configuration")
		waitErr = nil
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := d.Stop(stopCtx); err != nil {
		cliLog.Error().Err(err).Msg("Failed to stop daemon cleanly")
	}
	return restart, waitErr
}
