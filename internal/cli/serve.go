package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/headline-goat/popup-goat/internal/app"
	"github.com/headline-goat/popup-goat/internal/server"
)

var (
	port int
	tick time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the popgoat HTTP server.

The server provides:
  - Decision endpoint the host page calls per page view
  - Event endpoint for displayed/interacted/dismissed/converted
  - Admin API for campaigns and experiments (token protected)
  - Prometheus metrics and a health check

With --tick set, the experiment lifecycle is evaluated on that interval.

Example:
  popgoat serve --port 8080 --tick 1m`,
	RunE: runServe,
}

func init() {
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (default $POPGOAT_PORT or 8080)")
		cmd.Flags().DurationVar(&tick, "tick", 0, "lifecycle evaluation interval, 0 disables (default $POPGOAT_TICK_INTERVAL)")
	}
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if port == 0 {
		port = cfg.Port
	}
	if tick == 0 {
		tick = cfg.TickInterval
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return withApp(func(_ context.Context, a *app.App) error {
		srv := server.New(a, port, cfg.Token)

		tokenFile := getTokenFilePath()
		if err := os.WriteFile(tokenFile, []byte(formatTokenFile(srv.Token(), port)), 0600); err != nil {
			a.Logger.Warn("Failed to write token file", "path", tokenFile, "error", err)
		} else {
			defer os.Remove(tokenFile)
		}

		if tick > 0 {
			go runTicker(ctx, a, tick)
		}

		return srv.Run(ctx, true)
	})
}

// runTicker evaluates the experiment lifecycle every interval until ctx ends.
func runTicker(ctx context.Context, a *app.App, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.Controller.Run(ctx); err != nil {
				a.Logger.Error("Lifecycle tick failed", "error", err)
			}
		}
	}
}

// getTokenFilePath returns the path to the token file, kept next to the database.
func getTokenFilePath() string {
	return filepath.Join(filepath.Dir(cfg.DBPath), ".popgoat-token")
}

// formatTokenFile stores the token on the first line and the port the server
// actually listens on on the second.
func formatTokenFile(token string, port int) string {
	return fmt.Sprintf("%s\n%d\n", token, port)
}

// parseTokenFile reads a token file written by formatTokenFile. A missing or
// malformed port line yields port 0.
func parseTokenFile(data []byte) (token string, port int) {
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	token = strings.TrimSpace(lines[0])
	if len(lines) > 1 {
		if p, err := strconv.Atoi(strings.TrimSpace(lines[1])); err == nil && p > 0 {
			port = p
		}
	}
	return token, port
}

func serverURL(port int) string {
	return fmt.Sprintf("http://localhost:%d", port)
}
