package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agusx1211/spindle/internal/buildinfo"
	"github.com/agusx1211/spindle/internal/config"
	"github.com/agusx1211/spindle/internal/debug"
	"github.com/agusx1211/spindle/internal/harness"
	"github.com/agusx1211/spindle/internal/mcpserver"
	"github.com/agusx1211/spindle/internal/supervisor"
)

// reloadCheckInterval is how often serve inspects the reload marker.
const reloadCheckInterval = 2 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP server",
	Long: `Run the MCP server on stdio (default) or HTTP.

Stdio mode is what an mcp.json entry launches. HTTP mode exposes POST /mcp,
GET /health, and a GET /ws live status stream, and exits cleanly when
"spindle reload" touches the reload marker so a service manager restarts it.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().Bool("http", false, "Serve over HTTP instead of stdio")
	serveCmd.Flags().Int("port", 0, "HTTP port (default 8002)")
	serveCmd.Flags().String("host", "", "HTTP host (default 127.0.0.1)")
	rootCmd.AddCommand(serveCmd)
}

// buildSupervisor loads config and constructs a started supervisor.
func buildSupervisor() (*supervisor.Supervisor, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	sup, err := supervisor.New(cfg, harness.NewRegistry())
	if err != nil {
		return nil, nil, err
	}
	if err := sup.Start(); err != nil {
		return nil, nil, err
	}
	return sup, cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	useHTTP, _ := cmd.Flags().GetBool("http")

	sup, cfg, err := buildSupervisor()
	if err != nil {
		return err
	}
	defer sup.Stop()

	core := mcpserver.New(sup, buildinfo.Current())

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if !useHTTP {
		debug.LogKV("cli", "serving stdio", "root", cfg.Root)
		return core.ServeStdio(ctx, os.Stdin, os.Stdout)
	}

	host, _ := cmd.Flags().GetString("host")
	if host == "" {
		host = cfg.Host
	}
	port, _ := cmd.Flags().GetInt("port")
	if port == 0 {
		port = cfg.Port
	}

	srv := mcpserver.NewHTTP(core, host, port)
	fmt.Fprintf(cmd.OutOrStdout(), "Serving MCP on http://%s/mcp (root %s)\n", srv.Addr(), cfg.Root)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	reload := watchReloadSignal(ctx, cfg.ReloadSignalPath())

	select {
	case err := <-errCh:
		return err
	case <-reload:
		fmt.Fprintln(cmd.OutOrStdout(), "Reload signal received, shutting down")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

// watchReloadSignal fires once when the reload marker's mtime moves past
// the watch start.
func watchReloadSignal(ctx context.Context, path string) <-chan struct{} {
	ch := make(chan struct{}, 1)
	start := time.Now()

	go func() {
		ticker := time.NewTicker(reloadCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				info, err := os.Stat(path)
				if err != nil {
					continue
				}
				if info.ModTime().After(start) {
					ch <- struct{}{}
					return
				}
			}
		}
	}()
	return ch
}
