package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agusx1211/spindle/internal/config"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the HTTP daemon in the background",
	Args:  cobra.NoArgs,
	RunE:  runStart,
}

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Ask a running daemon to restart",
	Long: `Touch the reload marker under the spindle root. A daemon started with
"spindle serve --http" notices the marker within a couple of seconds and
exits cleanly so its service manager restarts it with fresh code.`,
	Args: cobra.NoArgs,
	RunE: runReload,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check the running daemon",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(startCmd, reloadCmd, statusCmd)
}

func healthURL(cfg *config.Config) string {
	return fmt.Sprintf("http://%s:%d/health", cfg.Host, cfg.Port)
}

// fetchHealth returns the daemon's health document, or an error when it is
// not reachable.
func fetchHealth(cfg *config.Config) (map[string]any, error) {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(healthURL(cfg))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var doc map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if doc, err := fetchHealth(cfg); err == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Already running: %v running spools\n", doc["running_spools"])
		return nil
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("finding executable: %w", err)
	}

	child := exec.Command(exe, "serve", "--http")
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	child.Stdin = nil
	child.Stdout = nil
	child.Stderr = nil
	if err := child.Start(); err != nil {
		return fmt.Errorf("starting daemon: %w", err)
	}
	go child.Wait()

	// Wait for the health endpoint to come up.
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := fetchHealth(cfg); err == nil {
			fmt.Fprintf(cmd.OutOrStdout(), "Started (PID %d) on %s\n", child.Process.Pid, healthURL(cfg))
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("daemon did not become healthy within 10 seconds")
}

func runReload(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.Root, 0755); err != nil {
		return err
	}

	path := cfg.ReloadSignalPath()
	now := time.Now()
	if err := os.WriteFile(path, []byte(now.Format(time.RFC3339)+"\n"), 0644); err != nil {
		return fmt.Errorf("touching reload marker: %w", err)
	}
	if err := os.Chtimes(path, now, now); err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Reload requested")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	doc, err := fetchHealth(cfg)
	if err != nil {
		fmt.Fprintln(cmd.OutOrStdout(), paint(colorYellow, "Not running"))
		return nil
	}

	out, _ := json.MarshalIndent(doc, "", "  ")
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
