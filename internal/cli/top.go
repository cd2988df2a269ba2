package cli

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/agusx1211/spindle/internal/config"
	"github.com/agusx1211/spindle/internal/store"
	"github.com/agusx1211/spindle/internal/tui"
)

var topCmd = &cobra.Command{
	Use:   "top",
	Short: "Live spool dashboard",
	Long:  "Interactive dashboard over the spool store. Reads the same records the daemon writes, so it works with or without a running daemon.",
	Args:  cobra.NoArgs,
	RunE:  runTop,
}

func init() {
	rootCmd.AddCommand(topCmd)
}

func runTop(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	st, err := store.New(cfg.SpoolsDir())
	if err != nil {
		return err
	}

	p := tea.NewProgram(tui.New(st), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running dashboard: %w", err)
	}
	return nil
}
