// Package cli wires the spindle commands: serve, start, reload, status, top.
package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/agusx1211/spindle/internal/buildinfo"
	"github.com/agusx1211/spindle/internal/debug"
)

const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"

	styleBoldCyan = "\033[1;36m"
)

// usageError marks argument mistakes so main can exit 2 instead of 1.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }

// IsUsageError reports whether err came from bad arguments or flags.
func IsUsageError(err error) bool {
	var ue usageError
	return errors.As(err, &ue)
}

var debugFlag bool

var rootCmd = &cobra.Command{
	Use:   "spindle",
	Short: "Delegation server for child coding agents",
	Long: colorBold + `spindle` + colorReset + ` — delegation server for child coding agents.

Parent agents connect over MCP and fire-and-forget subtasks to claude or
codex CLI children. Each task is a durable spool: spawned detached,
supervised by a monitor loop, and harvested later.

` + colorBold + `Getting Started:` + colorReset + `
  spindle serve              Serve MCP on stdio (for mcp.json)
  spindle serve --http       Serve MCP over HTTP with /health
  spindle start              Start the HTTP daemon in the background
  spindle status             Check the running daemon
  spindle top                Live spool dashboard`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if debugFlag || debug.ShouldEnableFromEnv() {
			if _, err := debug.Init(); err != nil {
				return err
			}
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

func init() {
	rootCmd.Version = buildinfo.Current()
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Write a verbose debug log under ~/.spindle/debug")
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError{err}
	})
}

// Execute runs the CLI and returns the command error, wrapped as a usage
// error for unknown commands.
func Execute() error {
	defer debug.Close()
	err := rootCmd.Execute()
	if err != nil && isUnknownCommand(err) {
		return usageError{err}
	}
	return err
}

func isUnknownCommand(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "unknown command") ||
		strings.Contains(msg, "unknown flag") ||
		strings.Contains(msg, "invalid argument")
}

// useColor reports whether stdout is a terminal.
func useColor() bool {
	return isatty.IsTerminal(os.Stdout.Fd())
}

// paint wraps text in an ANSI style when stdout is a terminal.
func paint(style, text string) string {
	if !useColor() {
		return text
	}
	return style + text + colorReset
}

func printErr(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}
