// Package cli implements the a2c-computer command line.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// DefaultConfig is the config file used when neither --config nor
// A2C_COMPUTER_CONFIG is set.
const DefaultConfig = "a2c-computer.yaml"

type rootFlags struct {
	Config   string
	LogLevel string
	Yes      bool
}

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	rf := &rootFlags{}
	rootCmd := &cobra.Command{
		Use:           "a2c-computer",
		Short:         "Run MCP servers as one computer and expose their tools to agents",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	config := os.Getenv("A2C_COMPUTER_CONFIG")
	if config == "" {
		config = DefaultConfig
	}
	rootCmd.PersistentFlags().StringVarP(&rf.Config, "config", "c", config, "config file (defaults to A2C_COMPUTER_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&rf.LogLevel, "log-level", "warn", "log level: debug|info|warn|error")
	rootCmd.PersistentFlags().BoolVarP(&rf.Yes, "yes", "y", false, "approve tools that require confirmation without asking")

	rootCmd.AddCommand(runCmd(rf))
	rootCmd.AddCommand(toolsCmd(rf))
	rootCmd.AddCommand(callCmd(rf))
	rootCmd.AddCommand(desktopCmd(rf))
	rootCmd.AddCommand(historyCmd(rf))
	rootCmd.AddCommand(schemaCmd())

	return rootCmd
}

func (rf *rootFlags) logger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(rf.LogLevel)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", rf.LogLevel)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), nil
}
