package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

type globalFlags struct {
	configPath string
	verbose    bool
	level      *slog.LevelVar
}

func (g *globalFlags) logger() *slog.Logger {
	if g.verbose {
		g.level.Set(slog.LevelDebug)
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: g.level}))
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{level: new(slog.LevelVar)}

	rootCmd := &cobra.Command{
		Use:   "courier",
		Short: "Send, receive and audit messages over RabbitMQ",
		Long: `Courier publishes and consumes messages on the interfaces declared in a
configuration file and records an audit trail of every send and delivery.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildTime),
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "courier.yaml", "Configuration file")
	rootCmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(
		newSendCommand(flags),
		newListenCommand(flags),
		newAuditCommand(flags),
		newHealthCommand(flags),
	)
	return rootCmd
}
