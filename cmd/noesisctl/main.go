package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"noesis/pkg/noesis"
)

var version = "0.1.0-dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "noesisctl",
		Short: "Participant coordination and threshold-event engine",
		Long: `noesisctl drives the coordination engine: it admits participants into
the entangled topology, runs singularity events through the merger
protocol catalog and reports the global metrics the monitor loop keeps
current.`,
	}

	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	rootCmd.PersistentFlags().String("config", "", "Path to a TOML config file")
	rootCmd.PersistentFlags().String("store", "", "Store backend (memory or sqlite)")
	rootCmd.PersistentFlags().String("db", "", "SQLite database path")
	rootCmd.PersistentFlags().String("run-id", "", "Persistence scope for snapshots")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (trace, debug, info, warn, error)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newAddCmd(),
		newRemoveCmd(),
		newEventCmd(),
		newMetricsCmd(),
		newHealthCmd(),
		newProtocolsCmd(),
		newSnapshotsCmd(),
		newPruneCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				json.NewEncoder(os.Stdout).Encode(map[string]string{"version": version})
				return
			}
			fmt.Printf("noesisctl version %s\n", version)
		},
	}
}

func newClient(cmd *cobra.Command) (*noesis.Client, error) {
	configPath, _ := cmd.Flags().GetString("config")
	storeKind, _ := cmd.Flags().GetString("store")
	dbPath, _ := cmd.Flags().GetString("db")
	runID, _ := cmd.Flags().GetString("run-id")

	logger := newLogger(cmd)
	return noesis.New(noesis.Options{
		ConfigPath: configPath,
		StoreKind:  storeKind,
		DBPath:     dbPath,
		RunID:      runID,
		Logger:     &logger,
	})
}

func newLogger(cmd *cobra.Command) zerolog.Logger {
	levelName, _ := cmd.Flags().GetString("log-level")
	if levelName == "" {
		levelName = "warn"
	}
	level, err := zerolog.ParseLevel(levelName)
	if err != nil {
		level = zerolog.WarnLevel
	}
	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	return zerolog.New(writer).Level(level).With().Timestamp().Logger()
}

func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
