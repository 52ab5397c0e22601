package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	undotree "github.com/lawlist/undo-tree"
)

var (
	dbPath  string
	verbose bool
	logger  *slog.Logger
)

// RootCmd is the entry point; subcommands add themselves in init.
var RootCmd = &cobra.Command{
	Use:           "undotree",
	Short:         "Inspect stored undo histories",
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	},
}

func init() {
	RootCmd.PersistentFlags().StringVar(&dbPath, "db", "undotree.db", "history database file")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug records")
}

func openStore() (*undotree.Store, error) {
	return undotree.OpenStore(dbPath, undotree.StoreOptions{Logger: logger, Verbose: verbose})
}

// loadText reads the document a history is restored against into a Buffer.
func loadText(path string) (*undotree.Buffer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return undotree.NewBuffer(string(data)), nil
}

func treeOptions(id string, buf *undotree.Buffer) undotree.Options {
	return undotree.Options{
		DocumentID: id,
		Markers:    buf,
		Logger:     logger,
		Verbose:    verbose,
	}
}
