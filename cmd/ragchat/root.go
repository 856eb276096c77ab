package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/barekit/ragchat/pkg/app"
	"github.com/barekit/ragchat/pkg/config"
)

var (
	configPath string
	verbose    bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "ragchat",
	Short: "Retrieval-augmented chat over your documents",
	Long: `ragchat ingests documents into a vector store and answers questions
using the most relevant passages and the conversation so far.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Log.Level = "debug"
			cfg.Debug = true
		}
		config.SetupLogger(cfg.Log, os.Stderr)
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to the configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
}

// openApp builds the application and a context cancelled on interrupt.
func openApp(cmd *cobra.Command) (context.Context, *app.App, func(), error) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	a, err := app.New(ctx, cfg, app.Providers{})
	if err != nil {
		stop()
		return nil, nil, nil, err
	}
	return ctx, a, func() {
		if err := a.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Error closing: %v\n", err)
		}
		stop()
	}, nil
}
