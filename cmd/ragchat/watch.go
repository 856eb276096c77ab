package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/barekit/ragchat/pkg/ingest"
)

var watchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "Ingest files as they appear in a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, a, closeApp, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp()

		w := ingest.NewWatcher(a.Ingest, args[0], uploadMeta, ingest.WithResultHandler(func(r ingest.Result) {
			if r.Err == nil {
				fmt.Printf("Ingested %s: %s\n", r.Path, r.Document.ID)
			}
		}))
		return w.Run(ctx)
	},
}

func init() {
	addUploadFlags(watchCmd)
	rootCmd.AddCommand(watchCmd)
}
