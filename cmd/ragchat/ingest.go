package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/barekit/ragchat/pkg/ingest"
)

var uploadMeta ingest.Metadata

var ingestCmd = &cobra.Command{
	Use:   "ingest [files...]",
	Short: "Add files to the document store",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, a, closeApp, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp()

		uploads := make([]ingest.Upload, 0, len(args))
		for _, path := range args {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			uploads = append(uploads, ingest.Upload{Filename: filepath.Base(path), Data: data})
		}

		docs, err := a.Ingest.ProcessMultiple(ctx, uploads, uploadMeta)
		for _, d := range docs {
			fmt.Printf("Ingested %s: %s\n", d.Title, d.ID)
		}
		return err
	},
}

func addUploadFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&uploadMeta.SourceLink, "source", "", "Source URL recorded for the documents (required)")
	f.StringVar(&uploadMeta.Title, "title", "", "Document title (defaults to the file name)")
	f.StringVar(&uploadMeta.DocumentType, "type", "other", "Document type")
	f.StringVar(&uploadMeta.Language, "language", "", "Document language")
	f.StringVar(&uploadMeta.Category, "category", "", "Document category")
	f.StringSliceVar(&uploadMeta.Topics, "topic", nil, "Document topics")
	_ = cmd.MarkFlagRequired("source")
}

func init() {
	addUploadFlags(ingestCmd)
	rootCmd.AddCommand(ingestCmd)
}
