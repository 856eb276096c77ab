package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/barekit/ragchat/pkg/document"
	"github.com/barekit/ragchat/pkg/metadata"
)

var (
	searchLimit int
	searchType  string
	threshold   float64
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search the document store",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, a, closeApp, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp()

		var filter map[string]any
		if searchType != "" {
			filter = map[string]any{document.KeyDocumentType: searchType}
		}
		docs, err := a.Retrieval.SearchDocuments(ctx, strings.Join(args, " "), searchLimit, filter)
		if err != nil {
			return err
		}
		printHits(docs)
		return nil
	},
}

var similarCmd = &cobra.Command{
	Use:   "similar [id]",
	Short: "List documents similar to a stored document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, a, closeApp, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp()

		var minScore *float64
		if cmd.Flags().Changed("threshold") {
			minScore = &threshold
		}
		docs, err := a.Retrieval.GetSimilarDocuments(ctx, args[0], searchLimit, minScore)
		if err != nil {
			return err
		}
		printHits(docs)
		return nil
	},
}

func printHits(docs []*document.Document) {
	if len(docs) == 0 {
		fmt.Println("No documents found.")
		return
	}
	for i, d := range docs {
		score, _ := metadata.Float(d.Metadata[document.KeySearchScore])
		fmt.Printf("%d. [%.3f] %s (%s)\n", i+1, score, d.Title, d.ID)
		fmt.Printf("   %s\n", preview(d.Content, 160))
	}
}

func preview(s string, n int) string {
	r := []rune(strings.Join(strings.Fields(s), " "))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n]) + "..."
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 5, "Maximum number of results")
	searchCmd.Flags().StringVar(&searchType, "type", "", "Only return documents of this type")
	similarCmd.Flags().IntVarP(&searchLimit, "limit", "n", 5, "Maximum number of results")
	similarCmd.Flags().Float64Var(&threshold, "threshold", 0, "Minimum similarity score")
	rootCmd.AddCommand(searchCmd, similarCmd)
}
