package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a document and its chunks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, a, closeApp, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp()

		ok, err := a.Retrieval.DeleteDocument(ctx, args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("document not found: %s", args[0])
		}
		fmt.Printf("Document deleted: %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}
