package main

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var sessionID string

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question about the stored documents",
	Long: `Ask streams the answer to stdout. Pass --session to continue a
conversation; with a persistent memory backend configured the history
survives restarts.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, a, closeApp, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp()

		id := sessionID
		if id == "" {
			id = uuid.NewString()
		}

		stream, err := a.Chat.GetResponse(ctx, strings.Join(args, " "), id, nil)
		if err != nil {
			return err
		}
		for chunk := range stream {
			if chunk.Err != nil {
				fmt.Println()
				return chunk.Err
			}
			fmt.Print(chunk.Content)
		}
		fmt.Println()

		if sessionID == "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "Session: %s\n", id)
		}
		return nil
	},
}

func init() {
	askCmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session id to continue")
	rootCmd.AddCommand(askCmd)
}
