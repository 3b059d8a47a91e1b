package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hyperlinklaw/linkengine/internal/api"
)

var linksCmd = &cobra.Command{
	Use:   "links <document-id>",
	Short: "List a document's resolved links",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := api.NewClient(serverURL)
		var resp map[string]any
		if err := client.Get(cmd.Context(), fmt.Sprintf("/api/documents/%s/links", args[0]), &resp); err != nil {
			return err
		}
		return api.Output(resp)
	},
}

var approveCmd = &cobra.Command{
	Use:   "approve <document-id> <ordinal>",
	Short: "Approve a resolved link",
	Args:  cobra.ExactArgs(2),
	RunE:  linkReview("approve"),
}

var rejectCmd = &cobra.Command{
	Use:   "reject <document-id> <ordinal>",
	Short: "Reject a resolved link",
	Args:  cobra.ExactArgs(2),
	RunE:  linkReview("reject"),
}

func linkReview(action string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		client := api.NewClient(serverURL)
		var resp map[string]any
		path := fmt.Sprintf("/api/documents/%s/links/%s/%s", args[0], args[1], action)
		if err := client.Post(cmd.Context(), path, nil, &resp); err != nil {
			return err
		}
		return api.Output(resp)
	}
}

var indexCmd = &cobra.Command{
	Use:   "index <document-id>",
	Short: "Show a document's detected index entries",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := api.NewClient(serverURL)
		var resp map[string]any
		if err := client.Get(cmd.Context(), fmt.Sprintf("/api/documents/%s/index", args[0]), &resp); err != nil {
			return err
		}
		return api.Output(resp)
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate <document-id>",
	Short: "Run the strict link-set check",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := api.NewClient(serverURL)
		var resp map[string]any
		if err := client.Get(cmd.Context(), fmt.Sprintf("/api/documents/%s/validate", args[0]), &resp); err != nil {
			return err
		}
		return api.Output(resp)
	},
}

func init() {
	rootCmd.AddCommand(linksCmd, approveCmd, rejectCmd, indexCmd, validateCmd)
}
