package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hyperlinklaw/linkengine/internal/api"
)

var uploadProcess bool

var uploadCmd = &cobra.Command{
	Use:   "upload <file.pdf>",
	Short: "Upload a scanned PDF",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := api.NewClient(serverURL)
		var resp map[string]any
		if err := client.Upload(cmd.Context(), "/api/documents", args[0], uploadProcess, &resp); err != nil {
			return err
		}
		return api.Output(resp)
	},
}

var processCmd = &cobra.Command{
	Use:   "process <document-id>",
	Short: "Submit a document to the pipeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := api.NewClient(serverURL)
		var resp map[string]any
		path := fmt.Sprintf("/api/documents/%s/process", args[0])
		if err := client.Post(cmd.Context(), path, nil, &resp); err != nil {
			return err
		}
		return api.Output(resp)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <document-id>",
	Short: "Show document status and batch progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := api.NewClient(serverURL)

		var doc map[string]any
		if err := client.Get(cmd.Context(), "/api/documents/"+args[0], &doc); err != nil {
			return err
		}
		var batches map[string]any
		if err := client.Get(cmd.Context(), fmt.Sprintf("/api/documents/%s/batches", args[0]), &batches); err != nil {
			return err
		}
		return api.Output(map[string]any{
			"document": doc,
			"batches":  batches["batches"],
		})
	},
}

var listStatus string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client := api.NewClient(serverURL)
		path := "/api/documents"
		if listStatus != "" {
			path += "?status=" + listStatus
		}
		var resp map[string]any
		if err := client.Get(cmd.Context(), path, &resp); err != nil {
			return err
		}
		return api.Output(resp)
	},
}

func init() {
	uploadCmd.Flags().BoolVar(&uploadProcess, "process", false, "Start processing immediately after upload")
	listCmd.Flags().StringVar(&listStatus, "status", "", "Filter by status (queued, processing, completed, failed)")

	rootCmd.AddCommand(uploadCmd, processCmd, statusCmd, listCmd)
}
