package main

import (
	"github.com/spf13/cobra"

	"github.com/hyperlinklaw/linkengine/internal/api"
	"github.com/hyperlinklaw/linkengine/version"
)

var (
	cfgFile      string
	serverURL    string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "linkengine",
	Short: "OCR batching and hyperlink resolution for scanned legal documents",
	Long: `Linkengine processes scanned legal documents into reviewable hyperlink
sets: resumable batched OCR, index detection, and deterministic resolution
of index entries to destination pages.

The pipeline includes:
  - Batched OCR with checksum-based resume and re-OCR of low-confidence pages
  - Index and table-of-contents detection in extracted text
  - Deterministic candidate matching with external arbitration of ambiguities
  - Strict validation of the resolved link set`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.linkengine/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&serverURL, "server", "http://127.0.0.1:8080", "linkengine server URL",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)

	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		api.SetOutputFormat(outputFormat)
	}

	rootCmd.AddCommand(versionCmd)
}
