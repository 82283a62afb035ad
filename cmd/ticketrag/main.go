package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "dev"

var (
	configPath string
	noColor    bool
)

var rootCmd = &cobra.Command{
	Use:     "ticketrag",
	Short:   "Retrieval-augmented answers over support ticket exports",
	Version: version,
	Long: `ticketrag ingests support ticket JSON exports, chunks and embeds their
text, and answers questions grounded in the most similar chunks.

Typical flow:
  ticketrag build                      # ingest new exports and rebuild the index
  ticketrag ask "why is the printer offline?"
  ticketrag serve                      # HTTP API + MCP server`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default: ticketrag.yaml, then $XDG_CONFIG_HOME/ticketrag/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(interactionsCmd)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
