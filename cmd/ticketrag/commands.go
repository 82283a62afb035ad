package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/opsdesk/ticketrag/internal/storage"
)

// --- build ---

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Ingest new ticket exports and rebuild the vector index",
	Long: `Ingest any *.json export files waiting in the raw directory, append their
chunks to the chunk log, and rebuild the vector index from the full log.
Already-processed files are never re-read; the chunk log is the source of
truth for the rebuild.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(true)
		if err != nil {
			return err
		}
		defer a.close()

		ctx := cmd.Context()
		if err := a.ensureEngineReady(ctx, a.cfg.Ollama.EmbedModel); err != nil {
			return err
		}

		printStep("Ingesting exports from %s...", a.cfg.Data.RawDir)
		summary, err := a.rebuild.Rebuild(ctx)
		if err != nil {
			return err
		}

		printStatus("Files processed", "%d (%d failed)", summary.FilesProcessed, summary.FilesFailed)
		printStatus("Tickets", "%d (%d skipped)", summary.Tickets, summary.TicketsSkipped)
		printStatus("New chunks", "%d", summary.ChunksWritten)
		printStatus("Indexed chunks", "%d", summary.IndexedChunks)
		printSuccess("Index rebuilt in %s", time.Duration(summary.DurationMs)*time.Millisecond)
		return nil
	},
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a question using retrieved ticket evidence",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		showSources, _ := cmd.Flags().GetBool("sources")

		a, err := newApp(true)
		if err != nil {
			return err
		}
		defer a.close()

		ctx := cmd.Context()
		if err := a.ensureEngineReady(ctx, a.cfg.Ollama.EmbedModel, a.cfg.Ollama.GenerationModel); err != nil {
			return err
		}

		res, err := a.answerer.Answer(ctx, query)
		if err != nil {
			return err
		}
		a.saveInteraction(query, res)

		fmt.Println(res.Answer)

		if showSources && len(res.Sources) > 0 {
			fmt.Println()
			for _, c := range res.Sources {
				fmt.Printf("%s [score: %.3f]\n",
					colorize(colorBold, fmt.Sprintf("Ticket %s (chunk %d)", c.TicketID, c.ChunkID)),
					c.Score,
				)
			}
		}
		return nil
	},
}

func init() {
	askCmd.Flags().Bool("sources", false, "print the ticket chunks that grounded the answer")
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Semantic search over indexed ticket chunks",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(false)
		if err != nil {
			return err
		}
		defer a.close()

		ctx := cmd.Context()
		if err := a.ensureEngineReady(ctx, a.cfg.Ollama.EmbedModel); err != nil {
			return err
		}

		results, err := a.handle.Search(ctx, query, limit)
		if err != nil {
			return err
		}

		if len(results) == 0 {
			fmt.Println("No results found.")
			return nil
		}

		for i, r := range results {
			fmt.Printf("\n%s [score: %.3f]\n",
				colorize(colorBold, fmt.Sprintf("Result %d: Ticket %s (chunk %d)", i+1, r.TicketID, r.ChunkID)),
				r.Score,
			)
			if r.Project != "" || r.Category != "" || r.Status != "" {
				fmt.Printf("  %s / %s / %s\n", r.Project, r.Category, r.Status)
			}
			text := r.Content
			if len(text) > 500 {
				text = text[:500] + "..."
			}
			fmt.Printf("  %s\n", text)
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().Int("limit", 5, "maximum number of results")
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pipeline and index status",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(true)
		if err != nil {
			return err
		}
		defer a.close()

		ctx := cmd.Context()

		if a.engine.IsRunning(ctx) {
			printStatus("Ollama", "running at %s", a.cfg.Ollama.BaseURL)
			for _, m := range []string{a.cfg.Ollama.EmbedModel, a.cfg.Ollama.GenerationModel} {
				if a.engine.HasModel(ctx, m) {
					printStatus("Model", "%s (available)", m)
				} else {
					printStatus("Model", "%s (missing, run: ollama pull %s)", m, m)
				}
			}
		} else {
			printStatus("Ollama", "not reachable at %s", a.cfg.Ollama.BaseURL)
		}

		if n, err := a.handle.Len(); err == nil {
			printStatus("Index", "%d chunks", n)
		} else {
			printStatus("Index", "not built (%v)", err)
		}

		if run, err := a.store.LastIngestRun(); err == nil {
			printStatus("Last build", "%s, %s (%d chunks indexed)",
				run.StartedAt.Format(time.RFC3339), run.Status, run.IndexedChunks)
		} else if errors.Is(err, storage.ErrNotFound) {
			printStatus("Last build", "never")
		}

		healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", a.cfg.Server.Port)
		client := &http.Client{Timeout: 2 * time.Second}
		if resp, err := client.Get(healthURL); err == nil {
			resp.Body.Close()
			printStatus("Server", "running on port %d", a.cfg.Server.Port)
		} else {
			printStatus("Server", "stopped")
		}

		printStatus("Raw dir", "%s", a.cfg.Data.RawDir)
		printStatus("Chunk log", "%s", a.cfg.Data.ChunkLogPath)
		printStatus("Index dir", "%s", a.cfg.Data.IndexDir)
		return nil
	},
}

// --- interactions ---

var interactionsCmd = &cobra.Command{
	Use:   "interactions",
	Short: "List recently answered queries",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		a, err := newApp(true)
		if err != nil {
			return err
		}
		defer a.close()

		interactions, err := a.store.RecentInteractions(limit)
		if err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(interactions)
		}

		if len(interactions) == 0 {
			fmt.Println("No interactions found.")
			return nil
		}
		for _, ix := range interactions {
			query := ix.Query
			if len(query) > 80 {
				query = query[:80] + "..."
			}
			fmt.Printf("%s  %s  %s\n",
				colorize(colorCyan, ix.ID[:8]),
				ix.CreatedAt.Format(time.RFC3339),
				query,
			)
		}
		return nil
	},
}

func init() {
	interactionsCmd.Flags().Int("limit", 20, "maximum number of interactions to list")
	interactionsCmd.Flags().Bool("json", false, "print full interactions as JSON")
}
