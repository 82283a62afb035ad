// Package ingest scans a directory of raw ticket exports and turns them into
// chunk records on the persisted chunk log.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/opsdesk/ticketrag/internal/chunker"
	"github.com/opsdesk/ticketrag/internal/chunklog"
	"github.com/opsdesk/ticketrag/internal/ticket"
)

// Options configures a Pipeline.
type Options struct {
	RawDir       string // directory scanned for *.json ticket exports
	ProcessedDir string // consumed source files are moved here
	LogPath      string // chunk log (JSON Lines)
	MaxWords     int
	Overlap      int
	IncludeNotes int
	Logger       *slog.Logger
}

// Report summarizes one ingestion run.
type Report struct {
	FilesFound     int `json:"files_found"`
	FilesProcessed int `json:"files_processed"`
	FilesFailed    int `json:"files_failed"`
	Tickets        int `json:"tickets"`
	TicketsSkipped int `json:"tickets_skipped"`
	ChunksWritten  int `json:"chunks_written"`
}

// NoOp reports whether the run found nothing to do.
func (r Report) NoOp() bool {
	return r.FilesFound == 0
}

// Pipeline normalizes, chunks, and logs ticket exports file by file.
// Processing is synchronous and single-threaded; bookkeeping is move-on-
// success, so re-running never reprocesses a consumed file.
type Pipeline struct {
	opts   Options
	logger *slog.Logger
}

// NewPipeline validates the chunking configuration and returns a Pipeline.
func NewPipeline(opts Options) (*Pipeline, error) {
	if opts.MaxWords == 0 {
		opts.MaxWords = chunker.DefaultMaxWords
		if opts.Overlap == 0 {
			opts.Overlap = chunker.DefaultOverlap
		}
	}
	if err := chunker.ValidateConfig(opts.MaxWords, opts.Overlap); err != nil {
		return nil, fmt.Errorf("chunking config: %w", err)
	}
	if opts.IncludeNotes == 0 {
		opts.IncludeNotes = ticket.DefaultIncludeNotes
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{opts: opts, logger: logger}, nil
}

// Run processes every pending export in the raw directory. A decode failure
// skips the whole file and leaves it in place for a later retry; invalid
// records inside a file are skipped individually. The run is at-least-once:
// chunk records for a file are appended in one write before the file is
// moved to the processed directory.
func (p *Pipeline) Run(ctx context.Context) (Report, error) {
	var report Report

	if err := os.MkdirAll(p.opts.RawDir, 0o755); err != nil {
		return report, fmt.Errorf("creating raw directory: %w", err)
	}
	if err := os.MkdirAll(p.opts.ProcessedDir, 0o755); err != nil {
		return report, fmt.Errorf("creating processed directory: %w", err)
	}

	files, err := listExports(p.opts.RawDir)
	if err != nil {
		return report, err
	}
	report.FilesFound = len(files)
	if len(files) == 0 {
		p.logger.Info("no new files to process", "dir", p.opts.RawDir)
		return report, nil
	}
	p.logger.Info("processing ticket exports", "files", len(files), "dir", p.opts.RawDir)

	for _, name := range files {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := p.processFile(name, &report); err != nil {
			report.FilesFailed++
			p.logger.Error("failed to process file", "file", name, "error", err)
			continue
		}
		report.FilesProcessed++
	}

	p.logger.Info("ingestion finished",
		"processed", report.FilesProcessed,
		"failed", report.FilesFailed,
		"tickets", report.Tickets,
		"skipped", report.TicketsSkipped,
		"chunks", report.ChunksWritten,
	)
	return report, nil
}

// processFile turns one export into chunk records. Records are buffered for
// the whole file, appended to the log in a single write, and only then is
// the source file moved. A crash between the two steps can duplicate chunks
// on retry, never lose them.
func (p *Pipeline) processFile(name string, report *Report) error {
	path := filepath.Join(p.opts.RawDir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading file: %w", err)
	}

	rawRecords, err := ticket.Decode(data)
	if err != nil {
		return fmt.Errorf("decoding: %w", err)
	}

	var records []chunklog.Record
	for i, raw := range rawRecords {
		t, err := ticket.Parse(raw)
		if err != nil {
			report.TicketsSkipped++
			p.logger.Warn("skipping invalid ticket", "file", name, "record", i, "error", err)
			continue
		}
		report.Tickets++

		text := t.CanonicalText(p.opts.IncludeNotes)
		spans, err := chunker.Chunk(text, p.opts.MaxWords, p.opts.Overlap)
		if err != nil {
			// Config is validated at construction; treat as a record failure.
			report.TicketsSkipped++
			report.Tickets--
			p.logger.Warn("skipping unchunkable ticket", "file", name, "ticket", t.ID.String(), "error", err)
			continue
		}

		createdAt := ""
		if !t.CreatedAt.IsZero() {
			createdAt = t.CreatedAt.Format(time.RFC3339)
		}
		for idx, span := range spans {
			records = append(records, chunklog.Record{
				TicketID:  t.ID,
				ChunkID:   idx,
				Content:   span.Content,
				StartWord: span.StartWord,
				EndWord:   span.EndWord,
				Project:   t.ProjectName(),
				Category:  t.CategoryName(),
				Status:    t.StatusName(),
				CreatedAt: createdAt,
			})
		}
	}

	if err := chunklog.Append(p.opts.LogPath, records); err != nil {
		return err
	}
	report.ChunksWritten += len(records)

	dest := filepath.Join(p.opts.ProcessedDir, name)
	if err := os.Rename(path, dest); err != nil {
		return fmt.Errorf("moving processed file: %w", err)
	}
	p.logger.Info("file processed", "file", name, "chunks", len(records))
	return nil
}

// listExports returns the JSON files in dir sorted by name so runs are
// deterministic.
func listExports(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("listing raw directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".json") {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)
	return files, nil
}
