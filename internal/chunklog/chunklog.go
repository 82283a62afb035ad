// Package chunklog persists chunk records as an append-only JSON Lines file.
// The log is the single source of truth for the vector index, which is a
// derived cache rebuilt from it in full.
package chunklog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/opsdesk/ticketrag/internal/ticket"
)

// Record is one retrievable chunk together with the ticket metadata
// denormalized onto it at chunk-creation time.
type Record struct {
	TicketID  ticket.ID `json:"ticket_id"`
	ChunkID   int       `json:"chunk_id"`
	Content   string    `json:"content"`
	StartWord int       `json:"start_word"`
	EndWord   int       `json:"end_word"`
	Project   string    `json:"project,omitempty"`
	Category  string    `json:"category,omitempty"`
	Status    string    `json:"status,omitempty"`
	CreatedAt string    `json:"created_at,omitempty"`
}

// Marshal renders records as JSON Lines, one record per line.
func Marshal(records []Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i, r := range records {
		if err := enc.Encode(r); err != nil {
			return nil, fmt.Errorf("encoding record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Append adds records to the log at path in a single write, creating the
// file and parent directories as needed. Records from one source file are
// appended together so a crash cannot interleave or split them.
func Append(path string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	data, err := Marshal(records)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening chunk log: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("appending to chunk log: %w", err)
	}
	return f.Close()
}

// ReadAll loads every record from the log in append order.
func ReadAll(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening chunk log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var records []Record
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var r Record
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("chunk log line %d: %w", line, err)
		}
		records = append(records, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading chunk log: %w", err)
	}
	return records, nil
}
