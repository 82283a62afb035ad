package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Interaction is one answered query: what was asked, what came back, and
// which chunks grounded it.
type Interaction struct {
	ID        string
	CreatedAt time.Time
	Query     string
	Answer    string
	Model     string
	TopK      int
	Sources   string // JSON array of {ticket_id, chunk_id, score}, stored as text
}

// IngestRun records one pass over the raw export directory together with
// the index rebuild that followed it.
type IngestRun struct {
	ID             string
	StartedAt      time.Time
	FinishedAt     time.Time
	FilesProcessed int
	FilesFailed    int
	Tickets        int
	TicketsSkipped int
	ChunksWritten  int
	IndexedChunks  int
	Status         string // "completed" or "failed"
	Error          string
}
