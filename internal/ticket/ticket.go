package ticket

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultIncludeNotes is how many trailing notes CanonicalText keeps.
const DefaultIncludeNotes = 5

// ID is an opaque ticket identifier. Exports use either a JSON string or a
// JSON number, so the raw scalar is kept verbatim and round-trips unchanged.
type ID struct {
	raw json.RawMessage
}

// UnmarshalJSON accepts any JSON scalar and rejects objects and arrays.
func (id *ID) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		id.raw = nil
		return nil
	}
	if trimmed[0] == '{' || trimmed[0] == '[' {
		return errors.New("ticket id must be a scalar")
	}
	id.raw = append(json.RawMessage(nil), trimmed...)
	return nil
}

// MarshalJSON writes back the original scalar.
func (id ID) MarshalJSON() ([]byte, error) {
	if len(id.raw) == 0 {
		return []byte("null"), nil
	}
	return id.raw, nil
}

// IsZero reports whether the id was absent or null in the source record.
func (id ID) IsZero() bool {
	return len(id.raw) == 0
}

// String renders the id for display: string scalars are unquoted, everything
// else is the raw JSON text.
func (id ID) String() string {
	if len(id.raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(id.raw, &s); err == nil {
		return s
	}
	return string(id.raw)
}

// timestampLayouts are the formats seen across ticket exports.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Timestamp is a time field that tolerates the export formats above.
// A malformed timestamp fails the whole record.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	if bytes.Equal(trimmed, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	if strings.TrimSpace(s) == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Format(time.RFC3339))
}

// Label is a named classification attached to a ticket (project, category,
// status, resolution). Exports carry extra fields; only the name matters here.
type Label struct {
	Name string `json:"name"`
}

// Note is one comment or update on a ticket. Slice order is chronological.
type Note struct {
	ID        ID        `json:"id"`
	Text      string    `json:"text"`
	CreatedAt Timestamp `json:"created_at"`
	UpdatedAt Timestamp `json:"updated_at"`
}

// Ticket is the canonical in-memory form of one raw support ticket.
// It is constructed once at ingestion time and never mutated; only its
// canonical text and the chunks derived from it are persisted.
type Ticket struct {
	ID          ID        `json:"id"`
	Summary     string    `json:"summary"`
	Description string    `json:"description"`
	Notes       []Note    `json:"notes"`
	Project     *Label    `json:"project"`
	Category    *Label    `json:"category"`
	Status      *Label    `json:"status"`
	Resolution  *Label    `json:"resolution"`
	CreatedAt   Timestamp `json:"created_at"`
	UpdatedAt   Timestamp `json:"updated_at"`
}

// Decode splits a raw JSON document into individual ticket records.
// Exports contain either a single ticket object or an array of them.
func Decode(data []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("empty document")
	}
	if trimmed[0] == '[' {
		var records []json.RawMessage
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, fmt.Errorf("decoding ticket array: %w", err)
		}
		return records, nil
	}
	if trimmed[0] != '{' {
		return nil, errors.New("top-level value must be an object or an array of objects")
	}
	var record json.RawMessage
	if err := json.Unmarshal(trimmed, &record); err != nil {
		return nil, fmt.Errorf("decoding ticket object: %w", err)
	}
	return []json.RawMessage{record}, nil
}

// Parse unmarshals and validates a single raw ticket record.
func Parse(raw json.RawMessage) (Ticket, error) {
	var t Ticket
	if err := json.Unmarshal(raw, &t); err != nil {
		return Ticket{}, err
	}
	if err := t.Validate(); err != nil {
		return Ticket{}, err
	}
	return t, nil
}

// Validate checks the required fields. Everything beyond id and summary
// degrades gracefully to absence.
func (t *Ticket) Validate() error {
	if t.ID.IsZero() {
		return errors.New("missing id")
	}
	if strings.TrimSpace(t.Summary) == "" {
		return errors.New("missing summary")
	}
	return nil
}

// CanonicalText flattens the ticket into one deterministic text blob:
// context line, title, description, last includeNotes note texts, status and
// resolution. Whitespace-only parts are dropped from the final join.
func (t *Ticket) CanonicalText(includeNotes int) string {
	var parts []string

	if t.Project != nil || t.Category != nil {
		var context []string
		if t.Project != nil {
			context = append(context, "Project: "+t.Project.Name)
		}
		if t.Category != nil {
			context = append(context, "Category: "+t.Category.Name)
		}
		parts = append(parts, strings.Join(context, " | "))
	}

	parts = append(parts, "Title: "+t.Summary)
	parts = append(parts, "Description: "+t.Description)

	if texts := t.lastNoteTexts(includeNotes); len(texts) > 0 {
		parts = append(parts, "Notes / Comments:")
		parts = append(parts, strings.Join(texts, "\n"))
	}

	if t.Status != nil {
		parts = append(parts, "Status: "+t.Status.Name)
	}
	if t.Resolution != nil {
		parts = append(parts, "Resolution: "+t.Resolution.Name)
	}

	kept := parts[:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n")
}

// lastNoteTexts returns the non-empty texts among the last n notes,
// preserving chronological order.
func (t *Ticket) lastNoteTexts(n int) []string {
	if n <= 0 || len(t.Notes) == 0 {
		return nil
	}
	notes := t.Notes
	if len(notes) > n {
		notes = notes[len(notes)-n:]
	}
	var texts []string
	for _, note := range notes {
		if strings.TrimSpace(note.Text) != "" {
			texts = append(texts, note.Text)
		}
	}
	return texts
}

// ProjectName and friends give the denormalized label names copied onto
// chunk records; empty string when the label is absent.

func (t *Ticket) ProjectName() string {
	if t.Project == nil {
		return ""
	}
	return t.Project.Name
}

func (t *Ticket) CategoryName() string {
	if t.Category == nil {
		return ""
	}
	return t.Category.Name
}

func (t *Ticket) StatusName() string {
	if t.Status == nil {
		return ""
	}
	return t.Status.Name
}
