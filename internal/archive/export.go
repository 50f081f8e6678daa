// Package archive copies the append-only event log to object storage as
// JSONL batches.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/alfredjeanlab/coherence/internal/model"
)

// Source is the part of the store the archiver reads and advances.
type Source interface {
	ListEventsAfter(ctx context.Context, afterID int64, limit int) ([]*model.Event, error)
	GetExportCursor(ctx context.Context, name string) (int64, error)
	SetExportCursor(ctx context.Context, name string, eventID int64) error
}

// header is the first JSONL record of every batch.
type header struct {
	Version    string    `json:"version"`
	Type       string    `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	FirstID    int64     `json:"first_id"`
	LastID     int64     `json:"last_id"`
	EventCount int       `json:"event_count"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Batch describes one exported run of consecutive events.
type Batch struct {
	FirstID int64
	LastID  int64
	Count   int
}

// Name is the object name of the batch. Ids are zero-padded so names sort
// in log order.
func (b Batch) Name() string {
	return fmt.Sprintf("events-%012d-%012d.jsonl", b.FirstID, b.LastID)
}

// ExportEvents writes up to limit events with ids greater than afterID to w.
// A zero Batch means there was nothing to export and nothing was written.
func ExportEvents(ctx context.Context, src Source, afterID int64, limit int, w io.Writer) (Batch, error) {
	evs, err := src.ListEventsAfter(ctx, afterID, limit)
	if err != nil {
		return Batch{}, fmt.Errorf("list events after %d: %w", afterID, err)
	}
	if len(evs) == 0 {
		return Batch{}, nil
	}
	b := Batch{FirstID: evs[0].ID, LastID: evs[len(evs)-1].ID, Count: len(evs)}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Version:    "1",
		Type:       "header",
		Timestamp:  time.Now().UTC(),
		FirstID:    b.FirstID,
		LastID:     b.LastID,
		EventCount: b.Count,
	}); err != nil {
		return Batch{}, fmt.Errorf("encode header: %w", err)
	}
	for _, ev := range evs {
		if err := enc.Encode(record{Type: "event", Data: ev}); err != nil {
			return Batch{}, fmt.Errorf("encode event %d: %w", ev.ID, err)
		}
	}
	return b, nil
}
