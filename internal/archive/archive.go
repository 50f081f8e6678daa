package archive

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// CursorName is the export cursor the scheduler advances.
const CursorName = "archive"

// DefaultBatchSize bounds the number of events per object.
const DefaultBatchSize = 1000

// Destination is the interface for an archive target.
type Destination interface {
	// Write stores one named JSONL batch.
	Write(ctx context.Context, name string, data []byte) error
}

// Scheduler periodically exports new events to every destination. The
// cursor only advances once all destinations accepted a batch, so a failed
// write is retried on the next run and a batch may be written twice.
type Scheduler struct {
	src          Source
	destinations []Destination
	interval     time.Duration
	batchSize    int
	logger       *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler that exports from src to the given
// destinations at the specified interval.
func NewScheduler(src Source, destinations []Destination, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		src:          src,
		destinations: destinations,
		interval:     interval,
		batchSize:    DefaultBatchSize,
		logger:       logger,
	}
}

// SetBatchSize overrides DefaultBatchSize.
func (s *Scheduler) SetBatchSize(n int) {
	if n > 0 {
		s.batchSize = n
	}
}

// Start begins periodic export. It runs once immediately, then on each tick,
// until ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Stop cancels the scheduler and waits for the current run (if any) to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	s.runLogged(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runLogged(ctx)
		}
	}
}

func (s *Scheduler) runLogged(ctx context.Context) {
	n, err := s.RunOnce(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("archive run failed", "error", err)
		}
		return
	}
	if n > 0 {
		s.logger.Info("archive completed", "events", n, "destinations", len(s.destinations))
	}
}

// RunOnce exports every event past the cursor and returns how many were
// archived.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	cursor, err := s.src.GetExportCursor(ctx, CursorName)
	if err != nil {
		return 0, fmt.Errorf("get export cursor: %w", err)
	}

	total := 0
	for {
		var buf bytes.Buffer
		batch, err := ExportEvents(ctx, s.src, cursor, s.batchSize, &buf)
		if err != nil {
			return total, err
		}
		if batch.Count == 0 {
			return total, nil
		}

		for i, dest := range s.destinations {
			if err := dest.Write(ctx, batch.Name(), buf.Bytes()); err != nil {
				return total, fmt.Errorf("destination %d: write %s: %w", i, batch.Name(), err)
			}
		}
		if err := s.src.SetExportCursor(ctx, CursorName, batch.LastID); err != nil {
			return total, fmt.Errorf("set export cursor: %w", err)
		}
		cursor = batch.LastID
		total += batch.Count

		if batch.Count < s.batchSize {
			return total, nil
		}
	}
}
