package archive

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/alfredjeanlab/coherence/internal/model"
)

// mockSource is a minimal in-memory event log for archive tests.
type mockSource struct {
	mu      sync.Mutex
	events  []*model.Event
	cursors map[string]int64
	listErr error
}

func newMockSource(n int) *mockSource {
	m := &mockSource{cursors: make(map[string]int64)}
	for range n {
		m.add(model.EventTaskCreated)
	}
	return m
}

func (m *mockSource) add(typ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := int64(len(m.events) + 1)
	m.events = append(m.events, &model.Event{
		ID:        id,
		Type:      typ,
		Payload:   json.RawMessage(`{"n":` + itoa(id) + `}`),
		CreatedAt: time.Unix(1700000000+id, 0).UTC(),
	})
}

func itoa(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func (m *mockSource) ListEventsAfter(_ context.Context, afterID int64, limit int) ([]*model.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*model.Event
	for _, e := range m.events {
		if e.ID > afterID && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockSource) GetExportCursor(_ context.Context, name string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursors[name], nil
}

func (m *mockSource) SetExportCursor(_ context.Context, name string, eventID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursors[name] = eventID
	return nil
}

func (m *mockSource) cursor() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursors[CursorName]
}

// mockDestination records every batch written to it.
type mockDestination struct {
	mu    sync.Mutex
	names []string
	data  map[string][]byte
	fail  bool
}

var errDestinationDown = errors.New("destination down")

func (d *mockDestination) Write(_ context.Context, name string, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail {
		return errDestinationDown
	}
	if d.data == nil {
		d.data = make(map[string][]byte)
	}
	d.names = append(d.names, name)
	d.data[name] = append([]byte(nil), data...)
	return nil
}

func (d *mockDestination) written() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.names...)
}

func (d *mockDestination) setFail(fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = fail
}
