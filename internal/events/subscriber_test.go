package events

import (
	"context"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/alfredjeanlab/coherence/internal/model"
)

// startTestNATS starts an embedded NATS server and returns its client URL.
func startTestNATS(t *testing.T) string {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{Host: "127.0.0.1", Port: -1})
	if err != nil {
		t.Fatalf("starting embedded NATS: %v", err)
	}
	srv.Start()
	t.Cleanup(srv.Shutdown)
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS not ready")
	}
	return srv.ClientURL()
}

func newTestPair(t *testing.T) (*NATSPublisher, *NATSSubscriber) {
	t.Helper()
	url := startTestNATS(t)
	pub, err := NewNATSPublisher(url)
	if err != nil {
		t.Fatalf("creating publisher: %v", err)
	}
	t.Cleanup(func() { pub.Close() })
	sub, err := NewNATSSubscriber(url)
	if err != nil {
		t.Fatalf("creating subscriber: %v", err)
	}
	t.Cleanup(func() { sub.Close() })
	return pub, sub
}

func TestNATSSubscriber_RelaysEvents(t *testing.T) {
	pub, sub := newTestPair(t)

	ch, cancel, err := sub.Subscribe(TopicAll)
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	defer cancel()

	ev := &model.Event{
		ID:            7,
		Type:          model.EventTaskClaimed,
		SourceAgentID: "ag-1",
		TargetTaskID:  "tk-1",
		Payload:       []byte(`{"task_type":"VERIFY"}`),
		CreatedAt:     time.Now().UTC(),
	}
	if err := pub.Publish(context.Background(), Topic(ev.Type), ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case data := <-ch:
		got, err := Decode(data)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if got.ID != 7 || got.Type != model.EventTaskClaimed || got.TargetTaskID != "tk-1" {
			t.Errorf("got %+v", got)
		}
		if string(got.Payload) != `{"task_type":"VERIFY"}` {
			t.Errorf("payload = %s", got.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestNATSSubscriber_IgnoresOtherSubjects(t *testing.T) {
	pub, sub := newTestPair(t)

	ch, cancel, err := sub.Subscribe(TopicAll)
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	defer cancel()

	_ = pub.conn.Publish("other.events.task_claimed", []byte(`{"skip":true}`))
	_ = pub.conn.Publish(Topic(model.EventClaimCreated), []byte(`{"keep":true}`))
	pub.conn.Flush()

	select {
	case data := <-ch:
		if string(data) != `{"keep":true}` {
			t.Errorf("got %s, want the coherence event", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	select {
	case data := <-ch:
		t.Errorf("unexpected extra message %s", data)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNATSSubscriber_CancelClosesChannel(t *testing.T) {
	_, sub := newTestPair(t)

	ch, cancel, err := sub.Subscribe(TopicAll)
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	cancel()
	cancel() // idempotent

	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed after cancel")
	}
}

func TestNATSSubscriber_CancelDuringBurst(t *testing.T) {
	pub, sub := newTestPair(t)

	ch, cancel, err := sub.Subscribe(TopicAll)
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 200 {
			_ = pub.conn.Publish(Topic(model.EventTaskCreated), []byte(`{}`))
		}
		pub.conn.Flush()
	}()

	cancel()
	<-done

	for range ch {
	}
}

func TestNATSSubscriber_AcceptsOptions(t *testing.T) {
	url := startTestNATS(t)
	sub, err := NewNATSSubscriber(url, nats.DisconnectErrHandler(func(*nats.Conn, error) {}))
	if err != nil {
		t.Fatalf("creating subscriber: %v", err)
	}
	defer sub.Close()
	if !sub.conn.IsConnected() {
		t.Fatal("expected subscriber to be connected")
	}
	var _ Subscriber = sub
}
