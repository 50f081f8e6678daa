package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/coherence/internal/client"
	"github.com/alfredjeanlab/coherence/internal/events"
	"github.com/alfredjeanlab/coherence/internal/model"
)

const (
	reconnectMin = time.Second
	reconnectMax = 30 * time.Second
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow network events as they happen",
	Long: `Follow network events. By default events are read from the gateway's
event stream. With a NATS URL (--nats-url, COHERENCE_NATS_URL or the
profile) events are read straight from the bus instead.`,
	GroupID: "views",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		types, _ := cmd.Flags().GetStringSlice("type")
		natsURL, _ := cmd.Flags().GetString("nats-url")
		if natsURL == "" {
			natsURL = current.NATSURL
		}
		if sse, _ := cmd.Flags().GetBool("sse"); sse {
			natsURL = ""
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		emit := frameWriter(cmd.OutOrStdout(), newEventFilter(types))
		if natsURL != "" {
			return watchNATS(ctx, natsURL, emit)
		}
		return watchSSE(ctx, apiClient, emit)
	},
}

// eventFilter matches event types; an empty filter matches everything.
type eventFilter map[string]bool

func newEventFilter(types []string) eventFilter {
	f := make(eventFilter, len(types))
	for _, t := range types {
		f[t] = true
	}
	return f
}

func (f eventFilter) match(eventType string) bool {
	return len(f) == 0 || f[eventType]
}

// frameWriter prints frames accepted by filter as text or JSON lines.
func frameWriter(w io.Writer, filter eventFilter) func(client.Frame) error {
	return func(f client.Frame) error {
		if f.Type == "event" && !filter.match(f.EventType) {
			return nil
		}
		if jsonOutput {
			data, err := json.Marshal(f)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(w, string(data))
			return err
		}
		_, err := fmt.Fprintln(w, formatFrame(f))
		return err
	}
}

// watchSSE follows the gateway stream, reconnecting with backoff when the
// connection drops. API errors such as a closed stream end the watch.
func watchSSE(ctx context.Context, c *client.HTTPClient, emit func(client.Frame) error) error {
	delay := reconnectMin
	for {
		connected := false
		err := c.Stream(ctx, func(f client.Frame) error {
			if f.Type == "connected" {
				connected = true
			}
			return emit(f)
		})
		if ctx.Err() != nil {
			return nil
		}
		var apiErr *client.APIError
		if errors.As(err, &apiErr) {
			return err
		}
		if connected {
			delay = reconnectMin
		}
		slog.Warn("event stream lost, reconnecting", "error", err, "retry_in", delay)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay = min(delay*2, reconnectMax)
	}
}

// watchNATS reads events from the bus.
func watchNATS(ctx context.Context, natsURL string, emit func(client.Frame) error) error {
	sub, err := events.NewNATSSubscriber(natsURL,
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats: disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			slog.Info("nats: reconnected")
		}),
	)
	if err != nil {
		return fmt.Errorf("connecting to NATS: %w", err)
	}
	defer sub.Close()

	ch, cancel, err := sub.Subscribe(events.TopicAll)
	if err != nil {
		return fmt.Errorf("subscribing to events: %w", err)
	}
	defer cancel()

	if err := emit(client.Frame{Type: "connected", RequestID: "nats"}); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			ev, err := events.Decode(data)
			if err != nil {
				slog.Warn("ignoring undecodable event", "error", err)
				continue
			}
			if err := emit(frameFromEvent(ev)); err != nil {
				return err
			}
		}
	}
}

// frameFromEvent shapes a bus event like a stream frame.
func frameFromEvent(ev *model.Event) client.Frame {
	return client.Frame{
		Type:          "event",
		ID:            ev.ID,
		EventType:     ev.Type,
		Payload:       ev.Payload,
		SourceAgentID: ev.SourceAgentID,
		TargetTaskID:  ev.TargetTaskID,
		TargetClaimID: ev.TargetClaimID,
		CreatedAt:     ev.CreatedAt,
	}
}

func init() {
	watchCmd.Flags().StringSlice("type", nil, "only show these event types (e.g. task_claimed)")
	watchCmd.Flags().String("nats-url", "", "read events from this NATS server")
	watchCmd.Flags().Bool("sse", false, "use the gateway stream even when a NATS URL is configured")
}
