package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxFrameSize bounds a single stream line.
const maxFrameSize = 1 << 20

// Stream subscribes to the event stream and calls fn for every data frame,
// starting with the connected frame. Keepalive comments are skipped. It
// returns nil when ctx is cancelled, io.ErrUnexpectedEOF when the server
// closes the stream, or the first error returned by fn.
func (c *HTTPClient) Stream(ctx context.Context, fn func(Frame) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/events", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("opening stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxFrameSize))
		var env envelope
		if json.Unmarshal(body, &env) == nil && env.Error != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: env.Error, RequestID: env.Meta.RequestID}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), maxFrameSize)
	for sc.Scan() {
		data, ok := strings.CutPrefix(sc.Text(), "data: ")
		if !ok {
			continue
		}
		var f Frame
		if err := json.Unmarshal([]byte(data), &f); err != nil {
			return fmt.Errorf("decoding frame: %w", err)
		}
		if err := fn(f); err != nil {
			return err
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	if err := sc.Err(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("reading stream: %w", err)
	}
	return io.ErrUnexpectedEOF
}
