package feed

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// StreamOption configures the SSE handler.
type StreamOption func(*streamConfig)

type streamConfig struct {
	heartbeatInterval time.Duration
	now               func() time.Time
}

// WithHeartbeatInterval overrides the interval between heartbeat events.
func WithHeartbeatInterval(interval time.Duration) StreamOption {
	return func(cfg *streamConfig) {
		cfg.heartbeatInterval = interval
	}
}

// WithNowFunc injects a custom clock, primarily for tests.
func WithNowFunc(now func() time.Time) StreamOption {
	return func(cfg *streamConfig) {
		if now != nil {
			cfg.now = now
		}
	}
}

// ParseFilter reads the subscription filter from a request:
//
//	?since=<seq>            replay after seq (Last-Event-ID works too)
//	?filter=session:<id>    only changes for one session
//	?session=<id>           same as above
func ParseFilter(r *http.Request) (Filter, error) {
	var f Filter
	q := r.URL.Query()

	since := q.Get("since")
	if since == "" {
		since = r.Header.Get("Last-Event-ID")
	}
	if since != "" {
		n, err := strconv.ParseUint(since, 10, 64)
		if err != nil {
			return f, fmt.Errorf("invalid since %q", since)
		}
		f.Since = n
	}

	if v := q.Get("filter"); v != "" {
		id, ok := strings.CutPrefix(v, "session:")
		if !ok || id == "" {
			return f, fmt.Errorf("unsupported filter %q", v)
		}
		f.SessionID = id
	}
	if v := q.Get("session"); v != "" {
		f.SessionID = v
	}
	return f, nil
}

// NewStreamHandler returns an HTTP handler that serves the feed as
// Server-Sent Events.
func NewStreamHandler(hub *Hub, opts ...StreamOption) http.Handler {
	cfg := streamConfig{
		heartbeatInterval: 30 * time.Second,
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if hub == nil {
			http.Error(w, "event stream unavailable", http.StatusServiceUnavailable)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		filter, err := ParseFilter(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		ctx := r.Context()
		changes, err := hub.Subscribe(ctx, filter)
		if err != nil {
			http.Error(w, fmt.Sprintf("subscribe failed: %v", err), http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		var heartbeat <-chan time.Time
		if cfg.heartbeatInterval > 0 {
			ticker := time.NewTicker(cfg.heartbeatInterval)
			defer ticker.Stop()
			heartbeat = ticker.C
		}

		fmt.Fprintf(w, ": stream online %s\n\n", cfg.now().UTC().Format(time.RFC3339))
		flusher.Flush()

		for {
			select {
			case <-ctx.Done():
				return
			case c, ok := <-changes:
				if !ok {
					return
				}
				if err := writeSSEEvent(w, c.Seq, c.Name(), c); err != nil {
					return
				}
				flusher.Flush()
			case <-heartbeat:
				if err := writeSSEEvent(w, 0, "heartbeat", map[string]string{
					"at": cfg.now().UTC().Format(time.RFC3339),
				}); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	})
}

func writeSSEEvent(w http.ResponseWriter, id uint64, event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if id > 0 {
		if _, err := fmt.Fprintf(w, "id: %d\n", id); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}
