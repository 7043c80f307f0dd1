// Package feed broadcasts committed session changes to watching clients.
//
// The feed only tells clients that something changed. A subscriber that
// falls behind has its backlog collapsed into a single reset, and a replay
// request older than the retained history yields one too; in both cases the
// client re-fetches, since the stored session is the source of truth.
package feed

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/leadcheck/leadcheck/internal/eventbus"
)

// Defaults for Options.
const (
	DefaultBuffer  = 64
	DefaultHistory = 512
)

// Change is one entry in the feed. Seq is local to the hub that delivered it
// and increases by one per change.
type Change struct {
	Seq    uint64          `json:"seq"`
	Origin string          `json:"origin,omitempty"`
	Reset  bool            `json:"reset,omitempty"`
	Event  *eventbus.Event `json:"event,omitempty"`
}

// Name is the SSE event name for the change.
func (c Change) Name() string {
	if c.Reset || c.Event == nil {
		return "reset"
	}
	return string(c.Event.Type)
}

// Filter selects the changes a subscriber receives.
type Filter struct {
	SessionID string // Empty matches every session
	Since     uint64 // Replay retained changes after this sequence number
}

// Match reports whether c passes the filter. Resets always pass.
func (f Filter) Match(c Change) bool {
	if c.Reset || f.SessionID == "" {
		return true
	}
	return c.Event != nil && c.Event.SessionID == f.SessionID
}

// Options configures a Hub.
type Options struct {
	Buffer  int    // Per-subscriber channel capacity
	History int    // Changes retained for replay
	Origin  string // Instance id stamped on locally published changes
	Relay   Relay  // Optional cross-instance relay
	Logger  *slog.Logger
}

// Hub fans changes out to subscribers without blocking the publisher.
type Hub struct {
	mu      sync.RWMutex
	subs    map[uint64]*subscriber
	nextID  uint64
	seq     uint64
	history []Change
	histCap int
	buffer  int
	origin  string
	relay   Relay
	log     *slog.Logger
	dropped atomic.Uint64
}

type subscriber struct {
	ch     chan Change
	filter Filter
}

// NewHub constructs a hub. A zero Options value gives a local-only hub.
func NewHub(opts Options) *Hub {
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultBuffer
	}
	if opts.History <= 0 {
		opts.History = DefaultHistory
	}
	if opts.Origin == "" {
		opts.Origin = uuid.NewString()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Hub{
		subs:    make(map[uint64]*subscriber),
		histCap: opts.History,
		buffer:  opts.Buffer,
		origin:  opts.Origin,
		relay:   opts.Relay,
		log:     opts.Logger,
	}
}

// Origin returns the id this hub stamps on its own changes.
func (h *Hub) Origin() string { return h.origin }

// Publish implements eventbus.Publisher. The change is delivered locally
// first and then handed to the relay; a relay failure only costs other
// instances their push.
func (h *Hub) Publish(ctx context.Context, event *eventbus.Event) {
	if event == nil {
		return
	}
	c := h.deliver(event, h.origin)
	if h.relay == nil {
		return
	}
	if err := h.relay.Publish(ctx, c); err != nil {
		h.log.Warn("feed relay publish failed", "relay", h.relay.Name(), "session", event.SessionID, "error", err)
	}
}

// Run pumps changes from the relay into the hub until ctx is cancelled.
// Changes this hub published itself are skipped.
func (h *Hub) Run(ctx context.Context) error {
	if h.relay == nil {
		<-ctx.Done()
		return nil
	}
	return h.relay.Run(ctx, func(c Change) {
		if c.Origin == h.origin || c.Event == nil {
			return
		}
		h.deliver(c.Event, c.Origin)
	})
}

func (h *Hub) deliver(event *eventbus.Event, origin string) Change {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.seq++
	c := Change{Seq: h.seq, Origin: origin, Event: event}
	h.history = append(h.history, c)
	if len(h.history) > h.histCap {
		h.history = append(h.history[:0:0], h.history[len(h.history)-h.histCap:]...)
	}

	for _, s := range h.subs {
		if !s.filter.Match(c) {
			continue
		}
		select {
		case s.ch <- c:
		default:
			h.dropped.Add(1)
			h.lagLocked(s)
		}
	}
	return c
}

// lagLocked replaces a full subscriber's backlog with a reset at the current
// sequence, so the last change it hears about is never older than the hub.
// Only deliver sends on subscriber channels, and it holds h.mu, so the
// drained channel has room for the reset.
func (h *Hub) lagLocked(s *subscriber) {
	for drained := false; !drained; {
		select {
		case <-s.ch:
		default:
			drained = true
		}
	}
	select {
	case s.ch <- Change{Seq: h.seq, Origin: h.origin, Reset: true}:
	default:
	}
}

// Subscribe registers a listener until ctx is done, at which point the
// channel is closed. With f.Since set, retained changes after that sequence
// are queued first; if the hub no longer holds them the first change is a
// reset.
func (h *Hub) Subscribe(ctx context.Context, f Filter) (<-chan Change, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.mu.Lock()
	replay := h.replayLocked(f)
	ch := make(chan Change, h.buffer+len(replay))
	for _, c := range replay {
		ch <- c
	}
	h.nextID++
	id := h.nextID
	h.subs[id] = &subscriber{ch: ch, filter: f}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, id)
		close(ch)
		h.mu.Unlock()
	}()

	return ch, nil
}

func (h *Hub) replayLocked(f Filter) []Change {
	if f.Since == 0 || f.Since == h.seq {
		return nil
	}
	oldest := h.seq + 1
	if len(h.history) > 0 {
		oldest = h.history[0].Seq
	}
	// A gap before the retained history, or a sequence from another hub
	// generation, cannot be replayed.
	if f.Since+1 < oldest || f.Since > h.seq {
		return []Change{{Seq: h.seq, Origin: h.origin, Reset: true}}
	}
	var out []Change
	for _, c := range h.history {
		if c.Seq > f.Since && f.Match(c) {
			out = append(out, c)
		}
	}
	return out
}

// Stats is a point-in-time view of the hub.
type Stats struct {
	Subscribers int    `json:"subscribers"`
	Seq         uint64 `json:"seq"`
	Retained    int    `json:"retained"`
	Dropped     uint64 `json:"dropped"`
}

// Stats returns current counters.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Stats{
		Subscribers: len(h.subs),
		Seq:         h.seq,
		Retained:    len(h.history),
		Dropped:     h.dropped.Load(),
	}
}
