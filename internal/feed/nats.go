package feed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/leadcheck/leadcheck/internal/eventbus"
)

// NATSRelay relays changes through the JetStream stream defined by the
// event bus.
type NATSRelay struct {
	nc   *nats.Conn
	js   nats.JetStreamContext
	owns bool
	log  *slog.Logger
}

// NewNATSRelay connects to url and makes sure the stream exists.
func NewNATSRelay(url, token string, logger *slog.Logger) (*NATSRelay, error) {
	connectOpts := []nats.Option{
		nats.Name("leadcheck-feed"),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
	}
	if token != "" {
		connectOpts = append(connectOpts, nats.Token(token))
	}
	nc, err := nats.Connect(url, connectOpts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	r, err := NewNATSRelayFromConn(nc, logger)
	if err != nil {
		nc.Close()
		return nil, err
	}
	r.owns = true
	return r, nil
}

// NewNATSRelayFromConn wraps an existing connection; Close leaves it open.
func NewNATSRelayFromConn(nc *nats.Conn, logger *slog.Logger) (*NATSRelay, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("JetStream context: %w", err)
	}
	if err := eventbus.EnsureStreams(js); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &NATSRelay{nc: nc, js: js, log: logger}, nil
}

func (r *NATSRelay) Name() string { return "nats" }

func (r *NATSRelay) Publish(ctx context.Context, c Change) error {
	if c.Event == nil {
		return nil
	}
	data, err := encodeChange(c)
	if err != nil {
		return err
	}
	_, err = r.js.Publish(eventbus.SubjectForEvent(c.Event.Type), data, nats.Context(ctx))
	return err
}

// Run subscribes with an ephemeral consumer that starts at new messages.
func (r *NATSRelay) Run(ctx context.Context, deliver func(Change)) error {
	sub, err := r.js.Subscribe(eventbus.SubjectPrefix+">", func(msg *nats.Msg) {
		c, err := decodeChange(msg.Data)
		if err != nil {
			r.log.Warn("feed nats: bad message", "subject", msg.Subject, "error", err)
			return
		}
		deliver(c)
	}, nats.DeliverNew(), nats.AckNone())
	if err != nil {
		return fmt.Errorf("jetstream subscribe: %w", err)
	}
	<-ctx.Done()
	return sub.Unsubscribe()
}

func (r *NATSRelay) Close() error {
	if r.owns {
		r.nc.Close()
	}
	return nil
}
