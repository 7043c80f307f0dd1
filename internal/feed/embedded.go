package feed

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

// DefaultEmbeddedPort is the client port of the embedded NATS server.
const DefaultEmbeddedPort = 4222

// EmbeddedConfig configures an in-process JetStream server for the
// nats-embedded relay. Peers connect to it with feed.relay=nats.
type EmbeddedConfig struct {
	Host     string // Default 127.0.0.1
	Port     int    // -1 picks a free port
	StoreDir string // JetStream file storage; a temp dir when empty
	Token    string
}

// EmbeddedNATS is a JetStream server running inside lc serve.
type EmbeddedNATS struct {
	server  *server.Server
	conn    *nats.Conn
	tempDir string
}

// StartEmbeddedNATS starts the server and an in-process connection to it.
func StartEmbeddedNATS(cfg EmbeddedConfig) (*EmbeddedNATS, error) {
	e := &EmbeddedNATS{}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultEmbeddedPort
	}
	if cfg.StoreDir == "" {
		dir, err := os.MkdirTemp("", "leadcheck-nats-*")
		if err != nil {
			return nil, fmt.Errorf("create NATS store dir: %w", err)
		}
		cfg.StoreDir = dir
		e.tempDir = dir
	} else if err := os.MkdirAll(cfg.StoreDir, 0o700); err != nil {
		return nil, fmt.Errorf("create NATS store dir: %w", err)
	}

	opts := &server.Options{
		ServerName:         "leadcheck",
		Host:               cfg.Host,
		Port:               cfg.Port,
		JetStream:          true,
		JetStreamMaxMemory: 64 << 20,
		JetStreamMaxStore:  256 << 20,
		StoreDir:           cfg.StoreDir,
		NoLog:              true,
		NoSigs:             true,
	}
	if cfg.Token != "" {
		opts.Authorization = cfg.Token
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		e.cleanup()
		return nil, fmt.Errorf("create NATS server: %w", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		e.cleanup()
		return nil, fmt.Errorf("NATS server not ready within 10s")
	}
	e.server = ns

	connectOpts := []nats.Option{nats.Name("leadcheck-embedded")}
	if cfg.Token != "" {
		connectOpts = append(connectOpts, nats.Token(cfg.Token))
	}
	nc, err := nats.Connect(ns.ClientURL(), connectOpts...)
	if err != nil {
		e.Shutdown()
		return nil, fmt.Errorf("in-process NATS connection: %w", err)
	}
	e.conn = nc
	return e, nil
}

// Conn returns the in-process connection.
func (e *EmbeddedNATS) Conn() *nats.Conn { return e.conn }

// ClientURL is the address peers should use.
func (e *EmbeddedNATS) ClientURL() string { return e.server.ClientURL() }

// Relay returns a relay over the in-process connection.
func (e *EmbeddedNATS) Relay(logger *slog.Logger) (*NATSRelay, error) {
	return NewNATSRelayFromConn(e.conn, logger)
}

// Shutdown drains the connection and stops the server.
func (e *EmbeddedNATS) Shutdown() {
	if e.conn != nil {
		_ = e.conn.Drain()
		e.conn.Close()
	}
	if e.server != nil {
		e.server.Shutdown()
		e.server.WaitForShutdown()
	}
	e.cleanup()
}

func (e *EmbeddedNATS) cleanup() {
	if e.tempDir != "" {
		_ = os.RemoveAll(e.tempDir)
	}
}

// EmbeddedHealth is a snapshot of the embedded server.
type EmbeddedHealth struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
	InMsgs      int64  `json:"in_msgs"`
	OutMsgs     int64  `json:"out_msgs"`
	Streams     int    `json:"streams,omitempty"`
	Messages    uint64 `json:"messages,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Health reports server counters.
func (e *EmbeddedNATS) Health() EmbeddedHealth {
	if e.server == nil {
		return EmbeddedHealth{Status: "stopped"}
	}
	varz, err := e.server.Varz(nil)
	if err != nil {
		return EmbeddedHealth{Status: "error", Error: err.Error()}
	}
	h := EmbeddedHealth{
		Status:      "running",
		Connections: int(varz.Connections),
		InMsgs:      varz.InMsgs,
		OutMsgs:     varz.OutMsgs,
	}
	if jsz, err := e.server.Jsz(nil); err == nil && jsz != nil {
		h.Streams = int(jsz.Streams)
		h.Messages = uint64(jsz.Messages)
	}
	return h
}
