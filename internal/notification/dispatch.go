// Package notification delivers handoff alerts (dropped call, transfer,
// reconnect, ready for another licensed agent) to the channels configured
// for each alert type.
//
// Routes map an alert type to channels:
//
//	log              structured log line
//	webhook          JSON POST to contacts.webhook
//	sheet            flat JSON row POSTed to contacts.sheet (spreadsheet intake)
//	discord          Discord webhook (contacts.discord)
//	slack            Slack incoming webhook (contacts.slack)
//	email:<name>     system mail to contacts.<name>_email or contacts.<name>
//
// Every alert is reserved in the storage ledger under its idempotency key
// before any channel is tried, so a committed transition alerts once even if
// the caller retries.
package notification

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/leadcheck/leadcheck/internal/types"
)

// DefaultDedupeWindow buckets alerts of the same kind, session and actor.
const DefaultDedupeWindow = 60 * time.Second

// Config holds routes and contacts.
type Config struct {
	Routes       map[string][]string `mapstructure:"routes" json:"routes"`
	Contacts     map[string]string   `mapstructure:"contacts" json:"contacts"`
	DedupeWindow time.Duration       `mapstructure:"dedupe_window" json:"dedupe_window"`
}

// DispatchResult records the outcome of a notification dispatch.
type DispatchResult struct {
	Channel string `json:"channel"` // e.g., "email:supervisor", "webhook"
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Ledger records which alerts have been sent.
type Ledger interface {
	// ReserveNotification returns false if key was already reserved.
	ReserveNotification(ctx context.Context, key string, at time.Time) (bool, error)
}

// Mailer sends a plain-text email.
type Mailer func(ctx context.Context, to, subject, body string) error

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithHTTPClient overrides the client used for webhook channels.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.httpClient = c }
}

// WithMailer replaces the system mail command.
func WithMailer(m Mailer) Option {
	return func(d *Dispatcher) { d.mailer = m }
}

// WithRetries sets how many times a failed channel is retried.
func WithRetries(n int) Option {
	return func(d *Dispatcher) { d.retries = n }
}

// WithDiscordSession overrides the discordgo session used for webhook
// execution.
func WithDiscordSession(s *discordgo.Session) Option {
	return func(d *Dispatcher) { d.discord = s }
}

// Dispatcher sends handoff alerts. It implements eventbus.Notifier.
type Dispatcher struct {
	config     Config
	ledger     Ledger
	log        *slog.Logger
	httpClient *http.Client
	mailer     Mailer
	discord    *discordgo.Session
	retries    int
}

// NewDispatcher creates a dispatcher. A nil ledger disables deduplication.
func NewDispatcher(cfg Config, ledger Ledger, logger *slog.Logger, opts ...Option) *Dispatcher {
	if cfg.DedupeWindow <= 0 {
		cfg.DedupeWindow = DefaultDedupeWindow
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	d := &Dispatcher{
		config:     cfg,
		ledger:     ledger,
		log:        logger,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		mailer:     execMail,
		retries:    2,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.discord == nil {
		// Webhook execution needs no bot token.
		d.discord, _ = discordgo.New("")
	}
	d.discord.Client = d.httpClient
	return d
}

// IdempotencyKey identifies an alert. An alert raised by a committed
// transition is keyed on that transition's audit event, so a retry of the
// same alert is suppressed while a later drop of the same session still
// goes out. Without an event id the key is type, session, actor and the
// time bucket the alert falls in.
func IdempotencyKey(n *types.Notification, window time.Duration) string {
	if n.EventID != 0 {
		return fmt.Sprintf("%s|%s|event:%d", n.Type, n.SessionID, n.EventID)
	}
	if window <= 0 {
		window = DefaultDedupeWindow
	}
	bucket := n.At.UnixMilli() / window.Milliseconds()
	return fmt.Sprintf("%s|%s|%s|%d", n.Type, n.SessionID, n.ActorID, bucket)
}

// Notify dispatches n and reports every failed channel as a warning. It
// only returns an error when n is unusable.
func (d *Dispatcher) Notify(ctx context.Context, n *types.Notification) ([]string, error) {
	results, err := d.Dispatch(ctx, n)
	if err != nil {
		return nil, err
	}
	var warnings []string
	for _, r := range results {
		if !r.Success {
			warnings = append(warnings, fmt.Sprintf("notify %s via %s: %s", n.Type, r.Channel, r.Error))
		}
	}
	return warnings, nil
}

// Dispatch sends n to every channel routed for its type. A nil result with
// a nil error means the alert was already sent.
func (d *Dispatcher) Dispatch(ctx context.Context, n *types.Notification) ([]DispatchResult, error) {
	if n == nil || n.Type == "" || n.SessionID == "" {
		return nil, fmt.Errorf("notification: type and session are required")
	}
	if n.At.IsZero() {
		n.At = time.Now().UTC()
	}

	var results []DispatchResult
	if d.ledger != nil {
		key := IdempotencyKey(n, d.config.DedupeWindow)
		reserved, err := d.ledger.ReserveNotification(ctx, key, n.At)
		switch {
		case err != nil:
			// Fail open: send without a reservation.
			d.log.Warn("notification ledger unavailable", "key", key, "error", err)
			results = append(results, DispatchResult{Channel: "ledger", Error: err.Error()})
		case !reserved:
			d.log.Debug("notification already sent", "key", key)
			return nil, nil
		}
	}

	routes := d.getRoutes(string(n.Type))
	for _, route := range routes {
		results = append(results, d.dispatchToChannel(ctx, n, route))
	}
	return results, nil
}

// getRoutes returns the channels for an alert type.
func (d *Dispatcher) getRoutes(routeKey string) []string {
	if d.config.Routes == nil {
		return []string{"log"}
	}
	routes, ok := d.config.Routes[routeKey]
	if !ok {
		routes, ok = d.config.Routes["default"]
		if !ok {
			return []string{"log"}
		}
	}
	return routes
}

// dispatchToChannel sends a notification to a specific channel.
func (d *Dispatcher) dispatchToChannel(ctx context.Context, n *types.Notification, channel string) DispatchResult {
	result := DispatchResult{Channel: channel}

	var err error
	switch {
	case channel == "log":
		d.logNotification(n)

	case strings.HasPrefix(channel, "email:"):
		recipient := strings.TrimPrefix(channel, "email:")
		to := d.resolveContact(recipient, "email")
		if to == "" {
			err = fmt.Errorf("no email configured for %s", recipient)
			break
		}
		err = d.withRetry(ctx, func() error { return d.sendEmail(ctx, n, to) })

	case channel == "webhook", channel == "sheet", channel == "discord", channel == "slack":
		url := d.resolveContact(channel, "")
		if url == "" {
			err = fmt.Errorf("no %s URL configured", channel)
			break
		}
		send := map[string]func(context.Context, *types.Notification, string) error{
			"webhook": d.sendWebhook,
			"sheet":   d.sendSheetRow,
			"discord": d.sendDiscord,
			"slack":   d.sendSlack,
		}[channel]
		err = d.withRetry(ctx, func() error { return send(ctx, n, url) })

	default:
		err = fmt.Errorf("unknown channel type: %s", channel)
	}

	result.Success = err == nil
	if err != nil {
		result.Error = err.Error()
		d.log.Warn("notification channel failed", "channel", channel, "type", n.Type, "session", n.SessionID, "error", err)
	}
	return result
}

// resolveContact looks up a contact from the configuration.
func (d *Dispatcher) resolveContact(name, contactType string) string {
	if d.config.Contacts == nil {
		return ""
	}
	if contactType != "" {
		key := fmt.Sprintf("%s_%s", name, contactType)
		if val, ok := d.config.Contacts[key]; ok {
			return val
		}
	}
	if val, ok := d.config.Contacts[name]; ok {
		return val
	}
	return ""
}

// Title is the one-line headline for an alert.
func Title(n *types.Notification) string {
	who := n.ActorName
	if who == "" {
		who = n.ActorID
	}
	switch n.Type {
	case types.NotifyDropped:
		return fmt.Sprintf("Call dropped on %s (%s)", n.SubmissionID, who)
	case types.NotifyTransferred:
		return fmt.Sprintf("%s transferred %s to a licensed agent", who, n.SubmissionID)
	case types.NotifyReconnected:
		return fmt.Sprintf("%s reconnected dropped call %s", who, n.SubmissionID)
	case types.NotifyReady:
		return fmt.Sprintf("%s needs another licensed agent (%s deferred)", n.SubmissionID, who)
	}
	return fmt.Sprintf("%s: %s", n.Type, n.SubmissionID)
}

// Body is the multi-line description shared by text channels.
func Body(n *types.Notification) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Submission: %s\n", n.SubmissionID)
	fmt.Fprintf(&b, "Session: %s\n", n.SessionID)
	if n.Role != "" {
		fmt.Fprintf(&b, "Agent: %s (%s)\n", displayName(n), n.Role)
	}
	fmt.Fprintf(&b, "Progress: %d%% %s\n", n.Progress.Percentage, n.Progress.Label)
	if n.IsRetentionCall {
		b.WriteString("Retention call\n")
	}
	fmt.Fprintf(&b, "At: %s\n", n.At.UTC().Format(time.RFC3339))
	return b.String()
}

func displayName(n *types.Notification) string {
	if n.ActorName != "" {
		return n.ActorName
	}
	return n.ActorID
}
