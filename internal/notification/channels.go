package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os/exec"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cenkalti/backoff/v4"
	"github.com/slack-go/slack"

	"github.com/leadcheck/leadcheck/internal/types"
)

// statusError is a non-2xx webhook response.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("webhook returned status %d: %s", e.code, e.body)
}

// withRetry retries op with exponential backoff. 4xx responses other than
// 429 are not retried.
func (d *Dispatcher) withRetry(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxElapsedTime = 10 * time.Second
	return backoff.Retry(func() error {
		err := op()
		var se *statusError
		if errors.As(err, &se) && se.code >= 400 && se.code < 500 && se.code != http.StatusTooManyRequests {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(max(d.retries, 0))), ctx))
}

// logNotification writes the alert to the structured log.
func (d *Dispatcher) logNotification(n *types.Notification) {
	d.log.Info("handoff notification",
		"type", n.Type,
		"submission", n.SubmissionID,
		"session", n.SessionID,
		"actor", displayName(n),
		"role", n.Role,
		"progress", n.Progress.Percentage,
		"retention", n.IsRetentionCall,
	)
}

// webhookPayload is the body POSTed to the generic webhook channel.
type webhookPayload struct {
	Event        string              `json:"event"`
	Title        string              `json:"title"`
	Notification *types.Notification `json:"notification"`
}

func (d *Dispatcher) sendWebhook(ctx context.Context, n *types.Notification, webhookURL string) error {
	return d.postJSON(ctx, webhookURL, string(n.Type), webhookPayload{
		Event:        "handoff." + string(n.Type),
		Title:        Title(n),
		Notification: n,
	})
}

// sheetRow is one spreadsheet row; column order is the field order.
type sheetRow struct {
	Timestamp    string `json:"timestamp"`
	Type         string `json:"type"`
	SubmissionID string `json:"submission_id"`
	SessionID    string `json:"session_id"`
	Agent        string `json:"agent"`
	Role         string `json:"role"`
	Progress     int    `json:"progress"`
	Label        string `json:"label"`
	Retention    bool   `json:"retention"`
}

func (d *Dispatcher) sendSheetRow(ctx context.Context, n *types.Notification, sheetURL string) error {
	return d.postJSON(ctx, sheetURL, string(n.Type), sheetRow{
		Timestamp:    n.At.UTC().Format(time.RFC3339),
		Type:         string(n.Type),
		SubmissionID: n.SubmissionID,
		SessionID:    n.SessionID,
		Agent:        displayName(n),
		Role:         string(n.Role),
		Progress:     n.Progress.Percentage,
		Label:        string(n.Progress.Label),
		Retention:    n.IsRetentionCall,
	})
}

func (d *Dispatcher) postJSON(ctx context.Context, target, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Leadcheck-Event", event)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{code: resp.StatusCode, body: string(body)}
	}
	return nil
}

// Embed colours per alert type.
var discordColors = map[types.NotificationType]int{
	types.NotifyDropped:     0xe74c3c,
	types.NotifyTransferred: 0x2ecc71,
	types.NotifyReconnected: 0x3498db,
	types.NotifyReady:       0xf1c40f,
}

// parseDiscordWebhook splits https://discord.com/api/webhooks/<id>/<token>.
func parseDiscordWebhook(raw string) (id, token string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("invalid discord webhook: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "webhooks" {
			return parts[i+1], parts[i+2], nil
		}
	}
	return "", "", fmt.Errorf("invalid discord webhook: %s", u.Redacted())
}

func buildDiscordEmbed(n *types.Notification) *discordgo.MessageEmbed {
	fields := []*discordgo.MessageEmbedField{
		{Name: "Submission", Value: n.SubmissionID, Inline: true},
		{Name: "Progress", Value: fmt.Sprintf("%d%% %s", n.Progress.Percentage, n.Progress.Label), Inline: true},
	}
	if n.Role != "" {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name: "Agent", Value: fmt.Sprintf("%s (%s)", displayName(n), n.Role), Inline: true,
		})
	}
	if n.IsRetentionCall {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Retention", Value: "yes", Inline: true})
	}
	return &discordgo.MessageEmbed{
		Title:     Title(n),
		Color:     discordColors[n.Type],
		Timestamp: n.At.UTC().Format(time.RFC3339),
		Footer: &discordgo.MessageEmbedFooter{
			Text: "leadcheck | " + n.SessionID,
		},
		Fields: fields,
	}
}

func (d *Dispatcher) sendDiscord(ctx context.Context, n *types.Notification, webhookURL string) error {
	id, token, err := parseDiscordWebhook(webhookURL)
	if err != nil {
		return backoff.Permanent(err)
	}
	_, err = d.discord.WebhookExecute(id, token, false, &discordgo.WebhookParams{
		Embeds: []*discordgo.MessageEmbed{buildDiscordEmbed(n)},
	}, discordgo.WithContext(ctx))
	return err
}

func buildSlackMessage(n *types.Notification) *slack.WebhookMessage {
	color := fmt.Sprintf("#%06x", discordColors[n.Type])
	return &slack.WebhookMessage{
		Text: Title(n),
		Attachments: []slack.Attachment{{
			Color:  color,
			Text:   Body(n),
			Footer: "leadcheck | " + n.SessionID,
			Ts:     json.Number(fmt.Sprintf("%d", n.At.Unix())),
		}},
	}
}

func (d *Dispatcher) sendSlack(ctx context.Context, n *types.Notification, webhookURL string) error {
	return slack.PostWebhookCustomHTTPContext(ctx, webhookURL, d.httpClient, buildSlackMessage(n))
}

func (d *Dispatcher) sendEmail(ctx context.Context, n *types.Notification, to string) error {
	subject := "[leadcheck] " + Title(n)
	if err := d.mailer(ctx, to, subject, Body(n)); err != nil {
		return backoff.Permanent(err)
	}
	return nil
}

// execMail sends through the system mail command.
func execMail(ctx context.Context, to, subject, body string) error {
	cmd := exec.CommandContext(ctx, "mail", "-s", subject, to)
	cmd.Stdin = strings.NewReader(body)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("mail command failed: %w", err)
	}
	return nil
}
