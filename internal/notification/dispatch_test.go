package notification

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leadcheck/leadcheck/internal/storage/sqlite"
	"github.com/leadcheck/leadcheck/internal/storage/sqlstore"
	"github.com/leadcheck/leadcheck/internal/types"
)

type mapLedger struct {
	mu   sync.Mutex
	keys map[string]bool
	err  error
}

func (l *mapLedger) ReserveNotification(_ context.Context, key string, _ time.Time) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.keys == nil {
		l.keys = map[string]bool{}
	}
	if l.keys[key] {
		return false, nil
	}
	l.keys[key] = true
	return true, nil
}

func sample(typ types.NotificationType) *types.Notification {
	return &types.Notification{
		Type:         typ,
		SessionID:    "vs-0001",
		SubmissionID: "sub-42",
		ActorID:      "ba-1",
		ActorName:    "Bea Buffer",
		Role:         types.RoleBuffer,
		Progress:     types.ComputeProgress(26, 34),
		At:           time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestGetRoutes(t *testing.T) {
	d := NewDispatcher(Config{}, nil, nil)
	if got := d.getRoutes("dropped"); len(got) != 1 || got[0] != "log" {
		t.Errorf("no config routes = %v, want [log]", got)
	}

	d = NewDispatcher(Config{Routes: map[string][]string{
		"default": {"webhook"},
		"dropped": {"slack", "email:supervisor"},
	}}, nil, nil)
	if got := d.getRoutes("dropped"); len(got) != 2 {
		t.Errorf("dropped routes = %v", got)
	}
	if got := d.getRoutes("ready"); len(got) != 1 || got[0] != "webhook" {
		t.Errorf("fallback routes = %v, want [webhook]", got)
	}

	d = NewDispatcher(Config{Routes: map[string][]string{"dropped": {"slack"}}}, nil, nil)
	if got := d.getRoutes("ready"); len(got) != 1 || got[0] != "log" {
		t.Errorf("missing default = %v, want [log]", got)
	}
}

func TestIdempotencyKey(t *testing.T) {
	n := sample(types.NotifyDropped)
	k1 := IdempotencyKey(n, time.Minute)
	if !strings.HasPrefix(k1, "dropped|vs-0001|ba-1|") {
		t.Errorf("key = %q", k1)
	}

	later := *n
	later.At = n.At.Add(30 * time.Second)
	if IdempotencyKey(&later, time.Minute) != k1 {
		t.Error("same bucket should give the same key")
	}
	later.At = n.At.Add(61 * time.Second)
	if IdempotencyKey(&later, time.Minute) == k1 {
		t.Error("next bucket should give a new key")
	}
	other := *n
	other.Type = types.NotifyTransferred
	if IdempotencyKey(&other, time.Minute) == k1 {
		t.Error("different type should give a new key")
	}
}

func TestIdempotencyKeyUsesEventID(t *testing.T) {
	first := sample(types.NotifyDropped)
	first.EventID = 7
	second := *first
	second.EventID = 9
	second.At = first.At.Add(5 * time.Second)

	if IdempotencyKey(first, time.Minute) == IdempotencyKey(&second, time.Minute) {
		t.Error("two transitions in one bucket should give different keys")
	}
	retry := *first
	retry.At = first.At.Add(90 * time.Second)
	if IdempotencyKey(first, time.Minute) != IdempotencyKey(&retry, time.Minute) {
		t.Error("a retry of the same transition should reuse its key across buckets")
	}

	ledger := &mapLedger{}
	d := NewDispatcher(Config{}, ledger, nil)
	ctx := context.Background()
	for i, n := range []*types.Notification{first, &second, &retry} {
		results, err := d.Dispatch(ctx, n)
		if err != nil {
			t.Fatalf("Dispatch #%d: %v", i+1, err)
		}
		if sent := results != nil; sent != (i < 2) {
			t.Errorf("Dispatch #%d sent = %v", i+1, sent)
		}
	}
}

func TestDispatchDeduplicates(t *testing.T) {
	ledger := &mapLedger{}
	d := NewDispatcher(Config{}, ledger, nil)
	ctx := context.Background()

	results, err := d.Dispatch(ctx, sample(types.NotifyDropped))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(results) != 1 || !results[0].Success || results[0].Channel != "log" {
		t.Fatalf("results = %+v", results)
	}

	results, err = d.Dispatch(ctx, sample(types.NotifyDropped))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if results != nil {
		t.Fatalf("duplicate dispatch sent again: %+v", results)
	}
}

func TestDispatchLedgerInStorage(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.Open(ctx, sqlite.MemoryPath, sqlstore.Options{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	var sent atomic.Int32
	d := NewDispatcher(Config{
		Routes:   map[string][]string{"default": {"email:supervisor"}},
		Contacts: map[string]string{"supervisor_email": "floor@example.com"},
	}, store, nil, WithMailer(func(context.Context, string, string, string) error {
		sent.Add(1)
		return nil
	}))

	for i := 0; i < 3; i++ {
		if _, err := d.Notify(ctx, sample(types.NotifyTransferred)); err != nil {
			t.Fatalf("Notify: %v", err)
		}
	}
	if sent.Load() != 1 {
		t.Fatalf("sent %d emails, want 1", sent.Load())
	}
}

func TestDispatchLedgerFailureStillSends(t *testing.T) {
	d := NewDispatcher(Config{}, &mapLedger{err: errors.New("db locked")}, nil)
	warnings, err := d.Notify(context.Background(), sample(types.NotifyReady))
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "ledger") {
		t.Fatalf("warnings = %v", warnings)
	}
}

func TestDispatchRejectsIncomplete(t *testing.T) {
	d := NewDispatcher(Config{}, nil, nil)
	if _, err := d.Dispatch(context.Background(), &types.Notification{Type: types.NotifyDropped}); err == nil {
		t.Fatal("expected error without session id")
	}
	if _, err := d.Dispatch(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil notification")
	}
}

func TestWebhookAndSheet(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies = map[string][]byte{}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Leadcheck-Event") != "dropped" {
			t.Errorf("event header = %q", r.Header.Get("X-Leadcheck-Event"))
		}
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies[r.URL.Path] = body
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDispatcher(Config{
		Routes: map[string][]string{"dropped": {"webhook", "sheet"}},
		Contacts: map[string]string{
			"webhook": srv.URL + "/hook",
			"sheet":   srv.URL + "/sheet",
		},
	}, nil, nil)

	warnings, err := d.Notify(context.Background(), sample(types.NotifyDropped))
	if err != nil || len(warnings) != 0 {
		t.Fatalf("Notify = %v, %v", warnings, err)
	}

	var hook webhookPayload
	if err := json.Unmarshal(bodies["/hook"], &hook); err != nil {
		t.Fatalf("webhook body: %v", err)
	}
	if hook.Event != "handoff.dropped" || hook.Notification.SubmissionID != "sub-42" {
		t.Errorf("webhook payload = %+v", hook)
	}

	var row sheetRow
	if err := json.Unmarshal(bodies["/sheet"], &row); err != nil {
		t.Fatalf("sheet body: %v", err)
	}
	if row.Agent != "Bea Buffer" || row.Progress != 76 || row.Label != "Ready for Transfer" {
		t.Errorf("sheet row = %+v", row)
	}
}

func TestWebhookRetries(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantHits int32
	}{
		{"server error retried", http.StatusBadGateway, 3},
		{"rate limited retried", http.StatusTooManyRequests, 3},
		{"client error not retried", http.StatusBadRequest, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			d := NewDispatcher(Config{
				Routes:   map[string][]string{"default": {"webhook"}},
				Contacts: map[string]string{"webhook": srv.URL},
			}, nil, nil, WithRetries(2))

			warnings, err := d.Notify(context.Background(), sample(types.NotifyTransferred))
			if err != nil {
				t.Fatalf("Notify: %v", err)
			}
			if len(warnings) != 1 || !strings.Contains(warnings[0], "webhook") {
				t.Errorf("warnings = %v", warnings)
			}
			if hits.Load() != tt.wantHits {
				t.Errorf("hits = %d, want %d", hits.Load(), tt.wantHits)
			}
		})
	}
}

func TestSlackWebhook(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	d := NewDispatcher(Config{
		Routes:   map[string][]string{"default": {"slack"}},
		Contacts: map[string]string{"slack": srv.URL},
	}, nil, nil)
	warnings, err := d.Notify(context.Background(), sample(types.NotifyReconnected))
	if err != nil || len(warnings) != 0 {
		t.Fatalf("Notify = %v, %v", warnings, err)
	}
	if text, _ := got["text"].(string); !strings.Contains(text, "reconnected dropped call sub-42") {
		t.Errorf("slack text = %v", got["text"])
	}
}

func TestEmailChannel(t *testing.T) {
	var to, subject string
	d := NewDispatcher(Config{
		Routes:   map[string][]string{"default": {"email:supervisor", "email:nobody"}},
		Contacts: map[string]string{"supervisor": "floor@example.com"},
	}, nil, nil, WithMailer(func(_ context.Context, t, s, _ string) error {
		to, subject = t, s
		return nil
	}))

	results, err := d.Dispatch(context.Background(), sample(types.NotifyReady))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %+v", results)
	}
	if !results[0].Success || to != "floor@example.com" || !strings.HasPrefix(subject, "[leadcheck] sub-42 needs another licensed agent") {
		t.Errorf("email result = %+v to=%q subject=%q", results[0], to, subject)
	}
	if results[1].Success || !strings.Contains(results[1].Error, "no email configured for nobody") {
		t.Errorf("missing contact result = %+v", results[1])
	}
}

func TestUnknownAndUnconfiguredChannels(t *testing.T) {
	d := NewDispatcher(Config{Routes: map[string][]string{"default": {"pager", "discord"}}}, nil, nil)
	results, err := d.Dispatch(context.Background(), sample(types.NotifyDropped))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if results[0].Success || !strings.Contains(results[0].Error, "unknown channel type") {
		t.Errorf("pager = %+v", results[0])
	}
	if results[1].Success || !strings.Contains(results[1].Error, "no discord URL configured") {
		t.Errorf("discord = %+v", results[1])
	}
}

func TestParseDiscordWebhook(t *testing.T) {
	id, token, err := parseDiscordWebhook("https://discord.com/api/webhooks/123456/abc-DEF")
	if err != nil || id != "123456" || token != "abc-DEF" {
		t.Fatalf("parse = %q %q %v", id, token, err)
	}
	if _, _, err := parseDiscordWebhook("https://discord.com/api/channels/1"); err == nil {
		t.Fatal("expected error for non-webhook URL")
	}
}

func TestDiscordEmbed(t *testing.T) {
	n := sample(types.NotifyDropped)
	n.IsRetentionCall = true
	e := buildDiscordEmbed(n)
	if e.Color != 0xe74c3c {
		t.Errorf("color = %x", e.Color)
	}
	if len(e.Fields) != 4 {
		t.Errorf("fields = %d, want 4", len(e.Fields))
	}
	if !strings.Contains(e.Title, "Call dropped on sub-42") {
		t.Errorf("title = %q", e.Title)
	}
}

func TestTitles(t *testing.T) {
	for _, typ := range []types.NotificationType{types.NotifyDropped, types.NotifyTransferred, types.NotifyReconnected, types.NotifyReady} {
		n := sample(typ)
		if !strings.Contains(Title(n), "sub-42") {
			t.Errorf("%s title = %q", typ, Title(n))
		}
	}
	if body := Body(sample(types.NotifyDropped)); !strings.Contains(body, "Progress: 76% Ready for Transfer") {
		t.Errorf("body = %q", body)
	}
}
