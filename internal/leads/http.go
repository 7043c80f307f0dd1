package leads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/leadcheck/leadcheck/internal/types"
)

// DefaultMaxElapsed bounds the retries of one Snapshot call.
const DefaultMaxElapsed = 5 * time.Second

// HTTPProvider reads leads from a JSON endpoint:
//
//	GET {BaseURL}/submissions/{id}
//	{"submission_id": "...", "fields": {"customer_full_name": "...", ...}}
type HTTPProvider struct {
	BaseURL    string
	Token      string // Sent as a bearer token when set
	Client     *http.Client
	MaxElapsed time.Duration
	Logger     *slog.Logger
}

type leadRecord struct {
	SubmissionID string            `json:"submission_id"`
	Fields       map[string]string `json:"fields"`
}

// NewHTTPProvider returns a provider for baseURL with default settings.
func NewHTTPProvider(baseURL, token string, logger *slog.Logger) *HTTPProvider {
	return &HTTPProvider{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		Client:     &http.Client{Timeout: 10 * time.Second},
		MaxElapsed: DefaultMaxElapsed,
		Logger:     logger,
	}
}

// Snapshot fetches the lead, retrying transport errors and 5xx responses
// with exponential backoff. A 404 is ErrSubmissionNotFound; anything else
// that does not succeed in time is ErrUnavailable.
func (p *HTTPProvider) Snapshot(ctx context.Context, submissionID string) ([]types.FieldValue, error) {
	target := fmt.Sprintf("%s/submissions/%s", p.BaseURL, url.PathEscape(submissionID))

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxElapsedTime = p.MaxElapsed
	if bo.MaxElapsedTime <= 0 {
		bo.MaxElapsedTime = DefaultMaxElapsed
	}

	var rec leadRecord
	err := backoff.Retry(func() error {
		return p.fetch(ctx, target, &rec)
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		if errors.Is(err, ErrSubmissionNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSubmissionNotFound, submissionID)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, submissionID, err)
	}
	if rec.SubmissionID != "" && rec.SubmissionID != submissionID {
		return nil, fmt.Errorf("%w: %s: provider returned submission %s", ErrUnavailable, submissionID, rec.SubmissionID)
	}
	return fromMap(rec.Fields, p.Logger, submissionID), nil
}

func (p *HTTPProvider) fetch(ctx context.Context, target string, rec *leadRecord) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	if p.Token != "" {
		req.Header.Set("Authorization", "Bearer "+p.Token)
	}

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return backoff.Permanent(ErrSubmissionNotFound)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("lead provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	case resp.StatusCode >= 300:
		return backoff.Permanent(fmt.Errorf("lead provider returned %d", resp.StatusCode))
	}

	if err := json.NewDecoder(resp.Body).Decode(rec); err != nil {
		return backoff.Permanent(fmt.Errorf("decode lead: %w", err))
	}
	return nil
}
