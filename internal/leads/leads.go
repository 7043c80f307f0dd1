// Package leads fetches the lead record a verification session checks,
// as a snapshot of field name/value pairs taken when the session is created.
package leads

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/leadcheck/leadcheck/internal/storage"
	"github.com/leadcheck/leadcheck/internal/types"
)

var (
	// ErrUnavailable is returned when the lead record cannot be fetched.
	ErrUnavailable = errors.New("lead provider unavailable")

	// ErrSubmissionNotFound is returned when the provider has no such lead.
	// It matches storage.ErrNotFound.
	ErrSubmissionNotFound = fmt.Errorf("submission %w", storage.ErrNotFound)
)

// Provider returns the current lead record for a submission.
type Provider interface {
	Snapshot(ctx context.Context, submissionID string) ([]types.FieldValue, error)
}

// fromMap converts a name->value record into catalogue order. Keys outside
// the catalogue are skipped.
func fromMap(record map[string]string, log *slog.Logger, submissionID string) []types.FieldValue {
	out := make([]types.FieldValue, 0, len(record))
	for _, name := range types.FieldCatalogue {
		if v, ok := record[string(name)]; ok {
			out = append(out, types.FieldValue{Name: name, Value: v})
		}
	}
	if log != nil && len(out) != len(record) {
		for k := range record {
			if !types.FieldName(k).IsValid() {
				log.Debug("ignoring unknown lead field", "submission", submissionID, "field", k)
			}
		}
	}
	return out
}
