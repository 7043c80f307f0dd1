package leads

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/leadcheck/leadcheck/internal/types"
)

// FileProvider serves leads from a YAML file, re-read on every call:
//
//	submissions:
//	  sub-42:
//	    customer_full_name: Jane Roe
//	    carrier: Acme Life
type FileProvider struct {
	Path   string
	Logger *slog.Logger
}

type leadFile struct {
	Submissions map[string]map[string]string `yaml:"submissions"`
}

// Snapshot implements Provider.
func (p *FileProvider) Snapshot(_ context.Context, submissionID string) ([]types.FieldValue, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var f leadFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrUnavailable, p.Path, err)
	}
	rec, ok := f.Submissions[submissionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSubmissionNotFound, submissionID)
	}
	return fromMap(rec, p.Logger, submissionID), nil
}

// StaticProvider serves fixed snapshots. Missing submissions are not found.
type StaticProvider map[string][]types.FieldValue

// Snapshot implements Provider.
func (p StaticProvider) Snapshot(_ context.Context, submissionID string) ([]types.FieldValue, error) {
	fields, ok := p[submissionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSubmissionNotFound, submissionID)
	}
	return append([]types.FieldValue(nil), fields...), nil
}
