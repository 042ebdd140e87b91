package projection

import (
	"context"
	"time"
)

// Projector drops, keeps, renames and converts the fields of records.
// Implementations are safe for concurrent use.
type Projector interface {
	// OutputSchema derives (or returns the cached) output schema for an input schema.
	OutputSchema(input *Schema) (*Schema, error)
	// Project transforms one record. Conversion failures are scoped to the record.
	Project(record *Record) (*Record, error)
}

// RecordSource yields self-describing records. Next returns io.EOF once the
// source is exhausted.
type RecordSource interface {
	Next(ctx context.Context) (*Record, error)
	Close() error
}

// RecordSink accepts projected records from a single writer.
type RecordSink interface {
	Write(ctx context.Context, record *Record) error
	// Close flushes buffered records and releases resources.
	Close(ctx context.Context) error
}

// RunStats summarizes one pipeline run.
type RunStats struct {
	Read     int64         `json:"read"`
	Written  int64         `json:"written"`
	Skipped  int64         `json:"skipped"`
	Duration time.Duration `json:"duration"`
}
