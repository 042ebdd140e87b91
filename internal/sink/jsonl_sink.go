package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/lychee-technology/projection"
)

// JSONLinesSink writes one JSON object per record.
type JSONLinesSink struct {
	out     *bufio.Writer
	enc     *json.Encoder
	closer  io.Closer
	written int
}

// NewJSONLinesSink writes to w. If w is also an io.Closer it is closed by Close.
func NewJSONLinesSink(w io.Writer) *JSONLinesSink {
	buffered := bufio.NewWriter(w)
	s := &JSONLinesSink{out: buffered, enc: json.NewEncoder(buffered)}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// Write implements projection.RecordSink.
func (s *JSONLinesSink) Write(ctx context.Context, record *projection.Record) error {
	if err := s.enc.Encode(record); err != nil {
		return projection.NewProjectionError(projection.ErrorTypeIO, projection.ErrCodeSinkFailed,
			fmt.Sprintf("write record %d", s.written+1)).WithCause(err)
	}
	s.written++
	return nil
}

// Close implements projection.RecordSink.
func (s *JSONLinesSink) Close(ctx context.Context) error {
	if err := s.out.Flush(); err != nil {
		return projection.NewProjectionError(projection.ErrorTypeIO, projection.ErrCodeSinkFailed, "flush output").WithCause(err)
	}
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// Written returns the number of records written.
func (s *JSONLinesSink) Written() int {
	return s.written
}
