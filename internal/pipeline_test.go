package internal

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/lychee-technology/projection"
	"github.com/lychee-technology/projection/internal/sink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sliceSource struct {
	records []*projection.Record
	next    int
	err     error
	closed  bool
}

func (s *sliceSource) Next(ctx context.Context) (*projection.Record, error) {
	if s.next >= len(s.records) {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	r := s.records[s.next]
	s.next++
	return r, nil
}

func (s *sliceSource) Close() error {
	s.closed = true
	return nil
}

type memorySink struct {
	mu          sync.Mutex
	records     []*projection.Record
	closed      bool
	closeCtxErr error
	failOn      int
	closeErr    error
}

func (s *memorySink) Write(ctx context.Context, record *projection.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn > 0 && len(s.records)+1 == s.failOn {
		return errors.New("sink unavailable")
	}
	s.records = append(s.records, record)
	return nil
}

func (s *memorySink) Close(ctx context.Context) error {
	s.closed = true
	s.closeCtxErr = ctx.Err()
	return s.closeErr
}

func numberRecords(t *testing.T, values ...string) []*projection.Record {
	t.Helper()
	schema := testSchema(t, "numbers", field("n", projection.TypeString), field("debug", projection.TypeString))
	records := make([]*projection.Record, 0, len(values))
	for _, v := range values {
		records = append(records, testRecord(t, schema, map[string]any{"n": v, "debug": "x"}))
	}
	return records
}

func newNumberPipeline(t *testing.T, cfg projection.PipelineConfig) *Pipeline {
	t.Helper()
	return NewPipeline(newTestProjector(t, projection.ProjectionConfig{Drop: "debug", Convert: "n:long"}), cfg)
}

func TestPipeline_PreservesSourceOrder(t *testing.T) {
	values := make([]string, 200)
	for i := range values {
		values[i] = string(rune('0'+i%10)) + "0"
	}
	src := &sliceSource{records: numberRecords(t, values...)}
	sink := &memorySink{}

	stats, err := newNumberPipeline(t, projection.PipelineConfig{Workers: 8, BufferSize: 4}).Run(context.Background(), src, sink)
	require.NoError(t, err)
	assert.Equal(t, int64(200), stats.Read)
	assert.Equal(t, int64(200), stats.Written)
	assert.Zero(t, stats.Skipped)
	assert.True(t, src.closed)
	assert.True(t, sink.closed)

	require.Len(t, sink.records, 200)
	for i, r := range sink.records {
		assert.Equal(t, int64((i%10)*10), r.Get("n"))
		assert.False(t, r.Schema().HasField("debug"))
	}
}

func TestPipeline_SkipPolicy(t *testing.T) {
	src := &sliceSource{records: numberRecords(t, "1", "oops", "3")}
	sink := &memorySink{}

	stats, err := newNumberPipeline(t, projection.PipelineConfig{Workers: 2, OnError: projection.ErrorPolicySkip}).Run(context.Background(), src, sink)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Read)
	assert.Equal(t, int64(2), stats.Written)
	assert.Equal(t, int64(1), stats.Skipped)
	require.Len(t, sink.records, 2)
	assert.Equal(t, int64(1), sink.records[0].Get("n"))
	assert.Equal(t, int64(3), sink.records[1].Get("n"))
}

func TestPipeline_FailPolicy(t *testing.T) {
	src := &sliceSource{records: numberRecords(t, "1", "oops", "3")}
	sink := &memorySink{}

	_, err := newNumberPipeline(t, projection.PipelineConfig{Workers: 1, OnError: projection.ErrorPolicyFail}).Run(context.Background(), src, sink)
	require.Error(t, err)
	assert.True(t, projection.IsConversionError(err))
	assert.True(t, sink.closed)
	assert.True(t, src.closed)
}

func TestPipeline_ConfigurationErrorsAlwaysStop(t *testing.T) {
	schema := testSchema(t, "only_debug", field("debug", projection.TypeString))
	src := &sliceSource{records: []*projection.Record{testRecord(t, schema, map[string]any{"debug": "x"})}}
	sink := &memorySink{}

	_, err := newNumberPipeline(t, projection.PipelineConfig{Workers: 1, OnError: projection.ErrorPolicySkip}).Run(context.Background(), src, sink)
	require.Error(t, err)
	assert.True(t, projection.IsConfigurationError(err))
	assert.Empty(t, sink.records)
}

func TestPipeline_SourceAndSinkErrors(t *testing.T) {
	t.Run("source", func(t *testing.T) {
		src := &sliceSource{records: numberRecords(t, "1"), err: errors.New("disk gone")}
		_, err := newNumberPipeline(t, projection.PipelineConfig{}).Run(context.Background(), src, &memorySink{})
		assert.ErrorContains(t, err, "disk gone")
	})

	t.Run("sink write", func(t *testing.T) {
		src := &sliceSource{records: numberRecords(t, "1", "2")}
		_, err := newNumberPipeline(t, projection.PipelineConfig{}).Run(context.Background(), src, &memorySink{failOn: 2})
		assert.ErrorContains(t, err, "sink unavailable")
	})

	t.Run("sink close", func(t *testing.T) {
		src := &sliceSource{records: numberRecords(t, "1")}
		stats, err := newNumberPipeline(t, projection.PipelineConfig{}).Run(context.Background(), src, &memorySink{closeErr: errors.New("flush failed")})
		assert.ErrorContains(t, err, "flush failed")
		assert.Equal(t, int64(1), stats.Written)
	})
}

func TestPipeline_ValidateOutput(t *testing.T) {
	src := &sliceSource{records: numberRecords(t, "5", "6")}
	sink := &memorySink{}

	stats, err := newNumberPipeline(t, projection.PipelineConfig{ValidateOutput: true}).Run(context.Background(), src, sink)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Written)
}

func TestPipeline_NonFiniteDoublesReachTheSink(t *testing.T) {
	schema := testSchema(t, "ratios", field("r", projection.TypeString))
	var records []*projection.Record
	for _, v := range []string{"1.5", "NaN", "-Infinity"} {
		records = append(records, testRecord(t, schema, map[string]any{"r": v}))
	}
	var out bytes.Buffer
	lines := sink.NewJSONLinesSink(&out)

	pipeline := NewPipeline(newTestProjector(t, projection.ProjectionConfig{Convert: "r:double"}),
		projection.PipelineConfig{Workers: 2, OnError: projection.ErrorPolicySkip, ValidateOutput: true})
	stats, err := pipeline.Run(context.Background(), &sliceSource{records: records}, lines)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Written)
	assert.Zero(t, stats.Skipped)
	assert.Equal(t, `{"r":1.5}`+"\n"+`{"r":"NaN"}`+"\n"+`{"r":"-Infinity"}`+"\n", out.String())
}

func TestPipeline_CancelledRunStillClosesWithLiveContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := &sliceSource{records: numberRecords(t, "1", "2")}
	memory := &memorySink{}

	_, err := newNumberPipeline(t, projection.PipelineConfig{Workers: 1}).Run(ctx, src, memory)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, memory.closed)
	assert.NoError(t, memory.closeCtxErr)
}
