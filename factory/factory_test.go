package factory

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lychee-technology/projection"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	os.Exit(m.Run())
}

func TestNewProjector_WithoutKnownSchema(t *testing.T) {
	projector, provisional, err := NewProjector(projection.ProjectionConfig{Drop: "b"}, nil, projection.CacheConfig{})
	require.NoError(t, err)
	assert.Nil(t, provisional)

	schema := projection.MustSchema("event",
		projection.NewField("a", projection.Of(projection.TypeInt)),
		projection.NewField("b", projection.Of(projection.TypeString)),
	)
	record, err := projection.NewRecord(schema, map[string]any{"a": int32(5), "b": "x"})
	require.NoError(t, err)

	out, err := projector.Project(record)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": int32(5)}, out.Values())
}

func TestNewProjector_ProvisionalSchema(t *testing.T) {
	known := projection.MustSchema("event",
		projection.NewField("a", projection.Of(projection.TypeInt)),
		projection.NewField("ts", projection.NullableOf(projection.TypeString)),
	)

	projector, provisional, err := NewProjector(projection.ProjectionConfig{Rename: "ts:timestamp", Convert: "a:long"}, known, projection.CacheConfig{MaxEntries: 4})
	require.NoError(t, err)
	require.NotNil(t, provisional)
	assert.Equal(t, "event.projected", provisional.RecordName())
	assert.Equal(t, []projection.Field{
		projection.NewField("a", projection.Of(projection.TypeLong)),
		projection.NewField("timestamp", projection.NullableOf(projection.TypeString)),
	}, provisional.Fields())

	// the provisional schema is the one records are produced with
	out, err := projector.OutputSchema(known)
	require.NoError(t, err)
	assert.Same(t, provisional, out)
}

func TestNewProjector_ReportsAllFailures(t *testing.T) {
	known := projection.MustSchema("event", projection.NewField("a", projection.Of(projection.TypeLong)))

	_, _, err := NewProjector(projection.ProjectionConfig{Drop: "a", Keep: "a", Convert: "a:int"}, known, projection.CacheConfig{})
	require.Error(t, err)
	assert.True(t, projection.IsConfigurationError(err))
	assert.GreaterOrEqual(t, len(projection.Failures(err)), 2)
}

func TestNewSink_Stdout(t *testing.T) {
	var out bytes.Buffer
	sink, cleanup, err := NewSink(context.Background(), projection.SinkConfig{Kind: projection.SinkStdout}, &out)
	require.NoError(t, err)
	defer cleanup()

	schema := projection.MustSchema("s", projection.NewField("x", projection.Of(projection.TypeString)))
	record, err := projection.NewRecord(schema, map[string]any{"x": "y"})
	require.NoError(t, err)
	require.NoError(t, sink.Write(context.Background(), record))
	require.NoError(t, sink.Close(context.Background()))
	assert.Equal(t, `{"x":"y"}`+"\n", out.String())
}

func TestNewSink_UnknownKind(t *testing.T) {
	_, _, err := NewSink(context.Background(), projection.SinkConfig{Kind: "kafka"}, nil)
	var configErr *projection.ConfigError
	require.ErrorAs(t, err, &configErr)
	assert.Equal(t, "sink.kind", configErr.Field)
}

func TestRun_CSVToFile(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "events.csv")
	require.NoError(t, os.WriteFile(input, []byte("id,amount,debug\n1,10,a\n2,20,b\n"), 0o644))
	output := filepath.Join(dir, "out.jsonl")

	cfg := projection.DefaultConfig()
	cfg.Projection = projection.ProjectionConfig{Drop: "debug", Rename: "amount:total", Convert: "amount:string"}
	cfg.Source.Paths = []string{input}
	cfg.Sink.Kind = projection.SinkFile
	cfg.Sink.Path = output
	cfg.Pipeline.Workers = 2
	cfg.Pipeline.ValidateOutput = true

	stats, err := Run(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Read)
	assert.Equal(t, int64(2), stats.Written)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Equal(t, []string{`{"id":1,"total":"10"}`, `{"id":2,"total":"20"}`}, lines)
}

func TestRun_KnownSchemaFromRegistry(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "events.schema.json"), []byte(`{
		"type": "record",
		"name": "events",
		"fields": [{"name": "id", "type": ["long", "null"]}]
	}`), 0o644))

	cfg := projection.DefaultConfig()
	cfg.Projection = projection.ProjectionConfig{Keep: "missing"}
	cfg.Source.SchemaDir = dir
	cfg.Source.Schema = "events"
	cfg.Source.Paths = []string{filepath.Join(dir, "unused.csv")}

	_, err := Run(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.True(t, projection.IsConfigurationError(err))
}

func TestRun_InvalidConfig(t *testing.T) {
	cfg := projection.DefaultConfig()
	cfg.Pipeline.Workers = 0
	_, err := Run(context.Background(), cfg, nil)
	var configErr *projection.ConfigError
	assert.ErrorAs(t, err, &configErr)
}
