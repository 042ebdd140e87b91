package sink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lychee-technology/projection"
	"github.com/pashagolub/pgxmock/v4"
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

func eventSchema(t *testing.T) *projection.Schema {
	t.Helper()
	schema, err := projection.NewSchema("event.projected",
		projection.NewField("id", projection.Of(projection.TypeLong)),
		projection.NewField("name", projection.NullableOf(projection.TypeString)),
		projection.NewField("raw", projection.NullableOf(projection.TypeBytes)),
	)
	require.NoError(t, err)
	return schema
}

func eventRecord(t *testing.T, schema *projection.Schema, id int64, name any) *projection.Record {
	t.Helper()
	record, err := projection.NewRecord(schema, map[string]any{"id": id, "name": name})
	require.NoError(t, err)
	return record
}

type closingBuffer struct {
	bytes.Buffer
	closed bool
}

func (b *closingBuffer) Close() error {
	b.closed = true
	return nil
}

func TestJSONLinesSink(t *testing.T) {
	schema := eventSchema(t)
	out := &closingBuffer{}
	sink := NewJSONLinesSink(out)
	ctx := context.Background()

	require.NoError(t, sink.Write(ctx, eventRecord(t, schema, 1, "alpha")))
	require.NoError(t, sink.Write(ctx, eventRecord(t, schema, 2, nil)))
	// buffered until close
	assert.Zero(t, out.Len())

	require.NoError(t, sink.Close(ctx))
	assert.True(t, out.closed)
	assert.Equal(t, 2, sink.Written())
	assert.Equal(t,
		`{"id":1,"name":"alpha","raw":null}`+"\n"+`{"id":2,"name":null,"raw":null}`+"\n",
		out.String())
}

func TestJSONLinesSink_DoesNotCloseBareWriters(t *testing.T) {
	var out bytes.Buffer
	sink := NewJSONLinesSink(io.Writer(&out))
	require.NoError(t, sink.Write(context.Background(), eventRecord(t, eventSchema(t), 1, "a")))
	require.NoError(t, sink.Close(context.Background()))
	assert.True(t, strings.HasSuffix(out.String(), "\n"))
}

func TestJSONLinesSink_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")
	f, err := os.Create(path)
	require.NoError(t, err)

	sink := NewJSONLinesSink(f)
	require.NoError(t, sink.Write(context.Background(), eventRecord(t, eventSchema(t), 9, "file")))
	require.NoError(t, sink.Close(context.Background()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"id":9,"name":"file","raw":null}`+"\n", string(data))
}

func TestPostgresSink_CreatesTableAndBatchesInserts(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	schema := eventSchema(t)
	ctx := context.Background()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "public"."events" \("id" BIGINT, "name" TEXT, "raw" BYTEA\)`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`INSERT INTO "public"."events" \("id", "name", "raw"\) VALUES \(\$1, \$2, \$3\), \(\$4, \$5, \$6\)`).
		WithArgs(int64(1), "a", nil, int64(2), nil, nil).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectExec(`INSERT INTO "public"."events" \("id", "name", "raw"\) VALUES \(\$1, \$2, \$3\)`).
		WithArgs(int64(3), "c", nil).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	sink := NewPostgresSink(mock, "public.events", 2)
	require.NoError(t, sink.Write(ctx, eventRecord(t, schema, 1, "a")))
	require.NoError(t, sink.Write(ctx, eventRecord(t, schema, 2, nil)))
	require.NoError(t, sink.Write(ctx, eventRecord(t, schema, 3, "c")))
	require.NoError(t, sink.Close(ctx))

	assert.Equal(t, 3, sink.Written())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSink_NewSchemaShapeAddsColumns(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ctx := context.Background()
	first := eventSchema(t)
	second, err := projection.NewSchema("audit.projected",
		projection.NewField("id", projection.Of(projection.TypeLong)),
		projection.NewField("tags", projection.NullableOf(projection.TypeArray)),
	)
	require.NoError(t, err)
	tagged, err := projection.NewRecord(second, map[string]any{"id": int64(2), "tags": []any{"x"}})
	require.NoError(t, err)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS "events"`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`INSERT INTO "events" \("id", "name", "raw"\)`).
		WithArgs(int64(1), "a", nil).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`ALTER TABLE "events" ADD COLUMN IF NOT EXISTS "id" BIGINT, ADD COLUMN IF NOT EXISTS "tags" JSONB`).
		WillReturnResult(pgxmock.NewResult("ALTER", 0))
	mock.ExpectExec(`INSERT INTO "events" \("id", "tags"\)`).
		WithArgs(int64(2), `["x"]`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	sink := NewPostgresSink(mock, "events", 100)
	require.NoError(t, sink.Write(ctx, eventRecord(t, first, 1, "a")))
	require.NoError(t, sink.Write(ctx, tagged))
	require.NoError(t, sink.Close(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSink_InsertFailure(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`INSERT INTO`).WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))

	sink := NewPostgresSink(mock, "events", 10)
	require.NoError(t, sink.Write(context.Background(), eventRecord(t, eventSchema(t), 1, "a")))
	err = sink.Close(context.Background())
	require.Error(t, err)

	var pe *projection.ProjectionError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, projection.ErrCodeSinkFailed, pe.Code)
	assert.ErrorContains(t, err, "connection reset")
}

type recordingExecer struct {
	statements []string
	argCounts  []int
}

func (e *recordingExecer) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	e.statements = append(e.statements, sql)
	e.argCounts = append(e.argCounts, len(arguments))
	return pgconn.NewCommandTag(fmt.Sprintf("INSERT 0 %d", len(arguments))), nil
}

func TestPostgresSink_SplitsInsertsAtParameterLimit(t *testing.T) {
	fields := make([]projection.Field, 200)
	values := make(map[string]any, len(fields))
	for i := range fields {
		name := fmt.Sprintf("c%03d", i)
		fields[i] = projection.NewField(name, projection.Of(projection.TypeInt))
		values[name] = int32(i)
	}
	schema, err := projection.NewSchema("wide.projected", fields...)
	require.NoError(t, err)
	record, err := projection.NewRecord(schema, values)
	require.NoError(t, err)

	execer := &recordingExecer{}
	sink := NewPostgresSink(execer, "wide", 1000)
	for i := 0; i < 400; i++ {
		require.NoError(t, sink.Write(context.Background(), record))
	}
	require.NoError(t, sink.Close(context.Background()))
	assert.Equal(t, 400, sink.Written())

	// 65535 / 200 columns = 327 rows per statement
	require.Len(t, execer.statements, 3)
	assert.True(t, strings.HasPrefix(execer.statements[0], `CREATE TABLE IF NOT EXISTS "wide"`))
	assert.Equal(t, []int{0, 327 * 200, 73 * 200}, execer.argCounts)
	for _, n := range execer.argCounts {
		assert.LessOrEqual(t, n, maxBindParameters)
	}
	assert.Contains(t, execer.statements[2], "$14600)")
}

func TestSanitizeIdentifier(t *testing.T) {
	assert.Equal(t, `"events"`, sanitizeIdentifier("events"))
	assert.Equal(t, `"public"."events"`, sanitizeIdentifier("public.events"))
	assert.Equal(t, `"public"."events"`, sanitizeIdentifier(`"public"."events"`))
	assert.Equal(t, `"we""ird"`, sanitizeIdentifier(`we"ird`))
}

type fakeBucketAPI struct {
	headErr   error
	createErr error
	created   int
}

func (f *fakeBucketAPI) HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, f.headErr
}

func (f *fakeBucketAPI) CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	f.created++
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &s3.CreateBucketOutput{}, nil
}

type fakeUploader struct {
	bucket, key string
	body        []byte
	err         error
}

func (f *fakeUploader) Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.bucket = aws.ToString(input.Bucket)
	f.key = aws.ToString(input.Key)
	body, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	f.body = body
	return &manager.UploadOutput{Key: input.Key}, nil
}

func TestS3Sink_UploadsOneObjectPerRun(t *testing.T) {
	runID := uuid.Must(uuid.NewV7())
	buckets := &fakeBucketAPI{}
	uploader := &fakeUploader{}
	sink := NewS3Sink(buckets, uploader, "projected-data", "runs/daily", runID)
	ctx := context.Background()

	schema := eventSchema(t)
	require.NoError(t, sink.Write(ctx, eventRecord(t, schema, 1, "a")))
	require.NoError(t, sink.Write(ctx, eventRecord(t, schema, 2, "b")))
	require.NoError(t, sink.Close(ctx))

	assert.Equal(t, "projected-data", uploader.bucket)
	assert.Equal(t, "runs/daily/"+runID.String()+".jsonl", uploader.key)
	assert.Equal(t, sink.Key(), uploader.key)
	assert.Equal(t, 2, strings.Count(string(uploader.body), "\n"))
	assert.Zero(t, buckets.created)
}

func TestS3Sink_CreatesMissingBucket(t *testing.T) {
	tests := []struct {
		name      string
		createErr error
		wantErr   bool
	}{
		{name: "created", createErr: nil},
		{name: "already owned", createErr: &smithy.GenericAPIError{Code: "BucketAlreadyOwnedByYou"}},
		{name: "already exists", createErr: &smithy.GenericAPIError{Code: "BucketAlreadyExists"}},
		{name: "access denied", createErr: &smithy.GenericAPIError{Code: "AccessDenied"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buckets := &fakeBucketAPI{headErr: errors.New("not found"), createErr: tt.createErr}
			uploader := &fakeUploader{}
			sink := NewS3Sink(buckets, uploader, "bucket", "", uuid.New())
			require.NoError(t, sink.Write(context.Background(), eventRecord(t, eventSchema(t), 1, "a")))

			err := sink.Close(context.Background())
			assert.Equal(t, 1, buckets.created)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Empty(t, uploader.key)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, uploader.body)
		})
	}
}

func TestS3Sink_EmptyRunSkipsUpload(t *testing.T) {
	uploader := &fakeUploader{err: errors.New("must not be called")}
	sink := NewS3Sink(&fakeBucketAPI{}, uploader, "bucket", "p", uuid.New())
	assert.NoError(t, sink.Close(context.Background()))
}
