package source

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"math"
	"math/big"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/google/uuid"
	"github.com/lychee-technology/projection"
	"go.uber.org/zap"
)

// DuckDBSource reads CSV, Parquet and JSON files through DuckDB and yields one
// record per row. Each file produces its own schema, named after the file.
type DuckDBSource struct {
	db        *sql.DB
	paths     []string
	format    string
	pathField string

	next    int
	path    string
	rows    *sql.Rows
	schema  *projection.Schema
	columns []column
}

type column struct {
	name      string
	fieldType projection.FieldType
	normalize func(any) (any, error)
}

// NewDuckDBSource opens a DuckDB connection for the configured files.
func NewDuckDBSource(ctx context.Context, cfg projection.SourceConfig) (*DuckDBSource, error) {
	if len(cfg.Paths) == 0 {
		return nil, fmt.Errorf("no input paths configured")
	}

	dsn := cfg.DuckDB
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}

	return &DuckDBSource{
		db:        db,
		paths:     cfg.Paths,
		format:    strings.ToLower(cfg.Format),
		pathField: cfg.PathField,
	}, nil
}

// Next implements projection.RecordSource.
func (s *DuckDBSource) Next(ctx context.Context) (*projection.Record, error) {
	for {
		if s.rows == nil {
			if s.next >= len(s.paths) {
				return nil, io.EOF
			}
			path := s.paths[s.next]
			s.next++
			if err := s.open(ctx, path); err != nil {
				return nil, err
			}
		}

		if s.rows.Next() {
			return s.scan()
		}
		err := s.rows.Err()
		s.rows.Close()
		s.rows = nil
		if err != nil {
			return nil, s.wrap(err, "read rows")
		}
	}
}

// Close implements projection.RecordSource.
func (s *DuckDBSource) Close() error {
	if s.rows != nil {
		s.rows.Close()
		s.rows = nil
	}
	return s.db.Close()
}

func (s *DuckDBSource) open(ctx context.Context, path string) error {
	reader, err := readerFunction(s.format, path)
	if err != nil {
		return err
	}
	query := fmt.Sprintf("SELECT * FROM %s(%s)", reader, quoteLiteral(path))
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return s.wrapPath(err, path, "query file")
	}

	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		rows.Close()
		return s.wrapPath(err, path, "read column types")
	}

	columns := make([]column, 0, len(columnTypes))
	fields := make([]projection.Field, 0, len(columnTypes)+1)
	for _, ct := range columnTypes {
		col := mapColumn(ct.Name(), ct.DatabaseTypeName())
		columns = append(columns, col)
		fields = append(fields, projection.NewField(col.name, col.fieldType))
	}
	if s.pathField != "" {
		fields = append(fields, projection.NewField(s.pathField, projection.Of(projection.TypeString)))
	}

	schema, err := projection.NewSchema(recordName(path), fields...)
	if err != nil {
		rows.Close()
		return s.wrapPath(err, path, "build schema")
	}

	s.path = path
	s.rows = rows
	s.schema = schema
	s.columns = columns
	zap.S().Infow("opened input file", "path", path, "reader", reader, "schema", schema.String())
	return nil
}

func (s *DuckDBSource) scan() (*projection.Record, error) {
	raw := make([]any, len(s.columns))
	dest := make([]any, len(s.columns))
	for i := range raw {
		dest[i] = &raw[i]
	}
	if err := s.rows.Scan(dest...); err != nil {
		return nil, s.wrap(err, "scan row")
	}

	builder := projection.NewRecordBuilder(s.schema)
	for i, col := range s.columns {
		var value any
		if raw[i] != nil {
			v, err := col.normalize(raw[i])
			if err != nil {
				return nil, s.wrap(err, fmt.Sprintf("column '%s'", col.name))
			}
			value = v
		}
		if err := builder.Set(col.name, value); err != nil {
			return nil, s.wrap(err, "build record")
		}
	}
	if s.pathField != "" {
		if err := builder.Set(s.pathField, s.path); err != nil {
			return nil, s.wrap(err, "build record")
		}
	}
	return builder.Build()
}

func (s *DuckDBSource) wrap(err error, action string) error {
	return s.wrapPath(err, s.path, action)
}

func (s *DuckDBSource) wrapPath(err error, path, action string) error {
	return projection.NewProjectionError(projection.ErrorTypeIO, projection.ErrCodeSourceFailed,
		fmt.Sprintf("%s: %s", path, action)).WithCause(err)
}

func readerFunction(format, path string) (string, error) {
	if format == "" {
		format = strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	}
	switch format {
	case "csv", "tsv":
		return "read_csv_auto", nil
	case "parquet":
		return "read_parquet", nil
	case "json", "jsonl", "ndjson":
		return "read_json_auto", nil
	default:
		return "", projection.NewProjectionError(projection.ErrorTypeConfiguration, projection.ErrCodeUnsupportedSourceType,
			fmt.Sprintf("unsupported input format '%s' for %s", format, path))
	}
}

func recordName(path string) string {
	base := filepath.Base(path)
	if name := strings.TrimSuffix(base, filepath.Ext(base)); name != "" {
		return name
	}
	return base
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// mapColumn maps a DuckDB column type to a nullable field type. Narrow
// integers widen to int, decimals read as double, temporal and identifier
// types read as text.
func mapColumn(name, dbType string) column {
	t := strings.ToUpper(dbType)
	col := column{name: name}
	switch {
	case strings.HasSuffix(t, "[]") || strings.HasPrefix(t, "LIST") || strings.HasPrefix(t, "ARRAY"):
		col.fieldType, col.normalize = projection.NullableOf(projection.TypeArray), passThrough
	case strings.HasPrefix(t, "STRUCT"):
		col.fieldType, col.normalize = projection.NullableOf(projection.TypeRecord), passThrough
	case strings.HasPrefix(t, "MAP"):
		col.fieldType, col.normalize = projection.NullableOf(projection.TypeMap), passThrough
	case strings.HasPrefix(t, "UNION"):
		col.fieldType, col.normalize = projection.NullableOf(projection.TypeUnion), passThrough
	case strings.HasPrefix(t, "DECIMAL"):
		col.fieldType, col.normalize = projection.NullableOf(projection.TypeDouble), toFloat64
	}
	if col.normalize != nil {
		return col
	}

	switch t {
	case "BOOLEAN":
		col.fieldType, col.normalize = projection.NullableOf(projection.TypeBoolean), toBool
	case "TINYINT", "SMALLINT", "INTEGER", "UTINYINT", "USMALLINT":
		col.fieldType, col.normalize = projection.NullableOf(projection.TypeInt), toInt32
	case "BIGINT", "UINTEGER", "UBIGINT", "HUGEINT":
		col.fieldType, col.normalize = projection.NullableOf(projection.TypeLong), toInt64
	case "FLOAT", "REAL":
		col.fieldType, col.normalize = projection.NullableOf(projection.TypeFloat), toFloat32
	case "DOUBLE":
		col.fieldType, col.normalize = projection.NullableOf(projection.TypeDouble), toFloat64
	case "BLOB", "BYTEA", "BINARY", "VARBINARY":
		col.fieldType, col.normalize = projection.NullableOf(projection.TypeBytes), toBytes
	default:
		// VARCHAR, DATE, TIME, TIMESTAMP*, UUID, INTERVAL, ENUM ...
		col.fieldType, col.normalize = projection.NullableOf(projection.TypeString), toText
	}
	return col
}

func passThrough(v any) (any, error) { return v, nil }

func toBool(v any) (any, error) {
	b, ok := v.(bool)
	if !ok {
		return nil, fmt.Errorf("expected bool, got %T", v)
	}
	return b, nil
}

func toInt32(v any) (any, error) {
	switch n := v.(type) {
	case int8:
		return int32(n), nil
	case int16:
		return int32(n), nil
	case int32:
		return n, nil
	case uint8:
		return int32(n), nil
	case uint16:
		return int32(n), nil
	default:
		return nil, fmt.Errorf("expected a 32-bit integer, got %T", v)
	}
}

func toInt64(v any) (any, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return nil, fmt.Errorf("value %d overflows a 64-bit integer", n)
		}
		return int64(n), nil
	case *big.Int:
		if !n.IsInt64() {
			return nil, fmt.Errorf("value %s overflows a 64-bit integer", n)
		}
		return n.Int64(), nil
	default:
		return nil, fmt.Errorf("expected a 64-bit integer, got %T", v)
	}
}

func toFloat32(v any) (any, error) {
	f, ok := v.(float32)
	if !ok {
		return nil, fmt.Errorf("expected float32, got %T", v)
	}
	return f, nil
}

func toFloat64(v any) (any, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case interface{ Float64() float64 }:
		return n.Float64(), nil
	default:
		return nil, fmt.Errorf("expected float64, got %T", v)
	}
}

func toBytes(v any) (any, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	default:
		return nil, fmt.Errorf("expected bytes, got %T", v)
	}
}

func toText(v any) (any, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case time.Time:
		return x.Format(time.RFC3339Nano), nil
	case []byte:
		if len(x) == 16 {
			if id, err := uuid.FromBytes(x); err == nil {
				return id.String(), nil
			}
		}
		return string(x), nil
	case [16]byte:
		return uuid.UUID(x).String(), nil
	case fmt.Stringer:
		return x.String(), nil
	default:
		return fmt.Sprint(x), nil
	}
}
