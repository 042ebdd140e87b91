package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/lychee-technology/projection"
	"go.uber.org/zap"
)

// maxBindParameters is the PostgreSQL limit on parameters in one statement.
const maxBindParameters = 65535

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// PostgresSink writes projected records into a single table. The table is
// created from the first output schema seen; columns of later schema shapes
// are added as needed. Records are inserted in multi-row batches.
type PostgresSink struct {
	pool      execer
	table     string
	batchSize int

	ensured map[string]bool
	pending []*projection.Record
	schema  *projection.Schema
	written int
}

// NewPostgresSink creates a sink writing to table.
func NewPostgresSink(pool execer, table string, batchSize int) *PostgresSink {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &PostgresSink{
		pool:      pool,
		table:     table,
		batchSize: batchSize,
		ensured:   make(map[string]bool),
	}
}

// Write implements projection.RecordSink.
func (s *PostgresSink) Write(ctx context.Context, record *projection.Record) error {
	schema := record.Schema()
	if s.schema != nil && !s.schema.Equal(schema) {
		if err := s.flush(ctx); err != nil {
			return err
		}
	}
	if err := s.ensureTable(ctx, schema); err != nil {
		return err
	}
	s.schema = schema
	s.pending = append(s.pending, record)
	if len(s.pending) >= s.batchSize {
		return s.flush(ctx)
	}
	return nil
}

// Close implements projection.RecordSink. The pool is owned by the caller.
func (s *PostgresSink) Close(ctx context.Context) error {
	if err := s.flush(ctx); err != nil {
		return err
	}
	zap.S().Infow("postgres sink closed", "table", s.table, "written", s.written)
	return nil
}

// Written returns the number of inserted records.
func (s *PostgresSink) Written() int {
	return s.written
}

func (s *PostgresSink) ensureTable(ctx context.Context, schema *projection.Schema) error {
	key := schema.Fingerprint()
	if s.ensured[key] {
		return nil
	}

	fields := schema.Fields()
	var query string
	if len(s.ensured) == 0 {
		columns := make([]string, 0, len(fields))
		for _, f := range fields {
			columns = append(columns, pq.QuoteIdentifier(f.Name)+" "+columnType(f.Type.Type))
		}
		query = fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", sanitizeIdentifier(s.table), strings.Join(columns, ", "))
	} else {
		clauses := make([]string, 0, len(fields))
		for _, f := range fields {
			clauses = append(clauses, "ADD COLUMN IF NOT EXISTS "+pq.QuoteIdentifier(f.Name)+" "+columnType(f.Type.Type))
		}
		query = fmt.Sprintf("ALTER TABLE %s %s", sanitizeIdentifier(s.table), strings.Join(clauses, ", "))
	}

	if _, err := s.pool.Exec(ctx, query); err != nil {
		return projection.NewProjectionError(projection.ErrorTypeIO, projection.ErrCodeSinkFailed,
			fmt.Sprintf("prepare table %s", s.table)).WithCause(err)
	}
	s.ensured[key] = true
	zap.S().Debugw("postgres sink table prepared", "table", s.table, "schema", schema.RecordName())
	return nil
}

func (s *PostgresSink) flush(ctx context.Context) error {
	if len(s.pending) == 0 {
		return nil
	}
	fields := s.schema.Fields()
	columns := make([]string, 0, len(fields))
	for _, f := range fields {
		columns = append(columns, pq.QuoteIdentifier(f.Name))
	}

	rowsPerStatement := len(s.pending)
	if len(fields) > 0 {
		rowsPerStatement = min(rowsPerStatement, maxBindParameters/len(fields))
	}
	for start := 0; start < len(s.pending); start += rowsPerStatement {
		end := min(start+rowsPerStatement, len(s.pending))
		if err := s.insert(ctx, fields, columns, s.pending[start:end]); err != nil {
			return err
		}
		s.written += end - start
	}
	s.pending = s.pending[:0]
	return nil
}

func (s *PostgresSink) insert(ctx context.Context, fields []projection.Field, columns []string, records []*projection.Record) error {
	rows := make([]string, 0, len(records))
	args := make([]any, 0, len(records)*len(fields))
	for _, record := range records {
		placeholders := make([]string, 0, len(fields))
		for _, f := range fields {
			value, err := columnValue(f.Type.Type, record.Get(f.Name))
			if err != nil {
				return projection.NewProjectionError(projection.ErrorTypeIO, projection.ErrCodeSinkFailed,
					"encode column value").WithField(f.Name).WithCause(err)
			}
			args = append(args, value)
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		}
		rows = append(rows, "("+strings.Join(placeholders, ", ")+")")
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		sanitizeIdentifier(s.table), strings.Join(columns, ", "), strings.Join(rows, ", "))
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return projection.NewProjectionError(projection.ErrorTypeIO, projection.ErrCodeSinkFailed,
			fmt.Sprintf("insert %d records into %s", len(records), s.table)).WithCause(err)
	}
	return nil
}

func columnType(t projection.Type) string {
	switch t {
	case projection.TypeBoolean:
		return "BOOLEAN"
	case projection.TypeInt:
		return "INTEGER"
	case projection.TypeLong:
		return "BIGINT"
	case projection.TypeFloat:
		return "REAL"
	case projection.TypeDouble:
		return "DOUBLE PRECISION"
	case projection.TypeBytes:
		return "BYTEA"
	case projection.TypeString:
		return "TEXT"
	default:
		return "JSONB"
	}
}

func columnValue(t projection.Type, value any) (any, error) {
	if value == nil || t.IsSimple() {
		return value, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// sanitizeIdentifier quotes a possibly schema-qualified table name.
func sanitizeIdentifier(name string) string {
	parts := strings.Split(name, ".")
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.Trim(part, " \"")
		if trimmed == "" {
			continue
		}
		clean = append(clean, trimmed)
	}
	if len(clean) == 0 {
		clean = []string{name}
	}
	return pgx.Identifier(clean).Sanitize()
}
