package factory

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dsql/auth"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lychee-technology/projection"
	"github.com/lychee-technology/projection/internal"
	"github.com/lychee-technology/projection/internal/sink"
	"github.com/lychee-technology/projection/internal/source"
	"go.uber.org/zap"
)

// NewProjector validates the directives and builds a projector.
// If known is non-nil the directives are also checked against it and the
// provisional output schema is returned; otherwise the returned schema is nil
// and each input schema is validated when it is first seen.
//
// Usage:
//
//	import (
//	    "github.com/lychee-technology/projection"
//	    "github.com/lychee-technology/projection/factory"
//	)
//
//	cfg := projection.ProjectionConfig{Drop: "debug", Convert: "count:long"}
//	projector, _, err := factory.NewProjector(cfg, nil, projection.CacheConfig{})
//	if err != nil {
//	    // every failure is available through projection.Failures(err)
//	}
//	out, err := projector.Project(record)
func NewProjector(cfg projection.ProjectionConfig, known *projection.Schema, cache projection.CacheConfig) (projection.Projector, *projection.Schema, error) {
	spec, err := internal.ParseSpec(cfg, known)
	if err != nil {
		return nil, nil, err
	}
	projector := internal.NewRecordProjector(spec, cache)
	if known == nil {
		return projector, nil, nil
	}
	provisional, err := projector.OutputSchema(known)
	if err != nil {
		return nil, nil, err
	}
	return projector, provisional, nil
}

// NewSchemaRegistry loads known input schemas from dir.
func NewSchemaRegistry(dir string) (projection.SchemaRegistry, error) {
	return internal.NewFileSchemaRegistryFromDirectory(dir)
}

// NewSource opens the configured record source.
func NewSource(ctx context.Context, cfg projection.SourceConfig) (projection.RecordSource, error) {
	return source.NewDuckDBSource(ctx, cfg)
}

// NewSink creates the configured sink. The returned cleanup releases
// connections owned by the sink and must be called after the sink is closed.
func NewSink(ctx context.Context, cfg projection.SinkConfig, stdout io.Writer) (projection.RecordSink, func(), error) {
	noop := func() {}
	switch cfg.Kind {
	case projection.SinkStdout, "":
		// hide Close so the sink never closes stdout
		return sink.NewJSONLinesSink(struct{ io.Writer }{stdout}), noop, nil
	case projection.SinkFile:
		f, err := os.Create(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create output file: %w", err)
		}
		return sink.NewJSONLinesSink(f), noop, nil
	case projection.SinkPostgres:
		pool, err := NewPostgresPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		return sink.NewPostgresSink(pool, cfg.Postgres.Table, cfg.BatchSize), pool.Close, nil
	case projection.SinkS3:
		client, err := NewS3Client(ctx, cfg.S3)
		if err != nil {
			return nil, nil, err
		}
		runID, err := uuid.NewV7()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to generate run id: %w", err)
		}
		return sink.NewS3SinkFromClient(client, cfg.S3.Bucket, cfg.S3.Prefix, runID), noop, nil
	default:
		return nil, nil, &projection.ConfigError{Field: "sink.kind", Message: fmt.Sprintf("unknown sink '%s'", cfg.Kind)}
	}
}

// NewPostgresPool creates a PostgreSQL connection pool. With UseIAM each new
// connection authenticates with a fresh Aurora DSQL token.
func NewPostgresPool(ctx context.Context, cfg projection.PostgresConfig) (*pgxpool.Pool, error) {
	connString := cfg.URL
	if connString == "" {
		connString = fmt.Sprintf(
			"postgres://%s:%s@%s:%d/%s?sslmode=%s",
			cfg.Username,
			cfg.Password,
			cfg.Host,
			cfg.Port,
			cfg.Database,
			cfg.SSLMode,
		)
	}

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConnections)
	}
	poolConfig.ConnConfig.ConnectTimeout = cfg.Timeout

	if cfg.UseIAM {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		endpoint := fmt.Sprintf("%s:%d", poolConfig.ConnConfig.Host, poolConfig.ConnConfig.Port)
		poolConfig.BeforeConnect = func(ctx context.Context, conn *pgx.ConnConfig) error {
			token, err := auth.GenerateDbConnectAuthToken(ctx, endpoint, awsCfg.Region, awsCfg.Credentials)
			if err != nil {
				return fmt.Errorf("generate dsql auth token: %w", err)
			}
			conn.Password = token
			return nil
		}
		zap.S().Infow("using IAM auth for postgres", "endpoint", endpoint, "region", awsCfg.Region)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// NewS3Client builds an S3 client. Static credentials and a custom endpoint
// are used when configured, e.g. for MinIO.
func NewS3Client(ctx context.Context, cfg projection.S3Config) (*s3.Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	if cfg.Endpoint != "" {
		loadOpts = append(loadOpts, awsconfig.WithBaseEndpoint(cfg.Endpoint))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
	}), nil
}

// Run wires source, projector, pipeline and sink from cfg and executes one
// run. stdout receives records for the stdout sink.
func Run(ctx context.Context, cfg *projection.Config, stdout io.Writer) (projection.RunStats, error) {
	if err := cfg.Validate(); err != nil {
		return projection.RunStats{}, err
	}

	var known *projection.Schema
	if cfg.Source.Schema != "" {
		registry, err := NewSchemaRegistry(cfg.Source.SchemaDir)
		if err != nil {
			return projection.RunStats{}, fmt.Errorf("failed to create schema registry: %w", err)
		}
		known, err = registry.GetSchema(cfg.Source.Schema)
		if err != nil {
			return projection.RunStats{}, err
		}
	}

	projector, provisional, err := NewProjector(cfg.Projection, known, cfg.Cache)
	if err != nil {
		return projection.RunStats{}, err
	}
	if provisional != nil {
		zap.S().Infow("provisional output schema", "schema", provisional.String())
	}

	src, err := NewSource(ctx, cfg.Source)
	if err != nil {
		return projection.RunStats{}, err
	}
	out, cleanup, err := NewSink(ctx, cfg.Sink, stdout)
	if err != nil {
		src.Close()
		return projection.RunStats{}, err
	}
	defer cleanup()

	return internal.NewPipeline(projector, cfg.Pipeline).Run(ctx, src, out)
}
