package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/lychee-technology/projection"
	"github.com/lychee-technology/projection/factory"
	"github.com/lychee-technology/projection/internal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// stringList collects a repeatable flag; each value may itself be a comma list.
type stringList []string

func (l *stringList) String() string {
	return strings.Join(*l, ",")
}

func (l *stringList) Set(value string) error {
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*l = append(*l, part)
		}
	}
	return nil
}

func main() {
	var inputs stringList
	flag.Var(&inputs, "input", "Input file(s) to project; repeatable or comma separated (required unless -print-schema)")
	configFile := flag.String("config", "", "Optional JSON config file; flags override its values")
	drop := flag.String("drop", "", "Comma-separated fields to drop")
	keep := flag.String("keep", "", "Comma-separated fields to keep")
	rename := flag.String("rename", "", "Comma-separated old:new pairs")
	convert := flag.String("convert", "", "Comma-separated field:type pairs")
	schemaDir := flag.String("schema-dir", "", "Directory containing *.schema.json files")
	schemaName := flag.String("schema", "", "Known input schema name in -schema-dir")
	format := flag.String("format", "", "Input format (csv, parquet, json); inferred from the extension when empty")
	pathField := flag.String("path-field", "", "Append the input file path as this string field")
	sinkKind := flag.String("sink", "", "Output sink: stdout, file, postgres or s3")
	output := flag.String("output", "", "Output path for the file sink")
	table := flag.String("table", "", "Target table for the postgres sink")
	dbURL := flag.String("db", "", "PostgreSQL connection URL (or set DATABASE_URL env)")
	bucket := flag.String("bucket", "", "Target bucket for the s3 sink")
	prefix := flag.String("prefix", "", "Object key prefix for the s3 sink")
	onError := flag.String("on-error", "", "Record error policy: fail or skip")
	workers := flag.Int("workers", 0, "Number of projection workers")
	printSchema := flag.Bool("print-schema", false, "Print the output schema for -schema and exit")
	validateOutput := flag.Bool("validate-output", false, "Validate projected records against the output JSON Schema")
	verbose := flag.Bool("verbose", false, "Enable verbose logging")
	flag.Parse()

	cfg := projection.DefaultConfig()
	if *configFile != "" {
		loaded, err := projection.LoadConfig(*configFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		cfg = loaded
	}

	logger, err := buildLogger(cfg.Logging, *verbose)
	if err != nil {
		panic(fmt.Errorf("failed to build logger: %w", err))
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	sugar := logger.Sugar()

	overrideString(&cfg.Projection.Drop, *drop)
	overrideString(&cfg.Projection.Keep, *keep)
	overrideString(&cfg.Projection.Rename, *rename)
	overrideString(&cfg.Projection.Convert, *convert)
	overrideString(&cfg.Source.SchemaDir, *schemaDir)
	overrideString(&cfg.Source.Schema, *schemaName)
	overrideString(&cfg.Source.Format, *format)
	overrideString(&cfg.Source.PathField, *pathField)
	if len(inputs) > 0 {
		cfg.Source.Paths = inputs
	}
	overrideString((*string)(&cfg.Sink.Kind), *sinkKind)
	overrideString(&cfg.Sink.Path, *output)
	overrideString(&cfg.Sink.Postgres.Table, *table)
	overrideString(&cfg.Sink.Postgres.URL, *dbURL)
	if cfg.Sink.Postgres.URL == "" {
		cfg.Sink.Postgres.URL = os.Getenv("DATABASE_URL")
	}
	overrideString(&cfg.Sink.S3.Bucket, *bucket)
	overrideString(&cfg.Sink.S3.Prefix, *prefix)
	overrideString((*string)(&cfg.Pipeline.OnError), *onError)
	if *workers > 0 {
		cfg.Pipeline.Workers = *workers
	}
	if *validateOutput {
		cfg.Pipeline.ValidateOutput = true
	}

	if *printSchema {
		if err := printOutputSchema(cfg); err != nil {
			reportFailure(sugar, err)
			os.Exit(1)
		}
		return
	}

	if len(cfg.Source.Paths) == 0 {
		sugar.Error("Error: -input flag is required")
		flag.Usage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stats, err := factory.Run(ctx, cfg, os.Stdout)
	if err != nil {
		reportFailure(sugar, err)
		os.Exit(1)
	}
	sugar.Infof("Projected %d of %d records (%d skipped) in %s", stats.Written, stats.Read, stats.Skipped, stats.Duration)
}

func buildLogger(cfg projection.LoggingConfig, verbose bool) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	zapCfg.Encoding = "console"
	if cfg.Format == "json" {
		zapCfg.Encoding = "json"
	}
	// records go to stdout
	zapCfg.OutputPaths = []string{"stderr"}
	if cfg.Level != "" {
		level, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		zapCfg.Level = zap.NewAtomicLevelAt(level)
	}
	if verbose {
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		zapCfg.Development = true
	}
	return zapCfg.Build()
}

func overrideString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

func printOutputSchema(cfg *projection.Config) error {
	if cfg.Source.Schema == "" || cfg.Source.SchemaDir == "" {
		return errors.New("-print-schema requires -schema and -schema-dir")
	}
	registry, err := factory.NewSchemaRegistry(cfg.Source.SchemaDir)
	if err != nil {
		return err
	}
	known, err := registry.GetSchema(cfg.Source.Schema)
	if err != nil {
		return err
	}
	_, provisional, err := factory.NewProjector(cfg.Projection, known, cfg.Cache)
	if err != nil {
		return err
	}

	doc := struct {
		Schema     *projection.Schema `json:"schema"`
		JSONSchema any                `json:"jsonSchema"`
	}{provisional, internal.ToJSONSchema(provisional)}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func reportFailure(sugar *zap.SugaredLogger, err error) {
	failures := projection.Failures(err)
	if len(failures) == 0 {
		sugar.Errorf("Projection failed: %v", err)
		return
	}
	for _, f := range failures {
		sugar.Errorw(f.Message, "code", f.Code, "field", f.Field, "property", f.Property, "elements", f.Elements, "corrective", f.Corrective)
	}
	sugar.Errorf("Projection failed with %d error(s)", len(failures))
}
