package internal

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lychee-technology/projection"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// closeTimeout bounds the final sink flush once the run has ended.
const closeTimeout = 30 * time.Second

// Pipeline pulls records from a source, projects them on a pool of workers
// and hands the results to a single sink writer in source order.
type Pipeline struct {
	projector projection.Projector
	validator *OutputValidator
	cfg       projection.PipelineConfig
}

type pipelineItem struct {
	seq    int64
	record *projection.Record
	err    error
}

// NewPipeline creates a pipeline. Output validation is enabled by
// cfg.ValidateOutput.
func NewPipeline(projector projection.Projector, cfg projection.PipelineConfig) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.OnError == "" {
		cfg.OnError = projection.ErrorPolicyFail
	}
	p := &Pipeline{projector: projector, cfg: cfg}
	if cfg.ValidateOutput {
		p.validator = NewOutputValidator()
	}
	return p
}

// Run drains src into sink. Both are closed before Run returns.
func (p *Pipeline) Run(ctx context.Context, src projection.RecordSource, sink projection.RecordSink) (projection.RunStats, error) {
	start := time.Now()
	var read, written, skipped atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan pipelineItem, p.cfg.BufferSize)
	results := make(chan pipelineItem, p.cfg.BufferSize)

	g.Go(func() error {
		defer close(jobs)
		for seq := int64(0); ; seq++ {
			if err := gctx.Err(); err != nil {
				return err
			}
			record, err := src.Next(gctx)
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			read.Add(1)
			select {
			case jobs <- pipelineItem{seq: seq, record: record}:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	var workers sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		workers.Add(1)
		g.Go(func() error {
			defer workers.Done()
			for job := range jobs {
				out, err := p.projectOne(job.record)
				if err != nil && !p.skippable(err) {
					return err
				}
				select {
				case results <- pipelineItem{seq: job.seq, record: out, err: err}:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		workers.Wait()
		close(results)
		return nil
	})

	g.Go(func() error {
		pending := make(map[int64]pipelineItem)
		var next int64
		for item := range results {
			pending[item.seq] = item
			for {
				ready, ok := pending[next]
				if !ok {
					break
				}
				delete(pending, next)
				next++
				if ready.err != nil {
					skipped.Add(1)
					zap.S().Warnw("skipping record", "seq", ready.seq, "error", ready.err)
					continue
				}
				if err := sink.Write(gctx, ready.record); err != nil {
					return err
				}
				written.Add(1)
			}
		}
		return nil
	})

	err := g.Wait()
	// a cancelled run still flushes what it wrote
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer cancel()
	err = multierr.Combine(err, sink.Close(closeCtx), src.Close())

	stats := projection.RunStats{
		Read:     read.Load(),
		Written:  written.Load(),
		Skipped:  skipped.Load(),
		Duration: time.Since(start),
	}
	if err != nil {
		zap.S().Errorw("pipeline run failed", "read", stats.Read, "written", stats.Written, "skipped", stats.Skipped, "error", err)
		return stats, err
	}
	zap.S().Infow("pipeline run finished", "read", stats.Read, "written", stats.Written, "skipped", stats.Skipped, "duration", stats.Duration)
	return stats, nil
}

func (p *Pipeline) projectOne(record *projection.Record) (*projection.Record, error) {
	out, err := p.projector.Project(record)
	if err != nil {
		return nil, err
	}
	if p.validator != nil {
		if err := p.validator.Validate(out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// skippable reports whether err may be skipped under the configured policy.
// Configuration errors always stop the run.
func (p *Pipeline) skippable(err error) bool {
	return p.cfg.OnError == projection.ErrorPolicySkip && !projection.IsConfigurationError(err)
}
