package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/emart/api/internal/platform/pagination"
)

const instrumentationName = "github.com/emart/api/internal/query"

// Engine executes a stage list against a named collection.
type Engine interface {
	Aggregate(ctx context.Context, collection string, stages []Stage) ([]Document, error)
}

// Executor runs the page and count variants of a plan and merges them into an envelope.
type Executor struct {
	engine  Engine
	tracer  trace.Tracer
	latency metric.Float64Histogram
}

// ExecutorOption customises an Executor.
type ExecutorOption func(*executorConfig)

type executorConfig struct {
	tracer trace.Tracer
	meter  metric.Meter
}

// WithTracer overrides the tracer used for pipeline spans.
func WithTracer(t trace.Tracer) ExecutorOption {
	return func(cfg *executorConfig) {
		cfg.tracer = t
	}
}

// WithMeter overrides the meter used for pipeline latency.
func WithMeter(m metric.Meter) ExecutorOption {
	return func(cfg *executorConfig) {
		cfg.meter = m
	}
}

// NewExecutor constructs an executor over engine.
func NewExecutor(engine Engine, opts ...ExecutorOption) (*Executor, error) {
	if engine == nil {
		return nil, errors.New("query: engine is required")
	}
	cfg := executorConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.tracer == nil {
		cfg.tracer = otel.Tracer(instrumentationName)
	}
	if cfg.meter == nil {
		cfg.meter = otel.GetMeterProvider().Meter(instrumentationName)
	}

	latency, err := cfg.meter.Float64Histogram(
		"query.pipeline.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency in milliseconds of list pipeline executions"),
	)
	if err != nil {
		return nil, fmt.Errorf("query: register latency metric: %w", err)
	}

	return &Executor{engine: engine, tracer: cfg.tracer, latency: latency}, nil
}

// Execute runs both variants concurrently. Either failing fails the whole request; a count variant
// yielding no rows means zero matches.
func (e *Executor) Execute(ctx context.Context, plan Plan) (pagination.Envelope[Document], error) {
	ctx, span := e.tracer.Start(ctx, "query.Execute", trace.WithAttributes(
		attribute.String("query.collection", plan.Collection),
		attribute.Int("query.page", plan.Page),
		attribute.Int("query.page_size", plan.PageSize),
	))
	defer span.End()

	started := time.Now()
	var (
		items []Document
		total int64
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		docs, err := e.engine.Aggregate(groupCtx, plan.Collection, plan.PageStages())
		if err != nil {
			return fmt.Errorf("page: %w", err)
		}
		items = docs
		return nil
	})
	group.Go(func() error {
		rows, err := e.engine.Aggregate(groupCtx, plan.Collection, plan.CountStages())
		if err != nil {
			return fmt.Errorf("count: %w", err)
		}
		n, err := countFromRows(rows)
		if err != nil {
			return err
		}
		total = n
		return nil
	})

	err := group.Wait()
	e.record(ctx, plan.Collection, started, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "pipeline failed")
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return pagination.Envelope[Document]{}, err
		}
		return pagination.Envelope[Document]{}, fmt.Errorf("%w: %s: %w", ErrStorage, plan.Collection, err)
	}

	span.SetAttributes(attribute.Int64("query.total_count", total))
	params := pagination.Params{Page: plan.Page, PageSize: plan.PageSize}
	return pagination.NewEnvelope(params, total, items), nil
}

// Count runs only the count variant of plan.
func (e *Executor) Count(ctx context.Context, plan Plan) (int64, error) {
	rows, err := e.engine.Aggregate(ctx, plan.Collection, plan.CountStages())
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrStorage, plan.Collection, err)
	}
	return countFromRows(rows)
}

func countFromRows(rows []Document) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	n, ok := AsInt(rows[0][DefaultCountField])
	if !ok {
		return 0, fmt.Errorf("count: unexpected row %v", rows[0])
	}
	return n, nil
}

func (e *Executor) record(ctx context.Context, collection string, started time.Time, err error) {
	if e.latency == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	elapsed := float64(time.Since(started)) / float64(time.Millisecond)
	e.latency.Record(ctx, elapsed, metric.WithAttributes(
		attribute.String("collection", collection),
		attribute.String("outcome", outcome),
	))
}
