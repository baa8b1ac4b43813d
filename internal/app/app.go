// Package app wires configuration into a ready-to-run review runtime shared
// by the command line and the editor server.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/dshills/swiss/internal/config"
	"github.com/dshills/swiss/internal/history"
	"github.com/dshills/swiss/internal/telemetry"
	"github.com/dshills/swiss/review"
	"github.com/dshills/swiss/review/emit"
	"github.com/dshills/swiss/review/model"
	"github.com/dshills/swiss/review/store"
)

// Version is reported as the telemetry service version.
var Version = "dev"

// ErrHistoryDisabled is returned by OpenHistory when history.enabled is false.
var ErrHistoryDisabled = errors.New("run history is disabled (set history.enabled in .swiss/swiss.yaml)")

// Runtime holds everything a review run needs. Create it with New and
// release it with Close.
type Runtime struct {
	Config  *config.Config
	BaseDir string
	Logger  *zap.Logger
	Store   *store.FileStore

	// Registry collects review metrics; exposed by the editor on /metrics.
	Registry *prometheus.Registry
	Metrics  *review.PrometheusMetrics

	client   model.Client
	emitter  emit.Emitter
	otel     *emit.OTelEmitter
	progress io.Writer
	now      func() time.Time

	mu      sync.Mutex
	history *history.Store
	closers []func(context.Context) error
}

// Option customizes a Runtime.
type Option func(*Runtime)

// WithClient replaces the provider client built from the configuration.
func WithClient(client model.Client) Option {
	return func(r *Runtime) { r.client = client }
}

// WithProgress directs progress lines to w (nil disables them).
func WithProgress(w io.Writer) Option {
	return func(r *Runtime) { r.progress = w }
}

// WithClock replaces time.Now for recorded run timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Runtime) { r.now = now }
}

// New builds a Runtime for the project at baseDir.
func New(ctx context.Context, baseDir string, cfg *config.Config, logger *zap.Logger, opts ...Option) (*Runtime, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	registry := prometheus.NewRegistry()
	r := &Runtime{
		Config:   cfg,
		BaseDir:  baseDir,
		Logger:   logger,
		Store:    store.NewFileStore(baseDir),
		Registry: registry,
		Metrics:  review.NewPrometheusMetrics(registry),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.client == nil {
		client, closeClient, err := NewClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		r.client = client
		r.closers = append(r.closers, func(context.Context) error { return closeClient() })
	}

	if err := r.buildEmitter(ctx); err != nil {
		_ = r.Close(ctx)
		return nil, err
	}
	return r, nil
}

func (r *Runtime) buildEmitter(ctx context.Context) error {
	multi := emit.NewMulti()

	if r.progress != nil && r.Config.Events.Format != "none" {
		multi.Add(emit.NewLogEmitter(r.progress, r.Config.Events.Format == "json"))
	}

	if r.Config.Telemetry.Enabled {
		shutdown, err := telemetry.Setup(ctx, r.Config.Telemetry, Version)
		if err != nil {
			return err
		}
		r.otel = emit.NewOTelEmitter(otel.Tracer("github.com/dshills/swiss/review"))
		multi.Add(r.otel)
		r.closers = append(r.closers, func(ctx context.Context) error {
			if err := r.otel.Flush(ctx); err != nil {
				r.Logger.Warn("failed to flush spans", zap.Error(err))
			}
			return shutdown(ctx)
		})
	}

	if url := r.Config.Events.NATSURL; url != "" {
		conn, err := emit.ConnectNATS(url, "swiss", r.Logger)
		if err != nil {
			return err
		}
		multi.Add(emit.NewNATSEmitter(conn, r.Config.Events.SubjectPrefix, r.Logger))
		r.closers = append(r.closers, func(context.Context) error {
			if err := conn.Flush(); err != nil {
				r.Logger.Warn("failed to flush NATS", zap.Error(err))
			}
			conn.Close()
			return nil
		})
	}

	r.emitter = multi
	return nil
}

// Report is the result of one Review call.
type Report struct {
	RunID      string
	Outcome    review.BatchOutcome
	Cost       *review.CostTracker
	StartedAt  time.Time
	FinishedAt time.Time
}

// Review runs the named workflows against input as one batch and records
// the run in history when enabled.
func (r *Runtime) Review(ctx context.Context, names []string, input review.Input) (Report, error) {
	runID := uuid.NewString()
	cost := review.NewCostTracker(runID, "USD")

	engine, err := review.New(r.client, r.Store,
		review.WithEmitter(r.emitter),
		review.WithLogger(r.Logger),
		review.WithMetrics(r.Metrics),
		review.WithCostTracker(cost),
		review.WithWorkingDir(r.BaseDir),
		review.WithRunIDGenerator(func() string { return runID }),
	)
	if err != nil {
		return Report{}, err
	}

	report := Report{RunID: runID, Cost: cost, StartedAt: r.now()}
	outcome, err := review.NewCoordinator(engine, r.Store).RunBatch(ctx, names, input)
	report.FinishedAt = r.now()
	if err != nil {
		return report, err
	}
	report.Outcome = outcome

	if r.Config.History.Enabled {
		if err := r.record(ctx, names, input, report); err != nil {
			// A run that finished is still reported.
			r.Logger.Warn("failed to record run history", zap.String("run_id", runID), zap.Error(err))
		}
	}
	return report, nil
}

func (r *Runtime) record(ctx context.Context, names []string, input review.Input, report Report) error {
	h, err := r.OpenHistory(ctx)
	if err != nil {
		return err
	}
	steps := 0
	for _, o := range report.Outcome.Runs {
		steps += o.StepsRun
	}
	kind := input.Kind
	if kind == "" {
		kind = review.KindText
	}
	return h.Record(ctx, history.Run{
		ID:         report.RunID,
		Workflows:  names,
		InputKind:  kind,
		StopReason: report.Outcome.StopReason,
		StepsRun:   steps,
		CostUSD:    report.Cost.GetTotalCost(),
		StartedAt:  report.StartedAt,
		FinishedAt: report.FinishedAt,
	}, report.Outcome.Runs)
}

// OpenHistory returns the history store, opening it on first use.
func (r *Runtime) OpenHistory(ctx context.Context) (*history.Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.history != nil {
		return r.history, nil
	}
	if !r.Config.History.Enabled {
		return nil, ErrHistoryDisabled
	}
	dsn := r.Config.History.DSN
	if r.Config.History.Driver == history.DriverSQLite && !filepath.IsAbs(dsn) && dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
		dsn = filepath.Join(r.BaseDir, dsn)
	}
	h, err := history.Open(ctx, r.Config.History.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	r.history = h
	return h, nil
}

// Close releases the provider client, event sinks and history store.
func (r *Runtime) Close(ctx context.Context) error {
	r.mu.Lock()
	closers := r.closers
	r.closers = nil
	h := r.history
	r.history = nil
	r.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if h != nil {
		if err := h.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
