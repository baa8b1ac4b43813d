package review

import (
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dshills/swiss/review/emit"
)

// Option configures an Engine.
//
//	engine, err := review.New(client, prompts,
//	    review.WithEmitter(emit.NewLogEmitter(os.Stderr, false)),
//	    review.WithWorkingDir(repoRoot),
//	    review.WithLogger(logger),
//	)
type Option func(*engineConfig) error

type engineConfig struct {
	emitter     emit.Emitter
	metrics     *PrometheusMetrics
	costTracker *CostTracker
	workingDir  string
	logger      *zap.Logger
	newRunID    func() string
}

func defaultEngineConfig() engineConfig {
	return engineConfig{
		emitter:  emit.NewNullEmitter(),
		logger:   zap.NewNop(),
		newRunID: uuid.NewString,
	}
}

// WithEmitter sets the progress observer. Default: emit.NullEmitter.
func WithEmitter(e emit.Emitter) Option {
	return func(cfg *engineConfig) error {
		if e == nil {
			return errors.New("emitter must not be nil")
		}
		cfg.emitter = e
		return nil
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(metrics *PrometheusMetrics) Option {
	return func(cfg *engineConfig) error {
		cfg.metrics = metrics
		return nil
	}
}

// WithCostTracker records token usage and cost of every step.
func WithCostTracker(tracker *CostTracker) Option {
	return func(cfg *engineConfig) error {
		cfg.costTracker = tracker
		return nil
	}
}

// WithWorkingDir sets the directory under review. It is passed to every
// thread; local providers run inside it.
func WithWorkingDir(dir string) Option {
	return func(cfg *engineConfig) error {
		cfg.workingDir = dir
		return nil
	}
}

// WithLogger sets the diagnostic logger. Default: zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *engineConfig) error {
		if logger == nil {
			return errors.New("logger must not be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithRunIDGenerator replaces the run ID source (uuid.NewString by default).
func WithRunIDGenerator(fn func() string) Option {
	return func(cfg *engineConfig) error {
		if fn == nil {
			return errors.New("run ID generator must not be nil")
		}
		cfg.newRunID = fn
		return nil
	}
}
