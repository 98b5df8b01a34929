package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Pirikara/pipgate/internal/logger"
	"github.com/Pirikara/pipgate/internal/metrics"
	"github.com/Pirikara/pipgate/internal/policy"
	"github.com/Pirikara/pipgate/internal/requirement"
)

// DefaultConcurrency bounds collect-all fan-out
const DefaultConcurrency = 4

// VerdictResolver resolves a single specifier. *policy.Resolver implements it.
type VerdictResolver interface {
	Resolve(ctx context.Context, spec requirement.Specifier) policy.Verdict
}

// BatchResult is the outcome of one orchestration run
type BatchResult struct {
	RunID         string           `json:"run_id"`
	Mode          policy.Mode      `json:"mode"`
	Verdicts      []policy.Verdict `json:"verdicts"`
	Decision      policy.Decision  `json:"decision"`
	FirstBlocking *policy.Verdict  `json:"first_blocking,omitempty"`
}

// Proceed returns true if the installer may run
func (r BatchResult) Proceed() bool {
	return r.Decision == policy.DecisionProceed
}

// Orchestrator drives the resolver over a batch of specifiers. It never
// invokes the installer; the caller acts on the returned decision.
type Orchestrator struct {
	resolver    VerdictResolver
	concurrency int
	logger      *logger.Logger
	metrics     *metrics.Metrics
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithConcurrency bounds the number of in-flight lookups in collect-all mode
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithLogger logs every verdict
func WithLogger(l *logger.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// WithMetrics records verdicts and decisions
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// New creates a new orchestrator
func New(resolver VerdictResolver, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		resolver:    resolver,
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run resolves specs under the given mode. If ctx is cancelled the partial
// verdicts are discarded and ctx's error is returned.
func (o *Orchestrator) Run(ctx context.Context, specs []requirement.Specifier, mode policy.Mode) (BatchResult, error) {
	runID := uuid.New().String()

	var (
		verdicts []policy.Verdict
		err      error
	)
	switch mode {
	case policy.ModeAbortOnFirstBlock:
		verdicts, err = o.runSequential(ctx, runID, specs)
	case policy.ModeCollectAll:
		verdicts, err = o.runConcurrent(ctx, runID, specs)
	default:
		return BatchResult{}, fmt.Errorf("unknown mode: %s", mode)
	}
	if err != nil {
		o.logger.Warn("batch_cancelled", "Validation cancelled; no verdict is acted upon", map[string]interface{}{
			"run_id": runID,
			"error":  err.Error(),
		})
		return BatchResult{}, err
	}

	result := BatchResult{
		RunID:    runID,
		Mode:     mode,
		Verdicts: verdicts,
		Decision: policy.DecisionProceed,
	}
	for i := range verdicts {
		if verdicts[i].ShouldBlock() {
			first := verdicts[i]
			result.FirstBlocking = &first
			result.Decision = policy.DecisionAbort
			break
		}
	}

	o.metrics.IncrementDecision(string(result.Decision), string(mode))
	o.logger.Info("batch_decided", fmt.Sprintf("Batch decision: %s", result.Decision), map[string]interface{}{
		"run_id":   runID,
		"mode":     string(mode),
		"resolved": len(verdicts),
		"total":    len(specs),
	})

	return result, nil
}

// runSequential stops at the first verdict that is not allow; later
// specifiers are never queried.
func (o *Orchestrator) runSequential(ctx context.Context, runID string, specs []requirement.Specifier) ([]policy.Verdict, error) {
	verdicts := make([]policy.Verdict, 0, len(specs))
	for _, spec := range specs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		v := o.resolve(ctx, runID, policy.ModeAbortOnFirstBlock, spec)
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		verdicts = append(verdicts, v)
		if v.ShouldBlock() {
			break
		}
	}
	return verdicts, nil
}

// runConcurrent resolves every specifier with bounded fan-out. Verdicts are
// stored by index so order matches the request regardless of completion.
func (o *Orchestrator) runConcurrent(ctx context.Context, runID string, specs []requirement.Specifier) ([]policy.Verdict, error) {
	verdicts := make([]policy.Verdict, len(specs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)

	for i, spec := range specs {
		i, spec := i, spec
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			verdicts[i] = o.resolve(gctx, runID, policy.ModeCollectAll, spec)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return verdicts, nil
}

func (o *Orchestrator) resolve(ctx context.Context, runID string, mode policy.Mode, spec requirement.Specifier) policy.Verdict {
	start := time.Now()
	v := o.resolver.Resolve(ctx, spec)

	o.metrics.IncrementVerdict(string(v.Outcome))
	o.logger.LogVerdict(runID, spec.Name, spec.Version, string(v.Outcome), v.Reason, string(mode), time.Since(start))
	return v
}
