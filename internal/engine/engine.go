// Package engine runs one allocation end to end: validation, embedding
// resolution, eligibility, scoring, preference lists, deferred acceptance,
// quota reconciliation and report assembly.
//
// A run either returns a complete report or an error; nothing partial leaves
// the engine.
package engine

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/spigell/allocator/internal/eligibility"
	"github.com/spigell/allocator/internal/embedding"
	"github.com/spigell/allocator/internal/matching"
	"github.com/spigell/allocator/internal/preference"
	"github.com/spigell/allocator/internal/profile"
	"github.com/spigell/allocator/internal/quota"
	"github.com/spigell/allocator/internal/report"
	"github.com/spigell/allocator/internal/scoring"
)

const tracerName = "github.com/spigell/allocator/internal/engine"

// Options configure an Engine. The zero value of every field is usable
// except Scoring, whose weights must sum to one.
type Options struct {
	Scoring     scoring.Config
	MinScore    float64
	Matching    matching.Config
	Reconcile   bool
	MaxSwaps    int
	Targets     []quota.Target
	Eligibility eligibility.Config
	// Disabled maps eligibility step names to the reason they are skipped.
	Disabled map[string]string

	Lookup           embedding.Lookup
	EmbeddingWorkers int
	// EmbeddingTimeout bounds the embedding stage only; zero means no limit.
	EmbeddingTimeout time.Duration
}

type Engine struct {
	opts       Options
	scorer     *scoring.Scorer
	matcher    *matching.Matcher
	reconciler *quota.Reconciler
	logger     *zap.Logger
	tracer     trace.Tracer
}

// Result is a finished run.
type Result struct {
	Report    *report.Report
	Canonical []byte
	Stable    *matching.Allocation
	Final     *matching.Allocation
	Embedding embedding.Stats
}

func New(opts Options, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	scorer, err := scoring.New(opts.Scoring)
	if err != nil {
		return nil, err
	}
	for _, t := range opts.Targets {
		if err := t.Validate(); err != nil {
			return nil, err
		}
	}

	return &Engine{
		opts:       opts,
		scorer:     scorer,
		matcher:    matching.New(opts.Matching, logger),
		reconciler: quota.NewReconciler(opts.MaxSwaps, logger),
		logger:     logger,
		tracer:     otel.Tracer(tracerName),
	}, nil
}

// WithDisabled returns a copy of the engine that skips the named eligibility
// steps. The receiver is unchanged.
func (e *Engine) WithDisabled(steps map[string]string) *Engine {
	c := *e
	c.opts.Disabled = make(map[string]string, len(e.opts.Disabled)+len(steps))
	for name, reason := range e.opts.Disabled {
		c.opts.Disabled[name] = reason
	}
	for name, reason := range steps {
		c.opts.Disabled[name] = reason
	}
	return &c
}

// Run allocates the dataset. The dataset is read, never modified.
func (e *Engine) Run(ctx context.Context, ds *profile.Dataset) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "allocate")
	defer span.End()

	res, err := e.run(ctx, ds)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(Classify(err)))
		e.logger.Error("allocation failed", zap.String("kind", string(Classify(err))), zap.Error(err))
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("allocator.matched", res.Report.Stats.Matched),
		attribute.Int("allocator.swaps", res.Report.Stats.Swaps),
	)
	return res, nil
}

func (e *Engine) run(ctx context.Context, ds *profile.Dataset) (*Result, error) {
	res := &Result{}

	err := e.stage(ctx, "validate", func(context.Context) ([]zap.Field, error) {
		return []zap.Field{
			zap.Int("candidates", ds.Candidates.Len()),
			zap.Int("opportunities", ds.Opportunities.Len()),
		}, ds.Validate()
	})
	if err != nil {
		return nil, err
	}

	candidates, opportunities := ds.Candidates, ds.Opportunities
	err = e.stage(ctx, "embeddings", func(ctx context.Context) ([]zap.Field, error) {
		if e.opts.EmbeddingTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, e.opts.EmbeddingTimeout)
			defer cancel()
		}
		var err error
		candidates, opportunities, res.Embedding, err = embedding.Resolve(ctx, e.opts.Lookup, e.opts.EmbeddingWorkers, candidates, opportunities, e.logger)
		return []zap.Field{zap.Int("resolved", res.Embedding.Resolved), zap.Int("missing", res.Embedding.Missing)}, err
	})
	if err != nil {
		return nil, err
	}
	// Looked-up vectors must agree with the supplied ones.
	if res.Embedding.Resolved > 0 {
		if err := profile.Validate(candidates, opportunities); err != nil {
			return nil, err
		}
	}

	pool := &eligibility.Pool{Candidates: candidates.Clone(), Opportunities: opportunities.Clone()}
	err = e.stage(ctx, "eligibility", func(ctx context.Context) ([]zap.Field, error) {
		steps := eligibility.DefaultSteps()
		for name, reason := range e.opts.Disabled {
			eligibility.DisableByName(steps, name, reason)
		}
		cfg := e.opts.Eligibility
		err := eligibility.Run(ctx, &cfg, eligibility.Deps{Logger: e.logger}, steps, pool)
		return []zap.Field{
			zap.Int("initial", candidates.Len()+opportunities.Len()),
			zap.Int("dropped", len(pool.Excluded)),
			zap.Int("left", pool.Candidates.Len()+pool.Opportunities.Len()),
		}, err
	})
	if err != nil {
		return nil, err
	}

	targets := e.targets(pool)

	var matrix *scoring.Matrix
	err = e.stage(ctx, "score", func(ctx context.Context) ([]zap.Field, error) {
		var err error
		matrix, err = e.scorer.ScoreAll(ctx, pool.Candidates, pool.Opportunities)
		if err != nil {
			return nil, err
		}
		return []zap.Field{zap.Int("pairs", matrix.Len())}, nil
	})
	if err != nil {
		return nil, err
	}

	var lists *preference.Lists
	err = e.stage(ctx, "preferences", func(context.Context) ([]zap.Field, error) {
		lists = preference.Build(matrix, e.opts.MinScore)
		cEntries, oEntries := lists.Sizes()
		return []zap.Field{
			zap.Float64("min_score", e.opts.MinScore),
			zap.Int("candidate_entries", cEntries),
			zap.Int("opportunity_entries", oEntries),
		}, nil
	})
	if err != nil {
		return nil, err
	}

	openings := make([]matching.Opening, 0, pool.Opportunities.Len())
	for _, o := range pool.Opportunities.Items {
		openings = append(openings, matching.Opening{ID: o.ID, Capacity: o.Capacity})
	}

	err = e.stage(ctx, "match", func(ctx context.Context) ([]zap.Field, error) {
		var err error
		res.Stable, err = e.matcher.Match(ctx, pool.Candidates.IDs(), openings, lists)
		if err != nil {
			return nil, err
		}
		return []zap.Field{zap.Int("rounds", res.Stable.Rounds), zap.Int("matched", len(res.Stable.Holder))}, nil
	})
	if err != nil {
		return nil, err
	}

	market := quota.Market{Candidates: pool.Candidates, Scores: matrix, Lists: lists}
	in := report.Input{
		Candidates:    pool.Candidates,
		Opportunities: pool.Opportunities,
		Scores:        matrix,
		Lists:         lists,
		Stable:        res.Stable,
		Excluded:      excluded(pool.Excluded),
	}
	res.Final = res.Stable

	err = e.stage(ctx, "quota", func(context.Context) ([]zap.Field, error) {
		if !e.opts.Reconcile || len(targets) == 0 {
			expanded, err := quota.Expand(targets, res.Stable.OpportunityIDs)
			if err != nil {
				return nil, err
			}
			in.Quotas = quota.Evaluate(res.Stable, expanded, market)
			return []zap.Field{zap.Bool("reconcile", false), zap.Int("targets", len(expanded))}, nil
		}
		reconciled, err := e.reconciler.Reconcile(res.Stable, targets, market)
		if err != nil {
			return nil, err
		}
		in.Reconciled = reconciled
		res.Final = reconciled.Allocation
		return []zap.Field{zap.Bool("reconcile", true), zap.Int("swaps", len(reconciled.Swaps))}, nil
	})
	if err != nil {
		return nil, err
	}

	err = e.stage(ctx, "report", func(context.Context) ([]zap.Field, error) {
		res.Report = report.Assemble(in)
		var err error
		res.Canonical, err = res.Report.Canonical()
		return []zap.Field{zap.Int("bytes", len(res.Canonical))}, err
	})
	if err != nil {
		return nil, err
	}

	return res, nil
}

// targets drops per-opportunity targets naming an opportunity that eligibility
// removed; those opportunities take no part in the run.
func (e *Engine) targets(pool *eligibility.Pool) []quota.Target {
	removed := map[string]struct{}{}
	for _, x := range pool.Excluded {
		if x.Entity == profile.EntityOpportunity {
			removed[x.ID] = struct{}{}
		}
	}

	out := make([]quota.Target, 0, len(e.opts.Targets))
	for _, t := range e.opts.Targets {
		if _, gone := removed[t.OpportunityID]; gone && t.OpportunityID != "" {
			e.logger.Warn("quota target skipped",
				zap.String("label", t.Label),
				zap.String("opportunity", t.OpportunityID),
				zap.String("reason", "opportunity excluded"),
			)
			continue
		}
		out = append(out, t)
	}
	return out
}

// stage runs fn inside a span and logs one entry with the fields fn returns.
func (e *Engine) stage(ctx context.Context, name string, fn func(context.Context) ([]zap.Field, error)) error {
	ctx, span := e.tracer.Start(ctx, name)
	defer span.End()

	start := time.Now()
	fields, err := fn(ctx)
	elapsed := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, name)
		return err
	}

	e.logger.Info("stage finished", append([]zap.Field{
		zap.String("stage", name),
		zap.Duration("duration", elapsed),
	}, fields...)...)
	return nil
}

func excluded(in []eligibility.Exclusion) []report.Excluded {
	out := make([]report.Excluded, 0, len(in))
	for _, x := range in {
		out = append(out, report.Excluded{Entity: x.Entity, ID: x.ID, Reason: x.Reason})
	}
	return out
}
