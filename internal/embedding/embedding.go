// Package embedding resolves vectors for records that arrive without one.
//
// Lookups are consulted once, before a run starts. The resolved records are
// new values; the loaded snapshot is never modified.
package embedding

import (
	"context"
	"errors"
	"os"
	"runtime"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/spigell/allocator/internal/profile"
)

// ErrNotFound is returned by a Lookup that holds no vector for the entity.
var ErrNotFound = errors.New("embedding not found")

// Lookup is a read-only id → vector capability. Text is the record's
// embedding text, used by providers that compute vectors on demand.
type Lookup interface {
	Name() string
	Vector(ctx context.Context, entity, id, text string) ([]float64, error)
}

type Key struct {
	Entity string
	ID     string
}

// Static serves vectors held in memory.
type Static map[Key][]float64

func (s Static) Name() string { return "static" }

func (s Static) Vector(_ context.Context, entity, id, _ string) ([]float64, error) {
	v, ok := s[Key{Entity: entity, ID: id}]
	if !ok || len(v) == 0 {
		return nil, ErrNotFound
	}
	return v, nil
}

type staticFile struct {
	Candidates    map[string][]float64 `yaml:"candidates"`
	Opportunities map[string][]float64 `yaml:"opportunities"`
}

// LoadStatic reads a YAML or JSON vectors file:
//
//	candidates: {C1: [0.1, 0.2]}
//	opportunities: {O1: [0.2, 0.1]}
func LoadStatic(path string) (Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read vectors file %s", path)
	}
	var file staticFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, eris.Wrapf(err, "parse vectors file %s", path)
	}

	out := make(Static, len(file.Candidates)+len(file.Opportunities))
	for id, v := range file.Candidates {
		out[Key{Entity: profile.EntityCandidate, ID: id}] = v
	}
	for id, v := range file.Opportunities {
		out[Key{Entity: profile.EntityOpportunity, ID: id}] = v
	}
	return out, nil
}

// Chain asks each lookup in order; the first hit wins.
type Chain []Lookup

func (c Chain) Name() string { return "chain" }

func (c Chain) Vector(ctx context.Context, entity, id, text string) ([]float64, error) {
	for _, l := range c {
		v, err := l.Vector(ctx, entity, id, text)
		switch {
		case err == nil:
			return v, nil
		case errors.Is(err, ErrNotFound):
			continue
		default:
			return nil, eris.Wrapf(err, "%s lookup for %s %s", l.Name(), entity, id)
		}
	}
	return nil, ErrNotFound
}

// Stats counts what Resolve did.
type Stats struct {
	Supplied int
	Resolved int
	Missing  int
}

// Resolve returns copies of the collections in which every record without a
// vector carries the one the lookup provides. Records the lookup does not know
// stay without a vector and are left to the missing-signal policy.
func Resolve(ctx context.Context, lookup Lookup, workers int, candidates *profile.Candidates, opportunities *profile.Opportunities, logger *zap.Logger) (*profile.Candidates, *profile.Opportunities, Stats, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	outC := &profile.Candidates{Items: make([]*profile.Candidate, len(candidates.Items))}
	outO := &profile.Opportunities{Items: make([]*profile.Opportunity, len(opportunities.Items))}
	copy(outC.Items, candidates.Items)
	copy(outO.Items, opportunities.Items)

	var stats Stats
	if lookup == nil {
		stats.Supplied, stats.Missing = countVectors(outC, outO)
		return outC, outO, stats, nil
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, c := range candidates.Items {
		if len(c.Embedding) > 0 {
			continue
		}
		g.Go(func() error {
			v, err := lookup.Vector(gCtx, profile.EntityCandidate, c.ID, c.EmbeddingText())
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			outC.Items[i] = c.WithEmbedding(v)
			return nil
		})
	}
	for i, o := range opportunities.Items {
		if len(o.Embedding) > 0 {
			continue
		}
		g.Go(func() error {
			v, err := lookup.Vector(gCtx, profile.EntityOpportunity, o.ID, o.EmbeddingText())
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			outO.Items[i] = o.WithEmbedding(v)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, Stats{}, eris.Wrap(err, "resolve embeddings")
	}

	before, _ := countVectors(candidates, opportunities)
	after, missing := countVectors(outC, outO)
	stats = Stats{Supplied: before, Resolved: after - before, Missing: missing}

	logger.Info("embeddings resolved",
		zap.String("lookup", lookup.Name()),
		zap.Int("supplied", stats.Supplied),
		zap.Int("resolved", stats.Resolved),
		zap.Int("missing", stats.Missing),
	)

	return outC, outO, stats, nil
}

func countVectors(candidates *profile.Candidates, opportunities *profile.Opportunities) (with, without int) {
	for _, c := range candidates.Items {
		if len(c.Embedding) > 0 {
			with++
		} else {
			without++
		}
	}
	for _, o := range opportunities.Items {
		if len(o.Embedding) > 0 {
			with++
		} else {
			without++
		}
	}
	return with, without
}
