package scoring

import (
	"fmt"
	"math"
	"runtime"
)

const weightSumTolerance = 1e-9

// Weights is the convex combination applied to the four sub-scores.
type Weights struct {
	Semantic float64 `mapstructure:"semantic" json:"semantic"`
	Overlap  float64 `mapstructure:"overlap" json:"overlap"`
	Strength float64 `mapstructure:"strength" json:"strength"`
	Bonus    float64 `mapstructure:"bonus" json:"bonus"`
}

// DefaultWeights are the weights of the reference deployment.
func DefaultWeights() Weights {
	return Weights{Semantic: 0.40, Overlap: 0.35, Strength: 0.15, Bonus: 0.10}
}

func (w Weights) Validate() error {
	for name, v := range map[string]float64{
		"semantic": w.Semantic,
		"overlap":  w.Overlap,
		"strength": w.Strength,
		"bonus":    w.Bonus,
	} {
		if math.IsNaN(v) || v < 0 {
			return fmt.Errorf("weight %s must be non-negative, got %v", name, v)
		}
	}
	sum := w.Semantic + w.Overlap + w.Strength + w.Bonus
	if math.Abs(sum-1) > weightSumTolerance {
		return fmt.Errorf("weights must sum to 1, got %v", sum)
	}
	return nil
}

// Bonuses maps quota labels to the bonus a tagged candidate receives.
type Bonuses struct {
	PerLabel map[string]float64 `mapstructure:"per-label" json:"per_label"`
	Cap      float64            `mapstructure:"cap" json:"cap"`
}

// DefaultBonuses mirrors the affirmative-action table of the reference deployment.
func DefaultBonuses() Bonuses {
	return Bonuses{
		PerLabel: map[string]float64{
			"rural": 0.05,
			"sc":    0.05,
			"st":    0.05,
			"obc":   0.03,
		},
		Cap: 0.10,
	}
}

func (b Bonuses) Validate() error {
	if math.IsNaN(b.Cap) || b.Cap < 0 {
		return fmt.Errorf("bonus cap must be non-negative, got %v", b.Cap)
	}
	for label, v := range b.PerLabel {
		if math.IsNaN(v) || v < 0 {
			return fmt.Errorf("bonus for %q must be non-negative, got %v", label, v)
		}
	}
	return nil
}

// Config configures a Scorer.
type Config struct {
	Weights Weights `mapstructure:"weights"`
	Bonuses Bonuses `mapstructure:"bonuses"`
	// Workers bounds the parallelism of ScoreAll. Zero means GOMAXPROCS.
	Workers int `mapstructure:"workers"`
}

func DefaultConfig() Config {
	return Config{Weights: DefaultWeights(), Bonuses: DefaultBonuses()}
}

func (c Config) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.GOMAXPROCS(0)
}
