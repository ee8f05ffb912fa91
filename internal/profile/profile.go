package profile

import (
	"slices"
	"strings"
)

// Candidate is an applicant record as produced by the ingestion layer.
// It is never mutated after loading; derived copies are made with the With* helpers.
type Candidate struct {
	ID            string    `json:"id"`
	Name          string    `json:"name,omitempty"`
	Age           int       `json:"age,omitempty"`
	Skills        []string  `json:"skills"`
	Embedding     []float64 `json:"embedding,omitempty"`
	QuotaTags     []string  `json:"quota_tags,omitempty"`
	SkillStrength float64   `json:"skill_strength"`
	Text          string    `json:"text,omitempty"`
}

// Opportunity is a capacity-limited placement.
type Opportunity struct {
	ID                string    `json:"id"`
	Title             string    `json:"title,omitempty"`
	Organisation      string    `json:"organisation,omitempty"`
	RequiredSkills    []string  `json:"required_skills"`
	RequiredSkillText string    `json:"required_skill_text,omitempty"`
	Embedding         []float64 `json:"embedding,omitempty"`
	Capacity          int       `json:"capacity"`
}

// HasTag reports whether the candidate carries the quota label. Tags are
// compared normalized, so records built without New match too.
func (c *Candidate) HasTag(label string) bool {
	want := NormalizeToken(label)
	return want != "" && slices.ContainsFunc(c.QuotaTags, func(tag string) bool {
		return NormalizeToken(tag) == want
	})
}

// WithEmbedding returns a copy of the candidate carrying the vector.
func (c *Candidate) WithEmbedding(v []float64) *Candidate {
	cp := *c
	cp.Embedding = slices.Clone(v)
	return &cp
}

// EmbeddingText is the text handed to an embedding provider when no vector was supplied.
func (c *Candidate) EmbeddingText() string {
	if t := strings.TrimSpace(c.Text); t != "" {
		return t
	}
	return strings.Join(c.Skills, ", ")
}

// WithEmbedding returns a copy of the opportunity carrying the vector.
func (o *Opportunity) WithEmbedding(v []float64) *Opportunity {
	cp := *o
	cp.Embedding = slices.Clone(v)
	return &cp
}

// EmbeddingText is the text handed to an embedding provider when no vector was supplied.
func (o *Opportunity) EmbeddingText() string {
	parts := make([]string, 0, 2)
	if t := strings.TrimSpace(o.Title); t != "" {
		parts = append(parts, t)
	}
	if t := strings.TrimSpace(o.RequiredSkillText); t != "" {
		parts = append(parts, t)
	} else if len(o.RequiredSkills) > 0 {
		parts = append(parts, strings.Join(o.RequiredSkills, ", "))
	}
	return strings.Join(parts, ": ")
}

// NormalizeToken lowercases and trims a skill token or quota label.
func NormalizeToken(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeTokens returns the sorted, de-duplicated, normalized set.
// A nil input stays nil so that "absent" and "empty" remain distinguishable.
func NormalizeTokens(tokens []string) []string {
	if tokens == nil {
		return nil
	}
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if n := NormalizeToken(t); n != "" {
			out = append(out, n)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func (c *Candidate) normalize() {
	c.ID = strings.TrimSpace(c.ID)
	c.Skills = NormalizeTokens(c.Skills)
	c.QuotaTags = NormalizeTokens(c.QuotaTags)
}

func (o *Opportunity) normalize() {
	o.ID = strings.TrimSpace(o.ID)
	o.RequiredSkills = NormalizeTokens(o.RequiredSkills)
}
