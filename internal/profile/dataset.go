package profile

import (
	"fmt"
	"os"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Dataset is one allocation snapshot: every candidate and opportunity of a run.
type Dataset struct {
	Candidates    *Candidates
	Opportunities *Opportunities
}

type rawDataset struct {
	Candidates    []*Candidate   `json:"candidates"`
	Opportunities []*Opportunity `json:"opportunities"`
}

// LoadFile reads a YAML or JSON dataset from disk.
func LoadFile(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading dataset %q: %w", path, err)
	}

	ds, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("dataset %q: %w", path, err)
	}
	return ds, nil
}

// Parse decodes a YAML or JSON document into a normalized dataset.
// Unknown keys are rejected so that typos never silently drop a signal.
func Parse(data []byte) (*Dataset, error) {
	var items map[string]any
	if err := yaml.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}

	var raw rawDataset
	cfg := &mapstructure.DecoderConfig{
		Result:           &raw,
		TagName:          "json",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	}
	decoder, err := mapstructure.NewDecoder(cfg)
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(items); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	return New(raw.Candidates, raw.Opportunities), nil
}

// New builds a dataset from already-decoded records, normalizing skill tokens and tags.
func New(candidates []*Candidate, opportunities []*Opportunity) *Dataset {
	for _, c := range candidates {
		if c != nil {
			c.normalize()
		}
	}
	for _, o := range opportunities {
		if o != nil {
			o.normalize()
		}
	}
	return &Dataset{
		Candidates:    &Candidates{Items: candidates},
		Opportunities: &Opportunities{Items: opportunities},
	}
}

// Validate checks the snapshot.
func (d *Dataset) Validate() error {
	return Validate(d.Candidates, d.Opportunities)
}
