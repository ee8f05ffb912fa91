package profile

import (
	"encoding/json"
	"os"
	"slices"
)

type Candidates struct {
	Items []*Candidate
}

type Opportunities struct {
	Items []*Opportunity
}

func (c *Candidates) Len() int {
	return len(c.Items)
}

func (c *Candidates) FindByID(id string) *Candidate {
	for _, candidate := range c.Items {
		if candidate.ID == id {
			return candidate
		}
	}
	return nil
}

func (c *Candidates) IDs() []string {
	ids := make([]string, 0, len(c.Items))
	for _, candidate := range c.Items {
		ids = append(ids, candidate.ID)
	}
	return ids
}

// Index returns the candidates keyed by id.
func (c *Candidates) Index() map[string]*Candidate {
	idx := make(map[string]*Candidate, len(c.Items))
	for _, candidate := range c.Items {
		idx[candidate.ID] = candidate
	}
	return idx
}

// Exclude removes candidates with the given ids, keeping input order, and returns the removed ids.
func (c *Candidates) Exclude(targets []string) []string {
	if len(targets) == 0 {
		return nil
	}
	var excluded []string
	kept := c.Items[:0:0]
	for _, candidate := range c.Items {
		if slices.Contains(targets, candidate.ID) {
			excluded = append(excluded, candidate.ID)
			continue
		}
		kept = append(kept, candidate)
	}
	c.Items = kept
	return excluded
}

// Clone returns a shallow copy; records are shared because they are immutable.
func (c *Candidates) Clone() *Candidates {
	return &Candidates{Items: slices.Clone(c.Items)}
}

func (o *Opportunities) Len() int {
	return len(o.Items)
}

func (o *Opportunities) FindByID(id string) *Opportunity {
	for _, opportunity := range o.Items {
		if opportunity.ID == id {
			return opportunity
		}
	}
	return nil
}

func (o *Opportunities) IDs() []string {
	ids := make([]string, 0, len(o.Items))
	for _, opportunity := range o.Items {
		ids = append(ids, opportunity.ID)
	}
	return ids
}

// Index returns the opportunities keyed by id.
func (o *Opportunities) Index() map[string]*Opportunity {
	idx := make(map[string]*Opportunity, len(o.Items))
	for _, opportunity := range o.Items {
		idx[opportunity.ID] = opportunity
	}
	return idx
}

// Exclude removes opportunities with the given ids, keeping input order, and returns the removed ids.
func (o *Opportunities) Exclude(targets []string) []string {
	if len(targets) == 0 {
		return nil
	}
	var excluded []string
	kept := o.Items[:0:0]
	for _, opportunity := range o.Items {
		if slices.Contains(targets, opportunity.ID) {
			excluded = append(excluded, opportunity.ID)
			continue
		}
		kept = append(kept, opportunity)
	}
	o.Items = kept
	return excluded
}

func (o *Opportunities) Clone() *Opportunities {
	return &Opportunities{Items: slices.Clone(o.Items)}
}

func (o *Opportunities) TotalCapacity() int {
	total := 0
	for _, opportunity := range o.Items {
		total += opportunity.Capacity
	}
	return total
}

// ExcludeList is the on-disk list of candidate ids kept out of every run.
type ExcludeList struct {
	Items []*ExcludedCandidate `json:"items"`
}

type ExcludedCandidate struct {
	ID     string `json:"id"`
	Reason string `json:"reason,omitempty"`
}

func (e *ExcludeList) IDs() []string {
	ids := make([]string, 0, len(e.Items))
	for _, item := range e.Items {
		ids = append(ids, item.ID)
	}
	return ids
}

// ReadExcludeFile loads an exclude list. An empty file yields an empty list.
func ReadExcludeFile(path string) (*ExcludeList, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return nil, err
	}

	if stat.Size() == 0 {
		return &ExcludeList{}, nil
	}

	var excluded ExcludeList
	if err := json.NewDecoder(file).Decode(&excluded); err != nil {
		return nil, err
	}
	return &excluded, nil
}
