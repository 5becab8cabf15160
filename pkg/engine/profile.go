package engine

import (
	"slices"
	"sync"
	"time"
)

// Traits holds the private and public trait documents of a profile.
type Traits struct {
	Private map[string]interface{} `json:"private" yaml:"private"`
	Public  map[string]interface{} `json:"public" yaml:"public"`
}

// ProfileMetadata holds profile timestamps.
type ProfileMetadata struct {
	Created time.Time `json:"created" yaml:"created"`
	Updated time.Time `json:"updated" yaml:"updated"`
}

// Operation carries the in-memory flags workflows set to request follow-up work.
// Operation flags are never persisted.
type Operation struct {
	// Update requests a profile save at the end of the invocation.
	Update bool

	// Segment requests a segmentation pass.
	Segment bool

	// Merge lists the trait paths identifying duplicate profiles.
	Merge []string
}

// Profile is the entity record events are attributed to.
type Profile struct {
	ID         string          `json:"id" yaml:"id"`
	Active     bool            `json:"active" yaml:"active"`
	MergedWith []string        `json:"mergedWith,omitempty" yaml:"mergedWith,omitempty"`
	Segments   []string        `json:"segments" yaml:"segments"`
	Traits     Traits          `json:"traits" yaml:"traits"`
	Metadata   ProfileMetadata `json:"metadata" yaml:"metadata"`
	Operation  Operation       `json:"-" yaml:"-"`

	mu sync.Mutex
}

// NewProfile creates an active profile with empty traits.
func NewProfile(id string) *Profile {
	now := time.Now().UTC()
	return &Profile{
		ID:       id,
		Active:   true,
		Segments: []string{},
		Traits: Traits{
			Private: map[string]interface{}{},
			Public:  map[string]interface{}{},
		},
		Metadata: ProfileMetadata{Created: now, Updated: now},
	}
}

// Mutate runs fn while holding the profile lock. Workflow executions of one
// invocation share the profile and must write to it through Mutate.
func (p *Profile) Mutate(fn func(p *Profile)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p)
}

// AddSegment adds a segment id to the profile's segment set. Adding an id that is
// already present is a no-op.
func (p *Profile) AddSegment(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Segments = addToSet(p.Segments, id)
}

// HasSegment reports whether the profile belongs to the segment.
func (p *Profile) HasSegment(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, found := slices.BinarySearch(p.Segments, id)
	return found
}

// NeedsSegmentation reports whether a workflow requested a segmentation pass.
func (p *Profile) NeedsSegmentation() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Operation.Segment
}

// NeedsMerging reports whether a workflow requested a merge.
func (p *Profile) NeedsMerging() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Operation.Merge) > 0
}

// NeedsUpdate reports whether the profile must be saved.
func (p *Profile) NeedsUpdate() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Operation.Update
}

// MarkUpdated flags the profile for saving.
func (p *Profile) MarkUpdated() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Operation.Update = true
}

// Snapshot returns a deep copy of the persisted fields of the profile. The copy
// shares no maps or slices with p.
func (p *Profile) Snapshot() *Profile {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.copyLocked()
}

func (p *Profile) copyLocked() *Profile {
	return &Profile{
		ID:         p.ID,
		Active:     p.Active,
		MergedWith: slices.Clone(p.MergedWith),
		Segments:   slices.Clone(p.Segments),
		Traits: Traits{
			Private: MergeTraits(nil, p.Traits.Private),
			Public:  MergeTraits(nil, p.Traits.Public),
		},
		Metadata: p.Metadata,
		Operation: Operation{
			Update:  p.Operation.Update,
			Segment: p.Operation.Segment,
			Merge:   slices.Clone(p.Operation.Merge),
		},
	}
}

// addToSet inserts v into the sorted unique slice s.
func addToSet(s []string, v string) []string {
	i, found := slices.BinarySearch(s, v)
	if found {
		return s
	}
	return slices.Insert(s, i, v)
}

// unionSet returns the sorted union of the given sets.
func unionSet(sets ...[]string) []string {
	out := []string{}
	for _, s := range sets {
		for _, v := range s {
			out = addToSet(out, v)
		}
	}
	return out
}
