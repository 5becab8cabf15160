package engine

import (
	"cmp"
	"context"
	"slices"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Merger collapses active profiles that share merge-key values into one canonical
// profile.
type Merger struct {
	profiles ProfileStore
	logger   zerolog.Logger
	opts     options
}

// NewMerger creates a new merger.
func NewMerger(profiles ProfileStore, logger zerolog.Logger, opts ...Option) *Merger {
	return &Merger{
		profiles: profiles,
		logger:   logger.With().Str("component", "merger").Logger(),
		opts:     newOptions(opts),
	}
}

// MaybeMerge merges profile with every other active profile matching the values of
// its merge keys. It returns the profile to continue the invocation with: the
// canonical profile when a merge happened, profile itself otherwise.
//
// The canonical profile is the participant with the smallest id. Traits of the
// other participants are folded in ascending id order with the in-memory profile
// last. Every other participant is deactivated and points at the canonical id.
// Deactivations and the canonical save run concurrently; a failure of either is
// returned as a persistence error after both finish. A failed merge is not rolled
// back.
func (m *Merger) MaybeMerge(ctx context.Context, profile *Profile) (*Profile, *MergeInfo, error) {
	current := profile.Snapshot()
	if len(current.Operation.Merge) == 0 {
		return profile, nil, nil
	}

	ctx, span := m.opts.tracer.Start(ctx, "profile.merge")
	defer span.End()
	span.SetAttributes(attribute.String("profile", current.ID), attribute.StringSlice("keys", current.Operation.Merge))

	pairs, ok, err := m.keyValues(current)
	if err != nil {
		return profile, nil, err
	}
	if !ok {
		return profile, nil, nil
	}

	matches, err := m.profiles.FindActiveByKeys(ctx, pairs)
	if err != nil {
		perr := NewPersistenceError("failed to find merge candidates", err)
		m.fail(span, perr)
		return profile, nil, perr
	}

	others := dedupeOthers(matches, current.ID)
	if len(others) == 0 {
		m.logger.Debug().Str("profile", current.ID).Msg("No profiles to merge")
		return profile, nil, nil
	}

	canonical, losers := m.fold(current, others)

	var g errgroup.Group
	g.Go(func() error {
		return m.profiles.BulkSave(ctx, losers)
	})
	g.Go(func() error {
		return m.profiles.Save(ctx, canonical)
	})
	if err := g.Wait(); err != nil {
		perr := NewPersistenceError("failed to save merged profiles", err)
		m.fail(span, perr)
		return profile, nil, perr
	}

	info := &MergeInfo{CanonicalID: canonical.ID, Deactivated: make([]string, 0, len(losers))}
	for _, l := range losers {
		info.Deactivated = append(info.Deactivated, l.ID)
	}

	m.opts.metrics.RecordProfilesMerged(len(losers))
	m.logger.Info().
		Str("canonical", canonical.ID).
		Strs("deactivated", info.Deactivated).
		Msg("Profiles merged")

	return canonical, info, nil
}

// keyValues reads the merge key values from the flattened profile. It reports
// false when any key has no value.
func (m *Merger) keyValues(p *Profile) ([]KeyValue, bool, error) {
	doc, err := ToDocument(p)
	if err != nil {
		return nil, false, err
	}
	flat := Flatten(doc)

	pairs := make([]KeyValue, 0, len(p.Operation.Merge))
	for _, key := range p.Operation.Merge {
		v, ok := flat[key]
		if !ok || v == nil {
			m.logger.Warn().Str("profile", p.ID).Str("key", key).Msg("Merge key has no value, skipping merge")
			return nil, false, nil
		}
		pairs = append(pairs, KeyValue{Field: key, Value: v})
	}
	return pairs, true, nil
}

// fold builds the canonical profile and the deactivated losers. others must be
// sorted by id and exclude current.
func (m *Merger) fold(current *Profile, others []*Profile) (*Profile, []*Profile) {
	participants := append(slices.Clone(others), current)

	canonicalID := current.ID
	for _, p := range others {
		if p.ID < canonicalID {
			canonicalID = p.ID
		}
	}

	now := m.opts.now().UTC()
	canonical := &Profile{
		ID:     canonicalID,
		Active: true,
		Traits: Traits{
			Private: map[string]interface{}{},
			Public:  map[string]interface{}{},
		},
		Metadata: ProfileMetadata{Updated: now},
		Operation: Operation{
			Update:  current.Operation.Update,
			Segment: current.Operation.Segment,
		},
	}

	var segments, mergedWith [][]string
	for _, p := range participants {
		canonical.Traits.Private = MergeTraits(canonical.Traits.Private, p.Traits.Private)
		canonical.Traits.Public = MergeTraits(canonical.Traits.Public, p.Traits.Public)
		segments = append(segments, p.Segments)
		mergedWith = append(mergedWith, p.MergedWith)
		if !p.Metadata.Created.IsZero() && (canonical.Metadata.Created.IsZero() || p.Metadata.Created.Before(canonical.Metadata.Created)) {
			canonical.Metadata.Created = p.Metadata.Created
		}
	}
	canonical.Segments = unionSet(segments...)
	canonical.MergedWith = slices.DeleteFunc(unionSet(mergedWith...), func(id string) bool {
		return id == canonicalID
	})
	if len(canonical.MergedWith) == 0 {
		canonical.MergedWith = nil
	}

	losers := make([]*Profile, 0, len(participants)-1)
	for _, p := range participants {
		if p.ID == canonicalID {
			continue
		}
		loser := p.Snapshot()
		loser.Active = false
		loser.MergedWith = []string{canonicalID}
		loser.Metadata.Updated = now
		loser.Operation = Operation{}
		losers = append(losers, loser)
	}
	slices.SortFunc(losers, func(a, b *Profile) int { return cmp.Compare(a.ID, b.ID) })

	return canonical, losers
}

func (m *Merger) fail(span trace.Span, err error) {
	m.logger.Error().Err(err).Msg("Profile merge failed")
	m.opts.metrics.RecordError(string(ErrorClassPersistence))
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// dedupeOthers drops the current profile and duplicate ids from matches and sorts
// the rest by id.
func dedupeOthers(matches []*Profile, currentID string) []*Profile {
	seen := map[string]bool{currentID: true}
	out := make([]*Profile, 0, len(matches))
	for _, p := range matches {
		if p == nil || seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b *Profile) int { return cmp.Compare(a.ID, b.ID) })
	return out
}
