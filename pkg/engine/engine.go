package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

// Dependencies are the collaborators of a RulesEngine.
type Dependencies struct {
	Rules      RuleLoader
	Flows      FlowResolver
	Executor   FlowExecutor
	Segments   SegmentStore
	Conditions ConditionEvaluator
	Profiles   ProfileStore
	Audit      AuditStore
	Events     EventStore
}

func (d Dependencies) validate() error {
	var errs []error
	if d.Rules == nil {
		errs = append(errs, errors.New("rule loader is required"))
	}
	if d.Flows == nil {
		errs = append(errs, errors.New("flow resolver is required"))
	}
	if d.Executor == nil {
		errs = append(errs, errors.New("flow executor is required"))
	}
	if d.Segments == nil {
		errs = append(errs, errors.New("segment store is required"))
	}
	if d.Conditions == nil {
		errs = append(errs, errors.New("condition evaluator is required"))
	}
	if d.Profiles == nil {
		errs = append(errs, errors.New("profile store is required"))
	}
	if d.Audit == nil {
		errs = append(errs, errors.New("audit store is required"))
	}
	return errors.Join(errs...)
}

// RulesEngine drives an invocation through dispatch, segmentation, merge and
// persistence.
type RulesEngine struct {
	dispatcher *Dispatcher
	segmenter  *Segmenter
	merger     *Merger
	aggregator *Aggregator
	profiles   ProfileStore
	events     EventStore
	logger     zerolog.Logger
	opts       options
}

// New creates a new rules engine. The event store is optional; without one
// RaiseEvent does not persist the events it raises.
func New(deps Dependencies, logger zerolog.Logger, opts ...Option) (*RulesEngine, error) {
	if err := deps.validate(); err != nil {
		return nil, fmt.Errorf("invalid engine dependencies: %w", err)
	}

	return &RulesEngine{
		dispatcher: NewDispatcher(deps.Rules, deps.Flows, deps.Executor, logger, opts...),
		segmenter:  NewSegmenter(deps.Segments, deps.Conditions, logger, opts...),
		merger:     NewMerger(deps.Profiles, logger, opts...),
		aggregator: NewAggregator(deps.Audit, logger, opts...),
		profiles:   deps.Profiles,
		events:     deps.Events,
		logger:     logger.With().Str("component", "rules-engine").Logger(),
		opts:       newOptions(opts),
	}, nil
}

// Invoke runs the invocation without writing debug records.
//
// Workflows are dispatched first. When a workflow requested segmentation, the
// segments of every dispatched event type are evaluated and the profile is marked
// for update. When merge keys were set, the profile is merged and in.Profile is
// replaced by the canonical profile. Finally the profile is saved if it was marked
// for update.
//
// Only persistence errors are returned.
func (e *RulesEngine) Invoke(ctx context.Context, in *Invocation, sourceID string) (*InvokeResult, error) {
	if in == nil || in.Profile == nil {
		return nil, errors.New("invocation requires a profile")
	}

	start := time.Now()
	e.opts.metrics.IncActiveInvocations()
	defer e.opts.metrics.DecActiveInvocations()

	ctx, span := e.opts.tracer.Start(ctx, "invocation.execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("profile", in.Profile.ID),
		attribute.Int("events", len(in.Events)),
		attribute.String("source", sourceID),
	)

	fail := func(err error) (*InvokeResult, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	dispatched, err := e.dispatcher.Dispatch(ctx, in, sourceID)
	if err != nil {
		return fail(err)
	}

	result := &InvokeResult{
		Results:      dispatched.Results,
		Segmentation: SegmentationInfo{IDs: []string{}, Errors: []string{}},
	}

	if in.Profile.NeedsSegmentation() {
		result.Segmentation = CollectSegmentation(e.segmenter.Evaluate(ctx, in.Profile, dispatched.DispatchedTypes))
		in.Profile.MarkUpdated()
	}

	if in.Profile.NeedsMerging() {
		merged, info, err := e.merger.MaybeMerge(ctx, in.Profile)
		if err != nil {
			return fail(err)
		}
		in.Profile = merged
		result.Merge = info
	}

	if in.Profile.NeedsUpdate() {
		now := e.opts.now().UTC()
		in.Profile.Mutate(func(p *Profile) {
			p.Metadata.Updated = now
		})
		if err := e.profiles.Save(ctx, in.Profile.Snapshot()); err != nil {
			e.opts.metrics.RecordError(string(ErrorClassPersistence))
			return fail(NewPersistenceError("failed to save profile "+in.Profile.ID, err))
		}
	}

	result.Profile = in.Profile

	e.logger.Debug().
		Str("profile", in.Profile.ID).
		Int("results", result.Results.Count()).
		Int("segments", len(result.Segmentation.IDs)).
		Dur("elapsed", elapsed(start)).
		Msg("Invocation complete")

	return result, nil
}

// Execute runs Invoke and then writes one debug record per rule result.
func (e *RulesEngine) Execute(ctx context.Context, in *Invocation, sourceID string) (*InvokeResult, error) {
	result, err := e.Invoke(ctx, in, sourceID)
	if err != nil {
		return nil, err
	}

	if _, err := e.aggregator.Finalize(ctx, result.Results); err != nil {
		return nil, err
	}
	return result, nil
}

// RaiseEvent builds an event of eventType attributed to sourceID, then saves it and
// executes the rules engine for it concurrently. Both are awaited.
func (e *RulesEngine) RaiseEvent(ctx context.Context, eventType string, properties map[string]interface{}, session *Session, profile *Profile, sourceID string) (*Event, *InvokeResult, error) {
	if profile == nil {
		return nil, nil, errors.New("raised event requires a profile")
	}

	event := Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		Source:     Entity{ID: sourceID},
		Profile:    &Entity{ID: profile.ID},
		Properties: properties,
		Timestamp:  e.opts.now().UTC(),
	}
	if session != nil {
		event.Session = &Entity{ID: session.ID}
	}

	in := &Invocation{Session: session, Profile: profile, Events: []Event{event}}

	var result *InvokeResult
	var g errgroup.Group
	g.Go(func() error {
		if e.events == nil {
			return nil
		}
		if err := e.events.BulkSave(ctx, []Event{event}); err != nil {
			e.opts.metrics.RecordError(string(ErrorClassPersistence))
			return NewPersistenceError("failed to save raised event", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		result, err = e.Execute(ctx, in, sourceID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	e.logger.Info().Str("event_id", event.ID).Str("event_type", eventType).Msg("Event raised")
	return &event, result, nil
}

// elapsed is used for timing log fields.
func elapsed(start time.Time) time.Duration {
	return time.Since(start).Round(time.Microsecond)
}
