package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

// RuleLoader returns the enabled rule records for an event type. RuleCache is the
// production implementation.
type RuleLoader interface {
	LoadRules(ctx context.Context, eventType string) ([]Record, error)
}

// DispatchResult is the joined outcome of a dispatch.
type DispatchResult struct {
	// Results holds one RuleResult per dispatched (event, rule) pair, grouped by
	// event type in dispatch order.
	Results Results

	// DispatchedTypes lists event types with at least one launched execution, in
	// first dispatch order.
	DispatchedTypes []string
}

// dispatchSlot is the result slot of one (event, rule) pair. Each launched task
// owns exactly one slot and is the only writer of its debug field until Wait.
type dispatchSlot struct {
	eventType string
	eventID   string
	ruleName  string
	flowID    string
	debug     *DebugInfo
}

// Dispatcher runs the workflows of every rule matching an invocation's events.
type Dispatcher struct {
	rules    RuleLoader
	flows    FlowResolver
	executor FlowExecutor
	logger   zerolog.Logger
	opts     options
}

// NewDispatcher creates a new dispatcher.
func NewDispatcher(rules RuleLoader, flows FlowResolver, executor FlowExecutor, logger zerolog.Logger, opts ...Option) *Dispatcher {
	return &Dispatcher{
		rules:    rules,
		flows:    flows,
		executor: executor,
		logger:   logger.With().Str("component", "dispatcher").Logger(),
		opts:     newOptions(opts),
	}
}

// Dispatch launches one workflow execution per matching (event, rule) pair and
// joins them all. A failed or panicking execution never affects its siblings; it
// is reported through a synthesized DebugInfo in its slot. When sourceID is set,
// only events from that source are dispatched.
//
// The only error returned is a persistence error from loading rules. Executions
// launched before the failure are still joined first.
func (d *Dispatcher) Dispatch(ctx context.Context, in *Invocation, sourceID string) (*DispatchResult, error) {
	ctx, span := d.opts.tracer.Start(ctx, "rule.dispatch")
	defer span.End()
	span.SetAttributes(attribute.Int("events", len(in.Events)))

	// A plain Group: one failing execution must not cancel the others.
	var g errgroup.Group
	if d.opts.maxConcurrency > 0 {
		g.SetLimit(d.opts.maxConcurrency)
	}

	var slots []*dispatchSlot
	var dispatched []string
	seen := make(map[string]bool)

	for i := range in.Events {
		event := &in.Events[i]

		records, err := d.rules.LoadRules(ctx, event.Type)
		if err != nil {
			_ = g.Wait()
			d.opts.metrics.RecordError(string(ErrorClassPersistence))
			span.RecordError(err)
			span.SetStatus(codes.Error, "rule load failed")
			return nil, err
		}

		for _, rec := range records {
			parsed := ParseRule(rec)
			if parsed.Err != nil {
				d.logger.Warn().Err(parsed.Err).Str("event_type", event.Type).Msg("Skipping invalid rule")
				d.opts.metrics.RecordError(string(ErrorClassRuleValidation))
				continue
			}
			rule := parsed.Rule

			if !rule.Enabled || !rule.AppliesTo(event) {
				continue
			}

			flow, err := d.resolve(ctx, rule)
			if err != nil {
				d.logger.Warn().Err(err).Str("rule", rule.Name).Str("flow_id", rule.Flow.ID).Msg("Could not resolve flow")
				d.opts.metrics.RecordError(string(ErrorClassFlowResolution))
				d.opts.metrics.RecordRuleDispatched(event.Type, "unresolved")
				slots = append(slots, &dispatchSlot{
					eventType: event.Type,
					eventID:   event.ID,
					ruleName:  rule.Name,
					flowID:    rule.Flow.ID,
					debug:     errorDebugInfo(d.opts.now(), event.ID, rule.Flow.ID, err),
				})
				continue
			}

			if !flow.Enabled {
				continue
			}

			if sourceID != "" && event.Source.ID != sourceID {
				continue
			}

			slot := &dispatchSlot{
				eventType: event.Type,
				eventID:   event.ID,
				ruleName:  rule.Name,
				flowID:    flow.ID,
			}
			slots = append(slots, slot)
			if !seen[event.Type] {
				seen[event.Type] = true
				dispatched = append(dispatched, event.Type)
			}

			g.Go(func() error {
				slot.debug = d.execute(ctx, flow, in, event, slot)
				return nil
			})
		}
	}

	_ = g.Wait()

	results := make(Results)
	for _, s := range slots {
		results[s.eventType] = append(results[s.eventType], RuleResult{
			RuleName: s.ruleName,
			EventID:  s.eventID,
			Debug:    s.debug,
		})
	}

	span.SetAttributes(attribute.Int("results", len(slots)))
	d.logger.Debug().Int("events", len(in.Events)).Int("results", len(slots)).Msg("Dispatch complete")

	return &DispatchResult{Results: results, DispatchedTypes: dispatched}, nil
}

func (d *Dispatcher) resolve(ctx context.Context, rule *Rule) (*Flow, error) {
	flow, err := d.flows.Decode(ctx, rule.Flow.ID)
	if err != nil {
		return nil, NewFlowResolutionError(rule.Flow.ID, err).WithRule(rule.Name)
	}
	if flow == nil {
		return nil, NewFlowResolutionError(rule.Flow.ID, errors.New("flow not found")).
			WithRule(rule.Name).
			WithCode(ErrCodeFlowNotFound)
	}
	return flow, nil
}

// execute runs one workflow and always returns a DebugInfo. Errors and panics are
// converted into an execution error on the returned record.
func (d *Dispatcher) execute(ctx context.Context, flow *Flow, in *Invocation, event *Event, slot *dispatchSlot) (info *DebugInfo) {
	start := time.Now()
	status := "ok"

	defer func() {
		if r := recover(); r != nil {
			err := NewExecutionError(flow.ID, fmt.Errorf("panic: %v", r)).WithRule(slot.ruleName).WithCode(ErrCodePanic)
			d.logger.Error().Err(err).Str("event_id", event.ID).Msg("Workflow panicked")
			info = errorDebugInfo(d.opts.now(), event.ID, flow.ID, err)
			status = "error"
		}
		if status == "error" {
			d.opts.metrics.RecordError(string(ErrorClassExecution))
		}
		d.opts.metrics.RecordRuleDispatched(event.Type, status)
		d.opts.metrics.RecordWorkflowDuration(event.Type, time.Since(start).Seconds())
	}()

	result, err := d.executor.Invoke(ctx, flow, in.Session, in.Profile, event, d.opts.debug)
	if err != nil {
		execErr := NewExecutionError(flow.ID, err).WithRule(slot.ruleName)
		d.logger.Warn().Err(execErr).Str("event_id", event.ID).Msg("Workflow failed")
		status = "error"
		return errorDebugInfo(d.opts.now(), event.ID, flow.ID, execErr)
	}
	if result == nil {
		result = &DebugInfo{
			Timestamp: d.opts.now(),
			Event:     Entity{ID: event.ID},
			Flow:      FlowDebugInfo{ID: flow.ID},
		}
	}
	if result.HasErrors() {
		status = "error"
	}
	return result
}

// errorDebugInfo synthesizes the debug record of an execution that produced none.
func errorDebugInfo(ts time.Time, eventID, flowID string, err error) *DebugInfo {
	class := ClassOf(err)
	if class == "" {
		class = ErrorClassExecution
	}
	return &DebugInfo{
		Timestamp: ts,
		Event:     Entity{ID: eventID},
		Flow: FlowDebugInfo{
			ID:     flowID,
			Errors: []DebugError{{Class: class, Message: err.Error()}},
		},
	}
}
