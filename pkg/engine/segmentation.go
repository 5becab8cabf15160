package engine

import (
	"context"
	"errors"
	"iter"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// SegmentEventTypeField is the segment field matched against event types.
const SegmentEventTypeField = "event_type"

// Segmenter evaluates segment conditions against a profile.
type Segmenter struct {
	segments  SegmentStore
	evaluator ConditionEvaluator
	logger    zerolog.Logger
	opts      options
}

// NewSegmenter creates a new segmenter.
func NewSegmenter(segments SegmentStore, evaluator ConditionEvaluator, logger zerolog.Logger, opts ...Option) *Segmenter {
	return &Segmenter{
		segments:  segments,
		evaluator: evaluator,
		logger:    logger.With().Str("component", "segmenter").Logger(),
		opts:      newOptions(opts),
	}
}

// Evaluate returns a lazy sequence over the segmentation of profile for the given
// event types. Every call returns a fresh sequence; nothing is loaded until it is
// iterated. Matching segments are added to the profile as they are yielded.
// Segments whose condition is false yield nothing.
//
// Failures are yielded as results with Err set and never stop the sequence.
func (s *Segmenter) Evaluate(ctx context.Context, profile *Profile, eventTypes []string) iter.Seq[SegmentationResult] {
	return func(yield func(SegmentationResult) bool) {
		ctx, span := s.opts.tracer.Start(ctx, "segmentation.evaluate")
		defer span.End()
		span.SetAttributes(attribute.StringSlice("event_types", eventTypes))

		for _, eventType := range eventTypes {
			if !s.evaluateType(ctx, profile, eventType, yield) {
				return
			}
		}
	}
}

func (s *Segmenter) evaluateType(ctx context.Context, profile *Profile, eventType string, yield func(SegmentationResult) bool) bool {
	records, err := s.segments.LoadByField(ctx, SegmentEventTypeField, eventType)
	if err != nil {
		perr := NewPersistenceError("failed to load segments for event type "+eventType, err)
		s.logger.Error().Err(perr).Msg("Segment load failed")
		s.opts.metrics.RecordError(string(ErrorClassPersistence))
		return yield(SegmentationResult{EventType: eventType, Err: perr})
	}
	if len(records) == 0 {
		return true
	}

	doc, err := FlattenProfile(profile)
	if err != nil {
		return yield(SegmentationResult{EventType: eventType, Err: err})
	}

	for _, rec := range records {
		seg, err := ParseSegment(rec)
		if err != nil {
			serr := &Error{
				Class:   ErrorClassConditionEvaluation,
				Message: singleLine(err.Error()),
				Code:    ErrCodeInvalidSegment,
				Segment: recordID(rec),
				Err:     err,
			}
			s.recordFailure(serr)
			if !yield(SegmentationResult{EventType: eventType, SegmentID: serr.Segment, Err: serr}) {
				return false
			}
			continue
		}
		if !seg.IsEnabled() {
			continue
		}

		matched, err := s.evaluator.Evaluate(ctx, seg.Condition, doc)
		if err != nil {
			cerr := NewConditionEvaluationError(seg.ID, seg.Condition, err)
			s.recordFailure(cerr)
			if !yield(SegmentationResult{EventType: eventType, SegmentID: seg.ID, Err: cerr}) {
				return false
			}
			continue
		}
		if !matched {
			continue
		}

		profile.AddSegment(seg.ID)
		s.opts.metrics.RecordSegmentMatched()
		s.logger.Debug().Str("segment", seg.ID).Str("profile", profile.ID).Msg("Profile segmented")
		if !yield(SegmentationResult{EventType: eventType, SegmentID: seg.ID}) {
			return false
		}
	}
	return true
}

func (s *Segmenter) recordFailure(err *Error) {
	s.logger.Warn().Err(err).Str("segment", err.Segment).Msg("Segment condition failed")
	s.opts.metrics.RecordSegmentError()
	s.opts.metrics.RecordError(string(err.Class))
}

// CollectSegmentation drains a segmentation sequence into a summary. Matched
// segment ids go to IDs, failures to Errors.
func CollectSegmentation(seq iter.Seq[SegmentationResult]) SegmentationInfo {
	info := SegmentationInfo{IDs: []string{}, Errors: []string{}}
	for r := range seq {
		if r.Err != nil {
			info.Errors = append(info.Errors, errorMessage(r.Err))
			continue
		}
		info.IDs = append(info.IDs, r.SegmentID)
	}
	return info
}

// errorMessage returns the bare message of a classified error, or the error text.
func errorMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Class == ErrorClassConditionEvaluation {
		return e.Message
	}
	return singleLine(err.Error())
}
