package engine

import (
	"context"
	"slices"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Aggregator turns rule results into debug records and writes them to the audit
// store.
type Aggregator struct {
	audit  AuditStore
	logger zerolog.Logger
	opts   options
}

// NewAggregator creates a new aggregator.
func NewAggregator(audit AuditStore, logger zerolog.Logger, opts ...Option) *Aggregator {
	return &Aggregator{
		audit:  audit,
		logger: logger.With().Str("component", "aggregator").Logger(),
		opts:   newOptions(opts),
	}
}

// Records flattens results into debug records. Event types are emitted in sorted
// order and rule results keep their dispatch order within a type.
func (a *Aggregator) Records(results Results) []DebugRecord {
	types := make([]string, 0, len(results))
	for t := range results {
		types = append(types, t)
	}
	slices.Sort(types)

	records := make([]DebugRecord, 0, results.Count())
	for _, t := range types {
		for _, rr := range results[t] {
			rec := DebugRecord{
				ID:        uuid.NewString(),
				Timestamp: a.opts.now().UTC(),
				EventID:   rr.EventID,
				EventType: t,
				RuleName:  rr.RuleName,
			}
			if rr.Debug != nil {
				if !rr.Debug.Timestamp.IsZero() {
					rec.Timestamp = rr.Debug.Timestamp
				}
				rec.FlowID = rr.Debug.Flow.ID
				rec.Errors = slices.Clone(rr.Debug.Flow.Errors)
			}
			records = append(records, rec)
		}
	}
	return records
}

// Finalize writes one debug record per rule result in a single bulk call and
// returns the number written. Empty results make no store call.
func (a *Aggregator) Finalize(ctx context.Context, results Results) (int, error) {
	records := a.Records(results)
	if len(records) == 0 {
		return 0, nil
	}

	if err := a.audit.BulkSave(ctx, records); err != nil {
		perr := NewPersistenceError("failed to save debug records", err)
		a.opts.metrics.RecordError(string(ErrorClassPersistence))
		a.logger.Error().Err(perr).Int("records", len(records)).Msg("Debug records not saved")
		return 0, perr
	}

	a.opts.metrics.RecordDebugRecordsWritten(len(records))
	a.logger.Debug().Int("records", len(records)).Msg("Debug records saved")
	return len(records), nil
}
