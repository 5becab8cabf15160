package stores

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/tracklane/tracklane/pkg/engine"
)

// EventStore is the event view of a SQLiteStore.
type EventStore struct {
	s *SQLiteStore
}

// BulkSave appends events in one transaction. Saving an event ID twice keeps the
// first copy.
func (e *EventStore) BulkSave(ctx context.Context, events []engine.Event) error {
	if len(events) == 0 {
		return nil
	}

	query := `
		INSERT INTO events (id, type, source_id, session_id, profile_id, timestamp, doc)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`

	return e.s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("failed to prepare event insert: %w", err)
		}
		defer stmt.Close()

		for i := range events {
			ev := &events[i]
			doc, err := json.Marshal(ev)
			if err != nil {
				return fmt.Errorf("failed to encode event %s: %w", ev.ID, err)
			}

			var sessionID, profileID *string
			if ev.Session != nil {
				sessionID = &ev.Session.ID
			}
			if ev.Profile != nil {
				profileID = &ev.Profile.ID
			}

			if _, err := stmt.ExecContext(ctx, ev.ID, ev.Type, ev.Source.ID, sessionID, profileID, formatTime(ev.Timestamp), string(doc)); err != nil {
				return fmt.Errorf("failed to save event %s: %w", ev.ID, err)
			}
		}
		return nil
	})
}

// ListByProfile lists the events of a profile, newest first.
func (e *EventStore) ListByProfile(ctx context.Context, profileID string, limit int) ([]engine.Event, error) {
	query := `
		SELECT doc FROM events
		WHERE profile_id = ?
		ORDER BY timestamp DESC
		LIMIT ?
	`

	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := e.s.db.QueryContext(ctx, query, profileID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []engine.Event{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		var ev engine.Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			return nil, fmt.Errorf("failed to decode event: %w", err)
		}
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// DebugStore is the debug record view of a SQLiteStore.
type DebugStore struct {
	s *SQLiteStore
}

// BulkSave appends debug records in one transaction.
func (d *DebugStore) BulkSave(ctx context.Context, records []engine.DebugRecord) error {
	if len(records) == 0 {
		return nil
	}

	query := `
		INSERT INTO debug_info (id, event_id, event_type, flow_id, rule_name, has_errors, timestamp, doc)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	return d.s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("failed to prepare debug insert: %w", err)
		}
		defer stmt.Close()

		for i := range records {
			rec := &records[i]
			doc, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("failed to encode debug record: %w", err)
			}

			_, err = stmt.ExecContext(ctx,
				rec.ID,
				rec.EventID,
				rec.EventType,
				rec.FlowID,
				rec.RuleName,
				boolInt(len(rec.Errors) > 0),
				formatTime(rec.Timestamp),
				string(doc),
			)
			if err != nil {
				return fmt.Errorf("failed to save debug record: %w", err)
			}
		}
		return nil
	})
}

// List lists debug records with an optional event filter and pagination, newest
// first.
func (d *DebugStore) List(ctx context.Context, eventID *string, errorsOnly bool, limit, offset int) ([]engine.DebugRecord, error) {
	query := `
		SELECT doc FROM debug_info
		WHERE (? IS NULL OR event_id = ?)
		  AND (? = 0 OR has_errors = 1)
		ORDER BY timestamp DESC, rowid
		LIMIT ? OFFSET ?
	`

	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := d.s.db.QueryContext(ctx, query, eventID, eventID, boolInt(errorsOnly), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list debug records: %w", err)
	}
	defer rows.Close()

	records := []engine.DebugRecord{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan debug record: %w", err)
		}
		var rec engine.DebugRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("failed to decode debug record: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating debug records: %w", err)
	}

	return records, nil
}
