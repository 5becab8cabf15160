package stores

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tracklane/tracklane/pkg/engine"
)

// RuleStore is the rule view of a SQLiteStore. Rules are stored as raw documents
// and parsed by the engine on load.
type RuleStore struct {
	s *SQLiteStore
}

// Filter returns the rule documents for an event type in insertion order.
func (r *RuleStore) Filter(ctx context.Context, q engine.RuleQuery) ([]engine.Record, error) {
	query := `
		SELECT doc FROM rules
		WHERE event_type = ?
		  AND (? = 0 OR enabled = 1)
		ORDER BY rowid
	`

	docs, err := r.s.queryDocs(ctx, query, q.EventType, boolInt(q.Enabled))
	if err != nil {
		return nil, fmt.Errorf("failed to filter rules: %w", err)
	}

	return toRecords(docs), nil
}

// Save upserts a rule document. The document must carry an id.
func (r *RuleStore) Save(ctx context.Context, rec engine.Record) error {
	id := stringField(rec, "id")
	if id == "" {
		return fmt.Errorf("rule id is required")
	}

	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode rule: %w", err)
	}

	query := `
		INSERT INTO rules (id, event_type, enabled, doc, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			event_type = excluded.event_type,
			enabled = excluded.enabled,
			doc = excluded.doc,
			updated_at = excluded.updated_at
	`

	now := formatTime(time.Now())
	_, err = r.s.db.ExecContext(ctx, query,
		id,
		stringField(rec, "event_type"),
		boolInt(boolField(rec, "enabled", false)),
		string(doc),
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to save rule: %w", err)
	}

	return nil
}

// Delete removes a rule by ID.
func (r *RuleStore) Delete(ctx context.Context, id string) error {
	result, err := r.s.db.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: rule %s", ErrNotFound, id)
	}

	return nil
}

// FlowStore is the flow view of a SQLiteStore.
type FlowStore struct {
	s *SQLiteStore
}

// Decode loads and parses the flow with the given ID.
func (f *FlowStore) Decode(ctx context.Context, flowID string) (*engine.Flow, error) {
	var raw string
	err := f.s.db.QueryRowContext(ctx, `SELECT doc FROM flows WHERE id = ?`, flowID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: flow %s", ErrNotFound, flowID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get flow: %w", err)
	}

	var rec engine.Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("failed to decode flow %s: %w", flowID, err)
	}

	return engine.ParseFlow(rec)
}

// Save upserts a flow document.
func (f *FlowStore) Save(ctx context.Context, rec engine.Record) error {
	id := stringField(rec, "id")
	if id == "" {
		return fmt.Errorf("flow id is required")
	}

	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode flow: %w", err)
	}

	query := `
		INSERT INTO flows (id, enabled, doc, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			enabled = excluded.enabled,
			doc = excluded.doc,
			updated_at = excluded.updated_at
	`

	now := formatTime(time.Now())
	_, err = f.s.db.ExecContext(ctx, query, id, boolInt(boolField(rec, "enabled", false)), string(doc), now, now)
	if err != nil {
		return fmt.Errorf("failed to save flow: %w", err)
	}

	return nil
}

// SegmentStore is the segment view of a SQLiteStore.
type SegmentStore struct {
	s *SQLiteStore
}

// LoadByField returns the segment documents whose field equals value. The
// event_type field uses its indexed column; other fields are matched inside the
// document.
func (g *SegmentStore) LoadByField(ctx context.Context, field string, value interface{}) ([]engine.Record, error) {
	var docs []map[string]interface{}
	var err error

	if field == engine.SegmentEventTypeField {
		docs, err = g.s.queryDocs(ctx, `SELECT doc FROM segments WHERE event_type = ? ORDER BY rowid`, value)
	} else {
		var v interface{}
		v, err = sqlValue(value)
		if err != nil {
			return nil, err
		}
		docs, err = g.s.queryDocs(ctx, `SELECT doc FROM segments WHERE json_extract(doc, ?) = ? ORDER BY rowid`, jsonPath(field), v)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load segments: %w", err)
	}

	return toRecords(docs), nil
}

// Save upserts a segment document.
func (g *SegmentStore) Save(ctx context.Context, rec engine.Record) error {
	id := stringField(rec, "id")
	if id == "" {
		return fmt.Errorf("segment id is required")
	}

	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode segment: %w", err)
	}

	query := `
		INSERT INTO segments (id, event_type, doc, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			event_type = excluded.event_type,
			doc = excluded.doc,
			updated_at = excluded.updated_at
	`

	now := formatTime(time.Now())
	_, err = g.s.db.ExecContext(ctx, query, id, stringField(rec, engine.SegmentEventTypeField), string(doc), now, now)
	if err != nil {
		return fmt.Errorf("failed to save segment: %w", err)
	}

	return nil
}

func toRecords(docs []map[string]interface{}) []engine.Record {
	out := make([]engine.Record, len(docs))
	for i, d := range docs {
		out[i] = engine.Record(d)
	}
	return out
}
