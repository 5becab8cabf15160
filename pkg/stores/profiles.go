package stores

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tracklane/tracklane/pkg/engine"
)

// ProfileStore is the profile view of a SQLiteStore.
type ProfileStore struct {
	s *SQLiteStore
}

const upsertProfile = `
	INSERT INTO profiles (id, active, doc, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		active = excluded.active,
		doc = excluded.doc,
		updated_at = excluded.updated_at
`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func saveProfile(ctx context.Context, db execer, p *engine.Profile) error {
	if p.ID == "" {
		return fmt.Errorf("profile id is required")
	}

	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}

	created := p.Metadata.Created
	if created.IsZero() {
		created = time.Now()
	}
	updated := p.Metadata.Updated
	if updated.IsZero() {
		updated = time.Now()
	}

	if _, err := db.ExecContext(ctx, upsertProfile, p.ID, boolInt(p.Active), string(doc), formatTime(created), formatTime(updated)); err != nil {
		return fmt.Errorf("failed to save profile %s: %w", p.ID, err)
	}
	return nil
}

// Save upserts a single profile.
func (r *ProfileStore) Save(ctx context.Context, p *engine.Profile) error {
	return saveProfile(ctx, r.s.db, p)
}

// BulkSave upserts many profiles in one transaction.
func (r *ProfileStore) BulkSave(ctx context.Context, profiles []*engine.Profile) error {
	if len(profiles) == 0 {
		return nil
	}

	return r.s.withTx(ctx, func(tx *sql.Tx) error {
		for _, p := range profiles {
			if err := saveProfile(ctx, tx, p); err != nil {
				return err
			}
		}
		return nil
	})
}

// Get loads a profile by ID.
func (r *ProfileStore) Get(ctx context.Context, id string) (*engine.Profile, error) {
	var raw string
	err := r.s.db.QueryRowContext(ctx, `SELECT doc FROM profiles WHERE id = ?`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: profile %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	return decodeProfile(raw)
}

// FindActiveByKeys returns the active profiles whose document fields equal every
// pair.
func (r *ProfileStore) FindActiveByKeys(ctx context.Context, pairs []engine.KeyValue) ([]*engine.Profile, error) {
	var b strings.Builder
	b.WriteString(`SELECT doc FROM profiles WHERE active = 1`)

	args := make([]interface{}, 0, len(pairs)*2)
	for _, kv := range pairs {
		v, err := sqlValue(kv.Value)
		if err != nil {
			return nil, err
		}
		b.WriteString(` AND json_extract(doc, ?) = ?`)
		args = append(args, jsonPath(kv.Field), v)
	}
	b.WriteString(` ORDER BY id`)

	rows, err := r.s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find profiles: %w", err)
	}
	defer rows.Close()

	profiles := []*engine.Profile{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		p, err := decodeProfile(raw)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating profiles: %w", err)
	}

	return profiles, nil
}

func decodeProfile(raw string) (*engine.Profile, error) {
	p := &engine.Profile{}
	if err := json.Unmarshal([]byte(raw), p); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}
	if p.Segments == nil {
		p.Segments = []string{}
	}
	if p.Traits.Private == nil {
		p.Traits.Private = map[string]interface{}{}
	}
	if p.Traits.Public == nil {
		p.Traits.Public = map[string]interface{}{}
	}
	return p, nil
}
