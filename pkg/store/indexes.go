package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/merlinn-co/merlinn/pkg/models"
)

// ErrSourceTerminal is returned when a report targets a source that has
// already completed or failed. It wraps ErrConflict.
var ErrSourceTerminal = fmt.Errorf("%w: source already finished", ErrConflict)

// ErrBuildSuperseded is returned when a write names a build other than the
// one the index currently tracks. It wraps ErrConflict.
var ErrBuildSuperseded = fmt.Errorf("%w: build superseded", ErrConflict)

// IndexStore persists knowledge indexes and their build state.
type IndexStore struct {
	db *sql.DB
}

// NewIndexStore creates an IndexStore.
func NewIndexStore(db *sql.DB) *IndexStore {
	return &IndexStore{db: db}
}

const indexSelect = `
	SELECT id, organization_id, name, data_sources, state, stats, created_at, updated_at
	FROM indexes`

func scanIndex(row rowScanner) (*models.Index, error) {
	var (
		idx                  models.Index
		sources, state, stat []byte
	)
	if err := row.Scan(&idx.ID, &idx.OrganizationID, &idx.Name, &sources, &state, &stat, &idx.CreatedAt, &idx.UpdatedAt); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(sources, &idx.DataSources); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(state, &idx.State); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(stat, &idx.Stats); err != nil {
		return nil, err
	}
	return &idx, nil
}

// Get returns an index by id.
func (s *IndexStore) Get(ctx context.Context, id string) (*models.Index, error) {
	idx, err := scanIndex(s.db.QueryRowContext(ctx, indexSelect+` WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "get index")
	}
	return idx, nil
}

// GetByOrganization returns the organization's index.
func (s *IndexStore) GetByOrganization(ctx context.Context, organizationID string) (*models.Index, error) {
	idx, err := scanIndex(s.db.QueryRowContext(ctx, indexSelect+` WHERE organization_id = $1`, organizationID))
	if err != nil {
		return nil, notFound(err, "get index by organization")
	}
	return idx, nil
}

// Acquire starts a build: it inserts the organization's index in pending
// state, or resets an existing one, but only when no build is pending.
// A pending build makes it return ErrConflict. Every call starts a new
// build id in idx.State. On success idx carries the persisted id and
// timestamps.
func (s *IndexStore) Acquire(ctx context.Context, idx *models.Index) error {
	if idx.ID == "" {
		idx.ID = uuid.NewString()
	}
	idx.State.BuildID = uuid.NewString()
	sources, err := marshalJSON(idx.DataSources)
	if err != nil {
		return err
	}
	state, err := marshalJSON(idx.State)
	if err != nil {
		return err
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO indexes (id, organization_id, name, data_sources, state, stats)
		VALUES ($1, $2, $3, $4::jsonb, $5::jsonb, '{}'::jsonb)
		ON CONFLICT (organization_id) DO UPDATE
		SET name = EXCLUDED.name,
		    data_sources = EXCLUDED.data_sources,
		    state = EXCLUDED.state,
		    stats = '{}'::jsonb,
		    updated_at = now()
		WHERE indexes.state->>'status' <> 'pending'
		RETURNING id, created_at, updated_at`,
		idx.ID, idx.OrganizationID, idx.Name, sources, state).
		Scan(&idx.ID, &idx.CreatedAt, &idx.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("acquire index: %w", err)
	}
	idx.Stats = map[string]int{}
	return nil
}

// UpdateSource records one source's progress. The row is locked, the
// aggregated status is recomputed from the per-source map including the
// new value, and both are written in one statement. documents, when
// non-nil, is stored in stats under the source name. A report for any
// build but the current one returns ErrBuildSuperseded.
func (s *IndexStore) UpdateSource(ctx context.Context, id, buildID, source string, status models.SourceStatus, documents *int) (*models.Index, error) {
	var out *models.Index
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		idx, err := scanIndex(tx.QueryRowContext(ctx, indexSelect+` WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return notFound(err, "lock index")
		}
		if idx.State.BuildID != buildID {
			return ErrBuildSuperseded
		}
		current, ok := idx.State.PerSource[source]
		if !ok {
			return ErrNotFound
		}
		if current == models.SourceCompleted || current == models.SourceFailed {
			return ErrSourceTerminal
		}

		next := idx.State.WithSource(source, status)
		var docs sql.NullInt64
		if documents != nil {
			docs = sql.NullInt64{Int64: int64(*documents), Valid: true}
		}

		out, err = scanIndex(tx.QueryRowContext(ctx, `
			UPDATE indexes
			SET state = jsonb_set(
			        jsonb_set(state, ARRAY['integrations', $2::text], to_jsonb($3::text)),
			        '{status}', to_jsonb($4::text)),
			    stats = CASE WHEN $5::int IS NULL THEN stats
			                 ELSE jsonb_set(stats, ARRAY[$2::text], to_jsonb($5::int)) END,
			    updated_at = now()
			WHERE id = $1
			RETURNING id, organization_id, name, data_sources, state, stats, created_at, updated_at`,
			id, source, string(status), string(next.Status), docs))
		if err != nil {
			return fmt.Errorf("update index source: %w", err)
		}
		return nil
	})
	return out, err
}

// MarkFailed fails every source of build buildID that has not completed.
// It returns ErrBuildSuperseded when the index has moved on to another
// build.
func (s *IndexStore) MarkFailed(ctx context.Context, id, buildID string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		idx, err := scanIndex(tx.QueryRowContext(ctx, indexSelect+` WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return notFound(err, "lock index")
		}
		if idx.State.BuildID != buildID {
			return ErrBuildSuperseded
		}
		state, err := marshalJSON(idx.State.FailAll())
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE indexes SET state = $2::jsonb, updated_at = now() WHERE id = $1`, id, state); err != nil {
			return fmt.Errorf("mark index failed: %w", err)
		}
		return nil
	})
}

// ListStale returns pending indexes whose last progress report is older
// than before, oldest first.
func (s *IndexStore) ListStale(ctx context.Context, before time.Time) ([]models.Index, error) {
	rows, err := s.db.QueryContext(ctx, indexSelect+`
		WHERE state->>'status' = 'pending' AND updated_at < $1
		ORDER BY updated_at`, before)
	if err != nil {
		return nil, fmt.Errorf("list stale indexes: %w", err)
	}
	defer rows.Close()

	var out []models.Index
	for rows.Next() {
		idx, err := scanIndex(rows)
		if err != nil {
			return nil, fmt.Errorf("scan index: %w", err)
		}
		out = append(out, *idx)
	}
	return out, rows.Err()
}

// Delete removes an index record.
func (s *IndexStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM indexes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete index: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete index: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *IndexStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
