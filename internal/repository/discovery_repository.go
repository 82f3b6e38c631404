package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opsbridge/cmdb/internal/domain"
)

type discoveryRepository struct {
	pool *pgxpool.Pool
}

// NewDiscoveryRepository creates a repository for discovery runs and items.
func NewDiscoveryRepository(pool *pgxpool.Pool) DiscoveryRepository {
	return &discoveryRepository{pool: pool}
}

const runColumns = `id, schedule_id, discovery_type, status, started_at, completed_at,
	items_discovered, items_updated, items_created, error_message`

const itemColumns = `id, run_id, discovered_data, fingerprint, status, ci_id,
	processing_notes, created_at`

func (r *discoveryRepository) CreateRun(ctx context.Context, run domain.DiscoveryRun) (domain.DiscoveryRun, error) {
	var scheduleID pgtype.UUID
	if run.ScheduleID != nil {
		scheduleID = pgtype.UUID{Bytes: *run.ScheduleID, Valid: true}
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO discovery_runs (id, schedule_id, discovery_type, status, started_at)
		VALUES ($1, $2, $3, $4, now())
		RETURNING `+runColumns,
		uuid.New(), scheduleID, string(run.DiscoveryType), string(domain.RunStatusRunning))

	created, err := scanRun(row)
	if err != nil {
		return domain.DiscoveryRun{}, fmt.Errorf("create discovery run: %w", err)
	}
	return created, nil
}

func (r *discoveryRepository) GetRun(ctx context.Context, id uuid.UUID) (domain.DiscoveryRun, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM discovery_runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.DiscoveryRun{}, domain.NotFoundf("discovery run %s", id)
		}
		return domain.DiscoveryRun{}, fmt.Errorf("get discovery run: %w", err)
	}
	return run, nil
}

// CompleteRun and FailRun only transition runs still in Running state, so a
// terminal status is written exactly once.
func (r *discoveryRepository) CompleteRun(ctx context.Context, id uuid.UUID, discovered, updated, created int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE discovery_runs
		SET status = $2, completed_at = now(),
		    items_discovered = $3, items_updated = $4, items_created = $5
		WHERE id = $1 AND status = $6`,
		id, string(domain.RunStatusCompleted), discovered, updated, created,
		string(domain.RunStatusRunning))
	if err != nil {
		return fmt.Errorf("complete discovery run: %w", err)
	}
	return nil
}

func (r *discoveryRepository) FailRun(ctx context.Context, id uuid.UUID, message string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE discovery_runs
		SET status = $2, completed_at = now(), error_message = $3
		WHERE id = $1 AND status = $4`,
		id, string(domain.RunStatusFailed), message, string(domain.RunStatusRunning))
	if err != nil {
		return fmt.Errorf("fail discovery run: %w", err)
	}
	return nil
}

func (r *discoveryRepository) CreateItem(ctx context.Context, item domain.DiscoveredItem) (domain.DiscoveredItem, error) {
	data, err := item.DataAsJSONB()
	if err != nil {
		return domain.DiscoveredItem{}, fmt.Errorf("marshal discovered data: %w", err)
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO discovered_items (id, run_id, discovered_data, fingerprint, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+itemColumns,
		uuid.New(), item.RunID, data, item.Fingerprint, string(domain.ItemStatusNew))

	created, err := scanItem(row)
	if err != nil {
		return domain.DiscoveredItem{}, fmt.Errorf("create discovered item: %w", err)
	}
	return created, nil
}

func (r *discoveryRepository) GetItem(ctx context.Context, id uuid.UUID) (domain.DiscoveredItem, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM discovered_items WHERE id = $1`, id)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.DiscoveredItem{}, domain.NotFoundf("discovered item %s", id)
		}
		return domain.DiscoveredItem{}, fmt.Errorf("get discovered item: %w", err)
	}
	return item, nil
}

func (r *discoveryRepository) UpdateItem(ctx context.Context, item domain.DiscoveredItem) (domain.DiscoveredItem, error) {
	var ciID pgtype.UUID
	if item.CIID != nil {
		ciID = pgtype.UUID{Bytes: *item.CIID, Valid: true}
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE discovered_items
		SET status = $2, ci_id = $3, processing_notes = $4
		WHERE id = $1
		RETURNING `+itemColumns,
		item.ID, string(item.Status), ciID, textOrNil(item.ProcessingNotes))

	updated, err := scanItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.DiscoveredItem{}, domain.NotFoundf("discovered item %s", item.ID)
		}
		return domain.DiscoveredItem{}, fmt.Errorf("update discovered item: %w", err)
	}
	return updated, nil
}

func (r *discoveryRepository) ListItemsByRun(ctx context.Context, runID uuid.UUID) ([]domain.DiscoveredItem, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+itemColumns+` FROM discovered_items WHERE run_id = $1 ORDER BY created_at`, runID)
	if err != nil {
		return nil, fmt.Errorf("list discovered items: %w", err)
	}
	defer rows.Close()

	items := []domain.DiscoveredItem{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan discovered item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate discovered items: %w", err)
	}
	return items, nil
}

func scanRun(row ciScanner) (domain.DiscoveryRun, error) {
	var (
		run           domain.DiscoveryRun
		scheduleID    pgtype.UUID
		discoveryType string
		status        string
		completedAt   pgtype.Timestamptz
		errorMessage  pgtype.Text
	)
	err := row.Scan(&run.ID, &scheduleID, &discoveryType, &status, &run.StartedAt, &completedAt,
		&run.ItemsDiscovered, &run.ItemsUpdated, &run.ItemsCreated, &errorMessage)
	if err != nil {
		return domain.DiscoveryRun{}, err
	}
	run.DiscoveryType = domain.DiscoveryType(discoveryType)
	run.Status = domain.DiscoveryRunStatus(status)
	if scheduleID.Valid {
		id := uuid.UUID(scheduleID.Bytes)
		run.ScheduleID = &id
	}
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	if errorMessage.Valid {
		s := errorMessage.String
		run.ErrorMessage = &s
	}
	return run, nil
}

func scanItem(row ciScanner) (domain.DiscoveredItem, error) {
	var (
		item   domain.DiscoveredItem
		data   json.RawMessage
		status string
		ciID   pgtype.UUID
		notes  pgtype.Text
	)
	err := row.Scan(&item.ID, &item.RunID, &data, &item.Fingerprint, &status, &ciID, &notes, &item.CreatedAt)
	if err != nil {
		return domain.DiscoveredItem{}, err
	}
	item.Status = domain.DiscoveredItemStatus(status)

	payload, err := domain.AttributesFromJSONB(data)
	if err != nil {
		return domain.DiscoveredItem{}, fmt.Errorf("unmarshal discovered data: %w", err)
	}
	item.DiscoveredData = payload

	if ciID.Valid {
		id := uuid.UUID(ciID.Bytes)
		item.CIID = &id
	}
	if notes.Valid {
		s := notes.String
		item.ProcessingNotes = &s
	}
	return item, nil
}
