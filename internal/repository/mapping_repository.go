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

type mappingRepository struct {
	pool *pgxpool.Pool
}

// NewMappingRepository creates a repository for CMDB-inventory mappings.
func NewMappingRepository(pool *pgxpool.Pool) MappingRepository {
	return &mappingRepository{pool: pool}
}

const mappingColumns = `id, ci_id, inventory_asset_id, mapping_type, conflict_resolution,
	field_mapping, sync_enabled, sync_status, last_sync_at, sync_errors, created_at, updated_at`

func (r *mappingRepository) Create(ctx context.Context, m domain.CmdbInventoryMapping) (domain.CmdbInventoryMapping, error) {
	fieldMapping, err := m.FieldMappingAsJSONB()
	if err != nil {
		return domain.CmdbInventoryMapping{}, fmt.Errorf("marshal field mapping: %w", err)
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO cmdb_inventory_mappings
			(id, ci_id, inventory_asset_id, mapping_type, conflict_resolution,
			 field_mapping, sync_enabled, sync_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+mappingColumns,
		uuid.New(), m.CIID, m.InventoryAssetID, m.MappingType, string(m.ConflictResolution),
		fieldMapping, m.SyncEnabled, domain.SyncStatusPending)

	created, err := scanMapping(row)
	if err != nil {
		return domain.CmdbInventoryMapping{}, fmt.Errorf("create mapping: %w", err)
	}
	return created, nil
}

func (r *mappingRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.CmdbInventoryMapping, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+mappingColumns+` FROM cmdb_inventory_mappings WHERE id = $1`, id)
	m, err := scanMapping(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.CmdbInventoryMapping{}, domain.NotFoundf("mapping %s", id)
		}
		return domain.CmdbInventoryMapping{}, fmt.Errorf("get mapping: %w", err)
	}
	return m, nil
}

func (r *mappingRepository) List(ctx context.Context) ([]domain.CmdbInventoryMapping, error) {
	return r.list(ctx, `SELECT `+mappingColumns+` FROM cmdb_inventory_mappings ORDER BY created_at`)
}

func (r *mappingRepository) ListSyncEnabled(ctx context.Context) ([]domain.CmdbInventoryMapping, error) {
	return r.list(ctx, `SELECT `+mappingColumns+` FROM cmdb_inventory_mappings WHERE sync_enabled ORDER BY created_at`)
}

func (r *mappingRepository) list(ctx context.Context, query string) ([]domain.CmdbInventoryMapping, error) {
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list mappings: %w", err)
	}
	defer rows.Close()

	mappings := []domain.CmdbInventoryMapping{}
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mapping: %w", err)
		}
		mappings = append(mappings, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mappings: %w", err)
	}
	return mappings, nil
}

func (r *mappingRepository) UpdateSyncState(ctx context.Context, m domain.CmdbInventoryMapping) error {
	syncErrors, err := json.Marshal(m.SyncErrors)
	if err != nil {
		return fmt.Errorf("marshal sync errors: %w", err)
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE cmdb_inventory_mappings
		SET sync_status = $2, last_sync_at = $3, sync_errors = $4, updated_at = now()
		WHERE id = $1`,
		m.ID, m.SyncStatus, timeOrNil(m.LastSyncAt), syncErrors)
	if err != nil {
		return fmt.Errorf("update mapping sync state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFoundf("mapping %s", m.ID)
	}
	return nil
}

func (r *mappingRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM cmdb_inventory_mappings WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete mapping: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFoundf("mapping %s", id)
	}
	return nil
}

func scanMapping(row ciScanner) (domain.CmdbInventoryMapping, error) {
	var (
		m            domain.CmdbInventoryMapping
		conflict     string
		fieldMapping json.RawMessage
		lastSyncAt   pgtype.Timestamptz
		syncErrors   json.RawMessage
	)
	err := row.Scan(&m.ID, &m.CIID, &m.InventoryAssetID, &m.MappingType, &conflict,
		&fieldMapping, &m.SyncEnabled, &m.SyncStatus, &lastSyncAt, &syncErrors,
		&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return domain.CmdbInventoryMapping{}, err
	}
	m.ConflictResolution = domain.ConflictResolution(conflict)

	fm, err := domain.FieldMappingFromJSONB(fieldMapping)
	if err != nil {
		return domain.CmdbInventoryMapping{}, fmt.Errorf("unmarshal field mapping: %w", err)
	}
	m.FieldMapping = fm

	if len(syncErrors) > 0 {
		if err := json.Unmarshal(syncErrors, &m.SyncErrors); err != nil {
			return domain.CmdbInventoryMapping{}, fmt.Errorf("unmarshal sync errors: %w", err)
		}
	}
	if lastSyncAt.Valid {
		t := lastSyncAt.Time
		m.LastSyncAt = &t
	}
	return m, nil
}
