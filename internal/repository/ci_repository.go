package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opsbridge/cmdb/internal/domain"
)

// ciRepository implements CIRepository over Postgres.
type ciRepository struct {
	pool *pgxpool.Pool
}

// NewCIRepository creates a new configuration item repository.
func NewCIRepository(pool *pgxpool.Pool) CIRepository {
	return &ciRepository{pool: pool}
}

const ciColumns = `id, ci_id, name, ci_type_id, status, criticality, attributes,
	is_discovered, discovery_source, first_discovered_date, last_discovered_date,
	created_at, updated_at`

func (r *ciRepository) Create(ctx context.Context, ci domain.ConfigurationItem) (domain.ConfigurationItem, error) {
	attrs, err := ci.AttributesAsJSONB()
	if err != nil {
		return domain.ConfigurationItem{}, fmt.Errorf("marshal attributes: %w", err)
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO configuration_items
			(id, ci_id, name, ci_type_id, status, criticality, attributes,
			 is_discovered, discovery_source, first_discovered_date, last_discovered_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING `+ciColumns,
		uuid.New(), ci.CIID, ci.Name, ci.CITypeID, ci.Status, string(ci.Criticality), attrs,
		ci.IsDiscovered, textOrNil(ci.DiscoverySource), timeOrNil(ci.FirstDiscoveredDate), timeOrNil(ci.LastDiscoveredDate),
	)

	created, err := scanCI(row)
	if err != nil {
		return domain.ConfigurationItem{}, fmt.Errorf("create configuration item: %w", err)
	}
	return created, nil
}

func (r *ciRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.ConfigurationItem, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+ciColumns+` FROM configuration_items WHERE id = $1`, id)
	ci, err := scanCI(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ConfigurationItem{}, domain.NotFoundf("configuration item %s", id)
		}
		return domain.ConfigurationItem{}, fmt.Errorf("get configuration item: %w", err)
	}
	return ci, nil
}

func (r *ciRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.ConfigurationItem, error) {
	if len(ids) == 0 {
		return []domain.ConfigurationItem{}, nil
	}

	rows, err := r.pool.Query(ctx, `SELECT `+ciColumns+` FROM configuration_items WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("get configuration items by ids: %w", err)
	}
	defer rows.Close()

	return collectCIs(rows)
}

func (r *ciRepository) GetByCIID(ctx context.Context, ciID string) (domain.ConfigurationItem, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+ciColumns+` FROM configuration_items WHERE ci_id = $1`, ciID)
	ci, err := scanCI(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ConfigurationItem{}, domain.NotFoundf("configuration item %s", ciID)
		}
		return domain.ConfigurationItem{}, fmt.Errorf("get configuration item by business key: %w", err)
	}
	return ci, nil
}

func (r *ciRepository) Update(ctx context.Context, ci domain.ConfigurationItem) (domain.ConfigurationItem, error) {
	attrs, err := ci.AttributesAsJSONB()
	if err != nil {
		return domain.ConfigurationItem{}, fmt.Errorf("marshal attributes: %w", err)
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE configuration_items
		SET name = $2, ci_type_id = $3, status = $4, criticality = $5, attributes = $6,
		    is_discovered = $7, discovery_source = $8,
		    first_discovered_date = $9, last_discovered_date = $10,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+ciColumns,
		ci.ID, ci.Name, ci.CITypeID, ci.Status, string(ci.Criticality), attrs,
		ci.IsDiscovered, textOrNil(ci.DiscoverySource),
		timeOrNil(ci.FirstDiscoveredDate), timeOrNil(ci.LastDiscoveredDate),
	)

	updated, err := scanCI(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ConfigurationItem{}, domain.NotFoundf("configuration item %s", ci.ID)
		}
		return domain.ConfigurationItem{}, fmt.Errorf("update configuration item: %w", err)
	}
	return updated, nil
}

func (r *ciRepository) List(ctx context.Context, limit int, offset int) ([]domain.ConfigurationItem, int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+ciColumns+`, COUNT(*) OVER() AS total_count
		FROM configuration_items
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list configuration items: %w", err)
	}
	defer rows.Close()

	var cis []domain.ConfigurationItem
	total := 0
	for rows.Next() {
		ci, totalCount, err := scanCIWithTotal(rows)
		if err != nil {
			return nil, 0, err
		}
		cis = append(cis, ci)
		total = totalCount
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list configuration items: %w", err)
	}
	if cis == nil {
		cis = []domain.ConfigurationItem{}
	}
	return cis, total, nil
}

func (r *ciRepository) CIIDExists(ctx context.Context, ciID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM configuration_items WHERE ci_id = $1)`, ciID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check ci_id uniqueness: %w", err)
	}
	return exists, nil
}

func (r *ciRepository) FindBySerialNumber(ctx context.Context, serial string) (domain.ConfigurationItem, bool, error) {
	return r.findOne(ctx, `SELECT `+ciColumns+` FROM configuration_items
		WHERE attributes->>'serialNumber' = $1
		ORDER BY created_at LIMIT 1`, serial)
}

func (r *ciRepository) FindByName(ctx context.Context, name string) (domain.ConfigurationItem, bool, error) {
	return r.findOne(ctx, `SELECT `+ciColumns+` FROM configuration_items
		WHERE lower(name) = lower($1)
		ORDER BY created_at LIMIT 1`, name)
}

func (r *ciRepository) FindByIPAddress(ctx context.Context, ip string) (domain.ConfigurationItem, bool, error) {
	return r.findOne(ctx, `SELECT `+ciColumns+` FROM configuration_items
		WHERE attributes->>'ipAddress' = $1
		ORDER BY created_at LIMIT 1`, ip)
}

func (r *ciRepository) findOne(ctx context.Context, query string, arg any) (domain.ConfigurationItem, bool, error) {
	row := r.pool.QueryRow(ctx, query, arg)
	ci, err := scanCI(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ConfigurationItem{}, false, nil
		}
		return domain.ConfigurationItem{}, false, fmt.Errorf("find configuration item: %w", err)
	}
	return ci, true, nil
}

func (r *ciRepository) ListUnmapped(ctx context.Context) ([]domain.ConfigurationItem, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+ciColumns+` FROM configuration_items ci
		WHERE NOT EXISTS (
			SELECT 1 FROM cmdb_inventory_mappings m WHERE m.ci_id = ci.id
		)
		ORDER BY ci.created_at`)
	if err != nil {
		return nil, fmt.Errorf("list unmapped configuration items: %w", err)
	}
	defer rows.Close()

	return collectCIs(rows)
}

func (r *ciRepository) GetType(ctx context.Context, id uuid.UUID) (domain.CIType, error) {
	return r.getType(ctx, `SELECT id, name, description, created_at FROM ci_types WHERE id = $1`, id)
}

func (r *ciRepository) GetTypeByName(ctx context.Context, name string) (domain.CIType, error) {
	return r.getType(ctx, `SELECT id, name, description, created_at FROM ci_types WHERE name = $1`, name)
}

func (r *ciRepository) getType(ctx context.Context, query string, arg any) (domain.CIType, error) {
	var (
		t    domain.CIType
		desc pgtype.Text
	)
	err := r.pool.QueryRow(ctx, query, arg).Scan(&t.ID, &t.Name, &desc, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.CIType{}, domain.NotFoundf("ci type %v", arg)
		}
		return domain.CIType{}, fmt.Errorf("get ci type: %w", err)
	}
	t.Description = desc.String
	return t, nil
}

type ciScanner interface {
	Scan(dest ...any) error
}

func scanCI(row ciScanner) (domain.ConfigurationItem, error) {
	var (
		ci              domain.ConfigurationItem
		criticality     string
		attrs           json.RawMessage
		discoverySource pgtype.Text
		firstSeen       pgtype.Timestamptz
		lastSeen        pgtype.Timestamptz
	)

	err := row.Scan(&ci.ID, &ci.CIID, &ci.Name, &ci.CITypeID, &ci.Status, &criticality, &attrs,
		&ci.IsDiscovered, &discoverySource, &firstSeen, &lastSeen, &ci.CreatedAt, &ci.UpdatedAt)
	if err != nil {
		return domain.ConfigurationItem{}, err
	}

	return buildCI(ci, criticality, attrs, discoverySource, firstSeen, lastSeen)
}

func scanCIWithTotal(row ciScanner) (domain.ConfigurationItem, int, error) {
	var (
		ci              domain.ConfigurationItem
		criticality     string
		attrs           json.RawMessage
		discoverySource pgtype.Text
		firstSeen       pgtype.Timestamptz
		lastSeen        pgtype.Timestamptz
		total           int
	)

	err := row.Scan(&ci.ID, &ci.CIID, &ci.Name, &ci.CITypeID, &ci.Status, &criticality, &attrs,
		&ci.IsDiscovered, &discoverySource, &firstSeen, &lastSeen, &ci.CreatedAt, &ci.UpdatedAt, &total)
	if err != nil {
		return domain.ConfigurationItem{}, 0, err
	}

	built, err := buildCI(ci, criticality, attrs, discoverySource, firstSeen, lastSeen)
	return built, total, err
}

func buildCI(ci domain.ConfigurationItem, criticality string, attrs json.RawMessage,
	discoverySource pgtype.Text, firstSeen, lastSeen pgtype.Timestamptz) (domain.ConfigurationItem, error) {

	ci.Criticality = domain.Criticality(criticality)

	attributes, err := domain.AttributesFromJSONB(attrs)
	if err != nil {
		return domain.ConfigurationItem{}, fmt.Errorf("unmarshal attributes: %w", err)
	}
	ci.Attributes = attributes

	if discoverySource.Valid {
		s := discoverySource.String
		ci.DiscoverySource = &s
	}
	if firstSeen.Valid {
		t := firstSeen.Time
		ci.FirstDiscoveredDate = &t
	}
	if lastSeen.Valid {
		t := lastSeen.Time
		ci.LastDiscoveredDate = &t
	}
	return ci, nil
}

func collectCIs(rows pgx.Rows) ([]domain.ConfigurationItem, error) {
	cis := []domain.ConfigurationItem{}
	for rows.Next() {
		ci, err := scanCI(rows)
		if err != nil {
			return nil, fmt.Errorf("scan configuration item: %w", err)
		}
		cis = append(cis, ci)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate configuration items: %w", err)
	}
	return cis, nil
}

func textOrNil(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{}
	}
	return pgtype.Text{String: *s, Valid: true}
}

func timeOrNil(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}
