package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opsbridge/cmdb/internal/domain"
)

// inventoryRepository reads asset records from the inventory store. The
// inventory database is a separate system; when no pool is configured the
// repository degrades to an unavailable state surfaced as a typed error on
// first use instead of failing at startup.
type inventoryRepository struct {
	pool        *pgxpool.Pool
	unavailable atomic.Bool
}

// NewInventoryRepository creates a read-only inventory asset repository.
// A nil pool produces a repository that returns ErrStoreUnavailable.
func NewInventoryRepository(pool *pgxpool.Pool) InventoryRepository {
	r := &inventoryRepository{pool: pool}
	if pool == nil {
		r.unavailable.Store(true)
	}
	return r
}

const assetColumns = `id, name, status, serial_number, asset_tag, model,
	vendor_id, location_id, owner_id, department, purchase_date, warranty_expiry, custom_fields`

func (r *inventoryRepository) GetAsset(ctx context.Context, id uuid.UUID) (domain.InventoryAsset, error) {
	if r.unavailable.Load() {
		return domain.InventoryAsset{}, fmt.Errorf("inventory store: %w", domain.ErrStoreUnavailable)
	}

	row := r.pool.QueryRow(ctx, `SELECT `+assetColumns+` FROM inventory_assets WHERE id = $1`, id)
	asset, err := scanAsset(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.InventoryAsset{}, domain.NotFoundf("inventory asset %s", id)
		}
		return domain.InventoryAsset{}, fmt.Errorf("get inventory asset: %w", err)
	}
	return asset, nil
}

func (r *inventoryRepository) ListAssets(ctx context.Context) ([]domain.InventoryAsset, error) {
	return r.listAssets(ctx, `SELECT `+assetColumns+` FROM inventory_assets ORDER BY name`)
}

func (r *inventoryRepository) listAssets(ctx context.Context, query string) ([]domain.InventoryAsset, error) {
	if r.unavailable.Load() {
		return nil, fmt.Errorf("inventory store: %w", domain.ErrStoreUnavailable)
	}

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list inventory assets: %w", err)
	}
	defer rows.Close()

	assets := []domain.InventoryAsset{}
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan inventory asset: %w", err)
		}
		assets = append(assets, asset)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate inventory assets: %w", err)
	}
	return assets, nil
}

func scanAsset(row ciScanner) (domain.InventoryAsset, error) {
	var (
		a                            domain.InventoryAsset
		serial, assetTag, model      pgtype.Text
		status, department           pgtype.Text
		vendorID, locationID, owner  pgtype.UUID
		purchaseDate, warrantyExpiry pgtype.Timestamptz
		customFields                 json.RawMessage
	)
	err := row.Scan(&a.ID, &a.Name, &status, &serial, &assetTag, &model,
		&vendorID, &locationID, &owner, &department, &purchaseDate, &warrantyExpiry, &customFields)
	if err != nil {
		return domain.InventoryAsset{}, err
	}
	a.Status = status.String
	a.SerialNumber = serial.String
	a.AssetTag = assetTag.String
	a.Model = model.String
	a.Department = department.String

	if vendorID.Valid {
		id := uuid.UUID(vendorID.Bytes)
		a.VendorID = &id
	}
	if locationID.Valid {
		id := uuid.UUID(locationID.Bytes)
		a.LocationID = &id
	}
	if owner.Valid {
		id := uuid.UUID(owner.Bytes)
		a.OwnerID = &id
	}
	if purchaseDate.Valid {
		t := purchaseDate.Time
		a.PurchaseDate = &t
	}
	if warrantyExpiry.Valid {
		t := warrantyExpiry.Time
		a.WarrantyExpiry = &t
	}
	if len(customFields) > 0 {
		fields, err := domain.AttributesFromJSONB(customFields)
		if err != nil {
			return domain.InventoryAsset{}, fmt.Errorf("unmarshal custom fields: %w", err)
		}
		a.CustomFields = fields
	}
	return a, nil
}
