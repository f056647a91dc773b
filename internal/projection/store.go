package projection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmehra2102/inventory-cqrs/internal/inventory/domain"
	"github.com/dmehra2102/inventory-cqrs/pkg/uow"
)

// Row is one record of the search projection.
type Row struct {
	domain.Snapshot
	QtyAvailable int64
	UpdatedAt    time.Time
}

// SearchStore writes the inventory_search read model. Writes are version
// guarded so an older snapshot never replaces a newer one.
type SearchStore struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewSearchStore(log *slog.Logger, pool *pgxpool.Pool) *SearchStore {
	return &SearchStore{log: log, pool: pool}
}

func (s *SearchStore) ApplySnapshot(ctx context.Context, snap domain.Snapshot) error {
	db := uow.ExecutorFrom(ctx, s.pool)
	k := snap.ItemKey
	ct, err := db.Exec(ctx, `
		INSERT INTO inventory_search (tenant_id, warehouse_id, location_id, product_id, lot_number, serial_number,
			qty_on_hand, qty_reserved, qty_available, storage_class, expiry_date, quality_status, version, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13, now())
		ON CONFLICT (tenant_id, warehouse_id, location_id, product_id, lot_number, serial_number) DO UPDATE SET
			qty_on_hand    = excluded.qty_on_hand,
			qty_reserved   = excluded.qty_reserved,
			qty_available  = excluded.qty_available,
			storage_class  = excluded.storage_class,
			expiry_date    = excluded.expiry_date,
			quality_status = excluded.quality_status,
			version        = excluded.version,
			updated_at     = excluded.updated_at
		WHERE inventory_search.version <= excluded.version`,
		k.TenantID, k.WarehouseID, k.LocationID, k.ProductID, k.LotNumber, k.SerialNumber,
		snap.QtyOnHand, snap.QtyReserved, snap.QtyOnHand-snap.QtyReserved,
		snap.StorageClass, snap.ExpiryDate, snap.QualityStatus, snap.Version)
	if err != nil {
		return fmt.Errorf("project %s: %w", k, err)
	}
	if ct.RowsAffected() == 0 {
		s.log.Debug("stale snapshot ignored", "key", k.String(), "version", snap.Version)
	}
	return nil
}

func (s *SearchStore) Remove(ctx context.Context, key domain.ItemKey, version int64) error {
	db := uow.ExecutorFrom(ctx, s.pool)
	_, err := db.Exec(ctx, `
		DELETE FROM inventory_search
		WHERE tenant_id=$1 AND warehouse_id=$2 AND location_id=$3 AND product_id=$4 AND lot_number=$5 AND serial_number=$6
		  AND version <= $7`,
		key.TenantID, key.WarehouseID, key.LocationID, key.ProductID, key.LotNumber, key.SerialNumber, version)
	if err != nil {
		return fmt.Errorf("remove projection %s: %w", key, err)
	}
	return nil
}

// Get reads a projection row; ok is false when there is none.
func (s *SearchStore) Get(ctx context.Context, key domain.ItemKey) (Row, bool, error) {
	db := uow.ExecutorFrom(ctx, s.pool)
	r := Row{Snapshot: domain.Snapshot{ItemKey: key}}
	err := db.QueryRow(ctx, `
		SELECT qty_on_hand, qty_reserved, qty_available, storage_class, expiry_date, quality_status, version, updated_at
		FROM inventory_search
		WHERE tenant_id=$1 AND warehouse_id=$2 AND location_id=$3 AND product_id=$4 AND lot_number=$5 AND serial_number=$6`,
		key.TenantID, key.WarehouseID, key.LocationID, key.ProductID, key.LotNumber, key.SerialNumber).
		Scan(&r.QtyOnHand, &r.QtyReserved, &r.QtyAvailable, &r.StorageClass, &r.ExpiryDate, &r.QualityStatus, &r.Version, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Row{}, false, nil
	}
	if err != nil {
		return Row{}, false, fmt.Errorf("get projection %s: %w", key, err)
	}
	return r, true, nil
}
