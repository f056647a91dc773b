package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmehra2102/inventory-cqrs/internal/inventory/domain"
	"github.com/dmehra2102/inventory-cqrs/pkg/uow"
)

const keyPredicate = `tenant_id=$1 AND warehouse_id=$2 AND location_id=$3 AND product_id=$4 AND lot_number=$5 AND serial_number=$6`

type ItemRepository struct {
	log  *slog.Logger
	pool *pgxpool.Pool
}

func NewItemRepository(log *slog.Logger, pool *pgxpool.Pool) *ItemRepository {
	return &ItemRepository{log: log, pool: pool}
}

func keyArgs(k domain.ItemKey) []any {
	return []any{k.TenantID, k.WarehouseID, k.LocationID, k.ProductID, k.LotNumber, k.SerialNumber}
}

// GetForUpdate locks the row for the rest of the surrounding transaction.
func (r *ItemRepository) GetForUpdate(ctx context.Context, key domain.ItemKey) (domain.Item, error) {
	db := uow.ExecutorFrom(ctx, r.pool)
	it := domain.Item{Key: key}
	err := db.QueryRow(ctx, `
		SELECT qty_on_hand, qty_reserved, storage_class, expiry_date, quality_status, version, updated_at
		FROM inventory_item
		WHERE `+keyPredicate+`
		FOR UPDATE`, keyArgs(key)...).
		Scan(&it.QtyOnHand, &it.QtyReserved, &it.StorageClass, &it.ExpiryDate, &it.QualityStatus, &it.Version, &it.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Item{}, domain.ErrItemNotFound
	}
	if err != nil {
		return domain.Item{}, fmt.Errorf("load item %s: %w", key, err)
	}
	return it, nil
}

func (r *ItemRepository) Save(ctx context.Context, it domain.Item) error {
	db := uow.ExecutorFrom(ctx, r.pool)
	args := append(keyArgs(it.Key), it.QtyOnHand, it.QtyReserved, it.StorageClass, it.ExpiryDate, it.QualityStatus, it.Version, it.UpdatedAt)
	_, err := db.Exec(ctx, `
		INSERT INTO inventory_item (tenant_id, warehouse_id, location_id, product_id, lot_number, serial_number,
			qty_on_hand, qty_reserved, storage_class, expiry_date, quality_status, version, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (tenant_id, warehouse_id, location_id, product_id, lot_number, serial_number) DO UPDATE SET
			qty_on_hand=$7, qty_reserved=$8, storage_class=$9, expiry_date=$10, quality_status=$11, version=$12, updated_at=$13`,
		args...)
	if err != nil {
		return fmt.Errorf("save item %s: %w", it.Key, err)
	}
	return nil
}

func (r *ItemRepository) Delete(ctx context.Context, key domain.ItemKey) error {
	db := uow.ExecutorFrom(ctx, r.pool)
	ct, err := db.Exec(ctx, `DELETE FROM inventory_item WHERE `+keyPredicate, keyArgs(key)...)
	if err != nil {
		return fmt.Errorf("delete item %s: %w", key, err)
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrItemNotFound
	}
	return nil
}
