package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var (
	ErrInvalidKey        = errors.New("invalid item key")
	ErrInvalidQuantity   = errors.New("invalid quantity")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrItemNotFound      = errors.New("item not found")
)

// ItemKey identifies a stock position. Lot and serial are optional and stored
// as empty strings so the key stays usable as a primary key.
type ItemKey struct {
	TenantID     string `json:"tenant_id"`
	WarehouseID  string `json:"warehouse_id"`
	LocationID   string `json:"location_id"`
	ProductID    string `json:"product_id"`
	LotNumber    string `json:"lot_number"`
	SerialNumber string `json:"serial_number"`
}

// keyAliases are the short composite key names producers may send instead of
// the *_id and *_number ones.
type keyAliases struct {
	Tenant    *string `json:"tenant"`
	Warehouse *string `json:"warehouse"`
	Location  *string `json:"location"`
	Product   *string `json:"product"`
	Lot       *string `json:"lot"`
	Serial    *string `json:"serial"`
}

// ResolveKey reads the short key names from an event payload. A short name
// present in raw overrides the long one.
func (k *ItemKey) ResolveKey(raw []byte) error {
	var a keyAliases
	if err := json.Unmarshal(raw, &a); err != nil {
		return err
	}
	override(&k.TenantID, a.Tenant)
	override(&k.WarehouseID, a.Warehouse)
	override(&k.LocationID, a.Location)
	override(&k.ProductID, a.Product)
	override(&k.LotNumber, a.Lot)
	override(&k.SerialNumber, a.Serial)
	return nil
}

func override(dst, v *string) {
	if v != nil {
		*dst = *v
	}
}

func (k ItemKey) Validate() error {
	if k.TenantID == "" || k.WarehouseID == "" || k.LocationID == "" || k.ProductID == "" {
		return ErrInvalidKey
	}
	return nil
}

// String is the aggregate id used for outbox rows and Kafka message keys.
func (k ItemKey) String() string {
	return strings.Join([]string{k.TenantID, k.WarehouseID, k.LocationID, k.ProductID, k.LotNumber, k.SerialNumber}, "/")
}

type Attributes struct {
	StorageClass  *string    `json:"storage_class,omitempty"`
	ExpiryDate    *time.Time `json:"expiry_date,omitempty"`
	QualityStatus *string    `json:"quality_status,omitempty"`
}

type Item struct {
	Key         ItemKey
	QtyOnHand   int64
	QtyReserved int64
	Attributes
	Version   int64
	UpdatedAt time.Time
}

func NewItem(key ItemKey, qtyOnHand int64, attrs Attributes) (Item, error) {
	if err := key.Validate(); err != nil {
		return Item{}, err
	}
	if qtyOnHand < 0 {
		return Item{}, ErrInvalidQuantity
	}
	return Item{
		Key:        key,
		QtyOnHand:  qtyOnHand,
		Attributes: attrs,
		Version:    1,
		UpdatedAt:  time.Now().UTC(),
	}, nil
}

func (i Item) Available() int64 { return i.QtyOnHand - i.QtyReserved }

// Set overwrites the on-hand quantity and attributes. Reserved stock must
// still be covered.
func (i *Item) Set(qtyOnHand int64, attrs Attributes) error {
	if qtyOnHand < 0 {
		return ErrInvalidQuantity
	}
	if qtyOnHand < i.QtyReserved {
		return ErrInsufficientStock
	}
	i.QtyOnHand = qtyOnHand
	i.Attributes = attrs
	i.touch()
	return nil
}

func (i *Item) Adjust(delta int64) error {
	if delta == 0 {
		return ErrInvalidQuantity
	}
	next := i.QtyOnHand + delta
	if next < 0 || next < i.QtyReserved {
		return ErrInsufficientStock
	}
	i.QtyOnHand = next
	i.touch()
	return nil
}

func (i *Item) Reserve(qty int64) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if i.Available() < qty {
		return ErrInsufficientStock
	}
	i.QtyReserved += qty
	i.touch()
	return nil
}

func (i *Item) Release(qty int64) error {
	if qty <= 0 || qty > i.QtyReserved {
		return ErrInvalidQuantity
	}
	i.QtyReserved -= qty
	i.touch()
	return nil
}

// Retire bumps the version for a removal so the projection can order the
// delete against in-flight snapshots.
func (i *Item) Retire() {
	i.touch()
}

func (i *Item) touch() {
	i.Version++
	i.UpdatedAt = time.Now().UTC()
}
