package projection

import (
	"errors"
	"testing"

	"github.com/dmehra2102/inventory-cqrs/internal/inventory/domain"
	"github.com/dmehra2102/inventory-cqrs/pkg/stream"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		typ     string
		payload string
		wantErr error
	}{
		{domain.TypeItemUpserted, `{"tenant_id":"t1","qty_on_hand":10,"version":1}`, nil},
		{domain.TypeItemAdjusted, `{"tenant_id":"t1","delta":-3}`, nil},
		{domain.TypeItemReserved, `{"tenant_id":"t1","qty":2}`, nil},
		{domain.TypeItemReleased, `{"tenant_id":"t1","qty":2}`, nil},
		{domain.TypeItemRemoved, `{"tenant_id":"t1","version":4}`, nil},
		{"SomethingElse", `{}`, ErrUnknownEventType},
	}
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			ev, err := Decode(stream.Envelope{ID: "e", Type: tt.typ, Payload: []byte(tt.payload)})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				return
			}
			if ev.EventType() != tt.typ {
				t.Fatalf("event type = %s, want %s", ev.EventType(), tt.typ)
			}
		})
	}
}

func TestDecode_CarriesFields(t *testing.T) {
	ev, err := Decode(stream.Envelope{ID: "e", Type: domain.TypeItemAdjusted, Payload: []byte(`{"tenant_id":"t1","qty_on_hand":7,"delta":-3,"version":5}`)})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	adj := ev.(domain.ItemAdjusted)
	if adj.Delta != -3 || adj.QtyOnHand != 7 || adj.Version != 5 || adj.TenantID != "t1" {
		t.Fatalf("decoded = %+v", adj)
	}
}

func TestDecode_BadPayload(t *testing.T) {
	_, err := Decode(stream.Envelope{ID: "e", Type: domain.TypeItemReserved, Payload: []byte(`[1,2]`)})
	if err == nil || errors.Is(err, ErrUnknownEventType) {
		t.Fatalf("err = %v, want decode error", err)
	}
}

func TestDecode_ShortKeyNames(t *testing.T) {
	payload := `{"tenant":"t1","warehouse":"w1","location":"l1","product":"p1","lot":"","serial":"","qty_on_hand":10,"qty_reserved":2}`
	ev, err := Decode(stream.Envelope{ID: "e", Type: domain.TypeItemUpserted, Payload: []byte(payload)})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	up := ev.(domain.ItemUpserted)
	want := domain.ItemKey{TenantID: "t1", WarehouseID: "w1", LocationID: "l1", ProductID: "p1"}
	if up.ItemKey != want || up.QtyOnHand != 10 || up.QtyReserved != 2 {
		t.Fatalf("decoded = %+v", up)
	}

	removed, err := Decode(stream.Envelope{ID: "e", Type: domain.TypeItemRemoved, Payload: []byte(`{"tenant":"t1","warehouse":"w1","location":"l1","product":"p1","version":3}`)})
	if err != nil {
		t.Fatalf("decode removed: %v", err)
	}
	if rm := removed.(domain.ItemRemoved); rm.ItemKey != want || rm.Version != 3 {
		t.Fatalf("decoded = %+v", rm)
	}
}
