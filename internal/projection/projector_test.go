package projection

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"maps"
	"testing"

	"github.com/jackc/pgx/v5"

	"github.com/dmehra2102/inventory-cqrs/internal/inventory/domain"
	"github.com/dmehra2102/inventory-cqrs/pkg/idempotency"
	"github.com/dmehra2102/inventory-cqrs/pkg/stream"
)

var key = domain.ItemKey{TenantID: "t1", WarehouseID: "w1", LocationID: "A-01", ProductID: "SKU-1"}

// memState is the fake database: projection rows plus processed ids.
type memState struct {
	rows      map[string]Row
	processed map[string]string
}

type memDB struct {
	state     memState
	applyErr  error
	markErr   error
	lostRace  bool
	applies   int
	rollbacks int
}

func newMemDB() *memDB {
	return &memDB{state: memState{rows: map[string]Row{}, processed: map[string]string{}}}
}

// Do snapshots the state and restores it when fn fails.
func (m *memDB) Do(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	saved := memState{rows: maps.Clone(m.state.rows), processed: maps.Clone(m.state.processed)}
	if err := fn(ctx, nil); err != nil {
		m.state = saved
		m.rollbacks++
		return err
	}
	return nil
}

func (m *memDB) Seen(_ context.Context, _ idempotency.DB, id string) (bool, error) {
	_, ok := m.state.processed[id]
	return ok, nil
}

func (m *memDB) Mark(_ context.Context, _ idempotency.DB, id, typ string) (bool, error) {
	if m.markErr != nil {
		return false, m.markErr
	}
	if m.lostRace {
		return false, nil
	}
	m.state.processed[id] = typ
	return true, nil
}

func (m *memDB) ApplySnapshot(_ context.Context, s domain.Snapshot) error {
	m.applies++
	if m.applyErr != nil {
		return m.applyErr
	}
	k := s.ItemKey.String()
	if cur, ok := m.state.rows[k]; ok && cur.Version > s.Version {
		return nil
	}
	m.state.rows[k] = Row{Snapshot: s, QtyAvailable: s.QtyOnHand - s.QtyReserved}
	return nil
}

func (m *memDB) Remove(_ context.Context, k domain.ItemKey, version int64) error {
	if cur, ok := m.state.rows[k.String()]; ok && cur.Version <= version {
		delete(m.state.rows, k.String())
	}
	return nil
}

func newTestProjector(db *memDB) *Projector {
	return NewProjector(slog.New(slog.NewTextHandler(io.Discard, nil)), db, db, db)
}

func envelope(t *testing.T, id string, ev domain.Event) stream.Envelope {
	t.Helper()
	env, err := stream.NewEnvelope(ev.EventType(), ev, id)
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	return env
}

func snapshot(onHand, reserved, version int64) domain.Snapshot {
	return domain.Snapshot{ItemKey: key, QtyOnHand: onHand, QtyReserved: reserved, Version: version}
}

func TestProjector_UpsertedIsIdempotent(t *testing.T) {
	db := newMemDB()
	p := newTestProjector(db)
	env := envelope(t, "evt-1", domain.ItemUpserted{Snapshot: snapshot(10, 2, 1)})

	for i := 0; i < 2; i++ {
		if err := p.Dispatch(context.Background(), env); err != nil {
			t.Fatalf("dispatch %d: %v", i, err)
		}
	}

	row := db.state.rows[key.String()]
	if row.QtyAvailable != 8 || row.QtyOnHand != 10 || row.QtyReserved != 2 {
		t.Fatalf("row = %+v, want on hand 10, reserved 2, available 8", row)
	}
	if db.applies != 1 {
		t.Fatalf("handler ran %d times, want 1", db.applies)
	}
	if db.state.processed["evt-1"] != domain.TypeItemUpserted {
		t.Fatalf("processed = %v", db.state.processed)
	}
}

func TestProjector_OlderSnapshotDoesNotOverwrite(t *testing.T) {
	db := newMemDB()
	p := newTestProjector(db)
	ctx := context.Background()

	if err := p.Dispatch(ctx, envelope(t, "evt-2", domain.ItemAdjusted{Snapshot: snapshot(12, 2, 2), Delta: 2})); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if err := p.Dispatch(ctx, envelope(t, "evt-1", domain.ItemUpserted{Snapshot: snapshot(10, 2, 1)})); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if got := db.state.rows[key.String()].QtyAvailable; got != 10 {
		t.Fatalf("available = %d, want 10", got)
	}
}

func TestProjector_UnknownTypeIsMarkedProcessed(t *testing.T) {
	db := newMemDB()
	p := newTestProjector(db)

	env, _ := stream.NewEnvelope("ItemAudited", map[string]any{"by": "ops"}, "evt-9")
	if err := p.Dispatch(context.Background(), env); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if db.applies != 0 {
		t.Fatalf("handler invoked for unknown type")
	}
	if _, ok := db.state.processed["evt-9"]; !ok {
		t.Fatalf("unknown event not marked processed")
	}
}

func TestProjector_FailuresRollBack(t *testing.T) {
	tests := []struct {
		name  string
		env   func(t *testing.T) stream.Envelope
		setup func(*memDB)
	}{
		{
			name: "handler error",
			env: func(t *testing.T) stream.Envelope {
				return envelope(t, "evt-1", domain.ItemUpserted{Snapshot: snapshot(10, 2, 1)})
			},
			setup: func(db *memDB) { db.applyErr = errors.New("deadlock detected") },
		},
		{
			name: "processed insert error",
			env: func(t *testing.T) stream.Envelope {
				return envelope(t, "evt-1", domain.ItemUpserted{Snapshot: snapshot(10, 2, 1)})
			},
			setup: func(db *memDB) { db.markErr = errors.New("check violation") },
		},
		{
			name: "malformed payload",
			env: func(*testing.T) stream.Envelope {
				return stream.Envelope{ID: "evt-1", Type: domain.TypeItemAdjusted, Payload: []byte(`{"qty_on_hand":"ten"}`)}
			},
			setup: func(*memDB) {},
		},
		{
			name: "missing key",
			env: func(t *testing.T) stream.Envelope {
				return envelope(t, "evt-1", domain.ItemAdjusted{Snapshot: domain.Snapshot{QtyOnHand: 1, Version: 1}, Delta: 1})
			},
			setup: func(*memDB) {},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := newMemDB()
			tt.setup(db)

			if err := newTestProjector(db).Dispatch(context.Background(), tt.env(t)); err == nil {
				t.Fatal("expected error")
			}
			if len(db.state.rows) != 0 {
				t.Fatalf("projection written despite failure: %v", db.state.rows)
			}
			if len(db.state.processed) != 0 {
				t.Fatalf("event marked processed despite failure")
			}
		})
	}
}

func TestProjector_LostRaceRollsBackQuietly(t *testing.T) {
	db := newMemDB()
	db.lostRace = true

	err := newTestProjector(db).Dispatch(context.Background(), envelope(t, "evt-1", domain.ItemUpserted{Snapshot: snapshot(10, 2, 1)}))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(db.state.rows) != 0 {
		t.Fatalf("projection kept after losing the race")
	}
	if db.rollbacks != 1 {
		t.Fatalf("rollbacks = %d, want 1", db.rollbacks)
	}
}

func TestProjector_RemovedDeletesRow(t *testing.T) {
	db := newMemDB()
	p := newTestProjector(db)
	ctx := context.Background()

	if err := p.Dispatch(ctx, envelope(t, "evt-1", domain.ItemUpserted{Snapshot: snapshot(10, 0, 1)})); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if err := p.Dispatch(ctx, envelope(t, "evt-2", domain.ItemRemoved{ItemKey: key, Version: 2})); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(db.state.rows) != 0 {
		t.Fatalf("row survived removal")
	}
}

func TestProjector_ShortKeyPayload(t *testing.T) {
	db := newMemDB()
	p := newTestProjector(db)
	env := stream.Envelope{
		ID:      "evt-short",
		Type:    domain.TypeItemUpserted,
		Payload: []byte(`{"tenant":"t1","warehouse":"w1","location":"l1","product":"p1","lot":"","serial":"","qty_on_hand":10,"qty_reserved":2}`),
	}

	for i := 0; i < 2; i++ {
		if err := p.Dispatch(context.Background(), env); err != nil {
			t.Fatalf("dispatch %d: %v", i, err)
		}
	}

	k := domain.ItemKey{TenantID: "t1", WarehouseID: "w1", LocationID: "l1", ProductID: "p1"}
	row, ok := db.state.rows[k.String()]
	if !ok {
		t.Fatalf("no row for %s, rows = %v", k, db.state.rows)
	}
	if row.QtyAvailable != 8 {
		t.Fatalf("qty_available = %d, want 8", row.QtyAvailable)
	}
	if db.applies != 1 || db.state.processed["evt-short"] != domain.TypeItemUpserted {
		t.Fatalf("applies = %d, processed = %v", db.applies, db.state.processed)
	}
}
