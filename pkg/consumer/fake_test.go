package consumer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dmehra2102/inventory-cqrs/pkg/stream"
)

type pendingEntry struct {
	consumer    string
	deliveredAt time.Time
}

// fakeBroker is an in-memory single-group stream with just enough
// XREADGROUP / XAUTOCLAIM semantics for the loop tests.
type fakeBroker struct {
	mu      sync.Mutex
	now     time.Time
	seq     int
	streams map[string][]stream.Entry
	cursor  int
	pending map[string]pendingEntry
	acked   []string
	touched map[string]any

	ensureErrs []error
	readErrs   []error
	appendErr  error
	ackErr     error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		now:     time.Unix(1_700_000_000, 0),
		streams: map[string][]stream.Entry{},
		pending: map[string]pendingEntry{},
		touched: map[string]any{},
	}
}

func (b *fakeBroker) advance(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = b.now.Add(d)
}

func (b *fakeBroker) Append(_ context.Context, s string, _ int64, values map[string]any) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.appendErr != nil {
		return "", b.appendErr
	}
	b.seq++
	id := fmt.Sprintf("%06d-0", b.seq)
	b.streams[s] = append(b.streams[s], stream.Entry{ID: id, Values: values})
	return id, nil
}

func (b *fakeBroker) EnsureGroup(context.Context, string, string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.ensureErrs) > 0 {
		err := b.ensureErrs[0]
		b.ensureErrs = b.ensureErrs[1:]
		return err
	}
	return nil
}

func (b *fakeBroker) ReadGroup(_ context.Context, s, _, consumer string, count int64, _ time.Duration) ([]stream.Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.readErrs) > 0 {
		err := b.readErrs[0]
		b.readErrs = b.readErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	all := b.streams[s]
	var out []stream.Entry
	for b.cursor < len(all) && int64(len(out)) < count {
		e := all[b.cursor]
		b.cursor++
		b.pending[e.ID] = pendingEntry{consumer: consumer, deliveredAt: b.now}
		out = append(out, e)
	}
	return out, nil
}

func (b *fakeBroker) AutoClaim(_ context.Context, s, _, consumer string, minIdle time.Duration, start string, count int64) ([]stream.Entry, string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.pending))
	for id := range b.pending {
		if id >= start {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	// Like Redis, inspect at most count*10 pending entries per call.
	var out []stream.Entry
	for i, id := range ids {
		if int64(len(out)) >= count || int64(i) >= count*10 {
			return out, id, nil
		}
		p := b.pending[id]
		if b.now.Sub(p.deliveredAt) < minIdle {
			continue
		}
		b.pending[id] = pendingEntry{consumer: consumer, deliveredAt: b.now}
		out = append(out, b.lookup(s, id))
	}
	return out, "0-0", nil
}

func (b *fakeBroker) lookup(s, id string) stream.Entry {
	for _, e := range b.streams[s] {
		if e.ID == id {
			return e
		}
	}
	return stream.Entry{ID: id}
}

func (b *fakeBroker) Ack(_ context.Context, _, _ string, ids ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ackErr != nil {
		return b.ackErr
	}
	for _, id := range ids {
		delete(b.pending, id)
		b.acked = append(b.acked, id)
	}
	return nil
}

func (b *fakeBroker) Touch(_ context.Context, key string, value any, _ time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.touched[key] = value
	return nil
}

// deliver marks id as delivered to consumer at the current fake time.
func (b *fakeBroker) deliver(id, consumer string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending[id] = pendingEntry{consumer: consumer, deliveredAt: b.now}
}

func (b *fakeBroker) pendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *fakeBroker) entries(s string) []stream.Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]stream.Entry(nil), b.streams[s]...)
}

type memCounter struct {
	mu      sync.Mutex
	counts  map[string]int64
	incrErr error
}

func newMemCounter() *memCounter { return &memCounter{counts: map[string]int64{}} }

func (c *memCounter) Key(s, g, id string) string { return "retry:" + s + ":" + g + ":" + id }

func (c *memCounter) Incr(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.incrErr != nil {
		return 0, c.incrErr
	}
	c.counts[key]++
	return c.counts[key], nil
}

func (c *memCounter) Reset(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.counts, key)
	return nil
}

// dispatcherFunc adapts a function to Dispatcher and counts calls.
type dispatcherFunc struct {
	mu    sync.Mutex
	calls []stream.Envelope
	fn    func(stream.Envelope) error
}

func (d *dispatcherFunc) Dispatch(_ context.Context, env stream.Envelope) error {
	d.mu.Lock()
	d.calls = append(d.calls, env)
	d.mu.Unlock()
	if d.fn == nil {
		return nil
	}
	return d.fn(env)
}

func (d *dispatcherFunc) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

var errBroker = errors.New("connection refused")
