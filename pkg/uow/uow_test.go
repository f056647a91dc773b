package uow

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
)

type fakeTx struct {
	pgx.Tx
	commits   int
	rollbacks int
	commitErr error
	closed    bool
}

func (t *fakeTx) Commit(context.Context) error {
	t.commits++
	t.closed = true
	return t.commitErr
}

func (t *fakeTx) Rollback(context.Context) error {
	if t.closed {
		return pgx.ErrTxClosed
	}
	t.rollbacks++
	t.closed = true
	return nil
}

type fakeBeginner struct {
	tx       *fakeTx
	beginErr error
}

func (b *fakeBeginner) BeginTx(context.Context, pgx.TxOptions) (pgx.Tx, error) {
	if b.beginErr != nil {
		return nil, b.beginErr
	}
	return b.tx, nil
}

func TestDo_CommitsOnSuccess(t *testing.T) {
	tx := &fakeTx{}
	u := NewWith(&fakeBeginner{tx: tx}, pgx.TxOptions{})

	err := u.Do(context.Background(), func(ctx context.Context, got pgx.Tx) error {
		if got != tx {
			t.Fatalf("fn received a different tx")
		}
		ctxTx, ok := TxFromContext(ctx)
		if !ok || ctxTx != tx {
			t.Fatalf("tx missing from context")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if tx.commits != 1 || tx.rollbacks != 0 {
		t.Fatalf("commits=%d rollbacks=%d, want 1/0", tx.commits, tx.rollbacks)
	}
}

func TestDo_RollsBackAndReturnsError(t *testing.T) {
	tx := &fakeTx{}
	u := NewWith(&fakeBeginner{tx: tx}, pgx.TxOptions{})
	boom := errors.New("boom")

	err := u.Do(context.Background(), func(context.Context, pgx.Tx) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if tx.commits != 0 || tx.rollbacks != 1 {
		t.Fatalf("commits=%d rollbacks=%d, want 0/1", tx.commits, tx.rollbacks)
	}
}

func TestDo_RollsBackOnPanic(t *testing.T) {
	tx := &fakeTx{}
	u := NewWith(&fakeBeginner{tx: tx}, pgx.TxOptions{})

	defer func() {
		if p := recover(); p != "kaboom" {
			t.Fatalf("recovered %v, want kaboom", p)
		}
		if tx.rollbacks != 1 {
			t.Fatalf("rollbacks = %d, want 1", tx.rollbacks)
		}
	}()
	_ = u.Do(context.Background(), func(context.Context, pgx.Tx) error { panic("kaboom") })
}

func TestDo_CommitFailureIsReturned(t *testing.T) {
	commitErr := errors.New("serialization failure")
	tx := &fakeTx{commitErr: commitErr}
	u := NewWith(&fakeBeginner{tx: tx}, pgx.TxOptions{})

	err := u.Do(context.Background(), func(context.Context, pgx.Tx) error { return nil })
	if !errors.Is(err, commitErr) {
		t.Fatalf("err = %v, want wrapped %v", err, commitErr)
	}
}

func TestDo_BeginFailure(t *testing.T) {
	beginErr := errors.New("pool closed")
	u := NewWith(&fakeBeginner{beginErr: beginErr}, pgx.TxOptions{})

	called := false
	err := u.Do(context.Background(), func(context.Context, pgx.Tx) error {
		called = true
		return nil
	})
	if !errors.Is(err, beginErr) {
		t.Fatalf("err = %v, want %v", err, beginErr)
	}
	if called {
		t.Fatalf("fn must not run when begin fails")
	}
}

func TestExecutorFrom_FallsBackWithoutTx(t *testing.T) {
	var def Executor
	if got := ExecutorFrom(context.Background(), def); got != nil {
		t.Fatalf("got %v, want default executor", got)
	}
}
