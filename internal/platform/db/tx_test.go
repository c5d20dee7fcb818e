package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
)

type failingBeginner struct{ calls int }

func (f *failingBeginner) Begin(context.Context) (pgx.Tx, error) {
	f.calls++
	return nil, errors.New("pool exhausted")
}

func TestRunInTx_BeginError(t *testing.T) {
	b := &failingBeginner{}
	ran := false
	err := RunInTx(context.Background(), b, func(context.Context) error {
		ran = true
		return nil
	})
	if err == nil {
		t.Fatal("expected begin error")
	}
	if ran {
		t.Error("fn must not run when begin fails")
	}
}

func TestTxFromContext_Empty(t *testing.T) {
	if TxFromContext(context.Background()) != nil {
		t.Error("expected no transaction on a bare context")
	}
}

func TestAfterCommit_OutsideUnitRunsImmediately(t *testing.T) {
	ran := false
	AfterCommit(context.Background(), func() { ran = true })
	if !ran {
		t.Error("expected hook to run immediately")
	}
}

func TestNopTransactor_HooksRunAfterSuccess(t *testing.T) {
	var order []string
	err := NopTransactor{}.InTx(context.Background(), func(ctx context.Context) error {
		AfterCommit(ctx, func() { order = append(order, "hook") })
		order = append(order, "body")
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(order) != 2 || order[0] != "body" || order[1] != "hook" {
		t.Errorf("expected body then hook, got %v", order)
	}
}

func TestNopTransactor_HooksDroppedOnError(t *testing.T) {
	want := errors.New("rollback me")
	ran := false
	got := NopTransactor{}.InTx(context.Background(), func(ctx context.Context) error {
		AfterCommit(ctx, func() { ran = true })
		return want
	})
	if !errors.Is(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
	if ran {
		t.Error("hook must not run when the unit fails")
	}
}

func TestNopTransactor_NestedJoinsOuter(t *testing.T) {
	tx := NopTransactor{}
	ran := false
	err := tx.InTx(context.Background(), func(ctx context.Context) error {
		if err := tx.InTx(ctx, func(ctx context.Context) error {
			AfterCommit(ctx, func() { ran = true })
			return nil
		}); err != nil {
			return err
		}
		if ran {
			t.Error("inner hook ran before the outer unit finished")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ran {
		t.Error("expected hook to run after outer unit")
	}
}
