package hooks

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestFire_RunsHooksInRegistrationOrder(t *testing.T) {
	r := New(nil)
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		r.Register(OnTurnStart, func(ctx context.Context, hc Context) error {
			order = append(order, i)
			return nil
		})
	}
	r.Fire(context.Background(), OnTurnStart, Context{SessionID: "s"})
	if len(order) != 3 || order[0] != 0 || order[1] != 1 || order[2] != 2 {
		t.Fatalf("got %v", order)
	}
}

func TestFire_SwallowsHookError(t *testing.T) {
	r := New(nil)
	ran := int32(0)
	r.Register(OnTurnEnd, func(ctx context.Context, hc Context) error {
		return errors.New("boom")
	})
	r.Register(OnTurnEnd, func(ctx context.Context, hc Context) error {
		atomic.AddInt32(&ran, 1)
		return nil
	})
	r.Fire(context.Background(), OnTurnEnd, Context{})
	if atomic.LoadInt32(&ran) != 1 {
		t.Fatal("expected second hook to still run after first errored")
	}
}

func TestFire_SwallowsPanic(t *testing.T) {
	r := New(nil)
	ran := int32(0)
	r.Register(OnToolResult, func(ctx context.Context, hc Context) error {
		panic("kaboom")
	})
	r.Register(OnToolResult, func(ctx context.Context, hc Context) error {
		atomic.AddInt32(&ran, 1)
		return nil
	})
	r.Fire(context.Background(), OnToolResult, Context{})
	if atomic.LoadInt32(&ran) != 1 {
		t.Fatal("expected second hook to still run after first panicked")
	}
}

func TestFire_TimesOutSlowHook(t *testing.T) {
	r := New(nil)
	r.timeout = 20 * time.Millisecond
	unblocked := make(chan struct{})
	r.Register(OnTurnStart, func(ctx context.Context, hc Context) error {
		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
		}
		close(unblocked)
		return nil
	})
	start := time.Now()
	r.Fire(context.Background(), OnTurnStart, Context{})
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("Fire did not return promptly on hook timeout: %v", time.Since(start))
	}
	<-unblocked
}

func TestFire_UnknownEventIsNoOp(t *testing.T) {
	r := New(nil)
	r.Fire(context.Background(), "not-a-real-event", Context{})
}
