package toolregistry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func echoRunner(ctx context.Context, args map[string]any) (Result, error) {
	return Result{Output: "ok", Success: true}, nil
}

func TestRegister_RejectsDuplicateNameAndEmptyFields(t *testing.T) {
	r := New(Config{})
	if err := r.Register(Descriptor{Name: "echo"}, echoRunner); err != nil {
		t.Fatal(err)
	}
	err := r.Register(Descriptor{Name: "echo"}, echoRunner)
	if _, ok := err.(*NameConflictError); !ok {
		t.Fatalf("expected NameConflictError, got %v", err)
	}
	if err := r.Register(Descriptor{Name: ""}, echoRunner); err == nil {
		t.Fatal("expected error for empty name")
	}
	if err := r.Register(Descriptor{Name: "nilrunner"}, nil); err == nil {
		t.Fatal("expected error for nil runner")
	}
}

func TestList_SortedByName(t *testing.T) {
	r := New(Config{})
	_ = r.Register(Descriptor{Name: "zeta"}, echoRunner)
	_ = r.Register(Descriptor{Name: "alpha"}, echoRunner)
	list := r.List()
	if len(list) != 2 || list[0].Name != "alpha" || list[1].Name != "zeta" {
		t.Fatalf("got %+v", list)
	}
}

func TestRun_UnknownToolErrors(t *testing.T) {
	r := New(Config{})
	_, err := r.Run(context.Background(), "missing", nil)
	if err == nil {
		t.Fatal("expected error for unknown tool")
	}
}

func TestRun_ValidatesArgsBeforeExecuting(t *testing.T) {
	r := New(Config{})
	called := false
	runner := func(ctx context.Context, args map[string]any) (Result, error) {
		called = true
		return Result{Success: true}, nil
	}
	schema := &Schema{Type: "object", Required: []string{"path"}}
	if err := r.Register(Descriptor{Name: "file", Schema: schema}, runner); err != nil {
		t.Fatal(err)
	}
	_, err := r.Run(context.Background(), "file", map[string]any{})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if called {
		t.Fatal("runner should not run when validation fails")
	}
}

func TestRun_TimesOutSlowRunner(t *testing.T) {
	r := New(Config{GlobalTimeoutSeconds: 1})
	slow := func(ctx context.Context, args map[string]any) (Result, error) {
		select {
		case <-time.After(5 * time.Second):
			return Result{Success: true}, nil
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	if err := r.Register(Descriptor{Name: "slow", TimeoutSeconds: 1}, slow); err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	res, err := r.Run(context.Background(), "slow", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Fatal("expected timeout failure")
	}
	if res.Error != "timeout" {
		t.Fatalf("expected timeout error, got %q", res.Error)
	}
	if time.Since(start) > 3*time.Second {
		t.Fatalf("took too long: %v", time.Since(start))
	}
}

func TestRun_RunnerErrorSurfacesAsFailedResult(t *testing.T) {
	r := New(Config{})
	failing := func(ctx context.Context, args map[string]any) (Result, error) {
		return Result{}, errors.New("boom")
	}
	if err := r.Register(Descriptor{Name: "fails"}, failing); err != nil {
		t.Fatal(err)
	}
	res, err := r.Run(context.Background(), "fails", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Fatal("expected failure result")
	}
}

func TestRun_CachesCacheableResults(t *testing.T) {
	r := New(Config{})
	calls := 0
	counting := func(ctx context.Context, args map[string]any) (Result, error) {
		calls++
		return Result{Success: true, Output: "x"}, nil
	}
	if err := r.Register(Descriptor{Name: "cacheable", Cacheable: true}, counting); err != nil {
		t.Fatal(err)
	}
	args := map[string]any{"a": 1}
	if _, err := r.Run(context.Background(), "cacheable", args); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Run(context.Background(), "cacheable", args); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 underlying call due to cache, got %d", calls)
	}
}

func TestRun_PanicInRunnerBecomesFailure(t *testing.T) {
	r := New(Config{})
	panicky := func(ctx context.Context, args map[string]any) (Result, error) {
		panic("kaboom")
	}
	if err := r.Register(Descriptor{Name: "panicky"}, panicky); err != nil {
		t.Fatal(err)
	}
	res, err := r.Run(context.Background(), "panicky", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Fatal("expected failure result on panic")
	}
}
