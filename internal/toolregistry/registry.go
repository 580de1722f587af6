// Package toolregistry implements the ToolRegistry protocol from spec
// §4.4: named tools with a JSON-schema-subset parameter contract, a
// bounded TTL+LRU result cache keyed by a canonical argument fingerprint,
// and per-tool timeout enforcement with cooperative cancellation.
//
// Grounded on agentsdk-go's pkg/tool/registry.go (name-keyed map behind an
// RWMutex, validate-then-execute) and pkg/tool/validator.go (the structural
// schema walk), extended with additional_properties rejection, array
// element homogeneity, and the fingerprint/cache/timeout layer spec §4.4
// requires that the teacher's registry does not implement.
package toolregistry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Descriptor is spec's ToolDescriptor entity.
type Descriptor struct {
	Name           string
	Description    string
	Schema         *Schema
	Cacheable      bool
	TimeoutSeconds int
	Normalizer     Normalizer
}

// Result is spec's ToolResult entity. Invariant enforced by callers: if
// Success is false, Error is non-empty and Data is nil.
type Result struct {
	Output    string
	Data      map[string]any
	Success   bool
	Error     string
	LatencyMs int64
}

// Runner executes a validated call. Implementations must return promptly
// when ctx is cancelled (cooperative cancellation, spec §5).
type Runner func(ctx context.Context, args map[string]any) (Result, error)

// NameConflictError is returned by Register on a duplicate name.
type NameConflictError struct{ Name string }

func (e *NameConflictError) Error() string { return fmt.Sprintf("toolregistry: name conflict: %s", e.Name) }

type entry struct {
	descriptor Descriptor
	runner     Runner
}

type cacheEntry struct {
	result    Result
	insertAt  time.Time
}

// Registry is the concrete ToolRegistry.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]entry

	cache          *lru.Cache[string, cacheEntry]
	cacheTTL       time.Duration
	globalTimeout  time.Duration
	logger         *log.Logger
}

// Config bundles the registry-wide defaults from spec §6's config schema.
type Config struct {
	CacheTTLSeconds     int
	MaxCacheEntries     int
	GlobalTimeoutSeconds int
	Logger              *log.Logger
}

// New builds a Registry. Zero-value Config fields fall back to spec
// defaults: TTL 60s, 512 entries, 30s global timeout.
func New(cfg Config) *Registry {
	ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	maxEntries := cfg.MaxCacheEntries
	if maxEntries <= 0 {
		maxEntries = 512
	}
	globalTimeout := time.Duration(cfg.GlobalTimeoutSeconds) * time.Second
	if globalTimeout <= 0 {
		globalTimeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	cache, _ := lru.New[string, cacheEntry](maxEntries)
	return &Registry{
		tools:         map[string]entry{},
		cache:         cache,
		cacheTTL:      ttl,
		globalTimeout: globalTimeout,
		logger:        logger,
	}
}

// Register installs a tool. Duplicate names fail with *NameConflictError.
func (r *Registry) Register(d Descriptor, runner Runner) error {
	if d.Name == "" {
		return errors.New("toolregistry: register: empty name")
	}
	if runner == nil {
		return errors.New("toolregistry: register: nil runner")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[d.Name]; exists {
		return &NameConflictError{Name: d.Name}
	}
	r.tools[d.Name] = entry{descriptor: d, runner: runner}
	return nil
}

// Unregister removes a tool if present.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// List returns all descriptors, sorted by name.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]Descriptor, 0, len(names))
	for _, n := range names {
		out = append(out, r.tools[n].descriptor)
	}
	return out
}

// Get returns one descriptor, or false if unknown.
func (r *Registry) Get(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	return e.descriptor, ok
}

// Validate runs the structural schema check without executing the tool.
func (r *Registry) Validate(name string, args map[string]any) error {
	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("toolregistry: unknown tool: %s", name)
	}
	return Validate(args, e.descriptor.Schema)
}

// Run validates, consults the cache, and executes with a hard timeout, per
// spec §4.4's Execution rules.
func (r *Registry) Run(ctx context.Context, name string, args map[string]any) (Result, error) {
	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return Result{}, fmt.Errorf("toolregistry: unknown tool: %s", name)
	}

	if e.descriptor.Schema != nil {
		if err := Validate(args, e.descriptor.Schema); err != nil {
			return Result{Success: false, Error: err.Error()}, err
		}
	}

	var fp string
	if e.descriptor.Cacheable {
		var err error
		fp, err = Fingerprint(name, args, e.descriptor.Normalizer)
		if err == nil {
			if cached, ok := r.cacheGet(fp); ok {
				return cached, nil
			}
		}
	}

	timeout := time.Duration(e.descriptor.TimeoutSeconds) * time.Second
	if timeout <= 0 || timeout > r.globalTimeout {
		timeout = r.globalTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result, resultErr := runWithTimeout(runCtx, e.runner, args)
	result.LatencyMs = time.Since(start).Milliseconds()

	if resultErr != nil {
		if errors.Is(resultErr, context.DeadlineExceeded) {
			return Result{Success: false, Error: "timeout", LatencyMs: result.LatencyMs}, nil
		}
		return Result{Success: false, Error: fmt.Sprintf("tool-error:%s", resultErr.Error()), LatencyMs: result.LatencyMs}, nil
	}

	if result.Success && e.descriptor.Cacheable && fp != "" {
		r.cachePut(fp, result)
	}
	return result, nil
}

// runWithTimeout invokes runner on a goroutine and races it against
// ctx.Done() so a runner that ignores cancellation still surfaces as a
// timeout to the caller instead of hanging Run forever.
func runWithTimeout(ctx context.Context, runner Runner, args map[string]any) (Result, error) {
	type outcome struct {
		result Result
		err    error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- outcome{err: fmt.Errorf("panic: %v", p)}
			}
		}()
		res, err := runner(ctx, args)
		ch <- outcome{result: res, err: err}
	}()

	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case o := <-ch:
		return o.result, o.err
	}
}

func (r *Registry) cacheGet(fp string) (Result, bool) {
	entry, ok := r.cache.Get(fp)
	if !ok {
		return Result{}, false
	}
	if time.Since(entry.insertAt) > r.cacheTTL {
		r.cache.Remove(fp)
		return Result{}, false
	}
	return entry.result, true
}

func (r *Registry) cachePut(fp string, result Result) {
	r.cache.Add(fp, cacheEntry{result: result, insertAt: time.Now()})
}
