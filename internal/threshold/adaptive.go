// Package threshold implements the online-tuned entropy decision threshold
// (AdaptiveThreshold in the design). After a successful act it moves the
// threshold toward the entropy observed at that decision (which, since the
// loop only acts below the threshold, lowers it); after failures or
// clarifications it decays it toward the minimum or floor (so the loop
// demands more certainty).
package threshold

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

const (
	DefaultInitial = 1.5
	DefaultMin     = 0.3
	DefaultMax     = 3.0
	DefaultEta     = 0.1
)

// State is the persisted shape of the adaptive threshold.
type State struct {
	Threshold float64 `json:"threshold"`
	Successes int     `json:"successes"`
	Failures  int     `json:"failures"`
	Clarifies int     `json:"clarifies"`
	Samples   int     `json:"samples"`
}

// Adaptive is the online tuner described in spec §4.3. It is safe for
// concurrent use; callers still serialize turns per session, but the
// threshold itself is shared runtime-wide.
type Adaptive struct {
	mu   sync.Mutex
	path string

	min, max, eta, floor float64
	state                State
}

// Option customizes construction.
type Option func(*Adaptive)

func WithBounds(min, max float64) Option {
	return func(a *Adaptive) { a.min, a.max = min, max }
}

func WithLearningRate(eta float64) Option {
	return func(a *Adaptive) { a.eta = eta }
}

// WithFloor sets τ_floor used by the Clarify decay branch; defaults to min.
func WithFloor(floor float64) Option {
	return func(a *Adaptive) { a.floor = floor }
}

// New constructs an Adaptive threshold, loading persisted state from path
// if it exists. A zero-value path disables persistence (in-memory only).
func New(path string, initial float64, opts ...Option) *Adaptive {
	a := &Adaptive{
		path:  path,
		min:   DefaultMin,
		max:   DefaultMax,
		eta:   DefaultEta,
		state: State{Threshold: initial},
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.floor == 0 {
		a.floor = a.min
	}
	a.state.Threshold = clamp(a.state.Threshold, a.min, a.max)
	_ = a.load()
	return a
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Current returns the current threshold in bits.
func (a *Adaptive) Current() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.Threshold
}

// Observe updates τ per spec §4.3's update rule and persists the new state.
//
//	acted && success:      τ += η·(entropyAtDecision - τ), clamped
//	acted && !success:     τ -= η·(τ - τ_min), clamped
//	!acted (Clarify):      τ -= (η/4)·(τ - τ_floor), clamped
func (a *Adaptive) Observe(acted, success bool, entropyAtDecision float64) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.state.Samples++
	switch {
	case acted && success:
		a.state.Successes++
		a.state.Threshold += a.eta * (entropyAtDecision - a.state.Threshold)
	case acted && !success:
		a.state.Failures++
		a.state.Threshold -= a.eta * (a.state.Threshold - a.min)
	default:
		a.state.Clarifies++
		a.state.Threshold -= (a.eta / 4) * (a.state.Threshold - a.floor)
	}
	a.state.Threshold = clamp(a.state.Threshold, a.min, a.max)

	_ = a.save()
	return a.state.Threshold
}

// Stats returns a copy of the current counters.
func (a *Adaptive) Stats() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Adaptive) load() error {
	if a.path == "" {
		return nil
	}
	data, err := os.ReadFile(a.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return err
	}
	st.Threshold = clamp(st.Threshold, a.min, a.max)
	a.state = st
	return nil
}

func (a *Adaptive) save() error {
	if a.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(a.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(a.state, "", "  ")
	if err != nil {
		return err
	}
	tmp := a.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, a.path)
}
