// Package entropy implements the information-theoretic tool-routing gate:
// it turns raw per-tool scores into a normalized probability distribution,
// measures the Shannon entropy of that distribution, and decides whether
// the caller has enough certainty to act or should ask for clarification.
package entropy

import (
	"math"
	"sort"
)

// Decision is the outcome of scoring a set of tool candidates.
type Decision struct {
	ToolName      string
	ShouldClarify bool
	Reason        string
	EntropyBits   float64
	Confidence    float64
	Probabilities map[string]float64
}

// Scheduler holds a default threshold for callers to read; Decide does not
// consult it and always uses the threshold passed to it (the
// AdaptiveThreshold in internal/threshold is the usual source of that
// per-turn value).
type Scheduler struct {
	DefaultThresholdBits float64
}

// New builds a Scheduler with the given default threshold. Panics-free:
// invalid thresholds are clamped by the caller (internal/threshold owns
// range enforcement); this constructor only clamps negative values to 0.
func New(defaultThresholdBits float64) *Scheduler {
	if defaultThresholdBits < 0 {
		defaultThresholdBits = 0
	}
	return &Scheduler{DefaultThresholdBits: defaultThresholdBits}
}

// Decide implements spec §4.2's algorithm exactly:
//  1. all-zero scores -> Clarify("no-signal")
//  2. p_i = s_i / sum(s_j) (softmax-style normalization over raw non-negative scores)
//  3. H = -sum(p_i * log2(p_i)), 0*log0 = 0
//  4. H >= threshold -> Clarify("entropy-above-threshold")
//  5. else Act(argmax, confidence = 1 - H/Hmax), Hmax = log2(n)
func (s *Scheduler) Decide(scores map[string]float64, thresholdBits float64) Decision {
	if len(scores) == 0 {
		return Decision{ShouldClarify: true, Reason: "no-signal", Probabilities: map[string]float64{}}
	}

	names := make([]string, 0, len(scores))
	total := 0.0
	for name, v := range scores {
		if v < 0 {
			v = 0
		}
		total += v
		names = append(names, name)
	}

	if total <= 0 {
		return Decision{ShouldClarify: true, Reason: "no-signal", Probabilities: map[string]float64{}}
	}

	// Sorted so the argmax scan below is a pure function of scores: ranging
	// a map directly would make the winner on an exact N-way tie vary
	// run-to-run for identical input.
	sort.Strings(names)

	probs := make(map[string]float64, len(names))
	var best string
	bestP := -1.0
	h := 0.0
	for _, name := range names {
		p := scores[name] / total
		if p < 0 {
			p = 0
		}
		probs[name] = p
		if p > 0 {
			h -= p * math.Log2(p)
		}
		if p > bestP {
			bestP = p
			best = name
		}
	}

	if h >= thresholdBits {
		return Decision{ShouldClarify: true, Reason: "entropy-above-threshold", EntropyBits: h, Probabilities: probs}
	}

	hMax := math.Log2(float64(len(names)))
	confidence := 1.0
	if hMax > 0 {
		confidence = 1 - h/hMax
	}
	return Decision{
		ToolName:      best,
		EntropyBits:   h,
		Confidence:    confidence,
		Probabilities: probs,
	}
}

// Entropy computes Shannon entropy in bits for an already-normalized
// probability distribution, treating 0*log2(0) as 0.
func Entropy(probs map[string]float64) float64 {
	h := 0.0
	for _, p := range probs {
		if p > 0 {
			h -= p * math.Log2(p)
		}
	}
	return h
}
