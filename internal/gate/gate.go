// Package gate implements the governance decision function over a small
// vector of continuous risk/quality metrics. Decisions are deterministic:
// identical metrics and thresholds always yield identical outputs, which is
// what makes audit replay possible.
package gate

import (
	"math"
)

// Decision is the discrete outcome of the gate.
type Decision string

const (
	Approve Decision = "APPROVE"
	Reject  Decision = "REJECT"
	Review  Decision = "REVIEW" // ambiguous zone, needs secondary adjudication
)

// Metrics is the input vector. Completeness, consistency and traceability
// are the raw sub-components coherence derives from. Performance is the raw
// score before exponential normalization.
type Metrics struct {
	Completeness  float64 `json:"completeness"`  // [0,1]
	Consistency   float64 `json:"consistency"`   // [0,1]
	Traceability  float64 `json:"traceability"`  // [0,1]
	Performance   float64 `json:"performance"`   // raw, >= 0
	TailRisk      float64 `json:"tail_risk"`     // [0,1]
	Antifragility float64 `json:"antifragility"` // [0,inf)
}

// Thresholds holds the gate configuration. Weights of the governance
// formula are configuration, not invariants.
type Thresholds struct {
	CoherenceMin     float64 `json:"coherence_min"`
	PerformanceSLA   float64 `json:"performance_sla"`
	RiskMax          float64 `json:"risk_max"`
	AntifragilityMin float64 `json:"antifragility_min"`

	// PerformanceScale is the reference scale of the exponential decay
	// used to normalize raw performance.
	PerformanceScale float64 `json:"performance_scale"`

	// Steepness is the logistic slope of the advisory confidence score.
	Steepness float64 `json:"steepness"`
}

// DefaultThresholds returns the stock configuration.
func DefaultThresholds() Thresholds {
	return Thresholds{
		CoherenceMin:     0.55,
		PerformanceSLA:   0.8,
		RiskMax:          0.4,
		AntifragilityMin: 1.0,
		PerformanceScale: 0.5,
		Steepness:        10,
	}
}

// Gate evaluates metrics against a fixed threshold configuration.
type Gate struct {
	thresholds Thresholds
}

// New creates a gate. Zero-valued scale or steepness fall back to defaults
// so a partially specified policy file cannot divide by zero.
func New(t Thresholds) *Gate {
	if t.PerformanceScale <= 0 {
		t.PerformanceScale = DefaultThresholds().PerformanceScale
	}
	if t.Steepness <= 0 {
		t.Steepness = DefaultThresholds().Steepness
	}
	return &Gate{thresholds: t}
}

// Thresholds returns the gate's configuration.
func (g *Gate) Thresholds() Thresholds {
	return g.thresholds
}

// Coherence derives the coherence index from its sub-components:
// 0.4*completeness + 0.3*consistency + 0.3*traceability, clipped to [0,1].
func Coherence(m Metrics) float64 {
	return clip01(0.4*m.Completeness + 0.3*m.Consistency + 0.3*m.Traceability)
}

// NormalizePerformance maps the raw performance score through exponential
// decay against the reference scale: larger raw values map toward 0, so a
// LOWER normalized value is better. Clipped to [0,1].
func (g *Gate) NormalizePerformance(raw float64) float64 {
	return clip01(math.Exp(-raw / g.thresholds.PerformanceScale))
}

// Decide applies the gating rule, in order:
//  1. all four criteria pass (closed intervals: == threshold passes) -> APPROVE
//  2. coherence < 0.8 * coherence_min -> REJECT
//  3. otherwise -> REVIEW
func (g *Gate) Decide(m Metrics) Decision {
	coherence := Coherence(m)
	performance := g.NormalizePerformance(m.Performance)
	t := g.thresholds

	if coherence >= t.CoherenceMin &&
		performance <= t.PerformanceSLA &&
		m.TailRisk <= t.RiskMax &&
		m.Antifragility >= t.AntifragilityMin {
		return Approve
	}
	if coherence < 0.8*t.CoherenceMin {
		return Reject
	}
	return Review
}

// Confidence is the smooth, monotonic companion of Decide: a logistic over
// the weighted threshold deltas. Always in (0,1). Advisory only - it never
// gates anything.
func (g *Gate) Confidence(m Metrics) float64 {
	t := g.thresholds
	deltaCoherence := Coherence(m) - t.CoherenceMin
	deltaPerformance := t.PerformanceSLA - g.NormalizePerformance(m.Performance)
	deltaRisk := t.RiskMax - m.TailRisk
	deltaAntifragility := m.Antifragility - t.AntifragilityMin

	weighted := 0.4*deltaCoherence + 0.3*deltaPerformance + 0.2*deltaRisk + 0.1*deltaAntifragility
	return 1 / (1 + math.Exp(-t.Steepness*weighted))
}

// Explanation is the fully reproducible account of one decision. It is a
// pure function of metrics and thresholds - no hidden state.
type Explanation struct {
	Decision   Decision         `json:"decision"`
	Confidence float64          `json:"confidence"`
	Thresholds Thresholds       `json:"thresholds"`
	Metrics    ExplainedMetrics `json:"metrics"`
	Passed     map[string]bool  `json:"passed"`
}

// ExplainedMetrics carries both the raw inputs and the derived values the
// decision was actually taken on.
type ExplainedMetrics struct {
	Raw                   Metrics `json:"raw"`
	Coherence             float64 `json:"coherence"`
	NormalizedPerformance float64 `json:"normalized_performance"`
}

// Explain produces the decision, confidence and a per-criterion breakdown.
func (g *Gate) Explain(m Metrics) Explanation {
	coherence := Coherence(m)
	performance := g.NormalizePerformance(m.Performance)
	t := g.thresholds

	return Explanation{
		Decision:   g.Decide(m),
		Confidence: g.Confidence(m),
		Thresholds: t,
		Metrics: ExplainedMetrics{
			Raw:                   m,
			Coherence:             coherence,
			NormalizedPerformance: performance,
		},
		Passed: map[string]bool{
			"coherence":     coherence >= t.CoherenceMin,
			"performance":   performance <= t.PerformanceSLA,
			"tail_risk":     m.TailRisk <= t.RiskMax,
			"antifragility": m.Antifragility >= t.AntifragilityMin,
		},
	}
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
