package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func approveMetrics() Metrics {
	// coherence 0.75, normalized performance exp(-1.2) ~ 0.30,
	// all four criteria inside the default thresholds.
	return Metrics{
		Completeness:  0.75,
		Consistency:   0.75,
		Traceability:  0.75,
		Performance:   0.6,
		TailRisk:      0.3,
		Antifragility: 1.2,
	}
}

func TestDecideApprove(t *testing.T) {
	g := New(DefaultThresholds())
	assert.Equal(t, Approve, g.Decide(approveMetrics()))
}

func TestDecideRejectBelowCoherenceFloor(t *testing.T) {
	g := New(DefaultThresholds())

	// coherence 0.3 < 0.8 * 0.55 = 0.44.
	m := approveMetrics()
	m.Completeness, m.Consistency, m.Traceability = 0.3, 0.3, 0.3

	assert.Equal(t, Reject, g.Decide(m))
}

func TestDecideReviewAmbiguousZone(t *testing.T) {
	g := New(DefaultThresholds())

	// coherence 0.5: below coherence_min 0.55 but above the 0.44 floor.
	m := approveMetrics()
	m.Completeness, m.Consistency, m.Traceability = 0.5, 0.5, 0.5

	assert.Equal(t, Review, g.Decide(m))
}

func TestDecideReviewOnPerformanceMiss(t *testing.T) {
	g := New(DefaultThresholds())

	// Raw 0.05 normalizes to exp(-0.1) ~ 0.90 > 0.8: performance fails
	// while coherence stays high, so the result is REVIEW, not REJECT.
	m := approveMetrics()
	m.Performance = 0.05

	assert.Equal(t, Review, g.Decide(m))
}

func TestDecideBoundaryEqualsThresholdApproves(t *testing.T) {
	m := Metrics{
		Completeness:  0.6,
		Consistency:   0.6,
		Traceability:  0.6,
		Performance:   0.6,
		TailRisk:      0.4, // == risk_max
		Antifragility: 1.0, // == antifragility_min
	}

	// Pin the remaining thresholds to the exact derived values so every
	// comparator sits at equality. Closed intervals: all must pass.
	defaults := DefaultThresholds()
	probe := New(defaults)
	thresholds := defaults
	thresholds.CoherenceMin = Coherence(m)
	thresholds.PerformanceSLA = probe.NormalizePerformance(m.Performance)

	g := New(thresholds)
	assert.Equal(t, Approve, g.Decide(m), "metrics exactly at threshold must approve")
}

func TestDecideDeterminism(t *testing.T) {
	g := New(DefaultThresholds())
	m := approveMetrics()

	first := g.Decide(m)
	firstConfidence := g.Confidence(m)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, g.Decide(m))
		assert.Equal(t, firstConfidence, g.Confidence(m))
	}
}

func TestCoherenceClipping(t *testing.T) {
	assert.Equal(t, 1.0, Coherence(Metrics{Completeness: 2, Consistency: 2, Traceability: 2}))
	assert.Equal(t, 0.0, Coherence(Metrics{Completeness: -1, Consistency: -1, Traceability: -1}))
}

func TestNormalizePerformance(t *testing.T) {
	g := New(DefaultThresholds())

	assert.Equal(t, 1.0, g.NormalizePerformance(0), "zero raw score maps to 1")
	assert.InDelta(t, 0.3012, g.NormalizePerformance(0.6), 0.0001)
	assert.Less(t, g.NormalizePerformance(10), 0.001, "large raw scores decay toward 0")
}

func TestConfidenceBoundsAndMonotonicity(t *testing.T) {
	g := New(DefaultThresholds())

	good := g.Confidence(approveMetrics())
	bad := g.Confidence(Metrics{
		Completeness: 0.2, Consistency: 0.2, Traceability: 0.2,
		Performance: 0.01, TailRisk: 0.9, Antifragility: 0,
	})

	assert.Greater(t, good, 0.0)
	assert.Less(t, good, 1.0)
	assert.Greater(t, bad, 0.0)
	assert.Less(t, bad, 1.0)
	assert.Greater(t, good, bad, "confidence must order better metrics above worse ones")
}

func TestExplainMatchesDecide(t *testing.T) {
	g := New(DefaultThresholds())

	for _, m := range []Metrics{
		approveMetrics(),
		{Completeness: 0.3, Consistency: 0.3, Traceability: 0.3, Performance: 0.6},
		{Completeness: 0.5, Consistency: 0.5, Traceability: 0.5, Performance: 0.6, Antifragility: 2},
	} {
		explanation := g.Explain(m)
		assert.Equal(t, g.Decide(m), explanation.Decision)
		assert.Equal(t, g.Confidence(m), explanation.Confidence)
		assert.InDelta(t, Coherence(m), explanation.Metrics.Coherence, 1e-12)
	}
}

func TestExplainPassedBreakdown(t *testing.T) {
	g := New(DefaultThresholds())

	m := approveMetrics()
	m.TailRisk = 0.9 // only the risk criterion fails

	explanation := g.Explain(m)
	require.Equal(t, Review, explanation.Decision)
	assert.True(t, explanation.Passed["coherence"])
	assert.True(t, explanation.Passed["performance"])
	assert.False(t, explanation.Passed["tail_risk"])
	assert.True(t, explanation.Passed["antifragility"])
}

func TestNewGuardsZeroConfiguration(t *testing.T) {
	g := New(Thresholds{})

	// Zero scale or steepness would divide by zero or flatten the
	// logistic; New substitutes the defaults.
	assert.Equal(t, DefaultThresholds().PerformanceScale, g.Thresholds().PerformanceScale)
	assert.Equal(t, DefaultThresholds().Steepness, g.Thresholds().Steepness)
	assert.NotPanics(t, func() { g.NormalizePerformance(1) })
}
