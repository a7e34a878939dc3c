package testutil

import "github.com/sealgate/sealgate/internal/gate"

// PassingMetrics satisfies every default threshold: coherence 1.0,
// normalized performance exp(-2) ~ 0.135, zero tail risk.
func PassingMetrics() gate.Metrics {
	return gate.Metrics{
		Completeness:  1,
		Consistency:   1,
		Traceability:  1,
		Performance:   1,
		TailRisk:      0,
		Antifragility: 1,
	}
}

// FailingMetrics rejects under the default thresholds: coherence 0.3 is
// below 0.8 * coherence_min.
func FailingMetrics() gate.Metrics {
	return gate.Metrics{
		Completeness:  0.3,
		Consistency:   0.3,
		Traceability:  0.3,
		Performance:   1,
		TailRisk:      0.9,
		Antifragility: 0.1,
	}
}
