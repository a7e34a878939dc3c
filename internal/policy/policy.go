// Package policy loads governance policy files written in CUE. Policy is
// code: the schema below is unified with the user's file, so an out-of-range
// threshold or an unknown field fails at load time, before any pipeline
// stage runs.
package policy

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/sealgate/sealgate/internal/gate"
)

// schema constrains policy documents. Unified with the loaded file, so
// violations surface as CUE errors with positions.
const schema = `
close({
	thresholds?: close({
		coherence_min?:     number & >=0 & <=1
		performance_sla?:   number & >=0 & <=1
		risk_max?:          number & >=0 & <=1
		antifragility_min?: number & >=0
		performance_scale?: number & >0
		steepness?:         number & >0
	})
	require_signatures?: bool
})
`

// Policy is the decoded governance policy.
type Policy struct {
	Thresholds        gate.Thresholds
	RequireSignatures bool
}

// Default returns the stock policy.
func Default() Policy {
	return Policy{Thresholds: gate.DefaultThresholds()}
}

// Load reads and validates a CUE policy file. An empty path yields the
// default policy; any schema violation is a fatal configuration error.
func Load(path string) (Policy, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("policy: %w", err)
	}

	ctx := cuecontext.New()
	schemaVal := ctx.CompileString(schema)
	if err := schemaVal.Err(); err != nil {
		return Policy{}, fmt.Errorf("policy: compile schema: %w", err)
	}

	fileVal := ctx.CompileBytes(data, cue.Filename(path))
	if err := fileVal.Err(); err != nil {
		return Policy{}, fmt.Errorf("policy: compile %s: %w", path, err)
	}

	unified := schemaVal.Unify(fileVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return Policy{}, fmt.Errorf("policy: invalid %s: %w", path, err)
	}

	p := Default()

	thresholds := unified.LookupPath(cue.ParsePath("thresholds"))
	if thresholds.Exists() {
		decodeFloat(thresholds, "coherence_min", &p.Thresholds.CoherenceMin)
		decodeFloat(thresholds, "performance_sla", &p.Thresholds.PerformanceSLA)
		decodeFloat(thresholds, "risk_max", &p.Thresholds.RiskMax)
		decodeFloat(thresholds, "antifragility_min", &p.Thresholds.AntifragilityMin)
		decodeFloat(thresholds, "performance_scale", &p.Thresholds.PerformanceScale)
		decodeFloat(thresholds, "steepness", &p.Thresholds.Steepness)
	}

	requireSig := unified.LookupPath(cue.ParsePath("require_signatures"))
	if requireSig.Exists() {
		b, err := requireSig.Bool()
		if err != nil {
			return Policy{}, fmt.Errorf("policy: require_signatures: %w", err)
		}
		p.RequireSignatures = b
	}

	return p, nil
}

// decodeFloat overwrites *dst when the field exists and is concrete.
// Range violations were already rejected by the schema unification.
func decodeFloat(v cue.Value, field string, dst *float64) {
	fieldVal := v.LookupPath(cue.ParsePath(field))
	if !fieldVal.Exists() {
		return
	}
	if f, err := fieldVal.Float64(); err == nil {
		*dst = f
	}
}
