// Package pipeline drives the publication run through its fixed stage
// order: manifest, tests, sbom, provenance, local policy, governance,
// attestation, publish, ledger. The pipeline is fail-closed: the first
// failing stage blocks the run, later stages never execute, and a blocked
// run still leaves a complete evidence trail.
package pipeline

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sealgate/sealgate/internal/canon"
)

// Stage names, in execution order.
const (
	StageManifest    = "manifest"
	StageTests       = "tests"
	StageSBOM        = "sbom"
	StageProvenance  = "provenance"
	StageLocalPolicy = "local_policy"
	StageGovernance  = "governance"
	StageAttest      = "attest"
	StagePublish     = "publish"
	StageLedger      = "ledger"
)

// StageResult is the recorded outcome of one stage.
type StageResult struct {
	Name   string            `json:"name"`
	OK     bool              `json:"ok"`
	Detail map[string]string `json:"detail,omitempty"`
	Error  string            `json:"error,omitempty"`
}

// Run is the complete record of one pipeline invocation. It is what gets
// reported, logged and anchored in the evidence ledger.
type Run struct {
	TraceID      string        `json:"trace_id"`
	Mode         string        `json:"mode"`
	StartTime    string        `json:"start_time"`
	EndTime      string        `json:"end_time"`
	Stages       []StageResult `json:"stages"`
	Success      bool          `json:"success"`
	Blocked      bool          `json:"blocked"`
	Reason       string        `json:"reason,omitempty"`
	BlockedStage string        `json:"blocked_stage,omitempty"`
}

// Digest returns the run's canonical content digest, recorded on its ledger
// entry.
func (r *Run) Digest() (canon.Digest, error) {
	stages := make([]map[string]any, len(r.Stages))
	for i, s := range r.Stages {
		detail := s.Detail
		if detail == nil {
			detail = map[string]string{}
		}
		stages[i] = map[string]any{
			"name":   s.Name,
			"ok":     s.OK,
			"detail": detail,
			"error":  s.Error,
		}
	}
	d, err := canon.SumObject(canon.DomainRun, map[string]any{
		"trace_id":      r.TraceID,
		"mode":          r.Mode,
		"start_time":    r.StartTime,
		"end_time":      r.EndTime,
		"stages":        stages,
		"success":       r.Success,
		"blocked":       r.Blocked,
		"reason":        r.Reason,
		"blocked_stage": r.BlockedStage,
	})
	if err != nil {
		return canon.Digest{}, fmt.Errorf("run digest: %w", err)
	}
	return d, nil
}

// NewTraceID derives a run identifier from the current time and a random
// UUIDv7 salt, hashed under the trace domain and truncated to 32 hex chars.
// Uniqueness comes from the salt; the timestamp keeps IDs roughly sortable
// in logs.
func NewTraceID(now time.Time) (string, error) {
	salt, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("trace id: %w", err)
	}
	preimage := now.UTC().Format(time.RFC3339Nano) + "|" + salt.String()
	d := canon.Sum(canon.DomainTrace, []byte(preimage))
	return d.Hex[:32], nil
}

// fallbackTraceID derives an identifier from the clock alone, for when the
// entropy source is unavailable. Uniqueness degrades to the timestamp's
// nanosecond resolution.
func fallbackTraceID(now time.Time) string {
	d := canon.Sum(canon.DomainTrace, []byte(now.UTC().Format(time.RFC3339Nano)))
	return d.Hex[:32]
}
