package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sealgate/sealgate/internal/attest"
	"github.com/sealgate/sealgate/internal/config"
	"github.com/sealgate/sealgate/internal/gate"
	"github.com/sealgate/sealgate/internal/gateclient"
	"github.com/sealgate/sealgate/internal/ledger"
	"github.com/sealgate/sealgate/internal/manifest"
	"github.com/sealgate/sealgate/internal/publish"
	"github.com/sealgate/sealgate/internal/testutil"
)

// stub collaborators record whether they were invoked.

type stubSBOM struct {
	calls int
	fail  bool
	boom  bool
}

func (s *stubSBOM) Generate(ctx context.Context, dir string) (string, error) {
	s.calls++
	if s.boom {
		panic("sbom exploded")
	}
	if s.fail {
		return "", fmt.Errorf("sbom tool missing")
	}
	path := filepath.Join(dir, "sbom.json")
	if err := os.WriteFile(path, []byte(`{"components":[]}`), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

type stubAttestor struct {
	calls int
	fail  bool
}

func (s *stubAttestor) Attest(ctx context.Context, manifestPath string) (*attest.Result, error) {
	s.calls++
	if s.fail {
		return nil, fmt.Errorf("attestation backend down")
	}
	return &attest.Result{OK: true, Skipped: true}, nil
}

type stubPublisher struct {
	calls int
	fail  bool
}

func (s *stubPublisher) Name() string { return "stub" }

func (s *stubPublisher) Publish(ctx context.Context, root string, files []string, m *manifest.Manifest) (*publish.Result, error) {
	s.calls++
	if s.fail {
		return nil, fmt.Errorf("stub publisher refused")
	}
	return &publish.Result{Publisher: "stub", Location: "stub://" + m.TraceID}, nil
}

type stubGateClient struct {
	calls    int
	decision string
	err      error
}

func (s *stubGateClient) Validate(ctx context.Context, req gateclient.Request) (*gateclient.Response, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &gateclient.Response{Decision: s.decision, Confidence: 0.9}, nil
}

type fixture struct {
	orchestrator *Orchestrator
	sbom         *stubSBOM
	attestor     *stubAttestor
	publisher    *stubPublisher
	ledger       *ledger.Ledger
	cfg          config.Config
}

func newFixture(t *testing.T, mode string) *fixture {
	t.Helper()

	repo := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(repo, "paper.tex"), []byte("content"), 0o644))

	cfg := config.Default()
	cfg.Mode = mode
	cfg.RepoPath = repo
	cfg.Patterns = []string{"*.tex"}
	cfg.ReportDir = filepath.Join(t.TempDir(), "reports")
	cfg.RunLogPath = filepath.Join(cfg.ReportDir, "runs.jsonl")
	cfg.TestCommand = "true"
	cfg.TimeoutSeconds = 10
	cfg.SigningKey = []byte("test-key")
	cfg.AuthorID = "tester"

	f := &fixture{
		sbom:      &stubSBOM{},
		attestor:  &stubAttestor{},
		publisher: &stubPublisher{},
		ledger:    ledger.New(nil),
		cfg:       cfg,
	}
	f.orchestrator = &Orchestrator{
		Config:     cfg,
		Gate:       gate.New(gate.DefaultThresholds()),
		Ledger:     f.ledger,
		SBOM:       f.sbom,
		Attestor:   f.attestor,
		Publishers: []publish.Publisher{f.publisher},
		Now:        testutil.NewDeterministicClock(testutil.FixedStart, time.Second).Now,
	}
	return f
}

func TestSuccessfulDryRun(t *testing.T) {
	f := newFixture(t, config.ModeDryRun)

	run := f.orchestrator.Execute(context.Background())

	require.False(t, run.Blocked, "reason: %s", run.Reason)
	assert.True(t, run.Success)
	assert.Len(t, run.TraceID, 32)

	names := make([]string, len(run.Stages))
	for i, s := range run.Stages {
		names[i] = s.Name
		assert.True(t, s.OK, "stage %s must pass", s.Name)
	}
	assert.Equal(t, []string{
		StageManifest, StageTests, StageSBOM, StageProvenance,
		StageLocalPolicy, StageGovernance, StageAttest, StagePublish,
	}, names)

	// Dry-run: publish skipped, no publisher side effects.
	assert.Equal(t, 0, f.publisher.calls)
	assert.Equal(t, "dry-run", lastDetail(run, StagePublish, "skipped"))

	// Terminal run is anchored in the ledger.
	require.Equal(t, 1, f.ledger.Len())
	entries := f.ledger.FindEntries(map[string]string{"entry_type": ledger.TypePipelineRun})
	require.Len(t, entries, 1)
	assert.Equal(t, run.TraceID, entries[0].EntryID)
	assert.Equal(t, "true", entries[0].Metadata["success"])

	// Report and run-log written exactly once.
	reportPath := filepath.Join(f.cfg.ReportDir, "deploy_"+run.TraceID+".json")
	assert.FileExists(t, reportPath)

	logData, err := os.ReadFile(f.cfg.RunLogPath)
	require.NoError(t, err)
	var logged Run
	require.NoError(t, json.Unmarshal(logData, &logged))
	assert.Equal(t, run.TraceID, logged.TraceID)
}

func TestProductionRunInvokesPublishers(t *testing.T) {
	f := newFixture(t, config.ModeProduction)

	run := f.orchestrator.Execute(context.Background())

	require.False(t, run.Blocked, "reason: %s", run.Reason)
	assert.Equal(t, 1, f.publisher.calls)
	assert.Equal(t, "stub://"+run.TraceID, lastDetail(run, StagePublish, "stub"))
}

func TestFailingTestsBlockRun(t *testing.T) {
	f := newFixture(t, config.ModeDryRun)
	f.orchestrator.Config.TestCommand = "false"

	run := f.orchestrator.Execute(context.Background())

	require.True(t, run.Blocked)
	assert.False(t, run.Success)
	assert.Equal(t, StageTests, run.BlockedStage)
	assert.Contains(t, run.Reason, "tests")

	// Later stages never execute.
	assert.Equal(t, 0, f.sbom.calls)
	assert.Equal(t, 0, f.attestor.calls)
	assert.Equal(t, 0, f.publisher.calls)

	// Evidence still written: ledger entry, report, run log.
	assert.Equal(t, 1, f.ledger.Len())
	assert.FileExists(t, filepath.Join(f.cfg.ReportDir, "deploy_"+run.TraceID+".json"))
	assert.FileExists(t, f.cfg.RunLogPath)
}

func TestNoMatchingFilesBlocksAtManifest(t *testing.T) {
	f := newFixture(t, config.ModeDryRun)
	f.orchestrator.Config.Patterns = []string{"*.nope"}

	run := f.orchestrator.Execute(context.Background())

	require.True(t, run.Blocked)
	assert.Equal(t, StageManifest, run.BlockedStage)
}

func TestSBOMFailureBlocksBeforeProvenance(t *testing.T) {
	f := newFixture(t, config.ModeDryRun)
	f.sbom.fail = true

	run := f.orchestrator.Execute(context.Background())

	require.True(t, run.Blocked)
	assert.Equal(t, StageSBOM, run.BlockedStage)
	assert.Equal(t, 0, f.attestor.calls)
}

func TestPanicRecoveredIntoBlockedRun(t *testing.T) {
	f := newFixture(t, config.ModeDryRun)
	f.sbom.boom = true

	run := f.orchestrator.Execute(context.Background())

	require.True(t, run.Blocked)
	assert.Contains(t, run.Reason, "panic")
	assert.Equal(t, 0, f.publisher.calls)
	assert.Equal(t, 1, f.ledger.Len(), "blocked run still anchored")
}

func TestRemoteGovernanceApprovalRequired(t *testing.T) {
	f := newFixture(t, config.ModeDryRun)
	remote := &stubGateClient{decision: "APPROVE"}
	f.orchestrator.GateClient = remote

	run := f.orchestrator.Execute(context.Background())

	require.False(t, run.Blocked, "reason: %s", run.Reason)
	assert.Equal(t, 1, remote.calls)
	assert.Equal(t, "remote", lastDetail(run, StageGovernance, "source"))
}

func TestRemoteGovernanceRejectionBlocks(t *testing.T) {
	f := newFixture(t, config.ModeDryRun)
	f.orchestrator.GateClient = &stubGateClient{decision: "REVIEW"}

	run := f.orchestrator.Execute(context.Background())

	require.True(t, run.Blocked)
	assert.Equal(t, StageGovernance, run.BlockedStage)
	assert.Equal(t, 0, f.attestor.calls, "no attestation after governance rejection")
}

func TestRemoteGovernanceErrorFailsClosed(t *testing.T) {
	f := newFixture(t, config.ModeDryRun)
	f.orchestrator.GateClient = &stubGateClient{err: fmt.Errorf("endpoint unreachable")}

	run := f.orchestrator.Execute(context.Background())

	require.True(t, run.Blocked)
	assert.Equal(t, StageGovernance, run.BlockedStage)
	assert.Contains(t, run.Reason, "unreachable")
}

func TestLocalGovernanceRejectionBlocks(t *testing.T) {
	f := newFixture(t, config.ModeDryRun)
	f.orchestrator.MetricsFor = func(r *Run) gate.Metrics {
		return testutil.FailingMetrics()
	}

	run := f.orchestrator.Execute(context.Background())

	require.True(t, run.Blocked)
	assert.Equal(t, StageGovernance, run.BlockedStage)
	assert.Equal(t, "local", lastDetail(run, StageGovernance, "source"))
}

func TestFailingPublisherBlocksProduction(t *testing.T) {
	f := newFixture(t, config.ModeProduction)
	f.publisher.fail = true

	run := f.orchestrator.Execute(context.Background())

	require.True(t, run.Blocked)
	assert.Equal(t, StagePublish, run.BlockedStage)
	assert.Contains(t, run.Reason, "stub")
}

func TestCancelledContextBlocksRun(t *testing.T) {
	f := newFixture(t, config.ModeDryRun)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run := f.orchestrator.Execute(ctx)

	require.True(t, run.Blocked)
	assert.Equal(t, 0, f.sbom.calls)
	assert.Equal(t, 0, f.publisher.calls)
	assert.FileExists(t, filepath.Join(f.cfg.ReportDir, "deploy_"+run.TraceID+".json"),
		"cancelled runs still leave a report")
}

func TestLedgerAnchorFailureStillWritesReport(t *testing.T) {
	f := newFixture(t, config.ModeDryRun)

	store, err := ledger.OpenStore(filepath.Join(t.TempDir(), "sealgate.db"))
	require.NoError(t, err)
	f.orchestrator.Ledger = ledger.New(store)
	// A closed store makes the terminal append fail after every stage passed.
	require.NoError(t, store.Close())

	run := f.orchestrator.Execute(context.Background())

	require.True(t, run.Blocked)
	assert.Equal(t, StageLedger, run.BlockedStage)
	assert.False(t, run.Success)

	// The evidence trail survives the failed anchor.
	reportPath := filepath.Join(f.cfg.ReportDir, "deploy_"+run.TraceID+".json")
	require.FileExists(t, reportPath)
	assert.FileExists(t, f.cfg.RunLogPath)

	data, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	var reported Run
	require.NoError(t, json.Unmarshal(data, &reported))
	assert.True(t, reported.Blocked)
	assert.Equal(t, StageLedger, reported.BlockedStage)
}

func TestTestOutputTruncated(t *testing.T) {
	f := newFixture(t, config.ModeDryRun)
	// seq output is far larger than the captured-output cap.
	f.orchestrator.Config.TestCommand = "seq 1 100000"

	run := f.orchestrator.Execute(context.Background())
	require.False(t, run.Blocked, "reason: %s", run.Reason)

	output := lastDetail(run, StageTests, "output")
	assert.LessOrEqual(t, len(output), maxTestOutput)
	assert.NotEmpty(t, output)
}

func TestRunDigestDeterministic(t *testing.T) {
	f := newFixture(t, config.ModeDryRun)
	run := f.orchestrator.Execute(context.Background())

	d1, err := run.Digest()
	require.NoError(t, err)
	d2, err := run.Digest()
	require.NoError(t, err)
	assert.True(t, d1.Equal(d2))
}

func TestFallbackTraceID(t *testing.T) {
	at := testutil.FixedStart

	id := fallbackTraceID(at)
	assert.Len(t, id, 32)
	assert.Equal(t, id, fallbackTraceID(at), "same instant, same id")
	assert.NotEqual(t, id, fallbackTraceID(at.Add(time.Nanosecond)))
}

func TestTraceIDsUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id, err := NewTraceID(time.Now())
		require.NoError(t, err)
		assert.Len(t, id, 32)
		assert.False(t, seen[id], "trace IDs must not collide")
		seen[id] = true
	}
}
