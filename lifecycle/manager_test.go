package lifecycle

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/verisim-io/verisim/content"
	"github.com/verisim-io/verisim/docstore"
	"github.com/verisim-io/verisim/log"
	"github.com/verisim-io/verisim/objstore"
	"github.com/verisim-io/verisim/simrun"
	"github.com/verisim-io/verisim/task"
	"github.com/verisim-io/verisim/types"
)

func fastConfig() Config {
	return Config{
		PollInterval:    time.Millisecond,
		MaxPollDuration: 5 * time.Second,
		AbortOnNotFound: true,
		Retry: task.RetryPolicy{
			InitialInterval:    time.Millisecond,
			BackoffCoefficient: 2.0,
			MaxInterval:        5 * time.Millisecond,
			MaxAttempts:        3,
		},
	}
}

type harness struct {
	manager *Manager
	svc     *simrun.StubService
	docs    *docstore.MemoryStore
	archive *types.ArchiveRecord
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	logger := log.NewWithWriter(io.Discard)
	docs := docstore.NewMemoryStore()
	archives := content.NewStore(objstore.NewMemoryStore(), docs, logger, nil)

	record, err := archives.Submit(context.Background(), "model.omex", []byte("omex archive bytes"))
	if err != nil {
		t.Fatalf("seed archive: %v", err)
	}

	svc := simrun.NewStubService()
	return &harness{
		manager: NewManager(svc, docs, archives, logger, nil, cfg),
		svc:     svc,
		docs:    docs,
		archive: record,
	}
}

func testSimulator() types.SimulatorVersion {
	return types.SimulatorVersion{
		ID:      "copasi",
		Version: "4.45",
		Image:   types.ImageInfo{Digest: "sha256:aabbcc"},
	}
}

func TestKeyFor(t *testing.T) {
	base := KeyFor("hash", "digest", "0")
	if KeyFor("hash", "digest", "") != base {
		t.Error("empty cache buster should equal the default token")
	}
	if KeyFor("hash", "digest", "1") == base {
		t.Error("cache buster should change the key")
	}
	if KeyFor("hash", "digest2", "0") == base {
		t.Error("image digest should change the key")
	}
	// The zero-byte separator prevents boundary-shift collisions.
	if KeyFor("ab", "c", "0") == KeyFor("a", "bc", "0") {
		t.Error("field boundaries must be part of the key")
	}
}

func TestRunArchive_Success(t *testing.T) {
	h := newHarness(t, fastConfig())
	h.svc.StatusSequence = []types.RunStatus{
		types.RunStatusQueued,
		types.RunStatusRunning,
		types.RunStatusSucceeded,
	}

	record := h.manager.RunArchive(context.Background(), RunInput{
		Archive:   h.archive,
		Simulator: testSimulator(),
	})

	if record.Status != types.RunStatusSucceeded {
		t.Fatalf("status = %s (%s), want SUCCEEDED", record.Status, record.Error)
	}
	if record.Reused {
		t.Error("fresh run marked reused")
	}
	if record.RunID == "" {
		t.Error("run id not recorded")
	}
	if h.svc.SubmitCount() != 1 {
		t.Errorf("submissions = %d, want 1", h.svc.SubmitCount())
	}

	sub := h.svc.Submissions[0]
	if sub.Simulator != "copasi" || sub.SimulatorVersion != "4.45" {
		t.Errorf("submission identity = %s:%s", sub.Simulator, sub.SimulatorVersion)
	}
	if sub.Filename != "model.omex" || len(sub.Archive) == 0 {
		t.Errorf("submission did not carry the archive bytes")
	}
	if sub.MaxTime != simrun.DefaultMaxTime {
		t.Errorf("max time = %d, want %d", sub.MaxTime, simrun.DefaultMaxTime)
	}
}

func TestRunArchive_ReuseSkipsSubmission(t *testing.T) {
	h := newHarness(t, fastConfig())

	first := h.manager.RunArchive(context.Background(), RunInput{Archive: h.archive, Simulator: testSimulator()})
	if first.Status != types.RunStatusSucceeded {
		t.Fatalf("first run: %s (%s)", first.Status, first.Error)
	}

	second := h.manager.RunArchive(context.Background(), RunInput{Archive: h.archive, Simulator: testSimulator()})
	if second.Status != types.RunStatusSucceeded {
		t.Fatalf("second run: %s (%s)", second.Status, second.Error)
	}
	if !second.Reused {
		t.Error("second run should be served from the memo")
	}
	if second.RunID != first.RunID {
		t.Errorf("reused run id = %s, want %s", second.RunID, first.RunID)
	}
	if h.svc.SubmitCount() != 1 {
		t.Errorf("submissions = %d, want 1 (memo hit must not resubmit)", h.svc.SubmitCount())
	}
}

func TestRunArchive_CacheBusterForcesResubmission(t *testing.T) {
	h := newHarness(t, fastConfig())

	h.manager.RunArchive(context.Background(), RunInput{Archive: h.archive, Simulator: testSimulator()})
	record := h.manager.RunArchive(context.Background(), RunInput{
		Archive:     h.archive,
		Simulator:   testSimulator(),
		CacheBuster: "rerun-2026-08",
	})

	if record.Reused {
		t.Error("busted run should not reuse the memo")
	}
	if h.svc.SubmitCount() != 2 {
		t.Errorf("submissions = %d, want 2", h.svc.SubmitCount())
	}
}

func TestRunArchive_FailedMemoIsRetried(t *testing.T) {
	h := newHarness(t, fastConfig())
	h.svc.GetRunErr = &simrun.APIError{StatusCode: 500, Op: "get run", Body: "boom"}

	first := h.manager.RunArchive(context.Background(), RunInput{Archive: h.archive, Simulator: testSimulator()})
	if first.Status != types.RunStatusFailed {
		t.Fatalf("first run status = %s, want FAILED", first.Status)
	}

	// A later request with the same key runs fresh instead of reusing the
	// failure.
	h.svc.GetRunErr = nil
	second := h.manager.RunArchive(context.Background(), RunInput{Archive: h.archive, Simulator: testSimulator()})
	if second.Status != types.RunStatusSucceeded {
		t.Fatalf("second run status = %s (%s), want SUCCEEDED", second.Status, second.Error)
	}
	if second.Reused {
		t.Error("recovery run should not be marked reused")
	}
	if h.svc.SubmitCount() != 2 {
		t.Errorf("submissions = %d, want 2", h.svc.SubmitCount())
	}
}

func TestRunArchive_NotFoundAborts(t *testing.T) {
	h := newHarness(t, fastConfig())
	h.svc.GetRunErr = &simrun.APIError{StatusCode: 404, Op: "get run", Body: "no such run"}

	record := h.manager.RunArchive(context.Background(), RunInput{Archive: h.archive, Simulator: testSimulator()})

	if record.Status != types.RunStatusRunIDNotFound {
		t.Fatalf("status = %s, want RUN_ID_NOT_FOUND", record.Status)
	}
	if record.Error == "" {
		t.Error("not-found record should describe the failure")
	}
	// Not-found is never retried.
	if calls := h.svc.StatusCalls[record.RunID]; calls != 1 {
		t.Errorf("status calls = %d, want 1", calls)
	}
}

func TestRunArchive_PollBudgetExceeded(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxPollDuration = 10 * time.Millisecond
	h := newHarness(t, cfg)
	h.svc.StatusSequence = []types.RunStatus{types.RunStatusRunning}

	record := h.manager.RunArchive(context.Background(), RunInput{Archive: h.archive, Simulator: testSimulator()})

	if record.Status != types.RunStatusFailed {
		t.Fatalf("status = %s, want FAILED", record.Status)
	}
	if !strings.Contains(record.Error, "did not finish") {
		t.Errorf("error = %q, want poll-budget failure", record.Error)
	}
}

func TestRunArchive_PermanentSubmitFailure(t *testing.T) {
	h := newHarness(t, fastConfig())
	h.svc.SubmitErr = &simrun.APIError{StatusCode: 400, Op: "submit run", Body: "bad archive"}

	record := h.manager.RunArchive(context.Background(), RunInput{Archive: h.archive, Simulator: testSimulator()})

	if record.Status != types.RunStatusFailed {
		t.Fatalf("status = %s, want FAILED", record.Status)
	}
	if !strings.Contains(record.Error, "submit") {
		t.Errorf("error = %q, want submit failure", record.Error)
	}
}

func TestRunArchive_OutputsReshapedByLabels(t *testing.T) {
	h := newHarness(t, fastConfig())
	h.svc.Results = &types.ResultsMeta{
		ID: "run",
		Groups: []types.DatasetGroup{{
			Name: "simulation.sedml",
			Datasets: []types.DatasetMeta{
				{
					Name:  "report",
					Shape: []int{2, 3},
					Attributes: []types.DatasetAttribute{
						{Key: "sedmlDataSetLabels", Value: []any{"time", "S1"}},
					},
				},
				{
					// Label count does not match the row count: skipped,
					// not fatal.
					Name:  "broken",
					Shape: []int{3, 2},
					Attributes: []types.DatasetAttribute{
						{Key: "sedmlDataSetLabels", Value: []any{"X"}},
					},
				},
			},
		}},
	}
	h.svc.Values["report"] = &types.DataValues{
		Shape:  []int{2, 3},
		Values: []float64{0, 1, 2, 10, 11, 12},
	}
	h.svc.Values["broken"] = &types.DataValues{
		Shape:  []int{3, 2},
		Values: []float64{1, 2, 3, 4, 5, 6},
	}

	record := h.manager.RunArchive(context.Background(), RunInput{Archive: h.archive, Simulator: testSimulator()})

	if record.Status != types.RunStatusSucceeded {
		t.Fatalf("status = %s (%s)", record.Status, record.Error)
	}
	s1 := record.Outputs["S1"]
	if len(s1) != 3 || s1[0] != 10 || s1[2] != 12 {
		t.Errorf("Outputs[S1] = %v, want [10 11 12]", s1)
	}
	if got := record.Outputs["time"]; len(got) != 3 || got[0] != 0 {
		t.Errorf("Outputs[time] = %v, want [0 1 2]", got)
	}
	if _, ok := record.Outputs["X"]; ok {
		t.Error("mismatched dataset should be skipped")
	}
	if record.Results == nil {
		t.Error("results metadata not attached")
	}
}

func TestRunArchive_ConcurrentClaimSingleSubmission(t *testing.T) {
	h := newHarness(t, fastConfig())
	input := RunInput{Archive: h.archive, Simulator: testSimulator()}

	const waiters = 4
	records := make([]*types.RunRecord, waiters)
	var wg sync.WaitGroup
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			records[i] = h.manager.RunArchive(context.Background(), input)
		}(i)
	}
	wg.Wait()

	if h.svc.SubmitCount() != 1 {
		t.Fatalf("submissions = %d, want 1", h.svc.SubmitCount())
	}
	fresh := 0
	for i, record := range records {
		if record.Status != types.RunStatusSucceeded {
			t.Errorf("record %d status = %s (%s)", i, record.Status, record.Error)
		}
		if !record.Reused {
			fresh++
		}
	}
	if fresh != 1 {
		t.Errorf("fresh records = %d, want exactly the claim winner", fresh)
	}
}

// gatedDocs holds GetRaw callers at a barrier until all expected
// readers have arrived, so concurrent memo lookups observe the same
// stored bytes before any of them writes.
type gatedDocs struct {
	docstore.Store
	mu      sync.Mutex
	arrived int
	readers int
	release chan struct{}
}

func (g *gatedDocs) GetRaw(ctx context.Context, key string) ([]byte, error) {
	data, err := g.Store.GetRaw(ctx, key)
	g.mu.Lock()
	g.arrived++
	if g.arrived == g.readers {
		close(g.release)
	}
	g.mu.Unlock()
	<-g.release
	return data, err
}

func TestRunArchive_FailedMemoTakeoverSingleSubmission(t *testing.T) {
	logger := log.NewWithWriter(io.Discard)
	mem := docstore.NewMemoryStore()
	docs := &gatedDocs{Store: mem, readers: 2, release: make(chan struct{})}
	archives := content.NewStore(objstore.NewMemoryStore(), mem, logger, nil)

	archive, err := archives.Submit(context.Background(), "model.omex", []byte("omex archive bytes"))
	if err != nil {
		t.Fatalf("seed archive: %v", err)
	}

	sim := testSimulator()
	key := KeyFor(archive.ContentHash, sim.Image.Digest, "")
	failed := &types.RunRecord{
		RunID:     "earlier-run",
		CacheKey:  key,
		Simulator: sim,
		Status:    types.RunStatusFailed,
		Error:     "remote run failed",
	}
	if err := mem.Put(context.Background(), docstore.RunKey(key), failed); err != nil {
		t.Fatalf("seed memo: %v", err)
	}

	svc := simrun.NewStubService()
	manager := NewManager(svc, docs, archives, logger, nil, fastConfig())

	// Both managers read the failed memo before either takes over the key.
	input := RunInput{Archive: archive, Simulator: sim}
	records := make([]*types.RunRecord, 2)
	var wg sync.WaitGroup
	for i := range records {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			records[i] = manager.RunArchive(context.Background(), input)
		}(i)
	}
	wg.Wait()

	if svc.SubmitCount() != 1 {
		t.Fatalf("submissions = %d, want 1", svc.SubmitCount())
	}
	fresh := 0
	for i, record := range records {
		if record.Status != types.RunStatusSucceeded {
			t.Errorf("record %d status = %s (%s)", i, record.Status, record.Error)
		}
		if record.RunID == "earlier-run" {
			t.Errorf("record %d adopted the failed run", i)
		}
		if !record.Reused {
			fresh++
		}
	}
	if fresh != 1 {
		t.Errorf("fresh records = %d, want exactly the takeover winner", fresh)
	}
}

// stallingService reports RUNNING on every poll, attaching a remote
// error message from the second poll onward.
type stallingService struct {
	*simrun.StubService
	mu    sync.Mutex
	polls int
}

func (s *stallingService) GetRun(_ context.Context, runID string) (*types.SimulationRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls++
	run := &types.SimulationRun{ID: runID, Status: types.RunStatusRunning}
	if s.polls > 1 {
		run.ErrorMessage = "solver step size underflow"
	}
	return run, nil
}

func TestRunArchive_PollRefreshesRunAtUnchangedStatus(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxPollDuration = 25 * time.Millisecond
	h := newHarness(t, cfg)
	h.manager.svc = &stallingService{StubService: h.svc}

	record := h.manager.RunArchive(context.Background(), RunInput{Archive: h.archive, Simulator: testSimulator()})

	if record.Status != types.RunStatusFailed {
		t.Fatalf("status = %s, want FAILED after the poll budget", record.Status)
	}
	// Remote fields that change while the status stays RUNNING must
	// still reach the record.
	if record.Run == nil || record.Run.ErrorMessage != "solver step size underflow" {
		t.Errorf("record.Run = %+v, want the latest remote view", record.Run)
	}
}

func TestRunExisting_NoSubmission(t *testing.T) {
	h := newHarness(t, fastConfig())
	h.svc.StatusSequence = []types.RunStatus{
		types.RunStatusProcessing,
		types.RunStatusSucceeded,
	}

	record := h.manager.RunExisting(context.Background(), "external-run-1")

	if record.Status != types.RunStatusSucceeded {
		t.Fatalf("status = %s (%s)", record.Status, record.Error)
	}
	if record.RunID != "external-run-1" {
		t.Errorf("run id = %s", record.RunID)
	}
	if h.svc.SubmitCount() != 0 {
		t.Errorf("submissions = %d, want 0 for passthrough runs", h.svc.SubmitCount())
	}
	if record.CacheKey != "" {
		t.Error("passthrough records must not carry a cache key")
	}
}

func TestRunExisting_UnknownID(t *testing.T) {
	cfg := fastConfig()
	cfg.AbortOnNotFound = false // passthrough ignores this and still aborts
	h := newHarness(t, cfg)
	h.svc.GetRunErr = &simrun.APIError{StatusCode: 404, Op: "get run", Body: "nope"}

	record := h.manager.RunExisting(context.Background(), "no-such-run")

	if record.Status != types.RunStatusRunIDNotFound {
		t.Fatalf("status = %s, want RUN_ID_NOT_FOUND", record.Status)
	}
}

func TestReshape_SingleRow(t *testing.T) {
	series, err := reshape([]string{"S1"}, &types.DataValues{
		Shape:  []int{4},
		Values: []float64{1, 2, 3, 4},
	})
	if err != nil {
		t.Fatalf("reshape: %v", err)
	}
	if got := series["S1"]; len(got) != 4 || got[3] != 4 {
		t.Errorf("series = %v", got)
	}
}

func TestReshape_Mismatch(t *testing.T) {
	_, err := reshape([]string{"a", "b", "c"}, &types.DataValues{
		Shape:  []int{2, 2},
		Values: []float64{1, 2, 3, 4},
	})
	if err == nil {
		t.Error("expected row/label mismatch error")
	}
}
