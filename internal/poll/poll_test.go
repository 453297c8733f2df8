package poll

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/chanyong1027/evalstudio/internal/client"
	"github.com/chanyong1027/evalstudio/internal/policy"
	"github.com/chanyong1027/evalstudio/pkg/types"
)

var ref = client.RunRef{WorkspaceID: 1, PromptID: 2, RunID: 3}

const fast = 5 * time.Millisecond

// fakeFetcher serves scripted run statuses and case lists. Each call consumes
// the next script entry; the last entry repeats.
type fakeFetcher struct {
	mu        sync.Mutex
	statuses  []types.RunStatus
	caseSets  [][]types.EvalCaseResult
	runCalls  int
	caseCalls int

	caseHook func(ctx context.Context, call int) ([]types.EvalCaseResult, error, bool)
}

func (f *fakeFetcher) GetRun(ctx context.Context, r client.RunRef) (types.EvaluationRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := min(f.runCalls, len(f.statuses)-1)
	f.runCalls++
	return types.EvaluationRun{ID: r.RunID, Mode: types.ModeCandidateOnly, Status: f.statuses[i]}, nil
}

func (f *fakeFetcher) AllRunCases(ctx context.Context, _ client.RunRef) ([]types.EvalCaseResult, error) {
	f.mu.Lock()
	call := f.caseCalls
	f.caseCalls++
	i := min(call, len(f.caseSets)-1)
	cases := f.caseSets[i]
	hook := f.caseHook
	f.mu.Unlock()
	if hook != nil {
		if got, err, handled := hook(ctx, call); handled {
			return got, err
		}
	}
	return cases, nil
}

func (f *fakeFetcher) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runCalls, f.caseCalls
}

func okCases(n int) []types.EvalCaseResult {
	pass := true
	out := make([]types.EvalCaseResult, n)
	for i := range out {
		out[i] = types.EvalCaseResult{ID: int64(i + 1), Status: types.CaseOK, Pass: &pass}
	}
	return out
}

func TestController_StopsAfterFinalDrain(t *testing.T) {
	f := &fakeFetcher{
		statuses: []types.RunStatus{types.RunRunning, types.RunRunning, types.RunCompleted},
		caseSets: [][]types.EvalCaseResult{okCases(1)},
	}
	f.caseHook = func(context.Context, int) ([]types.EvalCaseResult, error, bool) {
		if runs, _ := f.calls(); runs >= 3 {
			return okCases(4), nil, true
		}
		return nil, nil, false
	}
	var updates atomic.Int32
	c := New(f, ref, WithRunInterval(fast), WithCaseInterval(fast),
		WithCriteria(&types.ReleaseCriteria{MinPassRate: 50, MinAvgOverallScore: 0, MaxErrorRate: 10}),
		WithOnUpdate(func(Snapshot) { updates.Add(1) }))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, ok := c.Run(ctx)
	require.True(t, ok)
	require.True(t, snap.Final)
	require.Equal(t, types.RunCompleted, snap.Run.Status)
	require.Len(t, snap.Cases, 4, "final snapshot must carry the post-terminal drain")
	require.False(t, snap.View.Running)
	require.Equal(t, policy.ReleasePass, snap.View.Decision.Release)
	require.NotEmpty(t, snap.RefreshID)
	require.Positive(t, updates.Load())

	runs, _ := f.calls()
	time.Sleep(4 * fast)
	after, _ := f.calls()
	require.Equal(t, runs, after, "no run refresh after polling ended")
}

func TestController_AlreadyTerminalRunDrainsOnce(t *testing.T) {
	f := &fakeFetcher{
		statuses: []types.RunStatus{types.RunCancelled},
		caseSets: [][]types.EvalCaseResult{okCases(1)},
	}
	snap, ok := New(f, ref, WithRunInterval(time.Hour), WithCaseInterval(time.Hour)).Run(context.Background())
	require.True(t, ok)
	require.True(t, snap.Final)
	runs, cases := f.calls()
	require.Equal(t, 1, runs)
	require.Equal(t, 2, cases)
}

func TestController_DiscardsStaleResults(t *testing.T) {
	release := make(chan struct{})
	f := &fakeFetcher{
		statuses: []types.RunStatus{types.RunRunning},
		caseSets: [][]types.EvalCaseResult{okCases(1), okCases(2)},
	}
	f.caseHook = func(ctx context.Context, call int) ([]types.EvalCaseResult, error, bool) {
		if call != 0 {
			return nil, nil, false
		}
		<-release
		return okCases(1), nil, true
	}
	seen := make(chan Snapshot, 64)
	c := New(f, ref, WithRunInterval(fast), WithCaseInterval(fast),
		WithOnUpdate(func(s Snapshot) {
			select {
			case seen <- s:
			default:
			}
		}))

	staleBefore := testutil.ToFloat64(refreshes.WithLabelValues("cases", "stale"))
	h := c.Start(context.Background())
	defer h.Stop()

	select {
	case s := <-seen:
		require.Len(t, s.Cases, 2)
	case <-time.After(5 * time.Second):
		t.Fatal("no update")
	}
	close(release)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(refreshes.WithLabelValues("cases", "stale")) > staleBefore
	}, 5*time.Second, fast)
	last, ok := h.Last()
	require.True(t, ok)
	require.Len(t, last.Cases, 2, "an older refresh must not overwrite a newer one")
}

func TestController_StopIsSilent(t *testing.T) {
	f := &fakeFetcher{
		statuses: []types.RunStatus{types.RunRunning},
		caseSets: [][]types.EvalCaseResult{nil},
	}
	f.caseHook = func(ctx context.Context, _ int) ([]types.EvalCaseResult, error, bool) {
		<-ctx.Done()
		return nil, ctx.Err(), true
	}
	var reported atomic.Int32
	active := testutil.ToFloat64(activeSessions)
	h := New(f, ref, WithRunInterval(fast), WithCaseInterval(fast),
		WithOnError(func(error) { reported.Add(1) })).Start(context.Background())

	time.Sleep(4 * fast)
	h.Stop()
	h.Stop()

	select {
	case <-h.Done():
	default:
		t.Fatal("Done must be closed after Stop")
	}
	require.Zero(t, reported.Load())
	_, ok := h.Last()
	require.False(t, ok, "no snapshot without a case list")
	require.Equal(t, active, testutil.ToFloat64(activeSessions))
}

func TestController_RetriesFailedFinalDrain(t *testing.T) {
	var failuresLeft atomic.Int32
	failuresLeft.Store(1)
	f := &fakeFetcher{
		statuses: []types.RunStatus{types.RunCompleted},
		caseSets: [][]types.EvalCaseResult{okCases(3)},
	}
	f.caseHook = func(ctx context.Context, _ int) ([]types.EvalCaseResult, error, bool) {
		if failuresLeft.Add(-1) >= 0 {
			return nil, errors.New("page 2: bad gateway"), true
		}
		return nil, nil, false
	}
	var reported atomic.Int32
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, ok := New(f, ref, WithRunInterval(fast), WithCaseInterval(fast),
		WithOnError(func(error) { reported.Add(1) })).Run(ctx)
	require.True(t, ok)
	require.True(t, snap.Final)
	require.Len(t, snap.Cases, 3)
	require.Equal(t, int32(1), reported.Load())
}
