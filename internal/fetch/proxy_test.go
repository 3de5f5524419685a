// File: internal/fetch/proxy_test.go
package fetch_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/fetchproxy/internal/fetch"
	"github.com/xkilldash9x/fetchproxy/internal/mocks"
)

const testEndpoint = "http://127.0.0.1:9222"

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// -- Test Helpers --

type recordedExecution struct {
	outcome string
}

// fakeRecorder captures what the proxy reports.
type fakeRecorder struct {
	mu         sync.Mutex
	executions []recordedExecution
	stages     []string
	sizes      []int
	waiting    int
}

func (r *fakeRecorder) ObserveExecution(outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executions = append(r.executions, recordedExecution{outcome: outcome})
}

func (r *fakeRecorder) ObserveStage(stage string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, stage)
}

func (r *fakeRecorder) ObserveResponseSize(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sizes = append(r.sizes, n)
}

func (r *fakeRecorder) GateWaiting(delta int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waiting += delta
}

func (r *fakeRecorder) outcomes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.executions))
	for _, e := range r.executions {
		out = append(out, e.outcome)
	}
	return out
}

type testSetup struct {
	dialer   *mocks.MockDialer
	tab      *mocks.MockTab
	recorder *fakeRecorder
	proxy    *fetch.Proxy
}

func setup(t *testing.T, mutate func(*fetch.Options)) *testSetup {
	t.Helper()
	ts := &testSetup{
		dialer:   &mocks.MockDialer{},
		tab:      &mocks.MockTab{},
		recorder: &fakeRecorder{},
	}
	opts := fetch.Options{
		Endpoint:  testEndpoint,
		Serialize: true,
		Recorder:  ts.recorder,
	}
	if mutate != nil {
		mutate(&opts)
	}
	ts.proxy = fetch.NewProxy(ts.dialer, opts, zaptest.NewLogger(t))
	return ts
}

func (ts *testSetup) dialSucceeds() {
	ts.dialer.On("Dial", mock.Anything, testEndpoint).Return(ts.tab, nil)
	ts.tab.On("Close").Return(nil)
}

func assertValidTimestamp(t *testing.T, env fetch.ResponseEnvelope) {
	t.Helper()
	require.False(t, env.Timestamp.IsZero())
	_, err := time.Parse(time.RFC3339Nano, env.FormattedTimestamp())
	assert.NoError(t, err, "timestamp must be ISO-8601")
}

const helloCommand = `fetch("https://api.example.com/greeting", {"referrer": "https://example.com/app", "credentials": "include"})`

// -- Unit Tests --

func TestProxy_Execute_Success(t *testing.T) {
	ts := setup(t, nil)
	ts.dialSucceeds()
	ts.tab.On("Navigate", mock.Anything, "https://example.com/app").Return(nil).Once()
	ts.tab.On("Evaluate", mock.Anything, fetch.WrapCommand(helloCommand)).Return("hello", nil).Once()

	env := ts.proxy.Execute(context.Background(), helloCommand)

	assert.True(t, env.Success)
	assert.Equal(t, "hello", env.Data)
	assert.Empty(t, env.Error)
	assertValidTimestamp(t, env)

	ts.dialer.AssertExpectations(t)
	ts.tab.AssertExpectations(t)
	assert.Equal(t, []string{fetch.OutcomeSuccess}, ts.recorder.outcomes())
	assert.Equal(t, []string{fetch.StageConnect, fetch.StageNavigate, fetch.StageSettle, fetch.StageEvaluate}, ts.recorder.stages)
	assert.Equal(t, []int{5}, ts.recorder.sizes)
	assert.Zero(t, ts.recorder.waiting)
}

func TestProxy_Execute_ReferrerNotFound(t *testing.T) {
	commands := []string{
		`fetch("https://api.example.com/")`,
		`fetch("/x", {referrer: "https://example.com/"})`,
		"",
	}
	for _, cmd := range commands {
		ts := setup(t, nil)
		ts.dialSucceeds()

		env := ts.proxy.Execute(context.Background(), cmd)

		assert.False(t, env.Success)
		assert.Equal(t, "referrer not found in command", env.Error)
		assert.Empty(t, env.Data)
		assertValidTimestamp(t, env)

		ts.tab.AssertNotCalled(t, "Navigate", mock.Anything, mock.Anything)
		ts.tab.AssertNotCalled(t, "Evaluate", mock.Anything, mock.Anything)
		ts.tab.AssertCalled(t, "Close")
		assert.Equal(t, []string{fetch.OutcomeReferrerNotFound}, ts.recorder.outcomes())
	}
}

func TestProxy_Execute_FirstReferrerWins(t *testing.T) {
	cmd := `fetch("/a", {"referrer": "https://first.test/"}).then(() => fetch("/b", {"referrer": "https://second.test/"}))`
	ts := setup(t, nil)
	ts.dialSucceeds()
	ts.tab.On("Navigate", mock.Anything, "https://first.test/").Return(nil).Once()
	ts.tab.On("Evaluate", mock.Anything, mock.Anything).Return("ok", nil)

	env := ts.proxy.Execute(context.Background(), cmd)

	require.True(t, env.Success, env.Error)
	ts.tab.AssertNumberOfCalls(t, "Navigate", 1)
	ts.tab.AssertNotCalled(t, "Navigate", mock.Anything, "https://second.test/")
}

func TestProxy_Execute_Unreachable(t *testing.T) {
	ts := setup(t, nil)
	ts.dialer.On("Dial", mock.Anything, testEndpoint).
		Return(nil, errors.New("dial tcp 127.0.0.1:9222: connect: connection refused"))

	env := ts.proxy.Execute(context.Background(), helloCommand)

	assert.False(t, env.Success)
	assert.Contains(t, env.Error, "failed to connect to browser at "+testEndpoint)
	assert.Contains(t, env.Error, "connection refused")
	assertValidTimestamp(t, env)
	assert.Equal(t, []string{fetch.OutcomeConnectError}, ts.recorder.outcomes())
}

func TestProxy_Execute_NavigationError(t *testing.T) {
	ts := setup(t, nil)
	ts.dialSucceeds()
	ts.tab.On("Navigate", mock.Anything, "https://example.com/app").
		Return(errors.New("page load error net::ERR_NAME_NOT_RESOLVED"))

	env := ts.proxy.Execute(context.Background(), helloCommand)

	assert.False(t, env.Success)
	assert.Equal(t, "navigation to https://example.com/app failed: page load error net::ERR_NAME_NOT_RESOLVED", env.Error)
	ts.tab.AssertNotCalled(t, "Evaluate", mock.Anything, mock.Anything)
	ts.tab.AssertCalled(t, "Close")
	assert.Equal(t, []string{fetch.OutcomeNavigationError}, ts.recorder.outcomes())
}

func TestProxy_Execute_EvaluationErrors(t *testing.T) {
	testCases := []struct {
		name   string
		cmd    string
		errMsg string
	}{
		{
			name:   "syntax error",
			cmd:    `fetch("/x", {"referrer": "https://example.com/app"}`,
			errMsg: "SyntaxError: missing ) after argument list",
		},
		{
			name:   "value without text accessor",
			cmd:    `Promise.resolve(42) /* {"referrer": "https://example.com/app"} */`,
			errMsg: "TypeError: response.text is not a function",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ts := setup(t, nil)
			ts.dialSucceeds()
			ts.tab.On("Navigate", mock.Anything, "https://example.com/app").Return(nil)
			ts.tab.On("Evaluate", mock.Anything, fetch.WrapCommand(tc.cmd)).Return("", errors.New(tc.errMsg))

			env := ts.proxy.Execute(context.Background(), tc.cmd)

			assert.False(t, env.Success)
			assert.Equal(t, "evaluation failed: "+tc.errMsg, env.Error)
			assertValidTimestamp(t, env)
			assert.Equal(t, []string{fetch.OutcomeEvaluationError}, ts.recorder.outcomes())
		})
	}
}

func TestProxy_Execute_RecoversPanics(t *testing.T) {
	ts := setup(t, nil)
	ts.dialSucceeds()
	ts.tab.On("Navigate", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		panic("driver exploded")
	})

	var env fetch.ResponseEnvelope
	require.NotPanics(t, func() {
		env = ts.proxy.Execute(context.Background(), helloCommand)
	})

	assert.False(t, env.Success)
	assert.Contains(t, env.Error, "driver exploded")
	assertValidTimestamp(t, env)
	ts.tab.AssertCalled(t, "Close")
	assert.Equal(t, []string{fetch.OutcomePanic}, ts.recorder.outcomes())

	// The gate must have been released by the panicking execution.
	env = ts.proxy.Execute(context.Background(), `no referrer`)
	assert.Equal(t, "referrer not found in command", env.Error)
}

func TestProxy_Execute_Idempotent(t *testing.T) {
	ts := setup(t, nil)
	ts.dialSucceeds()
	ts.tab.On("Navigate", mock.Anything, mock.Anything).Return(nil)
	ts.tab.On("Evaluate", mock.Anything, mock.Anything).Return(`{"items":[1,2,3]}`, nil)

	first := ts.proxy.Execute(context.Background(), helloCommand)
	second := ts.proxy.Execute(context.Background(), helloCommand)

	require.True(t, first.Success)
	require.True(t, second.Success)
	assert.Equal(t, first.Data, second.Data)
	assert.False(t, second.Timestamp.Before(first.Timestamp), "timestamps must not go backwards")
}

func TestProxy_Execute_SettleDelay(t *testing.T) {
	t.Run("waits between navigation and evaluation", func(t *testing.T) {
		const delay = 60 * time.Millisecond
		ts := setup(t, func(o *fetch.Options) { o.SettleDelay = delay })
		ts.dialSucceeds()

		var navigatedAt time.Time
		ts.tab.On("Navigate", mock.Anything, mock.Anything).Return(nil).Run(func(mock.Arguments) {
			navigatedAt = time.Now()
		})
		var gap time.Duration
		ts.tab.On("Evaluate", mock.Anything, mock.Anything).Return("ok", nil).Run(func(mock.Arguments) {
			gap = time.Since(navigatedAt)
		})

		env := ts.proxy.Execute(context.Background(), helloCommand)
		require.True(t, env.Success)
		assert.GreaterOrEqual(t, gap, delay)
	})

	t.Run("cancellation interrupts the settle wait", func(t *testing.T) {
		ts := setup(t, func(o *fetch.Options) { o.SettleDelay = time.Hour })
		ts.dialSucceeds()
		ts.tab.On("Navigate", mock.Anything, mock.Anything).Return(nil)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()

		start := time.Now()
		env := ts.proxy.Execute(ctx, helloCommand)

		assert.Less(t, time.Since(start), 5*time.Second)
		assert.False(t, env.Success)
		assert.Contains(t, env.Error, "settle")
		assert.Contains(t, env.Error, context.DeadlineExceeded.Error())
		ts.tab.AssertNotCalled(t, "Evaluate", mock.Anything, mock.Anything)
	})
}

func TestProxy_Execute_StepTimeouts(t *testing.T) {
	ts := setup(t, func(o *fetch.Options) {
		o.NavigationTimeout = time.Minute
		o.EvaluationTimeout = time.Minute
	})
	ts.dialSucceeds()

	var navDeadline, evalDeadline bool
	ts.tab.On("Navigate", mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		_, navDeadline = args.Get(0).(context.Context).Deadline()
	})
	ts.tab.On("Evaluate", mock.Anything, mock.Anything).Return("ok", nil).Run(func(args mock.Arguments) {
		_, evalDeadline = args.Get(0).(context.Context).Deadline()
	})

	env := ts.proxy.Execute(context.Background(), helloCommand)
	require.True(t, env.Success)
	assert.True(t, navDeadline, "navigation should be bounded")
	assert.True(t, evalDeadline, "evaluation should be bounded")
}

func TestProxy_Execute_NoTimeoutsByDefault(t *testing.T) {
	ts := setup(t, nil)
	ts.dialSucceeds()

	var navDeadline bool
	ts.tab.On("Navigate", mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		_, navDeadline = args.Get(0).(context.Context).Deadline()
	})
	ts.tab.On("Evaluate", mock.Anything, mock.Anything).Return("ok", nil)

	env := ts.proxy.Execute(context.Background(), helloCommand)
	require.True(t, env.Success)
	assert.False(t, navDeadline)
}

func TestProxy_Execute_HungNavigationReleasesPage(t *testing.T) {
	ts := setup(t, func(o *fetch.Options) { o.NavigationTimeout = 50 * time.Millisecond })
	ts.dialSucceeds()

	// The first page never reaches DOMContentLoaded; only the step bound ends the wait.
	ts.tab.On("Navigate", mock.Anything, "https://example.com/app").Return(context.DeadlineExceeded).Run(func(args mock.Arguments) {
		<-args.Get(0).(context.Context).Done()
	}).Once()
	ts.tab.On("Navigate", mock.Anything, "https://example.com/app").Return(nil).Once()
	ts.tab.On("Evaluate", mock.Anything, fetch.WrapCommand(helloCommand)).Return("hello", nil).Once()

	first := ts.proxy.Execute(context.Background(), helloCommand)
	require.False(t, first.Success)
	assert.Contains(t, first.Error, "navigation to https://example.com/app failed")
	assert.Contains(t, first.Error, context.DeadlineExceeded.Error())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	second := ts.proxy.Execute(ctx, helloCommand)
	require.True(t, second.Success, "the next execution must not queue behind the hung page: %s", second.Error)
	assert.Equal(t, "hello", second.Data)
	assert.Equal(t, []string{fetch.OutcomeNavigationError, fetch.OutcomeSuccess}, ts.recorder.outcomes())
}

// -- Concurrency Tests --

func TestProxy_Execute_SerializesSharedPage(t *testing.T) {
	ts := setup(t, nil)
	ts.dialSucceeds()

	var inside, overlaps int32
	ts.tab.On("Navigate", mock.Anything, mock.Anything).Return(nil).Run(func(mock.Arguments) {
		if atomic.AddInt32(&inside, 1) > 1 {
			atomic.AddInt32(&overlaps, 1)
		}
	})
	ts.tab.On("Evaluate", mock.Anything, mock.Anything).Return("ok", nil).Run(func(mock.Arguments) {
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inside, -1)
	})

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			env := ts.proxy.Execute(context.Background(), helloCommand)
			assert.True(t, env.Success)
		}()
	}
	wg.Wait()

	assert.Zero(t, atomic.LoadInt32(&overlaps), "navigate/evaluate pairs must not interleave")
	assert.Len(t, ts.recorder.outcomes(), 6)
}

func TestProxy_Execute_AbortedWhileQueued(t *testing.T) {
	ts := setup(t, nil)
	ts.dialSucceeds()

	entered := make(chan struct{})
	unblock := make(chan struct{})
	ts.tab.On("Navigate", mock.Anything, mock.Anything).Return(nil).Run(func(mock.Arguments) {
		close(entered)
		<-unblock
	}).Once()
	ts.tab.On("Evaluate", mock.Anything, mock.Anything).Return("ok", nil)

	done := make(chan fetch.ResponseEnvelope)
	go func() { done <- ts.proxy.Execute(context.Background(), helloCommand) }()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	queued := ts.proxy.Execute(ctx, helloCommand)

	assert.False(t, queued.Success)
	assert.Contains(t, queued.Error, "execution aborted while waiting for the page")

	close(unblock)
	first := <-done
	assert.True(t, first.Success)
	assert.ElementsMatch(t, []string{fetch.OutcomeAborted, fetch.OutcomeSuccess}, ts.recorder.outcomes())
	ts.dialer.AssertNumberOfCalls(t, "Dial", 1)
}

func TestProxy_Execute_UnserializedAllowsOverlap(t *testing.T) {
	ts := setup(t, func(o *fetch.Options) { o.Serialize = false })
	ts.dialSucceeds()

	var inside int32
	both := make(chan struct{})
	var once sync.Once
	ts.tab.On("Navigate", mock.Anything, mock.Anything).Return(nil).Run(func(mock.Arguments) {
		if atomic.AddInt32(&inside, 1) == 2 {
			once.Do(func() { close(both) })
		}
		select {
		case <-both:
		case <-time.After(2 * time.Second):
		}
	})
	ts.tab.On("Evaluate", mock.Anything, mock.Anything).Return("ok", nil)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ts.proxy.Execute(context.Background(), helloCommand)
		}()
	}
	wg.Wait()

	select {
	case <-both:
	default:
		t.Fatal("expected both executions to be on the page at once")
	}
}

func TestProxy_Endpoint(t *testing.T) {
	ts := setup(t, nil)
	assert.Equal(t, testEndpoint, ts.proxy.Endpoint())
}
