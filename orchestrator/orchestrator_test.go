package orchestrator_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kortschak/orkestra/orchestrator"
	"github.com/kortschak/orkestra/persistence/memory"
)

// fakeDelivery is a synchronous, in-process DeliveryPrimitive for tests:
// Deliver hands back a monotonic ID and records the message so the test
// can drive replies directly through Orchestrator.HandleReply.
type fakeDelivery struct {
	mu       sync.Mutex
	seq      int64
	sent     map[int64]sentMessage
	confirms map[int64]bool
}

type sentMessage struct {
	dest    orchestrator.Path
	message any
}

func newFakeDelivery() *fakeDelivery {
	return &fakeDelivery{sent: make(map[int64]sentMessage), confirms: make(map[int64]bool)}
}

func (d *fakeDelivery) Deliver(ctx context.Context, dest orchestrator.Path, factory func(int64) any) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	id := d.seq
	d.sent[id] = sentMessage{dest: dest, message: factory(id)}
	return id, nil
}

func (d *fakeDelivery) Confirm(ctx context.Context, deliveryID int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.confirms[deliveryID] = true
	return nil
}

func lenBehavior(reply any) orchestrator.TaskAction {
	s, ok := reply.(string)
	if !ok {
		return orchestrator.Ignore()
	}
	return orchestrator.Finish(len(s))
}

func Test_TwoTaskChainFinishes(t *testing.T) {
	store := memory.New()
	dp := newFakeDelivery()

	first := orchestrator.NewTask(0, "first", "svc-a", nil, orchestrator.NoTimeout,
		func(c int64) any { return c }, lenBehavior)
	second := orchestrator.NewTask(1, "second", "svc-b", []uint32{0}, orchestrator.NoTimeout,
		func(c int64) any { return c }, lenBehavior)

	var finished []orchestrator.Report
	done := make(chan struct{})
	o, err := orchestrator.NewOrchestrator("run-1", []*orchestrator.Task{first, second}, store, dp,
		orchestrator.WithHooks(orchestrator.Hooks{
			OnFinish: func(reports []orchestrator.Report) {
				finished = reports
				close(done)
			},
		}),
	)
	require.NoError(t, err)
	require.NoError(t, o.StartOrchestrator(context.Background(), 1))

	require.NoError(t, o.HandleReply(context.Background(), 1, 1, "svc-a", "hello"))
	require.NoError(t, o.HandleReply(context.Background(), 2, 2, "svc-b", "worldly"))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("orchestrator never reached OnFinish")
	}

	require.Len(t, finished, 2)
	assert.Equal(t, orchestrator.StateFinished, finished[0].State)
	assert.Equal(t, 5, finished[0].Result)
	assert.Equal(t, orchestrator.StateFinished, finished[1].State)
	assert.Equal(t, 7, finished[1].Result)
}

func Test_DuplicateReplyIgnoredAfterFinish(t *testing.T) {
	store := memory.New()
	dp := newFakeDelivery()
	task := orchestrator.NewTask(0, "only", "svc", nil, orchestrator.NoTimeout,
		func(c int64) any { return c }, lenBehavior)

	o, err := orchestrator.NewOrchestrator("run-2", []*orchestrator.Task{task}, store, dp)
	require.NoError(t, err)
	require.NoError(t, o.StartOrchestrator(context.Background(), 1))
	require.NoError(t, o.HandleReply(context.Background(), 1, 1, "svc", "abc"))

	status, err := o.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, orchestrator.StateFinished, status.Reports[0].State)

	// A redelivered duplicate must not re-run the behavior or change state.
	require.NoError(t, o.HandleReply(context.Background(), 1, 1, "svc", "xyz"))
	status, err = o.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, status.Reports[0].Result)
}

func Test_UnhandledTimeoutAbortsTask(t *testing.T) {
	store := memory.New()
	dp := newFakeDelivery()
	task := orchestrator.NewTask(0, "slow", "svc", nil, 10*time.Millisecond,
		func(c int64) any { return c }, lenBehavior) // lenBehavior does not handle Timeout: Ignore -> unhandled

	var abortCause error
	done := make(chan struct{})
	o, err := orchestrator.NewOrchestrator("run-3", []*orchestrator.Task{task}, store, dp,
		orchestrator.WithHooks(orchestrator.Hooks{
			OnAbort: func(instigator orchestrator.Report, cause error) {
				abortCause = cause
				close(done)
			},
		}),
	)
	require.NoError(t, err)
	require.NoError(t, o.StartOrchestrator(context.Background(), 1))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("orchestrator never aborted on timeout")
	}
	assert.ErrorIs(t, abortCause, orchestrator.ErrTimeout)
}

func Test_HandledTimeoutFinishesTask(t *testing.T) {
	store := memory.New()
	dp := newFakeDelivery()
	behavior := func(reply any) orchestrator.TaskAction {
		if _, ok := reply.(orchestrator.Timeout); ok {
			return orchestrator.Finish("fallback")
		}
		return orchestrator.Finish(reply)
	}
	task := orchestrator.NewTask(0, "slow", "svc", nil, 10*time.Millisecond,
		func(c int64) any { return c }, behavior)

	done := make(chan struct{})
	o, err := orchestrator.NewOrchestrator("run-4", []*orchestrator.Task{task}, store, dp,
		orchestrator.WithHooks(orchestrator.Hooks{
			OnFinish: func(reports []orchestrator.Report) { close(done) },
		}),
	)
	require.NoError(t, err)
	require.NoError(t, o.StartOrchestrator(context.Background(), 1))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("orchestrator never finished after handled timeout")
	}

	status, err := o.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fallback", status.Reports[0].Result)
}

func Test_EmptyTaskVectorFinishesImmediately(t *testing.T) {
	store := memory.New()
	dp := newFakeDelivery()

	done := make(chan struct{})
	var reports []orchestrator.Report
	o, err := orchestrator.NewOrchestrator("run-empty", nil, store, dp,
		orchestrator.WithHooks(orchestrator.Hooks{
			OnFinish: func(r []orchestrator.Report) {
				reports = r
				close(done)
			},
		}),
	)
	require.NoError(t, err)
	require.NoError(t, o.StartOrchestrator(context.Background(), 1))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("empty task vector never reached OnFinish")
	}
	assert.Empty(t, reports)
}

// captureParent is a ParentHandle test double that records what it was
// notified with, in particular the start_id threaded through
// NotifyAborted.
type captureParent struct {
	abortCause   error
	abortStartID uint64
	done         chan struct{}
}

func (p *captureParent) NotifySuccess(reports []orchestrator.Report) {}

func (p *captureParent) NotifyAborted(cause error, reports []orchestrator.Report, startID uint64) {
	p.abortCause = cause
	p.abortStartID = startID
	close(p.done)
}

func Test_StartIDThreadsToParentOnAbort(t *testing.T) {
	store := memory.New()
	dp := newFakeDelivery()
	abortNow := func(reply any) orchestrator.TaskAction { return orchestrator.AbortWith(assert.AnError) }
	task := orchestrator.NewTask(0, "only", "svc", nil, orchestrator.NoTimeout, func(c int64) any { return c }, abortNow)

	parent := &captureParent{done: make(chan struct{})}
	o, err := orchestrator.NewOrchestrator("run-startid", []*orchestrator.Task{task}, store, dp,
		orchestrator.WithParent(parent),
	)
	require.NoError(t, err)
	require.NoError(t, o.StartOrchestrator(context.Background(), 42))
	require.NoError(t, o.HandleReply(context.Background(), 1, 1, "svc", "anything"))

	select {
	case <-parent.done:
	case <-time.After(time.Second):
		t.Fatal("parent never notified of abort")
	}
	assert.ErrorIs(t, parent.abortCause, assert.AnError)
	assert.EqualValues(t, 42, parent.abortStartID)
}

func Test_StopOnAbortFalseKeepsRunningSiblings(t *testing.T) {
	store := memory.New()
	dp := newFakeDelivery()
	abortNow := func(reply any) orchestrator.TaskAction { return orchestrator.AbortWith(assert.AnError) }

	a := orchestrator.NewTask(0, "a", "svc-a", nil, orchestrator.NoTimeout, func(c int64) any { return c }, abortNow)
	b := orchestrator.NewTask(1, "b", "svc-b", nil, orchestrator.NoTimeout, func(c int64) any { return c }, lenBehavior)

	var aborted, finished int
	o, err := orchestrator.NewOrchestrator("run-5", []*orchestrator.Task{a, b}, store, dp,
		orchestrator.WithStopOnAbort(false),
		orchestrator.WithHooks(orchestrator.Hooks{
			OnTaskAbort:  func(t *orchestrator.Task) { aborted++ },
			OnTaskFinish: func(t *orchestrator.Task) { finished++ },
		}),
	)
	require.NoError(t, err)
	require.NoError(t, o.StartOrchestrator(context.Background(), 1))

	require.NoError(t, o.HandleReply(context.Background(), 1, 1, "svc-a", "anything"))
	require.NoError(t, o.HandleReply(context.Background(), 2, 2, "svc-b", "abcd"))

	status, err := o.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StateAborted, status.Reports[0].State)
	assert.Equal(t, orchestrator.StateFinished, status.Reports[1].State)
	assert.Equal(t, 1, aborted)
	assert.Equal(t, 1, finished)
}
