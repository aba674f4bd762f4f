package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/protobuf/types/known/timestamppb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ParentHandle lets a composite task's inner orchestrator report its
// outcome to whatever owns it (spec C4, quorum's inner orchestrators
// notifying the quorum task). The default (nil) means "no parent": a
// top-level orchestrator answers only to its own callers via Status.
// startID identifies which StartOrchestrator call produced this outcome, so
// a parent composing several started/restarted attempts (spec §6's
// TaskAborted(instigator_report, cause, start_id)) can tell them apart.
type ParentHandle interface {
	NotifySuccess(reports []Report)
	NotifyAborted(cause error, reports []Report, startID uint64)
}

// Hooks are the lifecycle callbacks an owner (typically a composite task
// like quorum) observes as an orchestrator runs. All fields are optional;
// a nil hook is simply not called. OnTaskFinish and OnTaskAbort are not
// called for transitions reconstructed from the log during replay. If the
// replayed log already ends in a terminal outcome, OnFinish or OnAbort (and
// the parent notification) fire once, after replay completes.
type Hooks struct {
	// OnTaskFinish fires once per task, the moment that task transitions to
	// Finished, whether or not the orchestrator as a whole is done.
	OnTaskFinish func(t *Task)

	// OnTaskAbort fires once per task, the moment that task transitions to
	// Aborted, regardless of StopOnAbort.
	OnTaskAbort func(t *Task)

	// OnFinish fires once, when every task has reached a terminal state
	// without the orchestrator aborting: every task Finished or, with
	// StopOnAbort false, each task either Finished or Aborted.
	OnFinish func(reports []Report)

	// OnAbort fires once, when the orchestrator declares itself terminally
	// aborted (see StopOnAbort).
	OnAbort func(instigator Report, cause error)
}

// Options configure an Orchestrator at construction. Store and
// DeliveryPrimitive are required collaborators passed directly to
// NewOrchestrator; everything else is an Option.
type Option func(*Orchestrator)

func WithLogger(l Logger) Option { return func(o *Orchestrator) { o.logger = l } }

func WithSettings(s Settings) Option { return func(o *Orchestrator) { o.settings = s } }

func WithIDMode(m IDMode) Option { return func(o *Orchestrator) { o.ids = newIDAllocator(m) } }

func WithParent(p ParentHandle) Option { return func(o *Orchestrator) { o.parent = p } }

func WithHooks(h Hooks) Option { return func(o *Orchestrator) { o.hooks = h } }

// WithStopOnAbort controls whether the first task abort terminates the
// whole orchestrator (the spec default, true) or is merely reported through
// OnTaskAbort while the remaining tasks keep running to completion. quorum's inner
// orchestrator sets this false so it can keep counting votes after a
// minority of inner tasks abort. This is the "by construction, not
// documentation" answer to preserving default receive composition: there
// is no raw become/unbecome exposed, only this named toggle.
func WithStopOnAbort(stop bool) Option { return func(o *Orchestrator) { o.stopOnAbort = stop } }

// Orchestrator runs one task graph to completion as a single-threaded,
// message-driven actor (spec §5, §9): every state transition happens on
// the goroutine started by StartOrchestrator, serialized through mailbox.
type Orchestrator struct {
	id       string
	tasks    []*Task
	byIndex  map[uint32]*Task
	ids      *idAllocator
	store    Store
	delivery DeliveryPrimitive
	logger   Logger
	settings Settings
	hooks    Hooks
	parent   ParentHandle

	stopOnAbort bool

	mailbox chan func()
	stopped chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc

	seq              uint64
	sinceSnapshot    uint32
	finished         map[uint32]struct{}
	terminal         bool
	terminalAborted  bool
	terminalCause    error
	terminalInstig   *Task
	replaying        bool
	deferredTerminal bool

	// startID is the id given to the StartOrchestrator call that (re)started
	// this run, persisted with EventStartOrchestrator so it survives replay.
	startID uint64
	runSpan trace.Span
}

// NewOrchestrator validates the task graph and returns an orchestrator
// ready for StartOrchestrator. tasks must have unique, contiguous-or-not
// Index values and an acyclic Dependencies relation (spec Non-goal:
// dependency-graph editing after construction is unsupported).
func NewOrchestrator(id string, tasks []*Task, store Store, delivery DeliveryPrimitive, opts ...Option) (*Orchestrator, error) {
	if _, err := validateDAG(tasks); err != nil {
		return nil, err
	}
	byIndex := make(map[uint32]*Task, len(tasks))
	for _, t := range tasks {
		byIndex[t.Index] = t
	}
	o := &Orchestrator{
		id:          id,
		tasks:       tasks,
		byIndex:     byIndex,
		ids:         newIDAllocator(SharedIDs),
		store:       store,
		delivery:    delivery,
		logger:      DefaultLogger(),
		settings:    DefaultSettings(),
		stopOnAbort: true,
		mailbox:     make(chan func(), 1024),
		stopped:     make(chan struct{}),
		finished:    make(map[uint32]struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// StartOrchestrator begins the actor loop, recovering any persisted state
// before resuming or starting fresh (spec §4.1). id identifies this
// particular start attempt (spec's StartOrchestrator(id: u64)); on a fresh
// run it is persisted as the EventStartOrchestrator payload, and on
// recovery the value already on the log wins, so passing a different id
// into a resumed run has no effect beyond this call's own bookkeeping.
// StartOrchestrator returns once recovery has completed and the loop is
// live; it does not block for the orchestrator's overall completion.
func (o *Orchestrator) StartOrchestrator(ctx context.Context, id uint64) error {
	spanCtx, span := startOrchestratorSpan(ctx, o.id)
	o.runSpan = span
	o.ctx, o.cancel = context.WithCancel(spanCtx)
	go o.run()

	errCh := make(chan error, 1)
	o.mailbox <- func() {
		errCh <- o.bootstrap(o.ctx, id)
	}
	return <-errCh
}

func (o *Orchestrator) run() {
	for {
		select {
		case fn := <-o.mailbox:
			fn()
		case <-o.ctx.Done():
			close(o.stopped)
			return
		}
	}
}

// do runs fn on the actor goroutine and waits for it to finish. Callers
// outside the actor goroutine must use this for every read or mutation of
// orchestrator state.
func (o *Orchestrator) do(fn func()) error {
	done := make(chan struct{})
	select {
	case o.mailbox <- func() { fn(); close(done) }:
	case <-o.ctx.Done():
		return fmt.Errorf("orchestrator %s: stopped", o.id)
	}
	select {
	case <-done:
		return nil
	case <-o.ctx.Done():
		return fmt.Errorf("orchestrator %s: stopped", o.id)
	}
}

func (o *Orchestrator) bootstrap(ctx context.Context, id uint64) error {
	snapshot, snapSeq, events, err := o.store.Load(ctx, o.id)
	if err != nil {
		return fmt.Errorf("load orchestrator %s: %w", o.id, err)
	}
	if len(events) > 0 || len(snapshot) > 0 {
		return o.recover(ctx, snapshot, snapSeq, events)
	}
	o.startID = id
	if err := o.persist(ctx, Event{Kind: EventStartOrchestrator, StartID: id}); err != nil {
		return err
	}
	if len(o.tasks) == 0 {
		o.terminateSuccess()
		return nil
	}
	o.scheduleReady(ctx)
	return nil
}

// scheduleReady starts every Unstarted task whose dependencies are all
// Finished. Called after construction and after every task finishes.
func (o *Orchestrator) scheduleReady(ctx context.Context) {
	if o.terminal {
		return
	}
	for _, t := range o.tasks {
		if t.state == StateUnstarted && t.dependenciesSatisfied(o.finished) {
			if err := o.startTask(ctx, t); err != nil {
				o.logger.Errorf("start task %d (%s): %v", t.Index, t.Name, err)
			}
		}
	}
}

func (o *Orchestrator) startTask(ctx context.Context, t *Task) error {
	spanCtx, span := startTaskSpan(ctx, o.id, t)
	t.span = span

	var correlationID int64
	deliveryID, err := o.delivery.Deliver(spanCtx, t.Destination, func(deliveryID int64) any {
		correlationID = o.ids.deliveryToCorrelation(t.Destination, deliveryID)
		return t.NewMessage(correlationID)
	})
	if err != nil {
		o.endTaskSpan(t, err)
		return fmt.Errorf("deliver task %d: %w", t.Index, err)
	}
	if err := o.persist(ctx, Event{
		Kind:          EventMessageSent,
		TaskIndex:     t.Index,
		DeliveryID:    deliveryID,
		CorrelationID: correlationID,
	}); err != nil {
		return err
	}
	t.markWaiting(deliveryID, correlationID)
	o.armTimeout(t)
	return nil
}

func (o *Orchestrator) armTimeout(t *Task) {
	if t.Timeout == NoTimeout || t.Timeout <= 0 {
		return
	}
	expectedC := t.expectedCorrelationID
	t.timer = time.AfterFunc(t.Timeout, func() {
		_ = o.do(func() { o.handleTimeout(t, expectedC) })
	})
}

func (o *Orchestrator) handleTimeout(t *Task, correlationID int64) {
	if o.terminal || t.state != StateWaiting || t.expectedCorrelationID != correlationID {
		return // stale timer, already resolved or superseded
	}
	action := t.decide(Timeout{CorrelationID: correlationID})
	switch action.Kind {
	case ActionFinish, ActionAbort:
		encoded, _ := encodeReply(nil)
		if err := o.persist(o.ctx, Event{
			Kind:          EventMessageReceived,
			TaskIndex:     t.Index,
			DeliveryID:    t.expectedDeliveryID,
			CorrelationID: correlationID,
			IsTimeout:     true,
			Message:       encoded,
		}); err != nil {
			o.logger.Errorf("persist handled timeout for task %d: %v", t.Index, err)
			return
		}
		_ = o.delivery.Confirm(o.ctx, t.expectedDeliveryID)
		o.applyAction(t, action)
	default:
		if o.settings.PersistTimeouts {
			if err := o.persist(o.ctx, Event{
				Kind:          EventTaskTimedOut,
				TaskIndex:     t.Index,
				DeliveryID:    t.expectedDeliveryID,
				CorrelationID: correlationID,
			}); err != nil {
				o.logger.Errorf("persist unhandled timeout for task %d: %v", t.Index, err)
				return
			}
		}
		t.commitAbort(ErrTimeout)
		o.onTaskAborted(t)
	}
}

// HandleReply is the external entry point a destination uses to deliver a
// reply back into this orchestrator. It is safe to call concurrently; the
// actual state transition is serialized onto the actor goroutine.
func (o *Orchestrator) HandleReply(ctx context.Context, deliveryID, correlationID int64, sender Path, reply any) error {
	return o.do(func() { o.handleReply(deliveryID, correlationID, sender, reply) })
}

func (o *Orchestrator) handleReply(deliveryID, correlationID int64, sender Path, reply any) {
	if o.terminal {
		return
	}
	t := o.findWaiting(sender, correlationID)
	if t == nil || !matchID(t, o.ids, correlationID, sender, false) {
		return // duplicate redelivery or reply for an already-resolved task
	}

	encoded, err := encodeReply(reply)
	if err != nil {
		o.logger.Errorf("encode reply for task %d: %v", t.Index, err)
		return
	}
	action := t.decide(reply)
	if err := o.persist(o.ctx, Event{
		Kind:          EventMessageReceived,
		TaskIndex:     t.Index,
		DeliveryID:    deliveryID,
		CorrelationID: correlationID,
		Message:       encoded,
	}); err != nil {
		o.logger.Errorf("persist reply for task %d: %v", t.Index, err)
		return
	}
	_ = o.delivery.Confirm(o.ctx, deliveryID)
	o.applyAction(t, action)
}

func (o *Orchestrator) findWaiting(dest Path, correlationID int64) *Task {
	for _, t := range o.tasks {
		if t.state == StateWaiting && t.Destination == dest && t.expectedCorrelationID == correlationID {
			return t
		}
	}
	return nil
}

func (o *Orchestrator) applyAction(t *Task, action TaskAction) {
	switch action.Kind {
	case ActionFinish:
		t.commitFinish(action.Result)
		o.onTaskFinished(t)
	case ActionAbort:
		t.commitAbort(action.Cause)
		o.onTaskAborted(t)
	default:
		// Ignore: the task remains Waiting for a future reply or timeout.
	}
}

func (o *Orchestrator) onTaskFinished(t *Task) {
	o.endTaskSpan(t, nil)
	o.finished[t.Index] = struct{}{}
	if o.hooks.OnTaskFinish != nil && !o.replaying {
		o.hooks.OnTaskFinish(t)
	}
	if o.allTerminal() {
		o.terminateSuccess()
		return
	}
	if !o.replaying {
		o.scheduleReady(o.ctx)
	}
}

func (o *Orchestrator) onTaskAborted(t *Task) {
	o.endTaskSpan(t, t.cause)
	if o.hooks.OnTaskAbort != nil && !o.replaying {
		o.hooks.OnTaskAbort(t)
	}
	if o.stopOnAbort {
		o.terminateAborted(t)
		return
	}
	if o.allTerminal() {
		o.terminateSuccess()
	}
}

func (o *Orchestrator) allTerminal() bool {
	for _, t := range o.tasks {
		if t.state != StateFinished && t.state != StateAborted {
			return false
		}
	}
	return true
}

func (o *Orchestrator) terminateSuccess() {
	if o.terminal {
		return
	}
	o.terminal = true
	if o.replaying {
		o.deferredTerminal = true
		o.terminalAborted = false
		return
	}
	o.cancelAllTimers()
	o.endRunSpan(nil)
	reports := o.reports()
	if o.hooks.OnFinish != nil {
		o.hooks.OnFinish(reports)
	}
	if o.parent != nil {
		o.parent.NotifySuccess(reports)
	}
}

func (o *Orchestrator) terminateAborted(instigator *Task) {
	if o.terminal {
		return
	}
	o.terminal = true
	if o.replaying {
		o.deferredTerminal = true
		o.terminalAborted = true
		o.terminalCause = instigator.cause
		o.terminalInstig = instigator
		return
	}
	o.cancelAllTimers()
	o.endRunSpan(instigator.cause)
	if o.hooks.OnAbort != nil {
		o.hooks.OnAbort(newReport(instigator), instigator.cause)
	}
	if o.parent != nil {
		o.parent.NotifyAborted(instigator.cause, o.reports(), o.startID)
	}
}

func (o *Orchestrator) cancelAllTimers() {
	for _, t := range o.tasks {
		t.cancelTimer()
	}
}

// endTaskSpan closes t's in-flight request/reply span, if one was opened by
// startTask. Replay never opens one (recovered tasks resume without a live
// trace context), so this is a no-op for state reconstructed from the log.
func (o *Orchestrator) endTaskSpan(t *Task, cause error) {
	if t.span == nil {
		return
	}
	if cause != nil {
		t.span.RecordError(cause)
		t.span.SetStatus(codes.Error, cause.Error())
	}
	t.span.End()
	t.span = nil
}

// endRunSpan closes the span covering this orchestrator's run, opened by
// StartOrchestrator.
func (o *Orchestrator) endRunSpan(cause error) {
	if o.runSpan == nil {
		return
	}
	if cause != nil {
		o.runSpan.RecordError(cause)
		o.runSpan.SetStatus(codes.Error, cause.Error())
	}
	o.runSpan.End()
	o.runSpan = nil
}

func (o *Orchestrator) reports() []Report {
	reports := make([]Report, 0, len(o.tasks))
	for _, t := range o.tasks {
		reports = append(reports, newReport(t))
	}
	return reports
}

// persist appends one event to the log, advancing the sequence counter and
// triggering a snapshot roughly every SaveSnapshotRoughlyEveryXMessages
// events (spec §6, "roughly" because a crash between Append and
// SaveSnapshot simply means the next snapshot arrives a little later).
func (o *Orchestrator) persist(ctx context.Context, ev Event) error {
	ev.Timestamp = timestamppb.Now()
	o.seq++
	if err := o.store.Append(ctx, o.id, o.seq, ev); err != nil {
		o.seq--
		return fmt.Errorf("append event: %w", err)
	}
	if ev.Kind == EventStartOrchestrator || ev.Kind == EventSnapshotOffer {
		return nil
	}
	o.sinceSnapshot++
	if o.settings.SaveSnapshotRoughlyEveryXMessages > 0 &&
		o.sinceSnapshot >= o.settings.SaveSnapshotRoughlyEveryXMessages {
		if err := o.saveSnapshot(ctx); err != nil {
			o.logger.Warnf("orchestrator %s: snapshot skipped: %v", o.id, err)
		}
	}
	return nil
}

// SaveSnapshot forces an immediate snapshot regardless of the configured
// cadence.
func (o *Orchestrator) SaveSnapshot(ctx context.Context) error {
	var err error
	doErr := o.do(func() { err = o.saveSnapshot(ctx) })
	if doErr != nil {
		return doErr
	}
	return err
}

func (o *Orchestrator) saveSnapshot(ctx context.Context) error {
	data, err := json.Marshal(o.buildSnapshot())
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := o.store.SaveSnapshot(ctx, o.id, o.seq, data); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	o.sinceSnapshot = 0
	return nil
}

// snapshotState is the JSON envelope for a point-in-time snapshot. It
// captures every task's resting state plus the identifier allocator's
// bookkeeping, so recovery from a snapshot never needs to replay from the
// very first event again.
type snapshotState struct {
	StartID  uint64                   `json:"start_id"`
	Tasks    []taskSnapshot           `json:"tasks"`
	IDMode   IDMode                   `json:"id_mode"`
	IDState  map[string]idDstSnapshot `json:"id_state"`
	Finished []uint32                 `json:"finished"`
}

type taskSnapshot struct {
	Index                 uint32 `json:"index"`
	State                 int    `json:"state"`
	Result                []byte `json:"result,omitempty"`
	Cause                 string `json:"cause,omitempty"`
	ExpectedDeliveryID    int64  `json:"expected_delivery_id,omitempty"`
	ExpectedCorrelationID int64  `json:"expected_correlation_id,omitempty"`
	HasExpected           bool   `json:"has_expected,omitempty"`
}

type idDstSnapshot struct {
	NextC      int64           `json:"next_c"`
	ToDelivery map[int64]int64 `json:"to_delivery"`
}

func (o *Orchestrator) buildSnapshot() snapshotState {
	s := snapshotState{
		StartID: o.startID,
		IDMode:  o.ids.mode,
		IDState: make(map[string]idDstSnapshot, len(o.ids.byDst)),
	}
	for dst, d := range o.ids.byDst {
		s.IDState[string(dst)] = idDstSnapshot{NextC: d.nextC, ToDelivery: d.toDelivery}
	}
	for _, t := range o.tasks {
		ts := taskSnapshot{
			Index:                 t.Index,
			State:                 int(t.state),
			ExpectedDeliveryID:    t.expectedDeliveryID,
			ExpectedCorrelationID: t.expectedCorrelationID,
			HasExpected:           t.hasExpected,
		}
		if t.result != nil {
			if b, err := encodeReply(t.result); err == nil {
				ts.Result = b
			}
		}
		if t.cause != nil {
			ts.Cause = t.cause.Error()
		}
		s.Tasks = append(s.Tasks, ts)
	}
	for idx := range o.finished {
		s.Finished = append(s.Finished, idx)
	}
	return s
}

func (o *Orchestrator) restoreSnapshot(data []byte) error {
	var s snapshotState
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	o.startID = s.StartID
	o.ids = newIDAllocator(s.IDMode)
	for dst, d := range s.IDState {
		o.ids.byDst[Path(dst)] = &destinationIDs{nextC: d.NextC, toDelivery: d.ToDelivery}
	}
	for _, ts := range s.Tasks {
		t, ok := o.byIndex[ts.Index]
		if !ok {
			continue
		}
		t.state = TaskState(ts.State)
		t.expectedDeliveryID = ts.ExpectedDeliveryID
		t.expectedCorrelationID = ts.ExpectedCorrelationID
		t.hasExpected = ts.HasExpected
		if len(ts.Result) > 0 {
			if v, err := decodeReply(ts.Result); err == nil {
				t.result = v
			}
		}
		if ts.Cause != "" {
			t.cause = fmt.Errorf("%s", ts.Cause)
		}
	}
	for _, idx := range s.Finished {
		o.finished[idx] = struct{}{}
	}
	return nil
}

// recover replays a loaded snapshot (if any) plus every event after it,
// with hooks suppressed so an owner is never notified twice for the same
// transition. Once replay completes, timers are re-armed for any task
// still Waiting and any deferred terminal hook fires exactly once.
func (o *Orchestrator) recover(ctx context.Context, snapshot []byte, snapSeq uint64, events []Event) error {
	o.replaying = true
	defer func() { o.replaying = false }()

	o.seq = snapSeq
	if len(snapshot) > 0 {
		if err := o.applyReplayEvent(ctx, Event{Kind: EventSnapshotOffer, Snapshot: &wrapperspb.BytesValue{Value: snapshot}}); err != nil {
			return err
		}
	}
	for _, ev := range events {
		if err := o.applyReplayEvent(ctx, ev); err != nil {
			return err
		}
		o.seq++
	}

	if o.terminal {
		o.cancelAllTimers()
		if o.deferredTerminal {
			o.endRunSpan(o.terminalCause)
			reports := o.reports()
			if o.terminalAborted {
				if o.hooks.OnAbort != nil && o.terminalInstig != nil {
					o.hooks.OnAbort(newReport(o.terminalInstig), o.terminalCause)
				}
				if o.parent != nil {
					o.parent.NotifyAborted(o.terminalCause, reports, o.startID)
				}
			} else {
				if o.hooks.OnFinish != nil {
					o.hooks.OnFinish(reports)
				}
				if o.parent != nil {
					o.parent.NotifySuccess(reports)
				}
			}
		}
		return nil
	}

	if len(o.tasks) == 0 {
		o.replaying = false
		o.terminateSuccess()
		return nil
	}

	for _, t := range o.tasks {
		if t.state == StateWaiting {
			o.armTimeout(t)
		}
	}
	o.scheduleReady(ctx)
	return nil
}

func (o *Orchestrator) applyReplayEvent(ctx context.Context, ev Event) error {
	switch ev.Kind {
	case EventStartOrchestrator:
		o.startID = ev.StartID
		return nil
	case EventSnapshotOffer:
		if ev.Snapshot == nil {
			return nil
		}
		return o.restoreSnapshot(ev.Snapshot.Value)
	case EventMessageSent:
		t, ok := o.byIndex[ev.TaskIndex]
		if !ok {
			return fmt.Errorf("replay: unknown task %d", ev.TaskIndex)
		}
		o.ids.restoreCorrelation(t.Destination, ev.CorrelationID, ev.DeliveryID)
		t.markWaiting(ev.DeliveryID, ev.CorrelationID)
		if rb, ok := o.delivery.(ReplayRebinder); ok {
			if err := rb.RebindReplay(ctx, t.Destination, ev.DeliveryID, ev.CorrelationID); err != nil {
				return fmt.Errorf("rebind replay for task %d: %w", ev.TaskIndex, err)
			}
		}
		return nil
	case EventMessageReceived:
		t, ok := o.byIndex[ev.TaskIndex]
		if !ok {
			return fmt.Errorf("replay: unknown task %d", ev.TaskIndex)
		}
		var reply any
		if ev.IsTimeout {
			reply = Timeout{CorrelationID: ev.CorrelationID}
		} else {
			decoded, err := decodeReply(ev.Message)
			if err != nil {
				return err
			}
			reply = decoded
		}
		action := t.decide(reply)
		if action.Kind == ActionIgnore && ev.IsTimeout {
			// Defensive fallback: a timeout path must always resolve, even
			// if replaying against a Behavior that no longer recognizes
			// the sentinel it originally handled.
			action = AbortWith(ErrTimeout)
		}
		o.applyAction(t, action)
		return nil
	case EventTaskTimedOut:
		t, ok := o.byIndex[ev.TaskIndex]
		if !ok {
			return fmt.Errorf("replay: unknown task %d", ev.TaskIndex)
		}
		t.commitAbort(ErrTimeout)
		o.onTaskAborted(t)
		return nil
	default:
		return fmt.Errorf("replay: unknown event kind %v", ev.Kind)
	}
}

// Status returns a point-in-time snapshot of every task's report.
func (o *Orchestrator) Status(ctx context.Context) (StatusResponse, error) {
	var resp StatusResponse
	if err := o.do(func() { resp = StatusResponse{Reports: o.reports()} }); err != nil {
		return StatusResponse{}, err
	}
	return resp, nil
}

// TimeoutTasks forces the timeout path for the given tasks immediately,
// regardless of their configured Timeout. It hops through the mailbox, so
// it is for callers outside the actor goroutine; quorum's cancellation of
// inner tasks from within a hook uses CancelWaiting instead.
func (o *Orchestrator) TimeoutTasks(ctx context.Context, indices ...uint32) error {
	return o.do(func() { o.forceTimeouts(indices...) })
}

func (o *Orchestrator) forceTimeouts(indices ...uint32) {
	for _, idx := range indices {
		t, ok := o.byIndex[idx]
		if !ok || t.state != StateWaiting {
			continue
		}
		o.handleTimeout(t, t.expectedCorrelationID)
	}
}

// Tasks returns the live task set. It is meant to be read from within a
// Hooks callback, which already runs serialized on this orchestrator's
// actor goroutine; calling it from any other goroutine while the
// orchestrator is running races with the actor loop.
func (o *Orchestrator) Tasks() []*Task { return o.tasks }

// CancelWaiting forces the timeout path for the given tasks without
// hopping through the mailbox. Unlike TimeoutTasks, it is safe to call
// from within a Hooks callback (which already runs on the actor
// goroutine); TimeoutTasks would deadlock there since the goroutine that
// would drain the mailbox is the one blocked making the call. quorum uses
// this to cancel the remaining inner tasks the instant a decision is
// reached.
func (o *Orchestrator) CancelWaiting(indices ...uint32) { o.forceTimeouts(indices...) }

// ID returns this orchestrator's instance identifier, as given to
// NewOrchestrator.
func (o *Orchestrator) ID() string { return o.id }

// ShutdownOrchestrator stops the actor loop once the mailbox function it is
// currently running (if any) returns, grounded on the teacher's
// TaskHubWorker.Shutdown: it does not abort running tasks, it simply stops
// accepting new work and returns once the loop has exited. Work still
// queued in the mailbox at that point is not guaranteed to run; callers
// waiting on it get a "stopped" error.
func (o *Orchestrator) ShutdownOrchestrator(ctx context.Context) error {
	if o.cancel == nil {
		return nil
	}
	o.cancel()
	select {
	case <-o.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
