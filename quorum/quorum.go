// Package quorum implements the composite quorum task (spec C4): from an
// outer orchestrator's point of view it is a single Task, but starting it
// spawns an inner child orchestrator running one inner task per voter
// destination and reports back once enough of them agree.
//
// Grounded on the sub-orchestration create/complete messaging in the
// teacher's runtime state machine, where a parent instance receives an
// OrchestratorMessage when a child orchestration finishes — the closest
// teacher analogue to an inner orchestrator signalling its outer composite
// task.
package quorum

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync/atomic"
	"time"

	"github.com/kortschak/orkestra/orchestrator"
)

// MinimumVotes selects how many inner tasks must agree for the composite
// task to Finish.
type MinimumVotes struct {
	kind int
	k    uint32
}

const (
	kindMajority = iota
	kindAll
	kindAtLeast
)

// Majority requires floor(N/2)+1 matching votes.
func Majority() MinimumVotes { return MinimumVotes{kind: kindMajority} }

// All requires every inner task to agree.
func All() MinimumVotes { return MinimumVotes{kind: kindAll} }

// AtLeast requires min(k, N) matching votes. k must be at least 1.
func AtLeast(k uint32) MinimumVotes { return MinimumVotes{kind: kindAtLeast, k: k} }

func (m MinimumVotes) threshold(n uint32) uint32 {
	switch m.kind {
	case kindAll:
		return n
	case kindAtLeast:
		if m.k < n {
			return m.k
		}
		return n
	default: // Majority
		return n/2 + 1
	}
}

// Config is the construction contract for a quorum composite task: N
// voters, all reachable with the same outbound message, and a threshold
// for agreement.
type Config struct {
	// Destinations lists the N voter destinations. Must all be distinct
	// (W1).
	Destinations []orchestrator.Path

	// NewMessage builds the request sent to every destination. The same
	// closure is invoked for every voter with the same orchestratorID (the
	// inner orchestrator this particular quorum invocation spawned — a
	// fresh one every time the composite task starts) but a distinct
	// correlationID per voter, minted by the shared delivery primitive.
	// W2 (every destination receives an equal request) is checked at
	// construction with routing metadata excluded: if the returned message
	// implements an OrchestratorID()/CorrelationID() accessor pair (as
	// destination.Addressed messages do), those two fields are allowed to
	// vary and everything else must not.
	NewMessage func(orchestratorID string, correlationID int64) any

	// Vote turns one destination's raw reply into a TaskAction, exactly
	// like an ordinary task Behavior. Its Finish result is the value
	// placed into that destination's vote bucket. If nil, the raw reply is
	// used as the vote value directly.
	Vote orchestrator.Behavior

	// Timeout bounds each individual inner task's wait for a reply.
	Timeout time.Duration

	MinimumVotes MinimumVotes

	// OnInnerOrchestrator, if set, is called once with the freshly built
	// inner orchestrator every time this composite task starts (including
	// on recovery, if the outer orchestrator crashes mid-vote). A real
	// Sender cannot address replies to an orchestrator it was never handed
	// a reference to, so callers register the inner orchestrator into an
	// orchestrator.Directory here.
	OnInnerOrchestrator func(inner *orchestrator.Orchestrator)
}

func identityVote(reply any) orchestrator.TaskAction { return orchestrator.Finish(reply) }

// OuterHandle is a settable reference to the outer orchestrator that will
// own a composite task. Building the outer orchestrator requires the
// finished task slice up front, but the composite task's virtual delivery
// primitive needs to call back into that same orchestrator once it
// exists: construct a zero OuterHandle, pass it to NewCompositeTask, then
// call Bind with the outer orchestrator immediately after
// orchestrator.NewOrchestrator returns.
type OuterHandle struct {
	o *orchestrator.Orchestrator
}

// Bind attaches the outer orchestrator. Must be called before the outer
// orchestrator's StartOrchestrator, since votes cannot be reported back
// without it.
func (h *OuterHandle) Bind(o *orchestrator.Orchestrator) { h.o = o }

// NewCompositeTask builds the outer Task for a quorum, plus the
// DeliveryPrimitive the outer orchestrator must be constructed with in
// place of delivery. That wrapper forwards every destination except this
// task's own straight through to delivery unchanged, so an outer
// orchestrator mixing ordinary tasks and one or more quorum tasks just
// threads the returned wrapper into the next NewCompositeTask call (or
// into orchestrator.NewOrchestrator, for the last one).
//
// Well-formedness (W1/W2) is checked eagerly here, so a bad Config fails
// at construction rather than surfacing as a runtime abort.
func NewCompositeTask(
	index uint32,
	name string,
	deps []uint32,
	cfg Config,
	store orchestrator.Store,
	delivery orchestrator.DeliveryPrimitive,
	idMode orchestrator.IDMode,
) (*orchestrator.Task, *OuterHandle, orchestrator.DeliveryPrimitive, error) {
	if err := checkWellFormed(cfg); err != nil {
		return nil, nil, nil, err
	}
	if cfg.Vote == nil {
		cfg.Vote = identityVote
	}

	handle := &OuterHandle{}
	dest := orchestrator.Path("quorum:" + name)
	launcher := &innerLauncher{
		handle:      handle,
		name:        name,
		cfg:         cfg,
		store:       store,
		delivery:    delivery,
		idMode:      idMode,
		destination: dest,
	}

	// The outer Task's own Destination/NewMessage/Behavior never touch the
	// real delivery primitive: launcher.Deliver (below) is wired in by the
	// caller as this task's DeliveryPrimitive, so "sending the request"
	// means starting the inner orchestrator, and the eventual vote outcome
	// arrives back through the ordinary HandleReply path.
	outer := orchestrator.NewTask(index, name, dest, deps, orchestrator.NoTimeout,
		func(correlationID int64) any { return correlationID },
		outerBehavior,
	)
	outer.InnerOrchestratorNamer = launcher.currentInnerName
	launcher.outerTask = outer
	return outer, handle, launcher, nil
}

func checkWellFormed(cfg Config) error {
	seen := make(map[orchestrator.Path]struct{}, len(cfg.Destinations))
	for _, d := range cfg.Destinations {
		if _, dup := seen[d]; dup {
			return orchestrator.ErrDistinctDestinations
		}
		seen[d] = struct{}{}
	}
	if len(cfg.Destinations) < 1 {
		return orchestrator.ErrDistinctDestinations
	}
	if cfg.NewMessage != nil {
		// Two real voters in one quorum instance share an orchestratorID
		// but get distinct correlationIDs from the delivery primitive's
		// shared counter, so probing with two different correlation IDs
		// (rather than the same one twice, which only proves NewMessage is
		// pure) reproduces what the N inner tasks will actually see.
		a := stripRouting(cfg.NewMessage("probe", 0))
		b := stripRouting(cfg.NewMessage("probe", 1))
		if !reflect.DeepEqual(a, b) {
			return orchestrator.ErrSameMessage
		}
	}
	return nil
}

// addressed mirrors destination.Addressed structurally, without importing
// that package: any message exposing these two accessors is treated as
// carrying routing metadata that W2 must not hold against it.
type addressed interface {
	OrchestratorID() string
	CorrelationID() int64
}

// stripRouting returns a copy of msg with its routing fields zeroed, so W2's
// equality check compares only the domain content two different voters
// would receive. Non-struct messages and messages that do not implement
// addressed are returned unchanged: there is nothing routing-shaped to
// exclude.
func stripRouting(msg any) any {
	addr, ok := msg.(addressed)
	if !ok {
		return msg
	}
	v := reflect.ValueOf(msg)
	if v.Kind() != reflect.Struct {
		return msg
	}
	orchestratorID := addr.OrchestratorID()
	correlationID := addr.CorrelationID()

	cp := reflect.New(v.Type()).Elem()
	cp.Set(v)
	for i := 0; i < cp.NumField(); i++ {
		f := cp.Field(i)
		if !f.CanSet() {
			continue
		}
		switch {
		case f.Kind() == reflect.String && f.String() == orchestratorID:
			f.SetString("")
		case f.Kind() == reflect.Int64 && f.Int() == correlationID:
			f.SetInt(0)
		}
	}
	return cp.Interface()
}

// outerBehavior decodes the vote outcome delivered by innerLauncher's
// synthetic reply into a Finish or Abort action. It tolerates both the
// live typed voteOutcome value and the map[string]any shape a replayed,
// JSON-round-tripped outcome takes.
func outerBehavior(reply any) orchestrator.TaskAction {
	outcome, ok := decodeOutcome(reply)
	if !ok {
		return orchestrator.Ignore()
	}
	if outcome.OK {
		return orchestrator.Finish(outcome.Value)
	}
	switch outcome.Code {
	case orchestrator.CodeQuorumImpossible:
		return orchestrator.AbortWith(orchestrator.ErrQuorumImpossible)
	default:
		return orchestrator.AbortWith(orchestrator.ErrQuorumNotAchieved)
	}
}

type voteOutcome struct {
	OK    bool   `json:"ok"`
	Value any    `json:"value,omitempty"`
	Code  string `json:"code,omitempty"`
}

func decodeOutcome(reply any) (voteOutcome, bool) {
	switch v := reply.(type) {
	case voteOutcome:
		return v, true
	case map[string]any:
		out := voteOutcome{}
		if ok, isOK := v["ok"].(bool); isOK {
			out.OK = ok
		}
		out.Value = v["value"]
		if code, isStr := v["code"].(string); isStr {
			out.Code = code
		}
		return out, true
	default:
		return voteOutcome{}, false
	}
}

// innerLauncher wraps a real DeliveryPrimitive: every destination except
// the composite task's own virtual one is forwarded unchanged, so an
// outer orchestrator with a mix of ordinary and quorum tasks can share a
// single DeliveryPrimitive. On the virtual destination, Deliver starts the
// inner orchestrator instead of sending a wire message, and the eventual
// vote outcome is reported back through the outer orchestrator's ordinary
// HandleReply path — from the outer orchestrator's perspective a quorum
// task looks exactly like any other asynchronous destination.
type innerLauncher struct {
	handle      *OuterHandle
	name        string
	cfg         Config
	store       orchestrator.Store
	delivery    orchestrator.DeliveryPrimitive
	idMode      orchestrator.IDMode
	destination orchestrator.Path
	outerTask   *orchestrator.Task
	seq         int64
	pending     map[int64]struct{}

	// current is the quorumState behind the most recently started (or
	// rebound) inner orchestrator, consulted by currentInnerName for
	// Report.InnerOrchestratorName. A composite task starts its inner
	// orchestrator exactly once per outer task instance, so there is never
	// more than one live quorumState to track.
	current *quorumState
}

// newInnerOrchestrator builds (but does not start) the inner orchestrator
// for one run of this composite task, wiring its per-vote hooks back into
// a fresh quorumState. Both Deliver (starting a quorum vote for the first
// time) and RebindReplay (reconstructing one after a crash) share this,
// since the inner orchestrator itself must be built identically either
// way: what differs is only what happens to it after StartOrchestrator.
func (l *innerLauncher) newInnerOrchestrator(deliveryID, correlationID int64) (*quorumState, error) {
	q := newQuorumState(l, deliveryID, correlationID)
	q.innerID = fmt.Sprintf("%s/quorum/%d", l.name, deliveryID)
	inner, err := orchestrator.NewOrchestrator(q.innerID, q.innerTasks(), l.store, l.delivery,
		orchestrator.WithIDMode(l.idMode),
		orchestrator.WithStopOnAbort(false),
		orchestrator.WithHooks(orchestrator.Hooks{
			OnTaskFinish: q.onVote,
			OnTaskAbort:  q.onAbort,
		}),
	)
	if err != nil {
		return nil, err
	}
	q.inner = inner
	l.current = q
	if l.cfg.OnInnerOrchestrator != nil {
		l.cfg.OnInnerOrchestrator(inner)
	}
	return q, nil
}

// currentInnerName reports the currently active inner orchestrator's id,
// wired into the outer Task as InnerOrchestratorNamer. Before the first
// Deliver or RebindReplay call there is no inner orchestrator yet.
func (l *innerLauncher) currentInnerName() string {
	if l.current == nil {
		return ""
	}
	return l.current.innerID
}

func (l *innerLauncher) Deliver(ctx context.Context, dest orchestrator.Path, factory func(int64) any) (int64, error) {
	if dest != l.destination {
		return l.delivery.Deliver(ctx, dest, factory)
	}

	deliveryID := atomic.AddInt64(&l.seq, 1)
	msg := factory(deliveryID)
	correlationID, _ := msg.(int64)

	q, err := l.newInnerOrchestrator(deliveryID, correlationID)
	if err != nil {
		return 0, err
	}
	if err := q.inner.StartOrchestrator(ctx, uint64(deliveryID)); err != nil {
		return 0, err
	}
	if l.pending == nil {
		l.pending = make(map[int64]struct{})
	}
	l.pending[deliveryID] = struct{}{}
	return deliveryID, nil
}

// RebindReplay implements orchestrator.ReplayRebinder. Replaying the
// EventMessageSent for this launcher's own virtual destination is the
// only signal a crash mid-vote left behind: the inner orchestrator that
// the original Deliver call spawned lives entirely under its own id in
// the shared store, re-derived here from the same deliveryID that named
// it the first time, so restarting it resumes it through its own
// bootstrap/recover instead of starting a fresh vote. Because replay
// suppresses the inner orchestrator's own OnTaskFinish/OnTaskAbort hooks
// (an owner must never be notified twice for a transition it already saw
// before the crash), rebuildFromTasks reconstructs the vote tally
// directly from the recovered tasks once StartOrchestrator returns.
func (l *innerLauncher) RebindReplay(ctx context.Context, dest orchestrator.Path, deliveryID, correlationID int64) error {
	if dest != l.destination {
		return nil
	}

	q, err := l.newInnerOrchestrator(deliveryID, correlationID)
	if err != nil {
		return err
	}
	if err := q.inner.StartOrchestrator(ctx, uint64(deliveryID)); err != nil {
		return err
	}
	q.rebuildFromTasks()

	if l.pending == nil {
		l.pending = make(map[int64]struct{})
	}
	l.pending[deliveryID] = struct{}{}
	return nil
}

// Confirm has no destination to key on, only the delivery ID. A quorum
// delivery needs no downstream confirmation at all (there is no
// redelivery of "start the inner orchestrator"), so any ID this launcher
// itself minted is simply cleared; everything else is forwarded to the
// real primitive.
func (l *innerLauncher) Confirm(ctx context.Context, deliveryID int64) error {
	if _, ok := l.pending[deliveryID]; ok {
		delete(l.pending, deliveryID)
		return nil
	}
	return l.delivery.Confirm(ctx, deliveryID)
}

// quorumState accumulates votes for one running instance of a quorum
// composite task, applying the decision rules from spec §4.4 after every
// inner task terminal event.
type quorumState struct {
	l       *innerLauncher
	innerID string

	n         uint32
	threshold uint32
	tolerance uint32

	buckets     map[string]uint32
	bucketValue map[string]any
	aborted     uint32
	remaining   uint32
	decided     bool

	inner *orchestrator.Orchestrator

	outerDeliveryID    int64
	outerCorrelationID int64
}

func newQuorumState(l *innerLauncher, outerDeliveryID, outerCorrelationID int64) *quorumState {
	n := uint32(len(l.cfg.Destinations))
	return &quorumState{
		l:                  l,
		n:                  n,
		threshold:          l.cfg.MinimumVotes.threshold(n),
		tolerance:          n - l.cfg.MinimumVotes.threshold(n),
		buckets:            make(map[string]uint32),
		bucketValue:        make(map[string]any),
		remaining:          n,
		outerDeliveryID:    outerDeliveryID,
		outerCorrelationID: outerCorrelationID,
	}
}

func (q *quorumState) innerTasks() []*orchestrator.Task {
	tasks := make([]*orchestrator.Task, 0, len(q.l.cfg.Destinations))
	newMessage := q.l.cfg.NewMessage
	for i, dest := range q.l.cfg.Destinations {
		tasks = append(tasks, orchestrator.NewTask(
			uint32(i), fmt.Sprintf("%s/vote/%d", q.l.name, i), dest, nil,
			q.l.cfg.Timeout,
			func(correlationID int64) any { return newMessage(q.innerID, correlationID) },
			q.l.cfg.Vote,
		))
	}
	return tasks
}

func (q *quorumState) onVote(t *orchestrator.Task) {
	if q.decided {
		return
	}
	q.remaining--
	key := voteKey(t.Result())
	q.buckets[key]++
	q.bucketValue[key] = t.Result()
	q.evaluate()
}

func (q *quorumState) onAbort(t *orchestrator.Task) {
	if q.decided {
		return
	}
	q.remaining--
	q.aborted++
	q.evaluate()
}

// rebuildFromTasks reconstructs the vote tally from the inner
// orchestrator's already-recovered task states, then evaluates once.
// Recovery has no live onVote/onAbort calls to replay from (replay
// suppresses those hooks by design), so this is the only way a rebound
// quorumState learns what happened to each voter before the crash: a
// decision reachable from those votes alone is reached now, on the
// orchestrator this launcher's outer task belongs to, exactly as if the
// votes had just arrived.
func (q *quorumState) rebuildFromTasks() {
	for _, t := range q.inner.Tasks() {
		switch t.State() {
		case orchestrator.StateFinished:
			q.remaining--
			key := voteKey(t.Result())
			q.buckets[key]++
			q.bucketValue[key] = t.Result()
		case orchestrator.StateAborted:
			q.remaining--
			q.aborted++
		}
	}
	q.evaluate()
}

func (q *quorumState) evaluate() {
	var maxBucket uint32
	var winnerKey string
	for k, c := range q.buckets {
		if c > maxBucket {
			maxBucket = c
			winnerKey = k
		}
	}

	switch {
	case maxBucket >= q.threshold:
		q.finish(q.bucketValue[winnerKey])
	case q.aborted > q.tolerance:
		q.abort(orchestrator.CodeQuorumImpossible)
	case q.aborted+q.remaining < q.threshold-maxBucket:
		q.abort(orchestrator.CodeQuorumNotAchieved)
	default:
		// Not enough information yet: wait for more votes.
	}
}

func (q *quorumState) finish(value any) {
	q.decided = true
	q.cancelRemaining()
	q.reply(voteOutcome{OK: true, Value: value})
}

func (q *quorumState) abort(code string) {
	q.decided = true
	q.cancelRemaining()
	q.reply(voteOutcome{OK: false, Code: code})
}

func (q *quorumState) cancelRemaining() {
	var waiting []uint32
	for _, t := range q.inner.Tasks() {
		if t.State() == orchestrator.StateWaiting {
			waiting = append(waiting, t.Index)
		}
	}
	if len(waiting) > 0 {
		q.inner.CancelWaiting(waiting...)
	}
}

func (q *quorumState) reply(outcome voteOutcome) {
	outer := q.l.handle.o
	if outer == nil {
		return
	}
	go func() {
		_ = outer.HandleReply(context.Background(), q.outerDeliveryID, q.outerCorrelationID, q.l.destination, outcome)
	}()
}

func voteKey(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
