package orchestrator

import (
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Path identifies a message destination: the recipient a task sends its
// request to and expects a correlated reply from.
type Path string

// TaskState is the lifecycle state of a single Task, per the Data Model in
// the design notes for this engine: a task starts Unstarted, becomes
// Waiting once its request has been sent, and ends in exactly one of the
// terminal states.
type TaskState int

const (
	StateUnstarted TaskState = iota
	StateWaiting
	StateFinished
	StateAborted
	// StateTimedOut is declared for completeness of the state space but is
	// never a resting state reachable through normal dispatch: a fired
	// timeout resolves immediately, through the task's Behavior, to either
	// StateFinished or StateAborted.
	StateTimedOut
)

func (s TaskState) String() string {
	switch s {
	case StateUnstarted:
		return "Unstarted"
	case StateWaiting:
		return "Waiting"
	case StateFinished:
		return "Finished"
	case StateAborted:
		return "Aborted"
	case StateTimedOut:
		return "TimedOut"
	default:
		return "Unknown"
	}
}

// NoTimeout marks a task with an unbounded (infinite) timeout: no timer is
// ever armed for it.
const NoTimeout time.Duration = -1

// ActionKind is the outcome a Behavior reports for a given reply.
type ActionKind int

const (
	// ActionIgnore means the behavior does not recognize the message. For a
	// reply that already matched the task by identifier, this drops the
	// message and leaves the task Waiting. For a Timeout sentinel, it is
	// the "behavior does not handle Timeout" case, which the orchestrator
	// turns into an Aborted(TimeoutError) transition.
	ActionIgnore ActionKind = iota
	ActionFinish
	ActionAbort
)

// TaskAction is the result of applying a task's Behavior to an incoming
// reply or to the synthetic Timeout sentinel.
type TaskAction struct {
	Kind   ActionKind
	Result any
	Cause  error
}

// Finish reports that the task completed successfully with the given
// result value.
func Finish(result any) TaskAction { return TaskAction{Kind: ActionFinish, Result: result} }

// AbortWith reports that the task cannot continue; cause becomes the
// task's abort cause and, if it is the first abort in its orchestrator,
// the orchestrator's instigator cause.
func AbortWith(cause error) TaskAction { return TaskAction{Kind: ActionAbort, Cause: cause} }

// Ignore reports that the behavior does not recognize the message.
func Ignore() TaskAction { return TaskAction{Kind: ActionIgnore} }

// Timeout is the synthetic sentinel delivered to a task's Behavior when its
// timer fires before any reply has matched.
type Timeout struct {
	CorrelationID int64
}

// Behavior is a partial function from an incoming reply (or the Timeout
// sentinel) to a TaskAction. It must be non-blocking: the orchestrator
// invokes it synchronously on its single actor goroutine.
type Behavior func(reply any) TaskAction

// Task is one node of the dependency graph: a single request/reply
// exchange, plus the dependencies that must finish before it may start.
type Task struct {
	Index        uint32
	Name         string
	Destination  Path
	Dependencies map[uint32]struct{}
	Timeout      time.Duration
	Behavior     Behavior

	// NewMessage builds the outbound request given the correlation ID that
	// will be placed on the wire, i.e. createMessage(C).
	NewMessage func(correlationID int64) any

	// InnerOrchestratorNamer, if set, is consulted for Report's
	// InnerOrchestratorName while this task is Waiting. Only a composite
	// task (quorum's outer task) sets this; an ordinary task has no inner
	// orchestrator to name.
	InnerOrchestratorNamer func() string

	state                 TaskState
	result                any
	cause                 error
	expectedDeliveryID    int64
	expectedCorrelationID int64
	hasExpected           bool
	timer                 *time.Timer
	span                  trace.Span
}

// NewTask constructs an Unstarted task. deps may be nil for a root task.
func NewTask(index uint32, name string, dest Path, deps []uint32, timeout time.Duration, newMessage func(int64) any, behavior Behavior) *Task {
	depSet := make(map[uint32]struct{}, len(deps))
	for _, d := range deps {
		depSet[d] = struct{}{}
	}
	return &Task{
		Index:        index,
		Name:         name,
		Destination:  dest,
		Dependencies: depSet,
		Timeout:      timeout,
		Behavior:     behavior,
		NewMessage:   newMessage,
		state:        StateUnstarted,
	}
}

func (t *Task) State() TaskState { return t.state }
func (t *Task) Result() any      { return t.result }
func (t *Task) Cause() error     { return t.cause }

func (t *Task) dependenciesSatisfied(finished map[uint32]struct{}) bool {
	for d := range t.Dependencies {
		if _, ok := finished[d]; !ok {
			return false
		}
	}
	return true
}

// markWaiting records the identifiers assigned to an outbound delivery and
// transitions the task from Unstarted to Waiting. It performs no I/O: the
// orchestrator core is responsible for actually sending the message and
// persisting the corresponding event before calling this.
func (t *Task) markWaiting(deliveryID, correlationID int64) {
	t.state = StateWaiting
	t.expectedDeliveryID = deliveryID
	t.expectedCorrelationID = correlationID
	t.hasExpected = true
}

// decide runs the task's Behavior against a reply without mutating state.
// Kept separate from commitFinish/commitAbort so replay can inspect the
// resulting TaskAction before deciding how to persist it.
func (t *Task) decide(reply any) TaskAction {
	return t.Behavior(reply)
}

func (t *Task) commitFinish(result any) {
	t.state = StateFinished
	t.result = result
	t.hasExpected = false
	t.cancelTimer()
}

func (t *Task) commitAbort(cause error) {
	t.state = StateAborted
	t.cause = cause
	t.hasExpected = false
	t.cancelTimer()
}

func (t *Task) cancelTimer() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}
