package orchestrator

import "github.com/goliatone/go-errors"

// Error codes for the taxonomy in spec §7. Categories let callers branch on
// go-errors.CategoryX without string-matching messages.
const (
	CodeQuorumDistinctDestinations = "QUORUM_DISTINCT_DESTINATIONS"
	CodeQuorumSameMessage          = "QUORUM_SAME_MESSAGE"
	CodeQuorumNotAchieved          = "QUORUM_NOT_ACHIEVED"
	CodeQuorumImpossible           = "QUORUM_IMPOSSIBLE_TO_ACHIEVE"
	CodeTaskTimeout                = "TASK_TIMEOUT"
	CodeCyclicDependency           = "CYCLIC_DEPENDENCY"
)

var (
	// ErrDistinctDestinations is W1: quorum inner tasks must all target
	// distinct destinations.
	ErrDistinctDestinations = errors.New("tasks with distinct destinations", errors.CategoryBadInput).
					WithTextCode(CodeQuorumDistinctDestinations)

	// ErrSameMessage is W2: quorum inner tasks must all produce the same
	// outbound message.
	ErrSameMessage = errors.New("tasks with the same message", errors.CategoryBadInput).
			WithTextCode(CodeQuorumSameMessage)

	// ErrQuorumNotAchieved is returned when voting concludes without any
	// bucket reaching the threshold.
	ErrQuorumNotAchieved = errors.New("quorum not achieved", errors.CategoryConflict).
				WithTextCode(CodeQuorumNotAchieved)

	// ErrQuorumImpossible is returned when aborts exceed the tolerance.
	ErrQuorumImpossible = errors.New("quorum impossible to achieve", errors.CategoryConflict).
				WithTextCode(CodeQuorumImpossible)

	// ErrTimeout is the cause used when a task's timer fires and its
	// Behavior does not handle the Timeout sentinel.
	ErrTimeout = errors.New("task timed out", errors.CategoryExternal).
			WithTextCode(CodeTaskTimeout)

	// ErrCyclicDependency is returned at construction when the task
	// dependency graph is not acyclic.
	ErrCyclicDependency = errors.New("task dependency graph has a cycle", errors.CategoryBadInput).
				WithTextCode(CodeCyclicDependency)
)
