package orchestrator

import "context"

// Store is the persistence layer this engine consumes (spec §6,
// "Persistence layer interface"). It is treated as an external
// collaborator: only its interface matters to the engine. Concrete
// implementations live in the sibling persistence/ packages.
type Store interface {
	// Append persists the next event for the named orchestrator at the
	// given sequence number. Sequence numbers start at 1 and increase by
	// exactly 1 per call for a given orchestrator ID.
	Append(ctx context.Context, orchestratorID string, seq uint64, event Event) error

	// SaveSnapshot persists an opaque snapshot of orchestrator state,
	// superseding replay of events up to and including snapshotSeq.
	SaveSnapshot(ctx context.Context, orchestratorID string, snapshotSeq uint64, snapshot []byte) error

	// Load returns the most recent snapshot (nil if none), the sequence
	// number it was taken at, and every event persisted after it, in
	// order.
	Load(ctx context.Context, orchestratorID string) (snapshot []byte, snapshotSeq uint64, events []Event, err error)
}

// DeliveryPrimitive is the at-least-once delivery layer this engine
// consumes (spec §6, "Delivery primitive interface"). A concrete
// implementation lives in the sibling delivery/ package.
type DeliveryPrimitive interface {
	// Deliver allocates a new delivery ID and sends the message the
	// factory builds from it, redelivering on its own schedule until
	// Confirm is called with the same ID.
	Deliver(ctx context.Context, dest Path, factory func(deliveryID int64) any) (deliveryID int64, err error)

	// Confirm stops redelivery of the given delivery.
	Confirm(ctx context.Context, deliveryID int64) error
}

// ReplayRebinder is an optional capability of a DeliveryPrimitive whose
// Deliver call does more than send a message — quorum's inner-orchestrator
// launcher is the case this exists for: Deliver on its virtual destination
// spawns and wires up a whole child Orchestrator, state that markWaiting
// alone cannot reconstruct on replay. If the primitive in use implements
// this, applyReplayEvent calls it while replaying every EventMessageSent,
// so recovery rebuilds whatever the original Deliver call actually did
// instead of leaving that task waiting on a delivery that never happened
// this time around. A primitive that only pushes a message to an
// out-of-scope external system has nothing to implement here: real
// redelivery of that message is that primitive's own concern.
type ReplayRebinder interface {
	RebindReplay(ctx context.Context, dest Path, deliveryID, correlationID int64) error
}
