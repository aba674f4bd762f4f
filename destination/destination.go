// Package destination provides a minimal in-process message destination:
// something a Task can send a request to and later reply through, useful
// for tests and the demo binary without standing up a real network peer.
package destination

import (
	"context"
	"sync"

	"github.com/kortschak/orkestra/orchestrator"
)

// Reactor decides how a destination responds to an incoming request. It
// runs synchronously on the goroutine that calls Registry.Send; a slow
// Reactor delays that call's return but never blocks any orchestrator's
// actor goroutine, since the registry is meant to be used as a
// delivery.Sender running in its own goroutine.
type Reactor func(deliveryID int64, message any) (reply any, drop bool)

// Addressed is implemented by request messages carrying enough
// information for a reply to find its way back to the right orchestrator
// instance: which orchestrator sent it (since a message may be answered
// long after the sending call returns, possibly by a different process)
// and which correlation ID it was sent under. Messages this module builds
// for tasks and quorum voters implement it; a Registry drops a message
// that does not, without running the Reactor or reporting a reply.
type Addressed interface {
	OrchestratorID() string
	CorrelationID() int64
}

// ReplyFunc reports a decoded reply back to the orchestrator instance
// named by orchestratorID. orchestrator.Directory.HandleReply implements
// this signature directly.
type ReplyFunc func(ctx context.Context, orchestratorID string, deliveryID, correlationID int64, sender orchestrator.Path, reply any) error

// Registry is an in-memory switchboard of named destinations, each with
// its own Reactor. It implements delivery.Sender.
type Registry struct {
	mu       sync.Mutex
	reactors map[orchestrator.Path]Reactor
	replyTo  ReplyFunc
	seenC    map[orchestrator.Path]map[int64]struct{} // per-destination dedup, mirroring "destinations must tolerate duplicates"
}

// NewRegistry builds a Registry that reports replies through replyTo,
// normally an *orchestrator.Directory's HandleReply method — the registry
// itself never holds a direct reference to any particular orchestrator,
// since messages may be addressed to whichever one happens to own the
// task at delivery time (including an inner orchestrator spawned by a
// quorum task, which the caller never otherwise sees).
func NewRegistry(replyTo ReplyFunc) *Registry {
	return &Registry{
		reactors: make(map[orchestrator.Path]Reactor),
		replyTo:  replyTo,
		seenC:    make(map[orchestrator.Path]map[int64]struct{}),
	}
}

// Register attaches a Reactor to a destination path.
func (r *Registry) Register(dest orchestrator.Path, reactor Reactor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reactors[dest] = reactor
}

// Send implements delivery.Sender: it looks up the destination's Reactor
// and, unless the reactor drops the message (simulating an unresponsive
// destination), reports the reply back on the same goroutine.
func (r *Registry) Send(ctx context.Context, dest orchestrator.Path, deliveryID int64, message any) error {
	r.mu.Lock()
	reactor := r.reactors[dest]
	r.mu.Unlock()
	if reactor == nil {
		return nil // no destination registered: treated as silently unreachable
	}

	addr, ok := message.(Addressed)
	if !ok {
		return nil // message carries no return address; nothing this registry can do
	}
	correlationID := addr.CorrelationID()

	r.mu.Lock()
	seen := r.seenC[dest]
	if seen == nil {
		seen = make(map[int64]struct{})
		r.seenC[dest] = seen
	}
	_, dup := seen[correlationID]
	seen[correlationID] = struct{}{}
	r.mu.Unlock()
	if dup {
		return nil // at-least-once redelivery of a request we already answered
	}

	reply, drop := reactor(deliveryID, message)
	if drop {
		return nil
	}
	return r.replyTo(ctx, addr.OrchestratorID(), deliveryID, correlationID, dest, reply)
}
