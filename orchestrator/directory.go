package orchestrator

import (
	"context"
	"fmt"
	"sync"
)

// Directory is a goroutine-safe lookup of running orchestrators by ID.
// Grounded on the routing table backend/worker.go keeps from instance ID
// to in-flight work: a real Sender (an HTTP handler, a message-queue
// consumer) rarely holds a direct *Orchestrator reference, only the ID a
// reply is addressed to, so it needs a directory to resolve one to the
// other. A quorum composite task's inner orchestrator, in particular, is
// never handed to the caller directly — Config.OnInnerOrchestrator is the
// hook that registers it here.
type Directory struct {
	mu   sync.RWMutex
	byID map[string]*Orchestrator
}

// NewDirectory returns an empty Directory.
func NewDirectory() *Directory {
	return &Directory{byID: make(map[string]*Orchestrator)}
}

// Register makes o reachable by its ID.
func (d *Directory) Register(o *Orchestrator) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byID[o.ID()] = o
}

// Unregister removes an orchestrator, typically once it has shut down.
func (d *Directory) Unregister(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.byID, id)
}

// Get returns the orchestrator registered under id, if any.
func (d *Directory) Get(id string) (*Orchestrator, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	o, ok := d.byID[id]
	return o, ok
}

// HandleReply resolves orchestratorID and forwards the reply to it. It is
// meant to be used directly as the callback a Sender invokes once it has
// a reply in hand.
func (d *Directory) HandleReply(ctx context.Context, orchestratorID string, deliveryID, correlationID int64, sender Path, reply any) error {
	o, ok := d.Get(orchestratorID)
	if !ok {
		return fmt.Errorf("directory: no orchestrator registered for %q", orchestratorID)
	}
	return o.HandleReply(ctx, deliveryID, correlationID, sender, reply)
}
