// Package delivery implements the at-least-once delivery primitive the
// orchestrator engine treats as an external collaborator: deliver(dest,
// factory) hands a message to a destination and keeps redelivering it on
// a backoff schedule until confirm(id) is called.
//
// Grounded on the teacher's backend/client.go exponential-backoff polling
// loop and backend/workitem.go's per-item lock/abandon bookkeeping,
// adapted from "poll a shared work-item queue" to "push to a named
// destination and retry until acked".
package delivery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/marusama/semaphore/v2"

	"github.com/kortschak/orkestra/orchestrator"
)

// Sender is how the delivery primitive actually gets a message to a
// destination. Implementations are expected to tolerate duplicates: the
// primitive redelivers until Confirm is called, and a destination may
// legitimately see the same delivery ID more than once.
type Sender interface {
	Send(ctx context.Context, dest orchestrator.Path, deliveryID int64, message any) error
}

// SenderFunc adapts a plain function to a Sender.
type SenderFunc func(ctx context.Context, dest orchestrator.Path, deliveryID int64, message any) error

func (f SenderFunc) Send(ctx context.Context, dest orchestrator.Path, deliveryID int64, message any) error {
	return f(ctx, dest, deliveryID, message)
}

// Option configures a Primitive.
type Option func(*Primitive)

// WithMaxConcurrentRedeliveries bounds how many Sender.Send calls the
// primitive runs at once (first sends and redeliveries alike), independent
// of how many deliveries are outstanding. Grounded on the teacher's work-item concurrency guard,
// reimplemented with a real semaphore instead of a fixed worker pool.
func WithMaxConcurrentRedeliveries(n int) Option {
	return func(p *Primitive) { p.sem = semaphore.New(n) }
}

// WithBackoff overrides the redelivery backoff policy. The default is an
// exponential backoff capped at 30s, matching the retry envelope the
// teacher's client uses when polling for orchestration completion.
func WithBackoff(newBackOff func() backoff.BackOff) Option {
	return func(p *Primitive) { p.newBackOff = newBackOff }
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0 // retry forever; only Confirm or context cancellation stops it
	return b
}

// Primitive is a concrete at-least-once DeliveryPrimitive backed by a
// Sender. Delivery IDs come from a monotonic counter kept by each
// Primitive, starting at 1; a new Primitive starts counting from 1 again.
type Primitive struct {
	sender     Sender
	newBackOff func() backoff.BackOff
	sem        semaphore.Semaphore

	mu       sync.Mutex
	seq      int64
	inFlight map[int64]*delivery
}

type delivery struct {
	dest    orchestrator.Path
	message any
	cancel  context.CancelFunc
}

// New builds a delivery Primitive that sends through sender.
func New(sender Sender, opts ...Option) *Primitive {
	p := &Primitive{
		sender:     sender,
		newBackOff: defaultBackOff,
		sem:        semaphore.New(64),
		inFlight:   make(map[int64]*delivery),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Deliver implements orchestrator.DeliveryPrimitive.
func (p *Primitive) Deliver(ctx context.Context, dest orchestrator.Path, factory func(deliveryID int64) any) (int64, error) {
	p.mu.Lock()
	p.seq++
	deliveryID := p.seq
	p.mu.Unlock()

	message := factory(deliveryID)

	redeliverCtx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	p.inFlight[deliveryID] = &delivery{dest: dest, message: message, cancel: cancel}
	p.mu.Unlock()

	if err := p.send(ctx, dest, deliveryID, message); err != nil {
		// First attempt failed synchronously; still hand back the ID and
		// let the background redelivery loop keep trying, matching the
		// "redelivers on its own schedule" contract even for a rocky
		// first send (e.g. destination briefly unavailable at startup).
	}
	go p.redeliverLoop(redeliverCtx, deliveryID)

	return deliveryID, nil
}

// Confirm implements orchestrator.DeliveryPrimitive.
func (p *Primitive) Confirm(ctx context.Context, deliveryID int64) error {
	p.mu.Lock()
	d, ok := p.inFlight[deliveryID]
	delete(p.inFlight, deliveryID)
	p.mu.Unlock()
	if ok {
		d.cancel()
	}
	return nil
}

func (p *Primitive) send(ctx context.Context, dest orchestrator.Path, deliveryID int64, message any) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("delivery %d: acquire send slot: %w", deliveryID, err)
	}
	defer p.sem.Release(1)
	return p.sender.Send(ctx, dest, deliveryID, message)
}

// redeliverLoop resends the message on a backoff schedule until Confirm
// removes it from inFlight or its context is cancelled (by Confirm).
func (p *Primitive) redeliverLoop(ctx context.Context, deliveryID int64) {
	b := backoff.WithContext(p.newBackOff(), ctx)
	for {
		next := b.NextBackOff()
		if next == backoff.Stop {
			return
		}
		t := time.NewTimer(next)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}

		p.mu.Lock()
		d, ok := p.inFlight[deliveryID]
		p.mu.Unlock()
		if !ok {
			return
		}
		if err := p.send(ctx, d.dest, deliveryID, d.message); err != nil {
			continue
		}
	}
}

// NewDeliveryID is exposed for callers (e.g. tests, or a Sender wanting a
// human-legible correlation tag distinct from the numeric delivery ID) who
// need a globally unique string alongside the numeric ID this primitive
// hands the orchestrator.
func NewDeliveryID() string { return uuid.NewString() }
