package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_SharedIDsRoundTrip(t *testing.T) {
	ids := newIDAllocator(SharedIDs)
	c := ids.deliveryToCorrelation("svc", 42)
	assert.EqualValues(t, 42, c)

	d, ok := ids.correlationToDelivery("svc", 42)
	assert.True(t, ok)
	assert.EqualValues(t, 42, d)
}

func Test_DistinctIDsAllocateMonotonically(t *testing.T) {
	ids := newIDAllocator(DistinctIDs)

	c1 := ids.deliveryToCorrelation("svc", 100)
	c2 := ids.deliveryToCorrelation("svc", 200)
	assert.EqualValues(t, 0, c1)
	assert.EqualValues(t, 1, c2)

	d1, ok := ids.correlationToDelivery("svc", c1)
	assert.True(t, ok)
	assert.EqualValues(t, 100, d1)

	// A different destination gets its own independent sequence.
	c3 := ids.deliveryToCorrelation("other", 5)
	assert.EqualValues(t, 0, c3)
}

func Test_RestoreCorrelationPreservesMonotonicity(t *testing.T) {
	ids := newIDAllocator(DistinctIDs)
	ids.restoreCorrelation("svc", 7, 700)

	d, ok := ids.correlationToDelivery("svc", 7)
	assert.True(t, ok)
	assert.EqualValues(t, 700, d)

	// The next freshly-allocated correlation ID must not collide with the
	// restored one, preserving I5 (strictly increasing, no gaps) across a
	// simulated crash/restart.
	next := ids.deliveryToCorrelation("svc", 900)
	assert.EqualValues(t, 8, next)
}

func Test_MatchIDRejectsWrongTaskState(t *testing.T) {
	ids := newIDAllocator(SharedIDs)
	task := NewTask(0, "t", "svc", nil, NoTimeout, nil, nil)

	assert.False(t, matchID(task, ids, 1, "svc", false))

	task.markWaiting(1, 1)
	assert.True(t, matchID(task, ids, 1, "svc", false))
	assert.False(t, matchID(task, ids, 2, "svc", false))
	assert.False(t, matchID(task, ids, 1, "other-svc", false))
}
