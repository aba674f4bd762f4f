package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kortschak/orkestra/orchestrator"
	"github.com/kortschak/orkestra/persistence/memory"
)

func Test_LoadOnUnknownOrchestratorReturnsEmpty(t *testing.T) {
	s := memory.New()
	snapshot, seq, events, err := s.Load(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, snapshot)
	assert.Zero(t, seq)
	assert.Empty(t, events)
}

func Test_AppendEnforcesSequentialOrder(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, "run", 1, orchestrator.Event{Kind: orchestrator.EventStartOrchestrator}))
	require.NoError(t, s.Append(ctx, "run", 2, orchestrator.Event{Kind: orchestrator.EventMessageSent, TaskIndex: 0}))

	err := s.Append(ctx, "run", 4, orchestrator.Event{Kind: orchestrator.EventMessageSent, TaskIndex: 1})
	assert.Error(t, err)

	_, _, events, err := s.Load(ctx, "run")
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func Test_SaveSnapshotCompactsPriorEvents(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, "run", 1, orchestrator.Event{Kind: orchestrator.EventStartOrchestrator}))
	require.NoError(t, s.Append(ctx, "run", 2, orchestrator.Event{Kind: orchestrator.EventMessageSent, TaskIndex: 0}))
	require.NoError(t, s.Append(ctx, "run", 3, orchestrator.Event{Kind: orchestrator.EventMessageReceived, TaskIndex: 0}))

	require.NoError(t, s.SaveSnapshot(ctx, "run", 3, []byte(`{"tasks":[]}`)))

	snapshot, seq, events, err := s.Load(ctx, "run")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"tasks":[]}`), snapshot)
	assert.EqualValues(t, 3, seq)
	assert.Empty(t, events)

	// New events append relative to the snapshot's sequence, not from zero.
	require.NoError(t, s.Append(ctx, "run", 4, orchestrator.Event{Kind: orchestrator.EventMessageSent, TaskIndex: 1}))
	_, _, events, err = s.Load(ctx, "run")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func Test_DistinctOrchestratorsDoNotShareState(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, "run-a", 1, orchestrator.Event{Kind: orchestrator.EventStartOrchestrator}))
	require.NoError(t, s.Append(ctx, "run-b", 1, orchestrator.Event{Kind: orchestrator.EventStartOrchestrator}))
	require.NoError(t, s.Append(ctx, "run-b", 2, orchestrator.Event{Kind: orchestrator.EventMessageSent}))

	_, _, eventsA, err := s.Load(ctx, "run-a")
	require.NoError(t, err)
	_, _, eventsB, err := s.Load(ctx, "run-b")
	require.NoError(t, err)
	assert.Len(t, eventsA, 1)
	assert.Len(t, eventsB, 2)
}
