package destination_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kortschak/orkestra/destination"
	"github.com/kortschak/orkestra/orchestrator"
)

type addressedMessage struct {
	orchestratorID string
	correlationID  int64
}

func (m addressedMessage) OrchestratorID() string { return m.orchestratorID }
func (m addressedMessage) CorrelationID() int64   { return m.correlationID }

type reply struct {
	orchestratorID string
	deliveryID     int64
	correlationID  int64
	sender         orchestrator.Path
	value          any
}

func Test_SendRoutesReplyThroughReplyFunc(t *testing.T) {
	var got []reply
	registry := destination.NewRegistry(func(ctx context.Context, orchestratorID string, deliveryID, correlationID int64, sender orchestrator.Path, value any) error {
		got = append(got, reply{orchestratorID, deliveryID, correlationID, sender, value})
		return nil
	})
	registry.Register("svc", func(deliveryID int64, message any) (any, bool) {
		return "pong", false
	})

	msg := addressedMessage{orchestratorID: "run-1", correlationID: 7}
	require.NoError(t, registry.Send(context.Background(), "svc", 1, msg))

	require.Len(t, got, 1)
	assert.Equal(t, "run-1", got[0].orchestratorID)
	assert.EqualValues(t, 7, got[0].correlationID)
	assert.Equal(t, orchestrator.Path("svc"), got[0].sender)
	assert.Equal(t, "pong", got[0].value)
}

func Test_SendToUnregisteredDestinationIsNoOp(t *testing.T) {
	called := false
	registry := destination.NewRegistry(func(ctx context.Context, orchestratorID string, deliveryID, correlationID int64, sender orchestrator.Path, value any) error {
		called = true
		return nil
	})

	err := registry.Send(context.Background(), "nowhere", 1, addressedMessage{orchestratorID: "run-1", correlationID: 1})
	assert.NoError(t, err)
	assert.False(t, called)
}

func Test_SendIgnoresUnaddressedMessages(t *testing.T) {
	called := false
	registry := destination.NewRegistry(func(ctx context.Context, orchestratorID string, deliveryID, correlationID int64, sender orchestrator.Path, value any) error {
		called = true
		return nil
	})
	registry.Register("svc", func(deliveryID int64, message any) (any, bool) {
		return "pong", false
	})

	err := registry.Send(context.Background(), "svc", 1, "not addressed")
	assert.NoError(t, err)
	assert.False(t, called)
}

func Test_SendDedupsRepeatedCorrelationID(t *testing.T) {
	var replies int
	registry := destination.NewRegistry(func(ctx context.Context, orchestratorID string, deliveryID, correlationID int64, sender orchestrator.Path, value any) error {
		replies++
		return nil
	})
	var reactorCalls int
	registry.Register("svc", func(deliveryID int64, message any) (any, bool) {
		reactorCalls++
		return "pong", false
	})

	msg := addressedMessage{orchestratorID: "run-1", correlationID: 42}
	require.NoError(t, registry.Send(context.Background(), "svc", 1, msg))
	require.NoError(t, registry.Send(context.Background(), "svc", 2, msg)) // redelivery of the same request

	assert.Equal(t, 1, reactorCalls, "duplicate correlation ID must not re-run the reactor")
	assert.Equal(t, 1, replies)
}

func Test_SendHonorsDroppedReply(t *testing.T) {
	called := false
	registry := destination.NewRegistry(func(ctx context.Context, orchestratorID string, deliveryID, correlationID int64, sender orchestrator.Path, value any) error {
		called = true
		return nil
	})
	registry.Register("svc", func(deliveryID int64, message any) (any, bool) {
		return nil, true // simulate an unresponsive destination
	})

	err := registry.Send(context.Background(), "svc", 1, addressedMessage{orchestratorID: "run-1", correlationID: 1})
	assert.NoError(t, err)
	assert.False(t, called)
}
