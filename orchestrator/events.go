package orchestrator

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/types/known/timestamppb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// EventKind is the persisted event taxonomy (spec C6). The first four kinds
// are appended to the event log; EventSnapshotOffer is never appended, since
// snapshots go through Store.SaveSnapshot, and recovery replays a loaded
// snapshot as a synthesized EventSnapshotOffer.
type EventKind int

const (
	EventStartOrchestrator EventKind = iota
	EventMessageSent
	EventMessageReceived
	EventTaskTimedOut
	EventSnapshotOffer
)

func (k EventKind) String() string {
	switch k {
	case EventStartOrchestrator:
		return "StartOrchestrator"
	case EventMessageSent:
		return "MessageSent"
	case EventMessageReceived:
		return "MessageReceived"
	case EventTaskTimedOut:
		return "TaskTimedOut"
	case EventSnapshotOffer:
		return "SnapshotOffer"
	default:
		return "Unknown"
	}
}

// Event is one persisted decision. Only the fields relevant to Kind are
// populated; the rest are left at their zero value. Timestamp uses the
// well-known protobuf wrapper types the way the teacher's history events
// do, without requiring a generated protobuf service for this module.
type Event struct {
	Kind      EventKind
	Timestamp *timestamppb.Timestamp

	// EventStartOrchestrator
	StartID uint64

	// EventMessageSent
	TaskIndex     uint32
	DeliveryID    int64
	CorrelationID int64

	// EventMessageReceived
	Message   []byte
	IsTimeout bool

	// EventSnapshotOffer
	Snapshot *wrapperspb.BytesValue
}

// encodeReply serializes an arbitrary reply payload for persistence. Replay
// hands the decoded value back to the same Behavior, so behaviors must
// tolerate the JSON round trip (e.g. matching on decoded maps/strings
// rather than relying on concrete struct identity).
func encodeReply(payload any) ([]byte, error) {
	if payload == nil {
		return nil, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode reply: %w", err)
	}
	return b, nil
}

func decodeReply(data []byte) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	return v, nil
}
