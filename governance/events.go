package governance

import (
	"time"

	"github.com/google/uuid"
)

// EventVersion is the envelope version stamped onto every event.
const EventVersion = "v1"

type EventType string

const (
	EventTypeStateChanged      EventType = "state_changed"
	EventTypeLagSpike          EventType = "lag_spike"
	EventTypeAssignmentChanged EventType = "assignment_changed"
	EventTypeStuckDetected     EventType = "stuck_detected"
	EventTypeFairnessWarn      EventType = "fairness_warn"
	EventTypeAdvisor           EventType = "advisor"
	EventTypeSystemHealth      EventType = "system_health"
)

// Envelope is the common header every event shares. Each event gets a unique trace id
// so duplicates can be told apart downstream.
type Envelope struct {
	Type      EventType `json:"type"`
	Version   string    `json:"version"`
	Ts        time.Time `json:"ts"`
	TraceID   string    `json:"traceId"`
	ClusterID string    `json:"clusterId"`
	GroupID   string    `json:"groupId,omitempty"`
}

// Meta returns the envelope; every event type implements Event through its embedded
// envelope.
func (e Envelope) Meta() Envelope { return e }

// Event is one element of the governance event stream. Concrete event types embed
// Envelope and add their type specific fields, giving transports a closed set of
// compile-time checked shapes instead of untyped maps.
type Event interface {
	Meta() Envelope
}

func newEnvelope(eventType EventType, clusterID, groupID string, ts time.Time) Envelope {
	return Envelope{
		Type:      eventType,
		Version:   EventVersion,
		Ts:        ts.UTC(),
		TraceID:   uuid.NewString(),
		ClusterID: clusterID,
		GroupID:   groupID,
	}
}

// StateChangeReason is the best-effort cause inferred for a group state transition.
type StateChangeReason string

const (
	StateChangeReasonMemberJoin     StateChangeReason = "member_join"
	StateChangeReasonMemberLeave    StateChangeReason = "member_leave"
	StateChangeReasonAssignorChange StateChangeReason = "assignor_change"
	StateChangeReasonUnknown        StateChangeReason = "unknown"
)

type StateChangedEvent struct {
	Envelope
	OldState GroupState        `json:"oldState"`
	NewState GroupState        `json:"newState"`
	Reason   StateChangeReason `json:"reason"`
}

type LagSpikeEvent struct {
	Envelope
	PreviousTotalLag int64 `json:"previousTotalLag"`
	CurrentTotalLag  int64 `json:"currentTotalLag"`
	DeltaLag         int64 `json:"deltaLag"`
	Threshold        int64 `json:"threshold"`
}

type AssignmentChangedEvent struct {
	Envelope
	Delta RebalanceDelta `json:"delta"`
}

type StuckDetectedEvent struct {
	Envelope
	Stuck StuckPartition `json:"stuck"`
}

type FairnessWarnEvent struct {
	Envelope
	Fairness  FairnessIndex `json:"fairness"`
	Threshold float64       `json:"threshold"`
}

type AdvisorEvent struct {
	Envelope
	Advice ConsumerGroupAdvice `json:"advice"`
}

type SystemHealthEvent struct {
	Envelope
	BrokerReachable  bool `json:"brokerReachable"`
	CollectorHealthy bool `json:"collectorHealthy"`
	PolledGroups     int  `json:"polledGroups"`
	FailedGroups     int  `json:"failedGroups"`
}
