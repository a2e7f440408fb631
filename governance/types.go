package governance

import (
	"fmt"
	"time"
)

// GroupState is the coordinator-reported state of a consumer group.
type GroupState string

const (
	GroupStateStable      GroupState = "Stable"
	GroupStateRebalancing GroupState = "Rebalancing"
	GroupStateEmpty       GroupState = "Empty"
	GroupStateDead        GroupState = "Dead"
)

// ParseGroupState maps the states reported by the group coordinator onto the four states
// this engine reasons about. Kafka reports rebalances in two phases which we don't need
// to distinguish.
func ParseGroupState(s string) GroupState {
	switch s {
	case "Stable":
		return GroupStateStable
	case "PreparingRebalance", "CompletingRebalance", "Rebalancing":
		return GroupStateRebalancing
	case "Empty":
		return GroupStateEmpty
	case "Dead":
		return GroupStateDead
	default:
		return GroupStateEmpty
	}
}

// Assignor is the partition assignment strategy a consumer group negotiated.
type Assignor string

const (
	AssignorRange             Assignor = "range"
	AssignorRoundRobin        Assignor = "roundrobin"
	AssignorSticky            Assignor = "sticky"
	AssignorCooperativeSticky Assignor = "cooperative-sticky"
	AssignorUnknown           Assignor = "unknown"
)

// assignorsByProtocol maps the protocol names consumers announce during the group handshake
// to their assignor. Unrecognized protocol names map to AssignorUnknown rather than being
// guessed from substrings.
var assignorsByProtocol = map[string]Assignor{
	"range":              AssignorRange,
	"roundrobin":         AssignorRoundRobin,
	"sticky":             AssignorSticky,
	"cooperative-sticky": AssignorCooperativeSticky,
}

// ParseAssignor returns the assignor for a negotiated group protocol name.
func ParseAssignor(protocol string) Assignor {
	if assignor, exists := assignorsByProtocol[protocol]; exists {
		return assignor
	}
	return AssignorUnknown
}

// TopicPartition identifies a single partition of a topic.
type TopicPartition struct {
	Topic     string `json:"topic"`
	Partition int32  `json:"partition"`
}

func (tp TopicPartition) String() string {
	return fmt.Sprintf("%v-%v", tp.Topic, tp.Partition)
}

// ConsumerGroupSnapshot is the group-level view captured at a single point in time.
// Snapshots are unique per (cluster, group, ts).
type ConsumerGroupSnapshot struct {
	ClusterID   string     `json:"clusterId"`
	GroupID     string     `json:"groupId"`
	Ts          time.Time  `json:"ts"`
	State       GroupState `json:"state"`
	Assignor    *Assignor  `json:"assignor,omitempty"`
	MemberCount int        `json:"memberCount"`
	TopicCount  int        `json:"topicCount"`
	LagStats    LagStats   `json:"lagStats"`
}

// ConsumerMemberSnapshot is one group member captured at a single point in time.
type ConsumerMemberSnapshot struct {
	ClusterID              string    `json:"clusterId"`
	GroupID                string    `json:"groupId"`
	MemberID               string    `json:"memberId"`
	Ts                     time.Time `json:"ts"`
	ClientID               string    `json:"clientId"`
	ClientHost             string    `json:"clientHost"`
	AssignedPartitionCount int       `json:"assignedPartitionCount"`
}

// ConsumerPartitionSnapshot is one assigned partition captured at a single point in time.
// Offsets are nil when the broker reported no committed offset (or the log end offset
// could not be fetched). Lag is nil unless both offsets are known and is never negative.
type ConsumerPartitionSnapshot struct {
	ClusterID        string    `json:"clusterId"`
	GroupID          string    `json:"groupId"`
	Topic            string    `json:"topic"`
	Partition        int32     `json:"partition"`
	Ts               time.Time `json:"ts"`
	CommittedOffset  *int64    `json:"committedOffset,omitempty"`
	LatestOffset     *int64    `json:"latestOffset,omitempty"`
	Lag              *int64    `json:"lag,omitempty"`
	AssignedMemberID *string   `json:"assignedMemberId,omitempty"`
}

func (s ConsumerPartitionSnapshot) topicPartition() TopicPartition {
	return TopicPartition{Topic: s.Topic, Partition: s.Partition}
}

// StuckPartition describes a partition whose consumer stopped committing progress while
// lag kept growing, sustained for at least the configured minimum duration.
type StuckPartition struct {
	ClusterID        string        `json:"clusterId"`
	GroupID          string        `json:"groupId"`
	Topic            string        `json:"topic"`
	Partition        int32         `json:"partition"`
	AssignedMemberID *string       `json:"assignedMemberId,omitempty"`
	SinceTs          time.Time     `json:"sinceTs"`
	DetectedTs       time.Time     `json:"detectedTs"`
	CurrentLag       int64         `json:"currentLag"`
	DeltaCommitted   int64         `json:"deltaCommitted"`
	DeltaLag         int64         `json:"deltaLag"`
	Epsilon          int64         `json:"epsilon"`
	Theta            int64         `json:"theta"`
	MinDuration      time.Duration `json:"minDuration"`
}

// RebalanceDelta records a single observed assignment change of a consumer group.
type RebalanceDelta struct {
	ClusterID        string     `json:"clusterId"`
	GroupID          string     `json:"groupId"`
	Ts               time.Time  `json:"ts"`
	MovedPartitions  int        `json:"movedPartitions"`
	JoinCount        int        `json:"joinCount"`
	LeaveCount       int        `json:"leaveCount"`
	ElapsedSincePrev float64    `json:"elapsedSincePrevSeconds"`
	State            GroupState `json:"state"`
	AssignmentHash   uint64     `json:"assignmentHash"`
}

// RollupWindow is the aggregation window of a RebalanceRollup.
type RollupWindow string

const (
	RollupWindow5m RollupWindow = "5m"
	RollupWindow1h RollupWindow = "1h"
)

// Duration returns the window length.
func (w RollupWindow) Duration() time.Duration {
	if w == RollupWindow5m {
		return 5 * time.Minute
	}
	return time.Hour
}

// RebalanceRollup aggregates the rebalance deltas of one group over a fixed window.
// A rollup is immutable once computed.
type RebalanceRollup struct {
	ClusterID          string       `json:"clusterId"`
	GroupID            string       `json:"groupId"`
	WindowStart        time.Time    `json:"windowStart"`
	Window             RollupWindow `json:"window"`
	Rebalances         int          `json:"rebalances"`
	AvgMovedPartitions float64      `json:"avgMovedPartitions"`
	MaxMovedPartitions int          `json:"maxMovedPartitions"`
	StableRatio        float64      `json:"stableRatio"`
}

// ScaleAction is the scaling direction the advisor recommends.
type ScaleAction string

const (
	ScaleActionNone              ScaleAction = "none"
	ScaleActionIncreaseConsumers ScaleAction = "increase_consumers"
	ScaleActionAddPartitions     ScaleAction = "add_partitions"
)

// ConsumerGroupAdvice is the advisor's combined recommendation for one group.
// It is a pure value object recomputed on demand.
type ConsumerGroupAdvice struct {
	ClusterID string    `json:"clusterId"`
	GroupID   string    `json:"groupId"`
	Ts        time.Time `json:"ts"`

	AssignorRecommendation *Assignor `json:"assignorRecommendation,omitempty"`
	AssignorReason         string    `json:"assignorReason,omitempty"`

	StaticMembershipRecommended bool   `json:"staticMembershipRecommended"`
	StaticMembershipReason      string `json:"staticMembershipReason,omitempty"`

	ScaleRecommendation ScaleAction `json:"scaleRecommendation"`
	ScaleReason         string      `json:"scaleReason,omitempty"`

	SLOComplianceRate float64    `json:"sloComplianceRate"`
	RiskETA           *time.Time `json:"riskEta,omitempty"`
}
