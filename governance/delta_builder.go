package governance

import (
	"time"

	cmap "github.com/orcaman/concurrent-map"
	"go.uber.org/zap"
)

// previousGroupState is the one record the builder keeps per group between polls. It is
// overwritten after every diff, whether or not an event fired.
type previousGroupState struct {
	State       GroupState
	MemberCount int
	TotalLag    int64
	P95Lag      float64
	MaxLag      int64
	Assignor    *Assignor
	Ts          time.Time
}

// DeltaBuilder diffs consecutive group snapshots into discrete events. The previous
// state cache is keyed by (cluster, group) in a concurrent map; the per-shard locking of
// Upsert makes each diff an atomic read-modify-write, so pollers of different groups
// never interfere. Two snapshots of the same group must still be applied in ts order by
// the caller.
type DeltaBuilder struct {
	cfg    EventsConfig
	logger *zap.Logger
	prev   cmap.ConcurrentMap
}

func NewDeltaBuilder(cfg EventsConfig, logger *zap.Logger) *DeltaBuilder {
	return &DeltaBuilder{
		cfg:    cfg,
		logger: logger.Named("delta_builder"),
		prev:   cmap.New(),
	}
}

func groupStateKey(clusterID, groupID string) string {
	return clusterID + "/" + groupID
}

// PreviousP95 returns the cached previous p95 lag sample for a group, nil if the group
// has not been observed yet. Callers that need the pre-diff value must read it before
// calling CalculateDelta.
func (b *DeltaBuilder) PreviousP95(clusterID, groupID string) *LagSample {
	value, exists := b.prev.Get(groupStateKey(clusterID, groupID))
	if !exists {
		return nil
	}
	prev := value.(previousGroupState)
	return &LagSample{Lag: prev.P95Lag, Ts: prev.Ts}
}

// CalculateDelta diffs a new group snapshot against the cached previous state and
// returns the events the transition produced. The first snapshot of a group only seeds
// the cache and never emits (cold start). The cache is replaced with the new snapshot's
// state in every case.
func (b *DeltaBuilder) CalculateDelta(snapshot ConsumerGroupSnapshot) []Event {
	next := previousGroupState{
		State:       snapshot.State,
		MemberCount: snapshot.MemberCount,
		TotalLag:    snapshot.LagStats.TotalLag,
		P95Lag:      snapshot.LagStats.P95Lag,
		MaxLag:      snapshot.LagStats.MaxLag,
		Assignor:    snapshot.Assignor,
		Ts:          snapshot.Ts,
	}

	var events []Event
	b.prev.Upsert(groupStateKey(snapshot.ClusterID, snapshot.GroupID), next, func(exists bool, valueInMap, newValue interface{}) interface{} {
		if !exists {
			return newValue
		}
		prev := valueInMap.(previousGroupState)

		if prev.State != snapshot.State {
			event := StateChangedEvent{
				Envelope: newEnvelope(EventTypeStateChanged, snapshot.ClusterID, snapshot.GroupID, snapshot.Ts),
				OldState: prev.State,
				NewState: snapshot.State,
				Reason:   inferStateChangeReason(prev, snapshot),
			}
			events = append(events, event)
		}

		deltaLag := snapshot.LagStats.TotalLag - prev.TotalLag
		if deltaLag >= b.cfg.LagSpikeDelta {
			event := LagSpikeEvent{
				Envelope:         newEnvelope(EventTypeLagSpike, snapshot.ClusterID, snapshot.GroupID, snapshot.Ts),
				PreviousTotalLag: prev.TotalLag,
				CurrentTotalLag:  snapshot.LagStats.TotalLag,
				DeltaLag:         deltaLag,
				Threshold:        b.cfg.LagSpikeDelta,
			}
			events = append(events, event)
		}

		return newValue
	})

	if len(events) > 0 {
		b.logger.Debug("group diff produced events",
			zap.String("group_id", snapshot.GroupID),
			zap.Int("event_count", len(events)))
	}

	return events
}

// inferStateChangeReason guesses why a group changed state from the member count and
// assignor deltas. Best effort only.
func inferStateChangeReason(prev previousGroupState, curr ConsumerGroupSnapshot) StateChangeReason {
	switch {
	case curr.MemberCount > prev.MemberCount:
		return StateChangeReasonMemberJoin
	case curr.MemberCount < prev.MemberCount:
		return StateChangeReasonMemberLeave
	case !assignorsEqual(prev.Assignor, curr.Assignor):
		return StateChangeReasonAssignorChange
	default:
		return StateChangeReasonUnknown
	}
}

func assignorsEqual(a, b *Assignor) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// BuildAssignmentChangedEvent wraps a rebalance delta into an event record.
func (b *DeltaBuilder) BuildAssignmentChangedEvent(delta RebalanceDelta) Event {
	return AssignmentChangedEvent{
		Envelope: newEnvelope(EventTypeAssignmentChanged, delta.ClusterID, delta.GroupID, delta.Ts),
		Delta:    delta,
	}
}

// BuildStuckEvent wraps a confirmed stuck partition into an event record.
func (b *DeltaBuilder) BuildStuckEvent(stuck StuckPartition) Event {
	return StuckDetectedEvent{
		Envelope: newEnvelope(EventTypeStuckDetected, stuck.ClusterID, stuck.GroupID, stuck.DetectedTs),
		Stuck:    stuck,
	}
}

// BuildFairnessWarnEvent wraps a fairness index that crossed the warn threshold.
func (b *DeltaBuilder) BuildFairnessWarnEvent(clusterID, groupID string, ts time.Time, fairness FairnessIndex, threshold float64) Event {
	return FairnessWarnEvent{
		Envelope:  newEnvelope(EventTypeFairnessWarn, clusterID, groupID, ts),
		Fairness:  fairness,
		Threshold: threshold,
	}
}

// BuildAdvisorEvent wraps the advisor's batched recommendations for one group.
func (b *DeltaBuilder) BuildAdvisorEvent(advice ConsumerGroupAdvice) Event {
	return AdvisorEvent{
		Envelope: newEnvelope(EventTypeAdvisor, advice.ClusterID, advice.GroupID, advice.Ts),
		Advice:   advice,
	}
}

// BuildSystemHealthEvent reports collector and broker liveness after a poll cycle.
func (b *DeltaBuilder) BuildSystemHealthEvent(clusterID string, ts time.Time, brokerReachable, collectorHealthy bool, polledGroups, failedGroups int) Event {
	return SystemHealthEvent{
		Envelope:         newEnvelope(EventTypeSystemHealth, clusterID, "", ts),
		BrokerReachable:  brokerReachable,
		CollectorHealthy: collectorHealthy,
		PolledGroups:     polledGroups,
		FailedGroups:     failedGroups,
	}
}
