package governance

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// StuckPartitionDetector flags partitions whose consumer stopped committing progress
// while lag keeps growing. It compares two adjacent partition snapshots, it is not a
// persistent state machine: the caller owns the map of first-seen timestamps and threads
// it across polls.
type StuckPartitionDetector struct {
	cfg    StuckConfig
	logger *zap.Logger
}

func NewStuckPartitionDetector(cfg StuckConfig, logger *zap.Logger) *StuckPartitionDetector {
	return &StuckPartitionDetector{cfg: cfg, logger: logger.Named("stuck_detector")}
}

// IsStuck evaluates the stuck predicate over two adjacent snapshots of the same
// partition: committed progress within epsilon while lag grew strictly beyond theta.
// Both offsets must be known on both sides, otherwise no judgement is possible.
func (d *StuckPartitionDetector) IsStuck(prev, curr ConsumerPartitionSnapshot) bool {
	if prev.CommittedOffset == nil || curr.CommittedOffset == nil || prev.Lag == nil || curr.Lag == nil {
		return false
	}
	deltaCommitted := *curr.CommittedOffset - *prev.CommittedOffset
	deltaLag := *curr.Lag - *prev.Lag
	return deltaCommitted <= d.cfg.Epsilon && deltaLag > d.cfg.Theta
}

// DetectStuckPartitions evaluates the predicate for every partition present in both
// snapshot sets and confirms a StuckPartition once the predicate has held continuously
// for at least the configured minimum duration.
//
// stuckSince is owned by the caller: a key enters the map the first time the predicate
// holds (keeping an existing timestamp if the key is already tracked, so repeated calls
// with identical inputs are idempotent) and is removed the moment the predicate no
// longer holds. A partition absent from either snapshot set counts as "no longer holds"
// too: an assignment gap must not let a stale timestamp confirm a later single drift.
func (d *StuckPartitionDetector) DetectStuckPartitions(prev, curr []ConsumerPartitionSnapshot, stuckSince map[string]time.Time) []StuckPartition {
	prevByPartition := make(map[TopicPartition]ConsumerPartitionSnapshot, len(prev))
	for _, p := range prev {
		prevByPartition[p.topicPartition()] = p
	}

	confirmed := make([]StuckPartition, 0)
	held := make(map[string]struct{})
	for _, currSnapshot := range curr {
		prevSnapshot, exists := prevByPartition[currSnapshot.topicPartition()]
		if !exists {
			continue
		}
		key := stuckKey(currSnapshot)

		if !d.IsStuck(prevSnapshot, currSnapshot) {
			continue
		}
		held[key] = struct{}{}

		since, tracked := stuckSince[key]
		if !tracked {
			since = currSnapshot.Ts
			stuckSince[key] = since
		}

		heldFor := currSnapshot.Ts.Sub(since)
		if heldFor < d.cfg.MinDuration {
			d.logger.Debug("partition drifting but not yet confirmed stuck",
				zap.String("group_id", currSnapshot.GroupID),
				zap.String("topic", currSnapshot.Topic),
				zap.Int32("partition", currSnapshot.Partition),
				zap.Duration("held_for", heldFor))
			continue
		}

		confirmed = append(confirmed, StuckPartition{
			ClusterID:        currSnapshot.ClusterID,
			GroupID:          currSnapshot.GroupID,
			Topic:            currSnapshot.Topic,
			Partition:        currSnapshot.Partition,
			AssignedMemberID: currSnapshot.AssignedMemberID,
			SinceTs:          since,
			DetectedTs:       currSnapshot.Ts,
			CurrentLag:       derefInt64(currSnapshot.Lag),
			DeltaCommitted:   derefInt64(currSnapshot.CommittedOffset) - derefInt64(prevSnapshot.CommittedOffset),
			DeltaLag:         derefInt64(currSnapshot.Lag) - derefInt64(prevSnapshot.Lag),
			Epsilon:          d.cfg.Epsilon,
			Theta:            d.cfg.Theta,
			MinDuration:      d.cfg.MinDuration,
		})
	}

	// Drop every tracked key whose predicate did not hold this round, whether it
	// recovered or simply vanished from the snapshots.
	for key := range stuckSince {
		if _, ok := held[key]; !ok {
			delete(stuckSince, key)
		}
	}

	return confirmed
}

func stuckKey(s ConsumerPartitionSnapshot) string {
	return fmt.Sprintf("%v/%v/%v/%v", s.ClusterID, s.GroupID, s.Topic, s.Partition)
}

func derefInt64(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
