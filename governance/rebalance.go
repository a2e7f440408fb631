package governance

import (
	"fmt"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"
	cmap "github.com/orcaman/concurrent-map"
	"go.uber.org/zap"
)

// AssignmentHash computes a stable content hash of a group's partition assignment. The
// topic/partition -> member mapping is serialized in sorted order so two snapshots with
// the same assignment always hash identically regardless of input order.
func AssignmentHash(partitions []ConsumerPartitionSnapshot) uint64 {
	entries := make([]string, 0, len(partitions))
	for _, p := range partitions {
		memberID := ""
		if p.AssignedMemberID != nil {
			memberID = *p.AssignedMemberID
		}
		entries = append(entries, fmt.Sprintf("%v/%v=%v", p.Topic, p.Partition, memberID))
	}
	sort.Strings(entries)

	digest := xxhash.New()
	for _, entry := range entries {
		_, _ = digest.WriteString(entry)
		_, _ = digest.WriteString(";")
	}
	return digest.Sum64()
}

// stateObservation is one poll's observed group state, used for the stable ratio.
type stateObservation struct {
	Ts    time.Time
	State GroupState
}

// rebalanceTrack is the per-group mutable state of the tracker. Access is serialized
// through the concurrent map's per-shard locking (Upsert).
type rebalanceTrack struct {
	hasHash    bool
	lastHash   uint64
	assignment map[TopicPartition]string
	members    map[string]struct{}

	hasRebalance    bool
	lastRebalanceTs time.Time

	deltas       []RebalanceDelta
	observations []stateObservation
}

// RebalanceTracker detects assignment changes per group via the assignment hash and
// aggregates them into windowed rollups. State is keyed by (cluster, group) so tracking
// for one group never touches another.
type RebalanceTracker struct {
	cfg    RebalanceConfig
	logger *zap.Logger
	tracks cmap.ConcurrentMap
}

func NewRebalanceTracker(cfg RebalanceConfig, logger *zap.Logger) *RebalanceTracker {
	return &RebalanceTracker{
		cfg:    cfg,
		logger: logger.Named("rebalance_tracker"),
		tracks: cmap.New(),
	}
}

func rebalanceTrackKey(clusterID, groupID string) string {
	return clusterID + "/" + groupID
}

// Observe feeds one poll's snapshots into the tracker. It returns a RebalanceDelta when
// the assignment hash differs from the last observed one, nil otherwise. The first
// observation for a group only seeds the baseline.
func (t *RebalanceTracker) Observe(group ConsumerGroupSnapshot, members []ConsumerMemberSnapshot, partitions []ConsumerPartitionSnapshot) *RebalanceDelta {
	hash := AssignmentHash(partitions)

	assignment := make(map[TopicPartition]string, len(partitions))
	for _, p := range partitions {
		if p.AssignedMemberID != nil {
			assignment[p.topicPartition()] = *p.AssignedMemberID
		}
	}
	memberSet := make(map[string]struct{}, len(members))
	for _, m := range members {
		memberSet[m.MemberID] = struct{}{}
	}

	var delta *RebalanceDelta
	t.tracks.Upsert(rebalanceTrackKey(group.ClusterID, group.GroupID), nil, func(exists bool, valueInMap, _ interface{}) interface{} {
		var track *rebalanceTrack
		if exists {
			track = valueInMap.(*rebalanceTrack)
		} else {
			track = &rebalanceTrack{}
		}

		track.observations = append(track.observations, stateObservation{Ts: group.Ts, State: group.State})

		if track.hasHash && track.lastHash != hash {
			d := RebalanceDelta{
				ClusterID:       group.ClusterID,
				GroupID:         group.GroupID,
				Ts:              group.Ts,
				MovedPartitions: countMovedPartitions(track.assignment, assignment),
				JoinCount:       countMissing(memberSet, track.members),
				LeaveCount:      countMissing(track.members, memberSet),
				State:           group.State,
				AssignmentHash:  hash,
			}
			if track.hasRebalance {
				d.ElapsedSincePrev = group.Ts.Sub(track.lastRebalanceTs).Seconds()
			}
			track.deltas = append(track.deltas, d)
			track.hasRebalance = true
			track.lastRebalanceTs = group.Ts
			delta = &d
		}

		track.hasHash = true
		track.lastHash = hash
		track.assignment = assignment
		track.members = memberSet
		track.trim(group.Ts.Add(-t.cfg.HistoryRetention))

		return track
	})

	if delta != nil {
		t.logger.Info("consumer group assignment changed",
			zap.String("group_id", group.GroupID),
			zap.Int("moved_partitions", delta.MovedPartitions),
			zap.Int("join_count", delta.JoinCount),
			zap.Int("leave_count", delta.LeaveCount),
			zap.String("state", string(group.State)))
	}

	return delta
}

// Rollup computes the immutable window aggregate for one group. It returns nil if the
// tracker has never observed the group.
func (t *RebalanceTracker) Rollup(clusterID, groupID string, window RollupWindow, now time.Time) *RebalanceRollup {
	value, exists := t.tracks.Get(rebalanceTrackKey(clusterID, groupID))
	if !exists {
		return nil
	}

	var rollup *RebalanceRollup
	// Upsert instead of Get so the read of the track's slices is serialized against
	// concurrent Observe calls for the same group.
	t.tracks.Upsert(rebalanceTrackKey(clusterID, groupID), value, func(_ bool, valueInMap, _ interface{}) interface{} {
		track := valueInMap.(*rebalanceTrack)
		windowStart := now.Add(-window.Duration())

		r := RebalanceRollup{
			ClusterID:   clusterID,
			GroupID:     groupID,
			WindowStart: windowStart,
			Window:      window,
			StableRatio: 1.0,
		}

		movedSum := 0
		for _, d := range track.deltas {
			if d.Ts.Before(windowStart) {
				continue
			}
			r.Rebalances++
			movedSum += d.MovedPartitions
			if d.MovedPartitions > r.MaxMovedPartitions {
				r.MaxMovedPartitions = d.MovedPartitions
			}
		}
		if r.Rebalances > 0 {
			r.AvgMovedPartitions = float64(movedSum) / float64(r.Rebalances)
		}

		// Stable ratio is the share of Stable observations among Stable and Rebalancing
		// ones. Empty and Dead observations say nothing about churn and are ignored. No
		// relevant observations at all count as fully stable.
		stable, relevant := 0, 0
		for _, obs := range track.observations {
			if obs.Ts.Before(windowStart) {
				continue
			}
			switch obs.State {
			case GroupStateStable:
				stable++
				relevant++
			case GroupStateRebalancing:
				relevant++
			}
		}
		if relevant > 0 {
			r.StableRatio = float64(stable) / float64(relevant)
		}

		rollup = &r
		return track
	})

	return rollup
}

// RebalanceScore turns a rollup into a 0-100 stability score. The penalty is linear in
// the hourly rebalance rate: score = clamp(100 - alpha * rebalancesPerHour, 0, 100). A
// 5 minute rollup is extrapolated to an hourly rate (count * 12), the hourly rollup
// counts directly.
func RebalanceScore(rollup RebalanceRollup, alpha float64) float64 {
	rebalancesPerHour := float64(rollup.Rebalances)
	if rollup.Window == RollupWindow5m {
		rebalancesPerHour *= 12
	}

	score := 100 - alpha*rebalancesPerHour
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// trim drops deltas and observations older than the retention horizon.
func (track *rebalanceTrack) trim(horizon time.Time) {
	deltas := track.deltas[:0]
	for _, d := range track.deltas {
		if !d.Ts.Before(horizon) {
			deltas = append(deltas, d)
		}
	}
	track.deltas = deltas

	observations := track.observations[:0]
	for _, obs := range track.observations {
		if !obs.Ts.Before(horizon) {
			observations = append(observations, obs)
		}
	}
	track.observations = observations
}

// countMovedPartitions counts partitions whose owner changed between two assignments,
// including partitions that were newly assigned or dropped.
func countMovedPartitions(prev, curr map[TopicPartition]string) int {
	moved := 0
	for tp, prevMember := range prev {
		currMember, exists := curr[tp]
		if !exists || currMember != prevMember {
			moved++
		}
	}
	for tp := range curr {
		if _, exists := prev[tp]; !exists {
			moved++
		}
	}
	return moved
}

// countMissing counts keys of a that are absent from b.
func countMissing(a, b map[string]struct{}) int {
	missing := 0
	for k := range a {
		if _, exists := b[k]; !exists {
			missing++
		}
	}
	return missing
}
