package governance

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SnapshotCollector turns raw broker admin facts into typed snapshot entities. All
// snapshots of one collection share a single timestamp so that downstream consumers get
// consistent point-in-time semantics. The collector is a pure read path, its only side
// effects are the broker calls themselves.
type SnapshotCollector struct {
	clusterID string
	admin     BrokerAdmin
	logger    *zap.Logger
}

// GroupCollection bundles all snapshots of one group captured at one instant.
type GroupCollection struct {
	Group      ConsumerGroupSnapshot
	Members    []ConsumerMemberSnapshot
	Partitions []ConsumerPartitionSnapshot
}

func NewSnapshotCollector(clusterID string, admin BrokerAdmin, logger *zap.Logger) *SnapshotCollector {
	return &SnapshotCollector{
		clusterID: clusterID,
		admin:     admin,
		logger:    logger.Named("collector"),
	}
}

// Collect captures the full group, member and partition view of one group at a single
// timestamp and computes the group's lag stats from the partition view.
func (c *SnapshotCollector) Collect(ctx context.Context, groupID string) (*GroupCollection, error) {
	ts := time.Now().UTC()

	description, err := c.admin.DescribeConsumerGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}

	members := c.membersFromDescription(description, ts)
	partitions, err := c.partitionsFromDescription(ctx, description, ts)
	if err != nil {
		return nil, err
	}

	group := c.groupFromDescription(description, ts)
	group.TopicCount = countTopics(partitions)
	group.LagStats = CalculateLagStats(partitions)

	return &GroupCollection{Group: group, Members: members, Partitions: partitions}, nil
}

// CollectGroup captures the group level snapshot only. Lag stats and topic count require
// the partition view and are zero here; Collect is the full pipeline.
func (c *SnapshotCollector) CollectGroup(ctx context.Context, groupID string) (ConsumerGroupSnapshot, error) {
	ts := time.Now().UTC()
	description, err := c.admin.DescribeConsumerGroup(ctx, groupID)
	if err != nil {
		return ConsumerGroupSnapshot{}, err
	}
	return c.groupFromDescription(description, ts), nil
}

// CollectMembers captures one snapshot per group member.
func (c *SnapshotCollector) CollectMembers(ctx context.Context, groupID string) ([]ConsumerMemberSnapshot, error) {
	ts := time.Now().UTC()
	description, err := c.admin.DescribeConsumerGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return c.membersFromDescription(description, ts), nil
}

// CollectPartitions captures one snapshot per partition assigned to any member of the
// group, including committed offsets, log end offsets and the derived lag.
func (c *SnapshotCollector) CollectPartitions(ctx context.Context, groupID string) ([]ConsumerPartitionSnapshot, error) {
	ts := time.Now().UTC()
	description, err := c.admin.DescribeConsumerGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return c.partitionsFromDescription(ctx, description, ts)
}

func (c *SnapshotCollector) groupFromDescription(d *GroupDescription, ts time.Time) ConsumerGroupSnapshot {
	snapshot := ConsumerGroupSnapshot{
		ClusterID:   c.clusterID,
		GroupID:     d.GroupID,
		Ts:          ts,
		State:       d.State,
		MemberCount: len(d.Members),
	}
	if d.Protocol != "" {
		assignor := ParseAssignor(d.Protocol)
		snapshot.Assignor = &assignor
	}
	return snapshot
}

func (c *SnapshotCollector) membersFromDescription(d *GroupDescription, ts time.Time) []ConsumerMemberSnapshot {
	members := make([]ConsumerMemberSnapshot, len(d.Members))
	for i, m := range d.Members {
		members[i] = ConsumerMemberSnapshot{
			ClusterID:              c.clusterID,
			GroupID:                d.GroupID,
			MemberID:               m.MemberID,
			Ts:                     ts,
			ClientID:               m.ClientID,
			ClientHost:             m.ClientHost,
			AssignedPartitionCount: len(m.Assignments),
		}
	}
	return members
}

func (c *SnapshotCollector) partitionsFromDescription(ctx context.Context, d *GroupDescription, ts time.Time) ([]ConsumerPartitionSnapshot, error) {
	// Union of all partitions assigned across members. The same partition is never
	// assigned to two members by the broker, so last writer wins is fine here.
	memberByPartition := make(map[TopicPartition]string)
	for _, m := range d.Members {
		for _, tp := range m.Assignments {
			memberByPartition[tp] = m.MemberID
		}
	}
	assigned := make([]TopicPartition, 0, len(memberByPartition))
	for tp := range memberByPartition {
		assigned = append(assigned, tp)
	}
	sort.Slice(assigned, func(i, j int) bool {
		if assigned[i].Topic != assigned[j].Topic {
			return assigned[i].Topic < assigned[j].Topic
		}
		return assigned[i].Partition < assigned[j].Partition
	})

	if len(assigned) == 0 {
		return []ConsumerPartitionSnapshot{}, nil
	}

	// Committed and log end offsets are independent read-only broker calls, fan them
	// out to cut collection latency.
	var committed map[TopicPartition]*int64
	var latest map[TopicPartition]int64

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		res, err := c.admin.GetCommittedOffsets(egCtx, d.GroupID, assigned)
		if err != nil {
			return errors.Wrap(err, "failed to fetch committed offsets")
		}
		committed = res
		return nil
	})
	eg.Go(func() error {
		res, err := c.admin.GetLatestOffsets(egCtx, assigned)
		if err != nil {
			return errors.Wrap(err, "failed to fetch log end offsets")
		}
		latest = res
		return nil
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	snapshots := make([]ConsumerPartitionSnapshot, 0, len(assigned))
	for _, tp := range assigned {
		memberID := memberByPartition[tp]
		snapshot := ConsumerPartitionSnapshot{
			ClusterID:        c.clusterID,
			GroupID:          d.GroupID,
			Topic:            tp.Topic,
			Partition:        tp.Partition,
			Ts:               ts,
			AssignedMemberID: &memberID,
		}
		if offset, exists := committed[tp]; exists && offset != nil {
			snapshot.CommittedOffset = offset
		}
		if offset, exists := latest[tp]; exists {
			latestOffset := offset
			snapshot.LatestOffset = &latestOffset
		}
		if snapshot.CommittedOffset != nil && snapshot.LatestOffset != nil {
			lag := *snapshot.LatestOffset - *snapshot.CommittedOffset
			if lag < 0 {
				// Negative raw lag happens after topic delete/recreate or retention
				// truncation and when the two offset fetches race each other. Clamp to
				// zero, it is not an error condition.
				c.logger.Warn("committed offset is ahead of the log end offset, clamping lag to zero",
					zap.String("group_id", d.GroupID),
					zap.String("topic", tp.Topic),
					zap.Int32("partition", tp.Partition),
					zap.Int64("committed_offset", *snapshot.CommittedOffset),
					zap.Int64("latest_offset", *snapshot.LatestOffset))
				lag = 0
			}
			snapshot.Lag = &lag
		}
		snapshots = append(snapshots, snapshot)
	}

	return snapshots, nil
}

func countTopics(partitions []ConsumerPartitionSnapshot) int {
	topics := make(map[string]struct{})
	for _, p := range partitions {
		topics[p.Topic] = struct{}{}
	}
	return len(topics)
}
