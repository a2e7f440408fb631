package governance

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeBrokerAdmin serves canned broker facts so the collector can be tested without a
// cluster.
type fakeBrokerAdmin struct {
	groups       []string
	description  *GroupDescription
	describeErr  error
	committed    map[TopicPartition]*int64
	latest       map[TopicPartition]int64
	committedErr error
	latestErr    error
}

func (f *fakeBrokerAdmin) ListConsumerGroups(context.Context) ([]string, error) {
	return f.groups, nil
}

func (f *fakeBrokerAdmin) DescribeConsumerGroup(context.Context, string) (*GroupDescription, error) {
	if f.describeErr != nil {
		return nil, f.describeErr
	}
	return f.description, nil
}

func (f *fakeBrokerAdmin) GetCommittedOffsets(context.Context, string, []TopicPartition) (map[TopicPartition]*int64, error) {
	if f.committedErr != nil {
		return nil, f.committedErr
	}
	return f.committed, nil
}

func (f *fakeBrokerAdmin) GetLatestOffsets(context.Context, []TopicPartition) (map[TopicPartition]int64, error) {
	if f.latestErr != nil {
		return nil, f.latestErr
	}
	return f.latest, nil
}

func int64Ptr(v int64) *int64 { return &v }

func ordersDescription() *GroupDescription {
	return &GroupDescription{
		GroupID:      "orders-processor",
		State:        GroupStateStable,
		ProtocolType: "consumer",
		Protocol:     "cooperative-sticky",
		Members: []GroupMemberDescription{
			{
				MemberID:   "member-a",
				ClientID:   "client-a",
				ClientHost: "/10.0.0.1",
				Assignments: []TopicPartition{
					{Topic: "orders", Partition: 0},
					{Topic: "orders", Partition: 1},
				},
			},
			{
				MemberID:    "member-b",
				ClientID:    "client-b",
				ClientHost:  "/10.0.0.2",
				Assignments: []TopicPartition{{Topic: "payments", Partition: 0}},
			},
		},
	}
}

func TestCollect(t *testing.T) {
	admin := &fakeBrokerAdmin{
		description: ordersDescription(),
		committed: map[TopicPartition]*int64{
			{Topic: "orders", Partition: 0}:   int64Ptr(100),
			{Topic: "orders", Partition: 1}:   int64Ptr(200),
			{Topic: "payments", Partition: 0}: int64Ptr(50),
		},
		latest: map[TopicPartition]int64{
			{Topic: "orders", Partition: 0}:   150,
			{Topic: "orders", Partition: 1}:   200,
			{Topic: "payments", Partition: 0}: 80,
		},
	}
	collector := NewSnapshotCollector("test-cluster", admin, zap.NewNop())

	collection, err := collector.Collect(context.Background(), "orders-processor")
	require.NoError(t, err)

	group := collection.Group
	assert.Equal(t, "test-cluster", group.ClusterID)
	assert.Equal(t, "orders-processor", group.GroupID)
	assert.Equal(t, GroupStateStable, group.State)
	require.NotNil(t, group.Assignor)
	assert.Equal(t, AssignorCooperativeSticky, *group.Assignor)
	assert.Equal(t, 2, group.MemberCount)
	assert.Equal(t, 2, group.TopicCount)
	assert.Equal(t, int64(80), group.LagStats.TotalLag)
	assert.Equal(t, int64(50), group.LagStats.MaxLag)

	require.Len(t, collection.Members, 2)
	assert.Equal(t, "member-a", collection.Members[0].MemberID)
	assert.Equal(t, 2, collection.Members[0].AssignedPartitionCount)
	assert.Equal(t, 1, collection.Members[1].AssignedPartitionCount)

	require.Len(t, collection.Partitions, 3)
	// Partitions come back sorted by topic, then partition.
	assert.Equal(t, "orders", collection.Partitions[0].Topic)
	assert.Equal(t, int32(0), collection.Partitions[0].Partition)
	assert.Equal(t, "payments", collection.Partitions[2].Topic)
	require.NotNil(t, collection.Partitions[0].Lag)
	assert.Equal(t, int64(50), *collection.Partitions[0].Lag)
	require.NotNil(t, collection.Partitions[0].AssignedMemberID)
	assert.Equal(t, "member-a", *collection.Partitions[0].AssignedMemberID)

	// Every snapshot of the collection carries the same timestamp.
	ts := group.Ts
	for _, m := range collection.Members {
		assert.Equal(t, ts, m.Ts)
	}
	for _, p := range collection.Partitions {
		assert.Equal(t, ts, p.Ts)
	}
}

func TestCollectGroup(t *testing.T) {
	admin := &fakeBrokerAdmin{description: ordersDescription()}
	collector := NewSnapshotCollector("test-cluster", admin, zap.NewNop())

	group, err := collector.CollectGroup(context.Background(), "orders-processor")
	require.NoError(t, err)

	assert.Equal(t, "test-cluster", group.ClusterID)
	assert.Equal(t, "orders-processor", group.GroupID)
	assert.Equal(t, GroupStateStable, group.State)
	require.NotNil(t, group.Assignor)
	assert.Equal(t, AssignorCooperativeSticky, *group.Assignor)
	assert.Equal(t, 2, group.MemberCount)
	assert.False(t, group.Ts.IsZero())

	// The group-only collector never touches the partition view.
	assert.Equal(t, 0, group.TopicCount)
	assert.Equal(t, LagStats{}, group.LagStats)
}

func TestCollectMembers(t *testing.T) {
	admin := &fakeBrokerAdmin{description: ordersDescription()}
	collector := NewSnapshotCollector("test-cluster", admin, zap.NewNop())

	members, err := collector.CollectMembers(context.Background(), "orders-processor")
	require.NoError(t, err)
	require.Len(t, members, 2)

	assert.Equal(t, "member-a", members[0].MemberID)
	assert.Equal(t, "client-a", members[0].ClientID)
	assert.Equal(t, "/10.0.0.1", members[0].ClientHost)
	assert.Equal(t, 2, members[0].AssignedPartitionCount)
	assert.Equal(t, "member-b", members[1].MemberID)
	assert.Equal(t, 1, members[1].AssignedPartitionCount)

	// One shared capture timestamp across the member set.
	for _, m := range members {
		assert.Equal(t, members[0].Ts, m.Ts)
		assert.Equal(t, "test-cluster", m.ClusterID)
		assert.Equal(t, "orders-processor", m.GroupID)
	}
}

func TestCollectClampsNegativeLag(t *testing.T) {
	// Committed ahead of the log end offset, e.g. after topic recreate. Lag must be
	// clamped to zero rather than reported negative.
	admin := &fakeBrokerAdmin{
		description: &GroupDescription{
			GroupID:  "orders-processor",
			State:    GroupStateStable,
			Protocol: "range",
			Members: []GroupMemberDescription{
				{MemberID: "member-a", Assignments: []TopicPartition{{Topic: "orders", Partition: 0}}},
			},
		},
		committed: map[TopicPartition]*int64{{Topic: "orders", Partition: 0}: int64Ptr(500)},
		latest:    map[TopicPartition]int64{{Topic: "orders", Partition: 0}: 300},
	}
	collector := NewSnapshotCollector("test-cluster", admin, zap.NewNop())

	partitions, err := collector.CollectPartitions(context.Background(), "orders-processor")
	require.NoError(t, err)
	require.Len(t, partitions, 1)
	require.NotNil(t, partitions[0].Lag)
	assert.Equal(t, int64(0), *partitions[0].Lag)
}

func TestCollectUnknownOffsets(t *testing.T) {
	admin := &fakeBrokerAdmin{
		description: &GroupDescription{
			GroupID:  "orders-processor",
			State:    GroupStateStable,
			Protocol: "range",
			Members: []GroupMemberDescription{
				{MemberID: "member-a", Assignments: []TopicPartition{
					{Topic: "orders", Partition: 0},
					{Topic: "orders", Partition: 1},
				}},
			},
		},
		// Partition 0 has never committed, partition 1's watermark fetch failed.
		committed: map[TopicPartition]*int64{
			{Topic: "orders", Partition: 0}: nil,
			{Topic: "orders", Partition: 1}: int64Ptr(10),
		},
		latest: map[TopicPartition]int64{{Topic: "orders", Partition: 0}: 100},
	}
	collector := NewSnapshotCollector("test-cluster", admin, zap.NewNop())

	partitions, err := collector.CollectPartitions(context.Background(), "orders-processor")
	require.NoError(t, err)
	require.Len(t, partitions, 2)

	assert.Nil(t, partitions[0].CommittedOffset)
	require.NotNil(t, partitions[0].LatestOffset)
	assert.Nil(t, partitions[0].Lag, "lag is unknown without a committed offset")

	require.NotNil(t, partitions[1].CommittedOffset)
	assert.Nil(t, partitions[1].LatestOffset)
	assert.Nil(t, partitions[1].Lag, "lag is unknown without a log end offset")
}

func TestCollectEmptyGroup(t *testing.T) {
	admin := &fakeBrokerAdmin{
		description: &GroupDescription{GroupID: "orders-processor", State: GroupStateEmpty},
	}
	collector := NewSnapshotCollector("test-cluster", admin, zap.NewNop())

	collection, err := collector.Collect(context.Background(), "orders-processor")
	require.NoError(t, err)
	assert.Empty(t, collection.Members)
	assert.Empty(t, collection.Partitions)
	assert.Nil(t, collection.Group.Assignor, "an empty group has no negotiated assignor")
	assert.Equal(t, LagStats{}, collection.Group.LagStats)
}

func TestCollectGroupNotFound(t *testing.T) {
	admin := &fakeBrokerAdmin{
		describeErr: errors.Wrap(ErrGroupNotFound, "failed to describe group 'orders-processor'"),
	}
	collector := NewSnapshotCollector("test-cluster", admin, zap.NewNop())

	_, err := collector.Collect(context.Background(), "orders-processor")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrGroupNotFound))
}

func TestCollectOffsetFetchFailure(t *testing.T) {
	admin := &fakeBrokerAdmin{
		description: ordersDescription(),
		latestErr:   errors.New("broker unreachable"),
		committed:   map[TopicPartition]*int64{},
	}
	collector := NewSnapshotCollector("test-cluster", admin, zap.NewNop())

	_, err := collector.Collect(context.Background(), "orders-processor")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to fetch log end offsets")
}
