package storage

import (
	cmap "github.com/orcaman/concurrent-map"
	"go.uber.org/zap"

	"github.com/cloudhut/ksentinel/governance"
)

// maxDeltasPerGroup bounds the per-group rebalance history so a flapping group cannot
// grow memory without bound.
const maxDeltasPerGroup = 500

// MemoryStore is the in-memory implementation of the governance repository. It keeps
// the latest derived state per group plus a bounded rebalance history. All maps are
// keyed by "cluster/group" so concurrent pollers of different groups never contend on
// the same entry.
type MemoryStore struct {
	logger *zap.Logger

	health     cmap.ConcurrentMap
	members    cmap.ConcurrentMap
	partitions cmap.ConcurrentMap
	deltas     cmap.ConcurrentMap
}

func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	return &MemoryStore{
		logger:     logger.Named("memory_store"),
		health:     cmap.New(),
		members:    cmap.New(),
		partitions: cmap.New(),
		deltas:     cmap.New(),
	}
}

func groupKey(clusterID, groupID string) string {
	return clusterID + "/" + groupID
}

func (s *MemoryStore) SaveGroupHealth(health governance.GroupHealth) error {
	s.health.Set(groupKey(health.Group.ClusterID, health.Group.GroupID), health)
	return nil
}

func (s *MemoryStore) SaveMemberSnapshots(members []governance.ConsumerMemberSnapshot) error {
	if len(members) == 0 {
		return nil
	}
	s.members.Set(groupKey(members[0].ClusterID, members[0].GroupID), members)
	return nil
}

func (s *MemoryStore) SavePartitionSnapshots(partitions []governance.ConsumerPartitionSnapshot) error {
	if len(partitions) == 0 {
		return nil
	}
	s.partitions.Set(groupKey(partitions[0].ClusterID, partitions[0].GroupID), partitions)
	return nil
}

func (s *MemoryStore) SaveRebalanceDelta(delta governance.RebalanceDelta) error {
	s.deltas.Upsert(groupKey(delta.ClusterID, delta.GroupID), delta, func(exists bool, valueInMap, newValue interface{}) interface{} {
		history := []governance.RebalanceDelta{}
		if exists {
			history = valueInMap.([]governance.RebalanceDelta)
		}
		history = append(history, newValue.(governance.RebalanceDelta))
		if len(history) > maxDeltasPerGroup {
			history = history[len(history)-maxDeltasPerGroup:]
		}
		return history
	})
	return nil
}

func (s *MemoryStore) LatestGroupHealth() ([]governance.GroupHealth, error) {
	items := s.health.Items()
	healths := make([]governance.GroupHealth, 0, len(items))
	for _, value := range items {
		healths = append(healths, value.(governance.GroupHealth))
	}
	return healths, nil
}

// LatestMemberSnapshots returns the most recent member snapshots of one group.
func (s *MemoryStore) LatestMemberSnapshots(clusterID, groupID string) []governance.ConsumerMemberSnapshot {
	value, exists := s.members.Get(groupKey(clusterID, groupID))
	if !exists {
		return nil
	}
	return value.([]governance.ConsumerMemberSnapshot)
}

// LatestPartitionSnapshots returns the most recent partition snapshots of one group.
func (s *MemoryStore) LatestPartitionSnapshots(clusterID, groupID string) []governance.ConsumerPartitionSnapshot {
	value, exists := s.partitions.Get(groupKey(clusterID, groupID))
	if !exists {
		return nil
	}
	return value.([]governance.ConsumerPartitionSnapshot)
}

// RebalanceHistory returns the retained rebalance deltas of one group, oldest first.
func (s *MemoryStore) RebalanceHistory(clusterID, groupID string) []governance.RebalanceDelta {
	value, exists := s.deltas.Get(groupKey(clusterID, groupID))
	if !exists {
		return nil
	}
	return value.([]governance.RebalanceDelta)
}
