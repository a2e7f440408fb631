package governance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func membersWithCounts(counts ...int) []ConsumerMemberSnapshot {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	members := make([]ConsumerMemberSnapshot, len(counts))
	for i, count := range counts {
		members[i] = ConsumerMemberSnapshot{
			ClusterID:              "test-cluster",
			GroupID:                "orders-processor",
			MemberID:               "member-" + string(rune('a'+i)),
			Ts:                     ts,
			AssignedPartitionCount: count,
		}
	}
	return members
}

func defaultBands() FairnessBands {
	return FairnessBands{BalancedMax: 0.2, SlightSkewMax: 0.4}
}

func TestCalculateFairnessEvenDistribution(t *testing.T) {
	for _, memberCount := range []int{1, 2, 3, 10} {
		counts := make([]int, memberCount)
		for i := range counts {
			counts[i] = 4
		}
		idx := CalculateFairness(membersWithCounts(counts...), defaultBands())
		assert.Equal(t, 0.0, idx.GiniCoefficient, "member_count=%d", memberCount)
		assert.Equal(t, FairnessBalanced, idx.Class)
	}
}

func TestCalculateFairnessHotspot(t *testing.T) {
	idx := CalculateFairness(membersWithCounts(1, 1, 13), defaultBands())

	assert.InDelta(t, 0.5333, idx.GiniCoefficient, 0.001)
	assert.Equal(t, FairnessHotspot, idx.Class)
	assert.Equal(t, 3, idx.MemberCount)
	assert.Equal(t, 13, idx.MaxPartitionsPerMember)
	assert.Equal(t, 1, idx.MinPartitionsPerMember)
	assert.InDelta(t, 5.0, idx.AvgPartitionsPerMember, 0.0001)
}

func TestCalculateFairnessMonotonicInConcentration(t *testing.T) {
	// Same total of 15 partitions over 3 members, increasingly concentrated.
	distributions := [][]int{
		{5, 5, 5},
		{4, 5, 6},
		{2, 5, 8},
		{1, 1, 13},
		{0, 0, 15},
	}

	prevGini := -1.0
	for _, counts := range distributions {
		idx := CalculateFairness(membersWithCounts(counts...), defaultBands())
		assert.Greater(t, idx.GiniCoefficient, prevGini, "distribution %v", counts)
		prevGini = idx.GiniCoefficient
	}
}

func TestCalculateFairnessEdgeCases(t *testing.T) {
	// No members at all.
	idx := CalculateFairness(nil, defaultBands())
	assert.Equal(t, 0.0, idx.GiniCoefficient)
	assert.Equal(t, 0, idx.MemberCount)
	assert.Equal(t, FairnessBalanced, idx.Class)

	// Members without any assigned partition: mean is zero, division must not happen.
	idx = CalculateFairness(membersWithCounts(0, 0, 0), defaultBands())
	assert.Equal(t, 0.0, idx.GiniCoefficient)
	assert.Equal(t, FairnessBalanced, idx.Class)
	assert.Equal(t, 0, idx.MinPartitionsPerMember)
}

func TestFairnessBandsClassify(t *testing.T) {
	bands := defaultBands()
	assert.Equal(t, FairnessBalanced, bands.Classify(0.0))
	assert.Equal(t, FairnessBalanced, bands.Classify(0.2))
	assert.Equal(t, FairnessSlightSkew, bands.Classify(0.21))
	assert.Equal(t, FairnessSlightSkew, bands.Classify(0.4))
	assert.Equal(t, FairnessHotspot, bands.Classify(0.41))
}
