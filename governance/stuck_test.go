package governance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func partitionAt(ts time.Time, committed, lag int64) ConsumerPartitionSnapshot {
	latest := committed + lag
	return ConsumerPartitionSnapshot{
		ClusterID:       "test-cluster",
		GroupID:         "orders-processor",
		Topic:           "orders",
		Partition:       0,
		Ts:              ts,
		CommittedOffset: &committed,
		LatestOffset:    &latest,
		Lag:             &lag,
	}
}

func testStuckConfig() StuckConfig {
	return StuckConfig{Epsilon: 1, Theta: 10, MinDuration: 180 * time.Second}
}

func TestIsStuck(t *testing.T) {
	detector := NewStuckPartitionDetector(testStuckConfig(), zap.NewNop())
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	t1 := t0.Add(30 * time.Second)

	tt := []struct {
		name     string
		prev     ConsumerPartitionSnapshot
		curr     ConsumerPartitionSnapshot
		expected bool
	}{
		{
			name:     "no commit progress and growing lag",
			prev:     partitionAt(t0, 1000, 100),
			curr:     partitionAt(t1, 1000, 120),
			expected: true,
		},
		{
			name:     "commit progress within epsilon still counts as no progress",
			prev:     partitionAt(t0, 1000, 100),
			curr:     partitionAt(t1, 1001, 150),
			expected: true,
		},
		{
			name:     "lag delta exactly at theta is not stuck",
			prev:     partitionAt(t0, 1000, 100),
			curr:     partitionAt(t1, 1000, 110),
			expected: false,
		},
		{
			name:     "healthy consumption",
			prev:     partitionAt(t0, 1000, 100),
			curr:     partitionAt(t1, 1500, 50),
			expected: false,
		},
		{
			name:     "lag growing but commits progressing",
			prev:     partitionAt(t0, 1000, 100),
			curr:     partitionAt(t1, 1100, 200),
			expected: false,
		},
	}
	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, detector.IsStuck(tc.prev, tc.curr))
		})
	}
}

func TestIsStuckRequiresBothOffsets(t *testing.T) {
	detector := NewStuckPartitionDetector(testStuckConfig(), zap.NewNop())
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	prev := partitionAt(t0, 1000, 100)
	curr := partitionAt(t0.Add(30*time.Second), 1000, 200)
	curr.CommittedOffset = nil
	curr.Lag = nil

	assert.False(t, detector.IsStuck(prev, curr))
}

func TestDetectStuckPartitionsConfirmation(t *testing.T) {
	detector := NewStuckPartitionDetector(testStuckConfig(), zap.NewNop())
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	stuckSince := make(map[string]time.Time)

	// First drift: the key enters the map but nothing is confirmed yet.
	prev := []ConsumerPartitionSnapshot{partitionAt(t0, 1000, 100)}
	curr := []ConsumerPartitionSnapshot{partitionAt(t0.Add(60*time.Second), 1000, 120)}
	confirmed := detector.DetectStuckPartitions(prev, curr, stuckSince)
	assert.Empty(t, confirmed)
	require.Len(t, stuckSince, 1)

	// Second drift 60s later: still below the 180s minimum duration.
	next := []ConsumerPartitionSnapshot{partitionAt(t0.Add(120*time.Second), 1000, 140)}
	confirmed = detector.DetectStuckPartitions(curr, next, stuckSince)
	assert.Empty(t, confirmed)

	// Third drift crosses the minimum duration, measured from the first drift.
	final := []ConsumerPartitionSnapshot{partitionAt(t0.Add(300*time.Second), 1000, 170)}
	confirmed = detector.DetectStuckPartitions(next, final, stuckSince)
	require.Len(t, confirmed, 1)

	stuck := confirmed[0]
	assert.Equal(t, "orders", stuck.Topic)
	assert.Equal(t, int32(0), stuck.Partition)
	assert.Equal(t, t0.Add(60*time.Second), stuck.SinceTs)
	assert.Equal(t, t0.Add(300*time.Second), stuck.DetectedTs)
	assert.Equal(t, int64(0), stuck.DeltaCommitted)
	assert.Equal(t, int64(30), stuck.DeltaLag)
	assert.Equal(t, int64(170), stuck.CurrentLag)
}

func TestDetectStuckPartitionsIdempotent(t *testing.T) {
	detector := NewStuckPartitionDetector(testStuckConfig(), zap.NewNop())
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	prev := []ConsumerPartitionSnapshot{partitionAt(t0, 1000, 100)}
	curr := []ConsumerPartitionSnapshot{partitionAt(t0.Add(60*time.Second), 1000, 120)}

	stuckSince := make(map[string]time.Time)
	detector.DetectStuckPartitions(prev, curr, stuckSince)
	firstSeen := make(map[string]time.Time, len(stuckSince))
	for k, v := range stuckSince {
		firstSeen[k] = v
	}

	// The identical call must not move the tracked since timestamps.
	detector.DetectStuckPartitions(prev, curr, stuckSince)
	assert.Equal(t, firstSeen, stuckSince)
}

func TestDetectStuckPartitionsClearsRecovered(t *testing.T) {
	detector := NewStuckPartitionDetector(testStuckConfig(), zap.NewNop())
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	stuckSince := make(map[string]time.Time)

	prev := []ConsumerPartitionSnapshot{partitionAt(t0, 1000, 100)}
	curr := []ConsumerPartitionSnapshot{partitionAt(t0.Add(60*time.Second), 1000, 120)}
	detector.DetectStuckPartitions(prev, curr, stuckSince)
	require.Len(t, stuckSince, 1)

	// The consumer recovers: the key must leave the map immediately so a later drift
	// starts a fresh confirmation window.
	recovered := []ConsumerPartitionSnapshot{partitionAt(t0.Add(120*time.Second), 1500, 10)}
	confirmed := detector.DetectStuckPartitions(curr, recovered, stuckSince)
	assert.Empty(t, confirmed)
	assert.Empty(t, stuckSince)
}

func TestDetectStuckPartitionsClearsVanished(t *testing.T) {
	detector := NewStuckPartitionDetector(testStuckConfig(), zap.NewNop())
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	stuckSince := make(map[string]time.Time)

	// Drift seeds the since timestamp.
	prev := []ConsumerPartitionSnapshot{partitionAt(t0, 1000, 100)}
	curr := []ConsumerPartitionSnapshot{partitionAt(t0.Add(60*time.Second), 1000, 120)}
	detector.DetectStuckPartitions(prev, curr, stuckSince)
	require.Len(t, stuckSince, 1)

	// The partition is revoked during a rebalance, so the next poll sees no snapshot for
	// it. The tracked key must not survive the gap.
	confirmed := detector.DetectStuckPartitions(curr, nil, stuckSince)
	assert.Empty(t, confirmed)
	assert.Empty(t, stuckSince, "an assignment gap clears the tracked key")

	// After the gap the partition drifts again for one interval, far past the original
	// minimum duration. The confirmation window must start fresh instead of confirming
	// from the pre-gap timestamp.
	reassignedPrev := []ConsumerPartitionSnapshot{partitionAt(t0.Add(600*time.Second), 1000, 140)}
	reassignedCurr := []ConsumerPartitionSnapshot{partitionAt(t0.Add(660*time.Second), 1000, 160)}
	confirmed = detector.DetectStuckPartitions(reassignedPrev, reassignedCurr, stuckSince)
	assert.Empty(t, confirmed, "a single drift after the gap must not confirm")
	require.Len(t, stuckSince, 1)
	for _, since := range stuckSince {
		assert.Equal(t, t0.Add(660*time.Second), since)
	}
}

func TestDetectStuckPartitionsClearsWithoutPrevSnapshot(t *testing.T) {
	detector := NewStuckPartitionDetector(testStuckConfig(), zap.NewNop())
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	stuckSince := make(map[string]time.Time)

	prev := []ConsumerPartitionSnapshot{partitionAt(t0, 1000, 100)}
	curr := []ConsumerPartitionSnapshot{partitionAt(t0.Add(60*time.Second), 1000, 120)}
	detector.DetectStuckPartitions(prev, curr, stuckSince)
	require.Len(t, stuckSince, 1)

	// The partition reappears in curr but was missing from the previous poll, so the
	// predicate cannot be evaluated. The key must be dropped rather than kept warm.
	reappeared := []ConsumerPartitionSnapshot{partitionAt(t0.Add(120*time.Second), 1000, 140)}
	confirmed := detector.DetectStuckPartitions(nil, reappeared, stuckSince)
	assert.Empty(t, confirmed)
	assert.Empty(t, stuckSince)
}

func TestIsStuckDefaultThresholds(t *testing.T) {
	// previous(committed=1000, lag=100), current(committed=1000, lag=120) with
	// epsilon=1, theta=10: delta committed 0 <= 1 and delta lag 20 > 10.
	detector := NewStuckPartitionDetector(testStuckConfig(), zap.NewNop())
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	prev := partitionAt(t0, 1000, 100)
	curr := partitionAt(t0.Add(30*time.Second), 1000, 120)
	assert.True(t, detector.IsStuck(prev, curr))
}
