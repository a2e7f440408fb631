package governance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testEventsConfig() EventsConfig {
	return EventsConfig{LagSpikeDelta: 10000, SubscriberBufferSize: 128}
}

func snapshotWith(ts time.Time, state GroupState, memberCount int, totalLag int64) ConsumerGroupSnapshot {
	return ConsumerGroupSnapshot{
		ClusterID:   "test-cluster",
		GroupID:     "orders-processor",
		Ts:          ts,
		State:       state,
		MemberCount: memberCount,
		LagStats:    LagStats{TotalLag: totalLag},
	}
}

func TestCalculateDeltaColdStart(t *testing.T) {
	builder := NewDeltaBuilder(testEventsConfig(), zap.NewNop())
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	events := builder.CalculateDelta(snapshotWith(t0, GroupStateStable, 3, 500))
	assert.Empty(t, events, "first snapshot seeds the cache without emitting")
}

func TestCalculateDeltaStateChange(t *testing.T) {
	builder := NewDeltaBuilder(testEventsConfig(), zap.NewNop())
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	builder.CalculateDelta(snapshotWith(t0, GroupStateStable, 3, 500))
	events := builder.CalculateDelta(snapshotWith(t0.Add(30*time.Second), GroupStateRebalancing, 4, 500))
	require.Len(t, events, 1)

	stateChanged, ok := events[0].(StateChangedEvent)
	require.True(t, ok)
	assert.Equal(t, GroupStateStable, stateChanged.OldState)
	assert.Equal(t, GroupStateRebalancing, stateChanged.NewState)
	assert.Equal(t, StateChangeReasonMemberJoin, stateChanged.Reason)

	meta := stateChanged.Meta()
	assert.Equal(t, EventTypeStateChanged, meta.Type)
	assert.Equal(t, EventVersion, meta.Version)
	assert.Equal(t, "test-cluster", meta.ClusterID)
	assert.Equal(t, "orders-processor", meta.GroupID)
	assert.NotEmpty(t, meta.TraceID)
	assert.Equal(t, t0.Add(30*time.Second), meta.Ts)
}

func TestCalculateDeltaStateChangeReasons(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rangeAssignor := AssignorRange
	stickyAssignor := AssignorSticky

	tt := []struct {
		name     string
		prev     ConsumerGroupSnapshot
		curr     ConsumerGroupSnapshot
		expected StateChangeReason
	}{
		{
			name:     "member leave",
			prev:     snapshotWith(t0, GroupStateStable, 4, 0),
			curr:     snapshotWith(t0.Add(time.Minute), GroupStateRebalancing, 3, 0),
			expected: StateChangeReasonMemberLeave,
		},
		{
			name: "assignor change",
			prev: func() ConsumerGroupSnapshot {
				s := snapshotWith(t0, GroupStateStable, 3, 0)
				s.Assignor = &rangeAssignor
				return s
			}(),
			curr: func() ConsumerGroupSnapshot {
				s := snapshotWith(t0.Add(time.Minute), GroupStateRebalancing, 3, 0)
				s.Assignor = &stickyAssignor
				return s
			}(),
			expected: StateChangeReasonAssignorChange,
		},
		{
			name:     "nothing conclusive",
			prev:     snapshotWith(t0, GroupStateStable, 3, 0),
			curr:     snapshotWith(t0.Add(time.Minute), GroupStateEmpty, 3, 0),
			expected: StateChangeReasonUnknown,
		},
	}
	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			builder := NewDeltaBuilder(testEventsConfig(), zap.NewNop())
			builder.CalculateDelta(tc.prev)
			events := builder.CalculateDelta(tc.curr)
			require.Len(t, events, 1)
			assert.Equal(t, tc.expected, events[0].(StateChangedEvent).Reason)
		})
	}
}

func TestCalculateDeltaLagSpike(t *testing.T) {
	builder := NewDeltaBuilder(testEventsConfig(), zap.NewNop())
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	builder.CalculateDelta(snapshotWith(t0, GroupStateStable, 3, 500))

	// Just below the threshold: no event.
	events := builder.CalculateDelta(snapshotWith(t0.Add(30*time.Second), GroupStateStable, 3, 10499))
	assert.Empty(t, events)

	// The cache was overwritten, so the next delta is measured from 10499.
	events = builder.CalculateDelta(snapshotWith(t0.Add(60*time.Second), GroupStateStable, 3, 20499))
	require.Len(t, events, 1)

	spike, ok := events[0].(LagSpikeEvent)
	require.True(t, ok)
	assert.Equal(t, int64(10499), spike.PreviousTotalLag)
	assert.Equal(t, int64(20499), spike.CurrentTotalLag)
	assert.Equal(t, int64(10000), spike.DeltaLag)
	assert.Equal(t, int64(10000), spike.Threshold)
	assert.Equal(t, EventTypeLagSpike, spike.Meta().Type)
}

func TestCalculateDeltaMultipleEvents(t *testing.T) {
	builder := NewDeltaBuilder(testEventsConfig(), zap.NewNop())
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	builder.CalculateDelta(snapshotWith(t0, GroupStateStable, 3, 0))
	events := builder.CalculateDelta(snapshotWith(t0.Add(30*time.Second), GroupStateRebalancing, 2, 50000))
	require.Len(t, events, 2)

	assert.IsType(t, StateChangedEvent{}, events[0])
	assert.IsType(t, LagSpikeEvent{}, events[1])
}

func TestCalculateDeltaIsolatesGroups(t *testing.T) {
	builder := NewDeltaBuilder(testEventsConfig(), zap.NewNop())
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	builder.CalculateDelta(snapshotWith(t0, GroupStateStable, 3, 0))

	other := snapshotWith(t0, GroupStateRebalancing, 1, 0)
	other.GroupID = "payments-processor"
	events := builder.CalculateDelta(other)
	assert.Empty(t, events, "a different group starts its own cold start")
}

func TestPreviousP95(t *testing.T) {
	builder := NewDeltaBuilder(testEventsConfig(), zap.NewNop())
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	assert.Nil(t, builder.PreviousP95("test-cluster", "orders-processor"))

	snapshot := snapshotWith(t0, GroupStateStable, 3, 500)
	snapshot.LagStats.P95Lag = 420
	builder.CalculateDelta(snapshot)

	sample := builder.PreviousP95("test-cluster", "orders-processor")
	require.NotNil(t, sample)
	assert.Equal(t, 420.0, sample.Lag)
	assert.Equal(t, t0, sample.Ts)
}

func TestEnvelopeTraceIDsAreUnique(t *testing.T) {
	builder := NewDeltaBuilder(testEventsConfig(), zap.NewNop())
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	a := builder.BuildSystemHealthEvent("test-cluster", t0, true, true, 5, 0)
	b := builder.BuildSystemHealthEvent("test-cluster", t0, true, true, 5, 0)
	assert.NotEqual(t, a.Meta().TraceID, b.Meta().TraceID)
}
