package governance

import (
	"fmt"
	"time"
)

// LagSample is one lag measurement at one point in time, the input of the delivery risk
// extrapolation.
type LagSample struct {
	Lag float64
	Ts  time.Time
}

// DeliveryRiskETA extrapolates linearly from two lag samples when the lag will cross the
// target ceiling. It returns nil when no prediction is possible: missing previous
// sample, non-positive elapsed time between the samples, or a lag trend that is flat or
// shrinking. A lag already at or above the ceiling returns the current sample's
// timestamp. Deliberately a straight line, no confidence interval.
func DeliveryRiskETA(prev *LagSample, curr LagSample, target float64) *time.Time {
	if prev == nil {
		return nil
	}
	elapsed := curr.Ts.Sub(prev.Ts).Seconds()
	if elapsed <= 0 {
		return nil
	}

	if curr.Lag >= target {
		now := curr.Ts
		return &now
	}

	slope := (curr.Lag - prev.Lag) / elapsed
	if slope <= 0 {
		return nil
	}

	secondsToBreach := (target - curr.Lag) / slope
	eta := curr.Ts.Add(time.Duration(secondsToBreach * float64(time.Second)))
	return &eta
}

// AdviceInput is everything the advisor combines for one group. Rollup is nil when the
// rebalance tracker has not observed the group yet, PrevP95 is nil on the first poll.
type AdviceInput struct {
	Group           ConsumerGroupSnapshot
	Fairness        FairnessIndex
	Rollup          *RebalanceRollup
	ScoreAlpha      float64
	TotalPartitions int
	PrevP95         *LagSample
}

// GenerateAdvice derives assignor, static membership and scale recommendations from the
// current group state. It is a pure function over already captured snapshots.
func GenerateAdvice(in AdviceInput, cfg AdvisorConfig) ConsumerGroupAdvice {
	advice := ConsumerGroupAdvice{
		ClusterID:           in.Group.ClusterID,
		GroupID:             in.Group.GroupID,
		Ts:                  in.Group.Ts,
		ScaleRecommendation: ScaleActionNone,
	}

	// Assignor: cooperative-sticky avoids stop-the-world rebalances, recommend it
	// whenever the group negotiated anything else.
	if in.Group.Assignor == nil || *in.Group.Assignor != AssignorCooperativeSticky {
		recommended := AssignorCooperativeSticky
		advice.AssignorRecommendation = &recommended
		current := AssignorUnknown
		if in.Group.Assignor != nil {
			current = *in.Group.Assignor
		}
		advice.AssignorReason = fmt.Sprintf("group uses '%v', cooperative-sticky reduces partition movement during rebalances", current)
	}

	if in.Rollup != nil {
		score := RebalanceScore(*in.Rollup, in.ScoreAlpha)
		if score < cfg.StaticMembershipScoreThreshold {
			advice.StaticMembershipRecommended = true
			advice.StaticMembershipReason = fmt.Sprintf("rebalance score %.1f is below %.1f, static membership avoids rebalances on transient member restarts",
				score, cfg.StaticMembershipScoreThreshold)
		}
	}

	p95 := in.Group.LagStats.P95Lag
	switch {
	case p95 > cfg.ScaleLagFactor*cfg.TargetP95Lag:
		advice.ScaleRecommendation = ScaleActionIncreaseConsumers
		advice.ScaleReason = fmt.Sprintf("p95 lag %.0f exceeds %vx the target of %.0f", p95, cfg.ScaleLagFactor, cfg.TargetP95Lag)
	case in.Fairness.Class == FairnessHotspot && in.Group.MemberCount > 0 &&
		float64(in.TotalPartitions)/float64(in.Group.MemberCount) < cfg.MinPartitionsPerMember:
		advice.ScaleRecommendation = ScaleActionAddPartitions
		advice.ScaleReason = fmt.Sprintf("assignment is a hotspot (gini %.2f) and the group has fewer than %v partitions per member",
			in.Fairness.GiniCoefficient, cfg.MinPartitionsPerMember)
	}

	advice.SLOComplianceRate = in.Group.LagStats.SLOComplianceRate(cfg.TargetP95Lag)
	advice.RiskETA = DeliveryRiskETA(in.PrevP95, LagSample{Lag: p95, Ts: in.Group.Ts}, cfg.TargetP95Lag)

	return advice
}
