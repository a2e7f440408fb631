package governance

import "math"

// FairnessClass buckets a Gini coefficient into an operator facing judgement.
type FairnessClass string

const (
	FairnessBalanced   FairnessClass = "Balanced"
	FairnessSlightSkew FairnessClass = "SlightSkew"
	FairnessHotspot    FairnessClass = "Hotspot"
)

// FairnessIndex measures how evenly partitions are spread across group members.
// A Gini coefficient of 0 is a perfectly even assignment, 1 is maximally uneven.
type FairnessIndex struct {
	GiniCoefficient        float64       `json:"giniCoefficient"`
	Class                  FairnessClass `json:"class"`
	MemberCount            int           `json:"memberCount"`
	AvgPartitionsPerMember float64       `json:"avgPartitionsPerMember"`
	MaxPartitionsPerMember int           `json:"maxPartitionsPerMember"`
	MinPartitionsPerMember int           `json:"minPartitionsPerMember"`
}

// CalculateFairness computes the Gini coefficient over the per-member assigned
// partition counts: G = sum_i sum_j |x_i - x_j| / (2 * n^2 * mean(x)). Groups without
// members or without any assigned partition are treated as perfectly balanced so that
// empty groups never alert.
func CalculateFairness(members []ConsumerMemberSnapshot, bands FairnessBands) FairnessIndex {
	idx := FairnessIndex{MemberCount: len(members)}
	if len(members) == 0 {
		idx.Class = bands.Classify(0)
		return idx
	}

	counts := make([]int, len(members))
	total := 0
	idx.MinPartitionsPerMember = math.MaxInt
	for i, m := range members {
		counts[i] = m.AssignedPartitionCount
		total += m.AssignedPartitionCount
		if m.AssignedPartitionCount > idx.MaxPartitionsPerMember {
			idx.MaxPartitionsPerMember = m.AssignedPartitionCount
		}
		if m.AssignedPartitionCount < idx.MinPartitionsPerMember {
			idx.MinPartitionsPerMember = m.AssignedPartitionCount
		}
	}
	idx.AvgPartitionsPerMember = float64(total) / float64(len(members))

	if total == 0 {
		idx.MinPartitionsPerMember = 0
		idx.Class = bands.Classify(0)
		return idx
	}

	var absDiffSum float64
	for _, a := range counts {
		for _, b := range counts {
			absDiffSum += math.Abs(float64(a - b))
		}
	}
	n := float64(len(counts))
	mean := float64(total) / n
	idx.GiniCoefficient = absDiffSum / (2 * n * n * mean)
	idx.Class = bands.Classify(idx.GiniCoefficient)

	return idx
}
