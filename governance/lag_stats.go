package governance

import (
	"math"
	"sort"
)

// LagStats summarizes the lag distribution over one group's assigned partitions.
// It is recomputed from scratch on every poll cycle and never persisted on its own.
type LagStats struct {
	TotalLag       int64   `json:"totalLag"`
	MeanLag        float64 `json:"meanLag"`
	P50Lag         float64 `json:"p50Lag"`
	P95Lag         float64 `json:"p95Lag"`
	MaxLag         int64   `json:"maxLag"`
	PartitionCount int     `json:"partitionCount"`
}

// CalculateLagStats aggregates the lags of the given partition snapshots. Partitions
// whose lag is unknown (either offset missing) do not contribute. If no partition has a
// known lag all stats are zero, never null, so downstream math stays total.
func CalculateLagStats(partitions []ConsumerPartitionSnapshot) LagStats {
	lags := make([]int64, 0, len(partitions))
	for _, p := range partitions {
		if p.Lag == nil {
			continue
		}
		lags = append(lags, *p.Lag)
	}
	stats := LagStats{PartitionCount: len(lags)}
	if len(lags) == 0 {
		return stats
	}

	sort.Slice(lags, func(i, j int) bool { return lags[i] < lags[j] })
	for _, lag := range lags {
		stats.TotalLag += lag
	}
	stats.MaxLag = lags[len(lags)-1]
	stats.MeanLag = float64(stats.TotalLag) / float64(len(lags))
	stats.P50Lag = percentile(lags, 0.5)
	stats.P95Lag = percentile(lags, 0.95)

	return stats
}

// percentile computes the p-th percentile of an ascending sorted lag slice using linear
// interpolation between the two closest ranks: k = (n-1)*p.
func percentile(sorted []int64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return float64(sorted[0])
	}

	k := float64(len(sorted)-1) * p
	lower := int(math.Floor(k))
	upper := int(math.Ceil(k))
	if lower == upper {
		return float64(sorted[lower])
	}
	fraction := k - float64(lower)
	return float64(sorted[lower]) + fraction*(float64(sorted[upper])-float64(sorted[lower]))
}

// SLOComplianceRate returns how well the p95 lag complies with the given target lag.
// The rate decays linearly once the p95 exceeds the target: 1 - (p95-target)/target,
// floored at zero. A p95 at or below the target is full compliance. A non-positive
// target cannot be complied with unless the p95 is zero too.
func (s LagStats) SLOComplianceRate(targetLag float64) float64 {
	if s.P95Lag <= targetLag {
		return 1.0
	}
	if targetLag <= 0 {
		return 0
	}
	rate := 1.0 - (s.P95Lag-targetLag)/targetLag
	if rate < 0 {
		return 0
	}
	return rate
}
