package governance

import "fmt"

type AdvisorConfig struct {
	// TargetP95Lag is the SLO ceiling the p95 lag of a group is held against.
	TargetP95Lag float64 `koanf:"targetP95Lag"`

	// StaticMembershipScoreThreshold is the rebalance score below which static group
	// membership is recommended.
	StaticMembershipScoreThreshold float64 `koanf:"staticMembershipScoreThreshold"`

	// ScaleLagFactor is the multiple of the target lag above which adding consumers is
	// recommended.
	ScaleLagFactor float64 `koanf:"scaleLagFactor"`

	// MinPartitionsPerMember is the partitions-per-member ratio below which adding
	// partitions (rather than consumers) is recommended for hotspot groups.
	MinPartitionsPerMember float64 `koanf:"minPartitionsPerMember"`
}

func (c *AdvisorConfig) SetDefaults() {
	c.TargetP95Lag = 1000
	c.StaticMembershipScoreThreshold = 70
	c.ScaleLagFactor = 2
	c.MinPartitionsPerMember = 2
}

func (c *AdvisorConfig) Validate() error {
	if c.TargetP95Lag <= 0 {
		return fmt.Errorf("targetP95Lag must be positive, got '%v'", c.TargetP95Lag)
	}
	if c.StaticMembershipScoreThreshold < 0 || c.StaticMembershipScoreThreshold > 100 {
		return fmt.Errorf("staticMembershipScoreThreshold must be within [0, 100], got '%v'", c.StaticMembershipScoreThreshold)
	}
	if c.ScaleLagFactor <= 0 {
		return fmt.Errorf("scaleLagFactor must be positive, got '%v'", c.ScaleLagFactor)
	}
	if c.MinPartitionsPerMember <= 0 {
		return fmt.Errorf("minPartitionsPerMember must be positive, got '%v'", c.MinPartitionsPerMember)
	}
	return nil
}
