package governance

import "fmt"

// FairnessBands are the Gini coefficient thresholds that split assignments into the
// three fairness classes.
type FairnessBands struct {
	// BalancedMax is the largest Gini coefficient still considered Balanced.
	BalancedMax float64 `koanf:"balancedMax"`

	// SlightSkewMax is the largest Gini coefficient still considered SlightSkew.
	// Everything above is a Hotspot.
	SlightSkewMax float64 `koanf:"slightSkewMax"`
}

// Classify buckets a Gini coefficient.
func (b FairnessBands) Classify(gini float64) FairnessClass {
	switch {
	case gini <= b.BalancedMax:
		return FairnessBalanced
	case gini <= b.SlightSkewMax:
		return FairnessSlightSkew
	default:
		return FairnessHotspot
	}
}

type FairnessConfig struct {
	Bands FairnessBands `koanf:"bands"`

	// WarnThreshold is the Gini coefficient above which a fairness_warn event is emitted.
	WarnThreshold float64 `koanf:"warnThreshold"`
}

func (c *FairnessConfig) SetDefaults() {
	c.Bands.BalancedMax = 0.2
	c.Bands.SlightSkewMax = 0.4
	c.WarnThreshold = 0.4
}

func (c *FairnessConfig) Validate() error {
	if c.Bands.BalancedMax < 0 || c.Bands.BalancedMax > 1 {
		return fmt.Errorf("balancedMax must be within [0, 1], got '%v'", c.Bands.BalancedMax)
	}
	if c.Bands.SlightSkewMax < c.Bands.BalancedMax || c.Bands.SlightSkewMax > 1 {
		return fmt.Errorf("slightSkewMax must be within [balancedMax, 1], got '%v'", c.Bands.SlightSkewMax)
	}
	if c.WarnThreshold < 0 || c.WarnThreshold > 1 {
		return fmt.Errorf("warnThreshold must be within [0, 1], got '%v'", c.WarnThreshold)
	}
	return nil
}
