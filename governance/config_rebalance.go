package governance

import (
	"fmt"
	"time"
)

type RebalanceConfig struct {
	// ScoreAlpha is the penalty per rebalance per hour in the stability score:
	// score = clamp(100 - alpha * rebalancesPerHour, 0, 100).
	ScoreAlpha float64 `koanf:"scoreAlpha"`

	// HistoryRetention is how long rebalance deltas and state observations are kept for
	// rollups. Must cover the largest rollup window.
	HistoryRetention time.Duration `koanf:"historyRetention"`
}

func (c *RebalanceConfig) SetDefaults() {
	c.ScoreAlpha = 10
	c.HistoryRetention = time.Hour
}

func (c *RebalanceConfig) Validate() error {
	if c.ScoreAlpha < 0 {
		return fmt.Errorf("scoreAlpha must not be negative, got '%v'", c.ScoreAlpha)
	}
	if c.HistoryRetention < time.Hour {
		return fmt.Errorf("historyRetention must be at least 1h to cover the hourly rollup window, got '%v'", c.HistoryRetention)
	}
	return nil
}
