package governance

import (
	"fmt"
	"time"
)

type StuckConfig struct {
	// Epsilon is the maximum committed offset progress between two polls that still
	// counts as "no progress".
	Epsilon int64 `koanf:"epsilon"`

	// Theta is the lag growth between two polls that must be exceeded (strictly) for a
	// partition to be considered drifting.
	Theta int64 `koanf:"theta"`

	// MinDuration is how long the stuck predicate must hold continuously before a
	// partition is confirmed stuck. A single transient drift never confirms.
	MinDuration time.Duration `koanf:"minDuration"`
}

func (c *StuckConfig) SetDefaults() {
	c.Epsilon = 1
	c.Theta = 10
	c.MinDuration = 180 * time.Second
}

func (c *StuckConfig) Validate() error {
	if c.Epsilon < 0 {
		return fmt.Errorf("epsilon must not be negative, got '%v'", c.Epsilon)
	}
	if c.Theta < 0 {
		return fmt.Errorf("theta must not be negative, got '%v'", c.Theta)
	}
	if c.MinDuration <= 0 {
		return fmt.Errorf("minDuration must be positive, got '%v'", c.MinDuration)
	}
	return nil
}
