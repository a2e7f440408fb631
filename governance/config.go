package governance

import (
	"fmt"
	"time"
)

type Config struct {
	// ClusterID is the identifier this engine stamps onto every snapshot and event it
	// produces for this cluster.
	ClusterID string `koanf:"clusterId"`

	// PollInterval is how often each consumer group is snapshotted.
	PollInterval time.Duration `koanf:"pollInterval"`

	// GroupTimeout bounds a single group's collect pipeline so one slow or hung group
	// lookup can never stall the pollers of other groups.
	GroupTimeout time.Duration `koanf:"groupTimeout"`

	// AllowedGroupIDs are regex strings (or literals) of group ids that shall be observed.
	AllowedGroupIDs []string `koanf:"allowedGroups"`

	// IgnoredGroupIDs are regex strings (or literals) of group ids that shall be skipped.
	// Ignored groups take precedence over allowed groups.
	IgnoredGroupIDs []string `koanf:"ignoredGroups"`

	Fairness  FairnessConfig  `koanf:"fairness"`
	Stuck     StuckConfig     `koanf:"stuck"`
	Rebalance RebalanceConfig `koanf:"rebalance"`
	Advisor   AdvisorConfig   `koanf:"advisor"`
	Events    EventsConfig    `koanf:"events"`
}

func (c *Config) SetDefaults() {
	c.ClusterID = "default"
	c.PollInterval = 30 * time.Second
	c.GroupTimeout = 15 * time.Second
	c.AllowedGroupIDs = []string{"/.*/"}

	c.Fairness.SetDefaults()
	c.Stuck.SetDefaults()
	c.Rebalance.SetDefaults()
	c.Advisor.SetDefaults()
	c.Events.SetDefaults()
}

func (c *Config) Validate() error {
	if c.PollInterval < time.Second {
		return fmt.Errorf("poll interval must be at least 1s, got '%v'", c.PollInterval)
	}
	if c.GroupTimeout < 10*time.Second || c.GroupTimeout > 30*time.Second {
		return fmt.Errorf("group timeout must be between 10s and 30s, got '%v'", c.GroupTimeout)
	}

	for _, groupID := range c.AllowedGroupIDs {
		if _, err := compileRegex(groupID); err != nil {
			return fmt.Errorf("allowed group string '%v' is not valid regex", groupID)
		}
	}
	for _, groupID := range c.IgnoredGroupIDs {
		if _, err := compileRegex(groupID); err != nil {
			return fmt.Errorf("ignored group string '%v' is not valid regex", groupID)
		}
	}

	if err := c.Fairness.Validate(); err != nil {
		return fmt.Errorf("failed to validate fairness config: %w", err)
	}
	if err := c.Stuck.Validate(); err != nil {
		return fmt.Errorf("failed to validate stuck detector config: %w", err)
	}
	if err := c.Rebalance.Validate(); err != nil {
		return fmt.Errorf("failed to validate rebalance config: %w", err)
	}
	if err := c.Advisor.Validate(); err != nil {
		return fmt.Errorf("failed to validate advisor config: %w", err)
	}
	if err := c.Events.Validate(); err != nil {
		return fmt.Errorf("failed to validate events config: %w", err)
	}

	return nil
}
