package governance

import "fmt"

type EventsConfig struct {
	// LagSpikeDelta is the total lag growth between two consecutive polls (not a sliding
	// window) at which a lag_spike event fires.
	LagSpikeDelta int64 `koanf:"lagSpikeDelta"`

	// SubscriberBufferSize is the channel buffer per event stream subscriber. Slow
	// subscribers drop events once their buffer is full instead of blocking the pollers.
	SubscriberBufferSize int `koanf:"subscriberBufferSize"`
}

func (c *EventsConfig) SetDefaults() {
	c.LagSpikeDelta = 10000
	c.SubscriberBufferSize = 128
}

func (c *EventsConfig) Validate() error {
	if c.LagSpikeDelta <= 0 {
		return fmt.Errorf("lagSpikeDelta must be positive, got '%v'", c.LagSpikeDelta)
	}
	if c.SubscriberBufferSize <= 0 {
		return fmt.Errorf("subscriberBufferSize must be positive, got '%v'", c.SubscriberBufferSize)
	}
	return nil
}
