package governance

// GroupHealth is the full derived view of one group after a poll cycle: the snapshot
// itself plus everything the analytics derived from it. The engine hands these to the
// repository, it never writes to storage itself.
type GroupHealth struct {
	Group           ConsumerGroupSnapshot `json:"group"`
	Fairness        FairnessIndex         `json:"fairness"`
	StuckPartitions []StuckPartition      `json:"stuckPartitions"`
	Rollup5m        *RebalanceRollup      `json:"rollup5m,omitempty"`
	Rollup1h        *RebalanceRollup      `json:"rollup1h,omitempty"`
	RebalanceScore  float64               `json:"rebalanceScore"`
	Advice          ConsumerGroupAdvice   `json:"advice"`
}

// Repository is the persistence boundary. The governance engine produces value objects
// and the orchestrator persists them through this interface; implementations decide
// about retention and durability.
type Repository interface {
	SaveGroupHealth(health GroupHealth) error
	SaveMemberSnapshots(members []ConsumerMemberSnapshot) error
	SavePartitionSnapshots(partitions []ConsumerPartitionSnapshot) error
	SaveRebalanceDelta(delta RebalanceDelta) error

	// LatestGroupHealth returns the most recent health record per observed group.
	LatestGroupHealth() ([]GroupHealth, error)
}
