package governance

import "context"

// GroupMemberDescription is one member as reported by the group coordinator.
type GroupMemberDescription struct {
	MemberID    string
	ClientID    string
	ClientHost  string
	Assignments []TopicPartition
}

// GroupDescription is the coordinator's view of a consumer group.
type GroupDescription struct {
	GroupID      string
	State        GroupState
	ProtocolType string

	// Protocol is the negotiated assignor protocol name, empty while the group
	// is empty or dead.
	Protocol string

	CoordinatorID int32
	Members       []GroupMemberDescription
}

// BrokerAdmin is the read-only broker capability this engine observes the cluster
// through. Implementations must map the broker's "no committed offset" sentinel to a nil
// offset and return ErrGroupNotFound (wrapped is fine) when a group cannot be described.
type BrokerAdmin interface {
	ListConsumerGroups(ctx context.Context) ([]string, error)
	DescribeConsumerGroup(ctx context.Context, groupID string) (*GroupDescription, error)

	// GetCommittedOffsets returns the committed offset for exactly the requested
	// partitions. Partitions without a commit map to a nil offset.
	GetCommittedOffsets(ctx context.Context, groupID string, partitions []TopicPartition) (map[TopicPartition]*int64, error)

	// GetLatestOffsets returns the log end offset (high watermark) for the requested
	// partitions. Partitions whose watermark could not be fetched are absent from the map.
	GetLatestOffsets(ctx context.Context, partitions []TopicPartition) (map[TopicPartition]int64, error)
}
