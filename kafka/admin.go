package kafka

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"go.uber.org/zap"

	"github.com/cloudhut/ksentinel/governance"
)

// Admin implements the governance.BrokerAdmin capability on top of the Kafka admin API.
// It is strictly read-only.
type Admin struct {
	client *kadm.Client
	logger *zap.Logger
}

func NewAdmin(svc *Service, logger *zap.Logger) *Admin {
	return &Admin{
		client: svc.AdminClient,
		logger: logger.Named("broker_admin"),
	}
}

// classifyBrokerError marks network level failures and timeouts as
// governance.ErrBrokerUnavailable so callers can errors.Is-match the retryable class
// without inspecting transport internals.
func classifyBrokerError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", governance.ErrBrokerUnavailable, err)
	}
	return err
}

func (a *Admin) ListConsumerGroups(ctx context.Context) ([]string, error) {
	listedGroups, err := a.client.ListGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list consumer groups: %w", classifyBrokerError(err))
	}
	return listedGroups.Groups(), nil
}

func (a *Admin) DescribeConsumerGroup(ctx context.Context, groupID string) (*governance.GroupDescription, error) {
	describedGroups, err := a.client.DescribeGroups(ctx, groupID)
	if err != nil {
		var se *kadm.ShardErrors
		if !errors.As(err, &se) {
			return nil, fmt.Errorf("failed to describe consumer group '%v': %w", groupID, classifyBrokerError(err))
		}
		if se.AllFailed {
			return nil, fmt.Errorf("failed to describe consumer group '%v', all shard responses failed: %w: %w", groupID, governance.ErrBrokerUnavailable, err)
		}
	}

	described, exists := describedGroups[groupID]
	if !exists {
		return nil, fmt.Errorf("broker returned no description for group '%v': %w", groupID, governance.ErrGroupNotFound)
	}
	if described.Err != nil {
		if errors.Is(described.Err, kerr.GroupIDNotFound) {
			return nil, fmt.Errorf("group '%v': %w", groupID, governance.ErrGroupNotFound)
		}
		return nil, fmt.Errorf("failed to describe consumer group '%v'. Inner kafka error: %w", groupID, described.Err)
	}

	description := &governance.GroupDescription{
		GroupID:       described.Group,
		State:         governance.ParseGroupState(described.State),
		ProtocolType:  described.ProtocolType,
		Protocol:      described.Protocol,
		CoordinatorID: described.Coordinator.NodeID,
		Members:       make([]governance.GroupMemberDescription, 0, len(described.Members)),
	}

	for _, member := range described.Members {
		memberDescription := governance.GroupMemberDescription{
			MemberID:   member.MemberID,
			ClientID:   member.ClientID,
			ClientHost: member.ClientHost,
		}
		// Assignments are only decodable for the "consumer" protocol type. Connect and
		// other coordinator users get an empty assignment list.
		if assignment, ok := member.Assigned.AsConsumer(); ok {
			for _, topic := range assignment.Topics {
				for _, partition := range topic.Partitions {
					memberDescription.Assignments = append(memberDescription.Assignments, governance.TopicPartition{
						Topic:     topic.Topic,
						Partition: partition,
					})
				}
			}
		}
		description.Members = append(description.Members, memberDescription)
	}

	return description, nil
}

func (a *Admin) GetCommittedOffsets(ctx context.Context, groupID string, partitions []governance.TopicPartition) (map[governance.TopicPartition]*int64, error) {
	offsetRes, err := a.client.FetchOffsets(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch committed offsets for group '%v': %w", groupID, classifyBrokerError(err))
	}
	if err := offsetRes.Error(); err != nil {
		if errors.Is(err, kerr.GroupIDNotFound) {
			return nil, fmt.Errorf("group '%v': %w", groupID, governance.ErrGroupNotFound)
		}
		return nil, fmt.Errorf("failed to fetch committed offsets for group '%v'. Inner kafka error: %w", groupID, err)
	}

	committed := make(map[governance.TopicPartition]*int64, len(partitions))
	for _, tp := range partitions {
		// Brokers report -1 for partitions the group never committed on; that maps to
		// "no committed offset", not to an offset of -1.
		committed[tp] = nil
		if res, exists := offsetRes.Lookup(tp.Topic, tp.Partition); exists && res.Err == nil && res.At >= 0 {
			offset := res.At
			committed[tp] = &offset
		}
	}

	return committed, nil
}

func (a *Admin) GetLatestOffsets(ctx context.Context, partitions []governance.TopicPartition) (map[governance.TopicPartition]int64, error) {
	topicSet := make(map[string]struct{})
	for _, tp := range partitions {
		topicSet[tp.Topic] = struct{}{}
	}
	topics := make([]string, 0, len(topicSet))
	for topic := range topicSet {
		topics = append(topics, topic)
	}
	if len(topics) == 0 {
		return map[governance.TopicPartition]int64{}, nil
	}

	listedOffsets, err := a.client.ListEndOffsets(ctx, topics...)
	if err != nil {
		var se *kadm.ShardErrors
		if !errors.As(err, &se) {
			return nil, fmt.Errorf("failed to list end offsets: %w", classifyBrokerError(err))
		}
		if se.AllFailed {
			return nil, fmt.Errorf("failed to list end offsets, all shard responses failed: %w: %w", governance.ErrBrokerUnavailable, err)
		}
		a.logger.Warn("failed to list end offsets from some shards", zap.Int("failed_shards", len(se.Errs)))
	}

	latest := make(map[governance.TopicPartition]int64, len(partitions))
	for _, tp := range partitions {
		listed, exists := listedOffsets.Lookup(tp.Topic, tp.Partition)
		if !exists {
			continue
		}
		if listed.Err != nil {
			a.logger.Debug("failed to get partition high water mark, inner kafka error",
				zap.String("topic", tp.Topic),
				zap.Int32("partition", tp.Partition),
				zap.Error(listed.Err))
			continue
		}
		latest[tp] = listed.Offset
	}

	return latest, nil
}
