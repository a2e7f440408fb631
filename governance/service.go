package governance

import (
	"context"
	"regexp"
	"time"

	"github.com/jellydator/ttlcache/v2"
	cmap "github.com/orcaman/concurrent-map"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Service orchestrates the governance analytics pipeline: it polls every allowed
// consumer group on a fixed interval, runs collect -> stats -> detect -> diff -> emit
// per group and hands the resulting value objects to the repository and the event hub.
type Service struct {
	cfg    Config
	logger *zap.Logger

	admin      BrokerAdmin
	collector  *SnapshotCollector
	detector   *StuckPartitionDetector
	rebalances *RebalanceTracker
	builder    *DeltaBuilder
	repo       Repository
	hub        *eventHub

	allowedGroupIDsExpr []*regexp.Regexp
	ignoredGroupIDsExpr []*regexp.Regexp

	// requestGroup deduplicates concurrent identical admin lookups, cache keeps the
	// group listing for one poll interval.
	requestGroup *singleflight.Group
	cache        *ttlcache.Cache

	// inflight guards against overlapping pipelines for the same group: a slow group
	// must neither block other groups nor race a later poll of itself.
	inflight cmap.ConcurrentMap

	// lastPartitions and stuckSince hold the per-group detector inputs between polls.
	// Both are only touched inside a group's serialized pipeline.
	lastPartitions cmap.ConcurrentMap
	stuckSince     cmap.ConcurrentMap

	// lastPollErrors is the per-group status map of the most recent poll cycle.
	lastPollErrors cmap.ConcurrentMap

	brokerReachable  *atomic.Bool
	collectorHealthy *atomic.Bool
}

func NewService(cfg Config, logger *zap.Logger, admin BrokerAdmin, repo Repository) (*Service, error) {
	// Compile regexes. We can ignore the errors because valid compilation has been validated already
	allowedGroupIDsExpr, _ := compileRegexes(cfg.AllowedGroupIDs)
	ignoredGroupIDsExpr, _ := compileRegexes(cfg.IgnoredGroupIDs)

	cache := ttlcache.NewCache()
	cache.SetTTL(cfg.PollInterval)

	return &Service{
		cfg:    cfg,
		logger: logger,

		admin:      admin,
		collector:  NewSnapshotCollector(cfg.ClusterID, admin, logger),
		detector:   NewStuckPartitionDetector(cfg.Stuck, logger),
		rebalances: NewRebalanceTracker(cfg.Rebalance, logger),
		builder:    NewDeltaBuilder(cfg.Events, logger),
		repo:       repo,
		hub:        newEventHub(cfg.Events.SubscriberBufferSize, logger),

		allowedGroupIDsExpr: allowedGroupIDsExpr,
		ignoredGroupIDsExpr: ignoredGroupIDsExpr,

		requestGroup: &singleflight.Group{},
		cache:        cache,

		inflight:       cmap.New(),
		lastPartitions: cmap.New(),
		stuckSince:     cmap.New(),
		lastPollErrors: cmap.New(),

		brokerReachable:  atomic.NewBool(false),
		collectorHealthy: atomic.NewBool(false),
	}, nil
}

// Collector exposes the snapshot collector for callers that want single collections
// outside of the poll loop.
func (s *Service) Collector() *SnapshotCollector { return s.collector }

// Builder exposes the delta builder's explicit event constructors.
func (s *Service) Builder() *DeltaBuilder { return s.builder }

// Subscribe registers an event stream subscriber. The returned channel is closed when
// ctx is cancelled; a cancelled subscriber stops receiving without affecting polling or
// other subscribers.
func (s *Service) Subscribe(ctx context.Context) <-chan Event {
	return s.hub.subscribe(ctx)
}

// Start runs the poll loop until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info("starting consumer group governance pollers",
		zap.String("cluster_id", s.cfg.ClusterID),
		zap.Duration("poll_interval", s.cfg.PollInterval))

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	s.pollAllGroups(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.pollAllGroups(ctx)
		}
	}
}

// ListConsumerGroupIDs lists the cluster's consumer groups, deduplicating concurrent
// callers and caching the response for one poll interval.
func (s *Service) ListConsumerGroupIDs(ctx context.Context) ([]string, error) {
	key := "list-consumer-groups"
	if cached, err := s.cache.Get(key); err == nil {
		return cached.([]string), nil
	}

	res, err, _ := s.requestGroup.Do(key, func() (interface{}, error) {
		groupIDs, err := s.admin.ListConsumerGroups(ctx)
		if err != nil {
			return nil, err
		}
		_ = s.cache.Set(key, groupIDs)
		return groupIDs, nil
	})
	if err != nil {
		return nil, err
	}

	return res.([]string), nil
}

// PollErrors returns the per-group error map of the most recent poll cycle. Groups that
// polled cleanly are absent.
func (s *Service) PollErrors() map[string]error {
	pollErrors := make(map[string]error)
	for groupID, err := range s.lastPollErrors.Items() {
		pollErrors[groupID] = err.(error)
	}
	return pollErrors
}

// IsHealthy reports whether the last poll cycle reached the broker and collected every
// group without failures.
func (s *Service) IsHealthy() bool {
	return s.brokerReachable.Load() && s.collectorHealthy.Load()
}

// pollAllGroups runs one poll cycle over all allowed groups. A failing group never
// fails the batch; its error is recorded in the per-group status map instead.
func (s *Service) pollAllGroups(ctx context.Context) {
	cycleStart := time.Now().UTC()

	groupIDs, err := s.ListConsumerGroupIDs(ctx)
	if err != nil {
		s.logger.Error("failed to list consumer groups", zap.Error(err))
		s.brokerReachable.Store(false)
		s.collectorHealthy.Store(false)
		s.hub.publish(s.builder.BuildSystemHealthEvent(s.cfg.ClusterID, cycleStart, false, false, 0, 0))
		return
	}
	s.brokerReachable.Store(true)

	eg, egCtx := errgroup.WithContext(ctx)
	statuses := cmap.New()
	polled := 0
	for _, groupID := range groupIDs {
		if !s.IsGroupAllowed(groupID) {
			continue
		}
		polled++
		groupID := groupID
		eg.Go(func() error {
			if err := s.pollGroup(egCtx, groupID); err != nil {
				s.logger.Warn("failed to poll consumer group",
					zap.String("group_id", groupID),
					zap.Error(err))
				statuses.Set(groupID, err)
			}
			return nil
		})
	}
	_ = eg.Wait()

	s.lastPollErrors.Clear()
	for groupID, pollErr := range statuses.Items() {
		s.lastPollErrors.Set(groupID, pollErr)
	}

	failed := statuses.Count()
	s.collectorHealthy.Store(failed == 0)
	s.hub.publish(s.builder.BuildSystemHealthEvent(
		s.cfg.ClusterID, time.Now().UTC(), true, failed == 0, polled, failed))
}

// pollGroup runs the sequential pipeline for one group: collect, compute statistics,
// detect, diff, persist, emit. The pipeline is bounded by the configured group timeout
// and skipped entirely while a previous pipeline for the same group is still running,
// which also keeps same-group diffs in ts order.
func (s *Service) pollGroup(ctx context.Context, groupID string) error {
	if !s.inflight.SetIfAbsent(groupID, struct{}{}) {
		s.logger.Warn("skipping poll, previous pipeline for this group is still running",
			zap.String("group_id", groupID))
		return nil
	}
	defer s.inflight.Remove(groupID)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.GroupTimeout)
	defer cancel()

	collection, err := s.collector.Collect(ctx, groupID)
	if err != nil {
		if errors.Is(err, ErrGroupNotFound) {
			// The group vanished between listing and describing it. That is expected
			// churn, not a failure: drop its detector state so a recreated group starts
			// cold.
			s.logger.Debug("consumer group disappeared before it could be described",
				zap.String("group_id", groupID))
			s.lastPartitions.Remove(groupID)
			s.stuckSince.Remove(groupID)
			return nil
		}
		return err
	}

	events := make([]Event, 0, 4)

	// The advisor needs the pre-diff lag sample, so read it before the diff overwrites
	// the builder's cache.
	prevP95 := s.builder.PreviousP95(s.cfg.ClusterID, groupID)
	events = append(events, s.builder.CalculateDelta(collection.Group)...)

	if delta := s.rebalances.Observe(collection.Group, collection.Members, collection.Partitions); delta != nil {
		events = append(events, s.builder.BuildAssignmentChangedEvent(*delta))
		if err := s.repo.SaveRebalanceDelta(*delta); err != nil {
			s.logger.Error("failed to persist rebalance delta", zap.String("group_id", groupID), zap.Error(err))
		}
	}

	stuck := s.detectStuck(groupID, collection.Partitions)
	for _, sp := range stuck {
		events = append(events, s.builder.BuildStuckEvent(sp))
	}

	fairness := CalculateFairness(collection.Members, s.cfg.Fairness.Bands)
	if fairness.GiniCoefficient > s.cfg.Fairness.WarnThreshold {
		events = append(events, s.builder.BuildFairnessWarnEvent(
			s.cfg.ClusterID, groupID, collection.Group.Ts, fairness, s.cfg.Fairness.WarnThreshold))
	}

	rollup5m := s.rebalances.Rollup(s.cfg.ClusterID, groupID, RollupWindow5m, collection.Group.Ts)
	rollup1h := s.rebalances.Rollup(s.cfg.ClusterID, groupID, RollupWindow1h, collection.Group.Ts)

	advice := GenerateAdvice(AdviceInput{
		Group:           collection.Group,
		Fairness:        fairness,
		Rollup:          rollup5m,
		ScoreAlpha:      s.cfg.Rebalance.ScoreAlpha,
		TotalPartitions: len(collection.Partitions),
		PrevP95:         prevP95,
	}, s.cfg.Advisor)
	if advice.AssignorRecommendation != nil || advice.StaticMembershipRecommended || advice.ScaleRecommendation != ScaleActionNone {
		events = append(events, s.builder.BuildAdvisorEvent(advice))
	}

	health := GroupHealth{
		Group:           collection.Group,
		Fairness:        fairness,
		StuckPartitions: stuck,
		Rollup5m:        rollup5m,
		Rollup1h:        rollup1h,
		Advice:          advice,
	}
	if rollup5m != nil {
		health.RebalanceScore = RebalanceScore(*rollup5m, s.cfg.Rebalance.ScoreAlpha)
	} else {
		health.RebalanceScore = 100
	}

	if err := s.repo.SaveGroupHealth(health); err != nil {
		s.logger.Error("failed to persist group health", zap.String("group_id", groupID), zap.Error(err))
	}
	if err := s.repo.SaveMemberSnapshots(collection.Members); err != nil {
		s.logger.Error("failed to persist member snapshots", zap.String("group_id", groupID), zap.Error(err))
	}
	if err := s.repo.SavePartitionSnapshots(collection.Partitions); err != nil {
		s.logger.Error("failed to persist partition snapshots", zap.String("group_id", groupID), zap.Error(err))
	}

	s.hub.publish(events...)
	return nil
}

// detectStuck runs the stuck detector against the previous poll's partition snapshots
// and updates the per-group detector state.
func (s *Service) detectStuck(groupID string, partitions []ConsumerPartitionSnapshot) []StuckPartition {
	var prevPartitions []ConsumerPartitionSnapshot
	if value, exists := s.lastPartitions.Get(groupID); exists {
		prevPartitions = value.([]ConsumerPartitionSnapshot)
	}

	since := make(map[string]time.Time)
	if value, exists := s.stuckSince.Get(groupID); exists {
		since = value.(map[string]time.Time)
	}

	stuck := s.detector.DetectStuckPartitions(prevPartitions, partitions, since)

	s.stuckSince.Set(groupID, since)
	s.lastPartitions.Set(groupID, partitions)

	return stuck
}
