package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/cloudhut/ksentinel/governance"
)

// Exporter implements the prometheus.Collector interface and exposes the latest
// governance analytics per consumer group on every scrape.
type Exporter struct {
	cfg    Config
	logger *zap.Logger

	governanceSvc *governance.Service
	repo          governance.Repository

	// Exporter metrics
	exporterUp *prometheus.Desc

	// Governance metrics
	groupInfo           *prometheus.Desc
	groupMemberCount    *prometheus.Desc
	groupTotalLag       *prometheus.Desc
	groupP95Lag         *prometheus.Desc
	groupMaxLag         *prometheus.Desc
	groupGini           *prometheus.Desc
	groupStuckCount     *prometheus.Desc
	groupRebalanceScore *prometheus.Desc
	groupRebalances1h   *prometheus.Desc
	groupSLOCompliance  *prometheus.Desc
	pollErrors          *prometheus.Desc
}

func NewExporter(cfg Config, logger *zap.Logger, governanceSvc *governance.Service, repo governance.Repository) (*Exporter, error) {
	return &Exporter{cfg: cfg, logger: logger, governanceSvc: governanceSvc, repo: repo}, nil
}

func (e *Exporter) InitializeMetrics() {
	e.exporterUp = prometheus.NewDesc(
		prometheus.BuildFQName(e.cfg.Namespace, "exporter", "up"),
		"Gauge that reports 1 as long as the last poll cycle reached the broker and collected every group.",
		nil,
		nil,
	)
	e.groupInfo = prometheus.NewDesc(
		prometheus.BuildFQName(e.cfg.Namespace, "consumer_group", "info"),
		"Consumer group info. Reports 1 if the group is in the Stable state, otherwise 0.",
		[]string{"cluster_id", "group_id", "state", "assignor"},
		nil,
	)
	e.groupMemberCount = prometheus.NewDesc(
		prometheus.BuildFQName(e.cfg.Namespace, "consumer_group", "members"),
		"Number of members in the consumer group.",
		[]string{"cluster_id", "group_id"},
		nil,
	)
	e.groupTotalLag = prometheus.NewDesc(
		prometheus.BuildFQName(e.cfg.Namespace, "consumer_group", "lag_total"),
		"Sum of the lag over all partitions assigned to the group.",
		[]string{"cluster_id", "group_id"},
		nil,
	)
	e.groupP95Lag = prometheus.NewDesc(
		prometheus.BuildFQName(e.cfg.Namespace, "consumer_group", "lag_p95"),
		"95th percentile of the per partition lag of the group.",
		[]string{"cluster_id", "group_id"},
		nil,
	)
	e.groupMaxLag = prometheus.NewDesc(
		prometheus.BuildFQName(e.cfg.Namespace, "consumer_group", "lag_max"),
		"Largest per partition lag of the group.",
		[]string{"cluster_id", "group_id"},
		nil,
	)
	e.groupGini = prometheus.NewDesc(
		prometheus.BuildFQName(e.cfg.Namespace, "consumer_group", "assignment_gini"),
		"Gini coefficient of the per member partition assignment counts. 0 is perfectly even.",
		[]string{"cluster_id", "group_id", "class"},
		nil,
	)
	e.groupStuckCount = prometheus.NewDesc(
		prometheus.BuildFQName(e.cfg.Namespace, "consumer_group", "stuck_partitions"),
		"Number of partitions confirmed stuck in the latest poll cycle.",
		[]string{"cluster_id", "group_id"},
		nil,
	)
	e.groupRebalanceScore = prometheus.NewDesc(
		prometheus.BuildFQName(e.cfg.Namespace, "consumer_group", "rebalance_score"),
		"Rebalance stability score from 0 (churning) to 100 (stable).",
		[]string{"cluster_id", "group_id"},
		nil,
	)
	e.groupRebalances1h = prometheus.NewDesc(
		prometheus.BuildFQName(e.cfg.Namespace, "consumer_group", "rebalances_hourly"),
		"Number of assignment changes observed within the last hour.",
		[]string{"cluster_id", "group_id"},
		nil,
	)
	e.groupSLOCompliance = prometheus.NewDesc(
		prometheus.BuildFQName(e.cfg.Namespace, "consumer_group", "slo_compliance_rate"),
		"How well the group's p95 lag complies with the configured target, from 0 to 1.",
		[]string{"cluster_id", "group_id"},
		nil,
	)
	e.pollErrors = prometheus.NewDesc(
		prometheus.BuildFQName(e.cfg.Namespace, "collector", "poll_errors"),
		"Number of groups whose last poll failed.",
		nil,
		nil,
	)
}

// Describe implements the prometheus.Collector interface.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- e.exporterUp
	ch <- e.groupInfo
	ch <- e.groupMemberCount
	ch <- e.groupTotalLag
	ch <- e.groupP95Lag
	ch <- e.groupMaxLag
	ch <- e.groupGini
	ch <- e.groupStuckCount
	ch <- e.groupRebalanceScore
	ch <- e.groupRebalances1h
	ch <- e.groupSLOCompliance
	ch <- e.pollErrors
}

// Collect implements the prometheus.Collector interface. It only reads already
// collected state, a scrape never triggers broker requests.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	up := 0.0
	if e.governanceSvc.IsHealthy() {
		up = 1.0
	}
	ch <- prometheus.MustNewConstMetric(e.exporterUp, prometheus.GaugeValue, up)
	ch <- prometheus.MustNewConstMetric(e.pollErrors, prometheus.GaugeValue, float64(len(e.governanceSvc.PollErrors())))

	healths, err := e.repo.LatestGroupHealth()
	if err != nil {
		e.logger.Error("failed to read latest group health from the repository", zap.Error(err))
		return
	}

	for _, health := range healths {
		e.collectGroupHealth(ch, health)
	}
}

func (e *Exporter) collectGroupHealth(ch chan<- prometheus.Metric, health governance.GroupHealth) {
	group := health.Group

	isStable := 0.0
	if group.State == governance.GroupStateStable {
		isStable = 1.0
	}
	assignor := string(governance.AssignorUnknown)
	if group.Assignor != nil {
		assignor = string(*group.Assignor)
	}
	ch <- prometheus.MustNewConstMetric(e.groupInfo, prometheus.GaugeValue, isStable,
		group.ClusterID, group.GroupID, string(group.State), assignor)

	ch <- prometheus.MustNewConstMetric(e.groupMemberCount, prometheus.GaugeValue,
		float64(group.MemberCount), group.ClusterID, group.GroupID)
	ch <- prometheus.MustNewConstMetric(e.groupTotalLag, prometheus.GaugeValue,
		float64(group.LagStats.TotalLag), group.ClusterID, group.GroupID)
	ch <- prometheus.MustNewConstMetric(e.groupP95Lag, prometheus.GaugeValue,
		group.LagStats.P95Lag, group.ClusterID, group.GroupID)
	ch <- prometheus.MustNewConstMetric(e.groupMaxLag, prometheus.GaugeValue,
		float64(group.LagStats.MaxLag), group.ClusterID, group.GroupID)
	ch <- prometheus.MustNewConstMetric(e.groupGini, prometheus.GaugeValue,
		health.Fairness.GiniCoefficient, group.ClusterID, group.GroupID, string(health.Fairness.Class))
	ch <- prometheus.MustNewConstMetric(e.groupStuckCount, prometheus.GaugeValue,
		float64(len(health.StuckPartitions)), group.ClusterID, group.GroupID)
	ch <- prometheus.MustNewConstMetric(e.groupRebalanceScore, prometheus.GaugeValue,
		health.RebalanceScore, group.ClusterID, group.GroupID)
	ch <- prometheus.MustNewConstMetric(e.groupSLOCompliance, prometheus.GaugeValue,
		health.Advice.SLOComplianceRate, group.ClusterID, group.GroupID)

	if health.Rollup1h != nil {
		ch <- prometheus.MustNewConstMetric(e.groupRebalances1h, prometheus.GaugeValue,
			float64(health.Rollup1h.Rebalances), group.ClusterID, group.GroupID)
	}
}
