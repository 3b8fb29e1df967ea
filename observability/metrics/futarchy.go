package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type FutarchyMetrics struct {
	queueDepth        *prometheus.GaugeVec
	activeProposals   *prometheus.GaugeVec
	twapSamples       *prometheus.CounterVec
	feePaused         *prometheus.GaugeVec
	stageAdvances     *prometheus.CounterVec
	bondsSlashed      *prometheus.CounterVec
	coExecutions      *prometheus.CounterVec
}

var (
	futarchyOnce     sync.Once
	futarchyRegistry *FutarchyMetrics
)

func Futarchy() *FutarchyMetrics {
	futarchyOnce.Do(func() {
		futarchyRegistry = &FutarchyMetrics{
			queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "futarchy_queue_depth",
				Help: "Number of proposals currently waiting in the admission queue.",
			}, []string{"dao_id"}),
			activeProposals: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "futarchy_active_proposals",
				Help: "Number of proposals currently in REVIEW or TRADING.",
			}, []string{"dao_id"}),
			twapSamples: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "futarchy_twap_samples_total",
				Help: "Count of oracle observations recorded, by proposal and outcome.",
			}, []string{"proposal_id", "outcome"}),
			feePaused: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "futarchy_fee_paused",
				Help: "1 if the DAO is currently auto-paused for insufficient treasury, else 0.",
			}, []string{"dao_id"}),
			stageAdvances: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "futarchy_stage_advances_total",
				Help: "Count of successful AdvanceStage calls by resulting state.",
			}, []string{"state"}),
			bondsSlashed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "futarchy_bonds_slashed_total",
				Help: "Count of bonds slashed on stale-proposal eviction, by recipient.",
			}, []string{"recipient"}),
			coExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "futarchy_co_executions_total",
				Help: "Count of completed bilateral council co-executions by resource key.",
			}, []string{"resource_key"}),
		}
		prometheus.MustRegister(
			futarchyRegistry.queueDepth,
			futarchyRegistry.activeProposals,
			futarchyRegistry.twapSamples,
			futarchyRegistry.feePaused,
			futarchyRegistry.stageAdvances,
			futarchyRegistry.bondsSlashed,
			futarchyRegistry.coExecutions,
		)
	})
	return futarchyRegistry
}

func (m *FutarchyMetrics) SetQueueDepth(daoID string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(daoID).Set(float64(depth))
}

func (m *FutarchyMetrics) SetActiveProposals(daoID string, count int) {
	if m == nil {
		return
	}
	m.activeProposals.WithLabelValues(daoID).Set(float64(count))
}

func (m *FutarchyMetrics) ObserveTwapSample(proposalID, outcome string) {
	if m == nil {
		return
	}
	m.twapSamples.WithLabelValues(proposalID, outcome).Inc()
}

func (m *FutarchyMetrics) SetFeePaused(daoID string, paused bool) {
	if m == nil {
		return
	}
	value := 0.0
	if paused {
		value = 1.0
	}
	m.feePaused.WithLabelValues(daoID).Set(value)
}

func (m *FutarchyMetrics) ObserveStageAdvance(state string) {
	if m == nil {
		return
	}
	m.stageAdvances.WithLabelValues(state).Inc()
}

func (m *FutarchyMetrics) ObserveBondSlashed(recipient string) {
	if m == nil {
		return
	}
	m.bondsSlashed.WithLabelValues(recipient).Inc()
}

func (m *FutarchyMetrics) ObserveCoExecution(resourceKey string) {
	if m == nil {
		return
	}
	m.coExecutions.WithLabelValues(resourceKey).Inc()
}
