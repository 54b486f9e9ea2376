// Package metrics exports node counters to Prometheus.
package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "azimuth"

// Metrics is safe to use before Register; observations are then dropped.
type Metrics struct {
	txTotal        *prometheus.CounterVec
	height         prometheus.Gauge
	activeGalaxies prometheus.Gauge
	openProposals  *prometheus.GaugeVec
	upgrades       prometheus.Counter

	registerOnce sync.Once
}

func New() *Metrics {
	return &Metrics{}
}

// Register is idempotent. A nil registry is a no-op.
func (m *Metrics) Register(registry prometheus.Registerer) {
	if m == nil || registry == nil {
		return
	}
	m.registerOnce.Do(func() {
		factory := promauto.With(registry)

		m.txTotal = factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "txs_total",
			Help:      "Finalized transactions by type and result code",
		}, []string{"type", "code"})

		m.height = factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "height",
			Help:      "Last finalized block height",
		})

		m.activeGalaxies = factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_galaxies",
			Help:      "Number of active galaxies, the size of the senate",
		})

		m.openProposals = factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "proposals",
			Help:      "Proposals ever polled, by kind",
		}, []string{"kind"})

		m.upgrades = factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upgrades_total",
			Help:      "Controller upgrades performed",
		})
	})
}

func (m *Metrics) ObserveTx(tp string, code uint32) {
	if m == nil || m.txTotal == nil {
		return
	}
	m.txTotal.WithLabelValues(tp, strconv.FormatUint(uint64(code), 10)).Inc()
}

func (m *Metrics) ObserveBlock(height uint64, activeGalaxies uint16, documents, upgrades int) {
	if m == nil || m.height == nil {
		return
	}
	m.height.Set(float64(height))
	m.activeGalaxies.Set(float64(activeGalaxies))
	m.openProposals.WithLabelValues("document").Set(float64(documents))
	m.openProposals.WithLabelValues("upgrade").Set(float64(upgrades))
}

func (m *Metrics) IncUpgrade() {
	if m == nil || m.upgrades == nil {
		return
	}
	m.upgrades.Inc()
}
