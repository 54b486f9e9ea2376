package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestUnregisteredIsNoop(t *testing.T) {
	var nilMetrics *Metrics
	assert.NotPanics(t, func() {
		nilMetrics.ObserveTx("spawn", 0)
		New().ObserveTx("spawn", 0)
		New().ObserveBlock(1, 2, 3, 4)
		New().IncUpgrade()
	})
}

func TestRegisterAndObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New()
	m.Register(reg)
	m.Register(reg)

	m.ObserveTx("spawn", 0)
	m.ObserveTx("spawn", 0)
	m.ObserveTx("spawn", 2)
	m.ObserveBlock(7, 3, 1, 0)
	m.IncUpgrade()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.txTotal.WithLabelValues("spawn", "0")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.txTotal.WithLabelValues("spawn", "2")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.height))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.activeGalaxies))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.upgrades))
}
