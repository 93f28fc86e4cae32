package metrics

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMemoryMetrics_Counter(t *testing.T) {
	m := NewMemoryMetrics()

	m.IncrementCounter("attempts", map[string]string{"code": "KEY_MISMATCH"})
	m.AddCounter("attempts", 2, map[string]string{"code": "KEY_MISMATCH"})
	m.AddCounter("attempts", -5, map[string]string{"code": "KEY_MISMATCH"})

	assert.Equal(t, float64(3), m.GetCounter("attempts", map[string]string{"code": "KEY_MISMATCH"}))
	assert.Equal(t, float64(0), m.GetCounter("attempts", nil))
}

func TestMemoryMetrics_Gauge(t *testing.T) {
	m := NewMemoryMetrics()

	m.SetGauge("sessions", 5, nil)
	m.AddGauge("sessions", -2, nil)
	assert.Equal(t, float64(3), m.GetGauge("sessions", nil))
}

func TestMemoryMetrics_Histogram(t *testing.T) {
	m := NewMemoryMetrics()

	for _, v := range []float64{12, 4, 20} {
		m.ObserveHistogram("rtt", v, nil)
	}

	s := m.GetHistogram("rtt", nil)
	assert.Equal(t, uint64(3), s.Count)
	assert.Equal(t, float64(4), s.Min)
	assert.Equal(t, float64(20), s.Max)
	assert.Equal(t, float64(12), s.Mean())
}

func TestBuildKey_StableLabelOrder(t *testing.T) {
	a := buildKey("x", map[string]string{"b": "2", "a": "1"})
	b := buildKey("x", map[string]string{"a": "1", "b": "2"})
	assert.Equal(t, "x{a=1,b=2}", a)
	assert.Equal(t, a, b)
}

func TestMemoryMetrics_Concurrent(t *testing.T) {
	m := NewMemoryMetrics()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.IncrementCounter("c", nil)
				m.AddGauge("g", 1, nil)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, float64(5000), m.GetCounter("c", nil))
	assert.Equal(t, float64(5000), m.GetGauge("g", nil))
}

func TestPairingHelpers(t *testing.T) {
	m := NewMemoryMetrics()
	prev := GetGlobalMetrics()
	SetGlobalMetrics(m)
	defer SetGlobalMetrics(prev)

	SessionOpened()
	SessionOpened()
	SessionClosed("PEER_UNREACHABLE")
	HandshakeFailed("KEY_MISMATCH")
	KeyRotated()
	ObserveHeartbeatRTT(8)

	snap := m.Snapshot()
	assert.Equal(t, float64(1), snap.Gauges[MetricSessionsActive])
	assert.Equal(t, float64(1), snap.Counters[MetricSessionsClosed+"{reason=PEER_UNREACHABLE}"])
	assert.Equal(t, float64(1), snap.Counters[MetricHandshakeFailed+"{code=KEY_MISMATCH}"])
	assert.Equal(t, float64(1), snap.Counters[MetricKeyRotations])
	assert.Equal(t, uint64(1), snap.Histograms[MetricHeartbeatRTT].Count)
}
