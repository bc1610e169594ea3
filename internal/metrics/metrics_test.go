package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCollector(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()

	collector := NewCollector()

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.applyTotal)
	assert.NotNil(t, collector.applyErrorsTotal)
	assert.NotNil(t, collector.applyDuration)
	assert.NotNil(t, collector.tickTotal)
	assert.NotNil(t, collector.scheduledFired)
	assert.NotNil(t, collector.postOpTaskPanics)
	assert.NotNil(t, collector.segmentAppendsTotal)
	assert.NotNil(t, collector.segmentBytesWritten)
	assert.NotNil(t, collector.segmentCompactionsTotal)
	assert.NotNil(t, collector.segmentCompactDuration)
	assert.NotNil(t, collector.segmentFlushesTotal)
	assert.NotNil(t, collector.segmentSizeBytes)
}

func TestRecordApplyOutcome(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		collector.RecordApplyOutcome(false)
		collector.RecordApplyOutcome(true)
		collector.ObserveApplyDuration(0.002)
	})
}

func TestRecordTickFired(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		collector.RecordTickFired(0)
		collector.RecordTickFired(3)
	})
}

func TestRecordPostOpTaskPanic(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		collector.RecordPostOpTaskPanic()
	})
}

func TestRecordAppend(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		collector.RecordAppend(13)
		collector.RecordAppend(13 + 42)
	})
}

func TestRecordCompaction(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		collector.RecordCompaction(0.5)
	})
}

func TestRecordFlush(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		collector.RecordFlush()
	})
}

func TestSetSegmentSize(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		collector.SetSegmentSize(0)
		collector.SetSegmentSize(4096)
	})
}

func TestConcurrentMetricUpdates(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	done := make(chan bool, 100)
	for i := 0; i < 100; i++ {
		go func() {
			collector.RecordApplyOutcome(false)
			collector.RecordTickFired(1)
			collector.RecordAppend(20)
			collector.SetSegmentSize(1024)
			done <- true
		}()
	}
	for i := 0; i < 100; i++ {
		<-done
	}
}

func TestCollectorIsolation(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()

	collector1 := NewCollector()
	require.NotNil(t, collector1)

	// A process should have only one collector; a second registration
	// against the same registerer panics on duplicate metric names.
	assert.Panics(t, func() {
		NewCollector()
	})
}

func TestCompactionScenario(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		collector.RecordAppend(13)
		collector.RecordAppend(20)
		collector.RecordCompaction(0.3)
		collector.SetSegmentSize(33)
		collector.RecordFlush()
	})
}
