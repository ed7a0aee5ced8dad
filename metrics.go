package authcore

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one in-process counter or histogram.
type MetricID uint16

const (
	// MetricTokenIssued is an exported constant or variable used by the identity core.
	MetricTokenIssued MetricID = iota
	// MetricTokenVerified is an exported constant or variable used by the identity core.
	MetricTokenVerified
	// MetricTokenRejected is an exported constant or variable used by the identity core.
	MetricTokenRejected
	// MetricDEKMinted is an exported constant or variable used by the identity core.
	MetricDEKMinted
	// MetricDEKServed is an exported constant or variable used by the identity core.
	MetricDEKServed
	// MetricEnvelopeEncrypted is an exported constant or variable used by the identity core.
	MetricEnvelopeEncrypted
	// MetricEnvelopeDecrypted is an exported constant or variable used by the identity core.
	MetricEnvelopeDecrypted
	// MetricEnvelopeIntegrityFailure is an exported constant or variable used by the identity core.
	MetricEnvelopeIntegrityFailure
	// MetricCustomerProvisioned is an exported constant or variable used by the identity core.
	MetricCustomerProvisioned
	// MetricPermissionDenied is an exported constant or variable used by the identity core.
	MetricPermissionDenied
	// MetricQuotaConsumed is an exported constant or variable used by the identity core.
	MetricQuotaConsumed
	// MetricQuotaExceeded is an exported constant or variable used by the identity core.
	MetricQuotaExceeded
	// MetricAPIKeyCreated is an exported constant or variable used by the identity core.
	MetricAPIKeyCreated
	// MetricAPIKeyRotated is an exported constant or variable used by the identity core.
	MetricAPIKeyRotated
	// MetricAPIKeyRevoked is an exported constant or variable used by the identity core.
	MetricAPIKeyRevoked
	// MetricAPIKeyValidationFailure is an exported constant or variable used by the identity core.
	MetricAPIKeyValidationFailure
	// MetricVerifyLatency is an exported constant or variable used by the identity core.
	MetricVerifyLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds the core's in-process counters. Cheap when disabled; all
// operations are atomic and allocation-free on the hot path.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of all counters and histograms.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics builds a Metrics recorder from config.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether the recorder is active.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// LatencyEnabled reports whether latency histograms are active.
func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc increments one counter.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records a verify-latency sample.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= metricIDCount {
		return
	}
	if id != MetricVerifyLatency {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

// Value returns one counter's current value.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies all counters and histograms.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricVerifyLatency].buckets[i])
		}
		s.Histograms[MetricVerifyLatency] = buckets
	}

	return s
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
