package goMFA

import (
	"testing"
	"time"
)

// verifyOutcomeMetrics are the counters a busy verification path touches.
var verifyOutcomeMetrics = [...]MetricID{
	MetricTOTPSuccess,
	MetricTOTPFailure,
	MetricTOTPReplay,
	MetricCodeVerified,
	MetricCodeFailed,
	MetricBackupUsed,
	MetricBackupFailed,
	MetricRateLimitHit,
}

func BenchmarkMetricsInc(b *testing.B) {
	for _, tc := range []struct {
		name    string
		enabled bool
	}{
		{"enabled", true},
		{"disabled", false},
	} {
		b.Run(tc.name, func(b *testing.B) {
			m := NewMetrics(MetricsConfig{Enabled: tc.enabled})
			b.ReportAllocs()
			b.RunParallel(func(pb *testing.PB) {
				for pb.Next() {
					m.Inc(MetricTOTPSuccess)
				}
			})
		})
	}
}

// Goroutines walk the outcome counters from different offsets so neighbouring
// counters are written concurrently.
func BenchmarkMetricsIncVerifyOutcomes(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		i := int(time.Now().UnixNano())
		for pb.Next() {
			m.Inc(verifyOutcomeMetrics[i%len(verifyOutcomeMetrics)])
			i++
		}
	})
}

func BenchmarkMetricsObserveVerifyLatency(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	samples := []time.Duration{
		2 * time.Millisecond,
		40 * time.Millisecond,
		180 * time.Millisecond,
		2 * time.Second,
	}
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			m.Observe(MetricVerifyLatency, samples[i&3])
			i++
		}
	})
}

func BenchmarkMetricsSnapshot(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	for _, id := range verifyOutcomeMetrics {
		m.Inc(id)
	}
	m.Observe(MetricVerifyLatency, 30*time.Millisecond)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = m.Snapshot()
	}
}
