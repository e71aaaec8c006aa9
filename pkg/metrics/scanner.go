package metrics

import "github.com/prometheus/client_golang/prometheus"

// ScannerMetrics exposes deposit scanner progress.
type ScannerMetrics struct {
	skipped   *prometheus.CounterVec
	processed *prometheus.CounterVec
	errors    *prometheus.CounterVec
	lastBlock prometheus.Gauge
}

// NewScannerMetrics registers the scanner metrics on reg. A nil registerer
// yields a no-op recorder.
func NewScannerMetrics(reg prometheus.Registerer) *ScannerMetrics {
	if reg == nil {
		return &ScannerMetrics{}
	}
	skipped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "deposit_scanner_skipped_runs_total",
		Help: "Scanner passes skipped before doing any work.",
	}, []string{"reason"})
	processed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "deposit_scanner_records_total",
		Help: "Deposits advanced by each scanner phase.",
	}, []string{"phase"})
	errs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "deposit_scanner_errors_total",
		Help: "Per-record scanner failures by phase.",
	}, []string{"phase"})
	lastBlock := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "deposit_scanner_last_block",
		Help: "Last block fully scanned.",
	})
	reg.MustRegister(skipped, processed, errs, lastBlock)
	return &ScannerMetrics{
		skipped:   skipped,
		processed: processed,
		errors:    errs,
		lastBlock: lastBlock,
	}
}

func (m *ScannerMetrics) IncSkipped(reason string) {
	if m == nil || m.skipped == nil {
		return
	}
	m.skipped.WithLabelValues(normalizeLabel(reason)).Inc()
}

func (m *ScannerMetrics) AddProcessed(phase string, n int) {
	if m == nil || m.processed == nil || n <= 0 {
		return
	}
	m.processed.WithLabelValues(normalizeLabel(phase)).Add(float64(n))
}

func (m *ScannerMetrics) IncError(phase string) {
	if m == nil || m.errors == nil {
		return
	}
	m.errors.WithLabelValues(normalizeLabel(phase)).Inc()
}

func (m *ScannerMetrics) SetLastBlock(block uint64) {
	if m == nil || m.lastBlock == nil {
		return
	}
	m.lastBlock.Set(float64(block))
}
