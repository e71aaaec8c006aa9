package metrics

import "github.com/prometheus/client_golang/prometheus"

// TransferMetrics counts outgoing on-chain transfers by kind and outcome.
type TransferMetrics struct {
	transfers *prometheus.CounterVec
}

// NewTransferMetrics registers the transfer counter on reg.
func NewTransferMetrics(reg prometheus.Registerer) *TransferMetrics {
	if reg == nil {
		return &TransferMetrics{}
	}
	transfers := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "master_wallet_transfers_total",
		Help: "Outgoing token transfers by kind (withdrawal, sweep) and outcome.",
	}, []string{"kind", "outcome"})
	reg.MustRegister(transfers)
	return &TransferMetrics{transfers: transfers}
}

// Inc records one transfer attempt.
func (m *TransferMetrics) Inc(kind, outcome string) {
	if m == nil || m.transfers == nil {
		return
	}
	m.transfers.WithLabelValues(normalizeLabel(kind), normalizeLabel(outcome)).Inc()
}
