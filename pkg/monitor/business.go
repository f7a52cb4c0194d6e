package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BusinessMetrics 定义业务监控指标
type BusinessMetrics struct {
	WithdrawRequestedTotal *prometheus.CounterVec
	WithdrawStatusTotal    *prometheus.CounterVec
	SweepAmountTotal       *prometheus.CounterVec
	SweepJobDuration       *prometheus.HistogramVec
	TreasuryBalance        *prometheus.GaugeVec
	LedgerDrift            *prometheus.GaugeVec
}

// Global Metrics Instance
var Business *BusinessMetrics

// InitBusinessMetrics 初始化业务指标
func InitBusinessMetrics() {
	Business = &BusinessMetrics{
		WithdrawRequestedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "custody_withdraw_requested_total",
			Help: "The total number of withdrawal requests created",
		}, []string{"asset"}),
		WithdrawStatusTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "custody_withdraw_status_total",
			Help: "Withdrawal state transitions by resulting status",
		}, []string{"status"}),
		SweepAmountTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "custody_sweep_amount_total",
			Help: "The total amount swept into the treasury",
		}, []string{"asset"}),
		SweepJobDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "custody_sweep_job_duration_seconds",
			Help:    "Duration of sweep jobs",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		TreasuryBalance: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "custody_treasury_balance",
			Help: "On-chain treasury balance in display units",
		}, []string{"asset"}),
		LedgerDrift: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "custody_ledger_drift",
			Help: "On-chain user funds minus off-chain computed balances",
		}, []string{"asset"}),
	}
}
