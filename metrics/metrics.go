package metrics

import "time"

// Metric names recorded by the engine.
const (
	PaymentSettled  = "payment_settled"
	PaymentRejected = "payment_rejected"
	Withdrawal      = "withdrawal"
	EventsDropped   = "events_dropped"

	OpPay      = "pay"
	OpWithdraw = "withdraw"
	OpQuote    = "quote"

	GaugeCustody  = "custody"
	GaugeBalances = "balances"
)

type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
	SetGauge(name string, value float64, labels map[string]string)
}
