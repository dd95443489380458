package depay

import (
	"time"

	"github.com/vitwit/depay/events"
	"github.com/vitwit/depay/logger"
	"github.com/vitwit/depay/metrics"
	"github.com/vitwit/depay/oracle"
	"github.com/vitwit/depay/store"
)

type Option func(*DePay)

func WithLogger(l logger.Logger) Option {
	return func(d *DePay) {
		d.logger = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(d *DePay) {
		d.metrics = r
	}
}

func WithTimeout(t time.Duration) Option {
	return func(d *DePay) {
		d.timeout = t
	}
}

// WithStore replaces the default in-memory store.
func WithStore(s store.Store) Option {
	return func(d *DePay) {
		d.store = s
	}
}

func WithOracle(o oracle.PriceOracle) Option {
	return func(d *DePay) {
		d.oracle = o
	}
}

func WithBus(b *events.Bus) Option {
	return func(d *DePay) {
		d.bus = b
	}
}
