package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ExchangeMetrics counts exchanges and observes their duration, labelled by
// operation and result ("ok" or "error").
type ExchangeMetrics struct {
	exchanges *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	bytes     *prometheus.CounterVec
}

// NewExchangeMetrics registers the collectors under the citra namespace with the given
// subsystem, for example "server" or "client". Registering the same subsystem twice on
// one Registerer reuses the existing collectors.
func NewExchangeMetrics(reg prometheus.Registerer, subsystem string) (*ExchangeMetrics, error) {
	m := &ExchangeMetrics{
		exchanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "citra",
				Subsystem: subsystem,
				Name:      "exchanges_total",
				Help:      "Memory exchanges by operation and result.",
			},
			[]string{"op", "result"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "citra",
				Subsystem: subsystem,
				Name:      "exchange_duration_seconds",
				Help:      "Memory exchange duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"op", "result"},
		),
		bytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "citra",
				Subsystem: subsystem,
				Name:      "requested_bytes_total",
				Help:      "Bytes requested by successful exchanges.",
			},
			[]string{"op"},
		),
	}

	var err error
	if m.exchanges, err = register(reg, m.exchanges); err != nil {
		return nil, err
	}
	if m.duration, err = register(reg, m.duration); err != nil {
		return nil, err
	}
	if m.bytes, err = register(reg, m.bytes); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// Middleware records every exchange passing through it.
func (m *ExchangeMetrics) Middleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *Call) ([]byte, error) {
			start := time.Now()
			reply, err := next(ctx, call)

			op := call.Request.Op.String()
			result := "ok"
			if err != nil {
				result = "error"
			} else {
				m.bytes.WithLabelValues(op).Add(float64(call.Request.Length))
			}
			m.exchanges.WithLabelValues(op, result).Inc()
			m.duration.WithLabelValues(op, result).Observe(time.Since(start).Seconds())
			return reply, err
		}
	}
}
