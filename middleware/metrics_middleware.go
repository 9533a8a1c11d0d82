package middleware

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"dispatch-rpc/message"
)

// Metrics holds the dispatch collectors.
type Metrics struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dispatch",
			Name:      "calls_total",
			Help:      "Dispatched calls by method and outcome.",
		}, []string{"method", "outcome", "fault_code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dispatch",
			Name:      "call_duration_seconds",
			Help:      "Time spent dispatching a call.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
	for _, c := range []prometheus.Collector{m.calls, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Middleware records one sample per call. Methods for which known returns
// false are labelled "unknown".
func (m *Metrics) Middleware(known func(method string) bool) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (message.Response, error) {
			start := time.Now()
			resp, err := next(ctx, req)

			method := req.Method
			if known != nil && !known(method) {
				method = "unknown"
			}
			m.duration.WithLabelValues(method).Observe(time.Since(start).Seconds())

			outcome, code := "success", ""
			switch {
			case err != nil:
				outcome = "error"
			case resp.IsFault():
				f, _ := resp.Fault()
				outcome, code = "fault", strconv.Itoa(f.Code)
			}
			m.calls.WithLabelValues(method, outcome, code).Inc()
			return resp, err
		}
	}
}
