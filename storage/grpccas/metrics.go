package grpccas

import (
	"context"
	"path"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Metrics records per-method request counts, latency and block bytes moved.
type Metrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	bytes    *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "passport",
			Subsystem: "casd",
			Name:      "requests_total",
			Help:      "CAS RPCs handled, by method and status code.",
		}, []string{"method", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "passport",
			Subsystem: "casd",
			Name:      "request_duration_seconds",
			Help:      "CAS RPC latency.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"method"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "passport",
			Subsystem: "casd",
			Name:      "block_bytes_total",
			Help:      "Block bytes received (put) and sent (get).",
		}, []string{"direction"}),
	}
	for _, c := range []prometheus.Collector{m.requests, m.latency, m.bytes} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// UnaryInterceptor observes every unary call.
func (m *Metrics) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		method := path.Base(info.FullMethod)
		start := time.Now()
		resp, err := handler(ctx, req)
		m.latency.WithLabelValues(method).Observe(time.Since(start).Seconds())
		m.requests.WithLabelValues(method, status.Code(err).String()).Inc()

		if err == nil {
			if in, ok := req.(*wrapperspb.BytesValue); ok {
				m.bytes.WithLabelValues("in").Add(float64(len(in.GetValue())))
			}
			if out, ok := resp.(*wrapperspb.BytesValue); ok {
				m.bytes.WithLabelValues("out").Add(float64(len(out.GetValue())))
			}
		}
		return resp, err
	}
}
