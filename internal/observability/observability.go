package observability

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.uber.org/zap"
)

type Metrics struct {
	ActiveConnections prometheus.Gauge
	RoomsLive         prometheus.Gauge
	MessagesTotal     *prometheus.CounterVec
	CommandLatency    *prometheus.HistogramVec
	CommandReject     *prometheus.CounterVec
	ProbeLatency      prometheus.Observer
	GenerateLatency   prometheus.Observer
	AgentErrorTotal   prometheus.Counter
	TriggerDropTotal  prometheus.Counter
	AgentsProcessing  prometheus.Gauge
	SubscriberDrops   prometheus.Counter
	StatsFlushTotal   *prometheus.CounterVec
}

func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer.(*prometheus.Registry)
	}
	return &Metrics{
		ActiveConnections: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "ws_active_connections",
			Help: "Number of active websocket connections",
		}),
		RoomsLive: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "rooms_live",
			Help: "Rooms currently held by the registry",
		}),
		MessagesTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "messages_total",
			Help: "Chat messages appended to room logs",
		}, []string{"sender_kind"}),
		CommandLatency: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "command_latency_ms",
			Help:    "Latency for orchestrator operations",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"op"}),
		CommandReject: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "command_reject_total",
			Help: "Rejected orchestrator operations",
		}, []string{"reason"}),
		ProbeLatency: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "agent_probe_latency_ms",
			Help:    "Latency of should-respond probes",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}),
		GenerateLatency: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "agent_generate_latency_ms",
			Help:    "Latency of agent utterance generation",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}),
		AgentErrorTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "agent_error_total",
			Help: "Agent probe/generate failures",
		}),
		TriggerDropTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "scheduler_trigger_dropped_total",
			Help: "Scheduler triggers dropped because a cycle was already running",
		}),
		AgentsProcessing: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "agents_processing",
			Help: "Agents currently generating a message",
		}),
		SubscriberDrops: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "bus_subscriber_dropped_total",
			Help: "Subscribers dropped on queue overflow",
		}),
		StatsFlushTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "stats_flush_total",
			Help: "Post-game stats flushes",
		}, []string{"status"}),
	}
}

func SetupTracerProvider(ctx context.Context, serviceName string, stdout bool, logger *zap.Logger) (*sdktrace.TracerProvider, error) {
	var exporter *stdouttrace.Exporter
	var err error
	if stdout {
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, err
		}
	}

	rs := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(rs),
	)
	if exporter != nil {
		tp.RegisterSpanProcessor(sdktrace.NewBatchSpanProcessor(exporter))
	}
	otel.SetTracerProvider(tp)
	logger.Info("tracer initialized")
	return tp, nil
}

func SetupLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	return cfg.Build()
}

// ZapToSlog wraps a zap.Logger as slog.Logger.
func ZapToSlog(logger *zap.Logger) *slog.Logger {
	return slog.New(slogHandler{logger.Sugar()})
}

type slogHandler struct {
	sugar *zap.SugaredLogger
}

func (h slogHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h slogHandler) Handle(ctx context.Context, r slog.Record) error {
	args := make([]interface{}, 0, r.NumAttrs()*2)
	r.Attrs(func(a slog.Attr) bool {
		args = append(args, a.Key, a.Value.Any())
		return true
	})
	switch r.Level {
	case slog.LevelDebug:
		h.sugar.Debugw(r.Message, args...)
	case slog.LevelInfo:
		h.sugar.Infow(r.Message, args...)
	case slog.LevelWarn:
		h.sugar.Warnw(r.Message, args...)
	case slog.LevelError:
		h.sugar.Errorw(r.Message, args...)
	}
	return nil
}

func (h slogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	args := make([]interface{}, 0, len(attrs)*2)
	for _, a := range attrs {
		args = append(args, a.Key, a.Value.Any())
	}
	return slogHandler{h.sugar.With(args...)}
}

func (h slogHandler) WithGroup(name string) slog.Handler {
	return h
}
