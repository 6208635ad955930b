package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry 创建自定义 Prometheus Registry，并注册常用采集器
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler 返回 Prometheus 指标 HTTP 处理器
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// AppMetrics 网关业务指标
type AppMetrics struct {
	TCPAccepted      prometheus.Counter
	TCPBytesReceived prometheus.Counter
	FrameTotal       *prometheus.CounterVec // labels: opcode
	ParseErrorTotal  prometheus.Counter
	ResyncBytesTotal prometheus.Counter
	CRCWarnTotal     prometheus.Counter
	OnlineGauge      prometheus.Gauge
	HeartbeatTotal   prometheus.Counter
	CommandSent      prometheus.Counter
	CommandMatched   prometheus.Counter
	CommandUnmatched prometheus.Counter
	CommandTimeout   prometheus.Counter
}

// NewAppMetrics 注册并返回业务指标
func NewAppMetrics(reg *prometheus.Registry) *AppMetrics {
	m := &AppMetrics{
		TCPAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tcp_accept_total",
			Help: "Total accepted TCP connections.",
		}),
		TCPBytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tcp_bytes_received_total",
			Help: "Total bytes received over TCP.",
		}),
		FrameTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "frame_received_total",
			Help: "Frames received by opcode.",
		}, []string{"opcode"}),
		ParseErrorTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "frame_parse_error_total",
			Help: "Frames dropped by parse errors.",
		}),
		ResyncBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "frame_resync_bytes_total",
			Help: "Bytes discarded while resynchronising the stream.",
		}),
		CRCWarnTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "frame_crc_warn_total",
			Help: "Inbound frames with checksum mismatch (parsed anyway).",
		}),
		OnlineGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "session_online_count",
			Help: "Current number of online devices.",
		}),
		HeartbeatTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "session_heartbeat_total",
			Help: "Total heartbeats observed.",
		}),
		CommandSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "command_sent_total",
			Help: "Commands queued to devices.",
		}),
		CommandMatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "command_response_matched_total",
			Help: "Command responses correlated to a pending command.",
		}),
		CommandUnmatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "command_response_unmatched_total",
			Help: "Command responses with no pending command.",
		}),
		CommandTimeout: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "command_timeout_total",
			Help: "Pending commands expired without a response.",
		}),
	}
	reg.MustRegister(
		m.TCPAccepted, m.TCPBytesReceived, m.FrameTotal, m.ParseErrorTotal,
		m.ResyncBytesTotal, m.CRCWarnTotal, m.OnlineGauge, m.HeartbeatTotal,
		m.CommandSent, m.CommandMatched, m.CommandUnmatched, m.CommandTimeout,
	)
	return m
}
