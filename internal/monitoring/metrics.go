// Package monitoring 提供管道的 Prometheus 监控指标。
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 监控指标
type Metrics struct {
	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 出站管道指标
	OutboundEnqueued   prometheus.Counter
	OutboundSent       *prometheus.CounterVec // 按服务商类型
	OutboundFailed     *prometheus.CounterVec // 按错误类别
	OutboundResent     prometheus.Counter
	SendDuration       *prometheus.HistogramVec
	OutboundQueueDepth prometheus.Gauge

	// 入站管道指标
	InboundFetched     prometheus.Counter
	InboundProcessed   prometheus.Counter
	InboundDeduped     prometheus.Counter
	InboundParseErrors prometheus.Counter
	FetchCycleDuration prometheus.Histogram

	// Webhook 指标
	WebhookEventsTotal  *prometheus.CounterVec // 按事件类型
	WebhookUnknownTotal prometheus.Counter

	// 附件指标
	AttachmentFetchFailed prometheus.Counter
	AttachmentBytes       prometheus.Histogram
}

// NewMetrics 创建监控指标并注册到默认 Registry。
func NewMetrics() *Metrics {
	return newMetrics(prometheus.DefaultRegisterer)
}

// NewTestMetrics 创建注册到独立 Registry 的指标，供测试重复构造。
func NewTestMetrics() *Metrics {
	return newMetrics(prometheus.NewRegistry())
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailrelay_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailrelay_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		OutboundEnqueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailrelay_outbound_enqueued_total",
			Help: "Outbound messages published to the queue",
		}),
		OutboundSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mailrelay_outbound_sent_total",
			Help: "Outbound messages accepted by a provider",
		}, []string{"provider_kind"}),
		OutboundFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mailrelay_outbound_failed_total",
			Help: "Outbound messages that ended in failed state",
		}, []string{"category"}),
		OutboundResent: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailrelay_outbound_resent_total",
			Help: "Manual resends of failed messages",
		}),
		SendDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mailrelay_send_duration_seconds",
			Help:    "Transport send duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider_kind"}),
		OutboundQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mailrelay_outbound_queue_depth",
			Help: "Entries waiting in the outbound queue",
		}),

		InboundFetched: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailrelay_inbound_fetched_total",
			Help: "Messages fetched from provider mailboxes",
		}),
		InboundProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailrelay_inbound_processed_total",
			Help: "Inbound messages persisted and republished",
		}),
		InboundDeduped: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailrelay_inbound_deduped_total",
			Help: "Inbound messages skipped as duplicates",
		}),
		InboundParseErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailrelay_inbound_parse_errors_total",
			Help: "Inbound messages skipped due to parse failures",
		}),
		FetchCycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mailrelay_fetch_cycle_duration_seconds",
			Help:    "Duration of a full mailbox fetch cycle",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),

		WebhookEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mailrelay_webhook_events_total",
			Help: "Provider delivery events ingested",
		}, []string{"event_type"}),
		WebhookUnknownTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailrelay_webhook_unknown_total",
			Help: "Webhook events referencing unknown messages",
		}),

		AttachmentFetchFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "mailrelay_attachment_fetch_failed_total",
			Help: "Remote attachment fetches that failed and were skipped",
		}),
		AttachmentBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mailrelay_attachment_bytes",
			Help:    "Attachment sizes in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		}),
	}
}

// RecordHTTPRequest 记录一次 HTTP 请求。
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
