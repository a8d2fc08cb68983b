package metrics

import "github.com/prometheus/client_golang/prometheus"

// Counters are the event-driven metrics. A nil *Counters is valid and records nothing.
type Counters struct {
	callEvents         *prometheus.CounterVec
	callRejects        *prometheus.CounterVec
	callDuration       prometheus.Histogram
	permissionRequests *prometheus.CounterVec
	webhookEvents      *prometheus.CounterVec
}

func NewCounters(reg prometheus.Registerer) *Counters {
	c := &Counters{
		callEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_gateway_call_events_total",
			Help: "Call lifecycle events handled, by event type",
		}, []string{"event"}),
		callRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_gateway_call_rejects_total",
			Help: "Calls rejected by the gateway, by reason",
		}, []string{"reason"}),
		callDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_gateway_call_duration_seconds",
			Help:    "Duration of answered calls",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),
		permissionRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_gateway_permission_requests_total",
			Help: "Permission requests, by outcome",
		}, []string{"outcome"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_gateway_webhook_changes_total",
			Help: "Webhook change items, by field and result",
		}, []string{"field", "result"}),
	}
	if reg != nil {
		reg.MustRegister(c.callEvents, c.callRejects, c.callDuration, c.permissionRequests, c.webhookEvents)
	}
	return c
}

func (c *Counters) CallEvent(event string) {
	if c == nil {
		return
	}
	c.callEvents.WithLabelValues(event).Inc()
}

func (c *Counters) CallRejected(reason string) {
	if c == nil {
		return
	}
	c.callRejects.WithLabelValues(reason).Inc()
}

func (c *Counters) CallDuration(seconds int64) {
	if c == nil {
		return
	}
	c.callDuration.Observe(float64(seconds))
}

func (c *Counters) PermissionRequest(outcome string) {
	if c == nil {
		return
	}
	c.permissionRequests.WithLabelValues(outcome).Inc()
}

func (c *Counters) WebhookChange(field, result string) {
	if c == nil {
		return
	}
	c.webhookEvents.WithLabelValues(field, result).Inc()
}
