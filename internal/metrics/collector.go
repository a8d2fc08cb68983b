package metrics

import (
	"time"

	"voice-gateway/internal/signaling"

	"github.com/prometheus/client_golang/prometheus"
)

// CapacityProvider exposes the RTP port pool counters.
type CapacityProvider interface {
	AvailableCapacity() signaling.Capacity
}

// LiveCallsProvider exposes live call counts keyed by status.
type LiveCallsProvider interface {
	LiveCallCounts() map[string]int
}

// Collector is a prometheus.Collector that reads gateway state at scrape time.
type Collector struct {
	capacity  CapacityProvider
	liveCalls LiveCallsProvider
	startTime time.Time

	portsTotalDesc     *prometheus.Desc
	portsInUseDesc     *prometheus.Desc
	portsAvailableDesc *prometheus.Desc
	liveCallsDesc      *prometheus.Desc
	uptimeDesc         *prometheus.Desc
}

// NewCollector creates the collector. Either provider may be nil.
func NewCollector(capacity CapacityProvider, liveCalls LiveCallsProvider, startTime time.Time) *Collector {
	return &Collector{
		capacity:  capacity,
		liveCalls: liveCalls,
		startTime: startTime,

		portsTotalDesc: prometheus.NewDesc(
			"voice_gateway_rtp_ports_total",
			"Size of the RTP port pool",
			nil, nil,
		),
		portsInUseDesc: prometheus.NewDesc(
			"voice_gateway_rtp_ports_in_use",
			"RTP ports currently allocated to live calls",
			nil, nil,
		),
		portsAvailableDesc: prometheus.NewDesc(
			"voice_gateway_rtp_ports_available",
			"RTP ports free for new calls",
			nil, nil,
		),
		liveCallsDesc: prometheus.NewDesc(
			"voice_gateway_live_calls",
			"Calls in the live table by status",
			[]string{"status"}, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"voice_gateway_uptime_seconds",
			"Seconds since the process started",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.portsTotalDesc
	ch <- c.portsInUseDesc
	ch <- c.portsAvailableDesc
	ch <- c.liveCallsDesc
	ch <- c.uptimeDesc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.capacity != nil {
		cp := c.capacity.AvailableCapacity()
		ch <- prometheus.MustNewConstMetric(c.portsTotalDesc, prometheus.GaugeValue, float64(cp.Total))
		ch <- prometheus.MustNewConstMetric(c.portsInUseDesc, prometheus.GaugeValue, float64(cp.InUse))
		ch <- prometheus.MustNewConstMetric(c.portsAvailableDesc, prometheus.GaugeValue, float64(cp.Available))
	}
	if c.liveCalls != nil {
		for status, n := range c.liveCalls.LiveCallCounts() {
			ch <- prometheus.MustNewConstMetric(c.liveCallsDesc, prometheus.GaugeValue, float64(n), status)
		}
	}
	ch <- prometheus.MustNewConstMetric(c.uptimeDesc, prometheus.GaugeValue, time.Since(c.startTime).Seconds())
}
