package metrics

import (
	"strings"
	"testing"
	"time"

	"voice-gateway/internal/signaling"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type stubCapacity struct{ c signaling.Capacity }

func (s stubCapacity) AvailableCapacity() signaling.Capacity { return s.c }

type stubLive map[string]int

func (s stubLive) LiveCallCounts() map[string]int { return s }

func TestCollector_ExportsCapacityAndLiveCalls(t *testing.T) {
	c := NewCollector(
		stubCapacity{signaling.Capacity{Total: 10, InUse: 3, Available: 7}},
		stubLive{"ringing": 1, "accepted": 2},
		time.Now(),
	)

	expected := `
# HELP voice_gateway_rtp_ports_available RTP ports free for new calls
# TYPE voice_gateway_rtp_ports_available gauge
voice_gateway_rtp_ports_available 7
# HELP voice_gateway_rtp_ports_in_use RTP ports currently allocated to live calls
# TYPE voice_gateway_rtp_ports_in_use gauge
voice_gateway_rtp_ports_in_use 3
# HELP voice_gateway_rtp_ports_total Size of the RTP port pool
# TYPE voice_gateway_rtp_ports_total gauge
voice_gateway_rtp_ports_total 10
# HELP voice_gateway_live_calls Calls in the live table by status
# TYPE voice_gateway_live_calls gauge
voice_gateway_live_calls{status="accepted"} 2
voice_gateway_live_calls{status="ringing"} 1
`
	err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"voice_gateway_rtp_ports_available",
		"voice_gateway_rtp_ports_in_use",
		"voice_gateway_rtp_ports_total",
		"voice_gateway_live_calls",
	)
	if err != nil {
		t.Fatalf("unexpected metrics: %v", err)
	}
}

func TestCollector_NilProviders(t *testing.T) {
	c := NewCollector(nil, nil, time.Now())
	if n := testutil.CollectAndCount(c); n != 1 {
		t.Fatalf("expected only uptime, got %d metrics", n)
	}
}

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCounters(reg)

	c.CallEvent("ringing")
	c.CallEvent("ringing")
	c.CallRejected("capacity_exhausted")
	c.PermissionRequest("rate_limited")
	c.WebhookChange("calls", "processed")
	c.CallDuration(42)

	if got := testutil.ToFloat64(c.callEvents.WithLabelValues("ringing")); got != 2 {
		t.Fatalf("expected 2 ringing events, got %v", got)
	}
	if got := testutil.ToFloat64(c.callRejects.WithLabelValues("capacity_exhausted")); got != 1 {
		t.Fatalf("expected 1 reject, got %v", got)
	}
	if got := testutil.ToFloat64(c.permissionRequests.WithLabelValues("rate_limited")); got != 1 {
		t.Fatalf("expected 1 rate limited request, got %v", got)
	}
	if got := testutil.CollectAndCount(c.callDuration); got != 1 {
		t.Fatalf("expected histogram to be collected, got %d", got)
	}
}

func TestCounters_NilIsSafe(t *testing.T) {
	var c *Counters
	c.CallEvent("ringing")
	c.CallRejected("x")
	c.CallDuration(1)
	c.PermissionRequest("ok")
	c.WebhookChange("calls", "processed")
}
