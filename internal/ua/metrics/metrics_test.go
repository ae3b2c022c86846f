package metrics

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sebas/softphone/internal/ua/events"
)

func newCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewCollector(reg), reg
}

func TestObserveCallLifecycle(t *testing.T) {
	c, _ := newCollector(t)
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	c.Observe(&events.Event{EventType: events.AccountRegistered, Account: "sip:a@x"})
	c.Observe(&events.Event{EventType: events.CallPlaced})
	c.Observe(&events.Event{EventType: events.CallIncoming, CallID: "in-1"})
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Registered))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.CallsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.CallsTotal.WithLabelValues("outbound")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.CallsTotal.WithLabelValues("inbound")))

	c.Observe(&events.Event{EventType: events.CallConfirmed, CallID: "out-1", EventTime: start})
	c.Observe(&events.Event{EventType: events.CallMedia, CallID: "out-1", MediaStatus: "Active"})
	c.Observe(&events.Event{EventType: events.CallDTMF, CallID: "out-1", Digit: "1"})
	c.Observe(&events.Event{
		EventType:  events.CallDisconnected,
		CallID:     "out-1",
		Outcome:    "Disconnected",
		StatusCode: 200,
		EventTime:  start.Add(90 * time.Second),
	})
	c.Observe(&events.Event{EventType: events.CallDisconnected, CallID: "in-1", Outcome: "SetupFailed", StatusCode: 486})

	assert.Equal(t, 0.0, testutil.ToFloat64(c.CallsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.CallOutcomes.WithLabelValues("Disconnected", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.CallOutcomes.WithLabelValues("SetupFailed", "486")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.MediaEvents.WithLabelValues("Active")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.DTMFDigits))

	expected := `
# HELP softphone_call_duration_seconds Duration of confirmed calls in seconds
# TYPE softphone_call_duration_seconds histogram
softphone_call_duration_seconds_bucket{le="1"} 0
softphone_call_duration_seconds_bucket{le="2"} 0
softphone_call_duration_seconds_bucket{le="4"} 0
softphone_call_duration_seconds_bucket{le="8"} 0
softphone_call_duration_seconds_bucket{le="16"} 0
softphone_call_duration_seconds_bucket{le="32"} 0
softphone_call_duration_seconds_bucket{le="64"} 0
softphone_call_duration_seconds_bucket{le="128"} 1
softphone_call_duration_seconds_bucket{le="256"} 1
softphone_call_duration_seconds_bucket{le="512"} 1
softphone_call_duration_seconds_bucket{le="1024"} 1
softphone_call_duration_seconds_bucket{le="2048"} 1
softphone_call_duration_seconds_bucket{le="+Inf"} 1
softphone_call_duration_seconds_sum 90
softphone_call_duration_seconds_count 1
`
	require.NoError(t, testutil.CollectAndCompare(c.CallDuration, strings.NewReader(expected)))
}

func TestObserveAccountEvents(t *testing.T) {
	c, _ := newCollector(t)
	for _, typ := range []events.EventType{
		events.AccountRegistering,
		events.AccountRegistered,
		events.AccountUnregistering,
		events.AccountUnregistered,
	} {
		c.Observe(&events.Event{EventType: typ, Account: "sip:a@x"})
	}
	assert.Equal(t, 0.0, testutil.ToFloat64(c.Registered))
	assert.Equal(t, 4, testutil.CollectAndCount(c.AccountEvents))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.AccountEvents.WithLabelValues("registered")))
}

func TestRunConsumesBus(t *testing.T) {
	c, reg := newCollector(t)
	bus := events.NewBus(0, nil)
	RegisterBusStats(reg, bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		c.Run(ctx, bus)
		close(done)
	}()

	// wait for the subscription before publishing
	require.Eventually(t, func() bool {
		bus.Publish(&events.Event{EventType: events.CallDTMF, CallID: "c"})
		return testutil.ToFloat64(c.DTMFDigits) > 0
	}, 2*time.Second, 5*time.Millisecond)

	published, _ := bus.Stats()
	count, err := testutil.GatherAndCount(reg, "softphone_events_published_total", "softphone_events_dropped_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.NotZero(t, published)

	require.NoError(t, bus.Close())
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the bus closed")
	}
}
