// Package metrics implements Prometheus metrics for the user agent. The
// collector is fed from the event bus, so it sees exactly what the control
// stream sees.
package metrics

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sebas/softphone/internal/ua/events"
)

const namespace = "softphone"

// Collector holds the user agent metrics.
type Collector struct {
	// Registered is 1 while the account is registered
	Registered prometheus.Gauge
	// AccountEvents counts account events by type
	AccountEvents *prometheus.CounterVec
	// CallsTotal counts calls by direction
	CallsTotal *prometheus.CounterVec
	// CallsActive tracks calls not yet disconnected
	CallsActive prometheus.Gauge
	// CallOutcomes counts ended calls by outcome and final status code
	CallOutcomes *prometheus.CounterVec
	// CallDuration measures confirmed call duration
	CallDuration prometheus.Histogram
	// MediaEvents counts media state changes by status
	MediaEvents *prometheus.CounterVec
	// DTMFDigits counts received DTMF digits
	DTMFDigits prometheus.Counter
	// PlaybackEvents counts player status updates by event
	PlaybackEvents *prometheus.CounterVec

	mu        sync.Mutex
	confirmed map[string]time.Time
}

// NewCollector creates the metrics and registers them with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		Registered: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "account_registered",
			Help:      "Whether the account is currently registered (1) or not (0)",
		}),
		AccountEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "account_events_total",
			Help:      "Total number of account events",
		}, []string{"type"}),
		CallsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Total number of calls placed or received",
		}, []string{"direction"}),
		CallsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calls_active",
			Help:      "Number of calls not yet disconnected",
		}),
		CallOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_outcomes_total",
			Help:      "Total number of ended calls by outcome and final status code",
		}, []string{"outcome", "status"}),
		CallDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Duration of confirmed calls in seconds",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68min
		}),
		MediaEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "media_events_total",
			Help:      "Total number of media state changes by status",
		}, []string{"status"}),
		DTMFDigits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dtmf_digits_total",
			Help:      "Total number of received DTMF digits",
		}),
		PlaybackEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_events_total",
			Help:      "Total number of player status updates by event",
		}, []string{"event"}),
		confirmed: make(map[string]time.Time),
	}
}

// RegisterBusStats exports the bus publish and drop counters.
func RegisterBusStats(reg prometheus.Registerer, bus *events.Bus) {
	f := promauto.With(reg)
	f.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_published_total",
		Help:      "Total number of events published on the bus",
	}, func() float64 {
		published, _ := bus.Stats()
		return float64(published)
	})
	f.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_dropped_total",
		Help:      "Total number of events dropped for slow subscribers",
	}, func() float64 {
		_, dropped := bus.Stats()
		return float64(dropped)
	})
}

// Observe updates the metrics for one event.
func (c *Collector) Observe(ev *events.Event) {
	switch ev.EventType {
	case events.AccountRegistering, events.AccountUnregistering, events.AccountMessage:
		c.AccountEvents.WithLabelValues(events.SubjectForEventType(ev.EventType)).Inc()
	case events.AccountRegistered:
		c.AccountEvents.WithLabelValues(events.SubjectForEventType(ev.EventType)).Inc()
		c.Registered.Set(1)
	case events.AccountUnregistered:
		c.AccountEvents.WithLabelValues(events.SubjectForEventType(ev.EventType)).Inc()
		c.Registered.Set(0)
	case events.CallPlaced:
		c.CallsTotal.WithLabelValues(string(events.DirectionOutbound)).Inc()
		c.CallsActive.Inc()
	case events.CallIncoming:
		c.CallsTotal.WithLabelValues(string(events.DirectionInbound)).Inc()
		c.CallsActive.Inc()
	case events.CallConfirmed:
		c.mu.Lock()
		c.confirmed[ev.CallID] = ev.EventTime
		c.mu.Unlock()
	case events.CallDisconnected:
		c.CallsActive.Dec()
		c.CallOutcomes.WithLabelValues(ev.Outcome, strconv.Itoa(ev.StatusCode)).Inc()
		c.mu.Lock()
		start, ok := c.confirmed[ev.CallID]
		delete(c.confirmed, ev.CallID)
		c.mu.Unlock()
		if ok {
			c.CallDuration.Observe(ev.EventTime.Sub(start).Seconds())
		}
	case events.CallMedia:
		c.MediaEvents.WithLabelValues(ev.MediaStatus).Inc()
	case events.CallDTMF:
		c.DTMFDigits.Inc()
	case events.CallPlaybackStatus:
		if ev.Playback != nil {
			c.PlaybackEvents.WithLabelValues(ev.Playback.Event).Inc()
		}
	}
}

// Run observes every event published on bus until ctx is done or the bus
// is closed.
func (c *Collector) Run(ctx context.Context, bus *events.Bus) {
	ch, cancel := bus.Subscribe(events.PatternAll, 1024)
	c.consume(ctx, ch, cancel)
}

// Start subscribes to bus and observes its events in the background. Events
// published after Start returns are never missed.
func (c *Collector) Start(ctx context.Context, bus *events.Bus) {
	ch, cancel := bus.Subscribe(events.PatternAll, 1024)
	go c.consume(ctx, ch, cancel)
}

func (c *Collector) consume(ctx context.Context, ch <-chan *events.Event, cancel func()) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			c.Observe(ev)
		}
	}
}
