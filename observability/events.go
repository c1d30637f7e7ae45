package observability

import (
	"math/big"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"collarfi/core/events"
)

type eventMetrics struct {
	events *prometheus.CounterVec
	volume *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// volumeAttributes names the attribute carrying the notional of each event
// type that contributes to the volume counter.
var volumeAttributes = map[string]string{
	"taker.position.opened":  "takerLocked",
	"taker.position.settled": "takerBalance",
	"escrow.started":         "escrowed",
	"loans.opened":           "loanAmount",
	"loans.closed":           "repayment",
	"rolls.executed":         "rollFee",
}

// Events returns the metrics registry tracking protocol domain events.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "collarfi",
				Subsystem: "events",
				Name:      "total",
				Help:      "Count of committed protocol events segmented by module and type.",
			}, []string{"module", "type"}),
			volume: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "collarfi",
				Subsystem: "events",
				Name:      "volume_total",
				Help:      "Sum of the notional attribute of selected events, in asset base units.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(eventRegistry.events, eventRegistry.volume)
	})
	return eventRegistry
}

// Emit implements events.Emitter so the registry can subscribe to the
// protocol's committed event stream.
func (m *eventMetrics) Emit(evt events.Event) {
	if m == nil || evt == nil {
		return
	}
	eventType := evt.EventType()
	if eventType == "" {
		return
	}
	module := eventType
	if idx := strings.IndexByte(eventType, '.'); idx > 0 {
		module = eventType[:idx]
	}
	m.events.WithLabelValues(module, eventType).Inc()

	attr, ok := volumeAttributes[eventType]
	if !ok {
		return
	}
	payload, ok := events.Payload(evt)
	if !ok {
		return
	}
	amount, ok := new(big.Float).SetString(payload.Attributes[attr])
	if !ok || amount.Sign() < 0 {
		return
	}
	value, _ := amount.Float64()
	m.volume.WithLabelValues(eventType).Add(value)
}
