package service

import (
	"time"

	"HouseholdTelemetryAPI/internal/models"

	"github.com/prometheus/client_golang/prometheus"
)

// Instrumentation exposes pipeline counters to Prometheus. A nil
// *Instrumentation is valid and records nothing.
type Instrumentation struct {
	SamplesCollected  *prometheus.CounterVec
	SampleErrors      *prometheus.CounterVec
	SampleLatency     *prometheus.HistogramVec
	EventsRecorded    *prometheus.CounterVec
	SubscriberPanics  prometheus.Counter
	ActiveClients     prometheus.Gauge
	MessagesSent      *prometheus.CounterVec
	MessagesDropped   *prometheus.CounterVec
	InboundMessages   *prometheus.CounterVec
	AlertsRaised      *prometheus.CounterVec
	AlertTransitions  *prometheus.CounterVec
	ActiveAlerts      prometheus.Gauge
}

func NewInstrumentation(reg prometheus.Registerer) *Instrumentation {
	i := &Instrumentation{
		SamplesCollected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "household_telemetry",
			Subsystem: "sampler",
			Name:      "samples_total",
			Help:      "Samples collected per category",
		}, []string{"category"}),
		SampleErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "household_telemetry",
			Subsystem: "sampler",
			Name:      "sample_errors_total",
			Help:      "Failed collector runs per category",
		}, []string{"category"}),
		SampleLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "household_telemetry",
			Subsystem: "sampler",
			Name:      "sample_duration_seconds",
			Help:      "Collector latency per category",
			Buckets:   prometheus.DefBuckets,
		}, []string{"category"}),
		EventsRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "household_telemetry",
			Subsystem: "sampler",
			Name:      "events_total",
			Help:      "Events recorded into the event log by type",
		}, []string{"type"}),
		SubscriberPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "household_telemetry",
			Subsystem: "sampler",
			Name:      "subscriber_panics_total",
			Help:      "Subscriber callbacks that panicked",
		}),
		ActiveClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "household_telemetry",
			Subsystem: "gateway",
			Name:      "active_clients",
			Help:      "Connected websocket clients",
		}),
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "household_telemetry",
			Subsystem: "gateway",
			Name:      "messages_sent_total",
			Help:      "Outbound envelopes accepted by client connections",
		}, []string{"type"}),
		MessagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "household_telemetry",
			Subsystem: "gateway",
			Name:      "messages_dropped_total",
			Help:      "Outbound envelopes rejected by client connections",
		}, []string{"type"}),
		InboundMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "household_telemetry",
			Subsystem: "gateway",
			Name:      "inbound_messages_total",
			Help:      "Inbound protocol messages by type",
		}, []string{"type"}),
		AlertsRaised: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "household_telemetry",
			Subsystem: "alerts",
			Name:      "raised_total",
			Help:      "Alerts created by severity",
		}, []string{"severity"}),
		AlertTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "household_telemetry",
			Subsystem: "alerts",
			Name:      "transitions_total",
			Help:      "Alert state transitions",
		}, []string{"state"}),
		ActiveAlerts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "household_telemetry",
			Subsystem: "alerts",
			Name:      "active",
			Help:      "Alerts not yet resolved",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			i.SamplesCollected,
			i.SampleErrors,
			i.SampleLatency,
			i.EventsRecorded,
			i.SubscriberPanics,
			i.ActiveClients,
			i.MessagesSent,
			i.MessagesDropped,
			i.InboundMessages,
			i.AlertsRaised,
			i.AlertTransitions,
			i.ActiveAlerts,
		)
	}
	return i
}

func (i *Instrumentation) observeSample(cat models.Category, elapsed time.Duration, err error) {
	if i == nil {
		return
	}
	i.SampleLatency.WithLabelValues(string(cat)).Observe(elapsed.Seconds())
	if err != nil {
		i.SampleErrors.WithLabelValues(string(cat)).Inc()
		return
	}
	i.SamplesCollected.WithLabelValues(string(cat)).Inc()
}

func (i *Instrumentation) eventRecorded(eventType string) {
	if i == nil {
		return
	}
	i.EventsRecorded.WithLabelValues(eventType).Inc()
}

func (i *Instrumentation) subscriberPanicked() {
	if i == nil {
		return
	}
	i.SubscriberPanics.Inc()
}

func (i *Instrumentation) setActiveClients(n int) {
	if i == nil {
		return
	}
	i.ActiveClients.Set(float64(n))
}

func (i *Instrumentation) messageSent(msgType string, err error) {
	if i == nil {
		return
	}
	if err != nil {
		i.MessagesDropped.WithLabelValues(msgType).Inc()
		return
	}
	i.MessagesSent.WithLabelValues(msgType).Inc()
}

func (i *Instrumentation) inbound(msgType string) {
	if i == nil {
		return
	}
	i.InboundMessages.WithLabelValues(msgType).Inc()
}

func (i *Instrumentation) alertRaised(sev models.Severity) {
	if i == nil {
		return
	}
	i.AlertsRaised.WithLabelValues(string(sev)).Inc()
}

func (i *Instrumentation) alertTransition(state models.AlertState, active int) {
	if i == nil {
		return
	}
	i.AlertTransitions.WithLabelValues(string(state)).Inc()
	i.ActiveAlerts.Set(float64(active))
}
