// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package metrics collects Prometheus metrics for the notification
// pipeline: messages received, envelope/parse failures, listener errors
// and active consumer counts.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collector bundles the Prometheus metrics emitted by a Manager. The zero
// value is not usable; construct one with New.
type Collector struct {
	messagesReceived *prometheus.CounterVec
	envelopeErrors   *prometheus.CounterVec
	parseSkipped     *prometheus.CounterVec
	eventsDispatched *prometheus.CounterVec
	listenerErrors   *prometheus.CounterVec
	activeConsumers  *prometheus.GaugeVec
}

// New creates a Collector and registers its metrics with registry.
func New(registry prometheus.Registerer) *Collector {
	c := &Collector{
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "osloevent_messages_received_total",
			Help: "Number of raw broker messages received, before unwrapping.",
		}, []string{"cluster", "service"}),
		envelopeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "osloevent_envelope_errors_total",
			Help: "Number of messages that failed oslo.messaging envelope unwrapping.",
		}, []string{"cluster", "service"}),
		parseSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "osloevent_parse_skipped_total",
			Help: "Number of unwrapped notifications skipped by the parser.",
		}, []string{"cluster", "service"}),
		eventsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "osloevent_events_dispatched_total",
			Help: "Number of canonical events dispatched to listeners.",
		}, []string{"cluster", "service", "resource_type"}),
		listenerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "osloevent_listener_panics_total",
			Help: "Number of listener invocations that panicked.",
		}, []string{"cluster", "service"}),
		activeConsumers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "osloevent_active_consumers",
			Help: "Number of currently active broker consumers, per cluster.",
		}, []string{"cluster"}),
	}
	registry.MustRegister(
		c.messagesReceived,
		c.envelopeErrors,
		c.parseSkipped,
		c.eventsDispatched,
		c.listenerErrors,
		c.activeConsumers,
	)
	return c
}

func (c *Collector) MessageReceived(cluster, service string) {
	if c == nil {
		return
	}
	c.messagesReceived.WithLabelValues(cluster, service).Inc()
}

func (c *Collector) EnvelopeError(cluster, service string) {
	if c == nil {
		return
	}
	c.envelopeErrors.WithLabelValues(cluster, service).Inc()
}

func (c *Collector) ParseSkipped(cluster, service string) {
	if c == nil {
		return
	}
	c.parseSkipped.WithLabelValues(cluster, service).Inc()
}

func (c *Collector) EventDispatched(cluster, service, resourceType string) {
	if c == nil {
		return
	}
	c.eventsDispatched.WithLabelValues(cluster, service, resourceType).Inc()
}

func (c *Collector) ListenerPanic(cluster, service string) {
	if c == nil {
		return
	}
	c.listenerErrors.WithLabelValues(cluster, service).Inc()
}

func (c *Collector) SetActiveConsumers(cluster string, count int) {
	if c == nil {
		return
	}
	c.activeConsumers.WithLabelValues(cluster).Set(float64(count))
}
