// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package manager implements the event manager: it owns the transport
// instances, the listener registry, and the bytes → unwrap → parse →
// dispatch pipeline described in §4.7.
package manager

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cobaltcore-dev/osloevent/api"
	"github.com/cobaltcore-dev/osloevent/internal/envelope"
	"github.com/cobaltcore-dev/osloevent/internal/logging"
	"github.com/cobaltcore-dev/osloevent/internal/metrics"
	"github.com/cobaltcore-dev/osloevent/internal/parser"
	"github.com/cobaltcore-dev/osloevent/internal/transport/amqp"
	"github.com/cobaltcore-dev/osloevent/internal/transport/logbroker"
)

// Manager is the single entry point for consuming OpenStack oslo.messaging
// notifications: it owns one transport per cluster, a listener registry,
// and the message-processing pipeline.
type Manager struct {
	config  api.Config
	metrics *metrics.Collector

	listenersMu sync.Mutex
	listeners   atomic.Pointer[[]api.EventListener] // snapshot-on-iterate, §9

	transportsMu sync.Mutex
	transports   map[string]api.Transport

	runMu   sync.Mutex
	running bool
}

// New constructs a Manager for config. Metrics are registered against
// registry; pass nil to disable metrics entirely.
func New(config api.Config, registry prometheus.Registerer) *Manager {
	var collector *metrics.Collector
	if registry != nil {
		collector = metrics.New(registry)
	}
	m := &Manager{
		config:     config,
		metrics:    collector,
		transports: make(map[string]api.Transport),
	}
	empty := []api.EventListener{}
	m.listeners.Store(&empty)
	return m
}

// Config returns the configuration the manager was constructed with.
func (m *Manager) Config() api.Config { return m.config }

// AddListener registers a listener. Safe to call at any time, including
// while the manager is running.
func (m *Manager) AddListener(listener api.EventListener) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	current := *m.listeners.Load()
	next := make([]api.EventListener, len(current)+1)
	copy(next, current)
	next[len(current)] = listener
	m.listeners.Store(&next)
}

// RemoveListener unregisters a listener, comparing by identity. No-op if
// not registered.
func (m *Manager) RemoveListener(listener api.EventListener) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	current := *m.listeners.Load()
	next := make([]api.EventListener, 0, len(current))
	for _, l := range current {
		if !sameListener(l, listener) {
			next = append(next, l)
		}
	}
	m.listeners.Store(&next)
}

// sameListener reports whether a and b are the same listener. Comparable
// dynamic types use ==; func-based listeners such as api.EventListenerFunc
// are not comparable, so they are matched by the interface's data word,
// which for a func value is its closure pointer.
func sameListener(a, b api.EventListener) bool {
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) {
		return false
	}
	if ta == nil || ta.Comparable() {
		return a == b
	}
	type iface struct{ tab, data unsafe.Pointer }
	return (*iface)(unsafe.Pointer(&a)).data == (*iface)(unsafe.Pointer(&b)).data
}

// SetTransport installs transport as the backend for clusterID, closing
// any transport previously installed for that cluster.
func (m *Manager) SetTransport(clusterID string, transport api.Transport) {
	m.transportsMu.Lock()
	old := m.transports[clusterID]
	m.transports[clusterID] = transport
	m.transportsMu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			logging.Log.Warn("error closing previous transport", "cluster", clusterID, "error", err)
		}
	}
}

// Start activates every configured cluster's transport and subscribes its
// configured services. Per-cluster failures are logged and do not prevent
// other clusters from starting. A second call while running is a no-op.
func (m *Manager) Start() error {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.running {
		logging.Log.Warn("manager is already running")
		return nil
	}
	if !m.config.Enabled {
		logging.Log.Info("openstack event consumption is disabled by configuration")
		return nil
	}

	logging.Log.Info("starting openstack notification consumers")
	for clusterID, cluster := range m.config.Clusters {
		if err := m.startCluster(clusterID, cluster); err != nil {
			logging.Log.Error("failed to start cluster, continuing with others", "cluster", clusterID, "error", err)
		}
	}

	m.running = true
	logging.Log.Info("openstack notification consumers started", "activeClusters", len(m.transports))
	return nil
}

// Stop closes every transport, clears the transport map, and is
// idempotent.
func (m *Manager) Stop() error {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return nil
	}
	m.running = false

	m.transportsMu.Lock()
	snapshot := m.transports
	m.transports = make(map[string]api.Transport)
	m.transportsMu.Unlock()

	for clusterID, transport := range snapshot {
		if err := transport.Close(); err != nil {
			logging.Log.Warn("error stopping transport", "cluster", clusterID, "error", err)
		}
	}
	logging.Log.Info("all openstack notification consumers stopped")
	return nil
}

// Close is an alias for Stop, for io.Closer compatibility.
func (m *Manager) Close() error { return m.Stop() }

// Running reports whether Start has been called without a matching Stop.
func (m *Manager) Running() bool {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	return m.running
}

// ActiveConsumerCount sums ActiveCount across every managed transport.
func (m *Manager) ActiveConsumerCount() int {
	m.transportsMu.Lock()
	defer m.transportsMu.Unlock()
	total := 0
	for _, transport := range m.transports {
		total += transport.ActiveCount()
	}
	return total
}

// AddService subscribes a new service on clusterID's already-running
// transport. The cluster's transport must already exist (constructed by
// Start or a prior SetTransport); otherwise AddService fails.
func (m *Manager) AddService(clusterID, serviceName string, endpoint api.ServiceEndpoint) error {
	m.transportsMu.Lock()
	transport, ok := m.transports[clusterID]
	m.transportsMu.Unlock()
	if !ok {
		return &api.Error{ClusterID: clusterID, Service: serviceName, Op: "addService",
			Cause: fmt.Errorf("cluster not found or not started")}
	}

	cb := m.callbackFor(clusterID)
	if err := transport.Subscribe(serviceName, endpoint, cb); err != nil {
		return err
	}
	logging.Log.Info("dynamically added service", "cluster", clusterID, "service", serviceName)
	return nil
}

// RemoveService unsubscribes a service from clusterID's transport, if any.
func (m *Manager) RemoveService(clusterID, serviceName string) {
	m.transportsMu.Lock()
	transport, ok := m.transports[clusterID]
	m.transportsMu.Unlock()
	if ok {
		transport.Unsubscribe(serviceName)
	}
	logging.Log.Info("removed service", "cluster", clusterID, "service", serviceName)
}

func (m *Manager) startCluster(clusterID string, cluster api.Cluster) error {
	m.transportsMu.Lock()
	transport, exists := m.transports[clusterID]
	m.transportsMu.Unlock()

	if !exists {
		built, err := m.buildTransport(clusterID, cluster)
		if err != nil {
			return err
		}
		transport = built
		m.transportsMu.Lock()
		m.transports[clusterID] = transport
		m.transportsMu.Unlock()
	}

	cb := m.callbackFor(clusterID)
	for serviceName, endpoint := range cluster.Services {
		if err := transport.Subscribe(serviceName, endpoint, cb); err != nil {
			logging.Log.Error("failed to subscribe service, continuing with others",
				"cluster", clusterID, "service", serviceName, "error", err)
		}
	}

	return transport.Start()
}

func (m *Manager) buildTransport(clusterID string, cluster api.Cluster) (api.Transport, error) {
	switch cluster.Transport {
	case api.TransportKafka:
		return logbroker.New(clusterID, cluster.Kafka, m.config.Topic)
	default:
		return amqp.New(clusterID, cluster.RabbitMQ, m.config.Topic, m.config.PrefetchCount, m.config.ReconnectInterval), nil
	}
}

// callbackFor returns a MessageCallback bound to clusterID; the service
// name is supplied per delivery by the transport, since one callback is
// shared across every service subscribed on a cluster.
func (m *Manager) callbackFor(clusterID string) api.MessageCallback {
	return func(serviceName string, body []byte) {
		m.processMessage(clusterID, serviceName, body)
	}
}

// processMessage implements the pipeline: unwrap → parse → dispatch.
func (m *Manager) processMessage(clusterID, serviceName string, body []byte) {
	m.metrics.MessageReceived(clusterID, serviceName)

	notification, err := envelope.Unwrap(body)
	if err != nil {
		logging.Log.Error("failed to unwrap oslo.messaging envelope", "cluster", clusterID, "service", serviceName, "error", err)
		logging.Log.Debug("raw message body", "body", string(body))
		m.metrics.EnvelopeError(clusterID, serviceName)
		return
	}

	event, ok := parser.Parse(clusterID, serviceName, notification)
	if !ok {
		logging.Log.Debug("notification could not be parsed, skipping", "cluster", clusterID, "service", serviceName)
		m.metrics.ParseSkipped(clusterID, serviceName)
		return
	}

	m.metrics.EventDispatched(clusterID, serviceName, string(event.ResourceType))
	m.dispatch(event, clusterID, serviceName)
}

// dispatch fans event out to a snapshot of the listener set. Every
// listener panic is recovered and logged independently; one bad listener
// never prevents the rest from receiving the event.
func (m *Manager) dispatch(event api.Event, clusterID, serviceName string) {
	for _, listener := range *m.listeners.Load() {
		m.invokeListener(listener, event, clusterID, serviceName)
	}
}

func (m *Manager) invokeListener(listener api.EventListener, event api.Event, clusterID, serviceName string) {
	defer func() {
		if r := recover(); r != nil {
			logging.Log.Error("listener panicked while handling event", "cluster", clusterID, "service", serviceName, "recover", r)
			m.metrics.ListenerPanic(clusterID, serviceName)
		}
	}()
	listener.OnEvent(event)
}
