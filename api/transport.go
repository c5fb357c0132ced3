// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package api

import "fmt"

// MessageCallback receives raw message bytes from a transport. body is
// the oslo.messaging envelope or raw notification exactly as delivered by
// the broker; unwrapping and parsing are the caller's responsibility, not
// the transport's.
//
// Implementations must be safe to call concurrently: messages may arrive
// from multiple broker sessions at once.
type MessageCallback func(service string, body []byte)

// Transport is the capability set every broker backend implements: the
// classic AMQP transport, the log-broker (Kafka-style) transport, and any
// third-party backend wired in through Manager.SetTransport.
//
// All operations must be safe for concurrent use. Close must be
// idempotent.
type Transport interface {
	// Subscribe registers (or replaces) the subscription for service. If
	// the transport is already running, the subscription is activated
	// immediately; otherwise it is deferred until Start. Replacing an
	// existing subscription releases the prior broker resources before
	// installing the new one.
	Subscribe(service string, endpoint ServiceEndpoint, cb MessageCallback) error

	// Unsubscribe detaches the consumer for service and releases its
	// broker resources. No-op if service has no subscription.
	Unsubscribe(service string)

	// Start activates every registered subscription. A second call while
	// already running is a no-op. Per-service failures are logged and do
	// not prevent the remaining services from starting; the transport is
	// Running once
	// Start returns, regardless of partial failures.
	Start() error

	// Close stops every consumer, releases resources, and clears
	// subscriptions. Idempotent.
	Close() error

	// ActiveCount returns the number of currently active consumers.
	ActiveCount() int

	// Running reports whether the transport has been started and not yet
	// closed.
	Running() bool
}

// Error reports a transport-level failure: a broker connect/open/declare/
// subscribe failure, or a missing broker client dependency. It always
// wraps the underlying cause.
type Error struct {
	ClusterID string
	Service   string // empty when the failure isn't service-specific
	Op        string
	Cause     error
}

func (e *Error) Error() string {
	if e.Service != "" {
		return fmt.Sprintf("transport: %s: cluster=%s service=%s: %v", e.Op, e.ClusterID, e.Service, e.Cause)
	}
	return fmt.Sprintf("transport: %s: cluster=%s: %v", e.Op, e.ClusterID, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }
