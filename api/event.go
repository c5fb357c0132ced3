// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"encoding/json"
	"time"
)

// Event is the canonical, immutable representation of a single
// oslo.messaging notification, normalized across OpenStack services.
//
// EventBuilder applies the construction invariants: ClusterID and
// EventType are required arguments, ResourceType is derived from
// EventType when not given explicitly, and Timestamp defaults to the
// construction time. The builder does not derive Terminal; the parser
// computes it from (ResourceType, Status) and sets it explicitly.
type Event struct {
	ClusterID    string
	Service      string
	ResourceType ResourceType
	ResourceID   string // empty if not present in the payload
	EventType    string
	Action       string // empty if the event_type carries no action segment
	Phase        string // one of "start", "end", "error", or empty
	Priority     string
	PublisherID  string
	MessageID    string
	Timestamp    time.Time
	Status       string // lower-cased, empty if absent
	OldStatus    string // lower-cased, empty if absent
	Terminal     bool
	Payload      json.RawMessage // preserved raw JSON payload subtree, may be nil
}

// PayloadField decodes the named top-level field of Payload into dst.
// It reports false if Payload is absent, not a JSON object, or the field
// is missing.
func (e Event) PayloadField(key string, dst any) bool {
	if len(e.Payload) == 0 {
		return false
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(e.Payload, &obj); err != nil {
		return false
	}
	raw, ok := obj[key]
	if !ok {
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}

// PayloadString is a convenience wrapper around PayloadField for string
// fields, returning "" when the field is absent or not a string.
func (e Event) PayloadString(key string) string {
	var s string
	if e.PayloadField(key, &s) {
		return s
	}
	return ""
}

// EventBuilder constructs an Event; Build applies the defaulting rules
// described in the Event doc comment.
type EventBuilder struct {
	e Event
	// resourceTypeSet records whether ResourceType was explicitly set,
	// since Unknown (the zero value) is itself a valid explicit choice.
	resourceTypeSet bool
}

// NewEventBuilder starts a builder for the required fields clusterID and
// eventType.
func NewEventBuilder(clusterID, eventType string) *EventBuilder {
	return &EventBuilder{e: Event{ClusterID: clusterID, EventType: eventType}}
}

func (b *EventBuilder) Service(v string) *EventBuilder { b.e.Service = v; return b }
func (b *EventBuilder) ResourceType(v ResourceType) *EventBuilder {
	b.e.ResourceType = v
	b.resourceTypeSet = true
	return b
}
func (b *EventBuilder) ResourceID(v string) *EventBuilder  { b.e.ResourceID = v; return b }
func (b *EventBuilder) Action(v string) *EventBuilder      { b.e.Action = v; return b }
func (b *EventBuilder) Phase(v string) *EventBuilder       { b.e.Phase = v; return b }
func (b *EventBuilder) Priority(v string) *EventBuilder    { b.e.Priority = v; return b }
func (b *EventBuilder) PublisherID(v string) *EventBuilder { b.e.PublisherID = v; return b }
func (b *EventBuilder) MessageID(v string) *EventBuilder   { b.e.MessageID = v; return b }
func (b *EventBuilder) Timestamp(v time.Time) *EventBuilder {
	b.e.Timestamp = v
	return b
}
func (b *EventBuilder) Status(v string) *EventBuilder    { b.e.Status = v; return b }
func (b *EventBuilder) OldStatus(v string) *EventBuilder { b.e.OldStatus = v; return b }
func (b *EventBuilder) Terminal(v bool) *EventBuilder    { b.e.Terminal = v; return b }
func (b *EventBuilder) Payload(v json.RawMessage) *EventBuilder {
	b.e.Payload = v
	return b
}

// Build finalizes the Event, applying §3's construction invariants:
// ResourceType is derived from EventType if not set explicitly, and
// Timestamp defaults to now if zero.
func (b *EventBuilder) Build() Event {
	if !b.resourceTypeSet {
		b.e.ResourceType = ResourceTypeFromEventType(b.e.EventType)
	}
	if b.e.Timestamp.IsZero() {
		b.e.Timestamp = time.Now().UTC()
	}
	return b.e
}
