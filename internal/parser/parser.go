// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package parser extracts a canonical api.Event from an oslo.messaging
// notification JSON body (already unwrapped by package envelope).
package parser

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cobaltcore-dev/osloevent/api"
	"github.com/cobaltcore-dev/osloevent/internal/logging"
)

// oslo.messaging timestamp format: "2026-02-06 12:00:00.000000"
const osloTimestampLayout = "2006-01-02 15:04:05.000000"

// terminal status tables per resource type, §4.3.
var (
	serverTerminal = set("active", "error", "deleted", "shutoff", "shelved_offloaded", "suspended", "paused", "stopped")
	volumeTerminal = set("available", "in-use", "error", "deleted", "error_deleting", "error_restoring")
	imageTerminal  = set("active", "killed", "deleted", "deactivated")
	stackTerminal  = set("create_complete", "create_failed", "update_complete", "update_failed",
		"delete_complete", "delete_failed", "rollback_complete", "rollback_failed")
	genericTerminal = set("active", "error", "deleted", "available", "down")
)

func set(values ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(values))
	for _, v := range values {
		m[v] = struct{}{}
	}
	return m
}

// resourceIDFields lists, in order of specificity, the payload field
// names that hold a resource's identifier, per resource type (§4.3).
var resourceIDFields = map[api.ResourceType][]string{
	api.Server:       {"instance_id", "uuid", "id"},
	api.Volume:       {"volume_id", "id"},
	api.Snapshot:     {"snapshot_id", "id"},
	api.Backup:       {"backup_id", "id"},
	api.Image:        {"id", "image_id"},
	api.Network:      {"network_id", "id"},
	api.Subnet:       {"subnet_id", "id"},
	api.Port:         {"port_id", "id"},
	api.Router:       {"router_id", "id"},
	api.FloatingIP:   {"floatingip_id", "id"},
	api.LoadBalancer: {"loadbalancer_id", "id"},
	api.Stack:        {"stack_identity", "id"},
}

var defaultResourceIDFields = []string{"id", "resource_id", "uuid"}

// statusFields lists, in order of specificity, the payload field names
// that hold a resource's status/state, per resource type (§4.3).
var statusFields = map[api.ResourceType][]string{
	api.Server:       {"state", "status", "vm_state"},
	api.Volume:       {"status"},
	api.Snapshot:     {"status"},
	api.Backup:       {"status"},
	api.Image:        {"status"},
	api.Stack:        {"state", "stack_status"},
	api.LoadBalancer: {"operating_status", "provisioning_status", "status"},
}

var defaultStatusFields = []string{"status", "state"}

var oldStatusFields = []string{"old_state", "old_status", "previous_state"}

var phaseSegments = set("start", "end", "error")

// Parse extracts a canonical event from a single oslo.messaging
// notification. It returns (Event{}, false) when the notification cannot
// be parsed — a missing event_type, or any error during field extraction
// — matching the "skip, don't propagate" contract in §4.3/§7.
func Parse(clusterID, service string, notification json.RawMessage) (event api.Event, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logging.Log.Error("panic while parsing notification, skipping", "cluster", clusterID, "service", service, "recover", r)
			event, ok = api.Event{}, false
		}
	}()

	var top map[string]json.RawMessage
	if err := json.Unmarshal(notification, &top); err != nil {
		logging.Log.Error("notification is not a JSON object, skipping", "error", err)
		return api.Event{}, false
	}

	eventType, hasEventType := stringField(top, "event_type")
	if !hasEventType || eventType == "" {
		logging.Log.Warn("notification missing event_type, skipping")
		return api.Event{}, false
	}

	resourceType := api.ResourceTypeFromEventType(eventType)

	var payload json.RawMessage
	if raw, present := top["payload"]; present {
		payload = raw
	}

	payloadObj := decodePayloadObject(payload)

	action, phase := parseActionPhase(eventType, resourceType)
	resourceID := extractResourceID(payloadObj, resourceType)
	status := extractStatus(payloadObj, resourceType)
	oldStatus := extractOldStatus(payloadObj)
	timestamp := parseTimestamp(firstString(top, "timestamp"))
	terminal := isTerminal(status, resourceType)

	messageID := firstString(top, "message_id")
	traceID := messageID
	if traceID == "" {
		// oslo notifications always carry a message_id in practice; this
		// only covers malformed producers. The generated id is for log
		// correlation only and is never written into the event.
		traceID = uuid.NewString()
	}

	b := api.NewEventBuilder(clusterID, eventType).
		Service(service).
		ResourceType(resourceType).
		ResourceID(resourceID).
		Action(action).
		Phase(phase).
		Priority(firstString(top, "priority")).
		PublisherID(firstString(top, "publisher_id")).
		MessageID(messageID).
		Timestamp(timestamp).
		Status(status).
		OldStatus(oldStatus).
		Terminal(terminal).
		Payload(payload)

	logging.Log.Debug("parsed notification", "cluster", clusterID, "service", service, "eventType", eventType, "traceId", traceID)
	return b.Build(), true
}

func decodePayloadObject(payload json.RawMessage) map[string]json.RawMessage {
	if len(payload) == 0 {
		return nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return nil
	}
	return obj
}

// novaObjectData returns the nested "nova_object.data" object from a Nova
// versioned-notification payload, or nil if absent.
func novaObjectData(payload map[string]json.RawMessage) map[string]json.RawMessage {
	if payload == nil {
		return nil
	}
	raw, ok := payload["nova_object.data"]
	if !ok {
		return nil
	}
	var data map[string]json.RawMessage
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil
	}
	return data
}

func extractResourceID(payload map[string]json.RawMessage, rt api.ResourceType) string {
	if payload == nil {
		return ""
	}
	if data := novaObjectData(payload); data != nil {
		if uuid, ok := stringField(data, "uuid"); ok && uuid != "" {
			return uuid
		}
	}

	fields, ok := resourceIDFields[rt]
	if !ok {
		fields = defaultResourceIDFields
	}
	for _, field := range fields {
		if v, ok := stringField(payload, field); ok && v != "" {
			return v
		}
	}

	// Last resort: payload.resource_info.id
	if raw, ok := payload["resource_info"]; ok {
		var info map[string]json.RawMessage
		if err := json.Unmarshal(raw, &info); err == nil {
			if v, ok := stringField(info, "id"); ok && v != "" {
				return v
			}
		}
	}
	return ""
}

func extractStatus(payload map[string]json.RawMessage, rt api.ResourceType) string {
	if payload == nil {
		return ""
	}
	if data := novaObjectData(payload); data != nil {
		if state, ok := stringField(data, "state"); ok && state != "" {
			return strings.ToLower(state)
		}
	}

	fields, ok := statusFields[rt]
	if !ok {
		fields = defaultStatusFields
	}
	for _, field := range fields {
		if v, ok := stringField(payload, field); ok && v != "" {
			return strings.ToLower(v)
		}
	}
	return ""
}

func extractOldStatus(payload map[string]json.RawMessage) string {
	if payload == nil {
		return ""
	}
	if data := novaObjectData(payload); data != nil {
		if old, ok := stringField(data, "old_state"); ok && old != "" {
			return strings.ToLower(old)
		}
	}
	for _, field := range oldStatusFields {
		if v, ok := stringField(payload, field); ok && v != "" {
			return strings.ToLower(v)
		}
	}
	return ""
}

func isTerminal(status string, rt api.ResourceType) bool {
	if status == "" {
		return false
	}
	var table map[string]struct{}
	switch rt {
	case api.Server:
		table = serverTerminal
	case api.Volume, api.Snapshot, api.Backup:
		table = volumeTerminal
	case api.Image:
		table = imageTerminal
	case api.Stack:
		table = stackTerminal
	default:
		table = genericTerminal
	}
	_, found := table[status]
	return found
}

// parseActionPhase splits the remainder of eventType after resourceType's
// prefix into an action and an optional phase (§4.3).
func parseActionPhase(eventType string, rt api.ResourceType) (action, phase string) {
	prefix := rt.Prefix()
	suffix := eventType
	if prefix != "" && strings.HasPrefix(eventType, prefix) {
		suffix = eventType[len(prefix):]
	}
	suffix = strings.TrimPrefix(suffix, ".")
	if suffix == "" {
		return "", ""
	}

	parts := strings.Split(suffix, ".")
	action = parts[0]
	if len(parts) >= 2 {
		last := parts[len(parts)-1]
		if _, isPhase := phaseSegments[last]; isPhase {
			phase = last
		}
	}
	return action, phase
}

// parseTimestamp parses the oslo timestamp format, falling back to the
// current time (logged at debug) on any parse failure or absence.
func parseTimestamp(raw string) time.Time {
	if raw == "" {
		return time.Now().UTC()
	}
	t, err := time.Parse(osloTimestampLayout, raw)
	if err != nil {
		logging.Log.Debug("cannot parse notification timestamp, using current time", "timestamp", raw, "error", err)
		return time.Now().UTC()
	}
	return t.UTC()
}

func stringField(obj map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := obj[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func firstString(obj map[string]json.RawMessage, key string) string {
	s, _ := stringField(obj, key)
	return s
}
