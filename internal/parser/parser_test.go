// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package parser

import (
	"testing"

	"github.com/cobaltcore-dev/osloevent/api"
)

func TestParse_ComputeInstanceCreateEnd(t *testing.T) {
	body := []byte(`{
		"event_type": "compute.instance.create.end",
		"priority": "INFO",
		"publisher_id": "compute.node-1",
		"message_id": "m-1",
		"timestamp": "2026-02-06 12:00:00.000000",
		"payload": {"instance_id": "vm-1", "state": "active", "old_state": "building"}
	}`)

	ev, ok := Parse("cluster-a", "nova", body)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if ev.ClusterID != "cluster-a" || ev.Service != "nova" {
		t.Errorf("cluster/service = %s/%s", ev.ClusterID, ev.Service)
	}
	if ev.ResourceType != api.Server {
		t.Errorf("resource type = %s, want SERVER", ev.ResourceType)
	}
	if ev.ResourceID != "vm-1" {
		t.Errorf("resource id = %s, want vm-1", ev.ResourceID)
	}
	if ev.Action != "create" || ev.Phase != "end" {
		t.Errorf("action/phase = %s/%s, want create/end", ev.Action, ev.Phase)
	}
	if ev.Status != "active" || ev.OldStatus != "building" {
		t.Errorf("status/old = %s/%s", ev.Status, ev.OldStatus)
	}
	if !ev.Terminal {
		t.Error("expected active to be a terminal server status")
	}
	if ev.Priority != "INFO" || ev.PublisherID != "compute.node-1" || ev.MessageID != "m-1" {
		t.Errorf("envelope fields not passed through: %+v", ev)
	}
	if ev.Timestamp.IsZero() {
		t.Error("timestamp should be parsed, not zero")
	}
}

func TestParse_NovaVersionedObjectPayload(t *testing.T) {
	body := []byte(`{
		"event_type": "compute.instance.update",
		"payload": {
			"nova_object.data": {"uuid": "vm-2", "state": "error", "old_state": "active"}
		}
	}`)

	ev, ok := Parse("cluster-a", "nova", body)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if ev.ResourceID != "vm-2" {
		t.Errorf("resource id = %s, want vm-2 (from nova_object.data.uuid)", ev.ResourceID)
	}
	if ev.Status != "error" || ev.OldStatus != "active" {
		t.Errorf("status/old = %s/%s, want error/active", ev.Status, ev.OldStatus)
	}
}

func TestParse_VolumeDeleteStart(t *testing.T) {
	body := []byte(`{"event_type":"volume.delete.start","payload":{"volume_id":"v-1","status":"deleting"}}`)

	ev, ok := Parse("cluster-a", "cinder", body)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if ev.ResourceType != api.Volume {
		t.Errorf("resource type = %s, want VOLUME", ev.ResourceType)
	}
	if ev.ResourceID != "v-1" {
		t.Errorf("resource id = %s, want v-1", ev.ResourceID)
	}
	if ev.Action != "delete" || ev.Phase != "start" {
		t.Errorf("action/phase = %s/%s, want delete/start", ev.Action, ev.Phase)
	}
	if ev.Terminal {
		t.Error("deleting is not a terminal volume status")
	}
}

func TestParse_StackEventWithoutPhase(t *testing.T) {
	body := []byte(`{"event_type":"orchestration.stack.create","payload":{"stack_identity":"s-1","state":"CREATE_COMPLETE"}}`)

	ev, ok := Parse("cluster-a", "heat", body)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if ev.ResourceType != api.Stack {
		t.Errorf("resource type = %s, want STACK", ev.ResourceType)
	}
	if ev.Action != "create" || ev.Phase != "" {
		t.Errorf("action/phase = %s/%s, want create/<empty>", ev.Action, ev.Phase)
	}
	if ev.Status != "create_complete" {
		t.Errorf("status = %s, want create_complete", ev.Status)
	}
	if !ev.Terminal {
		t.Error("CREATE_COMPLETE should be terminal for a stack")
	}
}

func TestParse_UnknownResourceType(t *testing.T) {
	body := []byte(`{"event_type":"some.unrecognized.thing","payload":{}}`)

	ev, ok := Parse("cluster-a", "mystery", body)
	if !ok {
		t.Fatal("expected ok=true even for an unrecognized resource type")
	}
	if ev.ResourceType != api.Unknown {
		t.Errorf("resource type = %s, want UNKNOWN", ev.ResourceType)
	}
}

func TestParse_MissingEventTypeIsSkipped(t *testing.T) {
	body := []byte(`{"payload":{"foo":"bar"}}`)

	_, ok := Parse("cluster-a", "nova", body)
	if ok {
		t.Fatal("expected ok=false when event_type is missing")
	}
}

func TestParse_MalformedJSONIsSkipped(t *testing.T) {
	_, ok := Parse("cluster-a", "nova", []byte(`not json`))
	if ok {
		t.Fatal("expected ok=false for malformed JSON")
	}
}

func TestParse_MissingTimestampDefaultsToNow(t *testing.T) {
	body := []byte(`{"event_type":"image.update","payload":{"id":"i-1","status":"active"}}`)

	ev, ok := Parse("cluster-a", "glance", body)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if ev.Timestamp.IsZero() {
		t.Error("timestamp should default to now, not be zero")
	}
}

func TestParse_PayloadPreservedVerbatim(t *testing.T) {
	body := []byte(`{"event_type":"image.update","payload":{"id":"i-1","status":"active","extra":{"nested":true}}}`)

	ev, ok := Parse("cluster-a", "glance", body)
	if !ok {
		t.Fatal("expected ok=true")
	}
	var nested struct {
		Nested bool `json:"nested"`
	}
	if !ev.PayloadField("extra", &nested) || !nested.Nested {
		t.Error("expected nested payload field to survive round-trip")
	}
}
