// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package api

import "testing"

func TestCluster_WithServicesAlias_MergesVhosts(t *testing.T) {
	c := Cluster{
		Transport: TransportRabbitMQ,
		Services: map[string]ServiceEndpoint{
			"nova": NewServiceEndpoint("nova", "nova-secret"),
		},
	}
	vhosts := map[string]ServiceEndpoint{
		"cinder": NewServiceEndpoint("cinder", "cinder-secret"),
	}

	merged := c.WithServicesAlias(vhosts)

	if len(merged.Services) != 2 {
		t.Fatalf("expected 2 services, got %d: %+v", len(merged.Services), merged.Services)
	}
	if merged.Services["nova"].Username != "nova" {
		t.Fatalf("nova endpoint missing or wrong: %+v", merged.Services["nova"])
	}
	if merged.Services["cinder"].Username != "cinder" {
		t.Fatalf("cinder endpoint missing or wrong: %+v", merged.Services["cinder"])
	}
}

func TestCluster_WithServicesAlias_ServicesWinsOnCollision(t *testing.T) {
	c := Cluster{
		Services: map[string]ServiceEndpoint{
			"nova": NewServiceEndpoint("services-value", "secret"),
		},
	}
	vhosts := map[string]ServiceEndpoint{
		"nova": NewServiceEndpoint("vhosts-value", "secret"),
	}

	merged := c.WithServicesAlias(vhosts)

	if merged.Services["nova"].Username != "services-value" {
		t.Fatalf("expected services to win collision, got %+v", merged.Services["nova"])
	}
}

func TestCluster_WithServicesAlias_EmptyVhostsIsNoop(t *testing.T) {
	c := Cluster{
		Services: map[string]ServiceEndpoint{
			"nova": NewServiceEndpoint("nova", "secret"),
		},
	}

	merged := c.WithServicesAlias(nil)

	if len(merged.Services) != 1 {
		t.Fatalf("expected unchanged services map, got %+v", merged.Services)
	}
}
