// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package api

import "strings"

// ResourceType is the closed set of OpenStack resource kinds that emit
// oslo.messaging notifications. Each variant carries the event_type
// prefix used to recognize it (e.g. "compute.instance" for SERVER).
type ResourceType string

const (
	Server        ResourceType = "SERVER"
	Keypair       ResourceType = "KEYPAIR"
	Volume        ResourceType = "VOLUME"
	Snapshot      ResourceType = "SNAPSHOT"
	Backup        ResourceType = "BACKUP"
	Image         ResourceType = "IMAGE"
	Network       ResourceType = "NETWORK"
	Subnet        ResourceType = "SUBNET"
	Port          ResourceType = "PORT"
	Router        ResourceType = "ROUTER"
	FloatingIP    ResourceType = "FLOATINGIP"
	SecurityGroup ResourceType = "SECURITY_GROUP"
	LoadBalancer  ResourceType = "LOADBALANCER"
	LBListener    ResourceType = "LISTENER"
	Pool          ResourceType = "POOL"
	Project       ResourceType = "PROJECT"
	User          ResourceType = "USER"
	Role          ResourceType = "ROLE"
	Stack         ResourceType = "STACK"
	DNSZone       ResourceType = "DNS_ZONE"
	DNSRecordSet  ResourceType = "DNS_RECORDSET"
	Unknown       ResourceType = "UNKNOWN"
)

// eventTypePrefix is the oslo.messaging event_type prefix for a resource
// type, e.g. "compute.instance" matches "compute.instance.create.end".
var eventTypePrefix = map[ResourceType]string{
	Server:        "compute.instance",
	Keypair:       "keypair",
	Volume:        "volume",
	Snapshot:      "snapshot",
	Backup:        "backup",
	Image:         "image",
	Network:       "network",
	Subnet:        "subnet",
	Port:          "port",
	Router:        "router",
	FloatingIP:    "floatingip",
	SecurityGroup: "security_group",
	LoadBalancer:  "loadbalancer",
	LBListener:    "listener",
	Pool:          "pool",
	Project:       "identity.project",
	User:          "identity.user",
	Role:          "identity.role",
	Stack:         "orchestration.stack",
	DNSZone:       "dns.zone",
	DNSRecordSet:  "dns.recordset",
}

// allResourceTypes lists every match candidate (Unknown is never one);
// longest-prefix match doesn't depend on iteration order.
var allResourceTypes = []ResourceType{
	Server, Keypair, Volume, Snapshot, Backup, Image, Network, Subnet,
	Port, Router, FloatingIP, SecurityGroup, LoadBalancer, LBListener, Pool,
	Project, User, Role, Stack, DNSZone, DNSRecordSet,
}

// Prefix returns the event_type prefix registered for this resource type,
// or "" for Unknown.
func (rt ResourceType) Prefix() string {
	return eventTypePrefix[rt]
}

// ResourceTypeFromEventType resolves the ResourceType whose prefix is the
// longest prefix of eventType, or Unknown if none match. Matching is
// byte-wise and case-sensitive, as oslo event types are lower-case.
func ResourceTypeFromEventType(eventType string) ResourceType {
	best := Unknown
	bestLen := 0
	for _, rt := range allResourceTypes {
		prefix := eventTypePrefix[rt]
		if len(prefix) > bestLen && strings.HasPrefix(eventType, prefix) {
			best = rt
			bestLen = len(prefix)
		}
	}
	return best
}
