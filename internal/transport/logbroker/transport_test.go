// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package logbroker

import (
	"testing"

	"github.com/cobaltcore-dev/osloevent/api"
)

func TestNew_MissingBootstrapServersFailsClearly(t *testing.T) {
	_, err := New("cluster-a", api.KafkaConfig{}, "notifications")
	if err == nil {
		t.Fatal("expected an error when bootstrapServers is empty")
	}
}

func TestNew_DefaultsNotificationTopic(t *testing.T) {
	tr, err := New("cluster-a", api.KafkaConfig{BootstrapServers: "localhost:9092"}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.notificationTopic != "notifications" {
		t.Errorf("notificationTopic = %q, want notifications", tr.notificationTopic)
	}
}

func TestResolveTopicName_DefaultsToServicePlusTopic(t *testing.T) {
	tr, _ := New("cluster-a", api.KafkaConfig{BootstrapServers: "localhost:9092"}, "notifications")
	got := tr.resolveTopicName("nova", api.NewServiceEndpoint("", ""))
	if got != "nova.notifications" {
		t.Errorf("topic = %q, want nova.notifications", got)
	}
}

func TestResolveTopicName_ExchangeOverride(t *testing.T) {
	tr, _ := New("cluster-a", api.KafkaConfig{BootstrapServers: "localhost:9092"}, "notifications")
	endpoint := api.NewServiceEndpoint("", "").WithExtra("exchange", "custom-exchange")
	got := tr.resolveTopicName("nova", endpoint)
	if got != "custom-exchange.notifications" {
		t.Errorf("topic = %q, want custom-exchange.notifications", got)
	}
}

func TestResolveTopicName_TopicOverrideWins(t *testing.T) {
	tr, _ := New("cluster-a", api.KafkaConfig{BootstrapServers: "localhost:9092"}, "notifications")
	endpoint := api.NewServiceEndpoint("", "").WithExtra("topic-override", "raw-topic")
	got := tr.resolveTopicName("nova", endpoint)
	if got != "raw-topic" {
		t.Errorf("topic = %q, want raw-topic", got)
	}
}

func TestResolveServiceFromTopic_TableLookup(t *testing.T) {
	tr, _ := New("cluster-a", api.KafkaConfig{BootstrapServers: "localhost:9092"}, "notifications")
	tr.subs["nova"] = &subscription{topic: "custom.topic"}

	got := tr.resolveServiceFromTopic("custom.topic")
	if got != "nova" {
		t.Errorf("service = %q, want nova", got)
	}
}

func TestResolveServiceFromTopic_FallsBackToPrefix(t *testing.T) {
	tr, _ := New("cluster-a", api.KafkaConfig{BootstrapServers: "localhost:9092"}, "notifications")
	got := tr.resolveServiceFromTopic("cinder.notifications")
	if got != "cinder" {
		t.Errorf("service = %q, want cinder", got)
	}
}

func TestSubscribe_BeforeStartDoesNotRequireClient(t *testing.T) {
	tr, _ := New("cluster-a", api.KafkaConfig{BootstrapServers: "localhost:9092"}, "notifications")
	if err := tr.Subscribe("nova", api.NewServiceEndpoint("", ""), func(string, []byte) {}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.ActiveCount() != 0 {
		t.Errorf("active count = %d, want 0 before start", tr.ActiveCount())
	}
}

func TestClose_WithoutStartIsNoop(t *testing.T) {
	tr, _ := New("cluster-a", api.KafkaConfig{BootstrapServers: "localhost:9092"}, "notifications")
	if err := tr.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFetchPartitionBytesFor_ScalesWithMaxPollRecordsAndClamps(t *testing.T) {
	if got := fetchPartitionBytesFor(1); got != 64<<10 {
		t.Errorf("fetchPartitionBytesFor(1) = %d, want clamp to min %d", got, 64<<10)
	}
	if got := fetchPartitionBytesFor(10_000_000); got != 50<<20 {
		t.Errorf("fetchPartitionBytesFor(10_000_000) = %d, want clamp to max %d", got, 50<<20)
	}
	small := fetchPartitionBytesFor(100)
	large := fetchPartitionBytesFor(1000)
	if large <= small {
		t.Errorf("expected fetchPartitionBytesFor to track maxPollRecords: got %d and %d", small, large)
	}
}

func TestTLSEnabled(t *testing.T) {
	cases := map[string]bool{
		"":               false,
		"PLAINTEXT":      false,
		"SSL":            true,
		"SASL_PLAINTEXT": false,
		"SASL_SSL":       true,
	}
	for protocol, want := range cases {
		if got := tlsEnabled(protocol); got != want {
			t.Errorf("tlsEnabled(%q) = %v, want %v", protocol, got, want)
		}
	}
}

func TestSASLMechanism_PlainBuildsFromJAASConfig(t *testing.T) {
	jaas := `org.apache.kafka.common.security.plain.PlainLoginModule required username="nova" password="secret";`
	mechanism, err := saslMechanism("PLAIN", jaas)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mechanism.Name() != "PLAIN" {
		t.Errorf("mechanism name = %q, want PLAIN", mechanism.Name())
	}
}

func TestSASLMechanism_ScramBuildsFromJAASConfig(t *testing.T) {
	jaas := `org.apache.kafka.common.security.scram.ScramLoginModule required username="nova" password="secret";`
	mechanism, err := saslMechanism("SCRAM-SHA-256", jaas)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mechanism.Name() != "SCRAM-SHA-256" {
		t.Errorf("mechanism name = %q, want SCRAM-SHA-256", mechanism.Name())
	}
}

func TestSASLMechanism_MissingCredentialsFails(t *testing.T) {
	if _, err := saslMechanism("PLAIN", ""); err == nil {
		t.Fatal("expected an error when sasl.jaas.config has no credentials")
	}
}

func TestSASLMechanism_UnsupportedMechanismFails(t *testing.T) {
	jaas := `required username="nova" password="secret";`
	if _, err := saslMechanism("GSSAPI", jaas); err == nil {
		t.Fatal("expected an error for an unsupported sasl mechanism")
	}
}

func TestNewClient_MissingSASLCredentialsFailsFast(t *testing.T) {
	tr, _ := New("cluster-a", api.KafkaConfig{
		BootstrapServers: "localhost:9092",
		SASLMechanism:    "PLAIN",
	}, "notifications")
	if _, err := tr.newClient(); err == nil {
		t.Fatal("expected an error when sasl.mechanism is set without usable jaas config")
	}
}
