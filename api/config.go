// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package api

import "time"

// Config is the manager-level configuration schema described in §6. Yaml
// tags pin the field names of that schema; loading it from YAML or
// another file format is still out of scope for this module (§1) — no
// loader lives here, callers populate this struct from whatever
// configuration system their application already uses.
type Config struct {
	Enabled           bool                `yaml:"enabled"`
	Topic             string              `yaml:"topic"`         // default "notifications"
	PrefetchCount     int                 `yaml:"prefetchCount"` // default 10
	ReconnectInterval time.Duration       `yaml:"reconnectInterval"` // default 5s
	Clusters          map[string]Cluster  `yaml:"clusters"`
}

// RabbitMQConfig is the broker-level configuration for a cluster using
// the AMQP transport.
type RabbitMQConfig struct {
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"` // default 5672
	SSL               bool          `yaml:"ssl"`  // default false
	ConnectionTimeout time.Duration `yaml:"connectionTimeout"` // default 10s
	Heartbeat         time.Duration `yaml:"heartbeat"`         // default 30s
}

// KafkaConfig is the broker-level configuration for a cluster using the
// log-broker transport.
type KafkaConfig struct {
	BootstrapServers string        `yaml:"bootstrapServers"`
	GroupID          string        `yaml:"groupId"`
	AutoOffsetReset  string        `yaml:"autoOffsetReset"` // default "earliest"
	EnableAutoCommit bool          `yaml:"enableAutoCommit"` // default true
	MaxPollRecords   int           `yaml:"maxPollRecords"`   // default 100
	PollTimeout      time.Duration `yaml:"pollTimeout"`      // default 1s
	SecurityProtocol string        `yaml:"securityProtocol,omitempty"`
	SASLMechanism    string        `yaml:"saslMechanism,omitempty"`
	SASLJAASConfig   string        `yaml:"saslJaasConfig,omitempty"`
}

// DefaultConfig returns a Config with every documented default applied
// and an empty cluster map, ready for the caller to populate.
func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		Topic:             "notifications",
		PrefetchCount:     10,
		ReconnectInterval: 5 * time.Second,
		Clusters:          make(map[string]Cluster),
	}
}

// DefaultRabbitMQConfig returns the documented RabbitMQ broker defaults.
func DefaultRabbitMQConfig() RabbitMQConfig {
	return RabbitMQConfig{
		Port:              5672,
		ConnectionTimeout: 10 * time.Second,
		Heartbeat:         30 * time.Second,
	}
}

// DefaultKafkaConfig returns the documented Kafka broker defaults.
func DefaultKafkaConfig() KafkaConfig {
	return KafkaConfig{
		AutoOffsetReset:  "earliest",
		EnableAutoCommit: true,
		MaxPollRecords:   100,
		PollTimeout:      time.Second,
	}
}
