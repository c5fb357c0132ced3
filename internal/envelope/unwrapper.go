// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package envelope unwraps the oslo.messaging messagingv2 envelope format.
//
// messagingv2 wraps the actual notification in an envelope:
//
//	{
//	  "oslo.version": "2.0",
//	  "oslo.message": "{\"event_type\":\"compute.instance.create.end\",...}"
//	}
//
// The inner oslo.message is a JSON string and needs a second parse.
// messagingv1 (legacy) sends the notification directly, with no envelope.
package envelope

import (
	"encoding/json"
	"fmt"

	"github.com/cobaltcore-dev/osloevent/internal/logging"
)

const (
	osloVersionKey = "oslo.version"
	osloMessageKey = "oslo.message"
	osloV2Version  = "2.0"
)

// Error reports a failure to unwrap or parse the oslo.messaging envelope.
// It always wraps the underlying JSON error.
type Error struct {
	Cause error
}

func (e *Error) Error() string { return fmt.Sprintf("envelope: %v", e.Cause) }
func (e *Error) Unwrap() error { return e.Cause }

// Unwrap parses rawBytes as JSON and, if it carries the messagingv2
// envelope, returns the parsed inner notification; otherwise it returns
// the parsed root (messagingv1/direct format). Unwrap is stateless and
// safe for concurrent use.
func Unwrap(rawBytes []byte) (json.RawMessage, error) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(rawBytes, &root); err != nil {
		return nil, &Error{Cause: err}
	}

	versionRaw, hasVersion := root[osloVersionKey]
	messageRaw, hasMessage := root[osloMessageKey]
	if !hasVersion || !hasMessage {
		logging.Log.Debug("no oslo.messaging envelope detected, treating as raw notification")
		return json.RawMessage(rawBytes), nil
	}

	var version string
	if err := json.Unmarshal(versionRaw, &version); err != nil {
		return nil, &Error{Cause: err}
	}
	if version != osloV2Version {
		logging.Log.Warn("unexpected oslo.version, attempting to parse anyway", "version", version)
	}

	var inner string
	if err := json.Unmarshal(messageRaw, &inner); err != nil {
		return nil, &Error{Cause: err}
	}

	var parsed json.RawMessage
	if err := json.Unmarshal([]byte(inner), &parsed); err != nil {
		return nil, &Error{Cause: err}
	}
	return parsed, nil
}
