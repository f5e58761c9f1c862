// Package mqtt provides the daemon's remote command channel and
// lifecycle events, with abstraction for testing. Inbound messages on
// the duty-set topic become duty-cycle requests; outbound traffic is
// limited to lifecycle events and reconfiguration acknowledgements —
// measurements are never published.
package mqtt

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Topics.
const (
	// TopicDutySet receives duty-cycle flip point requests. The payload
	// is a bare integer, or JSON {"flip_point": N}.
	TopicDutySet = "energy/relay/duty/set"

	// TopicDutyAck carries reconfiguration acknowledgements.
	TopicDutyAck = "energy/relay/duty/ack"

	// TopicSystem carries system lifecycle events.
	TopicSystem = "energy/relay/system"
)

// CommandHandler receives the flip point parsed from an inbound duty-set
// message. It is invoked on the MQTT client's goroutine.
type CommandHandler func(flipPoint int)

// Publisher publishes daemon events to MQTT.
type Publisher interface {
	// PublishAck sends a duty-cycle reconfiguration acknowledgement.
	// Returns error if publishing fails (should not crash the process).
	PublishAck(ack DutyAck) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// DutyAck reports the outcome of one duty-cycle swap to remote callers.
type DutyAck struct {
	Timestamp time.Time
	Outcome   string // "applied", "disarm-failed", "arm-failed"
	From      int
	To        int
	Err       string
}

// AckPayload is the MQTT message payload for a duty acknowledgement.
type AckPayload struct {
	Duty AckInner `json:"duty"`
}

// AckInner contains the acknowledgement details.
type AckInner struct {
	Timestamp string `json:"timestamp"`
	Outcome   string `json:"outcome"`
	From      int    `json:"from"`
	To        int    `json:"to"`
	Error     string `json:"error,omitempty"`
}

// FormatAckPayload creates the JSON payload for a duty acknowledgement.
func FormatAckPayload(ack DutyAck) ([]byte, error) {
	payload := AckPayload{
		Duty: AckInner{
			Timestamp: ack.Timestamp.UTC().Format(time.RFC3339),
			Outcome:   ack.Outcome,
			From:      ack.From,
			To:        ack.To,
			Error:     ack.Err,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for the full
// config snapshot on STARTUP/SHUTDOWN).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// dutyCommand is the JSON form of an inbound duty-set message.
type dutyCommand struct {
	FlipPoint *int `json:"flip_point"`
}

// ParseDutyCommand extracts the requested flip point from an inbound
// duty-set payload. Accepts a bare integer ("12") or a JSON object
// ({"flip_point": 12}).
func ParseDutyCommand(payload []byte) (int, error) {
	s := strings.TrimSpace(string(payload))
	if s == "" {
		return 0, fmt.Errorf("empty duty command")
	}

	if v, err := strconv.Atoi(s); err == nil {
		return v, nil
	}

	var cmd dutyCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return 0, fmt.Errorf("parse duty command %q: %w", s, err)
	}
	if cmd.FlipPoint == nil {
		return 0, fmt.Errorf("duty command %q: missing flip_point", s)
	}
	return *cmd.FlipPoint, nil
}
