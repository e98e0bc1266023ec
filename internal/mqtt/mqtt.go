// Package mqtt publishes controller snapshots, pump events and lifecycle
// events to an MQTT broker.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/irrigation-controller/internal/logic"
	"github.com/sweeney/irrigation-controller/internal/status"
)

// Topics. Status is retained so a new subscriber sees the latest cycle.
const (
	TopicStatus = "irrigation/controller/status"
	TopicEvents = "irrigation/controller/events"
	TopicSystem = "irrigation/controller/system"
)

// System event names.
const (
	EventStartup     = "STARTUP"
	EventShutdown    = "SHUTDOWN"
	EventHeartbeat   = "HEARTBEAT"
	EventModeChanged = "MODE_CHANGED"
	EventReconnected = "RECONNECTED"
	EventOffline     = "OFFLINE"
)

// Publisher publishes to MQTT.
type Publisher interface {
	// PublishStatus sends a cycle snapshot (retained).
	PublishStatus(snap *status.Snapshot) error

	// PublishEvent sends a pump transition.
	// Returns error if publishing fails (should not crash the process).
	PublishEvent(event logic.Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (startup, shutdown, heartbeat...).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string
	Reason     string // e.g. "SIGTERM", or the new mode for MODE_CHANGED
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool
}

// EventPayload is the MQTT payload of a pump transition.
type EventPayload struct {
	Pump PumpPayload `json:"pump"`
}

// PumpPayload contains the transition details.
type PumpPayload struct {
	SessionID string `json:"session_id,omitempty"`
	status.EventJSON
}

// FormatEventPayload creates the JSON payload for a pump event.
func FormatEventPayload(event logic.Event, sessionID string) ([]byte, error) {
	return json.Marshal(EventPayload{
		Pump: PumpPayload{
			SessionID: sessionID,
			EventJSON: status.BuildEventJSON(event),
		},
	})
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status.
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
// If event.RawPayload is set, it is returned directly.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	return json.Marshal(SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	})
}
