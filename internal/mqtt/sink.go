package mqtt

import (
	"context"
	"fmt"
	"time"

	"github.com/sweeney/irrigation-controller/internal/status"
)

// Sink adapts a Publisher to the status fan-out. Per snapshot it publishes
// the cycle's pump events, the status itself, a MODE_CHANGED system event
// when the decision mode differs from the previous snapshot, and a
// HEARTBEAT once per heartbeat interval.
type Sink struct {
	pub       Publisher
	conn      ConnectionStatus // may be nil
	tracker   *status.Tracker  // may be nil
	heartbeat time.Duration    // 0 disables

	// BeforeHeartbeat, if set, runs before a heartbeat is formatted
	// (used to refresh network info).
	BeforeHeartbeat func()

	lastMode      string
	lastHeartbeat time.Time
}

// NewSink creates an MQTT sink.
func NewSink(pub Publisher, conn ConnectionStatus, tracker *status.Tracker, heartbeat time.Duration) *Sink {
	return &Sink{pub: pub, conn: conn, tracker: tracker, heartbeat: heartbeat}
}

// Name implements status.Sink.
func (s *Sink) Name() string { return "mqtt" }

// Deliver implements status.Sink.
func (s *Sink) Deliver(ctx context.Context, snap *status.Snapshot) error {
	if s.tracker != nil && s.conn != nil {
		s.tracker.SetMQTTConnected(s.conn.IsConnected())
	}

	for _, e := range snap.Events {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.pub.PublishEvent(e); err != nil {
			return fmt.Errorf("event: %w", err)
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.pub.PublishStatus(snap); err != nil {
		return fmt.Errorf("status: %w", err)
	}

	mode := string(snap.Mode)
	if s.lastMode != "" && mode != s.lastMode {
		if err := s.pub.PublishSystem(s.systemEvent(snap.Timestamp, EventModeChanged, mode, true)); err != nil {
			return fmt.Errorf("mode change: %w", err)
		}
	}
	s.lastMode = mode

	if s.heartbeat > 0 {
		if s.lastHeartbeat.IsZero() {
			s.lastHeartbeat = snap.Timestamp
		} else if snap.Timestamp.Sub(s.lastHeartbeat) >= s.heartbeat {
			s.lastHeartbeat = snap.Timestamp
			if s.BeforeHeartbeat != nil {
				s.BeforeHeartbeat()
			}
			if err := s.pub.PublishSystem(s.systemEvent(snap.Timestamp, EventHeartbeat, "", false)); err != nil {
				return fmt.Errorf("heartbeat: %w", err)
			}
		}
	}
	return nil
}

func (s *Sink) systemEvent(ts time.Time, event, reason string, retained bool) SystemEvent {
	e := SystemEvent{Timestamp: ts, Event: event, Reason: reason, Retained: retained}
	if s.tracker != nil {
		e.RawPayload = status.FormatStatusEvent(s.tracker.Status(), event, reason)
	}
	return e
}
