package domain

import "encoding/json"

// FrameType names one kind of frame delivered on the push stream.
type FrameType string

const (
	// FrameAck is the stream-open acknowledgement. Log only.
	FrameAck FrameType = "ack"

	// FrameInitial is the initial-synchronization frame sent after every
	// (re)connect. Its EventID is the server's current stream position.
	FrameInitial FrameType = "initial"

	// FrameIncident and FrameFieldReport carry one entity change each.
	FrameIncident    FrameType = "incident"
	FrameFieldReport FrameType = "field_report"
)

// Frame is the wire envelope for one push stream message.
type Frame struct {
	Type    FrameType       `json:"type"`
	EventID string          `json:"eventId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ChangePayload is the body of an entity-change frame.
type ChangePayload struct {
	Scope     string `json:"scope"`
	EntityKey string `json:"entityKey"`
}

// EntityTypeForFrame maps a change frame kind to its entity type. The second
// return is false for non-change frames and unknown kinds.
func EntityTypeForFrame(ft FrameType) (EntityType, bool) {
	switch ft {
	case FrameIncident:
		return EntityIncident, true
	case FrameFieldReport:
		return EntityFieldReport, true
	}
	return "", false
}

// FrameForEntityType is the inverse of EntityTypeForFrame, used by the
// stream simulator when fanning out changes.
func FrameForEntityType(t EntityType) FrameType {
	if t == EntityFieldReport {
		return FrameFieldReport
	}
	return FrameIncident
}
