package services

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/lorrc/incident-sync/internal/core/domain"
	"github.com/lorrc/incident-sync/internal/core/ports"
)

// PushClient is run by whichever context currently holds the connection
// lease. It streams frames from the server, deduplicates against the
// durable marker, and republishes classified change events on the
// cross-context channel. Every failure inside it becomes either a dropped
// frame or the return of Run; nothing propagates across the channel as an
// error.
type PushClient struct {
	transport ports.StreamTransport
	marker    ports.MarkerStore
	channel   ports.ContextChannel
	logger    *slog.Logger
}

// NewPushClient wires a push client. The marker store is injected rather
// than read as ambient state so resumption is testable.
func NewPushClient(transport ports.StreamTransport, markerStore ports.MarkerStore, channel ports.ContextChannel, logger *slog.Logger) *PushClient {
	return &PushClient{
		transport: transport,
		marker:    markerStore,
		channel:   channel,
		logger:    logger.With("component", "push_client"),
	}
}

// Run streams and classifies frames until the transport reports a terminal
// close. Its return is the signal for the coordinator to release the lease
// and re-elect.
func (p *PushClient) Run(ctx context.Context) error {
	return p.transport.Connect(ctx, p.HandleFrame)
}

// HandleFrame classifies one stream frame. Exported so the frame pipeline
// can be exercised without a live transport.
func (p *PushClient) HandleFrame(frame domain.Frame) {
	switch frame.Type {
	case domain.FrameAck:
		p.logger.Debug("stream acknowledged")

	case domain.FrameInitial:
		p.handleInitialSync(frame)

	default:
		entityType, ok := domain.EntityTypeForFrame(frame.Type)
		if !ok {
			p.logger.Warn("unknown frame type, dropping", "type", frame.Type)
			return
		}
		p.handleEntityChange(entityType, frame)
	}
}

// handleInitialSync compares the server's stream position against the
// durable marker. A matching id means this is a reconnect with nothing
// missed; any other value signals a possible gap, and a full invalidation
// is the only safe response. The comparison cannot tell one missed event
// from many, so both reload everything.
func (p *PushClient) handleInitialSync(frame domain.Frame) {
	lastSeen, err := p.marker.Read()
	if err != nil {
		p.logger.Warn("failed to read last-seen marker, assuming gap", "error", err)
		lastSeen = ""
	}

	// An empty marker means no position was ever recorded; a resume can
	// only be confirmed against one, whatever id the server reports.
	if lastSeen != "" && lastSeen == frame.EventID {
		p.logger.Debug("resumed at known stream position", "event_id", frame.EventID)
		return
	}

	p.writeMarker(frame.EventID)
	p.logger.Info("stream position changed, invalidating all collections",
		"previous", lastSeen,
		"current", frame.EventID,
	)

	for _, entityType := range domain.KnownEntityTypes() {
		p.channel.Publish(entityType.Topic(), domain.ChangeEvent{
			EntityType:       entityType,
			EventID:          frame.EventID,
			BulkInvalidation: true,
		})
	}
}

// handleEntityChange advances the marker, then parses and republishes the
// change. The marker moves even when the payload is malformed; delivery is
// at-least-once and a poison frame must not be redelivered forever.
func (p *PushClient) handleEntityChange(entityType domain.EntityType, frame domain.Frame) {
	p.writeMarker(frame.EventID)

	var payload domain.ChangePayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		p.logger.Warn("malformed change payload, dropping frame",
			"type", frame.Type,
			"event_id", frame.EventID,
			"error", err,
		)
		return
	}
	if payload.EntityKey == "" {
		p.logger.Warn("change frame missing entity key, dropping",
			"type", frame.Type,
			"event_id", frame.EventID,
		)
		return
	}

	p.channel.Publish(entityType.Topic(), domain.ChangeEvent{
		EntityType: entityType,
		EventID:    frame.EventID,
		Scope:      payload.Scope,
		EntityKey:  payload.EntityKey,
	})
}

func (p *PushClient) writeMarker(id string) {
	if err := p.marker.Write(id); err != nil {
		p.logger.Error("failed to persist last-seen marker", "event_id", id, "error", err)
	}
}
