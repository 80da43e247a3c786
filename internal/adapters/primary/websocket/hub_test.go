package websocket

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lorrc/incident-sync/internal/core/domain"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func register(t *testing.T, hub *Hub, client *Client) {
	t.Helper()
	select {
	case hub.Register <- client:
	case <-time.After(2 * time.Second):
		t.Fatal("hub stopped accepting registrations")
	}
}

func TestHub_SlowClientDoesNotStallFanOut(t *testing.T) {
	hub := NewHub(testLogger())
	go hub.Run()

	// A client whose pumps never run: its send buffer fills up and
	// nothing drains it.
	stalled := NewClient(hub, nil, uuid.New(), testLogger())
	register(t, hub, stalled)
	for i := 0; i < cap(stalled.Send); i++ {
		stalled.Send <- domain.Frame{Type: domain.FrameAck}
	}

	// This broadcast cannot be queued for the stalled client; the hub
	// must drop it from the roster and keep serving everyone else.
	hub.Broadcast(domain.Frame{Type: domain.FrameInitial, EventID: "1"})

	healthy := NewClient(hub, nil, uuid.New(), testLogger())
	register(t, hub, healthy)

	require.Eventually(t, func() bool {
		return hub.GetClientCount() == 1
	}, 2*time.Second, 10*time.Millisecond, "stalled client should be unregistered")

	hub.Broadcast(domain.Frame{Type: domain.FrameIncident, EventID: "2"})

	// The healthy client may also have caught the first broadcast,
	// depending on registration timing; the change frame must arrive
	// either way.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case frame := <-healthy.Send:
			if frame.Type == domain.FrameIncident {
				return
			}
		case <-deadline:
			t.Fatal("frame never reached the healthy client")
		}
	}
}
