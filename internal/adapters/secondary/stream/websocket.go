package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/lorrc/incident-sync/internal/core/domain"
	apperrors "github.com/lorrc/incident-sync/internal/core/errors"
	"github.com/lorrc/incident-sync/internal/core/ports"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	defaultPongWait = 60 * time.Second

	// Maximum frame size accepted from the server.
	maxFrameSize = 64 * 1024

	handshakeTimeout = 10 * time.Second
)

// Config holds transport configuration.
type Config struct {
	// URL of the server's push endpoint (ws:// or wss://).
	URL string

	// Token credentials the stream is opened with.
	Token string

	// Reconnect backoff for transient drops. MaxElapsedTime bounds how
	// long reconnecting is attempted before the drop is treated as
	// terminal; zero means retry forever.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxElapsedTime time.Duration

	PongWait time.Duration
}

// Transport is the websocket push stream. Transient drops reconnect
// internally with exponential backoff; Connect returns only on a terminal
// close, credential rejection, or context end.
type Transport struct {
	cfg    Config
	logger *slog.Logger
}

var _ ports.StreamTransport = (*Transport)(nil)

// NewTransport creates a transport for the given endpoint.
func NewTransport(cfg Config, logger *slog.Logger) *Transport {
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = defaultPongWait
	}
	return &Transport{
		cfg:    cfg,
		logger: logger.With("component", "stream_transport"),
	}
}

// Connect implements ports.StreamTransport.
func (t *Transport) Connect(ctx context.Context, onFrame ports.FrameHandler) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.cfg.InitialBackoff
	b.MaxInterval = t.cfg.MaxBackoff
	b.MaxElapsedTime = t.cfg.MaxElapsedTime
	b.Reset()

	for {
		conn, err := t.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var terminalErr *terminalError
			if errors.As(err, &terminalErr) {
				return fmt.Errorf("push stream: %w", terminalErr.err)
			}
			if waitErr := t.waitBackoff(ctx, b, err); waitErr != nil {
				return waitErr
			}
			continue
		}

		// Connected; transient-drop budget starts over.
		b.Reset()

		err = t.readLoop(ctx, conn, onFrame)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if isTerminalClose(err) {
			t.logger.Info("push stream terminally closed", "error", err)
			return fmt.Errorf("%w: %w", apperrors.ErrStreamClosed, err)
		}

		if waitErr := t.waitBackoff(ctx, b, err); waitErr != nil {
			return waitErr
		}
	}
}

// terminalError marks dial failures that retrying cannot fix.
type terminalError struct {
	err error
}

func (e *terminalError) Error() string { return e.err.Error() }

func (t *Transport) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+t.cfg.Token)

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, t.cfg.URL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, &terminalError{err: fmt.Errorf("credentials rejected: %w", apperrors.ErrUnauthorized)}
		}
		return nil, err
	}
	return conn, nil
}

func (t *Transport) readLoop(ctx context.Context, conn *websocket.Conn, onFrame ports.FrameHandler) error {
	defer func() { _ = conn.Close() }()

	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(t.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(t.cfg.PongWait))
	})

	// Drop the connection when the context ends so ReadMessage unblocks.
	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-readCtx.Done()
		_ = conn.Close()
	}()

	go t.pingLoop(readCtx, conn)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var frame domain.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			t.logger.Warn("malformed frame envelope, dropping", "error", err)
			continue
		}

		onFrame(frame)
	}
}

func (t *Transport) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(t.cfg.PongWait * 9 / 10)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (t *Transport) waitBackoff(ctx context.Context, b backoff.BackOff, cause error) error {
	next := b.NextBackOff()
	if next == backoff.Stop {
		return fmt.Errorf("%w: reconnect budget exhausted: %w", apperrors.ErrStreamClosed, cause)
	}

	t.logger.Warn("push stream dropped, reconnecting",
		"error", cause,
		"backoff", next,
	)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(next):
		return nil
	}
}

// isTerminalClose reports whether the server deliberately ended the stream.
// Abnormal closures and timeouts are transient; the transport reconnects.
func isTerminalClose(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.ClosePolicyViolation,
	)
}
