package http

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	wsAdapter "github.com/lorrc/incident-sync/internal/adapters/primary/websocket"
	"github.com/lorrc/incident-sync/internal/auth"
	"github.com/lorrc/incident-sync/internal/config"
	"github.com/lorrc/incident-sync/internal/core/domain"
	"github.com/lorrc/incident-sync/internal/core/ports"
)

// StreamHandler upgrades push stream connections. Every accepted connection
// immediately receives the ack frame and the initial-synchronization frame
// carrying the current stream position, then joins the hub's fan-out.
type StreamHandler struct {
	hub      *wsAdapter.Hub
	store    ports.EntityStore
	tm       *auth.TokenManager
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(
	hub *wsAdapter.Hub,
	store ports.EntityStore,
	tm *auth.TokenManager,
	cfg *config.Config,
	logger *slog.Logger,
) *StreamHandler {
	handler := &StreamHandler{
		hub:    hub,
		store:  store,
		tm:     tm,
		logger: logger,
	}

	handler.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.WebSocket.ReadBufferSize,
		WriteBufferSize: cfg.WebSocket.WriteBufferSize,
		CheckOrigin:     handler.makeOriginChecker(cfg),
	}

	return handler
}

// makeOriginChecker creates an origin checking function based on configuration
func (h *StreamHandler) makeOriginChecker(cfg *config.Config) func(r *http.Request) bool {
	allowedOrigins := cfg.Server.AllowedOrigins

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")

		// In development mode, allow all origins (but log a warning)
		if cfg.IsDevelopment() {
			if origin != "" {
				h.logger.Warn("allowing websocket connection in development mode",
					"origin", origin,
					"remote_addr", r.RemoteAddr,
				)
			}
			return true
		}

		// No origin header (same-origin request or non-browser client)
		if origin == "" {
			return true
		}

		parsedOrigin, err := url.Parse(origin)
		if err != nil {
			h.logger.Warn("failed to parse websocket origin",
				"origin", origin,
				"error", err,
			)
			return false
		}

		originHost := parsedOrigin.Host

		for _, allowed := range allowedOrigins {
			// Support wildcard subdomains like "*.example.com"
			if strings.HasPrefix(allowed, "*.") {
				suffix := allowed[1:]
				if strings.HasSuffix(originHost, suffix) || originHost == allowed[2:] {
					return true
				}
			} else if originHost == allowed {
				return true
			}
		}

		h.logger.Warn("websocket connection rejected due to origin",
			"origin", origin,
			"remote_addr", r.RemoteAddr,
			"allowed_origins", allowedOrigins,
		)
		return false
	}
}

// ServeHTTP handles push stream connection requests
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	// Authenticate before upgrading. Browser websocket clients cannot
	// set headers, so the token also comes as a query parameter.
	tokenString := bearerToken(r)
	if tokenString == "" {
		tokenString = r.URL.Query().Get("token")
	}
	if tokenString == "" {
		h.logger.Warn("stream connection rejected: missing token",
			"request_id", requestID,
			"remote_addr", r.RemoteAddr,
		)
		http.Error(w, "Missing authentication token", http.StatusUnauthorized)
		return
	}

	claims, err := h.tm.ValidateToken(tokenString)
	if err != nil {
		h.logger.Warn("stream connection rejected: invalid token",
			"request_id", requestID,
			"remote_addr", r.RemoteAddr,
			"error", err,
		)
		http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("failed to upgrade stream connection",
			"request_id", requestID,
			"username", claims.Username,
			"error", err,
		)
		return
	}

	contextID := uuid.New()
	h.logger.Info("stream connection established",
		"request_id", requestID,
		"username", claims.Username,
		"context_id", contextID,
		"remote_addr", r.RemoteAddr,
	)

	client := wsAdapter.NewClient(h.hub, conn, contextID, h.logger)

	// Queue the handshake frames before the pumps start so they precede
	// anything the hub broadcasts to this client.
	client.Send <- domain.Frame{Type: domain.FrameAck}
	client.Send <- domain.Frame{Type: domain.FrameInitial, EventID: h.store.LastEventID()}

	client.Hub.Register <- client

	go client.WritePump()
	go client.ReadPump()
}

// bearerToken extracts a Bearer token from the Authorization header
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}
