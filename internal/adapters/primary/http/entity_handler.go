package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/lorrc/incident-sync/internal/core/domain"
	apperrors "github.com/lorrc/incident-sync/internal/core/errors"
	"github.com/lorrc/incident-sync/internal/core/ports"
)

// EntityHandler serves the collection fetch endpoints and the mutation
// endpoint that feeds the push stream. Every successful mutation is
// broadcast as a change frame carrying the issued event id.
type EntityHandler struct {
	store        ports.EntityStore
	broadcaster  ports.FrameBroadcaster
	errorHandler *ErrorHandler
	logger       *slog.Logger
}

// NewEntityHandler creates a new entity handler
func NewEntityHandler(store ports.EntityStore, broadcaster ports.FrameBroadcaster, eh *ErrorHandler, logger *slog.Logger) *EntityHandler {
	return &EntityHandler{
		store:        store,
		broadcaster:  broadcaster,
		errorHandler: eh,
		logger:       logger,
	}
}

// RegisterRoutes registers entity routes on the given router
func (h *EntityHandler) RegisterRoutes(r chi.Router) {
	r.Get("/{collection}", h.HandleList)
	r.Get("/{collection}/{key}", h.HandleGet)
	r.Put("/{collection}/{key}", h.HandlePut)
}

// entityTypeForCollection maps a URL collection segment to its entity type
func entityTypeForCollection(collection string) (domain.EntityType, bool) {
	switch collection {
	case "incidents":
		return domain.EntityIncident, true
	case "field_reports":
		return domain.EntityFieldReport, true
	}
	return "", false
}

// PutEntityRequest is the mutation request body
type PutEntityRequest struct {
	Payload    json.RawMessage `json:"payload"`
	Restricted bool            `json:"restricted,omitempty"`
}

// HandleList handles GET /api/v1/{collection}?scope=
func (h *EntityHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	entityType, ok := entityTypeForCollection(chi.URLParam(r, "collection"))
	if !ok {
		h.errorHandler.Handle(w, r, apperrors.ErrUnknownEntityType)
		return
	}

	scope := r.URL.Query().Get("scope")
	records, err := h.store.List(entityType, scope)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	WriteList(w, records)
}

// HandleGet handles GET /api/v1/{collection}/{key}?scope=
func (h *EntityHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	entityType, ok := entityTypeForCollection(chi.URLParam(r, "collection"))
	if !ok {
		h.errorHandler.Handle(w, r, apperrors.ErrUnknownEntityType)
		return
	}

	scope := r.URL.Query().Get("scope")
	key := chi.URLParam(r, "key")

	record, err := h.store.Get(entityType, scope, key)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	WriteSuccess(w, record)
}

// HandlePut handles PUT /api/v1/{collection}/{key}?scope=
func (h *EntityHandler) HandlePut(w http.ResponseWriter, r *http.Request) {
	entityType, ok := entityTypeForCollection(chi.URLParam(r, "collection"))
	if !ok {
		h.errorHandler.Handle(w, r, apperrors.ErrUnknownEntityType)
		return
	}

	scope := r.URL.Query().Get("scope")
	key := chi.URLParam(r, "key")

	var req PutEntityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorHandler.Handle(w, r, apperrors.NewBadRequestError(err, "Invalid request body"))
		return
	}
	if len(req.Payload) == 0 {
		h.errorHandler.Handle(w, r, apperrors.NewBadRequestError(apperrors.ErrBadRequest, "payload is required"))
		return
	}

	eventID, err := h.store.Put(entityType, scope, key, req.Payload, req.Restricted)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	payload, err := json.Marshal(domain.ChangePayload{Scope: scope, EntityKey: key})
	if err != nil {
		h.errorHandler.Handle(w, r, apperrors.NewInternalError(err))
		return
	}
	h.broadcaster.Broadcast(domain.Frame{
		Type:    domain.FrameForEntityType(entityType),
		EventID: eventID,
		Payload: payload,
	})

	h.logger.Info("entity stored",
		"entity_type", entityType,
		"scope", scope,
		"key", key,
		"event_id", eventID,
	)

	WriteSuccess(w, map[string]string{"eventId": eventID})
}
