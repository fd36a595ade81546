package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"finsync/internal/domain/connection"
)

// SyncTrigger queues a sync for one connection. It reports false when the
// job could not be queued.
type SyncTrigger interface {
	TriggerConnection(connectionID string) bool
}

type ConnectionHandler struct {
	service *connection.Service
	trigger SyncTrigger
}

func NewConnectionHandler(service *connection.Service, trigger SyncTrigger) *ConnectionHandler {
	return &ConnectionHandler{service: service, trigger: trigger}
}

// Request/Response DTOs

type LinkConnectionRequest struct {
	ConnectionID    string `json:"connectionId"`
	UserID          string `json:"userId"`
	Credential      string `json:"credential"`
	InstitutionName string `json:"institutionName,omitempty"`
}

type LinkConnectionResponse struct {
	Connection connection.Summary `json:"connection"`
	SyncQueued bool               `json:"syncQueued"`
}

type SyncQueuedResponse struct {
	ConnectionID string `json:"connectionId"`
	Status       string `json:"status"`
}

// Routes mounts the connection API on r.
func (h *ConnectionHandler) Routes(r chi.Router) {
	r.Route("/api/connections", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Post("/", h.HandleLink)
		r.Get("/{connectionID}", h.HandleGet)
		r.Delete("/{connectionID}", h.HandleUnlink)
		r.Post("/{connectionID}/sync", h.HandleSync)
	})
}

// HandleLink registers a connection and queues its first sync. A sync that
// cannot be queued is picked up by the next scheduled round.
func (h *ConnectionHandler) HandleLink(w http.ResponseWriter, r *http.Request) {
	var req LinkConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("Error decoding link request: %v", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	conn, err := h.service.Link(r.Context(), connection.CreateParams{
		ID:              req.ConnectionID,
		UserID:          req.UserID,
		Credential:      req.Credential,
		InstitutionName: req.InstitutionName,
	})
	if err != nil {
		if errors.Is(err, connection.ErrInvalidInput) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.WithField("connection_id", req.ConnectionID).Errorf("Error linking connection: %v", err)
		http.Error(w, "Failed to link connection", http.StatusInternalServerError)
		return
	}

	queued := h.trigger.TriggerConnection(conn.ID)
	if !queued {
		log.WithField("connection_id", conn.ID).Warn("Initial sync not queued, will retry on the next scheduled sync")
	}

	writeJSON(w, http.StatusCreated, LinkConnectionResponse{
		Connection: conn.Summary(),
		SyncQueued: queued,
	})
}

// HandleList returns the connections of the owner named by ?userId=
func (h *ConnectionHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "userId query parameter is required", http.StatusBadRequest)
		return
	}

	summaries, err := h.service.ListForUser(r.Context(), userID)
	if err != nil {
		log.Printf("Error listing connections for user %s: %v", userID, err)
		http.Error(w, "Failed to list connections", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, summaries)
}

func (h *ConnectionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	connectionID := chi.URLParam(r, "connectionID")

	conn, err := h.service.Get(r.Context(), connectionID)
	if err != nil {
		if errors.Is(err, connection.ErrConnectionNotFound) {
			http.Error(w, "Connection not found", http.StatusNotFound)
			return
		}
		log.WithField("connection_id", connectionID).Errorf("Error getting connection: %v", err)
		http.Error(w, "Failed to get connection", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, conn.Summary())
}

// HandleUnlink deactivates a connection. Its data and cursor are kept.
func (h *ConnectionHandler) HandleUnlink(w http.ResponseWriter, r *http.Request) {
	connectionID := chi.URLParam(r, "connectionID")

	if err := h.service.Unlink(r.Context(), connectionID); err != nil {
		if errors.Is(err, connection.ErrConnectionNotFound) {
			http.Error(w, "Connection not found", http.StatusNotFound)
			return
		}
		log.WithField("connection_id", connectionID).Errorf("Error unlinking connection: %v", err)
		http.Error(w, "Failed to unlink connection", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleSync queues a manual sync. The outcome of the run is never reported
// here, only whether it was queued.
func (h *ConnectionHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	connectionID := chi.URLParam(r, "connectionID")

	conn, err := h.service.Get(r.Context(), connectionID)
	if err != nil {
		if errors.Is(err, connection.ErrConnectionNotFound) {
			http.Error(w, "Connection not found", http.StatusNotFound)
			return
		}
		log.WithField("connection_id", connectionID).Errorf("Error getting connection: %v", err)
		http.Error(w, "Failed to get connection", http.StatusInternalServerError)
		return
	}
	if !conn.Active {
		http.Error(w, "Connection is not active", http.StatusConflict)
		return
	}

	if !h.trigger.TriggerConnection(conn.ID) {
		http.Error(w, "Sync queue is full, try again later", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusAccepted, SyncQueuedResponse{ConnectionID: conn.ID, Status: "queued"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}
