package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/kyrosq/mqs/internal/domain"
)

// Handler holds the dependencies shared by all HTTP handlers.
type Handler struct {
	service        queueServicer
	store          pinger
	maxMessageSize int64
}

// RegisterRoutes registers every MQS route on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("PUT /queues/{name}", h.CreateQueue)
	mux.HandleFunc("POST /queues/{name}", h.UpdateQueue)
	mux.HandleFunc("DELETE /queues/{name}", h.DeleteQueue)
	mux.HandleFunc("GET /queues/{name}", h.GetQueue)
	mux.HandleFunc("GET /queues", h.ListQueues)

	mux.HandleFunc("POST /messages/{queue}", h.PublishMessage)
	mux.HandleFunc("GET /messages/{queue}", h.ReceiveMessage)
	mux.HandleFunc("DELETE /messages/{message_id}", h.DeleteMessage)

	mux.HandleFunc("GET /health", h.Health)
}

// CreateQueue handles PUT /queues/{name}.
func (h *Handler) CreateQueue(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req queueConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.BadRequest("invalid JSON body: %v", err))
		return
	}

	q, err := h.service.CreateQueue(r.Context(), name, req.toDomain())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, queueToResponse(q))
}

// UpdateQueue handles POST /queues/{name}.
func (h *Handler) UpdateQueue(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req queueConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.BadRequest("invalid JSON body: %v", err))
		return
	}

	q, err := h.service.UpdateQueue(r.Context(), name, req.toDomain())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, queueToResponse(q))
}

// DeleteQueue handles DELETE /queues/{name}.
func (h *Handler) DeleteQueue(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	q, err := h.service.DeleteQueue(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, queueToResponse(q))
}

// GetQueue handles GET /queues/{name}.
func (h *Handler) GetQueue(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	desc, err := h.service.GetQueue(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, descriptionToResponse(desc))
}

// ListQueues handles GET /queues?offset=&limit=.
func (h *Handler) ListQueues(w http.ResponseWriter, r *http.Request) {
	offset, err := intParam(r, "offset", 0)
	if err != nil {
		writeError(w, domain.BadRequest("offset: %v", err))
		return
	}
	limit, err := intParam(r, "limit", 50)
	if err != nil {
		writeError(w, domain.BadRequest("limit: %v", err))
		return
	}

	queues, total, err := h.service.ListQueues(r.Context(), offset, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := listQueuesResponse{Total: total, Queues: make([]queueResponse, len(queues))}
	for i, q := range queues {
		resp.Queues[i] = queueToResponse(q)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "red", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "green"})
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
