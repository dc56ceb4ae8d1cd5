package api

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/kyrosq/mqs/internal/domain"
	"github.com/kyrosq/mqs/internal/service"
)

const (
	headerMaxWaitTime = "X-MQS-MAX-WAIT-TIME"
	headerMessageID   = "X-MQS-MESSAGE-ID"
)

// PublishMessage handles POST /messages/{queue}. The body is read through a
// limited reader so a payload larger than maxMessageSize is truncated at
// read time rather than allocated in full and sliced afterward.
func (h *Handler) PublishMessage(w http.ResponseWriter, r *http.Request) {
	queue := r.PathValue("queue")

	contentType := r.Header.Get("Content-Type")
	contentEncoding := r.Header.Get("Content-Encoding")

	payload, err := io.ReadAll(io.LimitReader(r.Body, h.maxMessageSize))
	if err != nil {
		writeError(w, domain.BadRequest("reading body: %v", err))
		return
	}

	result, err := h.service.Publish(r.Context(), queue, payload, contentType, contentEncoding, h.maxMessageSize)
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusCreated
	if result.Deduplicated {
		status = http.StatusOK
	}
	w.Header().Set(headerMessageID, result.Message.ID)
	writeJSON(w, status, nil)
}

// ReceiveMessage handles GET /messages/{queue}, long-polling according to
// the X-MQS-MAX-WAIT-TIME header (seconds, 0..20; default 0).
func (h *Handler) ReceiveMessage(w http.ResponseWriter, r *http.Request) {
	queue := r.PathValue("queue")

	waitTime, err := waitTimeFromHeader(r)
	if err != nil {
		writeError(w, domain.BadRequest("%s: %v", headerMaxWaitTime, err))
		return
	}

	msg, err := h.service.Receive(r.Context(), queue, waitTime)
	if err != nil {
		writeError(w, err)
		return
	}
	if msg == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set(headerMessageID, msg.ID)
	w.Header().Set("Content-Type", msg.ContentType)
	if msg.ContentEncoding != "" {
		w.Header().Set("Content-Encoding", msg.ContentEncoding)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(msg.Payload)
}

// DeleteMessage handles DELETE /messages/{message_id}.
func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("message_id")

	existed, err := h.service.DeleteMessage(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !existed {
		writeError(w, domain.NotFound("message %q not found", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func waitTimeFromHeader(r *http.Request) (time.Duration, error) {
	raw := r.Header.Get(headerMaxWaitTime)
	if raw == "" {
		return 0, nil
	}
	secs, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if secs < 0 {
		secs = 0
	}
	d := time.Duration(secs) * time.Second
	if d > service.MaxWaitTime {
		d = service.MaxWaitTime
	}
	return d, nil
}
