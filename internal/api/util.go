package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/kyrosq/mqs/internal/domain"
)

func secondsToDuration(s int64) time.Duration { return time.Duration(s) * time.Second }

func durationToSeconds(d time.Duration) int64 { return int64(d / time.Second) }

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch domain.KindOf(err) {
	case domain.KindBadRequest:
		status = http.StatusBadRequest
	case domain.KindNotFound:
		status = http.StatusNotFound
	case domain.KindConflict, domain.KindAlreadyExists:
		status = http.StatusConflict
	case domain.KindUnavailable:
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
