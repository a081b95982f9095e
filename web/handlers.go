package web

import (
	"encoding/json"
	"net/http"
	"time"
)

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Timestamp  string  `json:"timestamp"`
	Status     string  `json:"status"`
	LastUpdate *string `json:"last_update"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func formatTimestamp(t time.Time) string {
	return t.Format(time.RFC3339)
}

// handleStatus reports liveness and the modification time of the canonical
// snapshot. The status is always "running" while the process serves requests.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Timestamp: formatTimestamp(s.now()),
		Status:    "running",
	}
	if mod, ok := s.store.LastModified(); ok {
		last := formatTimestamp(mod)
		resp.LastUpdate = &last
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleUpdateNotification hands out the pending notification and clears it.
func (s *Server) handleUpdateNotification(w http.ResponseWriter, r *http.Request) {
	p, err := s.channel.Consume(r.Context())
	if err != nil {
		s.logger.Error("failed to consume update notification", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read update notification")
		return
	}
	if p == nil {
		writeJSON(w, http.StatusOK, messageResponse{Message: "No updates"})
		return
	}
	writeJSON(w, http.StatusOK, p)
}
