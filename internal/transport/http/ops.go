package http

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"quiz-sync-service/internal/app"
	"quiz-sync-service/internal/metrics"
)

// OpsHandler serves the operational surface: health, metrics, status and
// session creation.
type OpsHandler struct {
	service  *app.Service
	reporter *metrics.Reporter
	log      *logrus.Entry
}

func NewOpsHandler(service *app.Service, reporter *metrics.Reporter, log *logrus.Entry) *OpsHandler {
	return &OpsHandler{service: service, reporter: reporter, log: log}
}

// Register mounts the ops routes on mux.
func (h *OpsHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", h.handleHealthz)
	mux.Handle("/metrics", h.reporter.Handler())
	mux.HandleFunc("/statusz", h.handleStatusz)
	mux.HandleFunc("/sessions", h.handleCreateSession)
}

func (h *OpsHandler) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Write([]byte("ok"))
}

func (h *OpsHandler) handleStatusz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.reporter.Snapshot()); err != nil {
		h.log.WithField("error", err).Warn("statusz encode failed")
	}
}

func (h *OpsHandler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sess, err := h.service.CreateSession(r.Context())
	if err != nil {
		http.Error(w, "could not create session", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"id":         sess.ID,
		"accessCode": sess.AccessCode,
	})
}
