package health

import (
	"net/http"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

const Path = "/health"

// Handler serves the state of a Checker: 204 when healthy, 503 with the failure otherwise.
// Only transitions between the two are logged, since the endpoint is polled.
type Handler struct {
	checker Checker
	failing atomic.Bool
}

func NewHandler(checker Checker) *Handler {
	return &Handler{checker: checker}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	err := h.checker.Check()
	if err == nil {
		if h.failing.Swap(false) {
			log.Info("Health check recovered")
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if !h.failing.Swap(true) {
		log.WithError(err).Warn("Health check failed")
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusServiceUnavailable)
	if r.Method == http.MethodGet {
		if _, err := w.Write([]byte(err.Error())); err != nil {
			log.WithError(err).Debug("Failed to write health check response")
		}
	}
}

// Register serves checker on Path.
func Register(mux *http.ServeMux, checker Checker) {
	mux.Handle(Path, NewHandler(checker))
}
