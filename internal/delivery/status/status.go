package status

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/poonpunokok/gtp2ogs/internal/pool"
	"github.com/poonpunokok/gtp2ogs/internal/session"
)

// Handler serves the local status endpoint: a liveness probe plus a
// snapshot of ongoing games and pool availability.
type Handler struct {
	log        *zap.SugaredLogger
	controller *session.Controller
	pools      *pool.Pools
}

func NewHandler(controller *session.Controller, pools *pool.Pools, log *zap.SugaredLogger) *Handler {
	return &Handler{
		log:        log,
		controller: controller,
		pools:      pools,
	}
}

func (h *Handler) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Get("/healthz", h.HandleHealthz)
	r.Get("/status", h.HandleStatus)
	return r
}

func (h *Handler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	main := h.pools.Get(pool.RoleMain)
	select {
	case <-main.Ready():
		writeJSON(h.log, w, http.StatusOK, "ok")
	default:
		writeJSON(h.log, w, http.StatusServiceUnavailable, "engines not ready")
	}
}

type statusResponse struct {
	Connected   bool              `json:"connected"`
	BotUsername string            `json:"bot_username"`
	Blitz       int               `json:"ongoing_blitz_count"`
	Live        int               `json:"ongoing_live_count"`
	Corr        int               `json:"ongoing_correspondence_count"`
	Pools       map[string]poolAv `json:"pools"`
}

type poolAv struct {
	Size      int `json:"size"`
	Available int `json:"available"`
}

func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	counts := h.controller.Counts()
	resp := statusResponse{
		Connected:   h.controller.Connected(),
		BotUsername: h.controller.Identity().Username,
		Blitz:       counts.Blitz,
		Live:        counts.Live,
		Corr:        counts.Correspondence,
		Pools:       make(map[string]poolAv),
	}
	for role, av := range h.pools.Availability() {
		resp.Pools[role] = poolAv{Size: av[0], Available: av[1]}
	}
	writeJSON(h.log, w, http.StatusOK, resp)
}

func writeJSON(log *zap.SugaredLogger, w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Errorf("writeJSON encode error: %v", err)
	}
}
