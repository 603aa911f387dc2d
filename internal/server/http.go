package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"MarketSync/internal/observability"
	"MarketSync/internal/query"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPServer serves the read-only JSON API plus the operational
// endpoints (metrics, liveness, readiness) on one listener.
type HTTPServer struct {
	server *http.Server
}

func NewHTTPServer(addr string, qs *query.Service, hc *observability.HealthChecker) *HTTPServer {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", hc.LivenessHandler)
	mux.HandleFunc("/readyz", hc.ReadinessHandler)

	h := &apiHandlers{qs: qs}
	mux.HandleFunc("GET /v1/markets/{id}", h.getMarket)
	mux.HandleFunc("GET /v1/markets/{id}/bets", h.listMarketBets)
	mux.HandleFunc("GET /v1/users/{address}", h.getUser)
	mux.HandleFunc("GET /v1/users/{address}/bets", h.listUserBets)
	mux.HandleFunc("GET /v1/sync/status", h.syncStatus)
	mux.HandleFunc("GET /v1/stats", h.platformStats)

	return &HTTPServer{
		server: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
	}
}

// Start runs the HTTP server (blocking) until the context is cancelled.
func (s *HTTPServer) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		log.Println("INFO: HTTP server shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	log.Printf("INFO: HTTP server listening on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

type apiHandlers struct {
	qs *query.Service
}

// getMarket accepts either the engine uuid or a numeric chain id.
func (h *apiHandlers) getMarket(w http.ResponseWriter, r *http.Request) {
	idStr := r.PathValue("id")

	var (
		market *query.MarketResponse
		err    error
	)
	if chainID, convErr := strconv.ParseInt(idStr, 10, 64); convErr == nil {
		market, err = h.qs.GetMarketByChainID(r.Context(), chainID)
	} else if id, parseErr := uuid.Parse(idStr); parseErr == nil {
		market, err = h.qs.GetMarket(r.Context(), id)
	} else {
		writeError(w, http.StatusBadRequest, "id must be a uuid or a chain market id")
		return
	}

	writeLookup(w, market, err, "market not found")
}

func (h *apiHandlers) listMarketBets(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	bets, err := h.qs.ListBetsByMarket(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"bets": bets})
}

func (h *apiHandlers) getUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.qs.GetUser(r.Context(), r.PathValue("address"))
	writeLookup(w, user, err, "user not found")
}

func (h *apiHandlers) listUserBets(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	bets, err := h.qs.ListBetsByUser(r.Context(), r.PathValue("address"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"bets": bets})
}

func (h *apiHandlers) syncStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.qs.SyncStatus(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *apiHandlers) platformStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.qs.PlatformStats(r.Context())
	writeLookup(w, stats, err, "no stats captured yet")
}

func writeLookup[T any](w http.ResponseWriter, v *T, err error, notFound string) {
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if v == nil {
		writeError(w, http.StatusNotFound, notFound)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
