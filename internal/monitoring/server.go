package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/fetchlab/harvester/internal/proxy"
)

// PoolInspector is the read-only view of the proxy pool the server exposes.
type PoolInspector interface {
	GetStats() proxy.Stats
	Snapshot() []proxy.Endpoint
}

// Server serves /metrics, /healthz and /proxies.
type Server struct {
	router *mux.Router
	srv    *http.Server
	pool   PoolInspector
	log    zerolog.Logger
}

// NewServer builds the operational HTTP server. pool may be nil when the
// worker runs without a proxy pool.
func NewServer(addr string, gatherer prometheus.Gatherer, pool PoolInspector, log zerolog.Logger) *Server {
	s := &Server{
		router: mux.NewRouter(),
		pool:   pool,
		log:    log.With().Str("component", "monitoring").Logger(),
	}

	s.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/proxies", s.handleProxies).Methods(http.MethodGet)

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Start serves in the background until Shutdown.
func (s *Server) Start() {
	go func() {
		s.log.Info().Str("addr", s.srv.Addr).Msg("monitoring server listening")
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("monitoring server failed")
		}
	}()
}

// Shutdown drains the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	body := map[string]interface{}{"status": status}

	if s.pool != nil {
		stats := s.pool.GetStats()
		body["total_proxies"] = stats.TotalProxies
		body["healthy_proxies"] = stats.HealthyProxies
		if stats.HealthyProxies == 0 {
			body["status"] = "degraded"
			code = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, code, body)
}

func (s *Server) handleProxies(w http.ResponseWriter, r *http.Request) {
	if s.pool == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no proxy pool configured"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"stats":     s.pool.GetStats(),
		"endpoints": sanitize(s.pool.Snapshot()),
	})
}

// sanitize strips credentials before endpoints leave the process.
func sanitize(endpoints []proxy.Endpoint) []proxy.Endpoint {
	out := make([]proxy.Endpoint, len(endpoints))
	for i, ep := range endpoints {
		ep.Username = ""
		ep.Password = ""
		out[i] = ep
	}
	return out
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}
