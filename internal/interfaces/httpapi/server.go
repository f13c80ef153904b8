package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"ethbalance/internal/application"
	"ethbalance/internal/config"
	"ethbalance/internal/domain"
)

// BalanceLookup is the application surface the HTTP layer dispatches to.
type BalanceLookup interface {
	Lookup(ctx context.Context, rawAddress string) (domain.BalanceResult, error)
}

// RPCStatus is the readiness probe against the upstream provider.
type RPCStatus interface {
	BlockNumber(ctx context.Context) (string, error)
}

type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
}

type Server struct {
	cfg       config.Config
	balances  BalanceLookup
	rpc       RPCStatus
	metrics   *Metrics
	buildInfo BuildInfo
}

func NewServer(cfg config.Config, balances BalanceLookup, rpc RPCStatus, metrics *Metrics, buildInfo BuildInfo) (*Server, error) {
	if balances == nil || rpc == nil {
		return nil, errors.New("http server dependencies must not be nil")
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Server{cfg: cfg, balances: balances, rpc: rpc, metrics: metrics, buildInfo: buildInfo}, nil
}

func (s *Server) MetricsObserver() *Metrics {
	return s.metrics
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /address/balance/{address}", s.handleBalance)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.HandleFunc("GET /version", s.handleVersion)
	mux.HandleFunc("GET /state", s.handleState)
	return withRequestID(mux)
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if _, err := s.rpc.BlockNumber(ctx); err != nil {
		respondError(w, http.StatusServiceUnavailable, "rpc not ready")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	result, err := s.balances.Lookup(r.Context(), r.PathValue("address"))
	if err != nil {
		status, message := mapServiceError(err)
		respondError(w, status, message)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func mapServiceError(err error) (int, string) {
	var svcErr *application.ServiceError
	if !errors.As(err, &svcErr) {
		return http.StatusInternalServerError, "internal error"
	}
	switch svcErr.Kind {
	case application.KindInvalidInput:
		return http.StatusBadRequest, svcErr.Err.Error()
	case application.KindUpstreamFailure:
		return http.StatusBadGateway, "upstream provider error"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	snap := s.metrics.Snapshot()

	fmt.Fprintf(w, "ethbalance_uptime_seconds %.0f\n", time.Since(snap.StartTime).Seconds())
	fmt.Fprintf(w, "ethbalance_cache_hits_total %d\n", snap.CacheHits)
	fmt.Fprintf(w, "ethbalance_cache_misses_total %d\n", snap.CacheMisses)
	fmt.Fprintf(w, "ethbalance_invalid_inputs_total %d\n", snap.InvalidInputs)
	fmt.Fprintf(w, "ethbalance_upstream_errors_total %d\n", snap.UpstreamErrors)
	fmt.Fprintf(w, "ethbalance_internal_errors_total %d\n", snap.InternalErrors)
	fmt.Fprintf(w, "ethbalance_fetches_total %d\n", snap.Fetches)
	fmt.Fprintf(w, "ethbalance_rpc_latency_ms %d\n", snap.LastRPCLatency.Milliseconds())
	fmt.Fprintf(w, "ethbalance_rpc_latency_max_ms %d\n", snap.MaxRPCLatency.Milliseconds())
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.buildInfo)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"network":   "mainnet",
		"block_tag": "latest",
		"config": map[string]any{
			"rpc_url":         redactURL(s.cfg.RPCURL),
			"http_addr":       s.cfg.HTTPAddr,
			"cache_ttl":       s.cfg.CacheTTL.String(),
			"rpc_timeout":     s.cfg.RPCTimeout.String(),
			"rpc_max_retries": s.cfg.RPCMaxRetries,
		},
	})
}

// redactURL hides the path of the provider URL, which carries the project
// credential.
func redactURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return "(redacted)"
	}
	return parsed.Scheme + "://" + parsed.Host + "/..."
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
