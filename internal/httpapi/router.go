package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ledgerflow/ledgercore/internal/authgate"
	"github.com/ledgerflow/ledgercore/internal/metrics"
)

// NewRouter assembles the ledger's HTTP surface on a gorilla/mux router,
// grounded on ledgerops's cmd/api/main.go route table. health and
// bootstrap stay outside gate.Middleware's chain, since neither can assume
// a caller already holds an API key; every other /api route requires it.
func NewRouter(h *Handlers, gate *authgate.Gate) *mux.Router {
	r := mux.NewRouter()
	r.Use(instrumentRequests)

	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	public := r.PathPrefix("/api").Subrouter()
	public.HandleFunc("/bootstrap", h.Bootstrap).Methods(http.MethodPost)

	protected := r.PathPrefix("/api").Subrouter()
	protected.Use(gate.Middleware)
	protected.HandleFunc("/accounts", h.CreateAccount).Methods(http.MethodPost)
	protected.HandleFunc("/accounts", h.ListAccounts).Methods(http.MethodGet)
	protected.HandleFunc("/accounts/{id}", h.GetAccount).Methods(http.MethodGet)
	protected.HandleFunc("/accounts/{id}/transactions", h.ListAccountTransactions).Methods(http.MethodGet)
	protected.HandleFunc("/transactions/deposit", h.Deposit).Methods(http.MethodPost)
	protected.HandleFunc("/transactions/withdraw", h.Withdraw).Methods(http.MethodPost)
	protected.HandleFunc("/transactions/transfer", h.Transfer).Methods(http.MethodPost)
	protected.HandleFunc("/webhooks", h.RegisterWebhook).Methods(http.MethodPost)
	protected.HandleFunc("/webhooks", h.ListWebhooks).Methods(http.MethodGet)

	return r
}

// instrumentRequests records ledger_http_requests_total and
// ledger_http_request_duration_seconds for every request, matching
// ledgerops's promauto counters in internal/api/handlers.go — moved here
// from individual handlers into one piece of router middleware so every
// route is measured uniformly.
func instrumentRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := routeTemplate(r)
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, statusClass(rec.status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return r.URL.Path
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
