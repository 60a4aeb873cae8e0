package server

import (
	"net/http"

	"flowsmith/internal/config"
	"flowsmith/internal/events"
	"flowsmith/internal/ledger"
	"flowsmith/internal/pipeline"
)

// NewMux wires the API routes.
func NewMux(pipe *pipeline.Pipeline, led *ledger.Ledger, hub *events.Hub, credit config.CreditConfig) http.Handler {
	h := &Handler{pipe: pipe, ledger: led, hub: hub, credit: credit}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/generate", h.HandleGenerate)
	mux.HandleFunc("GET /v1/balance", h.HandleBalance)
	mux.HandleFunc("GET /v1/generate/watch", h.HandleWatch)
	mux.HandleFunc("POST /v1/admin/rollover", h.HandleRollover)
	mux.HandleFunc("POST /v1/admin/provision", h.HandleProvision)

	return CORS(mux)
}

// CORS is permissive by default; origins are reflected when present.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Vary", "Origin")
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Authorization, X-Principal, X-Bonus-First")
		if r.Method == http.MethodOptions {
			return
		}
		next.ServeHTTP(w, r)
	})
}
