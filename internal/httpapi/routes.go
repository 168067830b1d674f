package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// NewRouter wires the ceremony, recovery, and device-management endpoints
// behind the shared middleware chain.
func NewRouter(h *Handler, allowedOrigins []string, rps float64, burst int, log *logrus.Entry) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", h.Healthz).Methods(http.MethodGet)

	auth := r.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/register/options", h.RegisterOptions).Methods(http.MethodPost, http.MethodOptions)
	auth.HandleFunc("/register/verify", h.RegisterVerify).Methods(http.MethodPost, http.MethodOptions)
	auth.HandleFunc("/login/options", h.LoginOptions).Methods(http.MethodPost, http.MethodOptions)
	auth.HandleFunc("/login/verify", h.LoginVerify).Methods(http.MethodPost, http.MethodOptions)
	auth.HandleFunc("/recover", h.Recover).Methods(http.MethodPost, http.MethodOptions)

	auth.HandleFunc("/backup/register", h.requireSession(h.BackupRegister)).Methods(http.MethodPost, http.MethodOptions)
	auth.HandleFunc("/devices", h.requireSession(h.Devices)).Methods(http.MethodGet, http.MethodOptions)
	auth.HandleFunc("/reset", h.requireSession(h.Reset)).Methods(http.MethodPost, http.MethodOptions)
	auth.HandleFunc("/reset/all", h.requireSession(h.ResetAll)).Methods(http.MethodPost, http.MethodOptions)

	limiter := newClientLimiter(rps, burst)

	var handler http.Handler = r
	handler = withRequestValidation(handler)
	handler = withRateLimit(limiter, log)(handler)
	handler = withSecurity(allowedOrigins)(handler)
	handler = withRequestLog(log)(handler)
	return handler
}
