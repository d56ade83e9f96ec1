package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"

	"storegate/internal/models"
)

// RouteOption configures optional route behavior.
type RouteOption func(*mux.Router)

// WithOTelMiddleware adds OpenTelemetry HTTP instrumentation middleware.
func WithOTelMiddleware(serviceName string) RouteOption {
	return func(r *mux.Router) {
		r.Use(otelmux.Middleware(serviceName,
			otelmux.WithFilter(func(r *http.Request) bool {
				return r.URL.Path != "/health" &&
					r.URL.Path != "/api/v1/health" &&
					r.URL.Path != "/metrics"
			}),
		))
	}
}

// WithAdmission installs the admission middleware on every route. Health
// endpoints are exempt so probes keep working while an address is blocked.
func WithAdmission(admission func(http.Handler) http.Handler) RouteOption {
	return func(r *mux.Router) {
		r.Use(func(next http.Handler) http.Handler {
			guarded := admission(next)
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				if req.URL.Path == "/health" || req.URL.Path == "/api/v1/health" {
					next.ServeHTTP(w, req)
					return
				}
				guarded.ServeHTTP(w, req)
			})
		})
	}
}

// SetupRoutes configures the HTTP routes for the gateway
func SetupRoutes(handlers *Handlers, config *models.Config, opts ...RouteOption) *mux.Router {
	router := mux.NewRouter()

	router.Use(requestIDMiddleware)

	for _, opt := range opts {
		opt(router)
	}

	router.HandleFunc("/health", handlers.HealthCheck).Methods("GET")
	router.HandleFunc("/api/v1/health", handlers.HealthCheck).Methods("GET")

	adminRouter := router.PathPrefix("/admin").Subrouter()
	adminRouter.Use(adminAuthMiddleware(&config.Security))
	adminRouter.HandleFunc("/blocks", handlers.ListBlocks).Methods("GET")
	adminRouter.HandleFunc("/blocks/{ip}", handlers.UnblockIP).Methods("DELETE")
	adminRouter.HandleFunc("/breaker", handlers.GetBreakerStatus).Methods("GET")
	adminRouter.HandleFunc("/ratelimit/metrics", handlers.GetAdmissionMetrics).Methods("GET")
	adminRouter.HandleFunc("/events", handlers.ListEvents).Methods("GET")

	router.Use(loggingMiddleware)
	router.Use(recoveryMiddleware)

	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusMethodNotAllowed)
		errorResp := models.NewErrorResponse("Method not allowed", models.ErrorCodeBadRequest)
		json.NewEncoder(w).Encode(errorResp)
	})

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		errorResp := models.NewErrorResponse("Not found", models.ErrorCodeNotFound)
		json.NewEncoder(w).Encode(errorResp)
	})

	return router
}
