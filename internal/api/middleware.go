package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"storegate/internal/models"
	"storegate/internal/ratelimit"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// RequestID returns the request identifier assigned by the middleware, or
// empty when the middleware is not installed.
func RequestID(r *http.Request) string {
	if r == nil {
		return ""
	}
	if id, ok := r.Context().Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// requestIDMiddleware assigns every request a unique identifier, honoring an
// X-Request-ID supplied by an upstream proxy.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
			"request_id", RequestID(r),
			"duration_ms", time.Since(start).Milliseconds())
	})
}

// recoveryMiddleware handles panics
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				slog.Error("Panic recovered", "error", err, "path", r.URL.Path)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				errorResp := models.NewErrorResponse("Internal server error", models.ErrorCodeInternalError)
				json.NewEncoder(w).Encode(errorResp)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// RoleResolver maps the X-API-Key header to a caller class and user identity
// using the configured key set. Requests without a valid key are anonymous.
// Role mapping is delegated to SecurityConfig so the admin gate and the
// rate-limit policy lookup cannot disagree.
func RoleResolver(sec *models.SecurityConfig) ratelimit.RoleResolver {
	return func(r *http.Request) (ratelimit.CallerClass, string) {
		key := r.Header.Get("X-API-Key")
		role := sec.RoleFor(key)
		if role == "anonymous" {
			return ratelimit.CallerAnonymous, ""
		}
		userID := key
		if ak, ok := sec.KeyFor(key); ok && ak.Name != "" {
			userID = ak.Name
		}
		if role == "admin" {
			return ratelimit.CallerAdmin, userID
		}
		return ratelimit.CallerAuthenticated, userID
	}
}

// ClassifyRoute maps request paths onto route classes for policy lookup.
func ClassifyRoute(r *http.Request) ratelimit.RouteClass {
	path := r.URL.Path
	switch {
	case strings.HasPrefix(path, "/admin"):
		return ratelimit.RouteAdmin
	case strings.HasPrefix(path, "/api/v1/auth"):
		return ratelimit.RouteAuth
	case strings.HasPrefix(path, "/api/v1"):
		return ratelimit.RouteAPI
	default:
		return ratelimit.RoutePublic
	}
}

// adminAuthMiddleware restricts the admin API to keys carrying the admin
// role. Health checks pass through unauthenticated.
func adminAuthMiddleware(sec *models.SecurityConfig) mux.MiddlewareFunc {
	resolve := RoleResolver(sec)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, _ := resolve(r)
			if caller != ratelimit.CallerAdmin {
				w.Header().Set("Content-Type", "application/json")
				code := models.ErrorCodeForbidden
				status := http.StatusForbidden
				if r.Header.Get("X-API-Key") == "" {
					code = models.ErrorCodeUnauthorized
					status = http.StatusUnauthorized
				}
				w.WriteHeader(status)
				errorResp := models.NewErrorResponse("Admin API key required", code)
				errorResp.RequestID = RequestID(r)
				json.NewEncoder(w).Encode(errorResp)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
