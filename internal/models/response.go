// Package models - API response types and error handling.
// This file defines all outgoing API response structures with consistent formatting.
//
// Response Design Principles:
// - Consistent JSON structure across all endpoints
// - Optional fields use omitempty to reduce response size
// - Machine-readable error codes for programmatic handling
// - RFC3339 timestamps for international compatibility
package models

import (
	"time"
)

// ErrorResponse provides structured error information with debugging context.
type ErrorResponse struct {
	Error     string            `json:"error"`                // Error type (always "error")
	Message   string            `json:"message"`              // Human-readable error description
	Code      string            `json:"code,omitempty"`       // Machine-readable error code
	Details   map[string]string `json:"details,omitempty"`    // Field-specific error details
	Timestamp time.Time         `json:"timestamp"`            // Error occurrence time
	RequestID string            `json:"request_id,omitempty"` // Unique request identifier
}

// RejectionResponse is the body of every 429 produced by the admission
// layer. RetryAfter is in seconds and mirrors the Retry-After header.
type RejectionResponse struct {
	Error      string `json:"error"`
	Code       string `json:"code,omitempty"`
	Limit      int    `json:"limit,omitempty"`
	Window     string `json:"window,omitempty"`
	RetryAfter int    `json:"retryAfter"`
	Reason     string `json:"reason,omitempty"`
}

// BlockInfo describes one active IP block for the admin API.
type BlockInfo struct {
	IP             string    `json:"ip"`
	Reason         string    `json:"reason"`
	BlockedUntil   time.Time `json:"blocked_until"`
	ViolationCount int       `json:"violation_count"`
}

// ListBlocksResponse wraps the active blocklist.
type ListBlocksResponse struct {
	Blocks     []BlockInfo `json:"blocks"`
	TotalCount int         `json:"total_count"`
}

// UnblockResponse confirms an operator unblock.
type UnblockResponse struct {
	IP      string `json:"ip"`
	Message string `json:"message"`
}

// AdmissionMetricsResponse exposes the limiter's aggregate counters.
type AdmissionMetricsResponse struct {
	TrackedKeys   int            `json:"tracked_keys"`
	BlockedIPs    int            `json:"blocked_ips"`
	SuspiciousIPs int            `json:"suspicious_ips"`
	Events        map[string]int `json:"events"`
	Timestamp     time.Time      `json:"timestamp"`
}

// ListEventsResponse wraps audit events read from the store.
type ListEventsResponse struct {
	Events     []*AuditEvent `json:"events"`
	TotalCount int           `json:"total_count"`
}

type HealthCheckResponse struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Uptime     string                     `json:"uptime,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
	Metrics    map[string]interface{}     `json:"metrics,omitempty"`
}

type ComponentHealth struct {
	Status    string                 `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Health Status Constants
const (
	StatusHealthy   = "healthy"   // All systems operational
	StatusUnhealthy = "unhealthy" // Major system issues
	StatusDegraded  = "degraded"  // Partial functionality
	StatusUnknown   = "unknown"   // Status indeterminate
)

// Standard HTTP Error Codes
//
// Error Code Strategy:
// - Upper-case with underscores for consistency
// - Maps to standard HTTP status codes
// - Machine-readable for client error handling
const (
	ErrorCodeNotFound           = "NOT_FOUND"           // 404: Resource doesn't exist
	ErrorCodeBadRequest         = "BAD_REQUEST"         // 400: Invalid request format
	ErrorCodeInternalError      = "INTERNAL_ERROR"      // 500: Server-side error
	ErrorCodeUnauthorized       = "UNAUTHORIZED"        // 401: Missing or invalid credentials
	ErrorCodeForbidden          = "FORBIDDEN"           // 403: Permission denied
	ErrorCodeRateLimited        = "RATE_LIMIT_EXCEEDED" // 429: Policy budget exhausted
	ErrorCodeBlocked            = "IP_BLOCKED"          // 429: Caller is block-listed
	ErrorCodeServiceUnavailable = "SERVICE_UNAVAILABLE" // 503: Backend presumed down
)

func NewErrorResponse(message string, code string) *ErrorResponse {
	return &ErrorResponse{
		Error:     "error",
		Message:   message,
		Code:      code,
		Timestamp: time.Now(),
	}
}

func NewHealthCheckResponse(status string) *HealthCheckResponse {
	return &HealthCheckResponse{
		Status:     status,
		Timestamp:  time.Now(),
		Components: make(map[string]ComponentHealth),
		Metrics:    make(map[string]interface{}),
	}
}

func (h *HealthCheckResponse) AddComponent(name, status, message string) {
	h.Components[name] = ComponentHealth{
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
	}
}

func (h *HealthCheckResponse) AddMetric(name string, value interface{}) {
	h.Metrics[name] = value
}
