// Package ratelimit provides admission control for HTTP requests using an
// exact sliding-window log algorithm. It tracks per-key request timestamps,
// detects abusive bursts, blocks repeat offenders in tiers, and includes
// HTTP middleware that sets standard rate limit response headers.
//
// All state lives in bounded TTL caches, so memory use stays fixed under
// sustained traffic. Decisions are synchronous and in-memory; the design is
// single-process by construction.
package ratelimit

import (
	"fmt"
	"time"
)

// Block reasons attached to BlockRecord and audit events.
const (
	ReasonSuspicious = "suspicious_activity"
	ReasonRepeated   = "repeated_violations"
)

// Decision is the outcome of one admission check, carrying everything the
// middleware needs to populate response headers.
type Decision struct {
	Allowed    bool
	Limit      int           // Policy budget
	Remaining  int           // Requests left in the current window
	ResetAt    time.Time     // When the oldest counted request leaves the window
	RetryAfter time.Duration // How long to wait (meaningful only when denied)
}

// BlockRecord describes one blocked address. A block is never half-expired:
// IsBlocked reports it until Until passes, then deletes it.
type BlockRecord struct {
	IP             string
	Until          time.Time
	Reason         string
	ViolationCount int
}

// GenerateKey derives the rate-limit key for a request. When a user is
// identified the key combines role, user and address, so a logged-in
// attacker cannot hide behind the anonymous bucket of a shared IP.
// Anonymous callers are keyed by address and route class.
func GenerateKey(ip, userID string, caller CallerClass, route RouteClass) string {
	if userID != "" {
		return fmt.Sprintf("rl:%s:%s:%s", caller, userID, ip)
	}
	return fmt.Sprintf("rl:%s:%s", ip, route)
}
