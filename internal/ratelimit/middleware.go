package ratelimit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"storegate/internal/models"
)

// Recorder receives admission outcomes for metrics export. Implemented by
// the observability package; a nil Recorder disables instrumentation.
type Recorder interface {
	Admitted(route string)
	Rejected(route, reason string)
	FailOpen(route string)
}

// AuditFunc receives audit events emitted by the middleware. Implementations
// must not block; the gateway hands events to the audit store on a separate
// goroutine.
type AuditFunc func(event *models.AuditEvent)

// RoleResolver maps a request to its caller class and user identifier.
// Returning an empty user ID marks the caller anonymous for key derivation.
type RoleResolver func(r *http.Request) (CallerClass, string)

// RouteClassifier maps a request path to its route class for policy lookup.
type RouteClassifier func(r *http.Request) RouteClass

// Options wires the admission middleware.
type Options struct {
	Limiter  *SlidingWindow
	Policies *PolicyTable
	Roles    RoleResolver
	Routes   RouteClassifier
	// Global caps process-wide throughput ahead of the per-key limits.
	// Nil disables the ceiling.
	Global   *rate.Limiter
	Recorder Recorder
	Audit    AuditFunc
	// SkipWhitelist disables the whitelist exemption, subjecting every
	// caller to the full admission chain.
	SkipWhitelist bool
}

// rejection reasons reported to the Recorder and response bodies.
const (
	rejectBlocked    = "blocked"
	rejectSuspicious = "suspicious"
	rejectPolicy     = "rate_limited"
	rejectGlobal     = "global_limit"
)

// verdict is the computed outcome of the decision path, applied to the
// response after all locks are released.
type verdict struct {
	admit      bool
	skipHeader bool // whitelisted or fail-open: no rate limit headers
	route      string
	now        time.Time // limiter clock reading the decision was made at
	reason     string
	policy     Policy
	decision   Decision
	retryAfter time.Duration
	body       models.RejectionResponse
}

// Middleware returns HTTP middleware enforcing the admission chain:
// whitelist, block check, suspicious-burst check, policy rate limit. On
// admission it sets standard rate limit headers and delegates to the
// wrapped handler; on rejection it writes a structured 429. Any internal
// failure in the decision path fails open: admission control breaking must
// never deny legitimate traffic.
func Middleware(opts Options) func(http.Handler) http.Handler {
	if opts.Policies == nil {
		opts.Policies = DefaultPolicyTable()
	}
	if opts.Roles == nil {
		opts.Roles = func(*http.Request) (CallerClass, string) { return CallerAnonymous, "" }
	}
	if opts.Routes == nil {
		opts.Routes = func(*http.Request) RouteClass { return RoutePublic }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			v := decide(opts, r)

			if !v.skipHeader {
				setRateLimitHeaders(w, v.policy, v.decision, v.now)
			}

			if v.admit {
				if opts.Recorder != nil {
					opts.Recorder.Admitted(v.route)
				}
				// No limiter lock is held past this point; the wrapped
				// handler may block freely.
				next.ServeHTTP(w, r)
				return
			}

			if opts.Recorder != nil {
				opts.Recorder.Rejected(v.route, v.reason)
			}
			writeRejection(w, v)
		})
	}
}

// decide runs the admission chain and never panics: a recovered panic is
// reported, audited, and converted into an admit. The injected resolvers
// run inside this function so that a panicking resolver also fails open;
// the route label is carried on v so the recover path never re-invokes the
// classifier.
func decide(opts Options, r *http.Request) (v verdict) {
	v.route = string(RoutePublic)
	defer func() {
		if p := recover(); p != nil {
			slog.Error("Admission decision failed, failing open",
				"panic", fmt.Sprint(p),
				"path", r.URL.Path,
			)
			if opts.Recorder != nil {
				opts.Recorder.FailOpen(v.route)
			}
			emitAudit(opts.Audit, models.EventAdmissionError, ClientIP(r), "", fmt.Sprint(p))
			v = verdict{admit: true, skipHeader: true, route: v.route}
		}
	}()

	now := opts.Limiter.Now()
	ip := ClientIP(r)

	if !opts.SkipWhitelist && opts.Limiter.IsWhitelisted(ip) {
		return verdict{admit: true, skipHeader: true, route: v.route}
	}

	caller, userID := opts.Roles(r)
	route := opts.Routes(r)
	v.route = string(route)
	policy := opts.Policies.Resolve(caller, route)

	if rec, blocked := opts.Limiter.IsBlocked(ip); blocked {
		retry := rec.Until.Sub(now)
		return verdict{
			route:      v.route,
			now:        now,
			reason:     rejectBlocked,
			policy:     policy,
			decision:   Decision{Limit: policy.Points, ResetAt: rec.Until},
			retryAfter: retry,
			body: models.RejectionResponse{
				Error:      "Too many requests, this IP has been temporarily blocked",
				Code:       models.ErrorCodeBlocked,
				RetryAfter: ceilSeconds(retry),
				Reason:     rec.Reason,
			},
		}
	}

	if opts.Limiter.DetectSuspicious(ip) {
		rec := opts.Limiter.Block(ip, ReasonSuspicious, opts.Limiter.cfg.SuspiciousBlockDuration)
		emitAudit(opts.Audit, models.EventSuspicious, ip, "", "burst threshold exceeded")
		emitAudit(opts.Audit, models.EventIPBlocked, ip, "", ReasonSuspicious)
		retry := rec.Until.Sub(now)
		return verdict{
			route:      v.route,
			now:        now,
			reason:     rejectSuspicious,
			policy:     policy,
			decision:   Decision{Limit: policy.Points, ResetAt: rec.Until},
			retryAfter: retry,
			body: models.RejectionResponse{
				Error:      "Suspicious activity detected, this IP has been temporarily blocked",
				Code:       models.ErrorCodeBlocked,
				RetryAfter: ceilSeconds(retry),
				Reason:     ReasonSuspicious,
			},
		}
	}

	if opts.Global != nil && !opts.Global.Allow() {
		return verdict{
			route:      v.route,
			now:        now,
			reason:     rejectGlobal,
			policy:     policy,
			decision:   Decision{Limit: policy.Points},
			retryAfter: time.Second,
			body: models.RejectionResponse{
				Error:      "Service is at capacity, retry shortly",
				Code:       models.ErrorCodeRateLimited,
				RetryAfter: 1,
			},
		}
	}

	key := GenerateKey(ip, userID, caller, route)
	d := opts.Limiter.Allow(key, policy)
	if d.Allowed {
		return verdict{admit: true, route: v.route, now: now, policy: policy, decision: d}
	}

	if rec, escalated := opts.Limiter.RegisterViolation(ip, policy); escalated {
		emitAudit(opts.Audit, models.EventIPBlocked, ip, key, rec.Reason)
	}
	emitAudit(opts.Audit, models.EventRateLimited, ip, key,
		fmt.Sprintf("limit %d per %s", policy.Points, policy.Duration))

	slog.Warn("Rate limit exceeded",
		"key", key,
		"limit", policy.Points,
		"retry_after", d.RetryAfter,
	)

	return verdict{
		route:      v.route,
		now:        now,
		reason:     rejectPolicy,
		policy:     policy,
		decision:   d,
		retryAfter: d.RetryAfter,
		body: models.RejectionResponse{
			Error:      "Rate limit exceeded",
			Code:       models.ErrorCodeRateLimited,
			Limit:      policy.Points,
			Window:     policy.Window(),
			RetryAfter: ceilSeconds(d.RetryAfter),
		},
	}
}

// setRateLimitHeaders sets both the legacy X-RateLimit family and the
// modern RateLimit family on every decision. X-RateLimit-Reset carries an
// RFC3339 timestamp; RateLimit-Reset carries delta seconds relative to the
// limiter clock the decision was made under.
func setRateLimitHeaders(w http.ResponseWriter, p Policy, d Decision, now time.Time) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("RateLimit-Policy", fmt.Sprintf("%d;w=%d", p.Points, int(p.Duration.Seconds())))

	if !d.ResetAt.IsZero() {
		h.Set("X-RateLimit-Reset", d.ResetAt.UTC().Format(time.RFC3339))
		h.Set("RateLimit-Reset", strconv.Itoa(ceilSeconds(d.ResetAt.Sub(now))))
	}
}

func writeRejection(w http.ResponseWriter, v verdict) {
	w.Header().Set("Retry-After", strconv.Itoa(ceilSeconds(v.retryAfter)))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(v.body)
}

func emitAudit(audit AuditFunc, eventType, ip, key, detail string) {
	if audit == nil {
		return
	}
	audit(&models.AuditEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		IP:        ip,
		Key:       key,
		Detail:    detail,
		CreatedAt: time.Now(),
	})
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}

