package ratelimit

import (
	"fmt"
	"time"

	"storegate/internal/models"
)

// CallerClass identifies who is making the request, as resolved by the
// injected role resolver.
type CallerClass string

const (
	CallerAnonymous     CallerClass = "anonymous"
	CallerAuthenticated CallerClass = "authenticated"
	CallerAdmin         CallerClass = "admin"
)

// RouteClass identifies what kind of endpoint is being hit.
type RouteClass string

const (
	RoutePublic RouteClass = "public" // storefront pages, product browsing
	RouteAPI    RouteClass = "api"    // cart, checkout, orders
	RouteAuth   RouteClass = "auth"   // login, password reset
	RouteAdmin  RouteClass = "admin"  // operator endpoints
)

// Policy is one immutable rate-limit budget: Points requests per Duration.
// Addresses that keep violating it are blocked for BlockDuration.
type Policy struct {
	Points        int
	Duration      time.Duration
	BlockDuration time.Duration
}

// Window returns the policy window formatted for the RejectionResponse body.
func (p Policy) Window() string {
	return p.Duration.String()
}

// PolicyTable maps (caller, route) pairs to policies. Loaded at startup and
// immutable thereafter.
type PolicyTable struct {
	entries map[string]Policy
}

func policyKey(caller CallerClass, route RouteClass) string {
	return fmt.Sprintf("%s:%s", caller, route)
}

// defaultPolicies is the built-in table. Auth-critical endpoints get a tiny
// budget over a long window with a long block, since credential stuffing is
// the main abuse vector there.
func defaultPolicies() map[string]Policy {
	public := Policy{Points: 60, Duration: time.Minute, BlockDuration: 10 * time.Minute}
	authed := Policy{Points: 120, Duration: time.Minute, BlockDuration: 10 * time.Minute}
	authCritical := Policy{Points: 5, Duration: 15 * time.Minute, BlockDuration: 30 * time.Minute}
	admin := Policy{Points: 300, Duration: time.Minute, BlockDuration: 10 * time.Minute}

	return map[string]Policy{
		policyKey(CallerAnonymous, RoutePublic):     public,
		policyKey(CallerAnonymous, RouteAPI):        public,
		policyKey(CallerAnonymous, RouteAuth):       authCritical,
		policyKey(CallerAnonymous, RouteAdmin):      authCritical,
		policyKey(CallerAuthenticated, RoutePublic): authed,
		policyKey(CallerAuthenticated, RouteAPI):    authed,
		policyKey(CallerAuthenticated, RouteAuth):   authCritical,
		policyKey(CallerAuthenticated, RouteAdmin):  authCritical,
		policyKey(CallerAdmin, RoutePublic):         admin,
		policyKey(CallerAdmin, RouteAPI):            admin,
		policyKey(CallerAdmin, RouteAuth):           authCritical,
		policyKey(CallerAdmin, RouteAdmin):          admin,
	}
}

// NewPolicyTable builds the policy table from the built-in defaults plus any
// configured overrides, keyed "<caller>:<route>".
func NewPolicyTable(overrides map[string]models.PolicyConfig) *PolicyTable {
	entries := defaultPolicies()
	for key, cfg := range overrides {
		entries[key] = Policy{
			Points:        cfg.Points,
			Duration:      cfg.Duration,
			BlockDuration: cfg.BlockDuration,
		}
	}
	return &PolicyTable{entries: entries}
}

// DefaultPolicyTable returns the table with no overrides.
func DefaultPolicyTable() *PolicyTable {
	return NewPolicyTable(nil)
}

// Resolve returns the policy for a caller/route pair, falling back to the
// anonymous policy for the route, then to the anonymous public policy.
func (t *PolicyTable) Resolve(caller CallerClass, route RouteClass) Policy {
	if p, ok := t.entries[policyKey(caller, route)]; ok {
		return p
	}
	if p, ok := t.entries[policyKey(CallerAnonymous, route)]; ok {
		return p
	}
	return t.entries[policyKey(CallerAnonymous, RoutePublic)]
}
