// Package policy enforces the budget envelope for one scan run: page,
// job and token ledgers, wall-clock limits, domain allow/block lists
// and per-domain request pacing. Every expensive operation in a run
// consults the same Enforcer instance so budgets hold globally across
// concurrent workers.
package policy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jobrover/jobrover/internal/metrics"
	"github.com/jobrover/jobrover/internal/policy/ratelimit"
	"github.com/jobrover/jobrover/internal/scan"
)

// ResourceKind names a budgeted counter.
type ResourceKind string

// Budgeted resources. Duration has no Consume counter; it is reported
// through RemainingTime and named here so exhaustion errors carry it.
const (
	ResourcePages    ResourceKind = "pages"
	ResourceJobs     ResourceKind = "jobs"
	ResourceTokens   ResourceKind = "tokens"
	ResourceDuration ResourceKind = "duration"
)

// ErrDomainNotAllowed reports an allow/block-list violation.
var ErrDomainNotAllowed = errors.New("domain not allowed by policy")

// BudgetError reports an exhausted budget counter.
type BudgetError struct {
	Kind ResourceKind
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("budget exceeded: %s", e.Kind)
}

// Enforcer is the per-run budget ledger. Counters are shared mutable
// state across workers and updated under a single mutex; a reservation
// either lands within budget or fails, there is no overshoot.
type Enforcer struct {
	constraints scan.PolicyConstraints
	clock       scan.Clock
	limiter     *ratelimit.Limiter
	allow       *domainList
	block       *domainList

	mu      sync.Mutex
	started time.Time
	pages   map[string]int
	jobs    map[string]int
	tokens  int64
	blown   map[string]bool
}

// New builds an Enforcer for one run. Constraints are resolved against
// defaults so the run always executes with a complete envelope.
func New(constraints scan.PolicyConstraints, clock scan.Clock) *Enforcer {
	resolved := constraints.Resolve()
	e := &Enforcer{
		constraints: resolved,
		clock:       clock,
		limiter: ratelimit.New(ratelimit.Config{
			DefaultRPS:   resolved.RatePerDomain,
			DefaultBurst: 1,
		}),
		allow: newDomainList(resolved.AllowDomains),
		block: newDomainList(resolved.BlockDomains),
	}
	e.resetLocked()
	return e
}

// Constraints returns the fully-resolved envelope for this run.
func (e *Enforcer) Constraints() scan.PolicyConstraints {
	return e.constraints
}

// Simulated reports whether the run is a dry-run. Budgets are still
// tracked; side-effecting fetches and completions are skipped.
func (e *Enforcer) Simulated() bool {
	return e.constraints.Simulate
}

// CheckDomain applies the allow/block lists. The block list takes
// precedence when both are configured and conflict.
func (e *Enforcer) CheckDomain(domain string) bool {
	if e.block.Matches(domain) {
		return false
	}
	if e.allow != nil && !e.allow.Matches(domain) {
		return false
	}
	return true
}

// WaitRate blocks until the domain's rate limit admits another request.
func (e *Enforcer) WaitRate(ctx context.Context, domain string) error {
	return e.limiter.Wait(ctx, domain)
}

// RateDelay returns the pause the caller must honor before the next
// request to the domain, consuming the reservation.
func (e *Enforcer) RateDelay(domain string) time.Duration {
	return e.limiter.Delay(domain)
}

// Consume reserves amount units of a resource. Pages and jobs are
// capped per source; tokens per run (sourceID is ignored). Once a
// counter is over budget every later reservation against it fails
// until Reset.
func (e *Enforcer) Consume(kind ResourceKind, sourceID string, amount int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := counterKey(kind, sourceID)
	if e.blown[key] {
		return false
	}

	var within bool
	switch kind {
	case ResourcePages:
		next := e.pages[sourceID] + int(amount)
		within = next <= e.constraints.MaxPagesPerSource
		if within {
			e.pages[sourceID] = next
		}
	case ResourceJobs:
		next := e.jobs[sourceID] + int(amount)
		within = next <= e.constraints.MaxJobsPerSource
		if within {
			e.jobs[sourceID] = next
		}
	case ResourceTokens:
		next := e.tokens + amount
		within = next <= e.constraints.MaxTokensPerRun
		if within {
			e.tokens = next
		}
	default:
		return false
	}

	if !within {
		e.blown[key] = true
		metrics.ObserveBudgetExhausted(string(kind))
	}
	return within
}

// TokensConsumed returns the run's token ledger total.
func (e *Enforcer) TokensConsumed() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tokens
}

// RemainingTime reports how much of the run's wall-clock budget is
// left. At or past zero the run must stop issuing new steps; an
// already-running step finishes rather than being killed mid-flight.
func (e *Enforcer) RemainingTime() time.Duration {
	e.mu.Lock()
	started := e.started
	e.mu.Unlock()

	remaining := e.constraints.MaxRunDuration - e.clock.Now().Sub(started)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Reset clears every counter and restarts the wall clock. The Enforcer
// holds no cross-run state.
func (e *Enforcer) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetLocked()
}

func (e *Enforcer) resetLocked() {
	e.started = e.clock.Now()
	e.pages = make(map[string]int)
	e.jobs = make(map[string]int)
	e.tokens = 0
	e.blown = make(map[string]bool)
}

func counterKey(kind ResourceKind, sourceID string) string {
	if kind == ResourceTokens {
		return string(kind)
	}
	return string(kind) + ":" + sourceID
}
