// ABOUTME: Quota and rate limiter composing daily, minute, and scoped checks
// ABOUTME: All checks share one result shape; storage faults admit the request

package quota

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/havenjournal/haven-gateway/internal/fault"
	"github.com/havenjournal/haven-gateway/internal/store"
)

// Limits holds the FREE-tier ceilings. All values come from configuration.
type Limits struct {
	Daily     int
	PerMinute int
	PerEntry  int
	PerThread int
}

// Scope identifies the legacy resource-scoped counter a request consumes,
// in addition to the unified pool. Zero value means no scoped check.
type Scope struct {
	EntryID  string
	ThreadID string
}

// Result is the uniform outcome of a quota check.
type Result struct {
	Allowed bool
	Err     *fault.Error
}

func allowed() *Result { return &Result{Allowed: true} }

func denied(err *fault.Error) *Result { return &Result{Allowed: false, Err: err} }

// Limiter performs admission checks against the quota store.
type Limiter struct {
	store  store.QuotaStore
	limits Limits
	logger *slog.Logger

	// now is swappable for tests
	now func() time.Time
}

// NewLimiter creates a Limiter with the given ceilings.
func NewLimiter(s store.QuotaStore, limits Limits, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{
		store:  s,
		limits: limits,
		logger: logger.With("component", "quota"),
		now:    time.Now,
	}
}

// Check runs the full admission sequence for one request: bypass, unified
// daily pool, per-minute guard, then the legacy scoped ceilings. A request
// must pass every stage. Each underlying increment is atomic, so the check
// and the consumption of a slot are a single decision.
func (l *Limiter) Check(ctx context.Context, account *store.UserAccount, scope Scope) *Result {
	if account.Bypass() {
		return allowed()
	}

	if r := l.checkDaily(ctx, account); !r.Allowed {
		return r
	}
	if r := l.checkMinute(ctx, account); !r.Allowed {
		return r
	}
	if scope.EntryID != "" {
		if r := l.checkEntry(ctx, account, scope.EntryID); !r.Allowed {
			return r
		}
	}
	if scope.ThreadID != "" {
		if r := l.checkThread(ctx, account, scope.ThreadID); !r.Allowed {
			return r
		}
	}

	return allowed()
}

func (l *Limiter) checkDaily(ctx context.Context, account *store.UserAccount) *Result {
	now := l.now().UTC()
	day := now.Format("2006-01-02")

	adm, err := l.store.IncrementDaily(ctx, account.UserID, day, l.limits.Daily)
	if err != nil {
		return l.failOpen(account.UserID, "daily", err)
	}
	if !adm.Allowed {
		retryAfter := int(time.Until(endOfDay(now)).Seconds())
		ferr := fault.ResourceExhausted(
			fmt.Sprintf("daily request limit reached (%d/%d)", adm.Count, l.limits.Daily),
			adm.Count, l.limits.Daily, account.Tier,
		).WithRetryAfter(retryAfter)
		return denied(ferr)
	}
	return allowed()
}

func (l *Limiter) checkMinute(ctx context.Context, account *store.UserAccount) *Result {
	now := l.now()

	adm, err := l.store.IncrementMinute(ctx, account.UserID, now, l.limits.PerMinute)
	if err != nil {
		return l.failOpen(account.UserID, "minute", err)
	}
	if !adm.Allowed {
		retryAfter := 60 - int(now.Sub(adm.WindowStart).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		ferr := fault.ResourceExhausted(
			fmt.Sprintf("too many requests, slow down (%d/%d per minute)", adm.Count, l.limits.PerMinute),
			adm.Count, l.limits.PerMinute, account.Tier,
		).WithRetryAfter(retryAfter)
		return denied(ferr)
	}
	return allowed()
}

func (l *Limiter) checkEntry(ctx context.Context, account *store.UserAccount, entryID string) *Result {
	adm, err := l.store.IncrementEntryAnalysis(ctx, account.UserID, entryID, l.limits.PerEntry)
	if err != nil {
		return l.failOpen(account.UserID, "entry", err)
	}
	if !adm.Allowed {
		return denied(fault.ResourceExhausted(
			fmt.Sprintf("analysis limit reached for this entry (%d/%d)", adm.Count, l.limits.PerEntry),
			adm.Count, l.limits.PerEntry, account.Tier,
		))
	}
	return allowed()
}

func (l *Limiter) checkThread(ctx context.Context, account *store.UserAccount, threadID string) *Result {
	adm, err := l.store.IncrementThreadMessages(ctx, account.UserID, threadID, l.limits.PerThread)
	if err != nil {
		return l.failOpen(account.UserID, "thread", err)
	}
	if !adm.Allowed {
		return denied(fault.ResourceExhausted(
			fmt.Sprintf("message limit reached for this conversation (%d/%d)", adm.Count, l.limits.PerThread),
			adm.Count, l.limits.PerThread, account.Tier,
		))
	}
	return allowed()
}

// failOpen admits a request after a storage fault. Availability wins over
// strictness here; the intervention path makes the opposite call.
func (l *Limiter) failOpen(userID, check string, err error) *Result {
	l.logger.Warn("quota check failed open",
		"user_id", userID,
		"check", check,
		"error", err,
	)
	return allowed()
}

// endOfDay returns the first instant of the next UTC day.
func endOfDay(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
}
