package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Tier is one scope at which the limiter maintains an independent counter.
type Tier struct {
	Name   string
	Max    int64
	Window time.Duration
}

const (
	TierGlobal    = "global"
	TierPerCaller = "per_caller"
	TierPerKey    = "per_key"
)

// Decision is the immutable outcome of a single admission check.
type Decision struct {
	Allowed     bool
	Tier        string
	Limit       int64 // 0 means "not applicable" (fail-open path)
	Remaining   int64
	FailedOpen  bool
	ResetAt     time.Time
	RetryAfter  time.Duration // non-zero iff Allowed is false
}

// Limiter cascades global -> per-caller -> per-key checks over a shared
// Store. Tiers are evaluated in order; the first tier that denies short
// circuits the rest, and the counters of downstream tiers are never touched
// for that request.
type Limiter struct {
	Store      Store
	Global     Tier
	PerCaller  Tier
	PerKey     Tier
}

// New builds a Limiter with the given per-tier limits. PerKey.Max <= 0
// disables the per-key tier entirely (it is simply never evaluated, keyed
// or not).
func New(store Store, global, perCaller, perKey Tier) *Limiter {
	global.Name = TierGlobal
	perCaller.Name = TierPerCaller
	perKey.Name = TierPerKey
	return &Limiter{Store: store, Global: global, PerCaller: perCaller, PerKey: perKey}
}

// Check evaluates the tier cascade for one request. callerFP is the hashed
// caller identity (always present); keyFP is the hashed API key, or empty
// if the caller presented none.
func (l *Limiter) Check(ctx context.Context, callerFP, keyFP string) Decision {
	tiers := []struct {
		tier       Tier
		identifier string
	}{
		{l.Global, "*"},
		{l.PerCaller, callerFP},
	}
	if keyFP != "" && l.PerKey.Max > 0 {
		tiers = append(tiers, struct {
			tier       Tier
			identifier string
		}{l.PerKey, keyFP})
	}

	var last Decision
	now := time.Now().UTC()
	for _, t := range tiers {
		d, err := l.checkTier(ctx, t.tier, t.identifier, now)
		if err != nil {
			// Fail-open: the store is advisory. A single soft failure must
			// never turn the gateway into a single point of failure.
			return Decision{Allowed: true, FailedOpen: true}
		}
		if !d.Allowed {
			return d
		}
		last = d
	}
	return last
}

func (l *Limiter) checkTier(ctx context.Context, t Tier, identifier string, now time.Time) (Decision, error) {
	ws := windowStart(now, t.Window)
	key := fmt.Sprintf("rate_limit:%s:%s:%d", t.Name, identifier, ws.Unix())
	count, ttl, err := l.Store.IncrementAndGetTTL(ctx, key, t.Window)
	if err != nil {
		return Decision{}, err
	}
	if ttl <= 0 {
		if err := l.Store.SetExpiry(ctx, key, t.Window); err != nil {
			return Decision{}, err
		}
	}
	reset := ws.Add(t.Window)
	if count > t.Max {
		retryAfter := reset.Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return Decision{
			Allowed:    false,
			Tier:       t.Name,
			Limit:      t.Max,
			Remaining:  0,
			ResetAt:    reset,
			RetryAfter: retryAfter,
		}, nil
	}
	remaining := t.Max - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   true,
		Tier:      t.Name,
		Limit:     t.Max,
		Remaining: remaining,
		ResetAt:   reset,
	}, nil
}

// Reset deletes every bucket for (tier, identifier) across all windows.
func (l *Limiter) Reset(ctx context.Context, tier, identifier string) error {
	prefix := fmt.Sprintf("rate_limit:%s:%s:", tier, identifier)
	keys, err := l.Store.KeysMatching(ctx, prefix)
	if err != nil {
		return err
	}
	return l.Store.Delete(ctx, keys...)
}

// Status reads the current bucket for (tier, identifier) without advancing
// it. It uses the live window so it reflects what the next request would
// see.
func (l *Limiter) Status(ctx context.Context, tier, identifier string, window time.Duration) (count int64, ttl time.Duration, err error) {
	ws := windowStart(time.Now().UTC(), window)
	key := fmt.Sprintf("rate_limit:%s:%s:%d", tier, identifier, ws.Unix())
	return l.Store.Peek(ctx, key)
}

// windowStart aligns now to the most recent epoch-boundary multiple of
// window, so two independent gateway instances agree on bucket boundaries
// without coordination.
func windowStart(now time.Time, window time.Duration) time.Time {
	if window <= 0 {
		window = time.Hour
	}
	sec := int64(window.Seconds())
	if sec <= 0 {
		sec = 1
	}
	epoch := now.Unix()
	aligned := epoch - (epoch % sec)
	return time.Unix(aligned, 0).UTC()
}
