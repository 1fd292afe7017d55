package guard

import (
	"encoding/hex"
	"fmt"

	"workchain/core/types"
)

// Category names a throttled action bucket. Unlisted categories pass through
// the limiter unconditionally.
type Category string

const (
	CategoryJobPost        Category = "job_post"
	CategoryProposalSubmit Category = "proposal_submit"
	CategoryBountyCreate   Category = "bounty_create"
	CategoryDisputeRaise   Category = "dispute_raise"
	CategoryEscrowCreate   Category = "escrow_create"
	CategoryAdminAction    Category = "admin_action"
)

// ResetWindowSeconds is the rolling window after which per-actor counters
// reset to zero.
const ResetWindowSeconds = 86_400

// DailyCeiling returns the configured per-day ceiling for a category and
// whether the category is throttled at all.
func DailyCeiling(category Category) (uint64, bool) {
	ceiling, ok := dailyCeilings[category]
	return ceiling, ok
}

var dailyCeilings = map[Category]uint64{
	CategoryJobPost:        5,
	CategoryProposalSubmit: 20,
	CategoryBountyCreate:   3,
	CategoryDisputeRaise:   2,
	CategoryEscrowCreate:   10,
	CategoryAdminAction:    50,
}

// LimitExceededError carries the throttled category and its ceiling back to
// the caller.
type LimitExceededError struct {
	Category Category
	Limit    uint64
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("guard: rate limit exceeded for %s: maximum %d per day", e.Category, e.Limit)
}

// RateLimitState holds an actor's daily counters. Counters only reset when a
// full window has elapsed since LastReset.
type RateLimitState struct {
	Counters  map[Category]uint64 `json:"counters"`
	LastReset int64               `json:"lastReset"`
}

func rateLimitKey(actor types.Address) []byte {
	return append(append([]byte(nil), rateLimitPref...), hex.EncodeToString(actor[:])...)
}

// CheckAndIncrement enforces the daily ceiling for the actor and category,
// incrementing exactly one counter on success. The state write rides the
// call's transaction: a failed call discards the increment along with every
// other write, so failed attempts never leak counts.
func (g *Guard) CheckAndIncrement(actor types.Address, category Category, now int64) error {
	if g == nil || g.store == nil {
		return errNilStore
	}
	ceiling, throttled := DailyCeiling(category)
	if !throttled {
		return nil
	}
	limits := &RateLimitState{LastReset: now}
	ok, err := g.store.KVGet(rateLimitKey(actor), limits)
	if err != nil {
		return err
	}
	if !ok || limits.Counters == nil {
		limits.Counters = make(map[Category]uint64)
	}
	if now >= limits.LastReset+ResetWindowSeconds {
		limits.Counters = make(map[Category]uint64)
		limits.LastReset = now
	}
	if limits.Counters[category] >= ceiling {
		return &LimitExceededError{Category: category, Limit: ceiling}
	}
	limits.Counters[category]++
	return g.store.KVPut(rateLimitKey(actor), limits)
}

// RateLimitStatus returns the actor's current counters, if any exist.
func (g *Guard) RateLimitStatus(actor types.Address) (*RateLimitState, bool, error) {
	if g == nil || g.store == nil {
		return nil, false, errNilStore
	}
	limits := new(RateLimitState)
	ok, err := g.store.KVGet(rateLimitKey(actor), limits)
	if err != nil || !ok {
		return nil, false, err
	}
	return limits, true, nil
}

// ResetRateLimit clears an actor's counters entirely. Administrator recovery
// path for actors wedged by the daily window.
func (g *Guard) ResetRateLimit(actor types.Address) error {
	if g == nil || g.store == nil {
		return errNilStore
	}
	return g.store.Delete(rateLimitKey(actor))
}
