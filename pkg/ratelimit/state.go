// Package ratelimit tracks the upstream's advertised request budget and gates
// dispatches against it. The budget comes from the X-RateLimit-Remaining and
// X-RateLimit-Reset response headers and is shared through Redis, so every
// dispatcher talking to the same upstream sees the same state.
package ratelimit

import (
	"time"
)

// Response headers read by the tracker.
const (
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
)

// Redis keys for budget state storage.
const (
	RedisKeyRemaining      = "dispatch:rate_limit:remaining"
	RedisKeyResetTimestamp = "dispatch:rate_limit:reset_timestamp"
	RedisKeyLastUpdate     = "dispatch:rate_limit:last_update"
)

// Thresholds for gating decisions.
const (
	// ThresholdCritical blocks all requests below this many remaining.
	ThresholdCritical = 5

	// ThresholdWarning throttles requests below this many remaining.
	ThresholdWarning = 20

	// ThresholdHealthy marks the budget healthy at or above this value.
	ThresholdHealthy = 50
)

// BudgetState is the upstream budget as last reported.
type BudgetState struct {
	Remaining  int       `json:"remaining"`
	ResetAt    time.Time `json:"reset_at"`
	LastUpdate time.Time `json:"last_update"`
	IsHealthy  bool      `json:"is_healthy"`
}

// IsStale returns true if the state is older than maxAge.
func (s *BudgetState) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// NeedsCriticalBlock returns true if requests should be rejected.
// A window that has already reset never blocks.
func (s *BudgetState) NeedsCriticalBlock() bool {
	return s.Remaining < ThresholdCritical && s.TimeUntilReset() > 0
}

// NeedsThrottling returns true if requests should be slowed down.
func (s *BudgetState) NeedsThrottling() bool {
	return s.Remaining < ThresholdWarning && s.TimeUntilReset() > 0 && !s.NeedsCriticalBlock()
}

// TimeUntilReset returns the duration until the budget window resets, or 0.
func (s *BudgetState) TimeUntilReset() time.Duration {
	d := time.Until(s.ResetAt)
	if d < 0 {
		return 0
	}
	return d
}

// UpdateHealth recomputes IsHealthy from Remaining.
func (s *BudgetState) UpdateHealth() {
	s.IsHealthy = s.Remaining >= ThresholdHealthy
}
