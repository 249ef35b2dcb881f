// Copyright (c) 2026, the listenarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package pipeline

import "time"

// FailureKind classifies a stage failure. Values match the failure statuses
// so the queue can persist them directly.
type FailureKind = Status

const (
	minDownloadBackoff = 10 * time.Second
)

// RetryPolicy holds per-failure-kind retry budgets and the download backoff.
type RetryPolicy struct {
	budgets         map[FailureKind]int
	downloadBackoff time.Duration
}

// DefaultBudgets returns the stock retry budgets.
func DefaultBudgets() map[FailureKind]int {
	return map[FailureKind]int{
		StatusSearchFailed:     3,
		StatusDownloadFailed:   2,
		StatusAudibleFailed:    2,
		StatusConversionFailed: 1,
		StatusImportFailed:     2,
	}
}

// NewRetryPolicy builds a policy from configured budgets. Missing kinds fall
// back to the defaults; the download backoff is clamped to its 10s floor.
func NewRetryPolicy(budgets map[FailureKind]int, downloadBackoff time.Duration) *RetryPolicy {
	merged := DefaultBudgets()
	for kind, budget := range budgets {
		if budget >= 0 {
			merged[kind] = budget
		}
	}
	if downloadBackoff < minDownloadBackoff {
		downloadBackoff = minDownloadBackoff
	}
	return &RetryPolicy{budgets: merged, downloadBackoff: downloadBackoff}
}

// retryTargets maps each failure kind to the state a retry re-enters.
var retryTargets = map[FailureKind]Status{
	StatusSearchFailed:     StatusSearching,
	StatusDownloadFailed:   StatusFound,
	StatusAudibleFailed:    StatusQueued,
	StatusConversionFailed: StatusConverting,
	StatusImportFailed:     StatusImporting,
}

// RetryTarget returns the state a retry of the given failure kind re-enters.
// Administrative retries use it to pick the legal edge out of a failure state.
func RetryTarget(kind FailureKind) (Status, bool) {
	target, ok := retryTargets[kind]
	return target, ok
}

// Decision is the outcome of consulting the retry policy for a failure.
type Decision struct {
	// Permanent means the budget is exhausted and the item rests in its
	// failure status.
	Permanent bool
	// Target is the state a retry re-enters; unset when Permanent.
	Target Status
	// Backoff is the delay before the item becomes eligible again.
	Backoff time.Duration
}

// Budget returns the configured budget for a failure kind.
func (p *RetryPolicy) Budget(kind FailureKind) int {
	return p.budgets[kind]
}

// Decide resolves a failure of the given kind for an item whose retry count
// is retryCount. A retry is granted while retryCount is strictly below the
// budget.
func (p *RetryPolicy) Decide(kind FailureKind, retryCount int) Decision {
	target, ok := retryTargets[kind]
	if !ok {
		return Decision{Permanent: true}
	}
	if retryCount >= p.budgets[kind] {
		return Decision{Permanent: true}
	}
	d := Decision{Target: target}
	if kind == StatusDownloadFailed {
		d.Backoff = p.downloadBackoff
	}
	return d
}
