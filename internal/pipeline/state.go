// Copyright (c) 2026, the listenarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package pipeline owns the queue item state graph and the retry policy.
// It is pure: no IO, no store access. The orchestrator consults it and the
// store applies the results.
package pipeline

import "time"

// Status is the lifecycle state of a queue item.
type Status string

const (
	StatusQueued             Status = "queued"
	StatusSearching          Status = "searching"
	StatusFound              Status = "found"
	StatusDownloading        Status = "downloading"
	StatusAudibleDownloading Status = "audible_downloading"
	StatusPaused             Status = "paused"
	StatusComplete           Status = "complete"
	StatusConverting         Status = "converting"
	StatusConverted          Status = "converted"
	StatusImporting          Status = "importing"
	StatusImported           Status = "imported"
	StatusSeeding            Status = "seeding"
	StatusSeedingComplete    Status = "seeding_complete"
	StatusSearchFailed       Status = "search_failed"
	StatusDownloadFailed     Status = "download_failed"
	StatusAudibleFailed      Status = "audible_download_failed"
	StatusConversionFailed   Status = "conversion_failed"
	StatusImportFailed       Status = "import_failed"
	StatusCancelled          Status = "cancelled"
)

// Kind selects which worker path an item takes.
type Kind string

const (
	KindTorrent Kind = "torrent"
	KindMagnet  Kind = "magnet"
	KindCatalog Kind = "catalog"
)

// transitions is the full edge set of the state graph. Anything not listed
// here is rejected. A stage can fail before its working state is entered
// (fetch errors during dispatch, a missing artifact at completion), so each
// failure status is also reachable from the state its stage dispatches from.
// A found item whose selected source turns out to be unusable counts as a
// search failure, so found also reaches search_failed.
var transitions = map[Status][]Status{
	StatusQueued:             {StatusSearching, StatusFound, StatusAudibleDownloading, StatusAudibleFailed, StatusCancelled},
	StatusSearching:          {StatusFound, StatusSearchFailed, StatusCancelled},
	StatusFound:              {StatusDownloading, StatusDownloadFailed, StatusSearchFailed, StatusCancelled},
	StatusDownloading:        {StatusComplete, StatusDownloadFailed, StatusPaused, StatusCancelled},
	StatusAudibleDownloading: {StatusComplete, StatusAudibleFailed, StatusCancelled},
	StatusPaused:             {StatusDownloading, StatusCancelled},
	StatusComplete:           {StatusConverting, StatusImporting, StatusImportFailed, StatusCancelled},
	StatusConverting:         {StatusConverted, StatusConversionFailed, StatusCancelled},
	StatusConverted:          {StatusImporting, StatusCancelled},
	StatusImporting:          {StatusImported, StatusImportFailed, StatusCancelled},
	StatusImported:           {StatusSeeding},
	StatusSeeding:            {StatusSeedingComplete, StatusCancelled},
	StatusSearchFailed:       {StatusSearching, StatusCancelled},
	StatusDownloadFailed:     {StatusFound, StatusCancelled},
	StatusAudibleFailed:      {StatusQueued, StatusAudibleDownloading, StatusCancelled},
	StatusConversionFailed:   {StatusConverting, StatusCancelled},
	StatusImportFailed:       {StatusImporting, StatusCancelled},
	StatusSeedingComplete:    nil,
	StatusCancelled:          nil,
}

// CanTransition reports whether the edge from -> to exists in the state graph.
func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// downloadingStates are the states during which progress is written and must
// stay monotone non-decreasing.
var downloadingStates = map[Status]bool{
	StatusDownloading:        true,
	StatusAudibleDownloading: true,
}

// IsDownloading reports whether s is an active download state.
func IsDownloading(s Status) bool {
	return downloadingStates[s]
}

// failureStates maps each failure status to true.
var failureStates = map[Status]bool{
	StatusSearchFailed:     true,
	StatusDownloadFailed:   true,
	StatusAudibleFailed:    true,
	StatusConversionFailed: true,
	StatusImportFailed:     true,
}

// IsFailure reports whether s is a failure status (retryable or exhausted).
func IsFailure(s Status) bool {
	return failureStates[s]
}

// IsTerminal reports whether s admits no further automatic transitions.
// Failure states are terminal here because items only rest in them once their
// retry budget is exhausted; retries move through them transiently.
func IsTerminal(s Status) bool {
	switch s {
	case StatusImported, StatusSeedingComplete, StatusCancelled:
		return true
	}
	return failureStates[s]
}

// StampsStartedAt reports whether the transition from -> to begins the
// download phase and should record started_at.
func StampsStartedAt(from, to Status) bool {
	if to != StatusDownloading && to != StatusAudibleDownloading {
		return false
	}
	// Resuming from pause is not a fresh start.
	return from != StatusPaused
}

// StampsCompletedAt reports whether arriving at to should record completed_at.
func StampsCompletedAt(to Status) bool {
	return to == StatusComplete || to == StatusImported
}

// ResetsProgress reports whether arriving at to invalidates any recorded
// download progress.
func ResetsProgress(to Status) bool {
	return to == StatusQueued || to == StatusFound
}

// ResetsRetryCount reports whether the edge from -> to completes a stage.
// Completing a stage releases its consumed retries so the next stage starts
// with a full budget; re-entering a state through a retry must not.
func ResetsRetryCount(from, to Status) bool {
	if failureStates[from] {
		return false
	}
	switch to {
	case StatusFound, StatusComplete, StatusConverted, StatusImported:
		return true
	}
	return false
}

// Stamps describes the timestamp side effects of an accepted transition.
type Stamps struct {
	StartedAt     *time.Time
	CompletedAt   *time.Time
	ResetProgress bool
	ResetRetry    bool
}

// TransitionStamps computes the timestamp side effects for the edge
// from -> to at the given instant. Callers must have checked CanTransition.
func TransitionStamps(from, to Status, now time.Time) Stamps {
	var s Stamps
	if StampsStartedAt(from, to) {
		s.StartedAt = &now
	}
	if StampsCompletedAt(to) {
		s.CompletedAt = &now
	}
	s.ResetProgress = ResetsProgress(to)
	s.ResetRetry = ResetsRetryCount(from, to)
	return s
}
