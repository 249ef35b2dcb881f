// Copyright (c) 2026, the listenarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package catalog runs DRM-protected catalog downloads on a bounded worker
// pool. The catalog API, authentication, and voucher decryption live behind
// the Downloader interface; this package owns pooling, cancellation, progress
// fanout, and format fallback.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

// Format identifies a catalog download format.
type Format string

const (
	FormatEncryptedA         Format = "encrypted-A"
	FormatEncryptedB         Format = "encrypted-B"
	FormatEncryptedAFallback Format = "encrypted-A-with-fallback-to-B"

	maxConcurrency = 8
)

// ErrCancelled is returned by Downloader implementations when the cancel
// token fired mid-download.
var ErrCancelled = errors.New("catalog download cancelled")

// Request describes one catalog download.
type Request struct {
	CatalogID     string
	OutputDir     string
	Filename      string
	Format        Format
	Quality       string
	AllowFallback bool
}

// Result is a finished catalog download. VoucherPath is empty when the
// format needs no voucher or the catalog did not produce one.
type Result struct {
	AudioPath   string
	VoucherPath string
	Format      Format
}

// ProgressFunc receives incremental byte counts. total may be 0 when the
// catalog does not report a size up front.
type ProgressFunc func(downloaded, total int64, message string)

// Downloader performs one catalog download. Implementations must honor the
// cancel token at every IO boundary, returning ErrCancelled, and must only
// write under req.OutputDir.
type Downloader interface {
	Download(ctx context.Context, req Request, progress ProgressFunc, cancel *CancelToken) (*Result, error)
}

// CancelToken is a one-shot cancellation signal shared between the monitor
// loop and a single in-flight catalog download.
type CancelToken struct {
	once sync.Once
	ch   chan struct{}
}

func NewCancelToken() *CancelToken {
	return &CancelToken{ch: make(chan struct{})}
}

// Cancel fires the token. Subsequent calls are no-ops.
func (t *CancelToken) Cancel() {
	t.once.Do(func() { close(t.ch) })
}

// Cancelled reports whether the token has fired.
func (t *CancelToken) Cancelled() bool {
	select {
	case <-t.ch:
		return true
	default:
		return false
	}
}

// Done returns a channel closed when the token fires.
func (t *CancelToken) Done() <-chan struct{} {
	return t.ch
}

// Outcome is the completion record the monitor loop consumes on its next
// iteration.
type Outcome struct {
	ItemID    int64
	Result    *Result
	Err       error
	Cancelled bool
}

// Pool runs catalog downloads with bounded parallelism. Submissions that
// would exceed the bound are refused so the caller can defer them.
type Pool struct {
	downloader Downloader
	sem        *semaphore.Weighted
	outcomes   chan Outcome
	progress   func(itemID int64, downloaded, total int64, message string)

	mu     sync.Mutex
	tokens map[int64]*CancelToken
	wg     sync.WaitGroup
}

// NewPool creates a Pool with the given concurrency, clamped to 1..8.
// progress may be nil.
func NewPool(downloader Downloader, concurrency int, progress func(itemID int64, downloaded, total int64, message string)) *Pool {
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > maxConcurrency {
		concurrency = maxConcurrency
	}
	return &Pool{
		downloader: downloader,
		sem:        semaphore.NewWeighted(int64(concurrency)),
		outcomes:   make(chan Outcome, maxConcurrency*2),
		progress:   progress,
		tokens:     make(map[int64]*CancelToken),
	}
}

// Outcomes returns the channel of finished downloads. The monitor loop
// drains it non-blockingly each iteration.
func (p *Pool) Outcomes() <-chan Outcome {
	return p.outcomes
}

// Active reports whether itemID has an in-flight download.
func (p *Pool) Active(itemID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.tokens[itemID]
	return ok
}

// Submit starts a download for itemID. It returns false when the pool is at
// capacity or the item is already in flight; the caller retries next
// iteration.
func (p *Pool) Submit(ctx context.Context, itemID int64, req Request) bool {
	p.mu.Lock()
	if _, running := p.tokens[itemID]; running {
		p.mu.Unlock()
		return false
	}
	if !p.sem.TryAcquire(1) {
		p.mu.Unlock()
		return false
	}
	token := NewCancelToken()
	p.tokens[itemID] = token
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		defer func() {
			p.mu.Lock()
			delete(p.tokens, itemID)
			p.mu.Unlock()
		}()
		p.run(ctx, itemID, req, token)
	}()
	return true
}

// Cancel fires the cancel token for itemID. It reports whether a download
// was in flight.
func (p *Pool) Cancel(itemID int64) bool {
	p.mu.Lock()
	token, ok := p.tokens[itemID]
	p.mu.Unlock()
	if !ok {
		return false
	}
	token.Cancel()
	return true
}

// Wait blocks until all in-flight downloads have finished. Used on shutdown
// after firing outstanding tokens.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context, itemID int64, req Request, token *CancelToken) {
	progress := func(downloaded, total int64, message string) {
		if p.progress != nil {
			p.progress(itemID, downloaded, total, message)
		}
	}

	result, err := p.download(ctx, req, progress, token)

	if err != nil && (errors.Is(err, ErrCancelled) || token.Cancelled()) {
		p.cleanPartials(itemID, req.OutputDir)
		p.outcomes <- Outcome{ItemID: itemID, Cancelled: true}
		return
	}
	if err != nil {
		log.Error().Err(err).Int64("itemID", itemID).Str("catalogID", req.CatalogID).Msg("catalog download failed")
		p.outcomes <- Outcome{ItemID: itemID, Err: err}
		return
	}
	p.outcomes <- Outcome{ItemID: itemID, Result: result}
}

// download applies the format-fallback rule: an encrypted-A-with-fallback
// request is attempted as encrypted-A first and retried once as encrypted-B
// when the first attempt fails for a reason other than cancellation.
func (p *Pool) download(ctx context.Context, req Request, progress ProgressFunc, token *CancelToken) (*Result, error) {
	primary := req
	if req.Format == FormatEncryptedAFallback {
		primary.Format = FormatEncryptedA
	}

	result, err := p.downloader.Download(ctx, primary, progress, token)
	if err == nil || errors.Is(err, ErrCancelled) || token.Cancelled() {
		return result, err
	}

	if req.Format == FormatEncryptedAFallback && req.AllowFallback {
		log.Warn().Err(err).Str("catalogID", req.CatalogID).Msg("primary catalog format failed, falling back")
		fallback := req
		fallback.Format = FormatEncryptedB
		result, fbErr := p.downloader.Download(ctx, fallback, progress, token)
		if fbErr == nil {
			return result, nil
		}
		return nil, fmt.Errorf("fallback format failed after primary: %w", fbErr)
	}
	return nil, err
}

func (p *Pool) cleanPartials(itemID int64, outputDir string) {
	if outputDir == "" {
		return
	}
	if err := os.RemoveAll(outputDir); err != nil {
		log.Warn().Err(err).Int64("itemID", itemID).Str("dir", outputDir).Msg("failed to remove partial catalog download")
	}
}
