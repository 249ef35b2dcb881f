// Copyright (c) 2026, the listenarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package downloadclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog/log"
)

const (
	fetchTimeout      = 30 * time.Second
	maxTorrentPayload = 20 << 20
	magnetPrefix      = "magnet:"
)

// Session is the stored session for a direct provider host.
type Session struct {
	BaseURL string
	Cookie  string
}

// SessionSource resolves session cookies for direct providers whose torrent
// URLs require an authenticated fetch, and can reload them from configuration
// after an auth failure.
type SessionSource interface {
	SessionFor(host string) (Session, bool)
	Reload() error
}

// FetchResult is either a torrent payload or a magnet URI, never both.
type FetchResult struct {
	TorrentBytes []byte
	MagnetURI    string
}

// Fetcher resolves a source URL into something the download client accepts.
// The orchestrator fetches torrent payloads itself because the client may not
// be able to reach the origin (loopback indexers, session cookies).
type Fetcher struct {
	httpClient *http.Client
	sessions   SessionSource
}

// NewFetcher creates a Fetcher. sessions may be nil when no direct providers
// are configured.
func NewFetcher(sessions SessionSource) *Fetcher {
	return &Fetcher{
		httpClient: &http.Client{
			Timeout: fetchTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				// Redirects are inspected, not followed: a 3xx to a magnet
				// URI is a payload in its own right.
				return http.ErrUseLastResponse
			},
		},
		sessions: sessions,
	}
}

// Fetch resolves rawURL per the source-fetch bridge rules: magnets pass
// through, 3xx-to-magnet and magnet-text bodies are unwrapped, anything else
// is returned as payload bytes. Direct-provider hosts get their session
// cookie attached; a 401/403 triggers one session reload before failing.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*FetchResult, error) {
	if strings.HasPrefix(rawURL, magnetPrefix) {
		return &FetchResult{MagnetURI: rawURL}, nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid source url: %w", err)
	}

	result, err := f.fetchOnce(ctx, u)
	if err == nil {
		return result, nil
	}

	var authErr *authError
	if f.sessions != nil && asAuthError(err, &authErr) {
		log.Debug().Str("host", u.Host).Int("status", authErr.status).Msg("source fetch unauthorized, reloading provider session")
		if reloadErr := f.sessions.Reload(); reloadErr != nil {
			return nil, fmt.Errorf("source fetch unauthorized and session reload failed: %w", reloadErr)
		}
		return f.fetchOnce(ctx, u)
	}
	return nil, err
}

type authError struct {
	status int
}

func (e *authError) Error() string {
	return fmt.Sprintf("source fetch unauthorized (status %d)", e.status)
}

func asAuthError(err error, target **authError) bool {
	for err != nil {
		if ae, ok := err.(*authError); ok {
			*target = ae
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}

func (f *Fetcher) fetchOnce(ctx context.Context, u *url.URL) (*FetchResult, error) {
	var result *FetchResult

	err := retry.Do(
		func() error {
			res, err := f.doRequest(ctx, u)
			if err != nil {
				return err
			}
			result = res
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.LastErrorOnly(true),
		retry.RetryIf(isTransientFetchError),
	)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func isTransientFetchError(err error) bool {
	var netErr net.Error
	if asNetError(err, &netErr) {
		return true
	}
	var se *statusError
	if asStatusError(err, &se) {
		return se.status >= 500
	}
	return false
}

func asNetError(err error, target *net.Error) bool {
	for err != nil {
		if ne, ok := err.(net.Error); ok {
			*target = ne
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}

type statusError struct {
	status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("source fetch failed with status %d", e.status)
}

func asStatusError(err error, target **statusError) bool {
	for err != nil {
		if se, ok := err.(*statusError); ok {
			*target = se
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}

func (f *Fetcher) doRequest(ctx context.Context, u *url.URL) (*FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build source request: %w", err)
	}
	req.Header.Set("Accept", "application/x-bittorrent")

	if f.sessions != nil {
		if session, ok := f.sessions.SessionFor(u.Host); ok && session.Cookie != "" {
			req.Header.Set("Cookie", session.Cookie)
		}
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("source fetch failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		location := resp.Header.Get("Location")
		if strings.HasPrefix(location, magnetPrefix) {
			return &FetchResult{MagnetURI: location}, nil
		}
		return nil, fmt.Errorf("source fetch redirected to non-magnet location %q", location)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &authError{status: resp.StatusCode}
	case resp.StatusCode != http.StatusOK:
		return nil, &statusError{status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTorrentPayload))
	if err != nil {
		return nil, fmt.Errorf("failed to read source payload: %w", err)
	}
	if bytes.HasPrefix(body, []byte(magnetPrefix)) {
		return &FetchResult{MagnetURI: strings.TrimSpace(string(body))}, nil
	}
	return &FetchResult{TorrentBytes: body}, nil
}

// RewriteLoopbackURL substitutes the configured external base for loopback
// hosts, preserving path, query, and fragment. It returns an error when the
// URL is loopback and no override is configured, since the client would never
// reach it.
func RewriteLoopbackURL(rawURL, externalBase string) (string, error) {
	if strings.HasPrefix(rawURL, magnetPrefix) {
		return rawURL, nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid source url: %w", err)
	}
	if !isLoopbackHost(u.Hostname()) {
		return rawURL, nil
	}
	if externalBase == "" {
		return "", fmt.Errorf("source url %q resolves to loopback and no external base override is configured", rawURL)
	}

	base, err := url.Parse(externalBase)
	if err != nil {
		return "", fmt.Errorf("invalid external base override: %w", err)
	}
	u.Scheme = base.Scheme
	u.Host = base.Host
	return u.String(), nil
}

func isLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
