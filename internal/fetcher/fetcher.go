// Package fetcher retrieves remote feed documents and images over HTTP with
// conditional-request caching and a hard download size limit.
package fetcher

import (
	"context"
	"crypto/sha1"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"feedsmith/internal/ratelimit"
)

const (
	// MaxDownloadBytes caps the size of any fetched feed or image body.
	MaxDownloadBytes = 10 * 1024 * 1024

	connectTimeout = 15 * time.Second
	requestTimeout = 60 * time.Second

	// hostRequestInterval spaces consecutive requests to the same host.
	hostRequestInterval = time.Second
)

// ErrTooBig is returned when the declared or actual body size exceeds
// MaxDownloadBytes.
var ErrTooBig = errors.New("response body exceeds size limit")

// StatusError reports a non-2xx, non-304 response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %d", e.Code)
}

// FeedRequest carries everything needed to build a polite conditional GET
// for one feed.
type FeedRequest struct {
	URI             string
	LastFetchedAt   *time.Time
	LastHash        []byte
	SubscriberCount int64
	FeedID          int64
}

// FetchResult is the outcome of a full (non-304, hash-changed) response.
type FetchResult struct {
	Content  []byte
	Hash     []byte
	IsHTML   bool
	FinalURL string
}

type Fetcher struct {
	client  *http.Client
	limiter *ratelimit.PerHost
	domain  string
	helpURL string
	log     *slog.Logger
}

func New(domain string, helpURL string, log *slog.Logger) *Fetcher {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: connectTimeout,
		}).DialContext,
		MaxIdleConnsPerHost: 4,
	}

	return &Fetcher{
		client: &http.Client{
			Transport: transport,
			Timeout:   requestTimeout,
		},
		limiter: ratelimit.NewPerHost(hostRequestInterval),
		domain:  domain,
		helpURL: helpURL,
		log:     log,
	}
}

// FetchFeed retrieves a new version of the feed if available. A nil result
// with a nil error means the feed did not change since the last fetch,
// either because the server answered 304 or because the body hash matches
// the previous one.
func (f *Fetcher) FetchFeed(ctx context.Context, req FeedRequest) (*FetchResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URI, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	httpReq.Header.Set("User-Agent", f.feedUserAgent(req.SubscriberCount, req.FeedID))
	if req.LastFetchedAt != nil {
		httpReq.Header.Set("If-Modified-Since", req.LastFetchedAt.UTC().Format(http.TimeFormat))
	}

	if err = f.limiter.Wait(ctx, httpReq.URL.Host); err != nil {
		return nil, fmt.Errorf("wait for host slot: %w", err)
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer f.closeBody(ctx, resp)

	if resp.StatusCode == http.StatusNotModified {
		f.log.InfoContext(ctx, "Feed did not change since last fetch, got HTTP 304",
			"uri", req.URI)

		return nil, nil
	}

	content, err := f.readBody(resp)
	if err != nil {
		return nil, err
	}

	currentHash := sha1.Sum(content)
	if req.LastHash != nil && string(req.LastHash) == string(currentHash[:]) {
		f.log.InfoContext(ctx, "Feed did not change since last fetch, hashes match",
			"uri", req.URI)

		return nil, nil
	}

	isHTML := strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html")

	return &FetchResult{
		Content:  content,
		Hash:     currentHash[:],
		IsHTML:   isHTML,
		FinalURL: resp.Request.URL.String(),
	}, nil
}

// FetchImage retrieves an image with the same limits as FetchFeed but
// without conditional-request logic. The underlying connection pool is
// shared, so images from the same host reuse connections within a batch.
func (f *Fetcher) FetchImage(ctx context.Context, uri string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	httpReq.Header.Set("User-Agent", f.feedUserAgent(0, 0))

	if err = f.limiter.Wait(ctx, httpReq.URL.Host); err != nil {
		return nil, fmt.Errorf("wait for host slot: %w", err)
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}
	defer f.closeBody(ctx, resp)

	return f.readBody(resp)
}

func (f *Fetcher) readBody(resp *http.Response) ([]byte, error) {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode}
	}

	// Content-Length lets oversized bodies be rejected before streaming,
	// but it is optional and can lie, so the limited read below stays
	// authoritative.
	if resp.ContentLength > MaxDownloadBytes {
		return nil, fmt.Errorf("declared length is %d bytes: %w", resp.ContentLength, ErrTooBig)
	}

	content, err := io.ReadAll(io.LimitReader(resp.Body, MaxDownloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if len(content) > MaxDownloadBytes {
		return nil, ErrTooBig
	}

	return content, nil
}

func (f *Fetcher) closeBody(ctx context.Context, resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		f.log.WarnContext(ctx, "Failed to close response body",
			"error", err,
			"url", resp.Request.URL.String())
	}
}

// feedUserAgent identifies the fetcher to publishers so they can recognize
// and rate-limit its traffic without tracking individual users.
func (f *Fetcher) feedUserAgent(subscriberCount int64, feedID int64) string {
	var options []string

	if f.domain != "" {
		options = append(options, f.domain)
	}
	if f.helpURL != "" {
		options = append(options, "+"+f.helpURL)
	}
	if subscriberCount > 0 {
		options = append(options, fmt.Sprintf("%d subscribers", subscriberCount))
	}
	if feedID > 0 {
		options = append(options, fmt.Sprintf("feed-id=%d", feedID))
	}

	if len(options) == 0 {
		return "Feedsmith"
	}

	return fmt.Sprintf("Feedsmith (%s)", strings.Join(options, "; "))
}
