package fetcher

import (
	"bytes"
	"context"
	"crypto/sha1"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFetcher() *Fetcher {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New("reader.example.com", "https://reader.example.com/fetcher", log)
}

func TestFetchFeedReturnsContentAndHash(t *testing.T) {
	body := "<rss></rss>"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = io.WriteString(w, body)
	}))
	defer server.Close()

	result, err := newTestFetcher().FetchFeed(context.Background(), FeedRequest{URI: server.URL})
	require.NoError(t, err)
	require.NotNil(t, result)

	expectedHash := sha1.Sum([]byte(body))
	assert.Equal(t, []byte(body), result.Content)
	assert.Equal(t, expectedHash[:], result.Hash)
	assert.False(t, result.IsHTML)
	assert.Equal(t, server.URL, result.FinalURL)
}

func TestFetchFeedUnchangedOn304(t *testing.T) {
	lastFetched := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t,
			lastFetched.Format(http.TimeFormat),
			r.Header.Get("If-Modified-Since"))

		w.WriteHeader(http.StatusNotModified)
	}))
	defer server.Close()

	result, err := newTestFetcher().FetchFeed(context.Background(), FeedRequest{
		URI:           server.URL,
		LastFetchedAt: &lastFetched,
	})
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestFetchFeedUnchangedOnMatchingHash(t *testing.T) {
	body := "<rss>same</rss>"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, body)
	}))
	defer server.Close()

	hash := sha1.Sum([]byte(body))

	// The server ignores conditional headers and answers 200, but the
	// digest gives it away as unchanged.
	result, err := newTestFetcher().FetchFeed(context.Background(), FeedRequest{
		URI:      server.URL,
		LastHash: hash[:],
	})
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestFetchFeedDetectsHTML(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, "<html></html>")
	}))
	defer server.Close()

	result, err := newTestFetcher().FetchFeed(context.Background(), FeedRequest{URI: server.URL})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.IsHTML)
}

func TestFetchFeedRejectsDeclaredOversizedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Length", "104857600")
	}))
	defer server.Close()

	_, err := newTestFetcher().FetchFeed(context.Background(), FeedRequest{URI: server.URL})
	assert.ErrorIs(t, err, ErrTooBig)
}

func TestFetchFeedRejectsActualOversizedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// No Content-Length: the stream itself has to trip the limit.
		_, _ = w.Write(bytes.Repeat([]byte("a"), MaxDownloadBytes+1))
	}))
	defer server.Close()

	_, err := newTestFetcher().FetchFeed(context.Background(), FeedRequest{URI: server.URL})
	assert.ErrorIs(t, err, ErrTooBig)
}

func TestFetchFeedStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := newTestFetcher().FetchFeed(context.Background(), FeedRequest{URI: server.URL})

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusInternalServerError, statusErr.Code)
}

func TestFetchFeedFollowsRedirects(t *testing.T) {
	var target *httptest.Server
	target = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/old" {
			http.Redirect(w, r, target.URL+"/new", http.StatusMovedPermanently)
			return
		}

		_, _ = io.WriteString(w, "<rss></rss>")
	}))
	defer target.Close()

	result, err := newTestFetcher().FetchFeed(context.Background(), FeedRequest{URI: target.URL + "/old"})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, target.URL+"/new", result.FinalURL)
}

func TestFetchFeedSpacesRequestsPerHost(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "<rss></rss>")
	}))
	defer server.Close()

	f := newTestFetcher()
	ctx := context.Background()

	_, err := f.FetchFeed(ctx, FeedRequest{URI: server.URL})
	require.NoError(t, err)

	start := time.Now()
	_, err = f.FetchFeed(ctx, FeedRequest{URI: server.URL})
	require.NoError(t, err)

	assert.GreaterOrEqual(t, time.Since(start), hostRequestInterval/2)
}

func TestFetchImage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("User-Agent"), "Feedsmith")

		_, _ = w.Write([]byte{0x89, 0x50, 0x4e, 0x47})
	}))
	defer server.Close()

	data, err := newTestFetcher().FetchImage(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 0x50, 0x4e, 0x47}, data)
}

func TestFeedUserAgent(t *testing.T) {
	f := newTestFetcher()

	assert.Equal(t,
		"Feedsmith (reader.example.com; +https://reader.example.com/fetcher; 42 subscribers; feed-id=7)",
		f.feedUserAgent(42, 7))

	assert.Equal(t,
		"Feedsmith (reader.example.com; +https://reader.example.com/fetcher)",
		f.feedUserAgent(0, 0))
}
