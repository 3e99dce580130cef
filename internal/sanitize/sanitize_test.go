package sanitize

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLookup struct {
	images map[string]CachedImage
	calls  int
}

func (s *stubLookup) LookupImages(
	_ context.Context,
	_ []string,
) (map[string]CachedImage, error) {
	s.calls++

	if s.images == nil {
		return map[string]CachedImage{}, nil
	}

	return s.images, nil
}

func newTestCleaner(images map[string]CachedImage) (*Cleaner, *stubLookup) {
	lookup := &stubLookup{images: images}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	return NewCleaner(lookup, log), lookup
}

func TestCleanArticleShiftsHeadings(t *testing.T) {
	cleaner, _ := newTestCleaner(nil)

	cleaned, err := cleaner.CleanArticle(
		context.Background(),
		"<h1>A</h1><h2>B</h2>",
		"https://example.com/feed.xml",
	)
	require.NoError(t, err)

	assert.Equal(t, "<h3>A</h3><h4>B</h4>", cleaned)
}

func TestCleanArticleShiftsHeadingsUp(t *testing.T) {
	cleaner, _ := newTestCleaner(nil)

	cleaned, err := cleaner.CleanArticle(
		context.Background(),
		"<h5>A</h5><h6>B</h6>",
		"https://example.com/feed.xml",
	)
	require.NoError(t, err)

	assert.Equal(t, "<h3>A</h3><h4>B</h4>", cleaned)
}

func TestCleanArticleWithoutHeadings(t *testing.T) {
	cleaner, _ := newTestCleaner(nil)

	cleaned, err := cleaner.CleanArticle(
		context.Background(),
		"<p>hi <b>x</b></p><span>y</span>",
		"https://example.com/feed.xml",
	)
	require.NoError(t, err)

	// No heading shift; the span is not allowlisted so only its tag goes.
	assert.Equal(t, "<p>hi <b>x</b></p>y", cleaned)
}

func TestCleanArticleRemovesScriptAndStyleContent(t *testing.T) {
	cleaner, _ := newTestCleaner(nil)

	cleaned, err := cleaner.CleanArticle(
		context.Background(),
		"<p>a</p><script>alert(1)</script><style>p { color: red }</style>",
		"https://example.com/feed.xml",
	)
	require.NoError(t, err)

	assert.Equal(t, "<p>a</p>", cleaned)
}

func TestCleanArticleRewritesRelativeLinks(t *testing.T) {
	cleaner, _ := newTestCleaner(nil)

	cleaned, err := cleaner.CleanArticle(
		context.Background(),
		`<p><a href="/post/1">x</a></p>`,
		"https://example.com/feed.xml",
	)
	require.NoError(t, err)

	assert.Equal(t, `<p><a href="https://example.com/post/1">x</a></p>`, cleaned)
}

func TestCleanArticleSubstitutesImages(t *testing.T) {
	cleaner, lookup := newTestCleaner(map[string]CachedImage{
		"https://cdn.example.com/pic.jpg":   {MirrorURL: "/images/ab/ab123"},
		"https://cdn.example.com/pixel.gif": {TrackingPixel: true},
	})

	cleaned, err := cleaner.CleanArticle(
		context.Background(),
		`<img src="https://cdn.example.com/pic.jpg">`+
			`<img src="https://cdn.example.com/pixel.gif">`+
			`<img src="https://cdn.example.com/new.png">`,
		"https://example.com/feed.xml",
	)
	require.NoError(t, err)

	// Cached image mirrored, tracking pixel dropped, uncached one kept
	// untouched: output must never block on incomplete caching.
	assert.Equal(t,
		`<img src="/images/ab/ab123"/><img src="https://cdn.example.com/new.png"/>`,
		cleaned)
	assert.Equal(t, 1, lookup.calls)
}

func TestCleanArticleStripsDisallowedAttributes(t *testing.T) {
	cleaner, _ := newTestCleaner(nil)

	cleaned, err := cleaner.CleanArticle(
		context.Background(),
		`<p onclick="evil()">a</p><img src="https://e.com/a.png" onerror="evil()">`,
		"https://example.com/feed.xml",
	)
	require.NoError(t, err)

	assert.Equal(t, `<p>a</p><img src="https://e.com/a.png"/>`, cleaned)
}

func TestFindImagesResolvesRelativeSources(t *testing.T) {
	cleaner, lookup := newTestCleaner(nil)

	uris, err := cleaner.FindImages(
		context.Background(),
		`<p><img src="/img/a.png"><img src="https://cdn.example.com/b.jpg"></p>`,
		"https://example.com/feed.xml",
	)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"https://example.com/img/a.png",
		"https://cdn.example.com/b.jpg",
	}, uris)
	// Discovery never consults the cache.
	assert.Equal(t, 0, lookup.calls)
}

func TestFindFeedLink(t *testing.T) {
	page := `<html><head>
	<link rel="alternate" type="application/atom+xml" href="/feed.atom">
	</head><body></body></html>`

	assert.Equal(t,
		"https://example.com/feed.atom",
		FindFeedLink(page, "https://example.com/blog"))
}

func TestFindFeedLinkPrefersAtom(t *testing.T) {
	page := `<html><head>
	<link rel="alternate" type="application/rss+xml" href="/feed.rss">
	<link rel="alternate" type="application/atom+xml" href="/feed.atom">
	</head><body></body></html>`

	assert.Equal(t,
		"https://example.com/feed.atom",
		FindFeedLink(page, "https://example.com/"))
}

func TestFindFeedLinkMissing(t *testing.T) {
	assert.Equal(t, "", FindFeedLink("<html><head></head><body></body></html>", "https://example.com/"))
}
