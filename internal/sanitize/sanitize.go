// Package sanitize cleans untrusted article HTML: it strips dangerous
// markup, normalizes heading hierarchy, rewrites relative links to absolute
// ones and substitutes remote images with cached mirrors.
package sanitize

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
)

// targetHeadingLevel is where user content headings start; the surrounding
// page reserves h1 and h2 for itself.
const targetHeadingLevel = 3

var urlRewritePairs = [...][2]string{
	{"a", "href"},
	{"img", "src"},
}

// CachedImage is the sanitizer's view of one mirrored image.
type CachedImage struct {
	TrackingPixel bool
	MirrorURL     string
}

// ImageLookup resolves image URIs against the cache. URIs with no entry are
// simply absent from the result.
type ImageLookup interface {
	LookupImages(ctx context.Context, uris []string) (map[string]CachedImage, error)
}

type Cleaner struct {
	policy *bluemonday.Policy
	images ImageLookup
	log    *slog.Logger
}

func NewCleaner(images ImageLookup, log *slog.Logger) *Cleaner {
	p := bluemonday.NewPolicy()
	p.AllowElements(
		"a", "abbr", "acronym", "b", "blockquote", "code", "em", "i", "li",
		"ol", "strong", "ul",
		"p", "pre", "img", "br", "h1", "h2", "h3", "h4", "h5", "h6",
	)
	p.AllowAttrs("href", "title").OnElements("a")
	p.AllowAttrs("title").OnElements("abbr", "acronym")
	p.AllowAttrs("src", "title", "alt").OnElements("img")
	p.AllowURLSchemes("http", "https", "mailto")
	// Mirrored images are referenced by same-origin relative paths.
	p.AllowRelativeURLs(true)

	return &Cleaner{
		policy: p,
		images: images,
		log:    log,
	}
}

// CleanArticle cleans and formats an untrusted chunk of HTML so it fits the
// style of the surrounding document. It is deterministic given the same
// image-cache state.
func (c *Cleaner) CleanArticle(ctx context.Context, content string, baseURL string) (string, error) {
	return c.clean(ctx, content, baseURL, true)
}

// FindImages returns the URIs of every image referenced by the article
// after cleaning, with relative references already made absolute.
func (c *Cleaner) FindImages(ctx context.Context, content string, baseURL string) ([]string, error) {
	cleaned, err := c.clean(ctx, content, baseURL, false)
	if err != nil {
		return nil, err
	}

	doc, err := parseFragment(cleaned)
	if err != nil {
		return nil, err
	}

	var uris []string
	doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok && src != "" {
			uris = append(uris, src)
		}
	})

	return uris, nil
}

// FindFeedLink searches an HTML page head for a linked Atom or RSS feed and
// returns its absolute URL, or an empty string when the page links none.
func FindFeedLink(content string, baseURL string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return ""
	}

	for _, feedType := range []string{"application/atom+xml", "application/rss+xml"} {
		link := doc.Find(fmt.Sprintf("link[type=%q]", feedType)).First()

		href, ok := link.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			continue
		}

		return resolveURL(baseURL, strings.TrimSpace(href))
	}

	return ""
}

func (c *Cleaner) clean(
	ctx context.Context,
	content string,
	baseURL string,
	replaceImages bool,
) (string, error) {
	doc, err := parseFragment(content)
	if err != nil {
		return "", err
	}

	removeUnwantedTags(doc)
	unifyHeadings(doc)
	rewriteRelativeLinks(doc, baseURL)
	if replaceImages {
		c.rewriteImageLinks(ctx, doc)
	}

	rendered, err := doc.Find("body").Html()
	if err != nil {
		return "", fmt.Errorf("render cleaned HTML: %w", err)
	}

	return c.policy.Sanitize(rendered), nil
}

func parseFragment(content string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("parse HTML: %w", err)
	}

	return doc, nil
}

// removeUnwantedTags drops script and style elements with their whole
// subtree. The allowlist filter alone cannot do this: stripping only the
// tags would leave executable or style text behind as plain text.
func removeUnwantedTags(doc *goquery.Document) {
	doc.Find("script, style").Remove()
}

// unifyHeadings shifts every heading so that the shallowest level actually
// used in the fragment becomes targetHeadingLevel. A fragment without
// headings is left alone.
func unifyHeadings(doc *goquery.Document) {
	highest := 0
	for level := 1; level <= 6; level++ {
		if doc.Find(fmt.Sprintf("h%d", level)).Length() > 0 {
			highest = level
			break
		}
	}

	if highest == 0 {
		return
	}

	shift := targetHeadingLevel - highest
	if shift == 0 {
		return
	}

	// Walk in the direction that never revisits a renamed node: deepest
	// first when shifting down the hierarchy, shallowest first when
	// shifting up.
	levels := []int{6, 5, 4, 3, 2, 1}
	if shift < 0 {
		levels = []int{1, 2, 3, 4, 5, 6}
	}

	for _, level := range levels {
		renamed := fmt.Sprintf("h%d", level+shift)
		doc.Find(fmt.Sprintf("h%d", level)).Each(func(_ int, s *goquery.Selection) {
			node := s.Get(0)
			node.Data = renamed
			node.DataAtom = 0
		})
	}
}

// rewriteRelativeLinks makes every href and src absolute. Feeds should only
// contain absolute references; for those that do not, the feed URI is the
// best available base.
func rewriteRelativeLinks(doc *goquery.Document, baseURL string) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return
	}

	for _, pair := range urlRewritePairs {
		tagName, attrName := pair[0], pair[1]

		doc.Find(fmt.Sprintf("%s[%s]", tagName, attrName)).Each(func(_ int, s *goquery.Selection) {
			value, ok := s.Attr(attrName)
			if !ok {
				return
			}

			ref, parseErr := url.Parse(strings.TrimSpace(value))
			if parseErr != nil {
				return
			}

			s.SetAttr(attrName, base.ResolveReference(ref).String())
		})
	}
}

// rewriteImageLinks substitutes img sources with cached mirrors. Images not
// yet cached keep their original remote source: sanitized output is never
// blocked by incomplete image caching.
func (c *Cleaner) rewriteImageLinks(ctx context.Context, doc *goquery.Document) {
	imgs := doc.Find("img[src]")

	seen := make(map[string]struct{})
	var uris []string
	imgs.Each(func(_ int, s *goquery.Selection) {
		src, ok := s.Attr("src")
		if !ok || src == "" {
			return
		}

		if _, dup := seen[src]; dup {
			return
		}

		seen[src] = struct{}{}
		uris = append(uris, src)
	})

	if len(uris) == 0 {
		return
	}

	cached, err := c.images.LookupImages(ctx, uris)
	if err != nil {
		c.log.WarnContext(ctx, "Failed to look up cached images",
			"error", err,
			"uriCount", len(uris))

		return
	}

	imgs.Each(func(_ int, s *goquery.Selection) {
		src, ok := s.Attr("src")
		if !ok {
			return
		}

		image, inCache := cached[src]
		if !inCache {
			c.log.WarnContext(ctx, "Image not in cache",
				"uri", src)

			return
		}

		if image.TrackingPixel {
			s.Remove()
			return
		}

		if image.MirrorURL == "" {
			return
		}

		s.SetAttr("src", image.MirrorURL)
	})
}

func resolveURL(baseURL string, ref string) string {
	base, err := url.Parse(baseURL)
	if err != nil {
		return ref
	}

	parsed, err := url.Parse(ref)
	if err != nil {
		return ""
	}

	return base.ResolveReference(parsed).String()
}
