// Package feed converts raw syndication documents into the structures the
// reconciler works with.
package feed

import (
	"bytes"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"feedsmith/internal/domain"
)

type Parser struct {
	parser *gofeed.Parser
	now    func() time.Time
	log    *slog.Logger
}

func NewParser(log *slog.Logger) *Parser {
	return &Parser{
		parser: gofeed.NewParser(),
		now:    time.Now,
		log:    log,
	}
}

// Parse converts raw bytes into a structured document. Bytes that are not a
// valid RSS or Atom document yield an error wrapping domain.ErrNotAFeed.
func (p *Parser) Parse(data []byte) (*domain.ParsedFeed, error) {
	parsed, err := p.parser.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrNotAFeed, err)
	}

	result := &domain.ParsedFeed{
		Title:    strings.TrimSpace(parsed.Title),
		Articles: make([]domain.ParsedArticle, 0, len(parsed.Items)),
	}

	for _, item := range parsed.Items {
		article, ok := p.parseItem(item)
		if !ok {
			continue
		}

		result.Articles = append(result.Articles, article)
	}

	return result, nil
}

func (p *Parser) parseItem(item *gofeed.Item) (domain.ParsedArticle, bool) {
	idInFeed := strings.TrimSpace(item.GUID)
	if idInFeed == "" {
		idInFeed = strings.TrimSpace(item.Link)
	}
	if idInFeed == "" {
		p.log.Warn("Skipping feed item without GUID and link",
			"itemTitle", item.Title)

		return domain.ParsedArticle{}, false
	}

	content := item.Content
	if content == "" {
		content = item.Description
	}

	publishedAt, updatedAt := articleDates(item, p.now)

	article := domain.ParsedArticle{
		IDInFeed:    idInFeed,
		Link:        strings.TrimSpace(item.Link),
		Title:       strings.TrimSpace(item.Title),
		Content:     content,
		PublishedAt: publishedAt,
		UpdatedAt:   updatedAt,
	}

	for _, enclosure := range item.Enclosures {
		attachment, ok := parseEnclosure(enclosure, item)
		if !ok {
			continue
		}

		article.Attachments = append(article.Attachments, attachment)
	}

	return article, true
}

// articleDates picks the published timestamp and the optional updated
// timestamp for an entry. An entry carrying only an updated date uses it as
// the published date; an entry with neither is stamped with the parse time.
func articleDates(item *gofeed.Item, now func() time.Time) (time.Time, *time.Time) {
	if item.PublishedParsed != nil && item.UpdatedParsed != nil {
		updated := *item.UpdatedParsed
		return *item.PublishedParsed, &updated
	}

	if item.UpdatedParsed != nil {
		return *item.UpdatedParsed, nil
	}

	if item.PublishedParsed != nil {
		return *item.PublishedParsed, nil
	}

	return now(), nil
}

func parseEnclosure(enclosure *gofeed.Enclosure, item *gofeed.Item) (domain.ParsedAttachment, bool) {
	uri := strings.TrimSpace(enclosure.URL)
	if uri == "" {
		return domain.ParsedAttachment{}, false
	}

	attachment := domain.ParsedAttachment{
		URI:      uri,
		Title:    strings.TrimSpace(item.Title),
		MimeType: strings.TrimSpace(enclosure.Type),
	}

	if length, err := strconv.ParseInt(strings.TrimSpace(enclosure.Length), 10, 64); err == nil && length > 0 {
		attachment.SizeInBytes = &length
	}

	if item.ITunesExt != nil {
		if duration, ok := parseDuration(item.ITunesExt.Duration); ok {
			attachment.DurationSeconds = &duration
		}
	}

	return attachment, true
}

// parseDuration understands the "SS", "MM:SS" and "HH:MM:SS" forms found in
// podcast feeds.
func parseDuration(raw string) (int64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}

	parts := strings.Split(raw, ":")
	if len(parts) > 3 {
		return 0, false
	}

	var total int64
	for _, part := range parts {
		n, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil || n < 0 {
			return 0, false
		}

		total = total*60 + n
	}

	return total, true
}
