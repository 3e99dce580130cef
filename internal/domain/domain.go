package domain

import "time"

// TrackingPixelReason is the memoized failure reason stored for images whose
// pixel area classifies them as analytics beacons rather than content.
const TrackingPixelReason = "Tracking pixel"

type Feed struct {
	ID               int64
	URI              string
	Name             string
	LastFetchedAt    *time.Time
	LastHash         []byte
	LastFailure      string
	FrequencyPerYear *int64
	CreatedAt        time.Time
}

// Healthy reports whether the last synchronization of the feed succeeded.
func (f *Feed) Healthy() bool {
	return f.LastFailure == ""
}

type Article struct {
	ID          int64
	FeedID      int64
	IDInFeed    string
	URI         string
	Title       string
	Content     string
	PublishedAt time.Time
	UpdatedAt   *time.Time
	CreatedAt   time.Time
}

type Attachment struct {
	ID              int64
	ArticleID       int64
	URI             string
	Title           string
	MimeType        string
	SizeInBytes     *int64
	DurationSeconds *int64
}

// CachedImage memoizes the outcome of mirroring one remote image URI.
// A row with a non-empty FailureReason is terminal: the URI is never retried.
type CachedImage struct {
	ID            string
	URI           string
	Format        string
	Width         int64
	Height        int64
	SizeInBytes   int64
	FailureReason string
	CreatedAt     time.Time
}

func (c *CachedImage) IsFailure() bool {
	return c.FailureReason != ""
}

func (c *CachedImage) IsTrackingPixel() bool {
	return c.FailureReason == TrackingPixelReason
}

type ParsedFeed struct {
	Title    string
	Articles []ParsedArticle
}

type ParsedArticle struct {
	IDInFeed    string
	Link        string
	Title       string
	Content     string
	PublishedAt time.Time
	UpdatedAt   *time.Time
	Attachments []ParsedAttachment
}

type ParsedAttachment struct {
	URI             string
	Title           string
	MimeType        string
	SizeInBytes     *int64
	DurationSeconds *int64
}
