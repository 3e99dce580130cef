package database

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedsmith/internal/domain"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := New(context.Background(), filepath.Join(t.TempDir(), "test.sqlite"), log)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}

func TestCreateFeedDuplicateURI(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	first := &domain.Feed{URI: "https://example.com/feed.xml", Name: "Example"}
	created, err := db.CreateFeed(ctx, first)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotZero(t, first.ID)

	second := &domain.Feed{URI: "https://example.com/feed.xml", Name: "Racer"}
	created, err = db.CreateFeed(ctx, second)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestUpdateFeedURIConflict(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	a := &domain.Feed{URI: "https://a.example.com/feed"}
	_, err := db.CreateFeed(ctx, a)
	require.NoError(t, err)

	b := &domain.Feed{URI: "https://b.example.com/feed"}
	_, err = db.CreateFeed(ctx, b)
	require.NoError(t, err)

	err = db.UpdateFeedURI(ctx, b.ID, "https://a.example.com/feed")
	assert.ErrorIs(t, err, domain.ErrDuplicateURI)

	// The losing feed keeps its old URI.
	kept, err := db.GetFeed(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://b.example.com/feed", kept.URI)
}

func TestGetFeedNotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := db.GetFeed(context.Background(), 12345)
	assert.ErrorIs(t, err, domain.ErrFeedNotFound)
}

func TestCreateCachedImageRace(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	uri := "https://cdn.example.com/pic.jpg"

	winner := &domain.CachedImage{ID: "id-winner", URI: uri, Format: "JPEG"}
	created, err := db.CreateCachedImage(ctx, winner)
	require.NoError(t, err)
	assert.True(t, created)

	loser := &domain.CachedImage{ID: "id-loser", URI: uri, Format: "JPEG"}
	created, err = db.CreateCachedImage(ctx, loser)
	require.NoError(t, err)
	assert.False(t, created)

	images, err := db.GetCachedImages(ctx, []string{uri})
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Equal(t, "id-winner", images[uri].ID)
}

func TestSubscribeAndCount(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	feed := &domain.Feed{URI: "https://example.com/feed"}
	_, err := db.CreateFeed(ctx, feed)
	require.NoError(t, err)

	require.NoError(t, db.Subscribe(ctx, 1, feed.ID))
	require.NoError(t, db.Subscribe(ctx, 2, feed.ID))
	// Subscribing twice is a no-op.
	require.NoError(t, db.Subscribe(ctx, 1, feed.ID))

	count, err := db.CountSubscribers(ctx, feed.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestRecentPublicationStats(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	feed := &domain.Feed{URI: "https://example.com/feed"}
	_, err := db.CreateFeed(ctx, feed)
	require.NoError(t, err)

	now := time.Now().UTC()
	for i, age := range []time.Duration{24 * time.Hour, 72 * time.Hour, 400 * 24 * time.Hour} {
		article := &domain.Article{
			FeedID:      feed.ID,
			IDInFeed:    string(rune('a' + i)),
			PublishedAt: now.Add(-age),
		}
		require.NoError(t, db.CreateArticle(ctx, article))
	}

	count, oldest, err := db.RecentPublicationStats(ctx, feed.ID, now.AddDate(0, 0, -365))
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	require.NotNil(t, oldest)
	assert.WithinDuration(t, now.Add(-72*time.Hour), *oldest, time.Second)
}

func TestRecentPublicationStatsEmpty(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	feed := &domain.Feed{URI: "https://example.com/feed"}
	_, err := db.CreateFeed(ctx, feed)
	require.NoError(t, err)

	count, oldest, err := db.RecentPublicationStats(ctx, feed.ID, time.Now().AddDate(0, 0, -365))
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Nil(t, oldest)
}
