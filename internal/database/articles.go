package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"feedsmith/internal/domain"
)

// GetArticlesByFeed prefetches every stored article of the feed, keyed by
// its id-in-feed, for reconciliation against a fresh parse.
func (d *Database) GetArticlesByFeed(
	ctx context.Context,
	feedID int64,
) (map[string]domain.Article, error) {
	query := `select id, feed_id, id_in_feed, uri, title, content, published_at, updated_at, created_at
	from articles
	where feed_id = ?`

	rows, err := d.db.QueryContext(ctx, query, feedID)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer func() {
		if err = rows.Close(); err != nil {
			d.log.ErrorContext(ctx, "Failed to close rows",
				"error", err,
				"feedID", feedID,
				"operation", "GetArticlesByFeed")
		}
	}()

	articles := make(map[string]domain.Article)
	for rows.Next() {
		var (
			a         domain.Article
			updatedAt sql.NullTime
		)

		err = rows.Scan(
			&a.ID,
			&a.FeedID,
			&a.IDInFeed,
			&a.URI,
			&a.Title,
			&a.Content,
			&a.PublishedAt,
			&updatedAt,
			&a.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		if updatedAt.Valid {
			a.UpdatedAt = &updatedAt.Time
		}

		articles[a.IDInFeed] = a
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return articles, nil
}

func (d *Database) GetArticle(ctx context.Context, articleID int64) (*domain.Article, error) {
	query := `select id, feed_id, id_in_feed, uri, title, content, published_at, updated_at, created_at
	from articles
	where id = ?`

	var (
		a         domain.Article
		updatedAt sql.NullTime
	)

	err := d.db.QueryRowContext(ctx, query, articleID).Scan(
		&a.ID,
		&a.FeedID,
		&a.IDInFeed,
		&a.URI,
		&a.Title,
		&a.Content,
		&a.PublishedAt,
		&updatedAt,
		&a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrArticleNotFound
		}

		return nil, fmt.Errorf("execute query: %w", err)
	}

	if updatedAt.Valid {
		a.UpdatedAt = &updatedAt.Time
	}

	return &a, nil
}

func (d *Database) CreateArticle(ctx context.Context, article *domain.Article) error {
	article.IDInFeed = strings.TrimSpace(article.IDInFeed)
	if article.IDInFeed == "" {
		return fmt.Errorf("article id-in-feed is empty")
	}

	query := `insert into articles (feed_id, id_in_feed, uri, title, content, published_at, updated_at)
	values (?, ?, ?, ?, ?, ?, ?)`

	res, err := d.db.ExecContext(ctx, query,
		article.FeedID,
		article.IDInFeed,
		article.URI,
		article.Title,
		article.Content,
		article.PublishedAt,
		nullTime(article.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert article: %w", err)
	}

	article.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}

	return nil
}

func (d *Database) UpdateArticle(ctx context.Context, article *domain.Article) error {
	query := `update articles
	set uri = ?, title = ?, content = ?, published_at = ?, updated_at = ?
	where id = ?`

	_, err := d.db.ExecContext(ctx, query,
		article.URI,
		article.Title,
		article.Content,
		article.PublishedAt,
		nullTime(article.UpdatedAt),
		article.ID,
	)
	if err != nil {
		return fmt.Errorf("update article %d: %w", article.ID, err)
	}

	return nil
}

func (d *Database) GetAttachmentsByArticle(
	ctx context.Context,
	articleID int64,
) ([]domain.Attachment, error) {
	query := `select id, article_id, uri, title, mime_type, size_in_bytes, duration_seconds
	from attachments
	where article_id = ?`

	rows, err := d.db.QueryContext(ctx, query, articleID)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer func() {
		if err = rows.Close(); err != nil {
			d.log.ErrorContext(ctx, "Failed to close rows",
				"error", err,
				"articleID", articleID,
				"operation", "GetAttachmentsByArticle")
		}
	}()

	var attachments []domain.Attachment
	for rows.Next() {
		var (
			a        domain.Attachment
			size     sql.NullInt64
			duration sql.NullInt64
		)

		err = rows.Scan(&a.ID, &a.ArticleID, &a.URI, &a.Title, &a.MimeType, &size, &duration)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		if size.Valid {
			a.SizeInBytes = &size.Int64
		}
		if duration.Valid {
			a.DurationSeconds = &duration.Int64
		}

		attachments = append(attachments, a)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return attachments, nil
}

func (d *Database) CreateAttachment(ctx context.Context, attachment *domain.Attachment) error {
	query := `insert into attachments (article_id, uri, title, mime_type, size_in_bytes, duration_seconds)
	values (?, ?, ?, ?, ?, ?)`

	res, err := d.db.ExecContext(ctx, query,
		attachment.ArticleID,
		attachment.URI,
		attachment.Title,
		attachment.MimeType,
		nullInt64(attachment.SizeInBytes),
		nullInt64(attachment.DurationSeconds),
	)
	if err != nil {
		return fmt.Errorf("insert attachment: %w", err)
	}

	attachment.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}

	return nil
}

func (d *Database) UpdateAttachment(ctx context.Context, attachment *domain.Attachment) error {
	query := `update attachments
	set title = ?, mime_type = ?, size_in_bytes = ?, duration_seconds = ?
	where id = ?`

	_, err := d.db.ExecContext(ctx, query,
		attachment.Title,
		attachment.MimeType,
		nullInt64(attachment.SizeInBytes),
		nullInt64(attachment.DurationSeconds),
		attachment.ID,
	)
	if err != nil {
		return fmt.Errorf("update attachment %d: %w", attachment.ID, err)
	}

	return nil
}

func (d *Database) DeleteAttachments(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.Repeat("?, ", len(ids)-1) + "?"
	query := fmt.Sprintf("delete from attachments where id in (%s)", placeholders)

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	if _, err := d.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete attachments: %w", err)
	}

	return nil
}
