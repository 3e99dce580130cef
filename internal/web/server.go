// Package web exposes the read path over HTTP: sanitized article HTML,
// mirrored image blobs and a submission endpoint that queues feed creation.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"feedsmith/internal/domain"
	"feedsmith/internal/reader"
	syncer "feedsmith/internal/sync"
)

// Jobs is the slice of the scheduler the HTTP layer enqueues into.
type Jobs interface {
	ScheduleCreateFeed(userID int64, uri string)
	ScheduleSync(feedID int64)
}

type Server struct {
	echo     *echo.Echo
	articles *reader.Service
	jobs     Jobs
	blobDir  string
	log      *slog.Logger
}

func NewServer(articles *reader.Service, jobs Jobs, blobDir string, log *slog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus: true,
		LogURI:    true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.InfoContext(c.Request().Context(), "Handled request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status)

			return nil
		},
	}))

	s := &Server{
		echo:     e,
		articles: articles,
		jobs:     jobs,
		blobDir:  blobDir,
		log:      log,
	}

	e.GET("/health", s.handleHealth)
	e.GET("/articles/:id", s.handleArticle)
	e.POST("/feeds", s.handleCreateFeeds)
	e.POST("/feeds/:id/sync", s.handleSyncFeed)
	e.Static("/images", blobDir)

	return s
}

func (s *Server) Start(address string) error {
	return s.echo.Start(address)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleArticle(c echo.Context) error {
	var articleID int64
	if err := echo.PathParamsBinder(c).Int64("id", &articleID).BindError(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid article id")
	}

	html, err := s.articles.ArticleHTML(c.Request().Context(), articleID)
	if err != nil {
		if errors.Is(err, domain.ErrArticleNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "article not found")
		}

		s.log.ErrorContext(c.Request().Context(), "Failed to render article",
			"error", err,
			"articleID", articleID)

		return echo.NewHTTPError(http.StatusInternalServerError, "failed to render article")
	}

	return c.HTML(http.StatusOK, html)
}

type createFeedsRequest struct {
	UserID int64  `json:"user_id"`
	Text   string `json:"text"`
}

type createFeedsResponse struct {
	URIs []string `json:"uris"`
}

// handleCreateFeeds accepts free text, extracts candidate feed URLs and
// queues a creation job per URL. Results arrive asynchronously through the
// notifier, so the response only echoes what was queued.
func (s *Server) handleCreateFeeds(c echo.Context) error {
	var req createFeedsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	uris, err := syncer.FindFeedURIs(req.Text)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to scan text")
	}
	if len(uris) == 0 {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "no https URLs found in text")
	}

	for _, uri := range uris {
		s.jobs.ScheduleCreateFeed(req.UserID, uri)
	}

	return c.JSON(http.StatusAccepted, createFeedsResponse{URIs: uris})
}

func (s *Server) handleSyncFeed(c echo.Context) error {
	var feedID int64
	if err := echo.PathParamsBinder(c).Int64("id", &feedID).BindError(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid feed id")
	}

	s.jobs.ScheduleSync(feedID)

	return c.NoContent(http.StatusAccepted)
}
