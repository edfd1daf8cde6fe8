package usecase

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/totegamma/feedingest/internal/domain"
	"github.com/totegamma/feedingest/internal/metrics"
)

type PollResult struct {
	Fetched    int `json:"fetched"`
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
	Skipped    int `json:"skipped"`
}

// PollerUsecase fetches one feed and records its unseen entries as PENDING posts.
type PollerUsecase struct {
	feeds   FeedRepository
	posts   PostRepository
	fetcher FeedFetcher
}

func NewPollerUsecase(feeds FeedRepository, posts PostRepository, fetcher FeedFetcher) *PollerUsecase {
	return &PollerUsecase{
		feeds:   feeds,
		posts:   posts,
		fetcher: fetcher,
	}
}

func isAbsoluteHTTP(link string) bool {
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Poll is safe to run concurrently for the same feed; duplicates are absorbed by
// the post repository's conditional insert.
func (uc *PollerUsecase) Poll(ctx context.Context, workspaceID, feedID string) (PollResult, error) {
	ctx, span := tracer.Start(ctx, "Poller.Usecase.Poll")
	defer span.End()
	span.SetAttributes(attribute.String("workspaceId", workspaceID), attribute.String("feedId", feedID))

	var result PollResult

	feed, err := uc.feeds.Get(ctx, workspaceID, feedID)
	if err != nil {
		span.RecordError(err)
		metrics.Polls.WithLabelValues("error").Inc()
		slog.ErrorContext(
			ctx, "failed to load feed for polling",
			slog.String("workspaceId", workspaceID),
			slog.String("feedId", feedID),
			slog.String("error", err.Error()),
			slog.String("module", "poller"),
		)
		return result, err
	}

	if feed.Status != domain.FeedStatusEnabled || feed.Unsubscribed() {
		metrics.Polls.WithLabelValues("inactive").Inc()
		slog.InfoContext(
			ctx, "feed is not active, skipping poll",
			slog.String("workspaceId", workspaceID),
			slog.String("feedId", feedID),
			slog.String("status", string(feed.Status)),
			slog.String("module", "poller"),
		)
		return result, nil
	}

	entries, err := uc.fetcher.Fetch(ctx, feed.URL)
	if err != nil {
		span.RecordError(err)
		metrics.Polls.WithLabelValues("fetch_error").Inc()
		slog.ErrorContext(
			ctx, "failed to fetch feed",
			slog.String("workspaceId", workspaceID),
			slog.String("feedId", feedID),
			slog.String("url", feed.URL),
			slog.String("error", err.Error()),
			slog.String("module", "poller"),
		)
		return result, err
	}
	result.Fetched = len(entries)

	for _, entry := range entries {
		link := strings.TrimSpace(entry.Link)
		if !isAbsoluteHTTP(link) {
			result.Skipped++
			metrics.Posts.WithLabelValues("skipped").Inc()
			slog.WarnContext(
				ctx, "feed entry has no usable link",
				slog.String("feedId", feedID),
				slog.String("link", entry.Link),
				slog.String("module", "poller"),
			)
			continue
		}

		res, err := uc.posts.InsertIfAbsent(ctx, workspaceID, feedID, link, strings.TrimSpace(entry.Title), entry.PublishedAt)
		if err != nil {
			result.Skipped++
			metrics.Posts.WithLabelValues("skipped").Inc()
			slog.ErrorContext(
				ctx, "failed to insert post",
				slog.String("feedId", feedID),
				slog.String("url", link),
				slog.String("error", err.Error()),
				slog.String("module", "poller"),
			)
			continue
		}

		if res.Inserted {
			result.Inserted++
			metrics.Posts.WithLabelValues("inserted").Inc()
		} else {
			result.Duplicates++
			metrics.Posts.WithLabelValues("duplicate").Inc()
		}
	}

	metrics.Polls.WithLabelValues("ok").Inc()
	slog.InfoContext(
		ctx, "feed polled",
		slog.String("workspaceId", workspaceID),
		slog.String("feedId", feedID),
		slog.Int("fetched", result.Fetched),
		slog.Int("inserted", result.Inserted),
		slog.Int("duplicates", result.Duplicates),
		slog.Int("skipped", result.Skipped),
		slog.String("module", "poller"),
	)

	return result, nil
}
