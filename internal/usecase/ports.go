package usecase

import (
	"context"
	"time"

	"github.com/totegamma/feedingest"
	"github.com/totegamma/feedingest/internal/domain"
)

// FeedRepository defines storage operations for feeds.
type FeedRepository interface {
	Create(ctx context.Context, input domain.CreateFeedInput) (domain.Feed, error)
	List(ctx context.Context, workspaceID string) ([]domain.Feed, error)
	Get(ctx context.Context, workspaceID, feedID string) (domain.Feed, error)
	SetStatus(ctx context.Context, workspaceID, feedID string, status domain.FeedStatus) (domain.Feed, error)
	MarkUnsubscribed(ctx context.Context, workspaceID, feedID string, at time.Time) (domain.Feed, error)
	Delete(ctx context.Context, workspaceID, feedID string) error
}

// PostRepository defines deduplicated insert and status transitions for posts.
type PostRepository interface {
	InsertIfAbsent(ctx context.Context, workspaceID, feedID, url, title string, publishedAt *time.Time) (domain.InsertResult, error)
	ListPendingBatch(ctx context.Context, limit int) ([]domain.Post, error)
	MarkIngested(ctx context.Context, workspaceID, feedID, postID string) error
	ListForFeed(ctx context.Context, workspaceID, feedID string) ([]domain.Post, error)
}

// TriggerService manages named periodic triggers.
type TriggerService interface {
	Create(ctx context.Context, trigger domain.Trigger) (string, error)
	SetState(ctx context.Context, group, name string, state domain.TriggerState) error
	Delete(ctx context.Context, group, name string) error
	Get(ctx context.Context, group, name string) (domain.Trigger, error)
	List(ctx context.Context, group string) ([]domain.Trigger, error)
}

// FeedFetcher retrieves and parses a feed. Failures are *domain.FetchError.
type FeedFetcher interface {
	Fetch(ctx context.Context, url string) ([]domain.Entry, error)
}

// CrawlDispatcher hands a url to the crawler.
type CrawlDispatcher interface {
	Submit(ctx context.Context, workspaceID, url string, opts domain.CrawlOptions) (domain.CrawlResult, error)
}

// AsyncInvoker runs an invocation in the background. The returned channel
// yields at most one error and is then closed.
type AsyncInvoker interface {
	InvokeAsync(ctx context.Context, inv feedingest.Invocation) <-chan error
}
