package usecase

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/totegamma/feedingest/internal/domain"
	"github.com/totegamma/feedingest/internal/metrics"
)

type BatchResult struct {
	Listed    int `json:"listed"`
	Submitted int `json:"submitted"`
	Rejected  int `json:"rejected"`
	Failed    int `json:"failed"`
}

// DispatchUsecase hands PENDING posts to the crawler, one bounded batch per run.
type DispatchUsecase struct {
	posts     PostRepository
	crawler   CrawlDispatcher
	batchSize int
	options   domain.CrawlOptions
	limiter   *rate.Limiter
}

func NewDispatchUsecase(config domain.Config, posts PostRepository, crawler CrawlDispatcher) *DispatchUsecase {
	config = config.WithDefaults()

	limiter := rate.NewLimiter(rate.Inf, 1)
	if config.DispatchRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.DispatchRate), 1)
	}

	return &DispatchUsecase{
		posts:     posts,
		crawler:   crawler,
		batchSize: config.DispatchBatchSize,
		options: domain.CrawlOptions{
			FollowLinks: !config.DisableFollowLinks,
			LinkLimit:   config.LinkLimit,
		},
		limiter: limiter,
	}
}

// RunBatch processes every listed post even when some of them fail.
// Posts that are not accepted stay PENDING for the next run.
func (uc *DispatchUsecase) RunBatch(ctx context.Context) (BatchResult, error) {
	ctx, span := tracer.Start(ctx, "Dispatch.Usecase.RunBatch")
	defer span.End()

	var result BatchResult

	posts, err := uc.posts.ListPendingBatch(ctx, uc.batchSize)
	if err != nil {
		span.RecordError(err)
		return result, errors.Wrap(err, "list pending posts")
	}
	result.Listed = len(posts)

	for _, post := range posts {
		if err := uc.limiter.Wait(ctx); err != nil {
			slog.WarnContext(ctx, "dispatch batch interrupted",
				slog.Int("remaining", result.Listed-result.Submitted-result.Rejected-result.Failed),
				slog.String("error", err.Error()),
				slog.String("module", "dispatcher"),
			)
			return result, err
		}

		res, err := uc.crawler.Submit(ctx, post.WorkspaceID, post.URL, uc.options)
		if err != nil {
			result.Failed++
			metrics.Dispatches.WithLabelValues("failed").Inc()
			slog.ErrorContext(
				ctx, "crawl submission failed",
				slog.String("workspaceId", post.WorkspaceID),
				slog.String("postId", post.PostID),
				slog.String("url", post.URL),
				slog.String("error", err.Error()),
				slog.String("module", "dispatcher"),
			)
			continue
		}

		if !res.Accepted {
			result.Rejected++
			metrics.Dispatches.WithLabelValues("rejected").Inc()
			slog.WarnContext(
				ctx, "crawler rejected post",
				slog.String("workspaceId", post.WorkspaceID),
				slog.String("postId", post.PostID),
				slog.String("url", post.URL),
				slog.String("reason", res.Reason),
				slog.String("module", "dispatcher"),
			)
			continue
		}

		if err := uc.posts.MarkIngested(ctx, post.WorkspaceID, post.FeedID, post.PostID); err != nil {
			// the crawler has it; the post is resubmitted next run
			result.Failed++
			metrics.Dispatches.WithLabelValues("failed").Inc()
			slog.ErrorContext(
				ctx, "failed to mark post ingested",
				slog.String("workspaceId", post.WorkspaceID),
				slog.String("postId", post.PostID),
				slog.String("error", err.Error()),
				slog.String("module", "dispatcher"),
			)
			continue
		}

		result.Submitted++
		metrics.Dispatches.WithLabelValues("submitted").Inc()
	}

	slog.InfoContext(
		ctx, "dispatch batch finished",
		slog.Int("listed", result.Listed),
		slog.Int("submitted", result.Submitted),
		slog.Int("rejected", result.Rejected),
		slog.Int("failed", result.Failed),
		slog.String("module", "dispatcher"),
	)

	return result, nil
}
