package repository

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/totegamma/feedingest"
	"github.com/totegamma/feedingest/internal/domain"
	"github.com/totegamma/feedingest/internal/infra/kv"
	"github.com/totegamma/feedingest/internal/usecase"
)

const defaultPendingBatch = 10

type PostRepository struct {
	store kv.Store
	now   func() time.Time
}

func NewPostRepository(store kv.Store) *PostRepository {
	return &PostRepository{store: store, now: time.Now}
}

var _ usecase.PostRepository = (*PostRepository)(nil)

func itemToPost(item kv.Item) (domain.Post, error) {
	feedID, postID, err := feedingest.ParseSortKey(item.SortKey)
	if err != nil {
		return domain.Post{}, err
	}
	if postID == "" || item.ObjectType != domain.ObjectTypePost {
		return domain.Post{}, errors.Errorf("item %s/%s is not a post", item.PartitionKey, item.SortKey)
	}
	return domain.Post{
		WorkspaceID: item.PartitionKey,
		FeedID:      feedID,
		PostID:      postID,
		URL:         item.Attributes["url"],
		Title:       item.Attributes["title"],
		Status:      domain.PostStatus(item.Status),
		PublishedAt: parseOptionalTime(item.Attributes["publishedAt"]),
		CreatedAt:   parseTime(item.Attributes["createdAt"]),
		IngestedAt:  parseOptionalTime(item.Attributes["ingestedAt"]),
	}, nil
}

func itemsToPosts(items []kv.Item) ([]domain.Post, error) {
	posts := make([]domain.Post, 0, len(items))
	for _, item := range items {
		post, err := itemToPost(item)
		if err != nil {
			return nil, err
		}
		posts = append(posts, post)
	}
	return posts, nil
}

// InsertIfAbsent creates a PENDING post unless one with the same url already exists under the feed.
// An existing post is reported as Inserted=false, not as an error.
func (r *PostRepository) InsertIfAbsent(ctx context.Context, workspaceID, feedID, url, title string, publishedAt *time.Time) (domain.InsertResult, error) {
	postID := feedingest.PostID(url)

	attrs := map[string]string{
		"workspaceId": workspaceID,
		"feedId":      feedID,
		"postId":      postID,
		"url":         url,
		"title":       title,
		"createdAt":   formatTime(r.now()),
	}
	if publishedAt != nil {
		attrs["publishedAt"] = formatTime(*publishedAt)
	}

	err := r.store.Put(ctx, kv.Item{
		PartitionKey: workspaceID,
		SortKey:      feedingest.ComposePostKey(feedID, postID),
		ObjectType:   domain.ObjectTypePost,
		Status:       string(domain.PostStatusPending),
		Attributes:   attrs,
	}, kv.PutOptions{IfAbsent: true})
	if err != nil {
		if errors.Is(err, kv.ErrConditionFailed) {
			return domain.InsertResult{Inserted: false, PostID: postID}, nil
		}
		return domain.InsertResult{PostID: postID}, errors.Wrap(err, "PostRepository.InsertIfAbsent")
	}
	return domain.InsertResult{Inserted: true, PostID: postID}, nil
}

const (
	cursorPartition  = "_system"
	cursorObjectType = "cursor"
	dispatchCursor   = "cursor.dispatch"
)

// ListPendingBatch returns at most limit PENDING posts across all workspaces.
// Successive calls resume after the last post handed out and wrap around, so
// posts that are never ingested cannot hold back the rest.
func (r *PostRepository) ListPendingBatch(ctx context.Context, limit int) ([]domain.Post, error) {
	if limit <= 0 {
		limit = defaultPendingBatch
	}
	query := kv.IndexQuery{
		Index:      kv.IndexByTypeStatus,
		ObjectType: domain.ObjectTypePost,
		Status:     string(domain.PostStatusPending),
	}

	cursor, err := r.loadCursor(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "PostRepository.ListPendingBatch")
	}
	query.After = cursor

	items, err := r.store.QueryIndex(ctx, query, limit)
	if err != nil {
		return nil, errors.Wrap(err, "PostRepository.ListPendingBatch")
	}
	if len(items) > limit {
		items = items[:limit]
	}

	if cursor != nil && len(items) < limit {
		seen := make(map[kv.Cursor]bool, len(items))
		for _, item := range items {
			seen[kv.Cursor{PartitionKey: item.PartitionKey, SortKey: item.SortKey}] = true
		}
		query.After = nil
		head, err := r.store.QueryIndex(ctx, query, limit-len(items))
		if err != nil {
			return nil, errors.Wrap(err, "PostRepository.ListPendingBatch")
		}
		for _, item := range head {
			if len(items) >= limit || seen[kv.Cursor{PartitionKey: item.PartitionKey, SortKey: item.SortKey}] {
				break
			}
			items = append(items, item)
		}
	}

	if len(items) > 0 {
		last := items[len(items)-1]
		if err := r.saveCursor(ctx, kv.Cursor{PartitionKey: last.PartitionKey, SortKey: last.SortKey}); err != nil {
			slog.WarnContext(ctx, "failed to save dispatch cursor", slog.String("error", err.Error()), slog.String("module", "repository"))
		}
	}
	return itemsToPosts(items)
}

func (r *PostRepository) loadCursor(ctx context.Context) (*kv.Cursor, error) {
	item, err := r.store.Get(ctx, cursorPartition, dispatchCursor)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &kv.Cursor{PartitionKey: item.Attributes["pk"], SortKey: item.Attributes["sk"]}, nil
}

func (r *PostRepository) saveCursor(ctx context.Context, cursor kv.Cursor) error {
	return r.store.Put(ctx, kv.Item{
		PartitionKey: cursorPartition,
		SortKey:      dispatchCursor,
		ObjectType:   cursorObjectType,
		Attributes:   map[string]string{"pk": cursor.PartitionKey, "sk": cursor.SortKey},
	}, kv.PutOptions{})
}

// MarkIngested moves a post from PENDING to INGESTED. Already ingested posts are left alone.
func (r *PostRepository) MarkIngested(ctx context.Context, workspaceID, feedID, postID string) error {
	_, err := r.store.Update(ctx, workspaceID, feedingest.ComposePostKey(feedID, postID),
		kv.Mutation{
			Status:     string(domain.PostStatusIngested),
			Attributes: map[string]string{"ingestedAt": formatTime(r.now())},
		},
		kv.Condition{StatusEquals: string(domain.PostStatusPending)},
	)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, kv.ErrConditionFailed):
		return nil
	case errors.Is(err, kv.ErrNotFound):
		return domain.NotFoundError{Resource: "post"}
	default:
		return errors.Wrap(err, "PostRepository.MarkIngested")
	}
}

func (r *PostRepository) ListForFeed(ctx context.Context, workspaceID, feedID string) ([]domain.Post, error) {
	items, err := r.store.QueryPrefix(ctx, workspaceID, feedingest.PostKeyPrefix(feedID), 0)
	if err != nil {
		return nil, errors.Wrap(err, "PostRepository.ListForFeed")
	}
	return itemsToPosts(items)
}
