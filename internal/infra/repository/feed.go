package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/totegamma/feedingest"
	"github.com/totegamma/feedingest/internal/domain"
	"github.com/totegamma/feedingest/internal/infra/kv"
	"github.com/totegamma/feedingest/internal/usecase"
)

// feedNamespace scopes feed ids derived from client idempotency tokens.
var feedNamespace = uuid.MustParse("53a1ef59-0237-4c73-811c-9f9aee7d42fb")

type FeedRepository struct {
	store kv.Store
	now   func() time.Time
}

func NewFeedRepository(store kv.Store) *FeedRepository {
	return &FeedRepository{store: store, now: time.Now}
}

var _ usecase.FeedRepository = (*FeedRepository)(nil)

func feedToItem(f domain.Feed) kv.Item {
	attrs := map[string]string{
		"workspaceId": f.WorkspaceID,
		"feedId":      f.FeedID,
		"url":         f.URL,
		"title":       f.Title,
		"createdAt":   formatTime(f.CreatedAt),
		"updatedAt":   formatTime(f.UpdatedAt),
	}
	if f.UnsubscribedAt != nil {
		attrs["unsubscribedAt"] = formatTime(*f.UnsubscribedAt)
	}
	return kv.Item{
		PartitionKey: f.WorkspaceID,
		SortKey:      feedingest.ComposeFeedKey(f.FeedID),
		ObjectType:   domain.ObjectTypeFeed,
		Status:       string(f.Status),
		Attributes:   attrs,
	}
}

func itemToFeed(item kv.Item) (domain.Feed, error) {
	feedID, postID, err := feedingest.ParseSortKey(item.SortKey)
	if err != nil {
		return domain.Feed{}, err
	}
	if postID != "" || item.ObjectType != domain.ObjectTypeFeed {
		return domain.Feed{}, errors.Errorf("item %s/%s is not a feed", item.PartitionKey, item.SortKey)
	}
	return domain.Feed{
		WorkspaceID:    item.PartitionKey,
		FeedID:         feedID,
		URL:            item.Attributes["url"],
		Title:          item.Attributes["title"],
		Status:         domain.FeedStatus(item.Status),
		CreatedAt:      parseTime(item.Attributes["createdAt"]),
		UpdatedAt:      parseTime(item.Attributes["updatedAt"]),
		UnsubscribedAt: parseOptionalTime(item.Attributes["unsubscribedAt"]),
	}, nil
}

// Create writes a new ENABLED feed. Without an idempotency token every call creates a new feed.
func (r *FeedRepository) Create(ctx context.Context, input domain.CreateFeedInput) (domain.Feed, error) {
	feedID := uuid.NewString()
	if input.IdempotencyToken != "" {
		feedID = uuid.NewSHA1(feedNamespace, []byte(input.WorkspaceID+"/"+input.IdempotencyToken)).String()
	}

	now := r.now()
	feed := domain.Feed{
		WorkspaceID: input.WorkspaceID,
		FeedID:      feedID,
		URL:         input.URL,
		Title:       input.Title,
		Status:      domain.FeedStatusEnabled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := r.store.Put(ctx, feedToItem(feed), kv.PutOptions{IfAbsent: true})
	if err != nil {
		if errors.Is(err, kv.ErrConditionFailed) {
			return domain.Feed{}, domain.AlreadyExistsError{Resource: "feed", ID: feedID}
		}
		return domain.Feed{}, errors.Wrap(err, "FeedRepository.Create")
	}
	return feed, nil
}

func (r *FeedRepository) List(ctx context.Context, workspaceID string) ([]domain.Feed, error) {
	items, err := r.store.QueryIndex(ctx, kv.IndexQuery{
		Index:        kv.IndexByWorkspaceType,
		PartitionKey: workspaceID,
		ObjectType:   domain.ObjectTypeFeed,
	}, 0)
	if err != nil {
		return nil, errors.Wrap(err, "FeedRepository.List")
	}

	feeds := make([]domain.Feed, 0, len(items))
	for _, item := range items {
		feed, err := itemToFeed(item)
		if err != nil {
			return nil, err
		}
		feeds = append(feeds, feed)
	}
	return feeds, nil
}

func (r *FeedRepository) Get(ctx context.Context, workspaceID, feedID string) (domain.Feed, error) {
	item, err := r.store.Get(ctx, workspaceID, feedingest.ComposeFeedKey(feedID))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return domain.Feed{}, domain.NotFoundError{Resource: "feed"}
		}
		return domain.Feed{}, errors.Wrap(err, "FeedRepository.Get")
	}
	return itemToFeed(item)
}

func (r *FeedRepository) update(ctx context.Context, workspaceID, feedID string, m kv.Mutation) (domain.Feed, error) {
	if m.Attributes == nil {
		m.Attributes = map[string]string{}
	}
	m.Attributes["updatedAt"] = formatTime(r.now())

	item, err := r.store.Update(ctx, workspaceID, feedingest.ComposeFeedKey(feedID), m, kv.Condition{})
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return domain.Feed{}, domain.NotFoundError{Resource: "feed"}
		}
		return domain.Feed{}, errors.Wrap(err, "FeedRepository.update")
	}
	return itemToFeed(item)
}

// SetStatus updates the status of an existing feed.
func (r *FeedRepository) SetStatus(ctx context.Context, workspaceID, feedID string, status domain.FeedStatus) (domain.Feed, error) {
	if !status.Valid() {
		return domain.Feed{}, errors.Wrapf(domain.ErrInvalidArgument, "feed status %q", status)
	}
	return r.update(ctx, workspaceID, feedID, kv.Mutation{Status: string(status)})
}

// MarkUnsubscribed disables the feed and records when it was unsubscribed.
func (r *FeedRepository) MarkUnsubscribed(ctx context.Context, workspaceID, feedID string, at time.Time) (domain.Feed, error) {
	return r.update(ctx, workspaceID, feedID, kv.Mutation{
		Status:     string(domain.FeedStatusDisabled),
		Attributes: map[string]string{"unsubscribedAt": formatTime(at)},
	})
}

// Delete removes the feed record and every post under it.
func (r *FeedRepository) Delete(ctx context.Context, workspaceID, feedID string) error {
	posts, err := r.store.QueryPrefix(ctx, workspaceID, feedingest.PostKeyPrefix(feedID), 0)
	if err != nil {
		return errors.Wrap(err, "FeedRepository.Delete")
	}
	for _, post := range posts {
		if err := r.store.Delete(ctx, post.PartitionKey, post.SortKey); err != nil {
			return errors.Wrap(err, "FeedRepository.Delete")
		}
	}
	if err := r.store.Delete(ctx, workspaceID, feedingest.ComposeFeedKey(feedID)); err != nil {
		return errors.Wrap(err, "FeedRepository.Delete")
	}
	return nil
}
