package usecase

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"sort"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/totegamma/feedingest"
	"github.com/totegamma/feedingest/internal/domain"
	"github.com/totegamma/feedingest/internal/metrics"
)

var tracer = otel.Tracer("usecase")

// SubscriptionUsecase drives the feed lifecycle: subscribe, enable/disable, unsubscribe.
// Each transition writes the feed record first and the trigger second.
type SubscriptionUsecase struct {
	config   domain.Config
	feeds    FeedRepository
	posts    PostRepository
	triggers TriggerService
	invoker  AsyncInvoker
	now      func() time.Time
}

func NewSubscriptionUsecase(
	config domain.Config,
	feeds FeedRepository,
	posts PostRepository,
	triggers TriggerService,
	invoker AsyncInvoker,
) *SubscriptionUsecase {
	return &SubscriptionUsecase{
		config:   config.WithDefaults(),
		feeds:    feeds,
		posts:    posts,
		triggers: triggers,
		invoker:  invoker,
		now:      time.Now,
	}
}

func validateFeedURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.Wrapf(domain.ErrInvalidArgument, "feed url %q", raw)
	}
	return nil
}

func (uc *SubscriptionUsecase) pollTrigger(feed domain.Feed) (domain.Trigger, error) {
	payload, err := json.Marshal(feedingest.PollPayload{WorkspaceID: feed.WorkspaceID, FeedID: feed.FeedID})
	if err != nil {
		return domain.Trigger{}, err
	}
	return domain.Trigger{
		Name:           feed.FeedID,
		Group:          uc.config.TriggerGroup(feed.WorkspaceID),
		Schedule:       uc.config.PollSchedule,
		Target:         feedingest.TargetPoll,
		Payload:        payload,
		FlexibleWindow: uc.config.FlexibleWindow,
		State:          feed.Status.TriggerState(),
	}, nil
}

// Subscribe creates the feed, its periodic poll trigger, and requests one immediate poll.
// A feed left without a trigger is reported as *domain.PartialFailureError.
func (uc *SubscriptionUsecase) Subscribe(ctx context.Context, input domain.CreateFeedInput) (domain.Feed, error) {
	ctx, span := tracer.Start(ctx, "Subscription.Usecase.Subscribe")
	defer span.End()

	if input.WorkspaceID == "" {
		return domain.Feed{}, errors.Wrap(domain.ErrInvalidArgument, "workspace id is required")
	}
	if err := validateFeedURL(input.URL); err != nil {
		return domain.Feed{}, err
	}

	retried := false
	feed, err := uc.feeds.Create(ctx, input)
	if err != nil {
		var exists domain.AlreadyExistsError
		if input.IdempotencyToken == "" || !errors.As(err, &exists) {
			span.RecordError(err)
			return domain.Feed{}, err
		}
		// same idempotency token: resume the earlier request
		feed, err = uc.feeds.Get(ctx, input.WorkspaceID, exists.ID)
		if err != nil {
			span.RecordError(err)
			return domain.Feed{}, err
		}
		retried = true
	}
	span.SetAttributes(attribute.String("feedId", feed.FeedID), attribute.Bool("retried", retried))

	trigger, err := uc.pollTrigger(feed)
	if err == nil {
		_, err = uc.triggers.Create(ctx, trigger)
	}
	if err != nil && !(retried && errors.Is(err, domain.ErrAlreadyExists)) {
		span.RecordError(err)
		metrics.PartialFailures.WithLabelValues("subscribe").Inc()
		slog.ErrorContext(
			ctx, "feed created without trigger",
			slog.String("workspaceId", feed.WorkspaceID),
			slog.String("feedId", feed.FeedID),
			slog.String("error", err.Error()),
			slog.String("module", "subscription"),
		)
		return feed, &domain.PartialFailureError{
			Operation: "subscribe",
			Completed: "feed record",
			Failed:    "trigger creation",
			Err:       err,
		}
	}

	uc.pollNow(ctx, feed)

	return feed, nil
}

// pollNow asks for one poll in the background. Its outcome never reaches the caller.
func (uc *SubscriptionUsecase) pollNow(ctx context.Context, feed domain.Feed) {
	if uc.invoker == nil || feed.Status != domain.FeedStatusEnabled {
		return
	}

	inv, err := feedingest.NewInvocation(feedingest.TargetPoll, feedingest.PollPayload{
		WorkspaceID: feed.WorkspaceID,
		FeedID:      feed.FeedID,
	})
	if err != nil {
		slog.WarnContext(ctx, "failed to build poll invocation", slog.String("error", err.Error()), slog.String("module", "subscription"))
		return
	}

	bg := context.WithoutCancel(ctx)
	errc := uc.invoker.InvokeAsync(bg, inv)
	go func() {
		if err := <-errc; err != nil {
			slog.WarnContext(
				bg, "immediate poll failed",
				slog.String("workspaceId", feed.WorkspaceID),
				slog.String("feedId", feed.FeedID),
				slog.String("error", err.Error()),
				slog.String("module", "subscription"),
			)
		}
	}()
}

// Toggle sets the feed status and then the state of its trigger.
func (uc *SubscriptionUsecase) Toggle(ctx context.Context, workspaceID, feedID string, desired domain.FeedStatus) (domain.Feed, error) {
	ctx, span := tracer.Start(ctx, "Subscription.Usecase.Toggle")
	defer span.End()
	span.SetAttributes(attribute.String("feedId", feedID), attribute.String("status", string(desired)))

	if !desired.Valid() {
		return domain.Feed{}, errors.Wrapf(domain.ErrInvalidArgument, "feed status %q", desired)
	}

	current, err := uc.feeds.Get(ctx, workspaceID, feedID)
	if err != nil {
		span.RecordError(err)
		return domain.Feed{}, err
	}
	if current.Unsubscribed() {
		return domain.Feed{}, errors.Wrap(domain.ErrInvalidArgument, "feed is unsubscribed")
	}

	feed, err := uc.feeds.SetStatus(ctx, workspaceID, feedID, desired)
	if err != nil {
		span.RecordError(err)
		return domain.Feed{}, err
	}

	err = uc.triggers.SetState(ctx, uc.config.TriggerGroup(workspaceID), feedID, desired.TriggerState())
	if err != nil {
		span.RecordError(err)
		metrics.PartialFailures.WithLabelValues("toggle").Inc()
		slog.ErrorContext(
			ctx, "feed status updated but trigger state was not",
			slog.String("workspaceId", workspaceID),
			slog.String("feedId", feedID),
			slog.String("status", string(desired)),
			slog.String("error", err.Error()),
			slog.String("module", "subscription"),
		)
		return feed, &domain.PartialFailureError{
			Operation: "toggle",
			Completed: "feed status",
			Failed:    "trigger state",
			Err:       err,
		}
	}

	slog.InfoContext(ctx, "feed toggled",
		slog.String("workspaceId", workspaceID),
		slog.String("feedId", feedID),
		slog.String("status", string(desired)),
		slog.String("module", "subscription"),
	)
	return feed, nil
}

// Unsubscribe disables the feed, marks it unsubscribed and deletes its trigger.
// Feed and post records are kept.
func (uc *SubscriptionUsecase) Unsubscribe(ctx context.Context, workspaceID, feedID string) (domain.Feed, error) {
	ctx, span := tracer.Start(ctx, "Subscription.Usecase.Unsubscribe")
	defer span.End()

	feed, err := uc.feeds.MarkUnsubscribed(ctx, workspaceID, feedID, uc.now())
	if err != nil {
		span.RecordError(err)
		return domain.Feed{}, err
	}

	err = uc.triggers.Delete(ctx, uc.config.TriggerGroup(workspaceID), feedID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		span.RecordError(err)
		metrics.PartialFailures.WithLabelValues("unsubscribe").Inc()
		slog.ErrorContext(
			ctx, "feed unsubscribed but trigger was not deleted",
			slog.String("workspaceId", workspaceID),
			slog.String("feedId", feedID),
			slog.String("error", err.Error()),
			slog.String("module", "subscription"),
		)
		return feed, &domain.PartialFailureError{
			Operation: "unsubscribe",
			Completed: "feed disabled",
			Failed:    "trigger deletion",
			Err:       err,
		}
	}

	return feed, nil
}

// Purge hard-deletes a feed and its posts. It unsubscribes first when needed and
// is refused unless purging is enabled in the configuration.
func (uc *SubscriptionUsecase) Purge(ctx context.Context, workspaceID, feedID string) error {
	ctx, span := tracer.Start(ctx, "Subscription.Usecase.Purge")
	defer span.End()

	if !uc.config.AllowPurge {
		return domain.ErrPurgeDisabled
	}

	feed, err := uc.feeds.Get(ctx, workspaceID, feedID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if !feed.Unsubscribed() {
		if _, err := uc.Unsubscribe(ctx, workspaceID, feedID); err != nil {
			return err
		}
	}

	if err := uc.feeds.Delete(ctx, workspaceID, feedID); err != nil {
		span.RecordError(err)
		return err
	}

	slog.InfoContext(ctx, "feed purged",
		slog.String("workspaceId", workspaceID),
		slog.String("feedId", feedID),
		slog.String("module", "subscription"),
	)
	return nil
}

func (uc *SubscriptionUsecase) List(ctx context.Context, workspaceID string) ([]domain.Feed, error) {
	ctx, span := tracer.Start(ctx, "Subscription.Usecase.List")
	defer span.End()
	return uc.feeds.List(ctx, workspaceID)
}

func (uc *SubscriptionUsecase) Get(ctx context.Context, workspaceID, feedID string) (domain.Feed, error) {
	ctx, span := tracer.Start(ctx, "Subscription.Usecase.Get")
	defer span.End()
	return uc.feeds.Get(ctx, workspaceID, feedID)
}

// ListPosts returns the posts of an existing feed.
func (uc *SubscriptionUsecase) ListPosts(ctx context.Context, workspaceID, feedID string) ([]domain.Post, error) {
	ctx, span := tracer.Start(ctx, "Subscription.Usecase.ListPosts")
	defer span.End()

	if _, err := uc.feeds.Get(ctx, workspaceID, feedID); err != nil {
		return nil, err
	}
	return uc.posts.ListForFeed(ctx, workspaceID, feedID)
}

// Audit compares the workspace's feed records with its trigger listing.
// It only reports; nothing is repaired.
func (uc *SubscriptionUsecase) Audit(ctx context.Context, workspaceID string) ([]domain.Inconsistency, error) {
	ctx, span := tracer.Start(ctx, "Subscription.Usecase.Audit")
	defer span.End()

	feeds, err := uc.feeds.List(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	triggers, err := uc.triggers.List(ctx, uc.config.TriggerGroup(workspaceID))
	if err != nil {
		return nil, err
	}

	byName := make(map[string]domain.Trigger, len(triggers))
	for _, t := range triggers {
		byName[t.Name] = t
	}

	found := []domain.Inconsistency{}
	for _, feed := range feeds {
		t, ok := byName[feed.FeedID]
		delete(byName, feed.FeedID)

		switch {
		case feed.Unsubscribed():
			if ok {
				found = append(found, domain.Inconsistency{
					Kind:         domain.InconsistencyOrphanTrigger,
					WorkspaceID:  workspaceID,
					FeedID:       feed.FeedID,
					FeedStatus:   feed.Status,
					TriggerState: t.State,
				})
			}
		case !ok:
			found = append(found, domain.Inconsistency{
				Kind:        domain.InconsistencyMissingTrigger,
				WorkspaceID: workspaceID,
				FeedID:      feed.FeedID,
				FeedStatus:  feed.Status,
			})
		case t.State != feed.Status.TriggerState():
			found = append(found, domain.Inconsistency{
				Kind:         domain.InconsistencyStateMismatch,
				WorkspaceID:  workspaceID,
				FeedID:       feed.FeedID,
				FeedStatus:   feed.Status,
				TriggerState: t.State,
			})
		}
	}

	for name, t := range byName {
		found = append(found, domain.Inconsistency{
			Kind:         domain.InconsistencyOrphanTrigger,
			WorkspaceID:  workspaceID,
			FeedID:       name,
			TriggerState: t.State,
		})
	}

	sort.Slice(found, func(i, j int) bool {
		if found[i].FeedID != found[j].FeedID {
			return found[i].FeedID < found[j].FeedID
		}
		return found[i].Kind < found[j].Kind
	})

	if len(found) > 0 {
		slog.WarnContext(ctx, "subscription inconsistencies detected",
			slog.String("workspaceId", workspaceID),
			slog.Int("count", len(found)),
			slog.String("module", "subscription"),
		)
	}
	return found, nil
}
