package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/totegamma/feedingest"
	"github.com/totegamma/feedingest/internal/domain"
)

func newTestSubscription(config domain.Config) (*SubscriptionUsecase, *mockFeedRepo, *mockTriggers, *mockInvoker) {
	feeds := newMockFeedRepo()
	triggers := newMockTriggers()
	invoker := newMockInvoker()
	uc := NewSubscriptionUsecase(config, feeds, newMockPostRepo(), triggers, invoker)
	return uc, feeds, triggers, invoker
}

func TestSubscribeCreatesFeedTriggerAndPoll(t *testing.T) {
	uc, _, triggers, invoker := newTestSubscription(domain.Config{})

	feed, err := uc.Subscribe(context.Background(), domain.CreateFeedInput{
		WorkspaceID: "ws1",
		URL:         "https://example.com/rss.xml",
		Title:       "Example",
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	if feed.Status != domain.FeedStatusEnabled {
		t.Fatalf("expected ENABLED feed, got %s", feed.Status)
	}

	trigger, err := triggers.Get(context.Background(), "rss.ws1", feed.FeedID)
	if err != nil {
		t.Fatalf("expected trigger: %v", err)
	}
	if trigger.Schedule != "rate(1 day)" || trigger.FlexibleWindow != domain.DefaultFlexibleWindow {
		t.Fatalf("unexpected trigger schedule %q / %s", trigger.Schedule, trigger.FlexibleWindow)
	}
	if trigger.Target != feedingest.TargetPoll || trigger.State != domain.TriggerStateEnabled {
		t.Fatalf("unexpected trigger target/state %s/%s", trigger.Target, trigger.State)
	}
	var payload feedingest.PollPayload
	if err := json.Unmarshal(trigger.Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload.WorkspaceID != "ws1" || payload.FeedID != feed.FeedID {
		t.Fatalf("unexpected payload %+v", payload)
	}

	<-invoker.done
	if invoker.count() != 1 || invoker.invocations[0].Target != feedingest.TargetPoll {
		t.Fatalf("expected one immediate poll invocation")
	}
}

func TestSubscribeIgnoresImmediatePollFailure(t *testing.T) {
	uc, _, _, invoker := newTestSubscription(domain.Config{})
	invoker.err = errors.New("boom")

	if _, err := uc.Subscribe(context.Background(), domain.CreateFeedInput{WorkspaceID: "ws1", URL: "https://example.com/rss"}); err != nil {
		t.Fatalf("immediate poll failure must not fail subscribe: %v", err)
	}
	<-invoker.done
}

func TestSubscribeRejectsInvalidURL(t *testing.T) {
	uc, feeds, _, _ := newTestSubscription(domain.Config{})

	for _, u := range []string{"", "example.com/rss", "ftp://example.com/rss", "https://"} {
		_, err := uc.Subscribe(context.Background(), domain.CreateFeedInput{WorkspaceID: "ws1", URL: u})
		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("expected invalid argument for %q, got %v", u, err)
		}
	}
	if len(feeds.feeds) != 0 {
		t.Fatalf("no feed should be created")
	}
}

func TestSubscribeTriggerFailureIsPartial(t *testing.T) {
	uc, feeds, triggers, invoker := newTestSubscription(domain.Config{})
	triggers.createErr = errors.New("scheduler unavailable")

	feed, err := uc.Subscribe(context.Background(), domain.CreateFeedInput{WorkspaceID: "ws1", URL: "https://example.com/rss"})
	if !errors.Is(err, domain.ErrPartialFailure) {
		t.Fatalf("expected partial failure, got %v", err)
	}
	var partial *domain.PartialFailureError
	if !errors.As(err, &partial) || partial.Operation != "subscribe" {
		t.Fatalf("unexpected error %v", err)
	}
	if _, ok := feeds.feeds[feed.FeedID]; !ok {
		t.Fatalf("feed record should remain")
	}
	if invoker.count() != 0 {
		t.Fatalf("no poll should be requested")
	}
}

func TestSubscribeRetryWithTokenRecoversTrigger(t *testing.T) {
	uc, _, triggers, invoker := newTestSubscription(domain.Config{})
	input := domain.CreateFeedInput{WorkspaceID: "ws1", URL: "https://example.com/rss", IdempotencyToken: "tok"}

	triggers.createErr = errors.New("scheduler unavailable")
	first, err := uc.Subscribe(context.Background(), input)
	if !errors.Is(err, domain.ErrPartialFailure) {
		t.Fatalf("expected partial failure, got %v", err)
	}

	triggers.createErr = nil
	second, err := uc.Subscribe(context.Background(), input)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	<-invoker.done
	if second.FeedID != first.FeedID {
		t.Fatalf("retry created a new feed %s != %s", second.FeedID, first.FeedID)
	}
	if _, err := triggers.Get(context.Background(), "rss.ws1", first.FeedID); err != nil {
		t.Fatalf("trigger should exist after retry: %v", err)
	}

	// a third retry finds both records in place
	if _, err := uc.Subscribe(context.Background(), input); err != nil {
		t.Fatalf("second retry failed: %v", err)
	}
	<-invoker.done
}

func TestSubscribeWithoutTokenReturnsAlreadyExists(t *testing.T) {
	uc, feeds, _, _ := newTestSubscription(domain.Config{})
	feeds.createErr = domain.AlreadyExistsError{Resource: "feed", ID: "x"}

	_, err := uc.Subscribe(context.Background(), domain.CreateFeedInput{WorkspaceID: "ws1", URL: "https://example.com/rss"})
	if !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("expected already exists, got %v", err)
	}
}

func TestToggleKeepsTriggerInStep(t *testing.T) {
	uc, _, triggers, invoker := newTestSubscription(domain.Config{TriggerGroupPrefix: "feeds"})
	ctx := context.Background()

	feed, err := uc.Subscribe(ctx, domain.CreateFeedInput{WorkspaceID: "ws1", URL: "https://example.com/rss"})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	<-invoker.done

	for _, status := range []domain.FeedStatus{domain.FeedStatusDisabled, domain.FeedStatusEnabled, domain.FeedStatusDisabled} {
		updated, err := uc.Toggle(ctx, "ws1", feed.FeedID, status)
		if err != nil {
			t.Fatalf("toggle %s failed: %v", status, err)
		}
		if updated.Status != status {
			t.Fatalf("expected %s got %s", status, updated.Status)
		}
		trigger, _ := triggers.Get(ctx, "feeds.ws1", feed.FeedID)
		if trigger.State != status.TriggerState() {
			t.Fatalf("trigger state %s does not match %s", trigger.State, status)
		}
	}
}

func TestToggleFailures(t *testing.T) {
	uc, feeds, triggers, invoker := newTestSubscription(domain.Config{})
	ctx := context.Background()

	if _, err := uc.Toggle(ctx, "ws1", "missing", domain.FeedStatusDisabled); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	feed, _ := uc.Subscribe(ctx, domain.CreateFeedInput{WorkspaceID: "ws1", URL: "https://example.com/rss"})
	<-invoker.done

	if _, err := uc.Toggle(ctx, "ws1", feed.FeedID, domain.FeedStatus("PAUSED")); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}

	feeds.statusErr = errors.New("store down")
	if _, err := uc.Toggle(ctx, "ws1", feed.FeedID, domain.FeedStatusDisabled); err == nil || errors.Is(err, domain.ErrPartialFailure) {
		t.Fatalf("expected total failure, got %v", err)
	}
	trigger, _ := triggers.Get(ctx, "rss.ws1", feed.FeedID)
	if trigger.State != domain.TriggerStateEnabled {
		t.Fatalf("trigger must not change when the feed update fails")
	}

	feeds.statusErr = nil
	triggers.stateErr = errors.New("scheduler down")
	updated, err := uc.Toggle(ctx, "ws1", feed.FeedID, domain.FeedStatusDisabled)
	if !errors.Is(err, domain.ErrPartialFailure) {
		t.Fatalf("expected partial failure, got %v", err)
	}
	if updated.Status != domain.FeedStatusDisabled {
		t.Fatalf("feed update should be reported")
	}
}

func TestUnsubscribeAndPurge(t *testing.T) {
	uc, feeds, triggers, invoker := newTestSubscription(domain.Config{AllowPurge: true})
	ctx := context.Background()

	feed, _ := uc.Subscribe(ctx, domain.CreateFeedInput{WorkspaceID: "ws1", URL: "https://example.com/rss"})
	<-invoker.done

	unsubscribed, err := uc.Unsubscribe(ctx, "ws1", feed.FeedID)
	if err != nil {
		t.Fatalf("unsubscribe failed: %v", err)
	}
	if !unsubscribed.Unsubscribed() || unsubscribed.Status != domain.FeedStatusDisabled {
		t.Fatalf("expected disabled unsubscribed feed, got %+v", unsubscribed)
	}
	if _, err := triggers.Get(ctx, "rss.ws1", feed.FeedID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("trigger should be deleted")
	}

	// repeating is harmless
	if _, err := uc.Unsubscribe(ctx, "ws1", feed.FeedID); err != nil {
		t.Fatalf("second unsubscribe failed: %v", err)
	}
	if _, err := uc.Toggle(ctx, "ws1", feed.FeedID, domain.FeedStatusEnabled); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("toggle of unsubscribed feed should be refused, got %v", err)
	}

	if err := uc.Purge(ctx, "ws1", feed.FeedID); err != nil {
		t.Fatalf("purge failed: %v", err)
	}
	if _, ok := feeds.feeds[feed.FeedID]; ok {
		t.Fatalf("feed should be purged")
	}
}

func TestUnsubscribeTriggerFailureIsPartial(t *testing.T) {
	uc, _, triggers, invoker := newTestSubscription(domain.Config{})
	ctx := context.Background()

	feed, _ := uc.Subscribe(ctx, domain.CreateFeedInput{WorkspaceID: "ws1", URL: "https://example.com/rss"})
	<-invoker.done

	triggers.deleteErr = errors.New("scheduler down")
	if _, err := uc.Unsubscribe(ctx, "ws1", feed.FeedID); !errors.Is(err, domain.ErrPartialFailure) {
		t.Fatalf("expected partial failure, got %v", err)
	}
}

func TestPurgeDisabledByDefault(t *testing.T) {
	uc, feeds, _, invoker := newTestSubscription(domain.Config{})
	ctx := context.Background()

	feed, _ := uc.Subscribe(ctx, domain.CreateFeedInput{WorkspaceID: "ws1", URL: "https://example.com/rss"})
	<-invoker.done

	if err := uc.Purge(ctx, "ws1", feed.FeedID); !errors.Is(err, domain.ErrPurgeDisabled) {
		t.Fatalf("expected purge disabled, got %v", err)
	}
	if _, ok := feeds.feeds[feed.FeedID]; !ok {
		t.Fatalf("feed must remain")
	}
}

func TestAuditReportsInconsistencies(t *testing.T) {
	uc, feeds, triggers, _ := newTestSubscription(domain.Config{})
	ctx := context.Background()

	feeds.feeds["a"] = domain.Feed{WorkspaceID: "ws1", FeedID: "a", Status: domain.FeedStatusEnabled}
	feeds.feeds["b"] = domain.Feed{WorkspaceID: "ws1", FeedID: "b", Status: domain.FeedStatusDisabled}
	feeds.feeds["c"] = domain.Feed{WorkspaceID: "ws1", FeedID: "c", Status: domain.FeedStatusEnabled}
	triggers.triggers["rss.ws1/b"] = domain.Trigger{Group: "rss.ws1", Name: "b", State: domain.TriggerStateEnabled}
	triggers.triggers["rss.ws1/c"] = domain.Trigger{Group: "rss.ws1", Name: "c", State: domain.TriggerStateEnabled}
	triggers.triggers["rss.ws1/z"] = domain.Trigger{Group: "rss.ws1", Name: "z", State: domain.TriggerStateEnabled}

	found, err := uc.Audit(ctx, "ws1")
	if err != nil {
		t.Fatalf("audit failed: %v", err)
	}

	expected := []struct {
		feedID string
		kind   domain.InconsistencyKind
	}{
		{"a", domain.InconsistencyMissingTrigger},
		{"b", domain.InconsistencyStateMismatch},
		{"z", domain.InconsistencyOrphanTrigger},
	}
	if len(found) != len(expected) {
		t.Fatalf("expected %d inconsistencies, got %+v", len(expected), found)
	}
	for i, e := range expected {
		if found[i].FeedID != e.feedID || found[i].Kind != e.kind {
			t.Fatalf("inconsistency %d: expected %s/%s got %s/%s", i, e.feedID, e.kind, found[i].FeedID, found[i].Kind)
		}
	}
}

func TestListPostsRequiresFeed(t *testing.T) {
	uc, _, _, _ := newTestSubscription(domain.Config{})
	if _, err := uc.ListPosts(context.Background(), "ws1", "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
