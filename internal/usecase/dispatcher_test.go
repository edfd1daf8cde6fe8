package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/totegamma/feedingest/internal/domain"
)

func seedPending(t *testing.T, posts *mockPostRepo, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		url := fmt.Sprintf("https://example.com/%02d", i)
		if _, err := posts.InsertIfAbsent(context.Background(), "ws1", "f1", url, "", nil); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func TestRunBatchIsBounded(t *testing.T) {
	posts := newMockPostRepo()
	seedPending(t, posts, 25)
	crawler := &mockCrawler{}

	uc := NewDispatchUsecase(domain.Config{}, posts, crawler)
	result, err := uc.RunBatch(context.Background())
	if err != nil {
		t.Fatalf("run batch failed: %v", err)
	}
	if result.Listed != 10 || result.Submitted != 10 {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(crawler.urls) != 10 {
		t.Fatalf("expected 10 submissions, got %d", len(crawler.urls))
	}
	if !crawler.opts.FollowLinks || crawler.opts.LinkLimit != 30 {
		t.Fatalf("unexpected crawl options %+v", crawler.opts)
	}

	pending, _ := posts.ListPendingBatch(context.Background(), 100)
	if len(pending) != 15 {
		t.Fatalf("expected 15 pending posts, got %d", len(pending))
	}
}

func TestRunBatchIsolatesFailures(t *testing.T) {
	posts := newMockPostRepo()
	seedPending(t, posts, 3)
	crawler := &mockCrawler{
		reject: map[string]bool{"https://example.com/00": true},
		fail:   map[string]error{"https://example.com/01": errors.New("connection reset")},
	}

	uc := NewDispatchUsecase(domain.Config{}, posts, crawler)
	result, err := uc.RunBatch(context.Background())
	if err != nil {
		t.Fatalf("run batch failed: %v", err)
	}
	if result.Listed != 3 || result.Submitted != 1 || result.Rejected != 1 || result.Failed != 1 {
		t.Fatalf("unexpected result %+v", result)
	}

	pending, _ := posts.ListPendingBatch(context.Background(), 10)
	if len(pending) != 2 {
		t.Fatalf("rejected and failed posts must stay PENDING, got %d", len(pending))
	}
}

func TestRunBatchMarkFailureLeavesPostPending(t *testing.T) {
	posts := newMockPostRepo()
	seedPending(t, posts, 2)
	posts.markErr = errors.New("store down")

	result, err := NewDispatchUsecase(domain.Config{}, posts, &mockCrawler{}).RunBatch(context.Background())
	if err != nil {
		t.Fatalf("run batch failed: %v", err)
	}
	if result.Failed != 2 || result.Submitted != 0 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestRunBatchStopsOnCancel(t *testing.T) {
	posts := newMockPostRepo()
	seedPending(t, posts, 3)
	crawler := &mockCrawler{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	uc := NewDispatchUsecase(domain.Config{DispatchRate: 1}, posts, crawler)
	if _, err := uc.RunBatch(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	if len(crawler.urls) != 0 {
		t.Fatalf("nothing should be submitted after cancel")
	}
}

func TestRunBatchEmpty(t *testing.T) {
	result, err := NewDispatchUsecase(domain.Config{}, newMockPostRepo(), &mockCrawler{}).RunBatch(context.Background())
	if err != nil {
		t.Fatalf("run batch failed: %v", err)
	}
	if result != (BatchResult{}) {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestRunBatchFollowsLinksByDefault(t *testing.T) {
	posts := newMockPostRepo()
	seedPending(t, posts, 1)

	crawler := &mockCrawler{}
	if _, err := NewDispatchUsecase(domain.Config{}, posts, crawler).RunBatch(context.Background()); err != nil {
		t.Fatalf("run batch failed: %v", err)
	}
	if !crawler.opts.FollowLinks {
		t.Fatalf("expected links to be followed, got %+v", crawler.opts)
	}

	if _, err := posts.InsertIfAbsent(context.Background(), "ws1", "f1", "https://example.com/other", "", nil); err != nil {
		t.Fatalf("seed: %v", err)
	}
	crawler = &mockCrawler{}
	if _, err := NewDispatchUsecase(domain.Config{DisableFollowLinks: true}, posts, crawler).RunBatch(context.Background()); err != nil {
		t.Fatalf("run batch failed: %v", err)
	}
	if len(crawler.urls) != 1 || crawler.opts.FollowLinks {
		t.Fatalf("expected links not to be followed, got %+v", crawler.opts)
	}
}
