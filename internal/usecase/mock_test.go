package usecase

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/totegamma/feedingest"
	"github.com/totegamma/feedingest/internal/domain"
)

type mockFeedRepo struct {
	mu        sync.Mutex
	feeds     map[string]domain.Feed
	nextID    int
	createErr error
	statusErr error
}

func newMockFeedRepo() *mockFeedRepo {
	return &mockFeedRepo{feeds: map[string]domain.Feed{}}
}

func (m *mockFeedRepo) Create(ctx context.Context, input domain.CreateFeedInput) (domain.Feed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return domain.Feed{}, m.createErr
	}
	id := input.IdempotencyToken
	if id == "" {
		m.nextID++
		id = "feed-" + string(rune('a'+m.nextID-1))
	}
	if _, ok := m.feeds[id]; ok {
		return domain.Feed{}, domain.AlreadyExistsError{Resource: "feed", ID: id}
	}
	f := domain.Feed{
		WorkspaceID: input.WorkspaceID,
		FeedID:      id,
		URL:         input.URL,
		Title:       input.Title,
		Status:      domain.FeedStatusEnabled,
	}
	m.feeds[id] = f
	return f, nil
}

func (m *mockFeedRepo) List(ctx context.Context, workspaceID string) ([]domain.Feed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.Feed{}
	for _, f := range m.feeds {
		if f.WorkspaceID == workspaceID {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FeedID < out[j].FeedID })
	return out, nil
}

func (m *mockFeedRepo) Get(ctx context.Context, workspaceID, feedID string) (domain.Feed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.feeds[feedID]
	if !ok || f.WorkspaceID != workspaceID {
		return domain.Feed{}, domain.NotFoundError{Resource: "feed"}
	}
	return f, nil
}

func (m *mockFeedRepo) SetStatus(ctx context.Context, workspaceID, feedID string, status domain.FeedStatus) (domain.Feed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.statusErr != nil {
		return domain.Feed{}, m.statusErr
	}
	f, ok := m.feeds[feedID]
	if !ok {
		return domain.Feed{}, domain.NotFoundError{Resource: "feed"}
	}
	f.Status = status
	m.feeds[feedID] = f
	return f, nil
}

func (m *mockFeedRepo) MarkUnsubscribed(ctx context.Context, workspaceID, feedID string, at time.Time) (domain.Feed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.feeds[feedID]
	if !ok {
		return domain.Feed{}, domain.NotFoundError{Resource: "feed"}
	}
	f.Status = domain.FeedStatusDisabled
	f.UnsubscribedAt = &at
	m.feeds[feedID] = f
	return f, nil
}

func (m *mockFeedRepo) Delete(ctx context.Context, workspaceID, feedID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.feeds, feedID)
	return nil
}

type mockPostRepo struct {
	mu        sync.Mutex
	posts     map[string]domain.Post
	insertErr map[string]error
	markErr   error
	marked    []string
}

func newMockPostRepo() *mockPostRepo {
	return &mockPostRepo{posts: map[string]domain.Post{}, insertErr: map[string]error{}}
}

func (m *mockPostRepo) InsertIfAbsent(ctx context.Context, workspaceID, feedID, url, title string, publishedAt *time.Time) (domain.InsertResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.insertErr[url]; err != nil {
		return domain.InsertResult{}, err
	}
	id := feedingest.PostID(url)
	if _, ok := m.posts[feedID+"/"+id]; ok {
		return domain.InsertResult{Inserted: false, PostID: id}, nil
	}
	m.posts[feedID+"/"+id] = domain.Post{
		WorkspaceID: workspaceID,
		FeedID:      feedID,
		PostID:      id,
		URL:         url,
		Title:       title,
		Status:      domain.PostStatusPending,
		PublishedAt: publishedAt,
	}
	return domain.InsertResult{Inserted: true, PostID: id}, nil
}

func (m *mockPostRepo) ListPendingBatch(ctx context.Context, limit int) ([]domain.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.posts))
	for k := range m.posts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := []domain.Post{}
	for _, k := range keys {
		if len(out) >= limit {
			break
		}
		if m.posts[k].Status == domain.PostStatusPending {
			out = append(out, m.posts[k])
		}
	}
	return out, nil
}

func (m *mockPostRepo) MarkIngested(ctx context.Context, workspaceID, feedID, postID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markErr != nil {
		return m.markErr
	}
	p, ok := m.posts[feedID+"/"+postID]
	if !ok {
		return domain.NotFoundError{Resource: "post"}
	}
	p.Status = domain.PostStatusIngested
	m.posts[feedID+"/"+postID] = p
	m.marked = append(m.marked, postID)
	return nil
}

func (m *mockPostRepo) ListForFeed(ctx context.Context, workspaceID, feedID string) ([]domain.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.Post{}
	for _, p := range m.posts {
		if p.FeedID == feedID {
			out = append(out, p)
		}
	}
	return out, nil
}

type mockTriggers struct {
	mu        sync.Mutex
	triggers  map[string]domain.Trigger
	createErr error
	stateErr  error
	deleteErr error
}

func newMockTriggers() *mockTriggers {
	return &mockTriggers{triggers: map[string]domain.Trigger{}}
}

func (m *mockTriggers) Create(ctx context.Context, t domain.Trigger) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return "", m.createErr
	}
	key := t.Group + "/" + t.Name
	if _, ok := m.triggers[key]; ok {
		return "", domain.AlreadyExistsError{Resource: "trigger", ID: t.Name}
	}
	m.triggers[key] = t
	return key, nil
}

func (m *mockTriggers) SetState(ctx context.Context, group, name string, state domain.TriggerState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stateErr != nil {
		return m.stateErr
	}
	t, ok := m.triggers[group+"/"+name]
	if !ok {
		return domain.NotFoundError{Resource: "trigger"}
	}
	t.State = state
	m.triggers[group+"/"+name] = t
	return nil
}

func (m *mockTriggers) Delete(ctx context.Context, group, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	if _, ok := m.triggers[group+"/"+name]; !ok {
		return domain.NotFoundError{Resource: "trigger"}
	}
	delete(m.triggers, group+"/"+name)
	return nil
}

func (m *mockTriggers) Get(ctx context.Context, group, name string) (domain.Trigger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.triggers[group+"/"+name]
	if !ok {
		return domain.Trigger{}, domain.NotFoundError{Resource: "trigger"}
	}
	return t, nil
}

func (m *mockTriggers) List(ctx context.Context, group string) ([]domain.Trigger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.Trigger{}
	for _, t := range m.triggers {
		if t.Group == group {
			out = append(out, t)
		}
	}
	return out, nil
}

type mockFetcher struct {
	entries []domain.Entry
	err     error
	calls   int
}

func (m *mockFetcher) Fetch(ctx context.Context, url string) ([]domain.Entry, error) {
	m.calls++
	if m.err != nil {
		return nil, &domain.FetchError{URL: url, Err: m.err}
	}
	return m.entries, nil
}

type mockCrawler struct {
	reject map[string]bool
	fail   map[string]error
	urls   []string
	opts   domain.CrawlOptions
}

func (m *mockCrawler) Submit(ctx context.Context, workspaceID, url string, opts domain.CrawlOptions) (domain.CrawlResult, error) {
	m.urls = append(m.urls, url)
	m.opts = opts
	if err := m.fail[url]; err != nil {
		return domain.CrawlResult{}, err
	}
	if m.reject[url] {
		return domain.CrawlResult{Accepted: false, Reason: "blocked"}, nil
	}
	return domain.CrawlResult{Accepted: true}, nil
}

type mockInvoker struct {
	mu          sync.Mutex
	invocations []feedingest.Invocation
	err         error
	done        chan struct{}
}

func newMockInvoker() *mockInvoker {
	return &mockInvoker{done: make(chan struct{}, 16)}
}

func (m *mockInvoker) InvokeAsync(ctx context.Context, inv feedingest.Invocation) <-chan error {
	m.mu.Lock()
	m.invocations = append(m.invocations, inv)
	m.mu.Unlock()

	errc := make(chan error, 1)
	errc <- m.err
	close(errc)
	m.done <- struct{}{}
	return errc
}

func (m *mockInvoker) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.invocations)
}
