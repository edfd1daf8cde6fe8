package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/totegamma/feedingest"
	"github.com/totegamma/feedingest/internal/domain"
	"github.com/totegamma/feedingest/internal/usecase"
)

var tracer = otel.Tracer("gateway")

type FeedFetcher struct {
	parser *gofeed.Parser
	cache  Cache
	ttl    time.Duration
}

func NewFeedFetcher(cache Cache, ttl, timeout time.Duration, userAgent string) *FeedFetcher {
	parser := gofeed.NewParser()
	parser.UserAgent = userAgent
	parser.Client = &http.Client{Timeout: timeout}
	return &FeedFetcher{parser: parser, cache: cache, ttl: ttl}
}

var _ usecase.FeedFetcher = (*FeedFetcher)(nil)

func cacheKey(url string) string {
	return "feedingest:fetch:" + feedingest.PostID(url)
}

func (f *FeedFetcher) Fetch(ctx context.Context, url string) ([]domain.Entry, error) {
	ctx, span := tracer.Start(ctx, "Gateway.FeedFetcher.Fetch")
	defer span.End()
	span.SetAttributes(attribute.String("url", url))

	if f.cache != nil && f.ttl > 0 {
		if b, ok := f.cache.Get(cacheKey(url)); ok {
			var entries []domain.Entry
			if err := json.Unmarshal(b, &entries); err == nil {
				span.SetAttributes(attribute.Bool("cached", true))
				return entries, nil
			}
		}
	}

	feed, err := f.parser.ParseURLWithContext(url, ctx)
	if err != nil {
		span.RecordError(err)
		return nil, &domain.FetchError{URL: url, Err: err}
	}

	entries := make([]domain.Entry, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		link := item.Link
		if link == "" && len(item.Links) > 0 {
			link = item.Links[0]
		}
		published := item.PublishedParsed
		if published == nil {
			published = item.UpdatedParsed
		}
		entries = append(entries, domain.Entry{
			Link:        link,
			Title:       item.Title,
			PublishedAt: published,
		})
	}

	if f.cache != nil && f.ttl > 0 {
		if b, err := json.Marshal(entries); err == nil {
			f.cache.Set(cacheKey(url), b, f.ttl)
		} else {
			slog.WarnContext(ctx, "failed to encode fetched entries", slog.String("error", err.Error()), slog.String("module", "gateway"))
		}
	}

	return entries, nil
}
