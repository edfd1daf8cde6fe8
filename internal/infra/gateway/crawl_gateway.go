package gateway

import (
	"context"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"

	"github.com/totegamma/feedingest"
	"github.com/totegamma/feedingest/client"
	"github.com/totegamma/feedingest/internal/domain"
	"github.com/totegamma/feedingest/internal/usecase"
)

// CrawlGateway adapts the crawler client to the dispatcher port.
type CrawlGateway struct {
	client *client.Client
}

func NewCrawlGateway(cl *client.Client) *CrawlGateway {
	return &CrawlGateway{client: cl}
}

var _ usecase.CrawlDispatcher = (*CrawlGateway)(nil)

func (g *CrawlGateway) Submit(ctx context.Context, workspaceID, url string, opts domain.CrawlOptions) (domain.CrawlResult, error) {
	ctx, span := tracer.Start(ctx, "Gateway.Crawl.Submit")
	defer span.End()
	span.SetAttributes(attribute.String("workspaceId", workspaceID), attribute.String("url", url))

	resp, err := g.client.Submit(ctx, feedingest.CrawlRequest{
		WorkspaceID: workspaceID,
		URL:         url,
		FollowLinks: opts.FollowLinks,
		Limit:       opts.LinkLimit,
	})
	if err != nil {
		span.RecordError(err)
		return domain.CrawlResult{}, errors.Wrap(err, "crawler submit")
	}
	return domain.CrawlResult{Accepted: resp.Accepted, Reason: resp.Reason}, nil
}
