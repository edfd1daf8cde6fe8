package domain

import "time"

type PostStatus string

const (
	PostStatusPending  PostStatus = "PENDING"
	PostStatusIngested PostStatus = "INGESTED"
)

// Post is one discovered entry of a feed.
type Post struct {
	WorkspaceID string     `json:"workspaceId"`
	FeedID      string     `json:"feedId"`
	PostID      string     `json:"postId"`
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	Status      PostStatus `json:"status"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	IngestedAt  *time.Time `json:"ingestedAt,omitempty"`
}

type InsertResult struct {
	Inserted bool   `json:"inserted"`
	PostID   string `json:"postId"`
}

// Entry is a single item returned by a feed fetch.
type Entry struct {
	Link        string
	Title       string
	PublishedAt *time.Time
}

type CrawlOptions struct {
	FollowLinks bool
	LinkLimit   int
}

type CrawlResult struct {
	Accepted bool
	Reason   string
}
