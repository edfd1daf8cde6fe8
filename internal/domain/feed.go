package domain

import "time"

type FeedStatus string

const (
	FeedStatusEnabled  FeedStatus = "ENABLED"
	FeedStatusDisabled FeedStatus = "DISABLED"
)

func (s FeedStatus) Valid() bool {
	return s == FeedStatusEnabled || s == FeedStatusDisabled
}

// TriggerState is the trigger state matching a feed status.
func (s FeedStatus) TriggerState() TriggerState {
	if s == FeedStatusEnabled {
		return TriggerStateEnabled
	}
	return TriggerStateDisabled
}

// Feed is a subscribed RSS source of a workspace.
type Feed struct {
	WorkspaceID    string     `json:"workspaceId"`
	FeedID         string     `json:"feedId"`
	URL            string     `json:"url"`
	Title          string     `json:"title"`
	Status         FeedStatus `json:"status"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	UnsubscribedAt *time.Time `json:"unsubscribedAt,omitempty"`
}

func (f Feed) Unsubscribed() bool {
	return f.UnsubscribedAt != nil
}

// CreateFeedInput carries the fields of a new feed.
// IdempotencyToken, when set, makes the feed id stable across retries of the same request.
type CreateFeedInput struct {
	WorkspaceID      string
	URL              string
	Title            string
	IdempotencyToken string
}
