package feedingest

import (
	"encoding/json"
)

// Trigger targets understood by the invocation router.
const (
	TargetPoll     = "feed.poll"
	TargetDispatch = "post.dispatch"
)

// PollPayload is the payload carried by a feed's periodic trigger.
type PollPayload struct {
	WorkspaceID string `json:"workspaceId"`
	FeedID      string `json:"feedId"`
}

// Invocation is a request to run a target action once.
type Invocation struct {
	Target  string          `json:"target"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func NewInvocation(target string, payload any) (Invocation, error) {
	if payload == nil {
		return Invocation{Target: target}, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return Invocation{}, err
	}
	return Invocation{Target: target, Payload: b}, nil
}

// CrawlRequest is the body posted to the crawler service.
type CrawlRequest struct {
	WorkspaceID string `json:"workspaceId"`
	URL         string `json:"url"`
	FollowLinks bool   `json:"followLinks"`
	Limit       int    `json:"limit"`
}

// CrawlResponse is the crawler's answer to a CrawlRequest.
type CrawlResponse struct {
	Accepted   bool   `json:"accepted"`
	DocumentID string `json:"documentId,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// Envelope wraps every HTTP response body.
type Envelope struct {
	OK    bool   `json:"ok"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}
