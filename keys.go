package feedingest

import (
	"fmt"
	"strings"

	"github.com/zeebo/xxh3"
)

const (
	feedKeyPrefix = "feed."
	postSegment   = ".post."
)

// ComposeFeedKey returns the sort key of a feed record.
func ComposeFeedKey(feedID string) string {
	return feedKeyPrefix + feedID
}

// ComposePostKey returns the sort key of a post record under its feed.
func ComposePostKey(feedID, postID string) string {
	return feedKeyPrefix + feedID + postSegment + postID
}

// PostKeyPrefix matches every post sort key of a feed and nothing else.
func PostKeyPrefix(feedID string) string {
	return feedKeyPrefix + feedID + postSegment
}

// ParseSortKey splits a sort key into its feed and post ids. postID is empty for feed keys.
func ParseSortKey(sk string) (feedID string, postID string, err error) {
	if !strings.HasPrefix(sk, feedKeyPrefix) {
		return "", "", fmt.Errorf("unsupported sort key: %q", sk)
	}
	rest := strings.TrimPrefix(sk, feedKeyPrefix)

	feedID, postID, found := strings.Cut(rest, postSegment)
	if feedID == "" {
		return "", "", fmt.Errorf("sort key without feed id: %q", sk)
	}
	if found && postID == "" {
		return "", "", fmt.Errorf("sort key without post id: %q", sk)
	}
	if !found && strings.Contains(feedID, ".") {
		return "", "", fmt.Errorf("malformed sort key: %q", sk)
	}

	return feedID, postID, nil
}

// PostID derives the post identifier from the post url.
// The same url always yields the same id.
func PostID(url string) string {
	h := xxh3.HashString128(url)
	return fmt.Sprintf("%016x%016x", h.Hi, h.Lo)
}
