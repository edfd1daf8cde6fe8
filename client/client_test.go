package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/totegamma/feedingest"
)

func TestClientSubmitAcceptedIsDeduplicated(t *testing.T) {
	var hits atomic.Int32
	var got feedingest.CrawlRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "feedingest-test", r.Header.Get("User-Agent"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"accepted":true,"documentId":"doc-1"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "feedingest-test", "secret", time.Minute)
	req := feedingest.CrawlRequest{WorkspaceID: "w1", URL: "https://example.com/a", FollowLinks: true, Limit: 30}

	res, err := c.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, "doc-1", res.DocumentID)
	assert.Equal(t, req, got)

	res, err = c.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, int32(1), hits.Load())
}

func TestClientSubmitRejectedAndTransient(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusUnprocessableEntity)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unsupported url", int(status.Load()))
	}))
	defer srv.Close()

	c := New(srv.URL, "feedingest-test", "", time.Minute)
	req := feedingest.CrawlRequest{WorkspaceID: "w1", URL: "ftp://example.com/a"}

	res, err := c.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, res.Accepted)
	assert.Contains(t, res.Reason, "unsupported url")

	status.Store(http.StatusServiceUnavailable)
	_, err = c.Submit(context.Background(), req)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
}
