package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/havenchat/warden/util"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Auth   string
	Body   map[string]any
}

func providerTestServer(t *testing.T, status int, response string) (*HTTPClient, *[]recordedRequest) {
	t.Helper()
	var recorded []recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			Auth:   r.Header.Get("Authorization"),
		}
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&rec.Body)
		}
		recorded = append(recorded, rec)
		w.WriteHeader(status)
		if response != "" {
			_, _ = w.Write([]byte(response))
		}
	}))
	t.Cleanup(srv.Close)

	client := &HTTPClient{
		Host:    srv.URL,
		APIKey:  "test-key",
		Client:  util.TestingHTTPClient(),
		Limiter: rate.NewLimiter(rate.Inf, 1),
	}
	return client, &recorded
}

func TestHTTPClientGetMessage(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	client, recorded := providerTestServer(t, http.StatusOK,
		`{"message":{"id":"m-1","text":"hi","user_id":"u-1","channel_id":"room-1"}}`)

	msg, err := client.GetMessage(context.Background(), "m-1")
	require.NoError(err)
	assert.Equal("u-1", msg.UserID)
	assert.Equal("room-1", msg.ChannelID)

	require.Len(*recorded, 1)
	req := (*recorded)[0]
	assert.Equal(http.MethodGet, req.Method)
	assert.Equal("/v1/messages/m-1", req.Path)
	assert.Equal("Bearer test-key", req.Auth)
}

func TestHTTPClientDeleteMessage(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	client, recorded := providerTestServer(t, http.StatusOK, "")

	require.NoError(client.DeleteMessage(context.Background(), "m-2", true))
	require.NoError(client.DeleteMessage(context.Background(), "m-2", false))

	require.Len(*recorded, 2)
	assert.Equal("hard=true", (*recorded)[0].Query)
	assert.Equal("", (*recorded)[1].Query)
	assert.Equal(http.MethodDelete, (*recorded)[0].Method)
}

func TestHTTPClientBanUser(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	client, recorded := providerTestServer(t, http.StatusOK, "")

	timeout := 30
	require.NoError(client.BanUser(context.Background(), "u-9", BanOpts{
		TimeoutMinutes: &timeout,
		Reason:         "harassment",
		BannedBy:       "mod-1",
	}))

	require.Len(*recorded, 1)
	req := (*recorded)[0]
	assert.Equal("/v1/users/u-9/ban", req.Path)
	assert.EqualValues(30, req.Body["timeout_minutes"])
	assert.Equal("harassment", req.Body["reason"])
}

func TestHTTPClientErrorStatus(t *testing.T) {
	client, _ := providerTestServer(t, http.StatusForbidden, `{"error":"nope"}`)

	err := client.FlagMessage(context.Background(), "m-3", "warden", "stress")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 403")
}
