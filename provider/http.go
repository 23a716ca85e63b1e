package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"golang.org/x/time/rate"

	"github.com/havenchat/warden/util"
)

// HTTPClient talks to the chat provider's REST API. Outbound calls are rate
// limited so a burst of moderation actions cannot trip provider-side
// throttling, and the underlying HTTP client retries transient failures.
type HTTPClient struct {
	Host    string
	APIKey  string
	Client  *http.Client
	Limiter *rate.Limiter
}

var _ Client = (*HTTPClient)(nil)

func NewHTTPClient(host, apiKey string, requestsPerSecond int) *HTTPClient {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 20
	}
	return &HTTPClient{
		Host:    host,
		APIKey:  apiKey,
		Client:  util.RobustHTTPClient(),
		Limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
	}
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body any, out any) error {
	if err := c.Limiter.Wait(ctx); err != nil {
		return err
	}

	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.Host+path, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("provider request failed: %s %s: status %d: %s", method, path, resp.StatusCode, raw)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *HTTPClient) GetMessage(ctx context.Context, id string) (*Message, error) {
	var out struct {
		Message Message `json:"message"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/messages/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out.Message, nil
}

func (c *HTTPClient) DeleteMessage(ctx context.Context, id string, hard bool) error {
	path := "/v1/messages/" + url.PathEscape(id)
	if hard {
		path += "?hard=true"
	}
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *HTTPClient) FlagMessage(ctx context.Context, id, actorID, reason string) error {
	body := map[string]string{
		"actor_id": actorID,
		"reason":   reason,
	}
	return c.do(ctx, http.MethodPost, "/v1/messages/"+url.PathEscape(id)+"/flag", body, nil)
}

func (c *HTTPClient) BanUser(ctx context.Context, userID string, opts BanOpts) error {
	body := map[string]any{
		"reason":    opts.Reason,
		"banned_by": opts.BannedBy,
	}
	if opts.TimeoutMinutes != nil {
		body["timeout_minutes"] = *opts.TimeoutMinutes
	}
	return c.do(ctx, http.MethodPost, "/v1/users/"+url.PathEscape(userID)+"/ban", body, nil)
}

func (c *HTTPClient) SendCrisisResources(ctx context.Context, userID string, resources []string) error {
	body := map[string]any{
		"type":      "system",
		"resources": resources,
	}
	return c.do(ctx, http.MethodPost, "/v1/users/"+url.PathEscape(userID)+"/messages", body, nil)
}
