package util

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// RobustHTTPClient returns an HTTP client with retries and backoff for
// transient failures, suitable for calls to the chat provider and other
// external services.
func RobustHTTPClient() *http.Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 10 * time.Second
	retryClient.Logger = retryablehttp.LeveledLogger(slog.Default().With("subsystem", "retryablehttp"))
	client := retryClient.StandardClient()
	client.Timeout = 20 * time.Second
	return client
}

// TestingHTTPClient returns an HTTP client with no retries and a short
// timeout, for use in tests against local httptest servers.
func TestingHTTPClient() *http.Client {
	return &http.Client{Timeout: 2 * time.Second}
}
