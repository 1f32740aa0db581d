package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"notifier/pkg/circuitbreaker"
)

var (
	// ErrNotFound reports a well-formed upstream reply with no such resource.
	ErrNotFound = errors.New("upstream resource not found")
	// ErrUnavailable reports that the upstream could not be consulted at all,
	// whether the breaker refused the call or the call itself failed.
	ErrUnavailable = errors.New("upstream unavailable")
)

// envelope is the {success, data} wrapper both collaborator services reply with.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// fetch performs a breaker-guarded GET and decodes the data field into out.
func fetch(ctx context.Context, httpClient *http.Client, breaker *circuitbreaker.Breaker, url string, out any) error {
	var notFound bool

	err := breaker.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		// A 404 is a valid answer, not an upstream failure. It must not
		// count against the breaker's error rate.
		if resp.StatusCode == http.StatusNotFound {
			notFound = true
			return nil
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
		}

		var env envelope
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
			return fmt.Errorf("decode response from %s: %w", url, err)
		}
		if !env.Success || env.Data == nil {
			notFound = true
			return nil
		}
		return json.Unmarshal(env.Data, out)
	})

	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnavailable, err)
	}
	if notFound {
		return ErrNotFound
	}
	return nil
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}
