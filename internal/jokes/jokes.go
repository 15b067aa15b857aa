// Package jokes fetches a random joke from a JSON joke API such as
// icanhazdadjoke.com.
package jokes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const DefaultTimeout = 5 * time.Second

var ErrEmptyJoke = errors.New("jokes: empty joke")

type Client struct {
	url  string
	http *http.Client
}

// New returns a client for url. hc may be nil.
func New(url string, timeout time.Duration, hc *http.Client) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{url: strings.TrimSpace(url), http: hc}
}

// Fetch returns one joke.
func (c *Client) Fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return "", fmt.Errorf("jokes: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "dialajoke")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("jokes: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return "", fmt.Errorf("jokes: http %d", resp.StatusCode)
	}
	var out struct {
		Joke string `json:"joke"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&out); err != nil {
		return "", fmt.Errorf("jokes: decode: %w", err)
	}
	joke := strings.TrimSpace(out.Joke)
	if joke == "" {
		return "", ErrEmptyJoke
	}
	return joke, nil
}
