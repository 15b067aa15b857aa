package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	logx "dialajoke/pkg/logx"

	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL  = "https://api.telnyx.com/v2"
	DefaultTimeout  = 10 * time.Second
	DefaultVoice    = "male"
	DefaultLanguage = "en-GB"

	maxErrorBody = 64 << 10
)

type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
	// RatePerSec limits outbound requests. 0 means unlimited.
	RatePerSec float64
}

// Client issues Call Control commands. It is safe for concurrent use.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	log     logx.Logger
}

// New builds a client. hc may be nil.
func New(cfg Config, hc *http.Client, log logx.Logger) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	c := &Client{
		apiKey:  strings.TrimSpace(cfg.APIKey),
		baseURL: base,
		http:    hc,
		log:     log,
	}
	if cfg.RatePerSec > 0 {
		burst := int(cfg.RatePerSec)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	return c
}

type DialRequest struct {
	ConnectionID string `json:"connection_id"`
	To           string `json:"to"`
	From         string `json:"from"`
}

// Call identifies a call leg created by Dial.
type Call struct {
	CallControlID string `json:"call_control_id"`
	CallLegID     string `json:"call_leg_id"`
	CallSessionID string `json:"call_session_id"`
}

type SpeakRequest struct {
	Payload  string `json:"payload"`
	Voice    string `json:"voice"`
	Language string `json:"language,omitempty"`
}

// Dial starts an outbound call.
func (c *Client) Dial(ctx context.Context, req DialRequest) (Call, error) {
	var out struct {
		Data Call `json:"data"`
	}
	if err := c.do(ctx, "/calls", req, &out); err != nil {
		return Call{}, fmt.Errorf("dial %s: %w", req.To, err)
	}
	return out.Data, nil
}

// Speak reads text to the callee.
func (c *Client) Speak(ctx context.Context, callControlID string, req SpeakRequest) error {
	if req.Voice == "" {
		req.Voice = DefaultVoice
	}
	if req.Language == "" {
		req.Language = DefaultLanguage
	}
	if err := c.do(ctx, actionPath(callControlID, "speak"), req, nil); err != nil {
		return fmt.Errorf("speak: %w", err)
	}
	return nil
}

func (c *Client) Hangup(ctx context.Context, callControlID string) error {
	if err := c.do(ctx, actionPath(callControlID, "hangup"), struct{}{}, nil); err != nil {
		return fmt.Errorf("hangup: %w", err)
	}
	return nil
}

func actionPath(callControlID, action string) string {
	return "/calls/" + url.PathEscape(callControlID) + "/actions/" + action
}

func (c *Client) do(ctx context.Context, path string, body, out any) error {
	if c.apiKey == "" {
		return ErrNoAPIKey
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	c.log.Debug("telnyx request",
		logx.String("path", path),
		logx.Int("status", resp.StatusCode),
		logx.Duration("took", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{
		Status:     resp.StatusCode,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
	}
	var payload struct {
		Errors []struct {
			Code   string `json:"code"`
			Title  string `json:"title"`
			Detail string `json:"detail"`
		} `json:"errors"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err := json.Unmarshal(raw, &payload); err == nil && len(payload.Errors) > 0 {
		e := payload.Errors[0]
		apiErr.Code, apiErr.Title, apiErr.Detail = e.Code, e.Title, e.Detail
	} else {
		apiErr.Title = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
