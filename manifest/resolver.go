package manifest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pressio/readerkit/observability"
)

// AccessError is a terminal denial from the resolver. The reason is shown to
// the subscriber verbatim; no automatic retry is attempted.
type AccessError struct {
	Code   string `json:"errorCode"`
	Reason string `json:"humanReadableReason"`
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("access denied (%s): %s", e.Code, e.Reason)
}

// ErrAccessDenied matches any AccessError via errors.Is.
var ErrAccessDenied = errors.New("access denied")

func (e *AccessError) Is(target error) bool { return target == ErrAccessDenied }

// ResolveRequest is the access/manifest resolver request contract.
type ResolveRequest struct {
	AccessToken       string `json:"accessToken"`
	EditionID         string `json:"editionId,omitempty"`
	DeviceFingerprint string `json:"deviceFingerprint"`
	ClientIPAddress   string `json:"clientIpAddress"`
}

// ClientConfig configures the resolver client. Zero values select defaults.
type ClientConfig struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     observability.Logger
	Now        func() time.Time
}

// Client talks to the access/manifest resolver and the article metadata
// service. Both are external collaborators; the client owns the request
// timeout and normalizes every response before returning it.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	log     observability.Logger
	now     func() time.Time
}

// NewClient builds a resolver client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("resolver: base URL required")
	}
	c := &Client{
		baseURL: cfg.BaseURL,
		http:    cfg.HTTPClient,
		timeout: cfg.Timeout,
		log:     cfg.Logger,
		now:     cfg.Now,
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.timeout == 0 {
		c.timeout = 5 * time.Second
	}
	if c.log == nil {
		c.log = observability.NopLogger{}
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

// Resolve validates the reader token and returns the edition manifest. An
// expired token is rejected locally before any network round trip; every
// other denial comes from the server as an AccessError.
func (c *Client) Resolve(ctx context.Context, req ResolveRequest) (*Manifest, error) {
	if err := c.precheckToken(req.AccessToken); err != nil {
		return nil, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("resolver: marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/reader/resolve", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("resolver: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("resolver: request failed: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("resolver: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var denial AccessError
		if err := json.Unmarshal(payload, &denial); err != nil || denial.Code == "" {
			return nil, fmt.Errorf("resolver: unexpected status %d", resp.StatusCode)
		}
		c.log.Warn("access denied", observability.String("code", denial.Code))
		return nil, &denial
	}

	var m Manifest
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("resolver: decode manifest: %w", err)
	}
	if err := m.Normalize(); err != nil {
		return nil, err
	}
	c.log.Info("edition resolved",
		observability.String("edition", m.EditionID),
		observability.Int("pages", m.PageCount()))
	return &m, nil
}

// Articles fetches hotspot/article metadata for an edition. Degenerate
// regions are filtered before the list is returned.
func (c *Client) Articles(ctx context.Context, editionID string) ([]Article, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := fmt.Sprintf("%s/editions/%s/articles", c.baseURL, editionID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("articles: build request: %w", err)
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("articles: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("articles: unexpected status %d", resp.StatusCode)
	}
	var list []Article
	if err := json.NewDecoder(io.LimitReader(resp.Body, 16<<20)).Decode(&list); err != nil {
		return nil, fmt.Errorf("articles: decode: %w", err)
	}
	return FilterArticles(list), nil
}

// precheckToken rejects tokens that are already expired without a network
// round trip. Signature verification stays server-side; a token we cannot
// parse is forwarded and left to the resolver to judge.
func (c *Client) precheckToken(token string) error {
	if token == "" {
		return &AccessError{Code: "token_missing", Reason: "no access token supplied"}
	}
	var claims jwt.RegisteredClaims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return nil
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(c.now()) {
		return &AccessError{Code: "token_expired", Reason: "your reading session has expired"}
	}
	return nil
}
