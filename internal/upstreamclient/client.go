// Package upstreamclient builds and issues the HTTPS call to the upstream
// EventStream endpoint, and implements the credential pool's Refresher
// interface (token refresh + quota probe). Grounded on the teacher's
// applyKiroHeaders / origin-fallback retry pattern.
package upstreamclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/kiro-gateway/kiro-gateway/internal/credpool"
)

// Endpoints configures every URL the client calls. All fields are required
// except the IdC-specific ones, which are only used for IdC credentials.
type Endpoints struct {
	UpstreamURL      string
	SocialRefreshURL string
	IdCRefreshURL    string
	QuotaProbeURL    string
}

// Client issues requests to the upstream and performs credential refresh
// and quota probing on its behalf.
type Client struct {
	Endpoints  Endpoints
	HTTPClient *http.Client
}

// New returns a Client with a default HTTP client and 0 (no) timeout on the
// streaming call itself; overall timeouts are the HTTP layer's concern per
// §5.
func New(endpoints Endpoints) *Client {
	return &Client{
		Endpoints:  endpoints,
		HTTPClient: &http.Client{},
	}
}

// opaque UA header sent on every upstream call, matching the fixed value
// observed on the teacher's executor.
const userAgentHeader = "aws-sdk-go/kiro-gateway"

var originFallbackOrder = []string{"AI_EDITOR", "CLI"}

// Response is the result of Send: status, a streaming body reader the
// caller must Close, and the content-type for classification.
type Response struct {
	StatusCode int
	Body       io.ReadCloser
	Header     http.Header
}

// Send issues body (already shaped into the upstream's conversationState
// wire format) against the configured upstream URL, retrying across the
// origin-fallback list on a 429, using the given bearer token.
func (c *Client) Send(ctx context.Context, accessToken string, body []byte) (*Response, error) {
	var lastResp *Response
	for _, origin := range originFallbackOrder {
		patched, err := sjson.SetBytes(body, "origin", origin)
		if err != nil {
			patched = body
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoints.UpstreamURL, bytes.NewReader(patched))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", userAgentHeader)

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			lastResp = &Response{StatusCode: resp.StatusCode}
			continue
		}

		return &Response{StatusCode: resp.StatusCode, Body: resp.Body, Header: resp.Header}, nil
	}
	return lastResp, nil
}

// RefreshToken implements credpool.Refresher. It dispatches on the
// credential's auth method per §4.H.Refresh.
func (c *Client) RefreshToken(ctx context.Context, cfg credpool.Config) (string, time.Duration, error) {
	var url string
	var reqBody map[string]any

	switch cfg.Auth {
	case credpool.AuthSocial:
		url = c.Endpoints.SocialRefreshURL
		reqBody = map[string]any{"refreshToken": cfg.RefreshToken}
	case credpool.AuthIdC:
		url = c.Endpoints.IdCRefreshURL
		reqBody = map[string]any{
			"clientId":     cfg.ClientID,
			"clientSecret": cfg.ClientSecret,
			"grantType":    "refresh_token",
			"refreshToken": cfg.RefreshToken,
		}
	default:
		return "", 0, fmt.Errorf("upstreamclient: unknown auth method %q", cfg.Auth)
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", 0, fmt.Errorf("upstreamclient: refresh failed with status %d: %s", resp.StatusCode, string(raw))
	}

	accessToken := gjson.GetBytes(raw, "accessToken").String()
	if accessToken == "" {
		return "", 0, fmt.Errorf("upstreamclient: refresh response missing accessToken")
	}
	expiresInSeconds := gjson.GetBytes(raw, "expiresIn").Int()
	return accessToken, time.Duration(expiresInSeconds) * time.Second, nil
}

// ProbeQuota implements credpool.Refresher's quota side: sums
// (usageLimitWithPrecision - currentUsageWithPrecision) over CREDIT-kind
// usage entries, plus any active free-trial allowance, clamped to >= 0.
func (c *Client) ProbeQuota(ctx context.Context, accessToken string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Endpoints.QuotaProbeURL, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("upstreamclient: quota probe failed with status %d", resp.StatusCode)
	}

	total := 0.0
	gjson.GetBytes(raw, "usageBreakdownList").ForEach(func(_, item gjson.Result) bool {
		if item.Get("resourceType").String() != "CREDIT" {
			return true
		}
		limit := item.Get("usageLimitWithPrecision").Float()
		used := item.Get("currentUsageWithPrecision").Float()
		total += limit - used
		return true
	})

	if trial := gjson.GetBytes(raw, "freeTrialInfo"); trial.Get("freeTrialStatus").String() == "ACTIVE" {
		total += trial.Get("usageLimitWithPrecision").Float() - trial.Get("currentUsageWithPrecision").Float()
	}

	if total < 0 {
		total = 0
	}
	return int(total), nil
}
