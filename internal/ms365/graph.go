package ms365

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Jurgens92/Exo-Trace-Archiver/internal/database/models"
)

const (
	graphBaseURL     = "https://graph.microsoft.com/v1.0"
	graphBetaURL     = "https://graph.microsoft.com/beta"
	messageTracePath = "/admin/exchange/messageTraces"
	graphTimeFormat  = "2006-01-02T15:04:05Z"

	// Network-level failures on a page are retried this many times with
	// exponential backoff before the pull fails.
	maxPageRetries = 3
)

// GraphClient pulls message traces through the Microsoft Graph API using
// app-only authentication.
type GraphClient struct {
	cfg        Config
	baseURL    string
	betaURL    string
	httpClient *http.Client
	tokens     *tokenProvider
}

// NewGraphClient creates a Graph API client for one tenant.
func NewGraphClient(cfg Config) *GraphClient {
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	return &GraphClient{
		cfg:        cfg,
		baseURL:    graphBaseURL,
		betaURL:    graphBetaURL,
		httpClient: httpClient,
		tokens:     newTokenProvider(cfg, httpClient),
	}
}

// Source identifies the field mapping for normalization.
func (c *GraphClient) Source() models.APIMethod {
	return models.APIMethodGraph
}

// Authenticate acquires an access token, verifying the tenant credentials.
func (c *GraphClient) Authenticate(ctx context.Context) error {
	if _, err := c.tokens.AccessToken(ctx); err != nil {
		return err
	}
	log.Printf("[MS365] Authenticated with Graph API for tenant %s", c.cfg.TenantID)
	return nil
}

// GetMessageTraces fetches every page of message traces in the given window.
// The window bounds are sent in UTC. A 401 mid-run invalidates the cached
// token and retries the same page once; a second consecutive 401 fails the
// pull. 403 and 404 mean the trace endpoint is not enabled for this tenant,
// which callers treat as a signal to fall back to PowerShell.
func (c *GraphClient) GetMessageTraces(ctx context.Context, start, end time.Time) ([]map[string]interface{}, error) {
	params := url.Values{}
	params.Set("startDateTime", start.UTC().Format(graphTimeFormat))
	params.Set("endDateTime", end.UTC().Format(graphTimeFormat))
	params.Set("$top", strconv.Itoa(c.cfg.PageSize))

	traces := make([]map[string]interface{}, 0)
	requestURL := c.betaURL + messageTracePath
	pages := 0
	reauthed := false

	for requestURL != "" {
		// Cancellation between pages hands back what was already fetched
		// so the caller can keep the partial result.
		if err := ctx.Err(); err != nil {
			return traces, err
		}

		token, err := c.tokens.AccessToken(ctx)
		if err != nil {
			return nil, err
		}

		status, body, err := c.getWithRetry(ctx, token, requestURL, params)
		if err != nil {
			return nil, err
		}

		switch status {
		case http.StatusOK:
		case http.StatusUnauthorized:
			if reauthed {
				return nil, fmt.Errorf("%w: request unauthorized after re-authentication", ErrAuthenticationFailed)
			}
			c.tokens.Invalidate()
			reauthed = true
			continue
		case http.StatusForbidden, http.StatusNotFound:
			return nil, fmt.Errorf("%w: status %d: %s", ErrTracesUnavailable, status, truncateBody(body))
		default:
			return nil, fmt.Errorf("%w: status %d: %s", ErrUnexpectedResponse, status, truncateBody(body))
		}

		var payload struct {
			Value    []map[string]interface{} `json:"value"`
			NextLink string                   `json:"@odata.nextLink"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, fmt.Errorf("%w: decoding trace page: %v", ErrUnexpectedResponse, err)
		}

		traces = append(traces, payload.Value...)
		pages++
		reauthed = false

		// The next link already encodes the full query including the skip
		// token, so the original params must not be sent again.
		requestURL = payload.NextLink
		params = nil
	}

	log.Printf("[MS365] Retrieved %d trace(s) over %d page(s) for tenant %s", len(traces), pages, c.cfg.TenantID)
	return traces, nil
}

// GetVerifiedDomains lists the verified domains of the tenant. Requires the
// Domain.Read.All application permission.
func (c *GraphClient) GetVerifiedDomains(ctx context.Context) ([]string, error) {
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	status, body, err := c.getWithRetry(ctx, token, c.baseURL+"/domains", nil)
	if err != nil {
		return nil, err
	}

	switch {
	case status == http.StatusOK:
	case status == http.StatusForbidden || containsPermissionHint(body):
		return nil, fmt.Errorf("%w: status %d: %s", ErrPermissionDenied, status, truncateBody(body))
	case status == http.StatusUnauthorized:
		return nil, fmt.Errorf("%w: status 401: %s", ErrAuthenticationFailed, truncateBody(body))
	default:
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnexpectedResponse, status, truncateBody(body))
	}

	var payload struct {
		Value []struct {
			ID         string `json:"id"`
			IsVerified bool   `json:"isVerified"`
		} `json:"value"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: decoding domain list: %v", ErrUnexpectedResponse, err)
	}

	domains := make([]string, 0, len(payload.Value))
	for _, d := range payload.Value {
		if d.IsVerified && d.ID != "" {
			domains = append(domains, d.ID)
		}
	}
	return domains, nil
}

// getWithRetry performs a GET, retrying transport-level failures with
// exponential backoff. HTTP error statuses are returned to the caller
// unretried so it can decide what they mean.
func (c *GraphClient) getWithRetry(ctx context.Context, token, rawURL string, params url.Values) (int, []byte, error) {
	var lastErr error
	for attempt := 0; attempt <= maxPageRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<(attempt-1)) * time.Second
			select {
			case <-ctx.Done():
				return 0, nil, ctx.Err()
			case <-time.After(backoff):
			}
			log.Printf("[MS365] Retrying request after network error (attempt %d/%d): %v", attempt, maxPageRetries, lastErr)
		}

		status, body, err := c.doGet(ctx, token, rawURL, params)
		if err == nil {
			return status, body, nil
		}
		if ctx.Err() != nil {
			return 0, nil, ctx.Err()
		}
		lastErr = err
	}
	return 0, nil, fmt.Errorf("%w: %v", ErrTransientNetwork, lastErr)
}

func (c *GraphClient) doGet(ctx context.Context, token, rawURL string, params url.Values) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, nil, err
	}
	if params != nil {
		req.URL.RawQuery = params.Encode()
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

func containsPermissionHint(body []byte) bool {
	s := string(body)
	for _, hint := range permissionHints {
		if strings.Contains(s, hint) {
			return true
		}
	}
	return false
}

// truncateBody trims an error body for inclusion in error messages.
func truncateBody(body []byte) string {
	const max = 300
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
