package erpsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fiscaldata/reconciler_backend/config"
)

// erpClient talks to the upstream ERP invoice feed. Base URL, auth header
// name and rate limit come from env so operators can point the service at
// a staging feed without a rebuild.
type erpClient struct {
	baseURL   string
	apiKey    string
	apiKeyHdr string
	http      *http.Client
	limiter   <-chan time.Time
}

func newErpClient() (*erpClient, error) {
	baseURL := strings.TrimSpace(os.Getenv("ERP_API_BASE_URL"))
	if baseURL == "" {
		return nil, errors.New("ERP_API_BASE_URL is not set")
	}
	apiKey := strings.TrimSpace(os.Getenv("ERP_API_KEY"))
	if apiKey == "" {
		return nil, errors.New("ERP_API_KEY is not set")
	}
	apiKeyHeader := strings.TrimSpace(os.Getenv("ERP_API_KEY_HEADER"))
	if apiKeyHeader == "" {
		apiKeyHeader = "X-API-Key"
	}
	rateLimitPerMin := int64(60)
	if v := strings.TrimSpace(os.Getenv("ERP_RATE_LIMIT_PER_MIN")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			rateLimitPerMin = n
		}
	}
	interval := time.Minute / time.Duration(rateLimitPerMin)

	return &erpClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		apiKeyHdr: apiKeyHeader,
		http:      &http.Client{Timeout: config.DurationSecondsFromEnv("ERP_HTTP_TIMEOUT_SECONDS", 30*time.Second)},
		limiter:   time.Tick(interval),
	}, nil
}

type erpListResponse struct {
	Data       []json.RawMessage `json:"data"`
	NextCursor string            `json:"next_cursor"`
	HasMore    *bool             `json:"has_more"`
}

func (c *erpClient) getList(ctx context.Context, path string, params url.Values) (erpListResponse, error) {
	<-c.limiter
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint = endpoint + "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return erpListResponse{}, err
	}
	req.Header.Set(c.apiKeyHdr, c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return erpListResponse{}, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return erpListResponse{}, fmt.Errorf("erp api error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed erpListResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return erpListResponse{}, err
	}
	return parsed, nil
}

// fetchInvoicePage returns one page of invoices plus the cursor for the
// next one ("" when exhausted).
func (c *erpClient) fetchInvoicePage(ctx context.Context, cursor string, pageSize int) ([]erpInvoice, string, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(pageSize))
	if cursor != "" {
		params.Set("cursor", cursor)
	}

	parsed, err := c.getList(ctx, "/v1/invoices", params)
	if err != nil {
		return nil, "", err
	}

	invoices := make([]erpInvoice, 0, len(parsed.Data))
	for _, raw := range parsed.Data {
		var inv erpInvoice
		if err := json.Unmarshal(raw, &inv); err != nil {
			return nil, "", fmt.Errorf("decoding invoice: %w", err)
		}
		invoices = append(invoices, inv)
	}

	next := parsed.NextCursor
	if parsed.HasMore != nil && !*parsed.HasMore {
		next = ""
	}
	return invoices, next, nil
}
