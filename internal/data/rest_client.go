package data

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ConnectorLane/internal/conf"
	"ConnectorLane/internal/metrics"
	"ConnectorLane/pkg/httpclient"

	"github.com/go-kratos/kratos/v2/log"
	"golang.org/x/time/rate"
)

const maxResponseBody = 4 << 20

// DMSError is a non-2xx response from a DMS API.
type DMSError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *DMSError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("%s API error: status %d: %s", e.Provider, e.StatusCode, body)
}

// IsNotFound reports whether err is a 404 from a DMS API.
func IsNotFound(err error) bool {
	var dmsErr *DMSError
	return errors.As(err, &dmsErr) && dmsErr.StatusCode == http.StatusNotFound
}

// restClient is the JSON-over-HTTP core shared by the provider connectors.
type restClient struct {
	provider  string
	baseURL   string
	http      *http.Client
	limiter   *rate.Limiter
	authorize func(req *http.Request)
	collector metrics.Collector
	logger    *log.Helper
}

func newRestClient(
	provider, baseURL, proxyURL string,
	c *conf.Connector,
	authorize func(req *http.Request),
	collector metrics.Collector,
	logger *log.Helper,
) (*restClient, error) {
	timeout := 30 * time.Second
	limit, burst := rate.Inf, 0
	if c != nil {
		if c.RequestTimeout > 0 {
			timeout = c.RequestTimeout
		}
		if c.RateLimit > 0 {
			limit = rate.Limit(c.RateLimit)
			burst = c.RateBurst
			if burst < 1 {
				burst = 1
			}
		}
	}

	client, err := httpclient.New(proxyURL, timeout)
	if err != nil {
		return nil, fmt.Errorf("%s http client: %w", provider, err)
	}
	if collector == nil {
		collector = metrics.NewNoopCollector()
	}

	return &restClient{
		provider:  provider,
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      client,
		limiter:   rate.NewLimiter(limit, burst),
		authorize: authorize,
		collector: collector,
		logger:    logger,
	}, nil
}

// do sends one request. in is encoded as the JSON body when non-nil; a 2xx
// body is decoded into out when out is non-nil. op names the call in metrics.
func (c *restClient) do(ctx context.Context, op, method, path string, in, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s rate limit: %w", c.provider, err)
	}

	var body io.Reader
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", op, err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authorize != nil {
		c.authorize(req)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.collector.ObserveConnectorCall(c.provider, op, 0, time.Since(start))
		return fmt.Errorf("%s %s: %w", c.provider, op, err)
	}
	defer resp.Body.Close()

	c.collector.ObserveConnectorCall(c.provider, op, resp.StatusCode, time.Since(start))

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("read %s response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Debugw("msg", "DMS API returned error status",
			"provider", c.provider,
			"operation", op,
			"status", resp.StatusCode)
		return &DMSError{Provider: c.provider, StatusCode: resp.StatusCode, Body: string(raw)}
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}

// get fetches a single resource. A 404 reports found=false with a nil error.
func (c *restClient) get(ctx context.Context, op, path string, out interface{}) (bool, error) {
	err := c.do(ctx, op, http.MethodGet, path, nil, out)
	if IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
