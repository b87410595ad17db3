package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"VNPriceCache/internal/config"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// Option configures an HTTP-backed adapter.
type Option func(*httpClient)

// WithHTTPClient replaces the default client, e.g. for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(h *httpClient) { h.client = c }
}

// WithLogger sets the adapter logger.
func WithLogger(l zerolog.Logger) Option {
	return func(h *httpClient) { h.logger = l }
}

// WithRateLimit caps requests per second to the provider.
func WithRateLimit(perSec float64) Option {
	return func(h *httpClient) {
		burst := int(perSec)
		if burst < 1 {
			burst = 1
		}
		h.limiter = rate.NewLimiter(rate.Limit(perSec), burst)
	}
}

// httpClient is the transport shared by the provider adapters.
type httpClient struct {
	provider string
	baseURL  string
	client   *http.Client
	limiter  *rate.Limiter
	logger   zerolog.Logger
}

func newHTTPClient(provider string, sc config.SourceConfig, proxyURL string, opts ...Option) *httpClient {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	timeout := sc.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	h := &httpClient{
		provider: provider,
		baseURL:  sc.BaseURL,
		client:   &http.Client{Timeout: timeout, Transport: transport},
		logger:   zerolog.Nop(),
	}
	if sc.RatePerSec > 0 {
		WithRateLimit(sc.RatePerSec)(h)
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// do sends req and returns the body of a 200 response. Non-200 responses come
// back as *APIError with the body attached.
func (h *httpClient) do(ctx context.Context, req *http.Request) ([]byte, error) {
	if h.limiter != nil {
		if err := h.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%s: rate limiter: %w", h.provider, err)
		}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	h.logger.Debug().Str("provider", h.provider).Str("url", req.URL.String()).Msg("provider request")

	resp, err := h.client.Do(req.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", h.provider, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s read body: %w", h.provider, err)
	}
	if resp.StatusCode != http.StatusOK {
		return body, &APIError{Provider: h.provider, StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// classify turns a transport or API failure into a Result.
func classify(err error) Result {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests || hasRateLimitMarker(apiErr.Body) {
			return rateLimited(err)
		}
		return unavailable(err)
	}
	if hasRateLimitMarker(err.Error()) {
		return rateLimited(err)
	}
	return unavailable(err)
}
