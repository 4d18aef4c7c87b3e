// Package upstream implements the HTTP request executor that issues one
// provider call per task, applying the 45-second hard deadline, proxy
// injection, and the records_count precedence rule.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/mousehunter-quant/crawler-worker/internal/domain"
)

// userAgentPool is a fixed rotation of realistic desktop browser UAs, used so
// no two requests in a scrape burst look identical. Mirrors the
// browser-fingerprint-profile pattern (rotate UA + headers as a bundle)
// rather than randomizing individual fields independently.
var userAgentPool = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
}

func randomUserAgent() string {
	return userAgentPool[rand.Intn(len(userAgentPool))]
}

// ValidatorLookup resolves the envelope validator for a market, so Executor
// stays decoupled from the provider package's concrete types.
type ValidatorLookup func(market domain.Market) domain.EnvelopeValidator

// Executor is the domain.RequestExecutor implementation wrapping a
// transport-instrumented http.Client.
type Executor struct {
	client     *http.Client
	validators ValidatorLookup
}

// New builds an Executor around an otelhttp-instrumented client over
// http.DefaultTransport. Calls that carry a proxy use a separate per-call
// client instead (see clientWithProxy).
func New(validators ValidatorLookup) *Executor {
	transport := otelhttp.NewTransport(http.DefaultTransport,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return fmt.Sprintf("upstream %s %s", r.Method, r.URL.Host)
		}),
	)
	return &Executor{
		client:     &http.Client{Transport: transport},
		validators: validators,
	}
}

// Execute issues req.Method req.URL, honoring req.Deadline and req.ProxyURL,
// then decodes and classifies the response via the market's envelope
// validator, returning the inner data payload and its records_count.
func (e *Executor) Execute(ctx context.Context, req domain.UpstreamRequest) (json.RawMessage, int, int, domain.ErrorKind, error) {
	ctx, cancel := context.WithTimeout(ctx, req.Deadline)
	defer cancel()

	httpReq, err := buildHTTPRequest(ctx, req)
	if err != nil {
		return nil, 0, 0, domain.ErrInvalidTask, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}

	client := e.client
	if req.ProxyURL != "" {
		proxyClient, perr := e.clientWithProxy(req.ProxyURL)
		if perr != nil {
			return nil, 0, 0, domain.ErrProxyError, fmt.Errorf("op=upstream.Execute: %w", perr)
		}
		client = proxyClient
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, 0, domain.ErrTimeout, fmt.Errorf("op=upstream.Execute: %w", ctx.Err())
		}
		return nil, 0, 0, domain.ErrNetworkError, fmt.Errorf("op=upstream.Execute: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, resp.StatusCode, domain.ErrNetworkError, fmt.Errorf("op=upstream.Execute: %w", err)
	}

	validator := e.validators(req.Market)
	data, errKind, detail, ok := validator.Validate(body)
	if !ok {
		// A body that does not decode as a JSON object on a non-2xx
		// response is a transport failure wearing a gateway page, not a
		// provider-level rejection: classify it by HTTP status so a 502/503
		// HTML blob is redelivered instead of acked as terminal. A decodable
		// envelope keeps the validator's classification whatever the status.
		var probe map[string]json.RawMessage
		if resp.StatusCode >= 400 && json.Unmarshal(body, &probe) != nil {
			kind := domain.ErrHTTP4xx
			if resp.StatusCode >= 500 {
				kind = domain.ErrHTTP5xx
			}
			return nil, 0, resp.StatusCode, kind, fmt.Errorf("op=upstream.Execute: http status %d (envelope invalid: %s)", resp.StatusCode, detail)
		}
		return nil, 0, resp.StatusCode, errKind, fmt.Errorf("op=upstream.Execute: %s", detail)
	}
	if resp.StatusCode >= 400 {
		kind := domain.ErrHTTP4xx
		if resp.StatusCode >= 500 {
			kind = domain.ErrHTTP5xx
		}
		return nil, 0, resp.StatusCode, kind, fmt.Errorf("op=upstream.Execute: http status %d", resp.StatusCode)
	}

	return data, RecordsCount(data), resp.StatusCode, "", nil
}

func buildHTTPRequest(ctx context.Context, req domain.UpstreamRequest) (*http.Request, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if len(req.Query) > 0 {
		q := u.Query()
		for k, v := range req.Query {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	applyDefaultHeaders(httpReq, u, req.Symbol)
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if req.CookieText != "" {
		httpReq.Header.Set("Cookie", req.CookieText)
	}
	return httpReq, nil
}

// applyDefaultHeaders sets the baseline browser-like header set every
// provider call carries: rotating User-Agent plus the Accept/Referer/Origin
// family a real browser session would send for a quote-page XHR. Callers
// (req.Headers) are applied after this and override these defaults.
func applyDefaultHeaders(httpReq *http.Request, u *url.URL, symbol string) {
	origin := u.Scheme + "://" + u.Host
	httpReq.Header.Set("User-Agent", randomUserAgent())
	httpReq.Header.Set("Accept", "application/json, text/plain, */*")
	httpReq.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
	httpReq.Header.Set("Referer", origin+"/S/"+symbol)
	httpReq.Header.Set("Origin", origin)
	httpReq.Header.Set("X-Requested-With", "XMLHttpRequest")
}

// clientWithProxy clones the base client's transport with the proxy set,
// per task, rather than mutating the shared client.
func (e *Executor) clientWithProxy(proxyURL string) (*http.Client, error) {
	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("parse proxy url: %w", err)
	}
	inner := http.DefaultTransport.(*http.Transport).Clone()
	inner.Proxy = http.ProxyURL(parsed)
	transport := otelhttp.NewTransport(inner,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return fmt.Sprintf("upstream-proxy %s %s", r.Method, r.URL.Host)
		}),
	)
	return &http.Client{Transport: transport}, nil
}

var _ domain.RequestExecutor = (*Executor)(nil)
