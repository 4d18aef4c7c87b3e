package domain

import (
	"context"
	"encoding/json"
	"time"
)

// Context is an alias to context.Context, kept so call sites read like the
// rest of the domain layer without importing "context" directly.
type Context = context.Context

// Market enumerates the upstream markets a task can target.
type Market string

const (
	MarketCN Market = "CN"
	MarketUS Market = "US"
	MarketHK Market = "HK"
)

// TaskType enumerates the crawl task kinds the broker can enqueue.
type TaskType string

const (
	TaskMinute1mRealtime  TaskType = "1m_realtime"
	TaskMinute5mRealtime  TaskType = "5m_realtime"
	TaskMinute15mRealtime TaskType = "15m_realtime"
	Task15mBackfill       TaskType = "15m_backfill"
	Task1dBackfill        TaskType = "1d_backfill"
	TaskUS1mRealtime      TaskType = "us_1m_realtime"
	TaskHK1mRealtime      TaskType = "hk_1m_realtime"
)

// Endpoint tags the provider-side endpoint a task resolves to.
type Endpoint string

const (
	EndpointKline      Endpoint = "kline"
	EndpointQuote      Endpoint = "quote"
	EndpointBatchQuote Endpoint = "batch_quote"
	EndpointMinute     Endpoint = "minute"
	EndpointDetail     Endpoint = "detail"
)

// maxRequestTimeout is the hard cap spec §3 places on every outbound request
// regardless of what the caller asked for.
const maxRequestTimeout = 45 * time.Second

// TaskPayload carries the free-form fields a Task may declare. Fields named
// by spec §3 get their own struct field; anything else lands in Extras so a
// new upstream parameter never requires a schema migration.
type TaskPayload struct {
	CookieID  string            `json:"cookie_id,omitempty"`
	Proxy     string            `json:"proxy,omitempty"`
	StartDate string            `json:"start_date,omitempty"`
	EndDate   string            `json:"end_date,omitempty"`
	Period    string            `json:"period,omitempty"`
	Count     int               `json:"count,omitempty"`
	Method    string            `json:"method,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Body      json.RawMessage   `json:"body,omitempty"`
	Extras    map[string]any    `json:"extras,omitempty"`
}

// Task is the unit of work dequeued from the broker.
type Task struct {
	TaskID     string      `json:"task_id" validate:"required"`
	TaskType   TaskType    `json:"task_type" validate:"required"`
	Market     Market      `json:"market" validate:"required,oneof=CN US HK"`
	Symbol     string      `json:"symbol" validate:"required"`
	Endpoint   Endpoint    `json:"endpoint" validate:"required"`
	Payload    TaskPayload `json:"payload"`
	EnqueuedAt time.Time   `json:"enqueued_at"`
	Attempt    int         `json:"attempt" validate:"gte=0"`
	TimeoutS   int         `json:"timeout_s" validate:"gte=0"`
}

// EffectiveTimeout returns min(TimeoutS, 45s), never larger, per spec §3/§5.
func (t Task) EffectiveTimeout() time.Duration {
	if t.TimeoutS <= 0 {
		return maxRequestTimeout
	}
	requested := time.Duration(t.TimeoutS) * time.Second
	if requested > maxRequestTimeout {
		return maxRequestTimeout
	}
	return requested
}

// RequiresCookie reports whether market/endpoint combination is one of the
// CN primary endpoints that must carry a resolvable cookie (spec §3 invariant).
func (t Task) RequiresCookie() bool {
	if t.Market != MarketCN {
		return false
	}
	switch t.Endpoint {
	case EndpointKline, EndpointQuote, EndpointBatchQuote, EndpointMinute, EndpointDetail:
		return true
	default:
		return false
	}
}

// TaskResult is the outcome of processing one Task.
type TaskResult struct {
	TaskID        string          `json:"task_id"`
	Success       bool            `json:"success"`
	Data          json.RawMessage `json:"data,omitempty"`
	RecordsCount  int             `json:"records_count"`
	ErrorKind     ErrorKind       `json:"error_kind,omitempty"`
	ErrorDetail   string          `json:"error_detail,omitempty"`
	StatusCode    int             `json:"status_code,omitempty"`
	StartedAt     time.Time       `json:"started_at"`
	FinishedAt    time.Time       `json:"finished_at"`
	WorkerID      string          `json:"worker_id"`
	UsedProxy     bool            `json:"used_proxy"`
	UsedCookieID  string          `json:"used_cookie_id,omitempty"`
}

// Terminal reports whether this result's message should be acked.
func (r TaskResult) Terminal() bool {
	if r.Success {
		return true
	}
	return r.ErrorKind.Terminal()
}

// CookieRecord is a read-only authentication cookie sourced from the shared
// resource cache.
type CookieRecord struct {
	CookieID   string    `json:"cookie_id"`
	CookieText string    `json:"cookie_text"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Expired reports whether the cookie record is no longer usable as of now.
func (c CookieRecord) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// ProxyList is the ephemeral set of active proxies for a market.
type ProxyList struct {
	Proxies     []string  `json:"proxies"`
	RefreshedAt time.Time `json:"refreshed_at"`
}

// Tier is one of the three worker priority classes.
type Tier string

const (
	TierCritical Tier = "CRITICAL"
	TierHigh     Tier = "HIGH"
	TierNormal   Tier = "NORMAL"
)

// WorkerStatus is the lifecycle state of a worker process.
type WorkerStatus string

const (
	WorkerStarting WorkerStatus = "starting"
	WorkerRunning  WorkerStatus = "running"
	WorkerDraining WorkerStatus = "draining"
	WorkerStopped  WorkerStatus = "stopped"
)

// WorkerDescriptor is the process-level state exposed for introspection.
type WorkerDescriptor struct {
	WorkerID         string
	Tier             Tier
	SubscribedQueues []string
	MaxConcurrent    int
	Status           WorkerStatus
	InFlightCount    int
	ProcessedTotal   int64
	FailedTotal      int64
}

// ResourceCache is the read-through port onto the broker's shared keyspace
// (component A). Both methods return ("", false)/(CookieRecord{}, false) on miss
// without error; a non-nil error only signals a transport failure.
type ResourceCache interface {
	GetCookie(ctx Context, market Market, cookieID string) (CookieRecord, bool, error)
	GetRandomProxy(ctx Context, market Market) (string, bool, error)
}

// UpstreamRequest is one outbound HTTP call assembled by the Provider Router
// and issued by the Upstream Request Executor (component B).
type UpstreamRequest struct {
	Market      Market
	Endpoint    Endpoint
	URL         string
	Method      string
	Headers     map[string]string
	Query       map[string]string
	Body        []byte
	ProxyURL    string
	CookieText  string
	Deadline    time.Duration
	Symbol      string
}

// RequestExecutor issues one upstream HTTP request and returns a validated
// envelope (component B). On failure, errKind classifies the failure per
// the error taxonomy so callers never need to parse err's text.
type RequestExecutor interface {
	Execute(ctx Context, req UpstreamRequest) (data json.RawMessage, recordsCount int, statusCode int, errKind ErrorKind, err error)
}

// Route is what the Provider Router resolves a (market, task_type) pair to.
type Route struct {
	BaseURL  string
	Path     string
	Method   string
	Endpoint Endpoint
	Period   string
}

// ProviderRouter dispatches a task to its upstream route (component C).
type ProviderRouter interface {
	Route(t Task) (Route, error)
}

// EnvelopeValidator decodes and classifies one provider's raw HTTP response
// body. A provider whose envelope reports success returns ok=true with the
// inner `data` payload; otherwise ok=false with the error kind/detail the
// Task Executor should surface. This is the one extensibility seam between
// markets with otherwise identical CN/US/HK executor logic.
type EnvelopeValidator interface {
	Validate(body []byte) (data json.RawMessage, errKind ErrorKind, detail string, ok bool)
}
