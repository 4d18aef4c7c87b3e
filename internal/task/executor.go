// Package task implements the Task Executor: the per-task pipeline that
// validates a task, resolves its route, injects cookie/proxy, acquires a
// concurrency permit, and issues the upstream request.
package task

import (
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	obsctx "github.com/mousehunter-quant/crawler-worker/internal/observability"

	"github.com/mousehunter-quant/crawler-worker/internal/domain"
	"github.com/mousehunter-quant/crawler-worker/internal/gate"
)

// Metrics is the narrow surface the executor needs from the metrics
// registry, kept as an interface so unit tests don't need a live Prometheus
// registry.
type Metrics interface {
	ObserveTaskOutcome(market domain.Market, errorKind domain.ErrorKind, duration time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) ObserveTaskOutcome(domain.Market, domain.ErrorKind, time.Duration) {}

// Executor composes the Resource Cache Client, Provider Router, Concurrency
// Gate, and Upstream Request Executor into the single-task pipeline of
// spec.md §4.E.
type Executor struct {
	Cache    domain.ResourceCache
	Router   domain.ProviderRouter
	Gate     *gate.Gate
	Requests domain.RequestExecutor
	Metrics  Metrics

	WorkerID              string
	EnableProxyInjection  bool
	EnableCookieInjection bool
}

// New builds an Executor; a nil Metrics falls back to a no-op.
func New(cache domain.ResourceCache, router domain.ProviderRouter, g *gate.Gate, requests domain.RequestExecutor, metrics Metrics, workerID string, enableProxy, enableCookie bool) *Executor {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Executor{
		Cache:                 cache,
		Router:                router,
		Gate:                  g,
		Requests:              requests,
		Metrics:               metrics,
		WorkerID:              workerID,
		EnableProxyInjection:  enableProxy,
		EnableCookieInjection: enableCookie,
	}
}

// Execute runs the full task pipeline, returning a TaskResult that is never
// nil: every failure path is captured as a TaskResult with the right
// ErrorKind rather than a bare error, so the caller (the Worker Supervisor)
// always has something to ack/no-ack against.
func (e *Executor) Execute(ctx domain.Context, t domain.Task) domain.TaskResult {
	tr := otel.Tracer("task.executor")
	ctx, span := tr.Start(ctx, "Executor.Execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("task_id", t.TaskID),
		attribute.String("market", string(t.Market)),
		attribute.String("task_type", string(t.TaskType)),
	)

	lg := obsctx.LoggerFromContext(ctx).With(
		slog.String("task_id", t.TaskID),
		slog.String("market", string(t.Market)),
		slog.String("task_type", string(t.TaskType)),
	)

	result := domain.TaskResult{TaskID: t.TaskID, StartedAt: time.Now(), WorkerID: e.WorkerID}
	defer func() {
		result.FinishedAt = time.Now()
		e.Metrics.ObserveTaskOutcome(t.Market, result.ErrorKind, result.FinishedAt.Sub(result.StartedAt))
		if !result.Success {
			span.SetStatus(codes.Error, string(result.ErrorKind))
		}
	}()

	// Step 1: validate.
	if err := Validate(t); err != nil {
		lg.Warn("task validation failed", slog.Any("error", err))
		return e.fail(result, domain.ErrInvalidTask, err.Error())
	}

	// Step 2: resolve route.
	route, err := e.Router.Route(t)
	if err != nil {
		lg.Warn("no route for task", slog.Any("error", err))
		return e.fail(result, domain.ErrUnsupportedTask, err.Error())
	}

	// Step 3: resolve cookie, if this task needs one.
	var cookieText string
	if e.EnableCookieInjection && t.RequiresCookie() {
		rec, ok, cerr := e.Cache.GetCookie(ctx, t.Market, t.Payload.CookieID)
		if cerr != nil {
			lg.Error("cookie lookup failed", slog.Any("error", cerr))
			return e.fail(result, domain.ErrInternalError, cerr.Error())
		}
		if !ok {
			lg.Warn("no resolvable cookie", slog.String("cookie_id", t.Payload.CookieID))
			return e.fail(result, domain.ErrMissingCookie, fmt.Sprintf("no cookie for cookie_id=%s", t.Payload.CookieID))
		}
		cookieText = rec.CookieText
	}

	// Step 4: resolve proxy, before gate selection (the gate routes on
	// whether a proxy was actually obtained, not just requested).
	var proxyURL string
	if e.EnableProxyInjection {
		p, ok, perr := e.Cache.GetRandomProxy(ctx, t.Market)
		if perr != nil {
			lg.Warn("proxy lookup failed, proceeding without proxy", slog.Any("error", perr))
		} else if ok {
			proxyURL = p
		}
	}

	// Step 5: acquire a concurrency permit from the gate matching usesProxy.
	release, gerr := e.Gate.Acquire(ctx, proxyURL != "")
	if gerr != nil {
		lg.Warn("gate acquire cancelled", slog.Any("error", gerr))
		return e.fail(result, domain.ErrCancelled, gerr.Error())
	}
	defer release()

	// Step 6: build and issue the upstream request.
	req := domain.UpstreamRequest{
		Market:     t.Market,
		Endpoint:   route.Endpoint,
		URL:        route.BaseURL + route.Path,
		Method:     route.Method,
		Headers:    t.Payload.Headers,
		Query:      buildQuery(t, route),
		Body:       t.Payload.Body,
		ProxyURL:   proxyURL,
		CookieText: cookieText,
		Deadline:   t.EffectiveTimeout(),
		Symbol:     t.Symbol,
	}

	data, recordsCount, statusCode, errKind, rerr := e.Requests.Execute(ctx, req)
	if rerr != nil {
		lg.Warn("upstream request failed", slog.Any("error", rerr), slog.String("error_kind", string(errKind)))
		result.StatusCode = statusCode
		result.UsedProxy = proxyURL != ""
		result.UsedCookieID = t.Payload.CookieID
		return e.fail(result, errKind, rerr.Error())
	}

	// Step 7: for backfill task types, trim the K-line items to the
	// requested inclusive date range before returning (§8/R2).
	isBackfill := t.TaskType == domain.Task15mBackfill || t.TaskType == domain.Task1dBackfill
	if isBackfill && t.Payload.StartDate != "" && t.Payload.EndDate != "" {
		filtered, filteredCount, ferr := filterBackfillRange(data, t.Payload.StartDate, t.Payload.EndDate)
		if ferr != nil {
			lg.Warn("backfill range filter failed", slog.Any("error", ferr))
			return e.fail(result, domain.ErrInternalError, ferr.Error())
		}
		data = filtered
		recordsCount = filteredCount
	}

	// Step 8: success.
	result.Success = true
	result.Data = data
	result.RecordsCount = recordsCount
	result.StatusCode = statusCode
	result.UsedProxy = proxyURL != ""
	result.UsedCookieID = t.Payload.CookieID
	lg.Info("task succeeded", slog.Int("records_count", recordsCount))
	return result
}

func (e *Executor) fail(result domain.TaskResult, kind domain.ErrorKind, detail string) domain.TaskResult {
	result.Success = false
	result.ErrorKind = kind
	result.ErrorDetail = detail
	return result
}

func buildQuery(t domain.Task, route domain.Route) map[string]string {
	q := map[string]string{"symbol": t.Symbol}
	if route.Period != "" {
		q["period"] = route.Period
	}
	if t.Payload.StartDate != "" {
		q["start_date"] = t.Payload.StartDate
	}
	if t.Payload.EndDate != "" {
		q["end_date"] = t.Payload.EndDate
	}
	if t.Payload.Count > 0 {
		q["count"] = fmt.Sprintf("%d", t.Payload.Count)
	}
	return q
}

