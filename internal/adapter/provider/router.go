// Package provider implements the Provider Router (static per-market route
// dispatch) and the per-market envelope validators the Upstream Request
// Executor delegates to.
package provider

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/mousehunter-quant/crawler-worker/internal/domain"
)

//go:embed providers.yaml
var embeddedProvidersYAML []byte

type routeYAML struct {
	Path     string `yaml:"path"`
	Method   string `yaml:"method"`
	Endpoint string `yaml:"endpoint"`
	Period   string `yaml:"period"`
}

type endpointYAML struct {
	Path   string `yaml:"path"`
	Method string `yaml:"method"`
}

type marketYAML struct {
	BaseURL   string                  `yaml:"base_url"`
	Routes    map[string]routeYAML    `yaml:"routes"`
	Endpoints map[string]endpointYAML `yaml:"endpoints"`
}

type providersYAML struct {
	Markets map[string]marketYAML `yaml:"markets"`
}

type routeKey struct {
	market   domain.Market
	taskType domain.TaskType
}

type endpointKey struct {
	market   domain.Market
	endpoint domain.Endpoint
}

// Router is the static (market, task_type) -> Route dispatch table, built
// once at construction time from the embedded YAML asset. A secondary
// (market, endpoint) table takes priority when a task names one of the
// explicit CN endpoints (quote/batch_quote/minute/detail) per §4.C.
type Router struct {
	routes         map[routeKey]domain.Route
	endpointRoutes map[endpointKey]domain.Route
}

// NewRouter parses the embedded providers.yaml into the dispatch table.
func NewRouter() (*Router, error) {
	return newRouterFromYAML(embeddedProvidersYAML)
}

func newRouterFromYAML(raw []byte) (*Router, error) {
	var parsed providersYAML
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("provider.NewRouter: parse yaml: %w", err)
	}

	routes := make(map[routeKey]domain.Route)
	endpointRoutes := make(map[endpointKey]domain.Route)
	for marketName, m := range parsed.Markets {
		market := domain.Market(marketName)
		for taskTypeName, r := range m.Routes {
			routes[routeKey{market: market, taskType: domain.TaskType(taskTypeName)}] = domain.Route{
				BaseURL:  m.BaseURL,
				Path:     r.Path,
				Method:   r.Method,
				Endpoint: domain.Endpoint(r.Endpoint),
				Period:   r.Period,
			}
		}
		for endpointName, e := range m.Endpoints {
			endpointRoutes[endpointKey{market: market, endpoint: domain.Endpoint(endpointName)}] = domain.Route{
				BaseURL:  m.BaseURL,
				Path:     e.Path,
				Method:   e.Method,
				Endpoint: domain.Endpoint(endpointName),
			}
		}
	}
	return &Router{routes: routes, endpointRoutes: endpointRoutes}, nil
}

// Route resolves a task to its upstream route, per domain.ProviderRouter. An
// explicit endpoint override (CN quote/batch_quote/minute/detail) takes
// priority over the task_type dispatch table when present, per §4.C.
func (r *Router) Route(t domain.Task) (domain.Route, error) {
	if route, ok := r.endpointRoutes[endpointKey{market: t.Market, endpoint: t.Endpoint}]; ok {
		return route, nil
	}
	route, ok := r.routes[routeKey{market: t.Market, taskType: t.TaskType}]
	if !ok {
		return domain.Route{}, fmt.Errorf("%w: market=%s task_type=%s", domain.ErrNoRoute, t.Market, t.TaskType)
	}
	return route, nil
}

var _ domain.ProviderRouter = (*Router)(nil)
