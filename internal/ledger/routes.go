package ledger

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/chainhound/chainhound/internal/core"
)

// Route describes where and how operations of one protocol are submitted.
type Route struct {
	Endpoint      string `yaml:"endpoint"`
	SubmitMethod  string `yaml:"submit_method"`
	ConfirmMethod string `yaml:"confirm_method"`
	CostMethod    string `yaml:"cost_method"`
}

// Routes maps protocol tags to their RPC routes.
type Routes struct {
	Default   Route                   `yaml:"default"`
	Protocols map[core.Protocol]Route `yaml:"protocols"`
}

// DefaultRoutes returns the built-in method names against the configured
// base endpoint.
func DefaultRoutes() *Routes {
	return &Routes{
		Default: Route{
			SubmitMethod:  "sendOperation",
			ConfirmMethod: "getOperationStatus",
			CostMethod:    "getOperationCost",
		},
	}
}

// LoadRoutes reads a YAML route table. Missing fields fall back to the
// defaults, so a file may override only what differs.
func LoadRoutes(path string) (*Routes, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read routes file: %w", err)
	}

	routes := DefaultRoutes()
	if err := yaml.Unmarshal(raw, routes); err != nil {
		return nil, fmt.Errorf("parse routes file: %w", err)
	}
	return routes, nil
}

// For resolves the route for a protocol, filling gaps from the default.
func (r *Routes) For(protocol core.Protocol) Route {
	if r == nil {
		return DefaultRoutes().Default
	}

	route := r.Default
	if override, ok := r.Protocols[protocol]; ok {
		if override.Endpoint != "" {
			route.Endpoint = override.Endpoint
		}
		if override.SubmitMethod != "" {
			route.SubmitMethod = override.SubmitMethod
		}
		if override.ConfirmMethod != "" {
			route.ConfirmMethod = override.ConfirmMethod
		}
		if override.CostMethod != "" {
			route.CostMethod = override.CostMethod
		}
	}
	return route
}
