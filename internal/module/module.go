// Package module defines the analysis module contract and the registry that
// loads modules. Builtins ship compiled in; external modules are Tengo
// scripts discovered from a plugin directory. Scripts run in a sandboxed VM
// with only safe stdlib modules.
package module

import (
	"encoding/json"
	"time"

	"github.com/ysmood/gson"

	"github.com/trafficlens/trafficlens/internal/actions"
	"github.com/trafficlens/trafficlens/internal/traffic"
)

// SourceBuiltin marks compiled-in modules in metadata listings.
const SourceBuiltin = "builtin"

// Param describes one parameter a module accepts.
type Param struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
	Description string      `json:"description,omitempty"`
}

// Metadata describes a module for listings.
type Metadata struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Version     string  `json:"version"`
	Description string  `json:"description,omitempty"`
	Params      []Param `json:"params,omitempty"`
	Source      string  `json:"source"`
}

// Context is the view of the engine a module sees during one run.
type Context struct {
	ProjectID  uint64
	Params     gson.JSON
	ActionKeys []string
	ScopeAllow []string
	ScopeDeny  []string
	NowUTC     time.Time

	// Actions returns the project's aggregated actions with risk attached,
	// filtered to ActionKeys when those are set.
	Actions func() ([]*actions.Action, error)

	// Records returns the project's raw traffic records. Only available to
	// builtin modules; the script sandbox sees actions, not captures.
	Records func() ([]*traffic.Record, error)
}

// Result is the raw output of a module run, before the executor normalizes
// findings. Each finding is a loose map so builtins and scripts share one
// contract: title (required), severity, description, evidence, tags,
// action_keys.
type Result struct {
	Findings []map[string]interface{}
	Summary  gson.JSON
}

// Module is an executable analysis module.
type Module interface {
	Metadata() Metadata
	Run(ctx *Context) (*Result, error)
}

// Param lookup helpers; modules treat params as a loose JSON object and fall
// back to declared defaults. Numbers may arrive as float64 (JSON decoding) or
// int64 (script values), so lookups type-switch instead of trusting one shape.

// ParamInt reads an integer parameter.
func ParamInt(params gson.JSON, key string, def int) int {
	m, ok := params.Val().(map[string]interface{})
	if !ok {
		return def
	}
	switch n := m[key].(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	}
	return def
}

// ParamStr reads a string parameter.
func ParamStr(params gson.JSON, key string, def string) string {
	m, ok := params.Val().(map[string]interface{})
	if !ok {
		return def
	}
	if s, ok := m[key].(string); ok {
		return s
	}
	return def
}

// NormalizeJSON wraps an arbitrary value as JSON-shaped data: everything is
// round-tripped through encoding/json so downstream readers only ever see
// maps, slices, strings, bools, and float64 numbers.
func NormalizeJSON(v interface{}) gson.JSON {
	data, err := json.Marshal(v)
	if err != nil {
		return gson.New(map[string]interface{}{})
	}
	return gson.NewFrom(string(data))
}
