// Package engine is the embeddable facade over the triage engine: projects,
// capture import, action aggregation, risk scoring, and module runs.
package engine

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/ysmood/gson"

	"github.com/trafficlens/trafficlens/internal/actions"
	engerr "github.com/trafficlens/trafficlens/internal/errors"
	"github.com/trafficlens/trafficlens/internal/har"
	"github.com/trafficlens/trafficlens/internal/logger"
	"github.com/trafficlens/trafficlens/internal/metrics"
	"github.com/trafficlens/trafficlens/internal/module"
	"github.com/trafficlens/trafficlens/internal/risk"
	"github.com/trafficlens/trafficlens/internal/runner"
	"github.com/trafficlens/trafficlens/internal/scope"
	"github.com/trafficlens/trafficlens/internal/store"
	"github.com/trafficlens/trafficlens/internal/traffic"
)

const importBatchSize = 500

// DefaultROE is the rules-of-engagement template new projects start with.
var DefaultROE = json.RawMessage(`{"active_testing":false,"destructive_actions":false,"max_qps":1,"notes":""}`)

// Engine ties the store, module registry, and run executor together.
type Engine struct {
	cfg      *Config
	store    *store.Store
	registry *module.Registry
	exec     *runner.Executor
	metrics  *metrics.Collector
	log      *logger.Logger
}

// New creates an engine, opening the database and scanning the module
// directory.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:     DefaultConfig(),
		metrics: metrics.New(),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}

	if level, err := logger.ParseLevel(e.cfg.LogLevel); err == nil {
		logger.Global().SetLevel(level)
	}
	e.log = logger.Global().WithComponent("engine")

	st, err := store.Open(e.cfg.DBPath)
	if err != nil {
		return nil, err
	}
	e.store = st

	e.registry = module.NewRegistry(e.cfg.ModulesDir, e.cfg.DevReload)
	for range e.registry.LoadErrors() {
		e.metrics.RecordModuleLoadError()
	}
	e.exec = runner.New(st, e.metrics)

	return e, nil
}

// Close releases the underlying database.
func (e *Engine) Close() error {
	return e.store.Close()
}

// Metrics returns a snapshot of engine counters.
func (e *Engine) Metrics() metrics.Snapshot {
	return e.metrics.Snapshot()
}

// =============================================================================
// Projects
// =============================================================================

// CreateProject creates a project. Scope lists arrive as raw text, one
// pattern per line; bare registrable hosts expand to host plus wildcard.
func (e *Engine) CreateProject(name, allowText, denyText string, qps float64) (*store.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, engerr.NewValidation("project name is required")
	}
	if qps < 0 {
		return nil, engerr.NewValidation("qps must be >= 0")
	}

	p := &store.Project{
		Name:       name,
		ScopeAllow: scope.ParseLines(allowText),
		ScopeDeny:  scope.ParseLines(denyText),
		QPS:        qps,
		ROE:        append(json.RawMessage(nil), DefaultROE...),
	}
	if err := e.store.CreateProject(p); err != nil {
		return nil, err
	}
	e.log.WithProject(p.ID).Infof("project %q created", p.Name)
	return p, nil
}

// Projects lists all projects.
func (e *Engine) Projects() ([]*store.Project, error) {
	return e.store.Projects()
}

// Project loads one project.
func (e *Engine) Project(id uint64) (*store.Project, error) {
	return e.store.Project(id)
}

// ProjectUpdate carries optional field updates; nil means keep.
type ProjectUpdate struct {
	Name      *string
	AllowText *string
	DenyText  *string
	QPS       *float64
	ROE       json.RawMessage
}

// UpdateProject applies a partial update to a project.
func (e *Engine) UpdateProject(id uint64, upd ProjectUpdate) (*store.Project, error) {
	p, err := e.store.Project(id)
	if err != nil {
		return nil, err
	}

	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return nil, engerr.NewValidation("project name is required")
		}
		p.Name = name
	}
	if upd.AllowText != nil {
		p.ScopeAllow = scope.ParseLines(*upd.AllowText)
	}
	if upd.DenyText != nil {
		p.ScopeDeny = scope.ParseLines(*upd.DenyText)
	}
	if upd.QPS != nil {
		if *upd.QPS < 0 {
			return nil, engerr.NewValidation("qps must be >= 0")
		}
		p.QPS = *upd.QPS
	}
	if upd.ROE != nil {
		if !json.Valid(upd.ROE) {
			return nil, engerr.NewValidation("roe must be valid JSON")
		}
		p.ROE = upd.ROE
	}

	if err := e.store.UpdateProject(p); err != nil {
		return nil, err
	}
	return p, nil
}

// =============================================================================
// Capture import
// =============================================================================

// ImportStats summarizes one capture import.
type ImportStats struct {
	Parsed     int `json:"parsed"`
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
	Assets     int `json:"assets_skipped"`
}

// ImportHAR parses a HAR stream and appends its records to the project.
// Static asset responses are skipped and inserts happen in batches. Every
// parsed record is kept by default so action counts reflect observed
// frequency; with dedup enabled, records matching an already-stored or
// already-imported fingerprint are suppressed instead.
func (e *Engine) ImportHAR(projectID uint64, r io.Reader) (*ImportStats, error) {
	if _, err := e.store.Project(projectID); err != nil {
		return nil, err
	}

	recs, err := har.ParseReader(r, e.cfg.MaxHARBytes)
	if err != nil {
		return nil, err
	}

	var dedup *store.Deduplicator
	if e.cfg.Dedup {
		existing, err := e.store.Records(projectID)
		if err != nil {
			return nil, err
		}
		dedup = store.NewDeduplicator(len(existing) + len(recs))
		dedup.Seed(existing)
	}

	stats := &ImportStats{Parsed: len(recs)}
	batch := make([]*traffic.Record, 0, importBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := e.store.AppendRecords(projectID, batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for _, rec := range recs {
		if har.IsAssetMime(rec.EffectiveMime()) {
			stats.Assets++
			continue
		}
		if dedup != nil && !dedup.Observe(rec) {
			stats.Duplicates++
			continue
		}
		batch = append(batch, rec)
		stats.Inserted++
		if len(batch) >= importBatchSize {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}

	e.log.ImportEvent(projectID, stats.Inserted, stats.Assets, stats.Duplicates)
	e.metrics.RecordImport(stats.Inserted, stats.Duplicates, stats.Assets)
	return stats, nil
}

// =============================================================================
// Actions
// =============================================================================

// Actions aggregates the project's traffic into actions, optionally
// decorated with risk scores against the project scope.
func (e *Engine) Actions(projectID uint64, includeRisk bool) ([]*actions.Action, error) {
	p, err := e.store.Project(projectID)
	if err != nil {
		return nil, err
	}
	recs, err := e.store.Records(projectID)
	if err != nil {
		return nil, err
	}

	acts := actions.Build(recs, e.cfg.SampleLimit)
	if includeRisk {
		risk.AttachRisk(acts, p.ScopeAllow, p.ScopeDeny)
	}
	e.metrics.RecordActionsBuilt(len(acts))
	return acts, nil
}

// =============================================================================
// Modules and runs
// =============================================================================

// Modules lists all available modules.
func (e *Engine) Modules() []module.Metadata {
	return e.registry.List()
}

// RefreshModules rescans the module directory and reports load errors.
func (e *Engine) RefreshModules() []error {
	errs := e.registry.Refresh()
	for range errs {
		e.metrics.RecordModuleLoadError()
	}
	return errs
}

// Execute runs a module against a project. paramsJSON is an optional JSON
// object; actionKeys optionally restricts the module's view to those actions.
// Module failures are persisted on the run and returned.
func (e *Engine) Execute(projectID uint64, moduleID, paramsJSON string, actionKeys []string) (*store.Run, error) {
	p, err := e.store.Project(projectID)
	if err != nil {
		return nil, err
	}
	mod, err := e.registry.Get(moduleID)
	if err != nil {
		return nil, err
	}
	params, err := parseParams(paramsJSON)
	if err != nil {
		return nil, err
	}

	req := runner.Request{
		Project:    p,
		Module:     mod,
		Params:     params,
		ActionKeys: actionKeys,
		Actions: func() ([]*actions.Action, error) {
			acts, err := e.Actions(projectID, true)
			if err != nil {
				return nil, err
			}
			return filterActions(acts, actionKeys), nil
		},
		Records: func() ([]*traffic.Record, error) {
			return e.store.Records(projectID)
		},
	}
	return e.exec.Execute(req)
}

func parseParams(paramsJSON string) (gson.JSON, error) {
	paramsJSON = strings.TrimSpace(paramsJSON)
	if paramsJSON == "" {
		return gson.New(map[string]interface{}{}), nil
	}

	var v interface{}
	if err := json.Unmarshal([]byte(paramsJSON), &v); err != nil {
		return gson.JSON{}, engerr.NewValidation(fmt.Sprintf("params must be valid JSON: %v", err))
	}
	if _, ok := v.(map[string]interface{}); !ok {
		return gson.JSON{}, engerr.NewValidation("params must be a JSON object")
	}
	return gson.New(v), nil
}

func filterActions(acts []*actions.Action, keys []string) []*actions.Action {
	if len(keys) == 0 {
		return acts
	}
	want := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		want[k] = struct{}{}
	}
	out := make([]*actions.Action, 0, len(keys))
	for _, a := range acts {
		if _, ok := want[a.Key]; ok {
			out = append(out, a)
		}
	}
	return out
}

// Runs lists a project's runs, newest first.
func (e *Engine) Runs(projectID uint64) ([]*store.Run, error) {
	if _, err := e.store.Project(projectID); err != nil {
		return nil, err
	}
	return e.store.RunsByProject(projectID)
}

// Run loads one run.
func (e *Engine) Run(id string) (*store.Run, error) {
	return e.store.Run(id)
}

// Findings lists the findings a run produced.
func (e *Engine) Findings(runID string) ([]*store.Finding, error) {
	if _, err := e.store.Run(runID); err != nil {
		return nil, err
	}
	return e.store.FindingsByRun(runID)
}

// ProjectFindings lists all findings across a project's runs.
func (e *Engine) ProjectFindings(projectID uint64) ([]*store.Finding, error) {
	if _, err := e.store.Project(projectID); err != nil {
		return nil, err
	}
	return e.store.FindingsByProject(projectID)
}

// =============================================================================
// Summary
// =============================================================================

const summaryTopN = 25

// HostCount is one entry in a summary leaderboard.
type HostCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// ProjectSummary is a coarse overview of a project's captured surface.
type ProjectSummary struct {
	Project  *store.Project `json:"project"`
	Records  int            `json:"records"`
	Actions  int            `json:"actions"`
	Runs     int            `json:"runs"`
	Findings int            `json:"findings"`
	TopHosts []HostCount    `json:"top_hosts"`
	TopMimes []HostCount    `json:"top_mimes"`
}

// Summary builds the project overview: record and action counts plus the
// busiest hosts and mime types.
func (e *Engine) Summary(projectID uint64) (*ProjectSummary, error) {
	p, err := e.store.Project(projectID)
	if err != nil {
		return nil, err
	}
	recs, err := e.store.Records(projectID)
	if err != nil {
		return nil, err
	}
	runs, err := e.store.RunsByProject(projectID)
	if err != nil {
		return nil, err
	}
	findings, err := e.store.FindingsByProject(projectID)
	if err != nil {
		return nil, err
	}

	hosts := make(map[string]int)
	mimes := make(map[string]int)
	for _, rec := range recs {
		hosts[rec.EffectiveHost()]++
		mimes[rec.EffectiveMime()]++
	}

	return &ProjectSummary{
		Project:  p,
		Records:  len(recs),
		Actions:  len(actions.Build(recs, e.cfg.SampleLimit)),
		Runs:     len(runs),
		Findings: len(findings),
		TopHosts: topCounts(hosts, summaryTopN),
		TopMimes: topCounts(mimes, summaryTopN),
	}, nil
}

func topCounts(m map[string]int, n int) []HostCount {
	out := make([]HostCount, 0, len(m))
	for name, count := range m {
		out = append(out, HostCount{Name: name, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
