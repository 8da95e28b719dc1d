// Package runner executes analysis modules against a project and records the
// outcome. A run finishes exactly once: the row is created in the running
// state and transitions to done or failed, never both and never back.
package runner

import (
	"encoding/json"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/ysmood/gson"

	"github.com/trafficlens/trafficlens/internal/actions"
	"github.com/trafficlens/trafficlens/internal/logger"
	"github.com/trafficlens/trafficlens/internal/metrics"
	"github.com/trafficlens/trafficlens/internal/module"
	"github.com/trafficlens/trafficlens/internal/store"
	"github.com/trafficlens/trafficlens/internal/traffic"
)

// Executor runs modules and persists runs and findings.
type Executor struct {
	store   *store.Store
	metrics *metrics.Collector
	log     *logger.Logger
}

// New creates an executor. The metrics collector may be nil.
func New(st *store.Store, collector *metrics.Collector) *Executor {
	if collector == nil {
		collector = metrics.New()
	}
	return &Executor{
		store:   st,
		metrics: collector,
		log:     logger.Global().WithComponent("runner"),
	}
}

// Request describes one module execution. Project and Module are already
// validated by the caller; Actions and Records supply the module's view of
// the project lazily.
type Request struct {
	Project    *store.Project
	Module     module.Module
	Params     gson.JSON
	ActionKeys []string
	Actions    func() ([]*actions.Action, error)
	Records    func() ([]*traffic.Record, error)
}

// Execute runs the module. The persisted run always reflects the outcome:
// module errors and panics are recorded on a failed run and then returned to
// the caller. Findings are only persisted for successful runs.
func (e *Executor) Execute(req Request) (*store.Run, error) {
	meta := req.Module.Metadata()

	run := &store.Run{
		ProjectID:  req.Project.ID,
		ModuleID:   meta.ID,
		Status:     store.StatusRunning,
		Params:     marshalLoose(req.Params.Val()),
		ActionKeys: req.ActionKeys,
	}
	if err := e.store.CreateRun(run); err != nil {
		return nil, err
	}

	start := time.Now()
	result, runErr := e.invoke(req)
	duration := time.Since(start)

	if runErr != nil {
		e.finishFailed(run, runErr)
		e.log.RunEvent(run.ID, meta.ID, string(store.StatusFailed), duration)
		e.metrics.RecordRun(meta.ID, true)
		return run, runErr
	}

	findings := e.normalizeFindings(run, meta.ID, result.Findings)
	if err := e.store.SaveFindings(findings); err != nil {
		e.finishFailed(run, err)
		e.metrics.RecordRun(meta.ID, true)
		return run, err
	}

	run.Status = store.StatusDone
	run.Summary = marshalLoose(map[string]interface{}{
		"module_id":        meta.ID,
		"findings_created": len(findings),
		"summary":          result.Summary.Val(),
	})
	now := time.Now().UTC()
	run.FinishedAt = &now
	if err := e.store.SaveRun(run); err != nil {
		// The run must still end in a terminal state, not linger as running.
		e.finishFailed(run, err)
		e.metrics.RecordRun(meta.ID, true)
		return run, err
	}

	e.log.RunEvent(run.ID, meta.ID, string(store.StatusDone), duration)
	e.metrics.RecordRun(meta.ID, false)
	e.metrics.RecordFindings(len(findings))
	return run, nil
}

// invoke calls the module with panic recovery; a panicking module fails its
// own run, not the engine.
func (e *Executor) invoke(req Request) (result *module.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("module panic: %v\n%s", r, debug.Stack())
		}
	}()

	ctx := &module.Context{
		ProjectID:  req.Project.ID,
		Params:     req.Params,
		ActionKeys: req.ActionKeys,
		ScopeAllow: req.Project.ScopeAllow,
		ScopeDeny:  req.Project.ScopeDeny,
		NowUTC:     time.Now().UTC(),
		Actions:    req.Actions,
		Records:    req.Records,
	}

	result, err = req.Module.Run(ctx)
	if err == nil && result == nil {
		err = fmt.Errorf("module %s returned no result", req.Module.Metadata().ID)
	}
	return result, err
}

func (e *Executor) finishFailed(run *store.Run, cause error) {
	run.Status = store.StatusFailed
	run.Error = cause.Error()
	now := time.Now().UTC()
	run.FinishedAt = &now
	if err := e.store.SaveRun(run); err != nil {
		e.log.WithError(err).Error("failed to persist failed run")
	}
}

// normalizeFindings converts raw module findings into rows. Entries without
// a title are dropped; severity is coerced onto the engine scale; evidence
// that is not an object is wrapped rather than discarded.
func (e *Executor) normalizeFindings(run *store.Run, moduleID string, raw []map[string]interface{}) []*store.Finding {
	var out []*store.Finding
	for _, f := range raw {
		title, _ := f["title"].(string)
		title = strings.TrimSpace(title)
		if title == "" {
			e.log.WithModule(moduleID).Warn("dropping finding without title")
			continue
		}

		severity, _ := f["severity"].(string)
		description, _ := f["description"].(string)

		out = append(out, &store.Finding{
			ProjectID:   run.ProjectID,
			RunID:       run.ID,
			ModuleID:    moduleID,
			Severity:    store.CoerceSeverity(severity),
			Title:       title,
			Description: description,
			Evidence:    coerceEvidence(f["evidence"]),
			Tags:        toStringSlice(f["tags"]),
			ActionKeys:  toStringSlice(f["action_keys"]),
		})
	}
	return out
}

// coerceEvidence keeps object evidence as-is and wraps any other non-nil
// value so no evidence is silently lost.
func coerceEvidence(v interface{}) json.RawMessage {
	if v == nil {
		return nil
	}
	if _, ok := v.(map[string]interface{}); !ok {
		v = map[string]interface{}{"_value": fmt.Sprint(v)}
	}
	return marshalLoose(v)
}

func marshalLoose(v interface{}) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

func toStringSlice(v interface{}) []string {
	switch vals := v.(type) {
	case []string:
		return vals
	case []interface{}:
		var out []string
		for _, item := range vals {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
