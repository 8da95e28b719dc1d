package runner

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ysmood/gson"

	"github.com/trafficlens/trafficlens/internal/actions"
	"github.com/trafficlens/trafficlens/internal/metrics"
	"github.com/trafficlens/trafficlens/internal/module"
	"github.com/trafficlens/trafficlens/internal/store"
)

// fakeModule lets tests script arbitrary module behavior.
type fakeModule struct {
	id  string
	run func(ctx *module.Context) (*module.Result, error)
}

func (m fakeModule) Metadata() module.Metadata {
	return module.Metadata{ID: m.id, Name: m.id, Version: "1.0.0", Source: module.SourceBuiltin}
}

func (m fakeModule) Run(ctx *module.Context) (*module.Result, error) {
	return m.run(ctx)
}

func setup(t *testing.T) (*Executor, *store.Store, *store.Project) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "engine.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	p := &store.Project{Name: "acme", ScopeAllow: []string{"example.com"}}
	if err := st.CreateProject(p); err != nil {
		t.Fatal(err)
	}
	return New(st, metrics.New()), st, p
}

func request(p *store.Project, m module.Module) Request {
	return Request{
		Project: p,
		Module:  m,
		Params:  gson.New(map[string]interface{}{}),
		Actions: func() ([]*actions.Action, error) { return nil, nil },
	}
}

func TestExecute_SuccessfulRun(t *testing.T) {
	exec, st, p := setup(t)

	m := fakeModule{id: "ok", run: func(ctx *module.Context) (*module.Result, error) {
		return &module.Result{
			Findings: []map[string]interface{}{
				{"title": "found it", "severity": "high", "tags": []interface{}{"a", "b"}},
			},
			Summary: gson.New(map[string]interface{}{"n": 1}),
		}, nil
	}}

	run, err := exec.Execute(request(p, m))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if run.Status != store.StatusDone {
		t.Errorf("Status = %q, want done", run.Status)
	}
	if run.FinishedAt == nil {
		t.Error("FinishedAt not set")
	}
	if len(run.Summary) == 0 {
		t.Error("Summary not recorded")
	}

	findings, err := st.FindingsByRun(run.ID)
	if err != nil || len(findings) != 1 {
		t.Fatalf("FindingsByRun() = %v, %v", findings, err)
	}
	f := findings[0]
	if f.Title != "found it" || f.Severity != store.SeverityHigh || f.ModuleID != "ok" {
		t.Errorf("finding = %+v", f)
	}
	if len(f.Tags) != 2 {
		t.Errorf("Tags = %v", f.Tags)
	}
}

func TestExecute_ModuleErrorFailsRun(t *testing.T) {
	exec, st, p := setup(t)

	m := fakeModule{id: "bad", run: func(ctx *module.Context) (*module.Result, error) {
		return &module.Result{Findings: []map[string]interface{}{{"title": "ghost"}}},
			errors.New("exploded")
	}}

	run, err := exec.Execute(request(p, m))
	if err == nil {
		t.Fatal("Execute() should propagate the module error")
	}
	if run.Status != store.StatusFailed {
		t.Errorf("Status = %q, want failed", run.Status)
	}
	if run.Error == "" {
		t.Error("run.Error not recorded")
	}

	// A failed run must not persist findings.
	findings, _ := st.FindingsByRun(run.ID)
	if len(findings) != 0 {
		t.Errorf("got %d findings from failed run", len(findings))
	}

	// The failure survives in storage.
	stored, err := st.Run(run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != store.StatusFailed || stored.Error == "" {
		t.Errorf("stored run = %+v", stored)
	}
}

func TestExecute_PanicFailsRun(t *testing.T) {
	exec, _, p := setup(t)

	m := fakeModule{id: "panicky", run: func(ctx *module.Context) (*module.Result, error) {
		panic("boom")
	}}

	run, err := exec.Execute(request(p, m))
	if err == nil {
		t.Fatal("Execute() should surface the panic as an error")
	}
	if run.Status != store.StatusFailed {
		t.Errorf("Status = %q, want failed", run.Status)
	}
	if run.Error == "" || !strings.Contains(run.Error, "boom") {
		t.Errorf("Error = %q, want panic message", run.Error)
	}
}

func TestExecute_NormalizesFindings(t *testing.T) {
	exec, st, p := setup(t)

	m := fakeModule{id: "loose", run: func(ctx *module.Context) (*module.Result, error) {
		return &module.Result{
			Findings: []map[string]interface{}{
				{"severity": "high"},                          // no title: dropped
				{"title": "   "},                              // blank title: dropped
				{"title": "weird", "severity": "catastrophe"}, // unknown severity
				{"title": "stringy evidence", "evidence": "just text"},
			},
		}, nil
	}}

	run, err := exec.Execute(request(p, m))
	if err != nil {
		t.Fatal(err)
	}

	findings, err := st.FindingsByRun(run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(findings) != 2 {
		t.Fatalf("got %d findings, want 2", len(findings))
	}

	byTitle := map[string]*store.Finding{}
	for _, f := range findings {
		byTitle[f.Title] = f
	}
	if byTitle["weird"].Severity != store.SeverityInfo {
		t.Errorf("Severity = %q, want info fallback", byTitle["weird"].Severity)
	}
	if !strings.Contains(string(byTitle["stringy evidence"].Evidence), "_value") {
		t.Errorf("Evidence = %s, want wrapped value", byTitle["stringy evidence"].Evidence)
	}
}

func TestExecute_PersistFailureFailsRun(t *testing.T) {
	exec, st, p := setup(t)

	// Closing the store mid-run makes the final save of the done state fail;
	// the run must still end up failed, never stuck in running.
	m := fakeModule{id: "closer", run: func(ctx *module.Context) (*module.Result, error) {
		st.Close()
		return &module.Result{}, nil
	}}

	run, err := exec.Execute(request(p, m))
	if err == nil {
		t.Fatal("Execute() should surface the storage error")
	}
	if run.Status != store.StatusFailed {
		t.Errorf("Status = %q, want failed", run.Status)
	}
	if run.Error == "" {
		t.Error("run.Error not recorded")
	}
}

func TestExecute_ScriptModuleEndToEnd(t *testing.T) {
	exec, st, p := setup(t)

	dir := t.TempDir()
	writeTestScript(t, dir)

	reg := module.NewRegistry(dir, false)
	m, err := reg.Get("flagger")
	if err != nil {
		t.Fatal(err)
	}

	req := request(p, m)
	score := 91
	req.Actions = func() ([]*actions.Action, error) {
		return []*actions.Action{
			{Key: "DELETE|api.example.com|/users/{int}", Method: "DELETE",
				Host: "api.example.com", PathTemplate: "/users/{int}",
				Count: 1, RiskScore: &score},
		}, nil
	}

	run, err := exec.Execute(req)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if run.Status != store.StatusDone {
		t.Fatalf("Status = %q", run.Status)
	}

	findings, err := st.FindingsByRun(run.ID)
	if err != nil || len(findings) != 1 {
		t.Fatalf("FindingsByRun() = %v, %v", findings, err)
	}
	if findings[0].Severity != store.SeverityMedium {
		t.Errorf("Severity = %q, want med", findings[0].Severity)
	}
	if len(findings[0].ActionKeys) != 1 {
		t.Errorf("ActionKeys = %v", findings[0].ActionKeys)
	}
}

func writeTestScript(t *testing.T, dir string) {
	t.Helper()
	src := `
id := "flagger"
run := func(ctx) {
    findings := []
    for a in ctx.get_actions() {
        if a.risk_score >= 90 {
            findings = append(findings, {
                title: "risky: " + a.key,
                severity: "medium",
                evidence: {score: a.risk_score},
                action_keys: [a.key]
            })
        }
    }
    return {findings: findings, summary: {checked: len(ctx.get_actions())}}
}
`
	if err := os.WriteFile(filepath.Join(dir, "flagger.tengo"), []byte(src), 0644); err != nil {
		t.Fatal(err)
	}
}
