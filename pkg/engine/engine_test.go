package engine

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	engerr "github.com/trafficlens/trafficlens/internal/errors"
	"github.com/trafficlens/trafficlens/internal/store"
)

const captureHAR = `{
  "log": {
    "entries": [
      {
        "request": {"method": "DELETE", "url": "https://api.example.com/admin/users/123", "headers": []},
        "response": {"status": 403, "headers": [], "content": {"mimeType": "application/json"}, "bodySize": 120},
        "time": 80
      },
      {
        "request": {"method": "DELETE", "url": "https://api.example.com/admin/users/456", "headers": []},
        "response": {"status": 403, "headers": [], "content": {"mimeType": "application/json"}, "bodySize": 130},
        "time": 95
      },
      {
        "request": {"method": "GET", "url": "https://api.example.com/health", "headers": []},
        "response": {"status": 200, "headers": [], "content": {"mimeType": "application/json"}, "bodySize": 20},
        "time": 5
      },
      {
        "request": {"method": "GET", "url": "https://cdn.example.com/logo.png", "headers": []},
        "response": {"status": 200, "headers": [], "content": {"mimeType": "image/png"}, "bodySize": 5000},
        "time": 12
      }
    ]
  }
}`

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	dir := t.TempDir()
	base := []Option{
		WithDBPath(filepath.Join(dir, "engine.db")),
		WithModulesDir(filepath.Join(dir, "modules")),
	}
	e, err := New(append(base, opts...)...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func createTestProject(t *testing.T, e *Engine) *store.Project {
	t.Helper()
	p, err := e.CreateProject("acme", "example.com\napi.example.com", "", 1.0)
	if err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	return p
}

// =============================================================================
// Project Tests
// =============================================================================

func TestCreateProject(t *testing.T) {
	e := newTestEngine(t)

	p := createTestProject(t, e)
	if p.ID == 0 {
		t.Fatal("no ID assigned")
	}
	// Bare registrable hosts expand to host plus wildcard.
	joined := strings.Join(p.ScopeAllow, ",")
	if !strings.Contains(joined, "example.com") || !strings.Contains(joined, "*.example.com") {
		t.Errorf("ScopeAllow = %v", p.ScopeAllow)
	}
	if len(p.ROE) == 0 {
		t.Error("ROE template not applied")
	}
}

func TestCreateProject_Validation(t *testing.T) {
	e := newTestEngine(t)

	if _, err := e.CreateProject("   ", "", "", 0); !engerr.IsValidation(err) {
		t.Errorf("blank name error = %v, want validation", err)
	}
	if _, err := e.CreateProject("x", "", "", -1); !engerr.IsValidation(err) {
		t.Errorf("negative qps error = %v, want validation", err)
	}
}

func TestUpdateProject_Partial(t *testing.T) {
	e := newTestEngine(t)
	p := createTestProject(t, e)

	qps := 5.0
	updated, err := e.UpdateProject(p.ID, ProjectUpdate{QPS: &qps})
	if err != nil {
		t.Fatalf("UpdateProject() error = %v", err)
	}
	if updated.QPS != 5.0 || updated.Name != "acme" {
		t.Errorf("updated = %+v", updated)
	}

	bad := "not json"
	if _, err := e.UpdateProject(p.ID, ProjectUpdate{ROE: []byte(bad)}); !engerr.IsValidation(err) {
		t.Errorf("bad ROE error = %v, want validation", err)
	}
}

// =============================================================================
// Import Tests
// =============================================================================

func TestImportHAR(t *testing.T) {
	e := newTestEngine(t)
	p := createTestProject(t, e)

	stats, err := e.ImportHAR(p.ID, strings.NewReader(captureHAR))
	if err != nil {
		t.Fatalf("ImportHAR() error = %v", err)
	}
	if stats.Parsed != 4 {
		t.Errorf("Parsed = %d, want 4", stats.Parsed)
	}
	if stats.Assets != 1 {
		t.Errorf("Assets = %d, want 1", stats.Assets)
	}
	if stats.Inserted != 3 {
		t.Errorf("Inserted = %d, want 3", stats.Inserted)
	}

	// Re-import: without dedup every record is kept again.
	stats, err = e.ImportHAR(p.ID, strings.NewReader(captureHAR))
	if err != nil {
		t.Fatal(err)
	}
	if stats.Inserted != 3 || stats.Duplicates != 0 {
		t.Errorf("re-import stats = %+v", stats)
	}
}

// repeatedHAR builds a capture of n identical requests, the shape a polled
// endpoint produces.
func repeatedHAR(n int) string {
	entry := `{
		"request": {"method": "GET", "url": "https://api.example.com/status", "headers": []},
		"response": {"status": 200, "headers": [], "content": {"mimeType": "application/json"}, "bodySize": 42},
		"time": 3
	}`
	entries := make([]string, n)
	for i := range entries {
		entries[i] = entry
	}
	return `{"log": {"entries": [` + strings.Join(entries, ",") + `]}}`
}

func TestImportHAR_KeepsRepeatedTraffic(t *testing.T) {
	e := newTestEngine(t)
	p := createTestProject(t, e)

	stats, err := e.ImportHAR(p.ID, strings.NewReader(repeatedHAR(30)))
	if err != nil {
		t.Fatalf("ImportHAR() error = %v", err)
	}
	if stats.Inserted != 30 || stats.Duplicates != 0 {
		t.Fatalf("stats = %+v, want 30 inserted", stats)
	}

	// The action count reflects every observed request, so the frequency
	// signal can fire for stable polled responses.
	acts, err := e.Actions(p.ID, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(acts) != 1 {
		t.Fatalf("got %d actions, want 1", len(acts))
	}
	if acts[0].Count != 30 {
		t.Errorf("Count = %d, want 30", acts[0].Count)
	}
	if !strings.Contains(strings.Join(acts[0].RiskTags, ","), "high_frequency") {
		t.Errorf("RiskTags = %v, want high_frequency", acts[0].RiskTags)
	}
}

func TestImportHAR_DedupOptIn(t *testing.T) {
	e := newTestEngine(t, WithDedup(true))
	p := createTestProject(t, e)

	stats, err := e.ImportHAR(p.ID, strings.NewReader(repeatedHAR(5)))
	if err != nil {
		t.Fatalf("ImportHAR() error = %v", err)
	}
	if stats.Inserted != 1 || stats.Duplicates != 4 {
		t.Errorf("stats = %+v, want 1 inserted, 4 duplicates", stats)
	}

	// Stored records seed the filter on the next import.
	stats, err = e.ImportHAR(p.ID, strings.NewReader(repeatedHAR(5)))
	if err != nil {
		t.Fatal(err)
	}
	if stats.Inserted != 0 || stats.Duplicates != 5 {
		t.Errorf("re-import stats = %+v", stats)
	}
}

func TestImportHAR_SizeLimit(t *testing.T) {
	e := newTestEngine(t, WithMaxHARBytes(16))
	p := createTestProject(t, e)

	if _, err := e.ImportHAR(p.ID, strings.NewReader(captureHAR)); err == nil {
		t.Error("oversized capture should be rejected")
	}
}

func TestImportHAR_UnknownProject(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.ImportHAR(404, strings.NewReader(captureHAR)); !engerr.IsNotFound(err) {
		t.Errorf("error = %v, want not-found", err)
	}
}

// =============================================================================
// Action Tests
// =============================================================================

func TestActions_WithRisk(t *testing.T) {
	e := newTestEngine(t)
	p := createTestProject(t, e)
	if _, err := e.ImportHAR(p.ID, strings.NewReader(captureHAR)); err != nil {
		t.Fatal(err)
	}

	acts, err := e.Actions(p.ID, true)
	if err != nil {
		t.Fatalf("Actions() error = %v", err)
	}
	// The two DELETEs template into one action; /health is the other.
	if len(acts) != 2 {
		t.Fatalf("got %d actions, want 2", len(acts))
	}

	var deleteAction bool
	for _, a := range acts {
		if a.RiskScore == nil {
			t.Fatalf("action %s has no risk score", a.Key)
		}
		if a.Key == "DELETE|api.example.com|/admin/users/{int}" {
			deleteAction = true
			if a.Count != 2 {
				t.Errorf("Count = %d, want 2", a.Count)
			}
			if *a.RiskScore < 70 {
				t.Errorf("RiskScore = %d, want >= 70", *a.RiskScore)
			}
		}
	}
	if !deleteAction {
		t.Error("templated DELETE action missing")
	}

	plain, err := e.Actions(p.ID, false)
	if err != nil {
		t.Fatal(err)
	}
	if plain[0].RiskScore != nil {
		t.Error("includeRisk=false must not decorate")
	}
}

// =============================================================================
// Run Tests
// =============================================================================

func TestExecute_RiskDigestEndToEnd(t *testing.T) {
	e := newTestEngine(t)
	p := createTestProject(t, e)
	if _, err := e.ImportHAR(p.ID, strings.NewReader(captureHAR)); err != nil {
		t.Fatal(err)
	}

	run, err := e.Execute(p.ID, "risk_digest", `{"min_risk": 60}`, nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if run.Status != store.StatusDone {
		t.Fatalf("Status = %q, error = %q", run.Status, run.Error)
	}

	findings, err := e.Findings(run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(findings) == 0 {
		t.Fatal("expected findings for the DELETE action")
	}
	if findings[0].ModuleID != "risk_digest" {
		t.Errorf("ModuleID = %q", findings[0].ModuleID)
	}

	runs, err := e.Runs(p.ID)
	if err != nil || len(runs) != 1 {
		t.Fatalf("Runs() = %v, %v", runs, err)
	}

	snap := e.Metrics()
	if snap.RunsExecuted != 1 || snap.FindingsCreated == 0 {
		t.Errorf("metrics = %+v", snap)
	}
}

func TestExecute_Validation(t *testing.T) {
	e := newTestEngine(t)
	p := createTestProject(t, e)

	if _, err := e.Execute(999, "risk_digest", "", nil); !engerr.IsNotFound(err) {
		t.Errorf("unknown project error = %v", err)
	}
	if _, err := e.Execute(p.ID, "ghost_module", "", nil); !engerr.IsNotFound(err) {
		t.Errorf("unknown module error = %v", err)
	}
	if _, err := e.Execute(p.ID, "risk_digest", "{broken", nil); !engerr.IsValidation(err) {
		t.Errorf("bad params error = %v", err)
	}
	if _, err := e.Execute(p.ID, "risk_digest", `[1,2]`, nil); !engerr.IsValidation(err) {
		t.Errorf("non-object params error = %v", err)
	}
}

func TestExecute_ActionKeyFilter(t *testing.T) {
	e := newTestEngine(t)
	p := createTestProject(t, e)
	if _, err := e.ImportHAR(p.ID, strings.NewReader(captureHAR)); err != nil {
		t.Fatal(err)
	}

	run, err := e.Execute(p.ID, "risk_digest", `{"min_risk": 0}`,
		[]string{"GET|api.example.com|/health"})
	if err != nil {
		t.Fatal(err)
	}
	findings, err := e.Findings(run.ID)
	if err != nil {
		t.Fatal(err)
	}
	// With the filter only the low-risk health action is visible.
	if len(findings) != 1 {
		t.Fatalf("got %d findings, want 1", len(findings))
	}
	if findings[0].ActionKeys[0] != "GET|api.example.com|/health" {
		t.Errorf("ActionKeys = %v", findings[0].ActionKeys)
	}
}

// =============================================================================
// Module Listing Tests
// =============================================================================

func TestModules_ScriptDiscovery(t *testing.T) {
	dir := t.TempDir()
	modDir := filepath.Join(dir, "modules")
	if err := os.MkdirAll(modDir, 0755); err != nil {
		t.Fatal(err)
	}
	script := `
id := "hello"
run := func(ctx) {
    return {findings: [{title: "hello", severity: "info"}], summary: {}}
}
`
	if err := os.WriteFile(filepath.Join(modDir, "hello.tengo"), []byte(script), 0644); err != nil {
		t.Fatal(err)
	}

	e, err := New(WithDBPath(filepath.Join(dir, "engine.db")), WithModulesDir(modDir))
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	ids := make(map[string]bool)
	for _, m := range e.Modules() {
		ids[m.ID] = true
	}
	for _, want := range []string{"risk_digest", "html_form_surface", "hello"} {
		if !ids[want] {
			t.Errorf("module %q missing from %v", want, ids)
		}
	}

	p := createTestProject(t, e)
	run, err := e.Execute(p.ID, "hello", "", nil)
	if err != nil {
		t.Fatalf("Execute(hello) error = %v", err)
	}
	if run.Status != store.StatusDone {
		t.Errorf("Status = %q, error = %q", run.Status, run.Error)
	}
}

// =============================================================================
// Summary Tests
// =============================================================================

func TestSummary(t *testing.T) {
	e := newTestEngine(t)
	p := createTestProject(t, e)
	if _, err := e.ImportHAR(p.ID, strings.NewReader(captureHAR)); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Execute(p.ID, "risk_digest", "", nil); err != nil {
		t.Fatal(err)
	}

	sum, err := e.Summary(p.ID)
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	if sum.Records != 3 || sum.Actions != 2 || sum.Runs != 1 {
		t.Errorf("summary = %+v", sum)
	}
	if len(sum.TopHosts) == 0 || sum.TopHosts[0].Name != "api.example.com" {
		t.Errorf("TopHosts = %v", sum.TopHosts)
	}
}

// =============================================================================
// Config Tests
// =============================================================================

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "db_path: /tmp/x.db\nsample_limit: 5\nlog_level: debug\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.DBPath != "/tmp/x.db" || cfg.SampleLimit != 5 || cfg.LogLevel != "debug" {
		t.Errorf("cfg = %+v", cfg)
	}
	// Unset fields keep their defaults.
	if cfg.MaxHARBytes == 0 {
		t.Error("MaxHARBytes default lost")
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DBPath = ""
	if err := cfg.Validate(); err == nil {
		t.Error("empty db_path should fail validation")
	}

	cfg = DefaultConfig()
	cfg.SampleLimit = -1
	if err := cfg.Validate(); err == nil {
		t.Error("negative sample_limit should fail validation")
	}
}
