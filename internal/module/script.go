package module

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/d5/tengo/v2"
	"github.com/d5/tengo/v2/stdlib"
	"github.com/ysmood/gson"

	engerr "github.com/trafficlens/trafficlens/internal/errors"
)

// safeModules are the only Tengo stdlib modules available to scripts.
// No file I/O, no network, no OS access.
var safeModules = stdlib.GetModuleMap("text", "fmt", "math", "times", "json")

const scriptMaxAllocs = 10_000_000

var idCleaner = regexp.MustCompile(`[^a-z0-9_]+`)

// ScriptModule wraps a Tengo script as a Module implementation.
type ScriptModule struct {
	meta     Metadata
	compiled *tengo.Compiled // pre-compiled wrapper, cloned per run
}

// LoadScript compiles a .tengo file and extracts its metadata.
// The script must define a run(ctx) function. Metadata variables (id, name,
// version, description, params) are optional; missing values are repaired
// with defaults derived from the filename.
func LoadScript(path string) (*ScriptModule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, engerr.NewModuleLoad(path, "read script", err)
	}

	script := tengo.NewScript(data)
	script.SetImports(safeModules)
	script.SetMaxAllocs(scriptMaxAllocs)

	compiled, err := script.Run()
	if err != nil {
		return nil, engerr.NewModuleLoad(path, "compile script", err)
	}

	if compiled.Get("run").IsUndefined() {
		return nil, engerr.NewModuleLoad(path, "missing 'run' function", nil)
	}

	meta := Metadata{Source: path}
	if v := compiled.Get("id"); !v.IsUndefined() {
		meta.ID = v.String()
	}
	if v := compiled.Get("name"); !v.IsUndefined() {
		meta.Name = v.String()
	}
	if v := compiled.Get("version"); !v.IsUndefined() {
		meta.Version = v.String()
	}
	if v := compiled.Get("description"); !v.IsUndefined() {
		meta.Description = v.String()
	}
	if v := compiled.Get("params"); !v.IsUndefined() {
		meta.Params = decodeParams(v.Value())
	}
	repairMetadata(&meta, path)

	sm := &ScriptModule{meta: meta}
	if err := sm.precompile(data); err != nil {
		return nil, err
	}
	return sm, nil
}

// repairMetadata fills missing metadata so a bare script with just a run
// function still lists and executes.
func repairMetadata(meta *Metadata, path string) {
	if meta.ID == "" {
		base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		meta.ID = idCleaner.ReplaceAllString(strings.ToLower(base), "_")
	}
	if meta.Name == "" {
		meta.Name = meta.ID
	}
	if meta.Version == "" {
		meta.Version = "0.1.0"
	}
}

func decodeParams(v interface{}) []Param {
	arr, ok := v.([]interface{})
	if !ok {
		return nil
	}
	var out []Param
	for _, entry := range arr {
		m, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		p := Param{}
		if s, ok := m["name"].(string); ok {
			p.Name = s
		}
		if p.Name == "" {
			continue
		}
		if s, ok := m["type"].(string); ok {
			p.Type = s
		}
		if b, ok := m["required"].(bool); ok {
			p.Required = b
		}
		if s, ok := m["description"].(string); ok {
			p.Description = s
		}
		p.Default = m["default"]
		out = append(out, p)
	}
	return out
}

// precompile wraps the script so Run only needs a Clone, not a recompile.
func (s *ScriptModule) precompile(src []byte) error {
	wrapper := fmt.Sprintf("%s\n__result__ := run(__ctx__)\n", string(src))

	script := tengo.NewScript([]byte(wrapper))
	script.SetImports(safeModules)
	script.SetMaxAllocs(scriptMaxAllocs)
	if err := script.Add("__ctx__", map[string]interface{}{}); err != nil {
		return engerr.NewModuleLoad(s.meta.ID, "bind context", err)
	}

	compiled, err := script.Compile()
	if err != nil {
		return engerr.NewModuleLoad(s.meta.ID, "precompile script", err)
	}
	s.compiled = compiled
	return nil
}

// Metadata implements Module.
func (s *ScriptModule) Metadata() Metadata {
	return s.meta
}

// Run implements Module. The context is handed to the script as a plain map;
// get_actions is a host callback into the engine.
func (s *ScriptModule) Run(ctx *Context) (*Result, error) {
	c := s.compiled.Clone()

	scriptCtx := map[string]interface{}{
		"project_id":  int64(ctx.ProjectID),
		"params":      ctx.Params.Val(),
		"action_keys": toIfaceSlice(ctx.ActionKeys),
		"scope_allow": toIfaceSlice(ctx.ScopeAllow),
		"scope_deny":  toIfaceSlice(ctx.ScopeDeny),
		"now_utc":     ctx.NowUTC.UTC().Format(time.RFC3339),
		"get_actions": &tengo.UserFunction{
			Name:  "get_actions",
			Value: actionsCallback(ctx),
		},
	}
	if err := c.Set("__ctx__", scriptCtx); err != nil {
		return nil, engerr.NewModuleContract(s.meta.ID, fmt.Sprintf("bind context: %v", err))
	}

	if err := c.Run(); err != nil {
		return nil, fmt.Errorf("module %s: %w", s.meta.ID, err)
	}

	out := c.Get("__result__")
	if out.IsUndefined() {
		return nil, engerr.NewModuleContract(s.meta.ID, "run() returned undefined")
	}
	return decodeResult(s.meta.ID, out.Value())
}

// decodeResult enforces the result contract: a map with a findings list and
// an optional summary map.
func decodeResult(moduleID string, v interface{}) (*Result, error) {
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, engerr.NewModuleContract(moduleID, "result must be a map")
	}

	res := &Result{Summary: gson.New(map[string]interface{}{})}

	if raw, present := m["findings"]; present && raw != nil {
		arr, ok := raw.([]interface{})
		if !ok {
			return nil, engerr.NewModuleContract(moduleID, "findings must be a list")
		}
		for _, entry := range arr {
			if fm, ok := entry.(map[string]interface{}); ok {
				res.Findings = append(res.Findings, fm)
			}
		}
	}

	if raw, present := m["summary"]; present && raw != nil {
		res.Summary = NormalizeJSON(raw)
	}
	return res, nil
}

// actionsCallback exposes the project's aggregated actions to the script as
// plain maps.
func actionsCallback(ctx *Context) tengo.CallableFunc {
	return func(args ...tengo.Object) (tengo.Object, error) {
		if ctx.Actions == nil {
			return &tengo.Array{}, nil
		}
		acts, err := ctx.Actions()
		if err != nil {
			return nil, err
		}

		// Round-trip through JSON so scripts see the same field names the
		// rest of the engine emits.
		data, err := json.Marshal(acts)
		if err != nil {
			return nil, err
		}
		var loose []interface{}
		if err := json.Unmarshal(data, &loose); err != nil {
			return nil, err
		}
		return tengo.FromInterface(loose)
	}
}

func toIfaceSlice(in []string) []interface{} {
	out := make([]interface{}, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
