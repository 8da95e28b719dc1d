package module

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	engerr "github.com/trafficlens/trafficlens/internal/errors"
	"github.com/trafficlens/trafficlens/internal/logger"
)

// Registry holds the builtin modules plus Tengo scripts discovered from the
// plugin directory. Builtins are always present and cannot be shadowed by a
// script reusing their ID; such collisions are recorded as load errors.
type Registry struct {
	mu        sync.RWMutex
	dir       string
	devReload bool
	builtins  map[string]Module
	scripts   map[string]Module
	loadErrs  []error
	log       *logger.Logger
}

// NewRegistry creates a registry over a script directory. An empty dir means
// builtins only. With devReload, every List and Get rescans the directory so
// script edits apply without a restart.
func NewRegistry(dir string, devReload bool) *Registry {
	r := &Registry{
		dir:       dir,
		devReload: devReload,
		builtins:  make(map[string]Module),
		scripts:   make(map[string]Module),
		log:       logger.Global().WithComponent("registry"),
	}
	for _, m := range []Module{riskDigest{}, htmlFormSurface{}} {
		r.builtins[m.Metadata().ID] = m
	}
	r.Refresh()
	return r
}

// Refresh rescans the script directory and returns the load errors from this
// scan. Broken scripts never prevent the rest from loading.
func (r *Registry) Refresh() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refreshLocked()
}

func (r *Registry) refreshLocked() []error {
	r.scripts = make(map[string]Module)
	r.loadErrs = nil

	if r.dir == "" {
		return nil
	}
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		e := engerr.NewModuleLoad(r.dir, "read module directory", err)
		r.loadErrs = append(r.loadErrs, e)
		return r.loadErrs
	}

	// Lexical file order; on duplicate IDs the last loaded script wins.
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".tengo") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(r.dir, name)
		sm, err := LoadScript(path)
		if err != nil {
			r.loadErrs = append(r.loadErrs, err)
			r.log.WithError(err).Warn("module failed to load")
			continue
		}
		id := sm.Metadata().ID
		if _, isBuiltin := r.builtins[id]; isBuiltin {
			e := engerr.NewModuleLoad(path, "id collides with builtin "+id, nil)
			r.loadErrs = append(r.loadErrs, e)
			r.log.WithError(e).Warn("module skipped")
			continue
		}
		r.scripts[id] = sm
	}
	return r.loadErrs
}

// List returns metadata for all modules, builtins first, each group sorted
// by ID.
func (r *Registry) List() []Metadata {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.devReload {
		r.refreshLocked()
	}

	out := make([]Metadata, 0, len(r.builtins)+len(r.scripts))
	for _, id := range sortedKeys(r.builtins) {
		out = append(out, r.builtins[id].Metadata())
	}
	for _, id := range sortedKeys(r.scripts) {
		out = append(out, r.scripts[id].Metadata())
	}
	return out
}

// Get returns the module with the given ID.
func (r *Registry) Get(id string) (Module, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.devReload {
		r.refreshLocked()
	}

	if m, ok := r.builtins[id]; ok {
		return m, nil
	}
	if m, ok := r.scripts[id]; ok {
		return m, nil
	}
	return nil, engerr.NewNotFound("module", id)
}

// LoadErrors returns the errors from the most recent scan.
func (r *Registry) LoadErrors() []error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]error(nil), r.loadErrs...)
}

func sortedKeys(m map[string]Module) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
