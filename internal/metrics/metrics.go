// Package metrics provides counters for the triage engine.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Collector collects and aggregates engine metrics.
type Collector struct {
	// Counters
	recordsImported  atomic.Int64
	recordsDuplicate atomic.Int64
	recordsSkipped   atomic.Int64
	actionsBuilt     atomic.Int64
	runsExecuted     atomic.Int64
	runsFailed       atomic.Int64
	findingsCreated  atomic.Int64
	moduleLoadErrors atomic.Int64

	// Per-module run breakdown
	runCounts map[string]*atomic.Int64
	runMu     sync.RWMutex

	startTime time.Time
}

// New creates a new metrics collector.
func New() *Collector {
	return &Collector{
		runCounts: make(map[string]*atomic.Int64),
		startTime: time.Now(),
	}
}

// RecordImport records the outcome of one import batch.
func (c *Collector) RecordImport(inserted, duplicates, skipped int) {
	c.recordsImported.Add(int64(inserted))
	c.recordsDuplicate.Add(int64(duplicates))
	c.recordsSkipped.Add(int64(skipped))
}

// RecordActionsBuilt records the size of one aggregation pass.
func (c *Collector) RecordActionsBuilt(n int) {
	c.actionsBuilt.Add(int64(n))
}

// RecordRun records a completed run for a module.
func (c *Collector) RecordRun(moduleID string, failed bool) {
	c.runsExecuted.Add(1)
	if failed {
		c.runsFailed.Add(1)
	}

	c.runMu.Lock()
	if c.runCounts[moduleID] == nil {
		c.runCounts[moduleID] = &atomic.Int64{}
	}
	counter := c.runCounts[moduleID]
	c.runMu.Unlock()

	counter.Add(1)
}

// RecordFindings records findings persisted by a run.
func (c *Collector) RecordFindings(n int) {
	c.findingsCreated.Add(int64(n))
}

// RecordModuleLoadError records a module that failed to load.
func (c *Collector) RecordModuleLoadError() {
	c.moduleLoadErrors.Add(1)
}

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	RecordsImported  int64            `json:"records_imported"`
	RecordsDuplicate int64            `json:"records_duplicate"`
	RecordsSkipped   int64            `json:"records_skipped"`
	ActionsBuilt     int64            `json:"actions_built"`
	RunsExecuted     int64            `json:"runs_executed"`
	RunsFailed       int64            `json:"runs_failed"`
	FindingsCreated  int64            `json:"findings_created"`
	ModuleLoadErrors int64            `json:"module_load_errors"`
	RunsByModule     map[string]int64 `json:"runs_by_module"`
	UptimeSeconds    float64          `json:"uptime_seconds"`
}

// Snapshot returns the current metric values.
func (c *Collector) Snapshot() Snapshot {
	snap := Snapshot{
		RecordsImported:  c.recordsImported.Load(),
		RecordsDuplicate: c.recordsDuplicate.Load(),
		RecordsSkipped:   c.recordsSkipped.Load(),
		ActionsBuilt:     c.actionsBuilt.Load(),
		RunsExecuted:     c.runsExecuted.Load(),
		RunsFailed:       c.runsFailed.Load(),
		FindingsCreated:  c.findingsCreated.Load(),
		ModuleLoadErrors: c.moduleLoadErrors.Load(),
		RunsByModule:     make(map[string]int64),
		UptimeSeconds:    time.Since(c.startTime).Seconds(),
	}

	c.runMu.RLock()
	for id, v := range c.runCounts {
		snap.RunsByModule[id] = v.Load()
	}
	c.runMu.RUnlock()

	return snap
}
