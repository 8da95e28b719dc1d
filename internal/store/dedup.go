package store

import (
	"fmt"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/trafficlens/trafficlens/internal/traffic"
)

// Fingerprint identifies a record for import deduplication. Two captures of
// the same request/response pair collapse to one stored record.
func Fingerprint(r *traffic.Record) string {
	status := 0
	if st, ok := r.EffectiveStatus(); ok {
		status = st
	}
	return fmt.Sprintf("%s|%s|%s|%s|%d|%d",
		r.EffectiveMethod(), r.EffectiveHost(), r.EffectivePath(), r.Query, status, r.EffectiveRespBytes())
}

// Deduplicator suppresses duplicate records during import using a Bloom
// filter fronting an exact set.
type Deduplicator struct {
	mu     sync.RWMutex
	filter *bloom.BloomFilter
	exact  map[string]struct{} // confirms Bloom filter positives
	count  int
}

// NewDeduplicator creates a deduplicator sized for the expected import volume.
func NewDeduplicator(estimatedItems int) *Deduplicator {
	if estimatedItems < 1000 {
		estimatedItems = 1000
	}
	return &Deduplicator{
		filter: bloom.NewWithEstimates(uint(estimatedItems), 0.001),
		exact:  make(map[string]struct{}),
	}
}

// Seed marks already-stored records as seen so re-imports skip them.
func (d *Deduplicator) Seed(recs []*traffic.Record) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, r := range recs {
		d.add(Fingerprint(r))
	}
}

// Observe records a fingerprint and reports whether it was new.
func (d *Deduplicator) Observe(r *traffic.Record) bool {
	fp := Fingerprint(r)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.filter.TestString(fp) {
		if _, exists := d.exact[fp]; exists {
			return false
		}
	}
	d.add(fp)
	return true
}

func (d *Deduplicator) add(fp string) {
	if _, exists := d.exact[fp]; exists {
		return
	}
	d.filter.AddString(fp)
	d.exact[fp] = struct{}{}
	d.count++
}

// Count returns the number of unique fingerprints seen.
func (d *Deduplicator) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.count
}

// Reset clears all state.
func (d *Deduplicator) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.filter.ClearAll()
	d.exact = make(map[string]struct{})
	d.count = 0
}
