// Package store persists projects, traffic records, runs, and findings in a
// single BoltDB file. All values are JSON blobs; keys are big-endian sequence
// numbers for projects and records, and UUID strings for runs and findings.
package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	engerr "github.com/trafficlens/trafficlens/internal/errors"
	"github.com/trafficlens/trafficlens/internal/traffic"
)

var (
	bucketProjects = []byte("projects")
	bucketRecords  = []byte("records") // nested: one sub-bucket per project id
	bucketRuns     = []byte("runs")
	bucketFindings = []byte("findings")
)

// Store is a BoltDB-backed persistence layer.
type Store struct {
	db   *bolt.DB
	path string
}

// Open opens (or creates) the database at path.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketProjects, bucketRecords, bucketRuns, bucketFindings} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// =============================================================================
// Projects
// =============================================================================

// CreateProject assigns an ID and timestamps and persists the project.
func (s *Store) CreateProject(p *Project) error {
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProjects)
		id, err := b.NextSequence()
		if err != nil {
			return engerr.NewStorage("project sequence", err)
		}
		p.ID = id

		data, err := json.Marshal(p)
		if err != nil {
			return engerr.NewStorage("marshal project", err)
		}
		return b.Put(itob(id), data)
	})
}

// Project loads one project by ID.
func (s *Store) Project(id uint64) (*Project, error) {
	var p Project
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketProjects).Get(itob(id))
		if data == nil {
			return engerr.NewNotFound("project", strconv.FormatUint(id, 10))
		}
		return json.Unmarshal(data, &p)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Projects lists all projects ordered by ID.
func (s *Store) Projects() ([]*Project, error) {
	var out []*Project
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProjects).ForEach(func(_, v []byte) error {
			var p Project
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			out = append(out, &p)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateProject rewrites an existing project, refreshing UpdatedAt.
func (s *Store) UpdateProject(p *Project) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProjects)
		if b.Get(itob(p.ID)) == nil {
			return engerr.NewNotFound("project", strconv.FormatUint(p.ID, 10))
		}
		p.UpdatedAt = time.Now().UTC()

		data, err := json.Marshal(p)
		if err != nil {
			return engerr.NewStorage("marshal project", err)
		}
		return b.Put(itob(p.ID), data)
	})
}

// =============================================================================
// Traffic records
// =============================================================================

// AppendRecords stores records under the project's sub-bucket in capture order.
func (s *Store) AppendRecords(projectID uint64, recs []*traffic.Record) error {
	if len(recs) == 0 {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketProjects).Get(itob(projectID)) == nil {
			return engerr.NewNotFound("project", strconv.FormatUint(projectID, 10))
		}
		b, err := tx.Bucket(bucketRecords).CreateBucketIfNotExists(itob(projectID))
		if err != nil {
			return engerr.NewStorage("records bucket", err)
		}
		for _, rec := range recs {
			seq, err := b.NextSequence()
			if err != nil {
				return engerr.NewStorage("record sequence", err)
			}
			data, err := json.Marshal(rec)
			if err != nil {
				return engerr.NewStorage("marshal record", err)
			}
			if err := b.Put(itob(seq), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// Records loads all records for a project in insertion order.
func (s *Store) Records(projectID uint64) ([]*traffic.Record, error) {
	var out []*traffic.Record
	err := s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketProjects).Get(itob(projectID)) == nil {
			return engerr.NewNotFound("project", strconv.FormatUint(projectID, 10))
		}
		b := tx.Bucket(bucketRecords).Bucket(itob(projectID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var rec traffic.Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, &rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RecordCount returns the number of stored records for a project.
func (s *Store) RecordCount(projectID uint64) (int, error) {
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecords).Bucket(itob(projectID))
		if b == nil {
			return nil
		}
		count = b.Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// =============================================================================
// Runs
// =============================================================================

// CreateRun assigns an ID and creation time and persists the run.
func (s *Store) CreateRun(r *Run) error {
	r.ID = uuid.NewString()
	r.CreatedAt = time.Now().UTC()
	return s.SaveRun(r)
}

// SaveRun upserts a run row by ID.
func (s *Store) SaveRun(r *Run) error {
	data, err := json.Marshal(r)
	if err != nil {
		return engerr.NewStorage("marshal run", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRuns).Put([]byte(r.ID), data)
	})
}

// Run loads one run by ID.
func (s *Store) Run(id string) (*Run, error) {
	var r Run
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketRuns).Get([]byte(id))
		if data == nil {
			return engerr.NewNotFound("run", id)
		}
		return json.Unmarshal(data, &r)
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// RunsByProject lists a project's runs, newest first.
func (s *Store) RunsByProject(projectID uint64) ([]*Run, error) {
	var out []*Run
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRuns).ForEach(func(_, v []byte) error {
			var r Run
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			if r.ProjectID == projectID {
				out = append(out, &r)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// =============================================================================
// Findings
// =============================================================================

// SaveFindings assigns IDs and creation times and persists findings in one
// transaction.
func (s *Store) SaveFindings(findings []*Finding) error {
	if len(findings) == 0 {
		return nil
	}
	now := time.Now().UTC()
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFindings)
		for _, f := range findings {
			if f.ID == "" {
				f.ID = uuid.NewString()
			}
			if f.CreatedAt.IsZero() {
				f.CreatedAt = now
			}
			data, err := json.Marshal(f)
			if err != nil {
				return engerr.NewStorage("marshal finding", err)
			}
			if err := b.Put([]byte(f.ID), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// FindingsByRun lists findings produced by one run, oldest first.
func (s *Store) FindingsByRun(runID string) ([]*Finding, error) {
	return s.findings(func(f *Finding) bool { return f.RunID == runID })
}

// FindingsByProject lists all findings for a project, oldest first.
func (s *Store) FindingsByProject(projectID uint64) ([]*Finding, error) {
	return s.findings(func(f *Finding) bool { return f.ProjectID == projectID })
}

func (s *Store) findings(keep func(*Finding) bool) ([]*Finding, error) {
	var out []*Finding
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFindings).ForEach(func(_, v []byte) error {
			var f Finding
			if err := json.Unmarshal(v, &f); err != nil {
				return err
			}
			if keep(&f) {
				out = append(out, &f)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
