package metrics

import (
	"sync"
	"testing"
)

func TestNew(t *testing.T) {
	c := New()
	if c == nil {
		t.Fatal("New() returned nil")
	}
}

func TestCollector_RecordImport(t *testing.T) {
	c := New()

	c.RecordImport(10, 2, 3)
	c.RecordImport(5, 0, 1)

	snap := c.Snapshot()
	if snap.RecordsImported != 15 {
		t.Errorf("RecordsImported = %d, want 15", snap.RecordsImported)
	}
	if snap.RecordsDuplicate != 2 {
		t.Errorf("RecordsDuplicate = %d, want 2", snap.RecordsDuplicate)
	}
	if snap.RecordsSkipped != 4 {
		t.Errorf("RecordsSkipped = %d, want 4", snap.RecordsSkipped)
	}
}

func TestCollector_RecordRun(t *testing.T) {
	c := New()

	c.RecordRun("risk_digest", false)
	c.RecordRun("risk_digest", true)
	c.RecordRun("hello", false)

	snap := c.Snapshot()
	if snap.RunsExecuted != 3 {
		t.Errorf("RunsExecuted = %d, want 3", snap.RunsExecuted)
	}
	if snap.RunsFailed != 1 {
		t.Errorf("RunsFailed = %d, want 1", snap.RunsFailed)
	}
	if snap.RunsByModule["risk_digest"] != 2 {
		t.Errorf("RunsByModule = %v", snap.RunsByModule)
	}
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	c := New()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.RecordRun("m", false)
				c.RecordFindings(1)
			}
		}()
	}
	wg.Wait()

	snap := c.Snapshot()
	if snap.RunsExecuted != 1000 {
		t.Errorf("RunsExecuted = %d, want 1000", snap.RunsExecuted)
	}
	if snap.FindingsCreated != 1000 {
		t.Errorf("FindingsCreated = %d, want 1000", snap.FindingsCreated)
	}
	if snap.RunsByModule["m"] != 1000 {
		t.Errorf("RunsByModule[m] = %d, want 1000", snap.RunsByModule["m"])
	}
}
