package jobs

import (
	"errors"
	"testing"

	"kneeseg-worker/internal/domain"
)

func startJob(t *testing.T, m *Manager, id string) {
	t.Helper()
	if err := m.Start(domain.Job{ID: id, InputPath: "/data/scan.nii.gz"}); err != nil {
		t.Fatalf("start %s: %v", id, err)
	}
}

// TestManagerLifecycle verifies normal progression to the complete state.
func TestManagerLifecycle(t *testing.T) {
	m := NewManager()
	if m.IsRunning() {
		t.Fatal("new manager should be idle")
	}

	startJob(t, m, "job-1")
	if !m.IsRunning() {
		t.Fatal("expected running after start")
	}
	if got := m.Current().Status; got != domain.JobStatusQueued {
		t.Fatalf("status = %s, want queued", got)
	}

	if err := m.MarkRunning(); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	m.UpdateProgress(3, 10, "Running segmentation", 30)
	if err := m.Complete("/data/out/scan_results.zip"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	current := m.Current()
	if current.Status != domain.JobStatusComplete {
		t.Fatalf("status = %s, want complete", current.Status)
	}
	if current.ResultPath == "" || current.Percent != 100 {
		t.Fatalf("terminal snapshot = %+v", current)
	}
	if current.EndedAt.IsZero() {
		t.Fatal("expected ended timestamp")
	}
}

// TestManagerRejectsConcurrentStart verifies the single active job rule.
func TestManagerRejectsConcurrentStart(t *testing.T) {
	m := NewManager()
	startJob(t, m, "job-1")

	err := m.Start(domain.Job{ID: "job-2"})
	if !errors.Is(err, ErrJobAlreadyRunning) {
		t.Fatalf("second start error = %v, want ErrJobAlreadyRunning", err)
	}
}

// TestManagerAllowsStartAfterTerminal verifies the worker is reusable.
func TestManagerAllowsStartAfterTerminal(t *testing.T) {
	m := NewManager()
	startJob(t, m, "job-1")
	if err := m.MarkRunning(); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	if err := m.Fail("UNKNOWN", "failed", ""); err != nil {
		t.Fatalf("fail: %v", err)
	}

	startJob(t, m, "job-2")
	if got := m.Current().ID; got != "job-2" {
		t.Fatalf("current job = %s, want job-2", got)
	}
}

// TestManagerTerminalTransitionIsFinal verifies a recorded outcome can never
// change.
func TestManagerTerminalTransitionIsFinal(t *testing.T) {
	m := NewManager()
	startJob(t, m, "job-1")
	if err := m.MarkRunning(); err != nil {
		t.Fatalf("mark running: %v", err)
	}

	if err := m.Cancelled(); err != nil {
		t.Fatalf("cancelled: %v", err)
	}
	if err := m.Complete("/out.zip"); err == nil {
		t.Fatal("expected error for second terminal transition")
	}
	if got := m.Current().Status; got != domain.JobStatusCancelled {
		t.Fatalf("status = %s, want cancelled preserved", got)
	}
}

// TestManagerIgnoresProgressRegression verifies the snapshot never moves
// backwards.
func TestManagerIgnoresProgressRegression(t *testing.T) {
	m := NewManager()
	startJob(t, m, "job-1")
	if err := m.MarkRunning(); err != nil {
		t.Fatalf("mark running: %v", err)
	}

	m.UpdateProgress(5, 10, "Generating 3D meshes", 50)
	m.UpdateProgress(3, 10, "Running segmentation", 30)

	current := m.Current()
	if current.CurrentStep != 5 || current.Percent != 50 {
		t.Fatalf("snapshot = step %d %d%%, want 5 50%%", current.CurrentStep, current.Percent)
	}
}

// TestManagerIgnoresProgressAfterTerminal verifies late lines cannot disturb
// a finished job.
func TestManagerIgnoresProgressAfterTerminal(t *testing.T) {
	m := NewManager()
	startJob(t, m, "job-1")
	if err := m.MarkRunning(); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	if err := m.Complete("/out.zip"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	m.UpdateProgress(9, 10, "Saving results", 90)
	if got := m.Current().Percent; got != 100 {
		t.Fatalf("percent = %d, want 100 preserved", got)
	}
}

// TestManagerFailRecordsTaxonomy verifies error details land on the job.
func TestManagerFailRecordsTaxonomy(t *testing.T) {
	m := NewManager()
	startJob(t, m, "job-1")
	if err := m.MarkRunning(); err != nil {
		t.Fatalf("mark running: %v", err)
	}

	if err := m.Fail("RESOURCE_EXHAUSTED", "The GPU ran out of memory while processing your file.", "Try reducing the batch size."); err != nil {
		t.Fatalf("fail: %v", err)
	}

	current := m.Current()
	if current.ErrorCode != "RESOURCE_EXHAUSTED" {
		t.Fatalf("error code = %s", current.ErrorCode)
	}
	if current.ErrorMessage == "" || current.RecoveryHint == "" {
		t.Fatalf("terminal snapshot = %+v, want message and hint", current)
	}
}
