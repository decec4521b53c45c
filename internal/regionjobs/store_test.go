package regionjobs

import (
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jobs.db")
	s, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGetJob(t *testing.T) {
	s := newTestStore(t)
	job := &Job{
		ID:     "job-1",
		Status: JobStatusQueued,
		Params: Params{Lat: 1, Lng: 2, Radius: 10, Units: "kilometers", Selector: `{"time":0}`},
	}
	if err := s.CreateJob(job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	got, err := s.GetJob("job-1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got == nil {
		t.Fatal("GetJob returned nil for a job that was created")
	}
	if got.Status != JobStatusQueued {
		t.Fatalf("status = %q, want queued", got.Status)
	}
	if got.Params.Radius != 10 {
		t.Fatalf("params.radius = %v, want 10", got.Params.Radius)
	}
}

func TestGetJobMissing(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetJob("does-not-exist")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing job, got %+v", got)
	}
}

func TestUpdateJobLifecycle(t *testing.T) {
	s := newTestStore(t)
	job := &Job{ID: "job-2", Status: JobStatusQueued, Params: Params{Units: "kilometers"}}
	if err := s.CreateJob(job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	if err := s.UpdateJobStarted("job-2"); err != nil {
		t.Fatalf("UpdateJobStarted: %v", err)
	}
	got, _ := s.GetJob("job-2")
	if got.Status != JobStatusRunning {
		t.Fatalf("status = %q, want running", got.Status)
	}
	if got.StartedAt == nil {
		t.Fatal("expected StartedAt to be set")
	}

	if err := s.UpdateJobStatus("job-2", JobStatusCompleted, ""); err != nil {
		t.Fatalf("UpdateJobStatus: %v", err)
	}
	got, _ = s.GetJob("job-2")
	if got.Status != JobStatusCompleted {
		t.Fatalf("status = %q, want completed", got.Status)
	}
	if got.FinishedAt == nil {
		t.Fatal("expected FinishedAt to be set for a terminal status")
	}
}

func TestSaveAndGetResult(t *testing.T) {
	s := newTestStore(t)
	job := &Job{ID: "job-3", Status: JobStatusRunning, Params: Params{Units: "miles"}}
	if err := s.CreateJob(job); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	payload := []byte(`{"flat":[{"lat":1,"lng":2,"value":{"v":3}}],"lat":[1],"lng":[2]}`)
	if err := s.SaveResult("job-3", payload, 1); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}

	got, err := s.GetResult("job-3")
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("result = %s, want %s", got, payload)
	}

	job, err = s.GetJob("job-3")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.PointCount != 1 {
		t.Fatalf("point_count = %d, want 1", job.PointCount)
	}

	// SaveResult is an upsert: a second call for the same job replaces the blob.
	if err := s.SaveResult("job-3", []byte(`{"flat":[]}`), 0); err != nil {
		t.Fatalf("SaveResult (update): %v", err)
	}
	got, _ = s.GetResult("job-3")
	if string(got) != `{"flat":[]}` {
		t.Fatalf("result after update = %s, want {\"flat\":[]}", got)
	}
}

func TestListQueuedJobs(t *testing.T) {
	s := newTestStore(t)
	for _, id := range []string{"q-1", "q-2"} {
		if err := s.CreateJob(&Job{ID: id, Status: JobStatusQueued, Params: Params{Units: "kilometers"}}); err != nil {
			t.Fatalf("CreateJob(%s): %v", id, err)
		}
	}
	if err := s.CreateJob(&Job{ID: "running-1", Status: JobStatusQueued, Params: Params{Units: "kilometers"}}); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := s.UpdateJobStarted("running-1"); err != nil {
		t.Fatalf("UpdateJobStarted: %v", err)
	}

	queued, err := s.ListQueuedJobs()
	if err != nil {
		t.Fatalf("ListQueuedJobs: %v", err)
	}
	if len(queued) != 2 {
		t.Fatalf("len(queued) = %d, want 2", len(queued))
	}
}

func TestMarkRunningAsFailed(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateJob(&Job{ID: "r-1", Status: JobStatusQueued, Params: Params{Units: "kilometers"}}); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := s.UpdateJobStarted("r-1"); err != nil {
		t.Fatalf("UpdateJobStarted: %v", err)
	}

	if err := s.MarkRunningAsFailed("server restarted"); err != nil {
		t.Fatalf("MarkRunningAsFailed: %v", err)
	}

	got, _ := s.GetJob("r-1")
	if got.Status != JobStatusFailed {
		t.Fatalf("status = %q, want failed", got.Status)
	}
	if got.Error != "server restarted" {
		t.Fatalf("error = %q, want %q", got.Error, "server restarted")
	}
}
