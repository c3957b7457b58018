package inmemory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dvloznov/recurring-tracker/internal/jobs"
	"github.com/dvloznov/recurring-tracker/internal/logger"
	"github.com/rs/zerolog"
)

func testContext() context.Context {
	return logger.WithContext(context.Background(), zerolog.Nop())
}

// waitForStatus polls the store until the job reaches status.
func waitForStatus(t *testing.T, store *Store, jobID string, status jobs.JobStatus) *jobs.ProcessStatementJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := store.GetJob(testContext(), jobID)
		if err == nil && job.Status == status {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	job, _ := store.GetJob(testContext(), jobID)
	t.Fatalf("job %s did not reach %s, last state %+v", jobID, status, job)
	return nil
}

func TestQueue_ProcessesJob(t *testing.T) {
	store := NewStore()
	q := NewQueue(QueueConfig{Workers: 2, BufferSize: 4}, store)
	defer q.Close()

	err := q.Start(testContext(), func(ctx context.Context, job jobs.Job) error {
		job.(*jobs.ProcessStatementJob).StatementID = "s1"
		return nil
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	job := &jobs.ProcessStatementJob{UserID: "user-1", GCSURI: "gs://b/a.pdf"}
	if err := q.PublishProcessStatement(testContext(), job); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if job.JobID == "" {
		t.Fatal("expected a job ID to be assigned")
	}

	done := waitForStatus(t, store, job.JobID, jobs.JobStatusCompleted)
	if done.StatementID != "s1" {
		t.Errorf("StatementID = %q, want s1", done.StatementID)
	}
	if done.StartedAt == nil || done.CompletedAt == nil {
		t.Error("expected start and completion times")
	}
}

func TestQueue_RetriesThenFails(t *testing.T) {
	store := NewStore()
	q := NewQueue(QueueConfig{
		Workers:    1,
		BufferSize: 1,
		MaxRetries: 2,
		Backoff:    func(int) time.Duration { return time.Millisecond },
	}, store)
	defer q.Close()

	var calls atomic.Int32
	if err := q.Start(testContext(), func(ctx context.Context, job jobs.Job) error {
		calls.Add(1)
		return errors.New("parser unavailable")
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	job := &jobs.ProcessStatementJob{UserID: "user-1"}
	if err := q.PublishProcessStatement(testContext(), job); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	failed := waitForStatus(t, store, job.JobID, jobs.JobStatusFailed)
	if failed.RetryCount != 2 {
		t.Errorf("RetryCount = %d, want 2", failed.RetryCount)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("handler calls = %d, want 3", got)
	}
	if failed.Error != "parser unavailable" {
		t.Errorf("Error = %q", failed.Error)
	}
}

func TestQueue_SerializesJobsOfOneUser(t *testing.T) {
	store := NewStore()
	q := NewQueue(QueueConfig{Workers: 4, BufferSize: 16}, store)
	defer q.Close()

	var mu sync.Mutex
	running := make(map[string]int)
	overlap := false

	if err := q.Start(testContext(), func(ctx context.Context, job jobs.Job) error {
		user := job.GetUserID()
		mu.Lock()
		running[user]++
		if running[user] > 1 {
			overlap = true
		}
		mu.Unlock()

		time.Sleep(2 * time.Millisecond)

		mu.Lock()
		running[user]--
		mu.Unlock()
		return nil
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var ids []string
	for i := 0; i < 8; i++ {
		for _, user := range []string{"user-1", "user-2"} {
			job := &jobs.ProcessStatementJob{UserID: user}
			if err := q.PublishProcessStatement(testContext(), job); err != nil {
				t.Fatalf("Publish: %v", err)
			}
			ids = append(ids, job.JobID)
		}
	}
	for _, id := range ids {
		waitForStatus(t, store, id, jobs.JobStatusCompleted)
	}

	mu.Lock()
	defer mu.Unlock()
	if overlap {
		t.Error("two jobs of the same user ran concurrently")
	}
}

func TestQueue_ShardIsStablePerUser(t *testing.T) {
	q := NewQueue(QueueConfig{Workers: 8}, nil)
	first := q.shardFor("user-42")
	for i := 0; i < 10; i++ {
		if got := q.shardFor("user-42"); got != first {
			t.Fatalf("shard changed from %d to %d", first, got)
		}
	}
}

func TestQueue_Closed(t *testing.T) {
	q := NewQueue(QueueConfig{Workers: 1}, nil)
	if err := q.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := q.PublishProcessStatement(testContext(), &jobs.ProcessStatementJob{UserID: "user-1"}); err == nil {
		t.Error("expected publishing to a closed queue to fail")
	}
	if err := q.Start(testContext(), func(context.Context, jobs.Job) error { return nil }); err == nil {
		t.Error("expected starting a closed queue to fail")
	}
}

func TestQueue_RequiresUserID(t *testing.T) {
	q := NewQueue(QueueConfig{Workers: 1, BufferSize: 1}, nil)
	defer q.Close()
	if err := q.PublishProcessStatement(testContext(), &jobs.ProcessStatementJob{}); err == nil {
		t.Error("expected an error without a user ID")
	}
}

func TestStore_ListJobs(t *testing.T) {
	store := NewStore()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, j := range []jobs.ProcessStatementJob{
		{JobID: "a", UserID: "user-1", Status: jobs.JobStatusCompleted},
		{JobID: "b", UserID: "user-1", Status: jobs.JobStatusFailed},
		{JobID: "c", UserID: "user-2", Status: jobs.JobStatusCompleted},
		{JobID: "d", UserID: "user-1", Status: jobs.JobStatusCompleted},
	} {
		j.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := store.SaveJob(testContext(), &j); err != nil {
			t.Fatalf("SaveJob: %v", err)
		}
	}

	tests := []struct {
		name   string
		filter jobs.JobFilter
		want   []string
	}{
		{"all newest first", jobs.JobFilter{}, []string{"d", "c", "b", "a"}},
		{"by user", jobs.JobFilter{UserID: "user-1"}, []string{"d", "b", "a"}},
		{"by status", jobs.JobFilter{Status: jobs.JobStatusCompleted}, []string{"d", "c", "a"}},
		{"limit and offset", jobs.JobFilter{Limit: 2, Offset: 1}, []string{"c", "b"}},
		{"offset past end", jobs.JobFilter{Offset: 10}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.ListJobs(testContext(), tt.filter)
			if err != nil {
				t.Fatalf("ListJobs: %v", err)
			}
			var ids []string
			for _, j := range got {
				ids = append(ids, j.JobID)
			}
			if len(ids) != len(tt.want) {
				t.Fatalf("got %v, want %v", ids, tt.want)
			}
			for i := range ids {
				if ids[i] != tt.want[i] {
					t.Fatalf("got %v, want %v", ids, tt.want)
				}
			}
		})
	}
}

func TestStore_NotFound(t *testing.T) {
	store := NewStore()
	if _, err := store.GetJob(testContext(), "missing"); !errors.Is(err, jobs.ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
	if err := store.UpdateJobStatus(testContext(), "missing", jobs.JobStatusFailed, "x"); !errors.Is(err, jobs.ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
	if err := store.SaveJob(testContext(), &jobs.ProcessStatementJob{}); err == nil {
		t.Error("expected an error for a job without ID")
	}
}

func TestStore_ReturnsCopies(t *testing.T) {
	store := NewStore()
	job := &jobs.ProcessStatementJob{JobID: "a", Status: jobs.JobStatusPending}
	if err := store.SaveJob(testContext(), job); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}
	job.Status = jobs.JobStatusFailed

	got, err := store.GetJob(testContext(), "a")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != jobs.JobStatusPending {
		t.Errorf("stored job changed through the caller's pointer: %s", got.Status)
	}
}
