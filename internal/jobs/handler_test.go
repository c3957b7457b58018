package jobs

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dvloznov/recurring-tracker/internal/domain"
	"github.com/dvloznov/recurring-tracker/internal/logger"
	"github.com/dvloznov/recurring-tracker/internal/pipeline"
	"github.com/dvloznov/recurring-tracker/internal/recurrence"
	"github.com/rs/zerolog"
)

type fakeProcessor struct {
	fn func(ctx context.Context, userID, uri string) (*pipeline.PipelineState, error)
}

func (f *fakeProcessor) ProcessStatement(ctx context.Context, userID, uri string) (*pipeline.PipelineState, error) {
	return f.fn(ctx, userID, uri)
}

type otherJob struct{}

func (otherJob) GetID() string        { return "x" }
func (otherJob) GetType() JobType     { return "other" }
func (otherJob) GetStatus() JobStatus { return JobStatusPending }
func (otherJob) GetUserID() string    { return "user-1" }

func testContext() context.Context {
	return logger.WithContext(context.Background(), zerolog.Nop())
}

func TestProcessStatementHandler_RecordsOutcome(t *testing.T) {
	var gotUser, gotURI string
	var hadDeadline bool
	proc := &fakeProcessor{fn: func(ctx context.Context, userID, uri string) (*pipeline.PipelineState, error) {
		gotUser, gotURI = userID, uri
		_, hadDeadline = ctx.Deadline()
		return &pipeline.PipelineState{
			Statement: domain.Statement{ID: "s1"},
			Result: &recurrence.Result{
				Changeset: recurrence.Changeset{Created: make([]domain.RecurringPayment, 2)},
				Recurring: make([]domain.RecurringPayment, 3),
			},
		}, nil
	}}

	job := &ProcessStatementJob{JobID: "j1", UserID: "user-1", GCSURI: "gs://b/a.pdf"}
	if err := NewProcessStatementHandler(proc, time.Minute)(testContext(), job); err != nil {
		t.Fatalf("handler: %v", err)
	}

	if gotUser != "user-1" || gotURI != "gs://b/a.pdf" {
		t.Errorf("processor called with %q, %q", gotUser, gotURI)
	}
	if !hadDeadline {
		t.Error("expected the timeout to set a deadline")
	}
	if job.StatementID != "s1" || job.Created != 2 || job.Updated != 0 || job.Recurring != 3 {
		t.Errorf("unexpected job outcome %+v", job)
	}
}

func TestProcessStatementHandler_Error(t *testing.T) {
	boom := errors.New("boom")
	proc := &fakeProcessor{fn: func(ctx context.Context, userID, uri string) (*pipeline.PipelineState, error) {
		return &pipeline.PipelineState{Statement: domain.Statement{ID: "s1"}}, boom
	}}

	job := &ProcessStatementJob{JobID: "j1", UserID: "user-1"}
	err := NewProcessStatementHandler(proc, 0)(testContext(), job)
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
	if job.StatementID != "s1" {
		t.Errorf("expected the statement ID to be kept on failure, got %q", job.StatementID)
	}
}

func TestProcessStatementHandler_RejectsOtherJobs(t *testing.T) {
	proc := &fakeProcessor{fn: func(context.Context, string, string) (*pipeline.PipelineState, error) {
		t.Fatal("processor must not be called")
		return nil, nil
	}}
	if err := NewProcessStatementHandler(proc, 0)(testContext(), otherJob{}); err == nil {
		t.Error("expected an error for an unknown job type")
	}
}

func TestProcessStatementHandler_LogsJobFields(t *testing.T) {
	var buf bytes.Buffer
	ctx := logger.WithContext(context.Background(), logger.NewWithWriter(&buf))

	proc := &fakeProcessor{fn: func(ctx context.Context, userID, uri string) (*pipeline.PipelineState, error) {
		log := logger.FromContext(ctx)
		log.Info().Msg("processing")
		return nil, errors.New("unavailable")
	}}

	job := &ProcessStatementJob{JobID: "j7", UserID: "user-1", RetryCount: 1}
	if err := NewProcessStatementHandler(proc, 0)(ctx, job); err == nil {
		t.Fatal("expected an error")
	}

	out := buf.String()
	for _, field := range []string{`"job_id":"j7"`, `"user_id":"user-1"`, `"attempt":2`} {
		if !strings.Contains(out, field) {
			t.Errorf("expected %s in processor log, got: %s", field, out)
		}
	}
}
