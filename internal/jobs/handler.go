package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/recurring-tracker/internal/logger"
	"github.com/dvloznov/recurring-tracker/internal/pipeline"
)

// StatementProcessor is the part of pipeline.Processor the handler needs.
type StatementProcessor interface {
	ProcessStatement(ctx context.Context, userID, uri string) (*pipeline.PipelineState, error)
}

// NewProcessStatementHandler returns a handler that runs statement jobs
// through proc. A positive timeout bounds each attempt.
func NewProcessStatementHandler(proc StatementProcessor, timeout time.Duration) JobHandler {
	return func(ctx context.Context, job Job) error {
		j, ok := job.(*ProcessStatementJob)
		if !ok {
			return fmt.Errorf("ProcessStatementHandler: unexpected job type %s", job.GetType())
		}

		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		log := logger.WithFields(logger.FromContext(ctx), map[string]interface{}{
			"job_id":  j.JobID,
			"user_id": j.UserID,
			"attempt": j.RetryCount + 1,
		})
		ctx = logger.WithContext(ctx, log)

		state, err := proc.ProcessStatement(ctx, j.UserID, j.GCSURI)
		if state != nil {
			j.StatementID = state.Statement.ID
		}
		if err != nil {
			return fmt.Errorf("ProcessStatementHandler: %w", err)
		}

		j.Created = len(state.Result.Changeset.Created)
		j.Updated = len(state.Result.Changeset.Updated)
		j.Recurring = len(state.Result.Recurring)

		log.Info().
			Str("statement_id", j.StatementID).
			Int("created", j.Created).
			Int("updated", j.Updated).
			Msg("Statement job finished")
		return nil
	}
}
