package handlers

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/dvloznov/recurring-tracker/internal/api/middleware"
	"github.com/dvloznov/recurring-tracker/internal/domain"
	"github.com/dvloznov/recurring-tracker/internal/gcsuploader"
	"github.com/dvloznov/recurring-tracker/internal/jobs"
	"github.com/dvloznov/recurring-tracker/internal/logger"
	"github.com/dvloznov/recurring-tracker/internal/pipeline"
	"github.com/dvloznov/recurring-tracker/internal/recurrence"
)

// multipartOverhead is allowed on top of the file size limit for form fields
// and part headers.
const multipartOverhead = 1 << 20

// ReadRepository is the read side of pipeline.Repository used by the API.
type ReadRepository interface {
	ListStatements(ctx context.Context, userID string) ([]domain.Statement, error)
	ListRecurringPayments(ctx context.Context, userID string) ([]domain.RecurringPayment, error)
}

// Uploader stores statement PDFs.
type Uploader interface {
	Upload(ctx context.Context, objectName string, r io.Reader) (string, error)
}

// UploadProcessor processes a statement in the request.
type UploadProcessor interface {
	ProcessUpload(ctx context.Context, userID, filename, sourceURI string, pdf []byte) (*pipeline.PipelineState, error)
}

// StatementsHandler handles statement endpoints.
type StatementsHandler struct {
	repo      ReadRepository
	uploader  Uploader        // optional; without it files are not stored
	publisher jobs.Publisher  // optional; with an uploader, uploads are queued
	processor UploadProcessor // used when uploads are not queued
	maxBytes  int64
}

// NewStatementsHandler creates a new statements handler.
func NewStatementsHandler(repo ReadRepository, uploader Uploader, publisher jobs.Publisher, processor UploadProcessor, maxBytes int64) *StatementsHandler {
	return &StatementsHandler{
		repo:      repo,
		uploader:  uploader,
		publisher: publisher,
		processor: processor,
		maxBytes:  maxBytes,
	}
}

// ListStatements handles GET /api/statements?user_id=
func (h *StatementsHandler) ListStatements(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	statements, err := h.repo.ListStatements(ctx, userID)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to list statements")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list statements")
		return
	}

	out := make([]StatementResponse, 0, len(statements))
	for _, s := range statements {
		out = append(out, statementResponse(s))
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"statements": out,
		"count":      len(out),
	})
}

// UploadStatement handles POST /api/statements, a multipart form with a
// "user_id" field and a "file" part holding the PDF. With a publisher and an
// uploader the statement is stored and queued (202), otherwise it is
// processed in the request (200).
func (h *StatementsHandler) UploadStatement(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	if h.maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+multipartOverhead)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			middleware.WriteError(w, http.StatusRequestEntityTooLarge, domain.ErrFileTooLarge.Error())
			return
		}
		middleware.WriteError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}

	userID := r.FormValue("user_id")
	if userID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	filename := filepath.Base(header.Filename)
	data, err := io.ReadAll(file)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read uploaded file")
		middleware.WriteError(w, http.StatusBadRequest, "Failed to read file")
		return
	}

	if err := domain.ValidateUpload(filename, int64(len(data)), h.maxBytes); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, domain.ErrFileTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		middleware.WriteError(w, status, err.Error())
		return
	}

	var gcsURI string
	if h.uploader != nil {
		objectName := gcsuploader.ObjectName(userID, domain.Checksum(data), filename)
		gcsURI, err = h.uploader.Upload(ctx, objectName, bytes.NewReader(data))
		if err != nil {
			log.Error().Err(err).Str("user_id", userID).Msg("Failed to upload statement")
			middleware.WriteError(w, http.StatusInternalServerError, "Failed to upload file")
			return
		}
	}

	if h.publisher != nil && gcsURI != "" {
		job := &jobs.ProcessStatementJob{UserID: userID, GCSURI: gcsURI}
		if err := h.publisher.PublishProcessStatement(ctx, job); err != nil {
			log.Error().Err(err).Str("user_id", userID).Msg("Failed to enqueue statement job")
			middleware.WriteError(w, http.StatusServiceUnavailable, "Failed to enqueue statement")
			return
		}

		log.Info().Str("job_id", job.JobID).Str("user_id", userID).Str("gcs_uri", gcsURI).Msg("Statement job enqueued")
		middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
			"job_id":  job.JobID,
			"gcs_uri": gcsURI,
			"status":  string(job.Status),
		})
		return
	}

	if h.processor == nil {
		middleware.WriteError(w, http.StatusServiceUnavailable, "Statement processing is not configured")
		return
	}

	state, err := h.processor.ProcessUpload(ctx, userID, filename, gcsURI, data)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to process statement")
		middleware.WriteError(w, http.StatusBadGateway, "Failed to process statement")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, processResponse(state))
}

// RecurringHandler handles recurring payment endpoints.
type RecurringHandler struct {
	repo ReadRepository
}

// NewRecurringHandler creates a new recurring payments handler.
func NewRecurringHandler(repo ReadRepository) *RecurringHandler {
	return &RecurringHandler{repo: repo}
}

// ListRecurring handles GET /api/recurring?user_id=
func (h *RecurringHandler) ListRecurring(w http.ResponseWriter, r *http.Request) {
	payments, ok := h.load(w, r)
	if !ok {
		return
	}
	out := paymentResponses(payments)
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"recurring_payments": out,
		"count":              len(out),
	})
}

// Summary handles GET /api/recurring/summary?user_id=[&format=text]
func (h *RecurringHandler) Summary(w http.ResponseWriter, r *http.Request) {
	payments, ok := h.load(w, r)
	if !ok {
		return
	}

	summary := recurrence.BuildSummary(payments)
	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, recurrence.FormatSummary(summary))
		return
	}
	middleware.WriteJSON(w, http.StatusOK, summaryResponse(summary))
}

func (h *RecurringHandler) load(w http.ResponseWriter, r *http.Request) ([]domain.RecurringPayment, bool) {
	ctx := r.Context()
	userID, ok := requireUserID(w, r)
	if !ok {
		return nil, false
	}

	payments, err := h.repo.ListRecurringPayments(ctx, userID)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to list recurring payments")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list recurring payments")
		return nil, false
	}
	return payments, true
}

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	store jobs.JobStore
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore) *JobsHandler {
	return &JobsHandler{store: store}
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	ctx := r.Context()

	job, err := h.store.GetJob(ctx, jobID)
	if errors.Is(err, jobs.ErrJobNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}
	if err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get job")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Parse query parameters
	query := r.URL.Query()
	filter := jobs.JobFilter{
		UserID: query.Get("user_id"),
		Status: jobs.JobStatus(query.Get("status")),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	jobsList, err := h.store.ListJobs(ctx, filter)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}

func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "user_id is required")
		return "", false
	}
	return userID, true
}
