package api

import (
	"net/http"
	"net/url"
	"time"

	"github.com/dunamismax/shrinkpic/internal/domain"
	"github.com/dunamismax/shrinkpic/internal/id"
	"github.com/dunamismax/shrinkpic/internal/queue"
	"github.com/dunamismax/shrinkpic/internal/storage"
	"go.uber.org/zap"
)

type jobResultView struct {
	domain.JobResult
	DownloadURL string `json:"download_url,omitempty"`
}

type jobView struct {
	ID        string                      `json:"job_id"`
	Status    string                      `json:"status"`
	Params    domain.ProcessingParameters `json:"params"`
	Images    int                         `json:"images"`
	Results   []jobResultView             `json:"results,omitempty"`
	Error     string                      `json:"error,omitempty"`
	CreatedAt time.Time                   `json:"created_at"`
	UpdatedAt time.Time                   `json:"updated_at"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	if !s.asyncEnabled() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "async jobs are not configured"})
		return
	}

	form, err := parseBatchForm(w, r, domain.FormatJPEG)
	if err != nil {
		s.writeFormError(w, err)
		return
	}
	if form.webhookURL != "" {
		if u, err := url.Parse(form.webhookURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "webhookUrl must be an absolute http(s) URL"})
			return
		}
	}

	now := s.now().UTC()
	job := domain.Job{
		ID:         id.New(),
		Status:     domain.JobStatusQueued,
		Params:     form.params,
		WebhookURL: form.webhookURL,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	for i, file := range form.files {
		key := storage.SourceKey(job.ID, i, file.Name)
		if err := s.storage.WriteObject(r.Context(), key, file.Data, file.MediaType); err != nil {
			s.logger.Error("upload source failed", zap.String("job_id", job.ID), zap.String("object_key", key), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to store upload"})
			return
		}
		job.Sources = append(job.Sources, domain.JobSource{
			Name:      file.Name,
			ObjectKey: key,
			MediaType: file.MediaType,
			SizeBytes: int64(len(file.Data)),
		})
	}

	if err := s.jobs.Create(r.Context(), job); err != nil {
		s.logger.Error("create job failed", zap.String("job_id", job.ID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create job"})
		return
	}

	info, err := s.queue.EnqueueProcessBatch(r.Context(), queue.ProcessBatchPayload{JobID: job.ID, RequestedAt: now})
	if err != nil {
		s.logger.Error("enqueue failed", zap.String("job_id", job.ID), zap.Error(err))
		if _, ferr := s.jobs.Fail(r.Context(), job.ID, "enqueue failed"); ferr != nil {
			s.logger.Warn("mark job failed", zap.String("job_id", job.ID), zap.Error(ferr))
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to enqueue job"})
		return
	}
	s.metrics.queueEnqueued.WithLabelValues(info.Queue).Inc()
	s.logger.Info("job queued", zap.String("job_id", job.ID), zap.Int("images", len(job.Sources)), zap.String("queue", info.Queue))

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":     job.ID,
		"status":     domain.JobStatusQueued,
		"images":     len(job.Sources),
		"status_url": "/v1/jobs/" + job.ID,
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if !s.asyncEnabled() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "async jobs are not configured"})
		return
	}

	jobID := r.PathValue("id")
	if !id.Valid(jobID) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid job id"})
		return
	}

	job, ok, err := s.jobs.Get(r.Context(), jobID)
	if err != nil {
		s.logger.Error("fetch job failed", zap.String("job_id", jobID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load job"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}

	view := jobView{
		ID:        job.ID,
		Status:    job.Status,
		Params:    job.Params,
		Images:    len(job.Sources),
		Error:     job.Error,
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
	}
	for _, res := range job.Results {
		link, err := s.storage.PresignedGetURL(r.Context(), res.ObjectKey, res.OutputName, s.presignTTL)
		if err != nil {
			s.logger.Warn("presign output failed", zap.String("job_id", job.ID), zap.String("object_key", res.ObjectKey), zap.Error(err))
		}
		view.Results = append(view.Results, jobResultView{JobResult: res, DownloadURL: link})
	}

	writeJSON(w, http.StatusOK, view)
}
