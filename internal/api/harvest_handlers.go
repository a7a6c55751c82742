package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/novel-harvester/internal/dispatcher"
	"github.com/JakeFAU/novel-harvester/internal/harvest"
	"github.com/JakeFAU/novel-harvester/internal/queue"
	"github.com/JakeFAU/novel-harvester/internal/source"
)

type harvestRequest struct {
	URL       string `json:"url"`
	BatchSize int    `json:"batch_size"`
	Restart   bool   `json:"restart"`
}

type harvestResponse struct {
	JobID        string          `json:"job_id"`
	CollectionID string          `json:"collection_id"`
	Status       queue.JobStatus `json:"status"`
}

func (s *Server) submitHarvest(w http.ResponseWriter, r *http.Request) {
	var req harvestRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json payload")
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	if req.BatchSize < 0 {
		writeError(w, http.StatusBadRequest, "batch_size must be >= 0")
		return
	}
	req.BatchSize = harvest.ResolveRequestedBatchSize(req.BatchSize)
	collectionID, err := s.deps.URLs.CheckURL(req.URL)
	if err != nil {
		if errors.Is(err, source.ErrUnsupportedURL) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "url check failed")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), enqueueTimeout)
	defer cancel()
	job, err := s.deps.Submitter.Submit(ctx, dispatcher.Request{
		URL:       req.URL,
		BatchSize: req.BatchSize,
		Restart:   req.Restart,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, queue.ErrClosed) {
			writeError(w, http.StatusServiceUnavailable, "queue unavailable")
			return
		}
		s.logger.Error("submit harvest failed", zap.String("url", req.URL), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to queue harvest")
		return
	}
	s.logger.Info("harvest queued",
		zap.String("job_id", job.ID),
		zap.String("collection_id", collectionID),
		zap.Int("batch_size", req.BatchSize),
		zap.Bool("restart", req.Restart),
	)
	writeJSON(w, http.StatusAccepted, harvestResponse{
		JobID:        job.ID,
		CollectionID: collectionID,
		Status:       job.Status,
	})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.deps.Submitter.Job(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, queue.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("get job failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}
