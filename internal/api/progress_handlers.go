package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/novel-harvester/internal/harvest"
	"github.com/JakeFAU/novel-harvester/internal/progress"
	"github.com/JakeFAU/novel-harvester/internal/store"
)

type progressResponse struct {
	CollectionID    string    `json:"collection_id"`
	Running         bool      `json:"running"`
	Title           string    `json:"title,omitempty"`
	CompletedItems  int       `json:"completed_items"`
	BufferedBlocks  int       `json:"buffered_blocks"`
	LastUpdate      time.Time `json:"last_update,omitzero"`
	Completed       bool      `json:"completed"`
	CompletedAt     time.Time `json:"completed_at,omitzero"`
	CompletedLength int       `json:"completed_length,omitempty"`
}

func newProgressResponse(st harvest.Status) progressResponse {
	resp := progressResponse{CollectionID: st.CollectionID, Running: st.Running}
	if rec := st.Record; rec != nil {
		resp.Title = rec.Title
		resp.CompletedItems = rec.Completed()
		resp.BufferedBlocks = len(rec.BufferedContent)
		resp.LastUpdate = rec.LastUpdate
	}
	if done := st.Completion; done != nil {
		if resp.Title == "" {
			resp.Title = done.Title
		}
		resp.Completed = true
		resp.CompletedAt = done.CompletedAt
		resp.CompletedLength = len(done.CompletedItemRefs)
	}
	return resp
}

func (s *Server) getProgress(w http.ResponseWriter, r *http.Request) {
	collectionID := chi.URLParam(r, "collection_id")
	st, err := s.deps.Harvests.Status(r.Context(), collectionID)
	if err != nil {
		s.logger.Error("load status failed", zap.String("collection_id", collectionID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load progress")
		return
	}
	if !st.Known() {
		writeError(w, http.StatusNotFound, "collection not found")
		return
	}
	writeJSON(w, http.StatusOK, newProgressResponse(st))
}

func (s *Server) deleteProgress(w http.ResponseWriter, r *http.Request) {
	collectionID := chi.URLParam(r, "collection_id")
	if err := s.deps.Harvests.Reset(r.Context(), collectionID); err != nil {
		if errors.Is(err, harvest.ErrAlreadyRunning) {
			writeError(w, http.StatusConflict, "harvest is running")
			return
		}
		s.logger.Error("reset failed", zap.String("collection_id", collectionID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to reset progress")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) checkpoint(w http.ResponseWriter, r *http.Request) {
	collectionID := chi.URLParam(r, "collection_id")
	art, err := s.deps.Harvests.SaveCurrentProgress(r.Context(), collectionID)
	if err != nil {
		switch {
		case errors.Is(err, harvest.ErrNoProgressToSave), errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "no buffered progress to save")
		default:
			s.logger.Error("checkpoint failed", zap.String("collection_id", collectionID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to save progress")
		}
		return
	}
	writeJSON(w, http.StatusOK, art)
}

// streamEvents relays a collection's events as server-sent events until the
// client leaves or the run ends.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	if s.deps.Events == nil {
		writeError(w, http.StatusNotImplemented, "event streaming disabled")
		return
	}
	collectionID := chi.URLParam(r, "collection_id")
	events, cancel := s.deps.Events.Subscribe(collectionID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(s.opts.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case evt, open := <-events:
			if !open {
				return
			}
			if err := writeEvent(w, evt); err != nil {
				s.logger.Debug("event stream write failed", zap.Error(err))
				return
			}
			flusher.Flush()
			if evt.Kind == progress.KindComplete || evt.Kind == progress.KindError {
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, evt progress.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", evt.Seq, evt.Kind, payload)
	return err
}
