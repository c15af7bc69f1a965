package api

import (
	"net/http"
	"time"

	"github.com/MikeSquared-Agency/mnemo/internal/hermes"
)

const (
	clearNotConfigured = "NOT_CONFIGURED"
	clearAlreadyEmpty  = "ALREADY_EMPTY"
	clearSuccess       = "SUCCESS"
	clearError         = "ERROR"
)

type indexStats struct {
	DocumentCount int64 `json:"documentCount"`
}

type clearResponse struct {
	Message      string      `json:"message,omitempty"`
	Error        string      `json:"error,omitempty"`
	Details      string      `json:"details,omitempty"`
	Status       string      `json:"status"`
	DeletedCount int64       `json:"deletedCount"`
	BeforeStats  *indexStats `json:"beforeStats,omitempty"`
	AfterStats   *indexStats `json:"afterStats,omitempty"`
	Timestamp    string      `json:"timestamp"`
}

// clear handles POST /clear, deleting every indexed document.
func (s *Server) clear(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC().Format(time.RFC3339)

	if s.deps.Index == nil {
		writeJSON(w, http.StatusInternalServerError, clearResponse{
			Error:     "vector index is not configured",
			Status:    clearNotConfigured,
			Timestamp: now,
		})
		return
	}

	ctx := r.Context()
	var before *indexStats
	if n, err := s.deps.Index.Count(ctx); err != nil {
		s.logger.Warn("could not count documents before clear", "error", err)
	} else {
		before = &indexStats{DocumentCount: n}
	}

	deleted, err := s.deps.Index.Clear(ctx)
	if err != nil {
		s.logger.Error("clear failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, clearResponse{
			Error:     "failed to clear the vector index",
			Details:   err.Error(),
			Status:    clearError,
			Timestamp: now,
		})
		return
	}

	if deleted == 0 {
		writeJSON(w, http.StatusOK, clearResponse{
			Message:   "vector index is already empty",
			Status:    clearAlreadyEmpty,
			Timestamp: now,
		})
		return
	}

	var after *indexStats
	if n, err := s.deps.Index.Count(ctx); err != nil {
		s.logger.Warn("could not count documents after clear", "error", err)
	} else {
		after = &indexStats{DocumentCount: n}
	}

	s.logger.Info("index cleared", "deleted", deleted)
	if s.deps.Publisher != nil {
		if err := s.deps.Publisher.Publish(hermes.SubjectIndexCleared, hermes.IndexCleared{Deleted: deleted}); err != nil {
			s.logger.Warn("failed to publish clear event", "error", err)
		}
	}

	writeJSON(w, http.StatusOK, clearResponse{
		Message:      "vector index cleared",
		Status:       clearSuccess,
		DeletedCount: deleted,
		BeforeStats:  before,
		AfterStats:   after,
		Timestamp:    now,
	})
}
