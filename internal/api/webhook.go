package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/MikeSquared-Agency/mnemo/internal/access"
	"github.com/MikeSquared-Agency/mnemo/internal/line"
)

const maxWebhookBody = 1 << 20

// webhook handles POST /webhook. Once the signature and body are valid it
// always answers 200; per-event failures are handled inside the pipeline.
func (s *Server) webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}

	if err := line.VerifySignature(s.deps.ChannelSecret, body, r.Header.Get(line.SignatureHeader)); err != nil {
		s.logger.Warn("rejected webhook", "error", err)
		msg := "invalid signature"
		if errors.Is(err, line.ErrMissingSignature) {
			msg = "missing signature"
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
		return
	}

	payload, err := line.ParsePayload(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	allow := access.ParseAllowList(s.deps.AllowList())
	if s.deps.Events != nil && len(payload.Events) > 0 {
		attempts := s.deps.Events.HandleBatch(r.Context(), payload.Events, allow)
		for _, a := range attempts {
			if a.Err != nil {
				s.logger.Info("event handled with error",
					"interaction_id", a.InteractionID,
					"outcome", a.Outcome,
					"error", a.Err)
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}
