package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/MikeSquared-Agency/mnemo/internal/ingest"
)

const maxUploadBytes = 32 << 20

var supportedFormats = []string{
	"time\\tsender\\tmessage (e.g. 9:20\\tAlice\\tgood morning!)",
	"date header: 2024/1/23(火) or 2024/1/23(Tue)",
	"header lines: [LINE] Chat history with ..., 保存日時：...",
}

const formatExample = "2024/1/23(火)\\n9:20\\tAlice\\tgood morning!\\n9:21\\tBob\\tmorning!"

type prepareResponse struct {
	Message    string                `json:"message"`
	Summary    ingest.Summary        `json:"summary"`
	Processing ingest.ProcessingInfo `json:"processingInfo"`
}

// prepare handles POST /prepare: a multipart upload of one .txt export plus
// optional JSON options.
func (s *Server) prepare(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":                "this endpoint only accepts file uploads; use Content-Type: multipart/form-data",
			"supportedContentType": "multipart/form-data",
			"requiredField":        "file",
			"supportedFileTypes":   []string{".txt"},
		})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid multipart form: " + err.Error()})
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no file found; upload the export in the 'file' field"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "could not read upload: " + err.Error()})
		return
	}
	defer file.Close()

	if !strings.EqualFold(filepath.Ext(header.Filename), ".txt") {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "only text files (.txt) are supported"})
		return
	}

	raw, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "could not read upload: " + err.Error()})
		return
	}

	var opts ingest.Options
	if v := r.FormValue("options"); v != "" {
		if err := json.Unmarshal([]byte(v), &opts); err != nil {
			s.logger.Warn("invalid options JSON, using defaults", "error", err)
			opts = ingest.Options{}
		}
	}
	s.logger.Info("export uploaded", "filename", header.Filename, "bytes", header.Size)

	res, err := s.deps.Ingest.Ingest(r.Context(), string(raw), opts)
	if err != nil {
		s.logger.Error("ingest failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":   "failed to process chat history",
			"details": err.Error(),
		})
		return
	}

	if res.Summary.NothingParsed {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":            "could not parse the LINE chat history; check the export format",
			"supportedFormats": supportedFormats,
			"example":          formatExample,
		})
		return
	}

	writeJSON(w, http.StatusOK, prepareResponse{
		Message:    "chat history processed",
		Summary:    res.Summary,
		Processing: res.Processing,
	})
}
