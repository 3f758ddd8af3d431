package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/androsja/Se-alyze/internal/pipeline"
	"github.com/androsja/Se-alyze/internal/settings"
)

const maxSettingsBody = 4 << 10

type decisionBody struct {
	Decision string `json:"decision"`
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Pipeline.Clear(r.Context()); err != nil {
		s.pipelineError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	dec, err := s.cfg.Pipeline.GenerateNow(r.Context())
	if err != nil {
		s.pipelineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, decisionBody{Decision: dec.String()})
}

func (s *Server) pipelineError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, pipeline.ErrNotRunning) {
		writeError(w, http.StatusServiceUnavailable, "pipeline is not running")
		return
	}
	if r.Context().Err() != nil {
		return
	}
	captureError(r, err, "pipeline command failed")
	writeError(w, http.StatusInternalServerError, "pipeline command failed")
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	cur, err := s.cfg.Settings.Load(r.Context())
	if err != nil {
		captureError(r, err, "load settings")
		writeError(w, http.StatusInternalServerError, "settings unavailable")
		return
	}
	writeJSON(w, http.StatusOK, cur.Document())
}

// handlePutSettings merges the request over the stored settings, persists
// the result and applies the sentence delay to the running pipeline.
// Fields left out of the request keep their stored values.
func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSettingsBody))
	dec.DisallowUnknownFields()
	var doc settings.Document
	if err := dec.Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid settings document: "+err.Error())
		return
	}

	s.settingsMu.Lock()
	defer s.settingsMu.Unlock()

	ctx := r.Context()
	cur, err := s.cfg.Settings.Load(ctx)
	if err != nil {
		captureError(r, err, "load settings")
		writeError(w, http.StatusInternalServerError, "settings unavailable")
		return
	}
	next, err := doc.Settings(cur)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := s.cfg.Settings.Save(ctx, next); err != nil {
		captureError(r, err, "save settings")
		writeError(w, http.StatusInternalServerError, "settings could not be saved")
		return
	}
	if err := s.cfg.Pipeline.SetDelay(ctx, next.SentenceDelay); err != nil {
		s.pipelineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, next.Document())
}
