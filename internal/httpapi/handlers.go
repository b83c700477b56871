package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/MimeLyc/subtitle-batch-translator/internal/config"
	"github.com/MimeLyc/subtitle-batch-translator/internal/jobs"
	"github.com/MimeLyc/subtitle-batch-translator/internal/ledger"
	"github.com/MimeLyc/subtitle-batch-translator/internal/service"
	"github.com/MimeLyc/subtitle-batch-translator/internal/validator"
)

type runSettingsRequest struct {
	OutputRoot        string `json:"outputRoot"`
	Model             string `json:"model"`
	Style             string `json:"style"`
	APIKey            string `json:"apiKey"`
	ParallelFiles     *bool  `json:"parallelFiles"`
	ParallelLanguages *bool  `json:"parallelLanguages"`
	Refresh           bool   `json:"refresh"`
}

type translateRequest struct {
	runSettingsRequest
	SourceDir string   `json:"sourceDir"`
	Languages []string `json:"languages"`
}

type retranslateRequest struct {
	runSettingsRequest
	SourceDir string `json:"sourceDir"`
	Filename  string `json:"filename"`
	Language  string `json:"language"`
}

type validateRequest struct {
	SourceDir  string   `json:"sourceDir"`
	OutputRoot string   `json:"outputRoot"`
	Languages  []string `json:"languages"`
}

type statusResponse struct {
	Running  bool                `json:"running"`
	RunID    string              `json:"runId,omitempty"`
	Progress float64             `json:"progress"`
	Jobs     map[jobs.Status]int `json:"jobs"`
	Last     *runResult          `json:"last,omitempty"`
}

type errorsResponse struct {
	Summary ledger.Summary  `json:"summary"`
	Records []ledger.Record `json:"records"`
}

type languageResponse struct {
	Key     string   `json:"key"`
	Name    string   `json:"name"`
	Tag     string   `json:"tag"`
	Aliases []string `json:"aliases,omitempty"`
	Folder  string   `json:"folder"`
	Suffix  string   `json:"suffix"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	resp := statusResponse{Jobs: s.coord.Registry().Counts()}
	resp.RunID, resp.Running = s.coord.Running()
	if p, ok := s.coord.Progress(); ok {
		resp.Progress = p
	}
	s.mu.Lock()
	resp.Last = s.last
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.coord.Registry().List())
}

func (s *Server) handleErrors(w http.ResponseWriter, r *http.Request) {
	l := s.coord.Ledger()
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, errorsResponse{
			Summary: l.Summary(),
			Records: l.Records(),
		})
	case http.MethodDelete:
		if _, running := s.coord.Running(); running {
			writeError(w, http.StatusConflict, service.ErrRunInProgress.Error())
			return
		}
		l.Clear()
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleLanguages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	all := s.coord.Catalog().All()
	ret := make([]languageResponse, 0, len(all))
	for _, lang := range all {
		ret = append(ret, languageResponse{
			Key:     lang.Key,
			Name:    lang.Name,
			Tag:     lang.Tag.String(),
			Aliases: lang.Aliases,
			Folder:  lang.Folder,
			Suffix:  lang.Suffix,
		})
	}
	writeJSON(w, http.StatusOK, ret)
}

func (s *Server) handleTranslations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req translateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	stored := s.runtimeSettings()
	settings, ok := s.runSettings(w, req.runSettingsRequest, stored)
	if !ok {
		return
	}
	sourceDir := firstNonEmpty(req.SourceDir, s.defaults.SourceDir)
	if sourceDir == "" {
		writeError(w, http.StatusBadRequest, "sourceDir is required")
		return
	}
	languages := s.languages(req.Languages, stored)
	if len(languages) == 0 {
		writeError(w, http.StatusBadRequest, "languages is required")
		return
	}

	s.startRun(w, r, settings, func(ctx context.Context, settings service.RunSettings) (*service.RunOutcome, error) {
		return s.coord.StartTranslation(ctx, service.TranslateRequest{
			RunSettings: settings,
			SourceDir:   sourceDir,
			Languages:   languages,
		})
	})
}

func (s *Server) handleRetranslations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req retranslateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if strings.TrimSpace(req.Filename) == "" || strings.TrimSpace(req.Language) == "" {
		writeError(w, http.StatusBadRequest, "filename and language are required")
		return
	}

	settings, ok := s.runSettings(w, req.runSettingsRequest, s.runtimeSettings())
	if !ok {
		return
	}
	sourceDir := firstNonEmpty(req.SourceDir, s.defaults.SourceDir)

	s.startRun(w, r, settings, func(ctx context.Context, settings service.RunSettings) (*service.RunOutcome, error) {
		return s.coord.Retranslate(ctx, service.RetranslateRequest{
			RunSettings: settings,
			SourceDir:   sourceDir,
			Filename:    req.Filename,
			Language:    req.Language,
		})
	})
}

func (s *Server) handleRetryFailed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req runSettingsRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
	}
	settings, ok := s.runSettings(w, req, s.runtimeSettings())
	if !ok {
		return
	}
	s.startRun(w, r, settings, s.coord.RetryFailed)
}

func (s *Server) handleValidations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	sourceDir := firstNonEmpty(req.SourceDir, s.defaults.SourceDir)
	outputRoot := firstNonEmpty(req.OutputRoot, s.defaults.OutputRoot)
	languages := s.languages(req.Languages, s.runtimeSettings())
	if sourceDir == "" || outputRoot == "" || len(languages) == 0 {
		writeError(w, http.StatusBadRequest, "sourceDir, outputRoot and languages are required")
		return
	}

	reports, err := s.coord.Validate(sourceDir, outputRoot, languages)
	if err != nil {
		writeRunError(w, err)
		return
	}
	if reports == nil {
		reports = []validator.Report{}
	}
	writeJSON(w, http.StatusOK, reports)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := s.coord.Cancel(); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"ok": true,
	})
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeError(w, http.StatusNotImplemented, "settings store is not configured")
		return
	}

	switch r.Method {
	case http.MethodGet:
		settings, err := s.settings.GetRuntimeSettings()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, settings.Redacted())
	case http.MethodPut:
		var req config.RuntimeSettings
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		if err := req.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if _, err := s.coord.Catalog().Resolve(req.Languages); len(req.Languages) > 0 && err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		saved, err := s.settings.UpdateRuntimeSettings(req)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if s.apply != nil {
			if err := s.apply(saved); err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
		}
		writeJSON(w, http.StatusOK, saved.Redacted())
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// startRun launches run in the background and answers once it has either
// passed preflight or failed.
func (s *Server) startRun(w http.ResponseWriter, r *http.Request, settings service.RunSettings,
	run func(context.Context, service.RunSettings) (*service.RunOutcome, error)) {
	started := make(chan string, 1)
	failed := make(chan error, 1)
	settings.OnStart = func(runID string) { started <- runID }

	go func() {
		outcome, err := run(s.baseCtx, settings)
		s.setLast(outcome, err)
		if err != nil {
			failed <- err
		}
	}()

	select {
	case runID := <-started:
		writeJSON(w, http.StatusAccepted, map[string]any{
			"runId": runID,
		})
	case err := <-failed:
		writeRunError(w, err)
	case <-r.Context().Done():
	}
}

func (s *Server) setLast(outcome *service.RunOutcome, err error) {
	// a rejected start says nothing about the previous run
	if errors.Is(err, service.ErrRunInProgress) {
		return
	}
	res := &runResult{Outcome: outcome}
	if err != nil {
		res.Error = err.Error()
	}
	s.mu.Lock()
	s.last = res
	s.mu.Unlock()
}

func (s *Server) runtimeSettings() config.RuntimeSettings {
	if s.settings == nil {
		return config.RuntimeSettings{}
	}
	settings, err := s.settings.GetRuntimeSettings()
	if err != nil {
		return config.RuntimeSettings{}
	}
	return settings
}

func (s *Server) runSettings(w http.ResponseWriter, req runSettingsRequest, stored config.RuntimeSettings) (service.RunSettings, bool) {
	settings := service.RunSettings{
		OutputRoot:        firstNonEmpty(req.OutputRoot, s.defaults.OutputRoot),
		Model:             firstNonEmpty(req.Model, stored.LLMModel),
		Style:             firstNonEmpty(req.Style, stored.Style),
		APIKey:            req.APIKey,
		ParallelFiles:     stored.ParallelFiles,
		ParallelLanguages: stored.ParallelLanguages,
		Refresh:           req.Refresh,
	}
	if req.ParallelFiles != nil {
		settings.ParallelFiles = *req.ParallelFiles
	}
	if req.ParallelLanguages != nil {
		settings.ParallelLanguages = *req.ParallelLanguages
	}
	if settings.OutputRoot == "" {
		writeError(w, http.StatusBadRequest, "outputRoot is required")
		return service.RunSettings{}, false
	}
	return settings, true
}

func (s *Server) languages(requested []string, stored config.RuntimeSettings) []string {
	switch {
	case len(requested) > 0:
		return requested
	case len(stored.Languages) > 0:
		return stored.Languages
	default:
		return s.defaults.Languages
	}
}

func writeRunError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrRunInProgress), errors.Is(err, service.ErrOutputLocked),
		errors.Is(err, service.ErrNoFailedPairs):
		writeError(w, http.StatusConflict, err.Error())
	case service.IsPreflight(err):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}
