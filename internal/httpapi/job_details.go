package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/MimeLyc/subtitle-batch-translator/internal/jobs"
	"github.com/MimeLyc/subtitle-batch-translator/internal/subtitle"
	"github.com/MimeLyc/subtitle-batch-translator/internal/validator"
	"github.com/MimeLyc/subtitle-batch-translator/pkg/file"
)

const (
	defaultJobPreviewLimit = 80
	maxJobPreviewLimit     = 500
)

var (
	errJobNotFound     = errors.New("job not found")
	errJobInProgress   = errors.New("job is running")
	errJobNotCompleted = errors.New("job is not completed")
	errInvalidLine     = errors.New("line index out of range")
)

type jobDetailResponse struct {
	Job           *jobs.Job        `json:"job"`
	Preview       []jobPreviewLine `json:"preview"`
	TotalLines    int              `json:"total_lines"`
	PreviewOffset int              `json:"preview_offset"`
	PreviewLimit  int              `json:"preview_limit"`
	Editable      bool             `json:"editable"`
}

type jobPreviewLine struct {
	Index          int    `json:"index"`
	Start          string `json:"start"`
	End            string `json:"end"`
	OriginalText   string `json:"original_text"`
	TranslatedText string `json:"translated_text"`
}

type updateJobLinesRequest struct {
	Lines []updateJobLineRequest `json:"lines"`
}

type updateJobLineRequest struct {
	Index          int    `json:"index"`
	TranslatedText string `json:"translated_text"`
}

func (s *Server) handleJobDetailRoutes(w http.ResponseWriter, r *http.Request) {
	jobID, action, ok := parseJobRoute(r.URL.Path)
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	switch action {
	case "":
		s.handleJobDetail(w, r, jobID)
	case "lines":
		s.handleUpdateJobLines(w, r, jobID)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func parseJobRoute(path string) (jobID string, action string, ok bool) {
	trimmed := strings.TrimPrefix(path, "/api/jobs/")
	trimmed = strings.Trim(trimmed, "/")
	if trimmed == "" {
		return "", "", false
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) > 2 {
		return "", "", false
	}
	rawID, err := url.PathUnescape(parts[0])
	if err != nil || strings.TrimSpace(rawID) == "" {
		return "", "", false
	}
	if len(parts) == 1 {
		return rawID, "", true
	}
	return rawID, parts[1], true
}

func (s *Server) handleJobDetail(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	offset := parsePositiveIntWithDefault(r.URL.Query().Get("offset"), 0)
	limit := parsePositiveIntWithDefault(r.URL.Query().Get("limit"), defaultJobPreviewLimit)
	if limit <= 0 {
		limit = defaultJobPreviewLimit
	}
	if limit > maxJobPreviewLimit {
		limit = maxJobPreviewLimit
	}

	detail, err := s.buildJobDetail(jobID, offset, limit)
	if err != nil {
		switch {
		case errors.Is(err, errJobNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleUpdateJobLines(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodPut {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req updateJobLinesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if len(req.Lines) == 0 {
		writeError(w, http.StatusBadRequest, "lines is required")
		return
	}

	detail, err := s.updateJobLines(jobID, req.Lines)
	if err != nil {
		switch {
		case errors.Is(err, errJobNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, errJobInProgress):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, errJobNotCompleted), errors.Is(err, errInvalidLine):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func parsePositiveIntWithDefault(raw string, def int) int {
	if strings.TrimSpace(raw) == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}

func (s *Server) buildJobDetail(jobID string, offset int, limit int) (jobDetailResponse, error) {
	job, ok := s.coord.Registry().Get(jobID)
	if !ok {
		return jobDetailResponse{}, errJobNotFound
	}

	source, err := readBlocks(job.Pair.SourceFile)
	if err != nil {
		return jobDetailResponse{}, fmt.Errorf("read source: %w", err)
	}
	output, err := readBlocksIfExists(job.OutputPath)
	if err != nil {
		return jobDetailResponse{}, fmt.Errorf("read output: %w", err)
	}

	return jobDetailResponse{
		Job:           job,
		Preview:       buildPreviewLines(source, output, offset, limit),
		TotalLines:    len(source),
		PreviewOffset: offset,
		PreviewLimit:  limit,
		Editable:      job.Status == jobs.StatusSuccess,
	}, nil
}

// updateJobLines rewrites translated lines of a finished job. Indexes are
// 1-based as in the SRT file.
func (s *Server) updateJobLines(jobID string, patches []updateJobLineRequest) (jobDetailResponse, error) {
	job, ok := s.coord.Registry().Get(jobID)
	if !ok {
		return jobDetailResponse{}, errJobNotFound
	}
	if job.Status == jobs.StatusPending || job.Status == jobs.StatusRunning {
		return jobDetailResponse{}, errJobInProgress
	}
	if job.Status != jobs.StatusSuccess {
		return jobDetailResponse{}, errJobNotCompleted
	}

	output, err := readBlocks(job.OutputPath)
	if err != nil {
		return jobDetailResponse{}, fmt.Errorf("read output: %w", err)
	}

	for i := range output {
		output[i].TranslatedText = output[i].Text
	}
	for _, patch := range patches {
		if patch.Index <= 0 || patch.Index > len(output) {
			return jobDetailResponse{}, errInvalidLine
		}
		output[patch.Index-1].TranslatedText = patch.TranslatedText
	}

	if err := file.WriteAtomic(job.OutputPath, subtitle.SerializeTranslated(output), 0o644); err != nil {
		return jobDetailResponse{}, err
	}

	// an edit can clear or cause a validation failure
	lang, err := s.coord.Catalog().Lookup(job.Pair.Language)
	if err == nil {
		opts := s.coord.Options()
		result := validator.ValidateFile(job.Pair.SourceFile, filepath.Dir(filepath.Dir(job.OutputPath)), opts.SourceSuffix, lang)
		s.coord.RecordValidation(job.Pair, result)
	}

	return s.buildJobDetail(jobID, 0, defaultJobPreviewLimit)
}

func buildPreviewLines(source, output []subtitle.Block, offset, limit int) []jobPreviewLine {
	if offset >= len(source) {
		return []jobPreviewLine{}
	}
	end := min(offset+limit, len(source))
	ret := make([]jobPreviewLine, 0, end-offset)
	for i := offset; i < end; i++ {
		line := jobPreviewLine{
			Index:        i + 1,
			Start:        subtitle.FormatTimestamp(source[i].Start),
			End:          subtitle.FormatTimestamp(source[i].End),
			OriginalText: source[i].Text,
		}
		if i < len(output) {
			line.TranslatedText = output[i].Text
		}
		ret = append(ret, line)
	}
	return ret
}

func readBlocks(path string) ([]subtitle.Block, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return subtitle.Parse(data)
}

func readBlocksIfExists(path string) ([]subtitle.Block, error) {
	blocks, err := readBlocks(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return blocks, err
}
