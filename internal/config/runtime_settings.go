package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/MimeLyc/subtitle-batch-translator/pkg/file"
	"github.com/MimeLyc/subtitle-batch-translator/pkg/icron"
)

// RuntimeSettings are the run defaults the HTTP API can change while the
// server is up. They are persisted as JSON so a restart keeps them.
type RuntimeSettings struct {
	LLMAPIURL         string   `json:"llm_api_url"`
	LLMAPIKey         string   `json:"llm_api_key,omitempty"`
	LLMModel          string   `json:"llm_model"`
	Languages         []string `json:"languages"`
	Style             string   `json:"style,omitempty"`
	ParallelFiles     bool     `json:"parallel_files"`
	ParallelLanguages bool     `json:"parallel_languages"`
	CronExpr          string   `json:"cron_expr,omitempty"`
}

func (s RuntimeSettings) Validate() error {
	if strings.TrimSpace(s.LLMAPIURL) == "" {
		return fmt.Errorf("llm_api_url is required")
	}
	if strings.TrimSpace(s.LLMModel) == "" {
		return fmt.Errorf("llm_model is required")
	}
	for _, lang := range s.Languages {
		if strings.TrimSpace(lang) == "" {
			return fmt.Errorf("languages must not contain empty entries")
		}
	}
	if s.CronExpr != "" {
		if err := icron.Validate(s.CronExpr); err != nil {
			return fmt.Errorf("invalid cron_expr: %w", err)
		}
	}
	return nil
}

// Redacted returns a copy without the API key.
func (s RuntimeSettings) Redacted() RuntimeSettings {
	s.LLMAPIKey = ""
	return s
}

func (c *Config) RuntimeSettings() RuntimeSettings {
	return RuntimeSettings{
		LLMAPIURL:         c.LLM.APIURL,
		LLMAPIKey:         c.LLM.APIKey,
		LLMModel:          c.LLM.Model,
		Languages:         append([]string(nil), c.Translate.Languages...),
		Style:             c.Translate.Style,
		ParallelFiles:     c.Translate.ParallelFiles,
		ParallelLanguages: c.Translate.ParallelLanguages,
		CronExpr:          c.Schedule.CronExpr,
	}
}

// WithRuntimeSettings overlays persisted settings. Empty strings keep the
// current value.
func WithRuntimeSettings(settings RuntimeSettings) Option {
	return func(c *Config) {
		if strings.TrimSpace(settings.LLMAPIURL) != "" {
			c.LLM.APIURL = settings.LLMAPIURL
		}
		if strings.TrimSpace(settings.LLMAPIKey) != "" {
			c.LLM.APIKey = settings.LLMAPIKey
		}
		if strings.TrimSpace(settings.LLMModel) != "" {
			c.LLM.Model = settings.LLMModel
		}
		if len(settings.Languages) > 0 {
			c.Translate.Languages = append([]string(nil), settings.Languages...)
		}
		if strings.TrimSpace(settings.Style) != "" {
			c.Translate.Style = settings.Style
		}
		if strings.TrimSpace(settings.CronExpr) != "" {
			c.Schedule.CronExpr = settings.CronExpr
		}
		c.Translate.ParallelFiles = settings.ParallelFiles
		c.Translate.ParallelLanguages = settings.ParallelLanguages
	}
}

func LoadRuntimeSettingsFile(path string) (RuntimeSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RuntimeSettings{}, err
	}
	var settings RuntimeSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return RuntimeSettings{}, fmt.Errorf("invalid settings file: %w", err)
	}
	return settings, nil
}

func WriteRuntimeSettingsFile(path string, settings RuntimeSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	content, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	content = append(content, '\n')

	return file.WriteAtomic(path, content, 0o600)
}

// RuntimeSettingsStore keeps the current settings in memory and mirrors every
// update to disk. An empty path keeps them in memory only.
type RuntimeSettingsStore struct {
	path string

	mu      sync.RWMutex
	current RuntimeSettings
}

func NewRuntimeSettingsStore(path string, initial RuntimeSettings) (*RuntimeSettingsStore, error) {
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	return &RuntimeSettingsStore{
		path:    path,
		current: initial,
	}, nil
}

func (s *RuntimeSettingsStore) GetRuntimeSettings() (RuntimeSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, nil
}

// UpdateRuntimeSettings replaces the settings. An empty API key keeps the
// stored one so clients never need to echo the secret back.
func (s *RuntimeSettingsStore) UpdateRuntimeSettings(next RuntimeSettings) (RuntimeSettings, error) {
	if err := next.Validate(); err != nil {
		return RuntimeSettings{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(next.LLMAPIKey) == "" {
		next.LLMAPIKey = s.current.LLMAPIKey
	}
	if s.path != "" {
		if err := WriteRuntimeSettingsFile(s.path, next); err != nil {
			return RuntimeSettings{}, err
		}
	}
	s.current = next
	return next, nil
}
