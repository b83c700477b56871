package main

import (
	"fmt"
	"strings"
	"sync"

	"github.com/MimeLyc/subtitle-batch-translator/internal/config"
	"github.com/MimeLyc/subtitle-batch-translator/internal/jobs"
	"github.com/MimeLyc/subtitle-batch-translator/internal/langs"
	"github.com/MimeLyc/subtitle-batch-translator/internal/ledger"
	"github.com/MimeLyc/subtitle-batch-translator/internal/llm"
	"github.com/MimeLyc/subtitle-batch-translator/internal/persistence"
	"github.com/MimeLyc/subtitle-batch-translator/internal/retry"
	"github.com/MimeLyc/subtitle-batch-translator/internal/service"
	"github.com/MimeLyc/subtitle-batch-translator/internal/termmap"
	"github.com/MimeLyc/subtitle-batch-translator/internal/translator"
	"github.com/MimeLyc/subtitle-batch-translator/pkg/log"
)

// app wires configuration into a coordinator. The LLM section can be
// swapped at runtime by the settings endpoint.
type app struct {
	mu    sync.RWMutex
	cfg   config.Config
	store *persistence.SQLiteStore

	catalog *langs.Catalog
	ledger  *ledger.Ledger
	coord   *service.Coordinator
}

func newApp(cfg *config.Config, sink jobs.Sink) (*app, error) {
	catalog, err := langs.Load(cfg.Translate.LanguagesFile)
	if err != nil {
		return nil, fmt.Errorf("load languages: %w", err)
	}

	opts := service.Options{
		BatchSize:            cfg.Translate.BatchSize,
		MaxBatchChars:        cfg.Translate.MaxBatchChars,
		MaxParallelFiles:     cfg.Translate.MaxParallelFiles,
		MaxParallelLanguages: cfg.Translate.MaxParallelLanguages,
		SourceSuffix:         cfg.Translate.SourceSuffix,
		SourceLanguage:       cfg.Translate.SourceLanguage,
		Retry:                retry.DefaultPolicy(),
		DiscoverTermMaps:     cfg.Translate.DiscoverTermMaps,
	}
	if cfg.Translate.GlossaryFile != "" {
		terms, err := termmap.Load(cfg.Translate.GlossaryFile)
		if err != nil {
			return nil, fmt.Errorf("load glossary: %w", err)
		}
		opts.Terms = terms
	}

	a := &app{
		cfg:     *cfg,
		catalog: catalog,
		ledger:  ledger.New(),
	}

	if cfg.Cache.Enabled {
		store, err := persistence.NewSQLiteStore(cfg.Cache.Path)
		if err != nil {
			log.Warn("Translation cache disabled: %v", err)
		} else {
			a.store = store
		}
	}

	if sink == nil {
		sink = jobs.Discard
	}
	a.coord = service.NewCoordinator(a.newClient, a.ledger,
		service.WithCatalog(catalog),
		service.WithSink(sink),
		service.WithOptions(opts),
	)
	return a, nil
}

func (a *app) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Warn("Close translation cache: %v", err)
		}
	}
}

func (a *app) config() config.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg
}

// applySettings overlays runtime settings on the live configuration.
func (a *app) applySettings(next config.RuntimeSettings) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	updated := a.cfg
	config.WithRuntimeSettings(next)(&updated)
	a.cfg = updated
	log.Info("Runtime settings applied: model %s, %d languages", updated.LLM.Model, len(updated.Translate.Languages))
	return nil
}

// newClient builds the provider client for one run.
func (a *app) newClient(req service.RunRequest) (translator.Client, error) {
	cfg := a.config()
	llmCfg := cfg.LLM
	if key := strings.TrimSpace(req.APIKey); key != "" {
		llmCfg.APIKey = key
	}
	if model := strings.TrimSpace(req.Model); model != "" {
		llmCfg.Model = model
	}
	if llmCfg.APIKey == "" {
		return nil, fmt.Errorf("LLM_API_KEY is required")
	}

	chat, err := llm.NewClient(&llmCfg)
	if err != nil {
		return nil, err
	}
	var client translator.Client = translator.NewLLMClient(chat,
		translator.WithTemperature(llmCfg.Temperature),
		translator.WithMaxTokens(llmCfg.MaxTokens),
	)
	if a.store != nil {
		client = translator.NewCachedClient(client, a.store, llmCfg.Model)
	}
	return client, nil
}

func (a *app) runSettings(outputRoot string) service.RunSettings {
	cfg := a.config()
	return service.RunSettings{
		OutputRoot:        outputRoot,
		Model:             cfg.LLM.Model,
		Style:             cfg.Translate.Style,
		ParallelFiles:     cfg.Translate.ParallelFiles,
		ParallelLanguages: cfg.Translate.ParallelLanguages,
	}
}
