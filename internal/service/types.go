package service

import (
	"time"

	"github.com/MimeLyc/subtitle-batch-translator/internal/jobs"
	"github.com/MimeLyc/subtitle-batch-translator/internal/ledger"
	"github.com/MimeLyc/subtitle-batch-translator/internal/retry"
	"github.com/MimeLyc/subtitle-batch-translator/internal/termmap"
	"github.com/MimeLyc/subtitle-batch-translator/internal/translator"
	"github.com/MimeLyc/subtitle-batch-translator/internal/validator"
)

const (
	DefaultBatchSize            = 10
	DefaultMaxBatchChars        = 6000
	DefaultMaxParallelFiles     = 4
	DefaultMaxParallelLanguages = 4
	DefaultSourceSuffix         = "EN"
	DefaultSourceLanguage       = "en"
)

// Options tunes how jobs are batched and scheduled.
type Options struct {
	BatchSize            int
	MaxBatchChars        int
	MaxParallelFiles     int
	MaxParallelLanguages int
	// SourceSuffix is stripped from source base names when naming outputs.
	SourceSuffix string
	// SourceLanguage selects term_map.<src>-<tgt>.json files.
	SourceLanguage string
	Retry          retry.Policy
	// Terms apply to every job; per-folder term map files take precedence.
	Terms termmap.TermMap
	// DiscoverTermMaps looks for term map files next to each source and in
	// its ancestors.
	DiscoverTermMaps bool
}

// DefaultOptions returns sequential-safe defaults.
func DefaultOptions() Options {
	return Options{
		BatchSize:            DefaultBatchSize,
		MaxBatchChars:        DefaultMaxBatchChars,
		MaxParallelFiles:     DefaultMaxParallelFiles,
		MaxParallelLanguages: DefaultMaxParallelLanguages,
		SourceSuffix:         DefaultSourceSuffix,
		SourceLanguage:       DefaultSourceLanguage,
		Retry:                retry.DefaultPolicy(),
		DiscoverTermMaps:     true,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.BatchSize <= 0 {
		o.BatchSize = d.BatchSize
	}
	if o.MaxBatchChars <= 0 {
		o.MaxBatchChars = d.MaxBatchChars
	}
	if o.MaxParallelFiles <= 0 {
		o.MaxParallelFiles = d.MaxParallelFiles
	}
	if o.MaxParallelLanguages <= 0 {
		o.MaxParallelLanguages = d.MaxParallelLanguages
	}
	if o.SourceLanguage == "" {
		o.SourceLanguage = d.SourceLanguage
	}
	return o
}

// RunSettings are the per-invocation knobs shared by every run entry point.
type RunSettings struct {
	OutputRoot string `json:"outputRoot"`
	Model      string `json:"model,omitempty"`
	Style      string `json:"style,omitempty"`
	// APIKey overrides the configured credentials for this run.
	APIKey            string `json:"-"`
	ParallelFiles     bool   `json:"parallelFiles"`
	ParallelLanguages bool   `json:"parallelLanguages"`
	// Refresh bypasses cached translations. Retranslate and RetryFailed
	// always set it.
	Refresh bool `json:"refresh,omitempty"`
	// OnStart is called with the run id once preflight has passed.
	OnStart func(runID string) `json:"-"`
}

// RunRequest is a job set plus settings. Every run, whether a full
// translation or a retry of failed pairs, is one of these.
type RunRequest struct {
	RunSettings
	Pairs []jobs.Pair `json:"pairs"`
}

// TranslateRequest translates every .srt under SourceDir into Languages.
type TranslateRequest struct {
	RunSettings
	SourceDir string   `json:"sourceDir"`
	Languages []string `json:"languages"`
}

// RetranslateRequest redoes one file in one language.
type RetranslateRequest struct {
	RunSettings
	SourceDir string `json:"sourceDir"`
	Filename  string `json:"filename"`
	Language  string `json:"language"`
}

// ClientFactory builds the translation client for a run. An error aborts
// the run before any job starts.
type ClientFactory func(req RunRequest) (translator.Client, error)

type OutcomeKind string

const (
	OutcomeSuccess   OutcomeKind = "success"
	OutcomeFailure   OutcomeKind = "failure"
	OutcomeCancelled OutcomeKind = "cancelled"
)

// JobResult is the settled state of one job.
type JobResult struct {
	Job        jobs.Job       `json:"job"`
	Outcome    OutcomeKind    `json:"outcome"`
	OutputPath string         `json:"outputPath,omitempty"`
	Failure    *ledger.Record `json:"failure,omitempty"`
	Retries    int            `json:"retries"`
}

type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// RunOutcome summarizes a finished run.
type RunOutcome struct {
	RunID      string             `json:"runId"`
	Status     RunStatus          `json:"status"`
	Results    []JobResult        `json:"results"`
	Validation []validator.Report `json:"validation,omitempty"`
	Succeeded  int                `json:"succeeded"`
	Failed     int                `json:"failed"`
	Cancelled  int                `json:"cancelled"`
	StartedAt  time.Time          `json:"startedAt"`
	Duration   time.Duration      `json:"duration"`
}
