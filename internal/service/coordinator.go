package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MimeLyc/subtitle-batch-translator/internal/jobs"
	"github.com/MimeLyc/subtitle-batch-translator/internal/langs"
	"github.com/MimeLyc/subtitle-batch-translator/internal/ledger"
	"github.com/MimeLyc/subtitle-batch-translator/internal/subtitle"
	"github.com/MimeLyc/subtitle-batch-translator/internal/translator"
	"github.com/MimeLyc/subtitle-batch-translator/internal/validator"
	"github.com/MimeLyc/subtitle-batch-translator/pkg/file"
	"github.com/MimeLyc/subtitle-batch-translator/pkg/log"
)

const lockFileName = ".subbatch.lock"

// Coordinator runs job sets. It owns at most one active run at a time.
type Coordinator struct {
	newClient ClientFactory
	ledger    *ledger.Ledger
	catalog   *langs.Catalog
	registry  *jobs.Registry
	sink      jobs.Sink
	opts      Options

	mu     sync.Mutex
	active *activeRun
}

type activeRun struct {
	id       string
	cancel   context.CancelFunc
	progress *progressTracker
}

// Option configures a Coordinator.
type Option func(*Coordinator)

func WithCatalog(catalog *langs.Catalog) Option {
	return func(c *Coordinator) {
		c.catalog = catalog
	}
}

func WithSink(sink jobs.Sink) Option {
	return func(c *Coordinator) {
		c.sink = sink
	}
}

func WithOptions(opts Options) Option {
	return func(c *Coordinator) {
		c.opts = opts
	}
}

// NewCoordinator creates a coordinator recording failures into l.
func NewCoordinator(newClient ClientFactory, l *ledger.Ledger, opts ...Option) *Coordinator {
	c := &Coordinator{
		newClient: newClient,
		ledger:    l,
		catalog:   langs.Default(),
		registry:  jobs.NewRegistry(),
		sink:      jobs.Discard,
		opts:      DefaultOptions(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.ledger == nil {
		c.ledger = ledger.New()
	}
	c.opts = c.opts.withDefaults()
	return c
}

func (c *Coordinator) Ledger() *ledger.Ledger {
	return c.ledger
}

func (c *Coordinator) Registry() *jobs.Registry {
	return c.registry
}

func (c *Coordinator) Catalog() *langs.Catalog {
	return c.catalog
}

func (c *Coordinator) Options() Options {
	return c.opts
}

// Running reports the active run id, if any.
func (c *Coordinator) Running() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return "", false
	}
	return c.active.id, true
}

// Progress returns the active run's overall percentage.
func (c *Coordinator) Progress() (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil || c.active.progress == nil {
		return 0, false
	}
	return c.active.progress.percentage(), true
}

// Cancel asks the active run to stop. Jobs not yet started are skipped and
// provider calls already in flight finish first.
func (c *Coordinator) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return ErrNoActiveRun
	}
	log.Info("Cancelling run %s", c.active.id)
	c.active.cancel()
	return nil
}

// SourceFiles lists the .srt files under dir, skipping anything inside
// outputRoot.
func SourceFiles(dir, outputRoot string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, preflight("source folder "+dir, err)
	}
	if !info.IsDir() {
		return nil, preflight("source "+dir+" is not a folder", nil)
	}

	found, err := file.FindByExt(dir, ".srt")
	if err != nil {
		return nil, preflight("scan source folder", err)
	}

	var skip string
	if outputRoot != "" {
		if abs, err := filepath.Abs(outputRoot); err == nil {
			skip = abs + string(filepath.Separator)
		}
	}

	files := make([]string, 0, len(found))
	for _, path := range found {
		if skip != "" {
			if abs, err := filepath.Abs(path); err == nil && strings.HasPrefix(abs, skip) {
				continue
			}
		}
		files = append(files, path)
	}
	if len(files) == 0 {
		return nil, preflight("no .srt files in "+dir, nil)
	}
	return files, nil
}

// StartTranslation translates every source file into every language.
func (c *Coordinator) StartTranslation(ctx context.Context, req TranslateRequest) (*RunOutcome, error) {
	files, err := SourceFiles(req.SourceDir, req.OutputRoot)
	if err != nil {
		return nil, err
	}
	languages, err := c.catalog.Resolve(req.Languages)
	if err != nil {
		return nil, preflight("languages", err)
	}

	pairs := make([]jobs.Pair, 0, len(files)*len(languages))
	for _, f := range files {
		for _, lang := range languages {
			pairs = append(pairs, jobs.Pair{SourceFile: f, Language: lang.Key})
		}
	}
	log.Info("Found %d files and %d languages in %s", len(files), len(languages), req.SourceDir)

	return c.Run(ctx, RunRequest{RunSettings: req.RunSettings, Pairs: pairs})
}

// Retranslate redoes a single (file, language) pair.
func (c *Coordinator) Retranslate(ctx context.Context, req RetranslateRequest) (*RunOutcome, error) {
	if strings.TrimSpace(req.Filename) == "" {
		return nil, preflight("filename is required", nil)
	}
	source := req.Filename
	if !filepath.IsAbs(source) && req.SourceDir != "" {
		source = filepath.Join(req.SourceDir, source)
	}
	if _, err := os.Stat(source); err != nil {
		return nil, preflight("source file "+source, err)
	}
	lang, err := c.catalog.Lookup(req.Language)
	if err != nil {
		return nil, preflight("language", err)
	}

	settings := req.RunSettings
	settings.Refresh = true
	return c.Run(ctx, RunRequest{
		RunSettings: settings,
		Pairs:       []jobs.Pair{{SourceFile: source, Language: lang.Key}},
	})
}

// RetryFailed reruns exactly the pairs currently in the ledger.
func (c *Coordinator) RetryFailed(ctx context.Context, settings RunSettings) (*RunOutcome, error) {
	pairs := c.ledger.ListFailed()
	if len(pairs) == 0 {
		return nil, ErrNoFailedPairs
	}
	log.Info("Retrying %d failed pairs", len(pairs))
	settings.Refresh = true
	return c.Run(ctx, RunRequest{RunSettings: settings, Pairs: pairs})
}

// Validate checks outputs for every file under sourceDir in every language.
// It is read-only and does not touch the ledger.
func (c *Coordinator) Validate(sourceDir, outputRoot string, languages []string) ([]validator.Report, error) {
	files, err := SourceFiles(sourceDir, outputRoot)
	if err != nil {
		return nil, err
	}
	resolved, err := c.catalog.Resolve(languages)
	if err != nil {
		return nil, preflight("languages", err)
	}
	return validator.Validate(files, outputRoot, c.opts.SourceSuffix, resolved), nil
}

type plannedJob struct {
	job  jobs.Job
	lang langs.Language
}

// Run executes a job set. Preflight problems are returned as errors and leave
// the ledger untouched; job failures are recorded in the ledger and reflected
// in the outcome status.
func (c *Coordinator) Run(ctx context.Context, req RunRequest) (*RunOutcome, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	run := &activeRun{id: uuid.NewString(), cancel: cancel}
	c.mu.Lock()
	if c.active != nil {
		c.mu.Unlock()
		return nil, ErrRunInProgress
	}
	c.active = run
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.active = nil
		c.mu.Unlock()
	}()

	started := time.Now()

	planned, lock, client, err := c.prepare(req, run.id)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			log.Warn("Failed to release output lock: %v", err)
		}
	}()

	total := 0
	for _, p := range planned {
		total += p.job.Blocks
	}
	progress := newProgressTracker(run.id, total, c.sink)
	c.mu.Lock()
	run.progress = progress
	c.mu.Unlock()

	if req.OnStart != nil {
		req.OnStart(run.id)
	}
	c.emitStatus(run.id, fmt.Sprintf("Run %s started: %d jobs, %d blocks", run.id, len(planned), total))

	task := NewFileTask(TaskConfig{
		Client:   client,
		Catalog:  c.catalog,
		Options:  c.opts,
		Model:    req.Model,
		Style:    req.Style,
		Refresh:  req.Refresh,
		RunID:    run.id,
		Sink:     c.sink,
		Progress: progress.add,
	})

	results := make([]JobResult, len(planned))
	var failedMu sync.Mutex
	failedThisRun := make(map[jobs.Pair]bool)

	runJob := func(i int) {
		job := planned[i].job
		if runCtx.Err() != nil {
			c.registry.MarkCancelled(job.ID)
			results[i] = JobResult{Job: job, Outcome: OutcomeCancelled}
			return
		}

		if snapshot, ok := c.registry.MarkRunning(job.ID); ok {
			job = *snapshot
		}
		res := task.Run(runCtx, job)
		if res.Outcome != OutcomeCancelled {
			progress.settle(job)
		}

		switch res.Outcome {
		case OutcomeSuccess:
			c.registry.MarkSuccess(job.ID)
			c.ledger.Remove(job.Pair)
		case OutcomeFailure:
			c.registry.MarkFailed(job.ID, res.Failure)
			c.ledger.Record(*res.Failure)
			failedMu.Lock()
			failedThisRun[job.Pair] = true
			failedMu.Unlock()
			c.emitFileError(run.id, job, res.Failure)
			logRecord(res.Failure)
		case OutcomeCancelled:
			c.registry.MarkCancelled(job.ID)
		}
		results[i] = res
	}

	c.dispatch(runCtx, planned, req.RunSettings, runJob)

	outcome := &RunOutcome{
		RunID:     run.id,
		Results:   results,
		StartedAt: started,
	}
	for _, r := range results {
		switch r.Outcome {
		case OutcomeSuccess:
			outcome.Succeeded++
		case OutcomeFailure:
			outcome.Failed++
		case OutcomeCancelled:
			outcome.Cancelled++
		}
	}

	switch {
	case runCtx.Err() != nil && outcome.Cancelled > 0:
		outcome.Status = RunCancelled
	default:
		validationFailed := c.validateRun(run.id, req.OutputRoot, planned, failedThisRun, outcome)
		if outcome.Failed > 0 || validationFailed {
			outcome.Status = RunFailed
		} else {
			outcome.Status = RunCompleted
		}
	}
	outcome.Duration = time.Since(started)

	c.emitStatus(run.id, fmt.Sprintf("Run %s %s: %d succeeded, %d failed, %d cancelled",
		run.id, outcome.Status, outcome.Succeeded, outcome.Failed, outcome.Cancelled))
	log.Info("Run %s %s in %s", run.id, outcome.Status, outcome.Duration.Round(time.Millisecond))
	return outcome, nil
}

// prepare performs every check that must pass before any job starts.
func (c *Coordinator) prepare(req RunRequest, runID string) ([]plannedJob, *flock.Flock, translator.Client, error) {
	if len(req.Pairs) == 0 {
		return nil, nil, nil, preflight("no jobs to run", nil)
	}
	if strings.TrimSpace(req.OutputRoot) == "" {
		return nil, nil, nil, preflight("output folder is required", nil)
	}

	resolved := make(map[string]langs.Language)
	for _, pair := range req.Pairs {
		if _, ok := resolved[pair.Language]; ok {
			continue
		}
		lang, err := c.catalog.Lookup(pair.Language)
		if err != nil {
			return nil, nil, nil, preflight("language", err)
		}
		resolved[pair.Language] = lang
	}

	type candidate struct {
		pair jobs.Pair
		lang langs.Language
		out  string
	}
	var candidates []candidate
	seenOutputs := make(map[string]jobs.Pair)
	seenPairs := make(map[jobs.Pair]bool)
	for _, pair := range req.Pairs {
		lang := resolved[pair.Language]
		pair.Language = lang.Key
		if seenPairs[pair] {
			continue
		}
		seenPairs[pair] = true

		out := langs.OutputPath(req.OutputRoot, pair.SourceFile, c.opts.SourceSuffix, lang)
		if other, dup := seenOutputs[out]; dup {
			return nil, nil, nil, preflight(fmt.Sprintf("%s and %s both write %s", other, pair, out), nil)
		}
		seenOutputs[out] = pair
		candidates = append(candidates, candidate{pair: pair, lang: lang, out: out})
	}

	if err := file.CheckWritable(req.OutputRoot); err != nil {
		return nil, nil, nil, preflight("output folder", err)
	}

	lock := flock.New(filepath.Join(req.OutputRoot, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, nil, nil, preflight("lock output folder", err)
	}
	if !locked {
		return nil, nil, nil, preflight(req.OutputRoot, ErrOutputLocked)
	}

	client, err := c.newClient(req)
	if err != nil {
		_ = lock.Unlock()
		return nil, nil, nil, preflight("translation client", err)
	}

	c.registry.Reset()
	blockCounts := make(map[string]int)
	planned := make([]plannedJob, 0, len(candidates))
	for _, cand := range candidates {
		n, ok := blockCounts[cand.pair.SourceFile]
		if !ok {
			n = countSourceBlocks(cand.pair.SourceFile)
			blockCounts[cand.pair.SourceFile] = n
		}
		job := c.registry.Add(cand.pair, cand.out, n)
		planned = append(planned, plannedJob{job: *job, lang: cand.lang})
	}

	log.Info("Run %s planned %d jobs into %s", runID, len(planned), req.OutputRoot)
	return planned, lock, client, nil
}

// dispatch schedules jobs grouped by source file. Files run through one
// bounded pool and each file's languages through a nested one.
func (c *Coordinator) dispatch(ctx context.Context, planned []plannedJob, settings RunSettings, runJob func(int)) {
	fileLimit, langLimit := 1, 1
	if settings.ParallelFiles {
		fileLimit = c.opts.MaxParallelFiles
	}
	if settings.ParallelLanguages {
		langLimit = c.opts.MaxParallelLanguages
	}

	var order []string
	byFile := make(map[string][]int)
	for i, p := range planned {
		f := p.job.Pair.SourceFile
		if _, ok := byFile[f]; !ok {
			order = append(order, f)
		}
		byFile[f] = append(byFile[f], i)
	}

	var files errgroup.Group
	files.SetLimit(fileLimit)
	for _, f := range order {
		indexes := byFile[f]
		files.Go(func() error {
			var languages errgroup.Group
			languages.SetLimit(langLimit)
			for _, i := range indexes {
				if ctx.Err() != nil {
					runJob(i)
					continue
				}
				languages.Go(func() error {
					runJob(i)
					return nil
				})
			}
			return languages.Wait()
		})
	}
	_ = files.Wait()
}

// validateRun checks every pair of the run and updates the ledger. It
// reports whether any pair failed validation.
func (c *Coordinator) validateRun(runID, outputRoot string, planned []plannedJob, failedThisRun map[jobs.Pair]bool, outcome *RunOutcome) bool {
	c.emitStatus(runID, fmt.Sprintf("Validating %d outputs", len(planned)))

	failed := false
	byLanguage := make(map[string]int)
	for _, p := range planned {
		res := validator.ValidateFile(p.job.Pair.SourceFile, outputRoot, c.opts.SourceSuffix, p.lang)

		idx, ok := byLanguage[p.lang.Key]
		if !ok {
			idx = len(outcome.Validation)
			byLanguage[p.lang.Key] = idx
			outcome.Validation = append(outcome.Validation, validator.Report{Language: p.lang.Key})
		}
		outcome.Validation[idx].Files = append(outcome.Validation[idx].Files, res)

		if !res.Passed {
			failed = true
		}
		// The job's own failure record stands, even when an older output
		// still passes.
		if failedThisRun[p.job.Pair] {
			continue
		}
		if rec := c.RecordValidation(p.job.Pair, res); rec != nil {
			c.emitFileError(runID, p.job, rec)
		}
	}
	return failed
}

// RecordValidation updates the ledger from a validation result: a pass clears
// the pair, a failure records a validation error which is returned.
func (c *Coordinator) RecordValidation(pair jobs.Pair, res validator.FileResult) *ledger.Record {
	if res.Passed {
		c.ledger.Remove(pair)
		return nil
	}
	rec := ledger.NewRecord(ledger.KindValidation, pair, strings.Join(res.Reasons, "; "), true)
	c.ledger.Record(*rec)
	log.Warn("Validation failed for %s: %s", pair, rec.Message)
	return rec
}

func (c *Coordinator) emitStatus(runID, message string) {
	c.sink(jobs.Event{Kind: jobs.EventStatus, RunID: runID, Message: message})
}

func (c *Coordinator) emitFileError(runID string, job jobs.Job, rec *ledger.Record) {
	pair := job.Pair
	c.sink(jobs.Event{
		Kind:        jobs.EventFileError,
		RunID:       runID,
		JobID:       job.ID,
		Pair:        &pair,
		Message:     rec.Error(),
		Recoverable: rec.Recoverable,
	})
}

func countSourceBlocks(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	blocks, err := subtitle.Parse(data)
	if err != nil && !errors.Is(err, subtitle.ErrNoBlocks) {
		return 0
	}
	return len(blocks)
}
