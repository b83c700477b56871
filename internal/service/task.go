package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/MimeLyc/subtitle-batch-translator/internal/jobs"
	"github.com/MimeLyc/subtitle-batch-translator/internal/langs"
	"github.com/MimeLyc/subtitle-batch-translator/internal/ledger"
	"github.com/MimeLyc/subtitle-batch-translator/internal/retry"
	"github.com/MimeLyc/subtitle-batch-translator/internal/subtitle"
	"github.com/MimeLyc/subtitle-batch-translator/internal/termmap"
	"github.com/MimeLyc/subtitle-batch-translator/internal/translator"
	"github.com/MimeLyc/subtitle-batch-translator/pkg/file"
	"github.com/MimeLyc/subtitle-batch-translator/pkg/log"
)

// FileTask translates one source file into one language and writes the
// result atomically. A job either produces a complete output file or none.
type FileTask struct {
	client   translator.Client
	catalog  *langs.Catalog
	opts     Options
	model    string
	style    string
	refresh  bool
	runID    string
	sink     jobs.Sink
	progress func(job jobs.Job, blocks int)
}

// TaskConfig wires a FileTask.
type TaskConfig struct {
	Client  translator.Client
	Catalog *langs.Catalog
	Options Options
	Model   string
	Style   string
	Refresh bool
	RunID   string
	Sink    jobs.Sink
	// Progress receives the number of blocks finished since the last call.
	Progress func(job jobs.Job, blocks int)
}

func NewFileTask(cfg TaskConfig) *FileTask {
	if cfg.Catalog == nil {
		cfg.Catalog = langs.Default()
	}
	if cfg.Sink == nil {
		cfg.Sink = jobs.Discard
	}
	if cfg.Progress == nil {
		cfg.Progress = func(jobs.Job, int) {}
	}
	return &FileTask{
		client:   cfg.Client,
		catalog:  cfg.Catalog,
		opts:     cfg.Options.withDefaults(),
		model:    cfg.Model,
		style:    cfg.Style,
		refresh:  cfg.Refresh,
		runID:    cfg.RunID,
		sink:     cfg.Sink,
		progress: cfg.Progress,
	}
}

// Run executes the job. Cancellation is observed between batches and while
// waiting to retry; a provider call that already started runs to completion.
func (t *FileTask) Run(ctx context.Context, job jobs.Job) (result JobResult) {
	result = JobResult{Job: job, OutputPath: job.OutputPath}

	if err := SafeExecute(func() error {
		result = t.run(ctx, job)
		return nil
	}); err != nil {
		rec := ledger.NewRecord(ledger.KindUnknown, job.Pair, err.Error(), true)
		return JobResult{Job: job, Outcome: OutcomeFailure, Failure: rec}
	}
	return result
}

func (t *FileTask) run(ctx context.Context, job jobs.Job) JobResult {
	result := JobResult{Job: job, OutputPath: job.OutputPath}
	fail := func(rec *ledger.Record) JobResult {
		result.Outcome = OutcomeFailure
		result.Failure = rec
		result.OutputPath = ""
		return result
	}
	cancelled := func() JobResult {
		log.Info("Cancelled %s", job.Pair)
		result.Outcome = OutcomeCancelled
		result.OutputPath = ""
		return result
	}

	if ctx.Err() != nil {
		return cancelled()
	}

	lang, err := t.catalog.Lookup(job.Pair.Language)
	if err != nil {
		return fail(ledger.NewRecord(ledger.KindUnknown, job.Pair, err.Error(), false))
	}

	data, err := os.ReadFile(job.Pair.SourceFile)
	if err != nil {
		return fail(ledger.NewRecord(ledger.KindFileRead, job.Pair, fmt.Sprintf("read source: %v", err), false))
	}
	blocks, err := subtitle.Parse(data)
	if err != nil {
		return fail(ledger.NewRecord(ledger.KindParsing, job.Pair, fmt.Sprintf("parse source: %v", err), false))
	}

	batches := partition(blocks, t.opts.BatchSize, t.opts.MaxBatchChars)
	t.status(job, fmt.Sprintf("Translating %s (%d blocks, %d batches)", job.Pair, len(blocks), len(batches)))

	if silent := len(blocks) - countBlocks(batches); silent > 0 {
		t.progress(job, silent)
	}

	terms := t.termsFor(job.Pair.SourceFile, lang)
	translated := make([]string, len(blocks))

	for i, batch := range batches {
		if ctx.Err() != nil {
			return cancelled()
		}

		req := translator.BatchRequest{
			Blocks:  batch,
			Target:  lang,
			Model:   t.model,
			Style:   t.style,
			Terms:   terms,
			Refresh: t.refresh,
		}
		texts, retries, err := retry.Do(ctx, t.opts.Retry,
			func(ctx context.Context) ([]string, error) {
				// The call itself ignores cancellation so a started request
				// is never torn down halfway.
				return t.client.TranslateBatch(context.WithoutCancel(ctx), req)
			},
			translator.IsTransient,
			func(a retry.Attempt) {
				t.status(job, fmt.Sprintf("Retry %d/%d for %s in %s: %v",
					a.Retry, t.opts.Retry.MaxRetries(), job.Pair, a.Delay, a.Err))
			},
		)
		result.Retries += retries
		if err != nil {
			var failure *retry.Failure
			if errors.As(err, &failure) && failure.Cancelled {
				return cancelled()
			}
			log.Error("Batch %d/%d of %s failed: %v", i+1, len(batches), job.Pair, err)
			return fail(translationFailure(job.Pair, err, retries))
		}
		if len(texts) != len(batch) {
			err := &translator.ClientError{
				Kind:    translator.KindMalformedResponse,
				Message: fmt.Sprintf("expected %d translations, got %d", len(batch), len(texts)),
			}
			return fail(translationFailure(job.Pair, err, retries))
		}

		for j, block := range batch {
			translated[block.Index] = texts[j]
		}
		t.progress(job, len(batch))
	}

	if ctx.Err() != nil {
		return cancelled()
	}

	out := make([]subtitle.Block, len(blocks))
	for i, block := range blocks {
		out[i] = block.WithTranslation(translated[i])
	}

	if err := file.WriteAtomic(job.OutputPath, subtitle.SerializeTranslated(out), 0o644); err != nil {
		return fail(ledger.NewRecord(ledger.KindFileWrite, job.Pair, err.Error(), true))
	}

	log.Info("Wrote %s", job.OutputPath)
	result.Outcome = OutcomeSuccess
	return result
}

func (t *FileTask) status(job jobs.Job, message string) {
	pair := job.Pair
	t.sink(jobs.Event{
		Kind:    jobs.EventStatus,
		RunID:   t.runID,
		JobID:   job.ID,
		Pair:    &pair,
		Message: message,
	})
}

func (t *FileTask) termsFor(sourceFile string, lang langs.Language) termmap.TermMap {
	merged := make(termmap.TermMap, len(t.opts.Terms))
	for k, v := range t.opts.Terms {
		merged[k] = v
	}
	if !t.opts.DiscoverTermMaps {
		return merged
	}

	target := lang.Tag.String()
	if lang.Tag.IsRoot() {
		target = lang.Key
	}
	path := termmap.FindInAncestors(filepath.Dir(sourceFile), t.opts.SourceLanguage, target)
	if path == "" {
		return merged
	}
	found, err := termmap.Load(path)
	if err != nil {
		log.Warn("Ignoring term map %s: %v", path, err)
		return merged
	}
	for k, v := range found {
		merged[k] = v
	}
	return merged
}

// partition groups non-silent blocks into batches of at most size blocks and
// about maxChars characters. A single oversized block still forms a batch.
func partition(blocks []subtitle.Block, size, maxChars int) [][]subtitle.Block {
	var (
		batches [][]subtitle.Block
		current []subtitle.Block
		chars   int
	)
	for _, block := range blocks {
		if block.Silent() {
			continue
		}
		n := len([]rune(block.Text))
		if len(current) > 0 && (len(current) >= size || chars+n > maxChars) {
			batches = append(batches, current)
			current, chars = nil, 0
		}
		current = append(current, block)
		chars += n
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

func countBlocks(batches [][]subtitle.Block) int {
	n := 0
	for _, b := range batches {
		n += len(b)
	}
	return n
}
