package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MimeLyc/subtitle-batch-translator/internal/config"
	"github.com/MimeLyc/subtitle-batch-translator/internal/service"
	"github.com/MimeLyc/subtitle-batch-translator/pkg/log"
)

// runFlags are the overrides shared by every command that starts a run.
type runFlags struct {
	source            string
	output            string
	languages         []string
	model             string
	apiKey            string
	style             string
	batchSize         int
	parallelFiles     bool
	parallelLanguages bool
}

func (f *runFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVarP(&f.source, "source", "s", "", "Folder with source .srt files")
	flags.StringVarP(&f.output, "output", "o", "", "Output root; one subfolder per language is created")
	flags.StringSliceVarP(&f.languages, "lang", "l", nil, "Target languages (repeat or comma separate)")
	flags.StringVar(&f.model, "model", "", "LLM model override")
	flags.StringVar(&f.apiKey, "api-key", "", "LLM API key override")
	flags.StringVar(&f.style, "style", "", "Translation style instruction")
	flags.IntVar(&f.batchSize, "batch-size", 0, "Blocks per LLM call")
	flags.BoolVar(&f.parallelFiles, "parallel-files", false, "Translate files concurrently")
	flags.BoolVar(&f.parallelLanguages, "parallel-languages", false, "Translate languages concurrently")
}

// apply returns a copy of cfg with the flags that were set layered on top.
func (f *runFlags) apply(cmd *cobra.Command, cfg *config.Config) *config.Config {
	out := *cfg
	flags := cmd.Flags()
	if f.source != "" {
		out.Translate.SourceDir = f.source
	}
	if f.output != "" {
		out.Translate.OutputDir = f.output
	}
	if len(f.languages) > 0 {
		out.Translate.Languages = f.languages
	}
	if f.model != "" {
		out.LLM.Model = f.model
	}
	if f.apiKey != "" {
		out.LLM.APIKey = f.apiKey
	}
	if f.style != "" {
		out.Translate.Style = f.style
	}
	if f.batchSize > 0 {
		out.Translate.BatchSize = f.batchSize
	}
	if flags.Changed("parallel-files") {
		out.Translate.ParallelFiles = f.parallelFiles
	}
	if flags.Changed("parallel-languages") {
		out.Translate.ParallelLanguages = f.parallelLanguages
	}
	return &out
}

func requireFolders(cfg *config.Config) error {
	var missing []string
	if strings.TrimSpace(cfg.Translate.SourceDir) == "" {
		missing = append(missing, "--source")
	}
	if strings.TrimSpace(cfg.Translate.OutputDir) == "" {
		missing = append(missing, "--output")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing %s", strings.Join(missing, " and "))
	}
	return nil
}

func newTranslateCommand(ctx *commandContext) *cobra.Command {
	var flags runFlags
	var retryFailed, refresh bool
	var errorsJSON string

	cmd := &cobra.Command{
		Use:   "translate",
		Short: "Translate every subtitle file into every target language",
		Long: `Translate every .srt file under --source into each --lang.

Outputs land in <output>/<language folder>/<name>_<SUFFIX>.srt and are
written only when every batch of the file succeeded. Failed pairs are
listed at the end; --retry-failed reruns just those once.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			cfg := flags.apply(cmd, base)
			if err := requireFolders(cfg); err != nil {
				return err
			}
			if len(cfg.Translate.Languages) == 0 {
				return errors.New("no target languages, use --lang or TARGET_LANGUAGES")
			}
			if err := cfg.RequireLLM(); err != nil {
				return err
			}

			progress := newProgressReporter(os.Stderr)
			a, err := newApp(cfg, progress.Sink())
			if err != nil {
				return err
			}
			defer a.close()
			handleInterrupts(cmd.Context(), a.coord)

			settings := a.runSettings(cfg.Translate.OutputDir)
			settings.Refresh = refresh
			outcome, err := a.coord.StartTranslation(cmd.Context(), service.TranslateRequest{
				RunSettings: settings,
				SourceDir:   cfg.Translate.SourceDir,
				Languages:   cfg.Translate.Languages,
			})
			progress.finish()
			if err != nil {
				return err
			}
			printOutcome(cmd.OutOrStdout(), outcome)

			if retryFailed && outcome.Status == service.RunFailed && a.ledger.Len() > 0 {
				log.Info("Retrying %d failed pairs", a.ledger.Len())
				retried, err := a.coord.RetryFailed(cmd.Context(), settings)
				progress.finish()
				if err != nil && !errors.Is(err, service.ErrNoFailedPairs) {
					return err
				}
				if retried != nil {
					outcome = retried
					printOutcome(cmd.OutOrStdout(), outcome)
				}
			}

			return finishRun(cmd, a, outcome, errorsJSON)
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&retryFailed, "retry-failed", false, "Rerun failed pairs once after the first pass")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Ignore cached translations and ask the provider again")
	cmd.Flags().StringVar(&errorsJSON, "errors-json", "", "Write the error ledger to this JSON file")
	return cmd
}

// finishRun prints remaining failures and turns a non-completed run into an
// error for the exit code.
func finishRun(cmd *cobra.Command, a *app, outcome *service.RunOutcome, errorsJSON string) error {
	printLedger(cmd.OutOrStdout(), a.ledger)
	if errorsJSON != "" && a.ledger.Len() > 0 {
		if err := exportLedger(errorsJSON, a.ledger); err != nil {
			return err
		}
		log.Info("Error ledger written to %s", errorsJSON)
	}
	switch outcome.Status {
	case service.RunCompleted:
		return nil
	case service.RunCancelled:
		return fmt.Errorf("run %s cancelled", outcome.RunID)
	default:
		return fmt.Errorf("run %s finished with %d failed pairs", outcome.RunID, a.ledger.Len())
	}
}

func newRetranslateCommand(ctx *commandContext) *cobra.Command {
	var flags runFlags
	var filename string

	cmd := &cobra.Command{
		Use:   "retranslate",
		Short: "Redo one file in one language",
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			cfg := flags.apply(cmd, base)
			if strings.TrimSpace(cfg.Translate.OutputDir) == "" {
				return errors.New("missing --output")
			}
			if len(flags.languages) != 1 {
				return errors.New("retranslate takes exactly one --lang")
			}
			if err := cfg.RequireLLM(); err != nil {
				return err
			}

			progress := newProgressReporter(os.Stderr)
			a, err := newApp(cfg, progress.Sink())
			if err != nil {
				return err
			}
			defer a.close()
			handleInterrupts(cmd.Context(), a.coord)

			outcome, err := a.coord.Retranslate(cmd.Context(), service.RetranslateRequest{
				RunSettings: a.runSettings(cfg.Translate.OutputDir),
				SourceDir:   cfg.Translate.SourceDir,
				Filename:    filename,
				Language:    flags.languages[0],
			})
			progress.finish()
			if err != nil {
				return err
			}
			printOutcome(cmd.OutOrStdout(), outcome)
			return finishRun(cmd, a, outcome, "")
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&filename, "file", "f", "", "Source file, relative to --source or absolute")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
