package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/MimeLyc/subtitle-batch-translator/internal/service"
	"github.com/MimeLyc/subtitle-batch-translator/pkg/icron"
	"github.com/MimeLyc/subtitle-batch-translator/pkg/log"
)

func newScheduleCommand(ctx *commandContext) *cobra.Command {
	var flags runFlags
	var cronExpr string
	var retryFailed bool
	var now bool

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Translate on a cron schedule until interrupted",
		Long: `Register a recurring translation of --source into --output.

Triggers that fire while a run is still going join it instead of starting a
second one. The expression accepts an optional leading seconds field.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			cfg := flags.apply(cmd, base)
			if cronExpr != "" {
				cfg.Schedule.CronExpr = cronExpr
			}
			if cmd.Flags().Changed("retry-failed") {
				cfg.Schedule.RetryFailed = retryFailed
			}
			if cfg.Schedule.CronExpr == "" {
				return errors.New("no cron expression, use --cron or CRON_EXPR")
			}
			if err := requireFolders(cfg); err != nil {
				return err
			}
			if len(cfg.Translate.Languages) == 0 {
				return errors.New("no target languages, use --lang or TARGET_LANGUAGES")
			}
			if err := cfg.RequireLLM(); err != nil {
				return err
			}

			info, err := icron.GetTriggerInfo(cfg.Schedule.CronExpr, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Next run %s (%s)\n",
				info.Next.Format(time.RFC1123), humanize.Time(info.Next))

			progress := newProgressReporter(os.Stderr)
			a, err := newApp(cfg, progress.Sink())
			if err != nil {
				return err
			}
			defer a.close()

			runCtx, stop := signalContext(cmd.Context())
			defer stop()

			c := icron.New()
			s := service.NewScheduler(a.coord, c, cfg.Schedule.CronExpr, service.TranslateRequest{
				RunSettings: a.runSettings(cfg.Translate.OutputDir),
				SourceDir:   cfg.Translate.SourceDir,
				Languages:   cfg.Translate.Languages,
			}, cfg.Schedule.RetryFailed)
			if _, err := s.Schedule(runCtx); err != nil {
				return err
			}
			c.Start()
			defer func() { <-c.Stop().Done() }()

			if now {
				go func() {
					if _, err, _ := s.Trigger(runCtx); err != nil {
						log.Error("Immediate run failed: %v", err)
					}
				}()
			}

			<-runCtx.Done()
			log.Info("Stopping schedule")
			if err := a.coord.Cancel(); err != nil && !errors.Is(err, service.ErrNoActiveRun) {
				return err
			}
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&cronExpr, "cron", "", "Cron expression (default from CRON_EXPR)")
	cmd.Flags().BoolVar(&retryFailed, "retry-failed", false, "Retry failed pairs once after each scheduled run")
	cmd.Flags().BoolVar(&now, "now", false, "Also run once immediately")
	return cmd
}
