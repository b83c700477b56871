package main

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/MimeLyc/subtitle-batch-translator/internal/config"
	"github.com/MimeLyc/subtitle-batch-translator/internal/httpapi"
	"github.com/MimeLyc/subtitle-batch-translator/internal/jobs"
	"github.com/MimeLyc/subtitle-batch-translator/internal/library"
	"github.com/MimeLyc/subtitle-batch-translator/internal/service"
	"github.com/MimeLyc/subtitle-batch-translator/pkg/icron"
	"github.com/MimeLyc/subtitle-batch-translator/pkg/log"
)

type scheduler interface {
	Schedule(context.Context) error
}

type cronEngine interface {
	Start()
	Stop() context.Context
}

type httpServer interface {
	ListenAndServe(addr string) error
	Shutdown(context.Context) error
}

// scheduleFunc adapts service.Scheduler, whose Schedule also returns the
// entry id.
type scheduleFunc func(context.Context) error

func (f scheduleFunc) Schedule(ctx context.Context) error { return f(ctx) }

const shutdownTimeout = 10 * time.Second

// runWithComponents starts the scheduler and the HTTP server and blocks until
// ctx is done or the server fails. sched and cron may be nil.
func runWithComponents(ctx context.Context, addr string, sched scheduler, cron cronEngine, srv httpServer) error {
	if sched != nil && cron != nil {
		if err := sched.Schedule(ctx); err != nil {
			return err
		}
		cron.Start()
		defer func() {
			<-cron.Stop().Done()
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP API listening on %s", addr)
		errCh <- srv.ListenAndServe(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func newServeCommand(ctx *commandContext) *cobra.Command {
	var addr string
	var uiDir string
	var noSchedule bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, optionally with the cron schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.HTTP.Addr
			}

			settings, err := loadRuntimeSettings(cfg)
			if err != nil {
				return err
			}
			live := *cfg
			config.WithRuntimeSettings(settings)(&live)

			bus := jobs.NewEventBus(1000)
			a, err := newApp(&live, bus.Sink())
			if err != nil {
				return err
			}
			defer a.close()

			store, err := config.NewRuntimeSettingsStore(cfg.HTTP.SettingsFile, live.RuntimeSettings())
			if err != nil {
				return err
			}

			runCtx, stop := signalContext(cmd.Context())
			defer stop()

			var scanner *library.Scanner
			if live.Translate.SourceDir != "" && live.Translate.OutputDir != "" {
				scanner, err = newLibraryScanner(a, &live)
				if err != nil {
					return err
				}
			}
			apply := func(next config.RuntimeSettings) error {
				if err := a.applySettings(next); err != nil {
					return err
				}
				if scanner == nil {
					return nil
				}
				cfg := a.config()
				targets, err := a.catalog.Resolve(cfg.Translate.Languages)
				if err != nil {
					return err
				}
				scanner.Update(cfg.Translate.SourceDir, cfg.Translate.OutputDir, targets)
				return nil
			}

			opts := []httpapi.Option{
				httpapi.WithUI(uiDir, uiDir != ""),
				httpapi.WithRuntimeSettingsStore(store),
				httpapi.WithRuntimeSettingsApplier(apply),
				httpapi.WithDefaults(httpapi.Defaults{
					SourceDir:  live.Translate.SourceDir,
					OutputRoot: live.Translate.OutputDir,
					Languages:  live.Translate.Languages,
				}),
				httpapi.WithBaseContext(runCtx),
			}
			if scanner != nil {
				opts = append(opts, httpapi.WithLibrary(scanner))
			}
			srv := httpapi.NewServer(a.coord, bus, opts...)

			var sched scheduler
			var engine cronEngine
			if !noSchedule && live.Schedule.CronExpr != "" && live.Translate.SourceDir != "" && live.Translate.OutputDir != "" {
				c := icron.New()
				s := service.NewScheduler(a.coord, c, live.Schedule.CronExpr, service.TranslateRequest{
					RunSettings: a.runSettings(live.Translate.OutputDir),
					SourceDir:   live.Translate.SourceDir,
					Languages:   live.Translate.Languages,
				}, live.Schedule.RetryFailed)
				sched = scheduleFunc(func(ctx context.Context) error {
					_, err := s.Schedule(ctx)
					return err
				})
				engine = c
			}

			return runWithComponents(runCtx, addr, sched, engine, srv)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from HTTP_ADDR)")
	cmd.Flags().StringVar(&uiDir, "ui-dir", "", "Serve a built web UI from this folder")
	cmd.Flags().BoolVar(&noSchedule, "no-schedule", false, "Do not register the cron schedule")
	return cmd
}

// loadRuntimeSettings reads the persisted settings file, falling back to the
// configuration when there is none yet.
func loadRuntimeSettings(cfg *config.Config) (config.RuntimeSettings, error) {
	if cfg.HTTP.SettingsFile == "" {
		return cfg.RuntimeSettings(), nil
	}
	settings, err := config.LoadRuntimeSettingsFile(cfg.HTTP.SettingsFile)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg.RuntimeSettings(), nil
	}
	if err != nil {
		return config.RuntimeSettings{}, err
	}
	log.Info("Loaded runtime settings from %s", cfg.HTTP.SettingsFile)
	return settings, nil
}
