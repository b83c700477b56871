package service

import (
	"context"
	"errors"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/MimeLyc/subtitle-batch-translator/pkg/log"
)

// Scheduler triggers translation runs from a cron expression. Triggers that
// fire while a run is still going join it instead of starting another.
type Scheduler struct {
	coord       *Coordinator
	cron        *cron.Cron
	cronExpr    string
	req         TranslateRequest
	retryFailed bool
	group       singleflight.Group
}

func NewScheduler(coord *Coordinator, c *cron.Cron, cronExpr string, req TranslateRequest, retryFailed bool) *Scheduler {
	return &Scheduler{
		coord:       coord,
		cron:        c,
		cronExpr:    cronExpr,
		req:         req,
		retryFailed: retryFailed,
	}
}

// Schedule registers the run with the cron runner. The caller starts and
// stops the runner.
func (s *Scheduler) Schedule(ctx context.Context) (cron.EntryID, error) {
	log.Info("Scheduling translation of %s with %q", s.req.SourceDir, s.cronExpr)
	return s.cron.AddFunc(s.cronExpr, func() {
		outcome, err, shared := s.Trigger(ctx)
		switch {
		case shared:
			log.Info("Trigger joined the run already in progress")
		case err != nil:
			log.Error("Scheduled run failed: %v", err)
		default:
			log.Info("Scheduled run %s finished: %s", outcome.RunID, outcome.Status)
		}
	})
}

// Trigger runs once now. Concurrent callers share a single run.
func (s *Scheduler) Trigger(ctx context.Context) (*RunOutcome, error, bool) {
	v, err, shared := s.group.Do("run", func() (any, error) {
		outcome, err := s.coord.StartTranslation(ctx, s.req)
		if err != nil {
			return nil, err
		}
		if !s.retryFailed || s.coord.Ledger().Len() == 0 || outcome.Status == RunCancelled {
			return outcome, nil
		}
		retried, err := s.coord.RetryFailed(ctx, s.req.RunSettings)
		if errors.Is(err, ErrNoFailedPairs) {
			return outcome, nil
		}
		return retried, err
	})
	if err != nil {
		return nil, err, shared
	}
	return v.(*RunOutcome), nil, shared
}
