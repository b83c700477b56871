package service

import (
	"errors"
	"fmt"

	"github.com/MimeLyc/subtitle-batch-translator/internal/jobs"
	"github.com/MimeLyc/subtitle-batch-translator/internal/ledger"
	"github.com/MimeLyc/subtitle-batch-translator/internal/retry"
	"github.com/MimeLyc/subtitle-batch-translator/internal/translator"
	"github.com/MimeLyc/subtitle-batch-translator/pkg/log"
)

var (
	ErrRunInProgress = errors.New("a run is already in progress")
	ErrNoActiveRun   = errors.New("no active run")
	ErrNoFailedPairs = errors.New("no failed pairs to retry")
	ErrOutputLocked  = errors.New("output folder is locked by another run")
)

// PreflightError aborts a run before any job starts. It never produces
// ledger records.
type PreflightError struct {
	Reason string
	Cause  error
}

func (e *PreflightError) Error() string {
	if e.Cause == nil {
		return "cannot start run: " + e.Reason
	}
	return fmt.Sprintf("cannot start run: %s: %v", e.Reason, e.Cause)
}

func (e *PreflightError) Unwrap() error {
	return e.Cause
}

func preflight(reason string, cause error) error {
	return &PreflightError{Reason: reason, Cause: cause}
}

// IsPreflight reports whether err aborted a run before it started.
func IsPreflight(err error) bool {
	var pe *PreflightError
	return errors.As(err, &pe)
}

// translationFailure converts a terminal batch error into a ledger record.
func translationFailure(pair jobs.Pair, err error, retries int) *ledger.Record {
	recoverable := false
	var failure *retry.Failure
	if errors.As(err, &failure) {
		recoverable = failure.Recoverable
		retries = failure.RetryCount
	}

	clientErr := translator.Classify(err)

	kind := ledger.KindAPI
	switch clientErr.Kind {
	case translator.KindTimedOut:
		kind = ledger.KindTimeout
	case translator.KindOther:
		kind = ledger.KindUnknown
	}

	rec := ledger.NewRecord(kind, pair, err.Error(), recoverable).
		WithRetries(retries).
		WithCause(string(clientErr.Kind))
	if clientErr.Kind == translator.KindAuthFailed {
		rec.WithSeverity(ledger.SeverityCritical)
	}
	return rec
}

// logRecord logs a ledger record together with its advice.
func logRecord(rec *ledger.Record) {
	log.Error("Error Detail: %v\n advice: %s", rec, rec.Advice())
}

// SafeExecute runs fn and converts a panic into an error.
func SafeExecute(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("runtime error: %v", r)
		}
	}()

	return fn()
}
