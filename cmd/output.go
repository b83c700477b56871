package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/MimeLyc/subtitle-batch-translator/internal/ledger"
	"github.com/MimeLyc/subtitle-batch-translator/internal/service"
	"github.com/MimeLyc/subtitle-batch-translator/internal/validator"
)

func printOutcome(w io.Writer, outcome *service.RunOutcome) {
	rows := make([][]string, 0, len(outcome.Results))
	for _, res := range outcome.Results {
		detail := res.OutputPath
		if res.Failure != nil {
			detail = res.Failure.Kind.String() + ": " + res.Failure.Message
		}
		rows = append(rows, []string{
			filepath.Base(res.Job.Pair.SourceFile),
			res.Job.Pair.Language,
			string(res.Outcome),
			strconv.Itoa(res.Retries),
			detail,
		})
	}
	if len(rows) > 0 {
		fmt.Fprintln(w, renderTable(
			[]string{"File", "Language", "Result", "Retries", "Output / Error"},
			rows,
			[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
		))
	}
	if len(outcome.Validation) > 0 {
		printValidation(w, outcome.Validation, false)
	}
	fmt.Fprintf(w, "Run %s %s in %s: %d succeeded, %d failed, %d cancelled\n",
		outcome.RunID, outcome.Status, outcome.Duration.Round(time.Millisecond),
		outcome.Succeeded, outcome.Failed, outcome.Cancelled)
}

// printValidation shows one row per language, and with verbose one row per
// failed file as well.
func printValidation(w io.Writer, reports []validator.Report, verbose bool) {
	rows := make([][]string, 0, len(reports))
	for _, report := range reports {
		failed := report.Failed()
		rows = append(rows, []string{
			report.Language,
			strconv.Itoa(len(report.Files) - len(failed)),
			strconv.Itoa(len(failed)),
			yesNo(report.Passed()),
		})
	}
	fmt.Fprintln(w, renderTable(
		[]string{"Language", "Passed", "Failed", "OK"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignLeft},
	))
	if !verbose {
		return
	}

	var failures [][]string
	for _, report := range reports {
		for _, f := range report.Failed() {
			failures = append(failures, []string{
				report.Language,
				f.Filename,
				fmt.Sprintf("%.0f%%", f.MatchRate*100),
				strings.Join(f.Reasons, "; "),
			})
		}
	}
	if len(failures) > 0 {
		fmt.Fprintln(w, renderTable(
			[]string{"Language", "File", "Match", "Reasons"},
			failures,
			[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
		))
	}
}

func printLedger(w io.Writer, l *ledger.Ledger) {
	records := l.Records()
	if len(records) == 0 {
		return
	}
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		rows = append(rows, []string{
			rec.Pair().String(),
			rec.Kind.String(),
			rec.Severity.String(),
			yesNo(rec.Recoverable),
			rec.Advice(),
		})
	}
	fmt.Fprintln(w, "Failed pairs:")
	fmt.Fprintln(w, renderTable(
		[]string{"Pair", "Kind", "Severity", "Retryable", "Advice"},
		rows,
		nil,
	))
}

func exportLedger(path string, l *ledger.Ledger) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := l.ExportJSON(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
