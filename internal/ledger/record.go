package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/MimeLyc/subtitle-batch-translator/internal/jobs"
)

// Record is the terminal failure state of one (file, language) pair.
type Record struct {
	Kind        Kind      `json:"kind"`
	Severity    Severity  `json:"severity"`
	SourceFile  string    `json:"sourceFile"`
	Language    string    `json:"language,omitempty"`
	Message     string    `json:"message"`
	Recoverable bool      `json:"recoverable"`
	RetryCount  int       `json:"retryCount"`
	Timestamp   time.Time `json:"timestamp"`
	// Cause is the underlying client error kind, e.g. rateLimited.
	Cause string `json:"cause,omitempty"`
}

// NewRecord builds a record with the kind's default severity.
func NewRecord(kind Kind, pair jobs.Pair, message string, recoverable bool) *Record {
	return &Record{
		Kind:        kind,
		Severity:    kind.DefaultSeverity(),
		SourceFile:  pair.SourceFile,
		Language:    pair.Language,
		Message:     message,
		Recoverable: recoverable,
	}
}

func (r *Record) Pair() jobs.Pair {
	return jobs.Pair{SourceFile: r.SourceFile, Language: r.Language}
}

func (r *Record) WithSeverity(s Severity) *Record {
	r.Severity = s
	return r
}

func (r *Record) WithRetries(n int) *Record {
	r.RetryCount = n
	return r
}

func (r *Record) WithCause(cause string) *Record {
	r.Cause = cause
	return r
}

func (r *Record) Error() string {
	parts := []string{fmt.Sprintf("[%s] %s", r.Kind, r.Message)}
	if r.SourceFile != "" {
		ctx := "file=" + r.SourceFile
		if r.Language != "" {
			ctx += ", language=" + r.Language
		}
		parts = append(parts, "context: "+ctx)
	}
	if r.Cause != "" {
		parts = append(parts, "cause: "+r.Cause)
	}
	return strings.Join(parts, " | ")
}

// Advice returns the user-facing hint for the record's kind.
func (r *Record) Advice() string {
	return r.Kind.Advice()
}
