package jobs

import (
	"path/filepath"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition is expected.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusCancelled
}

// Pair identifies one unit of work: a source file and a target language.
// Language is empty for failures that concern the file as a whole.
type Pair struct {
	SourceFile string `json:"sourceFile"`
	Language   string `json:"language"`
}

func (p Pair) String() string {
	if p.Language == "" {
		return filepath.Base(p.SourceFile)
	}
	return filepath.Base(p.SourceFile) + " → " + p.Language
}

// Job is the in-memory state of one (file, language) translation within a run.
type Job struct {
	ID         string    `json:"id"`
	Pair       Pair      `json:"pair"`
	OutputPath string    `json:"outputPath"`
	Blocks     int       `json:"blocks"`
	Status     Status    `json:"status"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}
