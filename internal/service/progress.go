package service

import (
	"sync"

	"github.com/MimeLyc/subtitle-batch-translator/internal/jobs"
)

// progressTracker aggregates finished blocks across every job of a run.
type progressTracker struct {
	mu        sync.Mutex
	runID     string
	sink      jobs.Sink
	total     int
	completed int
	perJob    map[string]int
}

func newProgressTracker(runID string, total int, sink jobs.Sink) *progressTracker {
	return &progressTracker{
		runID:  runID,
		sink:   sink,
		total:  total,
		perJob: make(map[string]int),
	}
}

// add records n more finished blocks for job.
func (p *progressTracker) add(job jobs.Job, n int) {
	if n <= 0 {
		return
	}
	p.mu.Lock()
	if remaining := job.Blocks - p.perJob[job.ID]; n > remaining {
		n = max(remaining, 0)
	}
	p.perJob[job.ID] += n
	p.completed += n
	event := p.eventLocked(job)
	p.mu.Unlock()

	p.sink(event)
}

// settle counts every block of a finished job as complete.
func (p *progressTracker) settle(job jobs.Job) {
	p.mu.Lock()
	remaining := job.Blocks - p.perJob[job.ID]
	if remaining <= 0 {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	p.add(job, remaining)
}

func (p *progressTracker) percentage() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.percentageLocked()
}

func (p *progressTracker) percentageLocked() float64 {
	if p.total <= 0 {
		return 100
	}
	return float64(p.completed) / float64(p.total) * 100
}

func (p *progressTracker) eventLocked(job jobs.Job) jobs.Event {
	pair := job.Pair
	return jobs.Event{
		Kind:       jobs.EventProgress,
		RunID:      p.runID,
		JobID:      job.ID,
		Pair:       &pair,
		Percentage: p.percentageLocked(),
		Completed:  p.completed,
		Total:      p.total,
	}
}
