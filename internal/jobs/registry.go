package jobs

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Registry tracks the jobs of the current run. It hands out snapshots so
// callers never share mutable job state.
type Registry struct {
	mu        sync.RWMutex
	jobs      map[string]*Job
	idCounter uint64
	now       func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		jobs: make(map[string]*Job),
		now:  time.Now,
	}
}

// Reset drops all jobs. IDs keep increasing across resets.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.jobs = make(map[string]*Job)
	r.mu.Unlock()
}

func (r *Registry) Add(pair Pair, outputPath string, blocks int) *Job {
	now := r.now()
	id := fmt.Sprintf("job-%d", atomic.AddUint64(&r.idCounter, 1))
	job := &Job{
		ID:         id,
		Pair:       pair,
		OutputPath: outputPath,
		Blocks:     blocks,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	r.mu.Lock()
	r.jobs[id] = job
	r.mu.Unlock()
	return cloneJob(job)
}

func (r *Registry) Get(id string) (*Job, bool) {
	r.mu.RLock()
	job, ok := r.jobs[id]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return cloneJob(job), true
}

// List returns all jobs ordered by creation.
func (r *Registry) List() []*Job {
	r.mu.RLock()
	ret := make([]*Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		ret = append(ret, cloneJob(job))
	}
	r.mu.RUnlock()

	sort.Slice(ret, func(i, j int) bool {
		return jobNumber(ret[i].ID) < jobNumber(ret[j].ID)
	})
	return ret
}

// Counts returns the number of jobs per status.
func (r *Registry) Counts() map[Status]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[Status]int)
	for _, job := range r.jobs {
		counts[job.Status]++
	}
	return counts
}

func (r *Registry) MarkRunning(id string) (*Job, bool) {
	return r.transition(id, StatusRunning, "", func(s Status) bool { return s == StatusPending })
}

func (r *Registry) MarkSuccess(id string) (*Job, bool) {
	return r.transition(id, StatusSuccess, "", notTerminal)
}

func (r *Registry) MarkFailed(id string, err error) (*Job, bool) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return r.transition(id, StatusFailed, msg, notTerminal)
}

func (r *Registry) MarkCancelled(id string) (*Job, bool) {
	return r.transition(id, StatusCancelled, "", notTerminal)
}

func (r *Registry) transition(id string, to Status, errMsg string, allowed func(Status) bool) (*Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok || !allowed(job.Status) {
		return nil, false
	}
	job.Status = to
	job.Error = errMsg
	job.UpdatedAt = r.now()
	return cloneJob(job), true
}

func notTerminal(s Status) bool {
	return !s.Terminal()
}

func jobNumber(id string) uint64 {
	n, err := strconv.ParseUint(strings.TrimPrefix(id, "job-"), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func cloneJob(job *Job) *Job {
	if job == nil {
		return nil
	}
	tmp := *job
	return &tmp
}
