package main

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"

	"github.com/MimeLyc/subtitle-batch-translator/internal/jobs"
	"github.com/MimeLyc/subtitle-batch-translator/pkg/log"
)

// progressReporter renders run events for a terminal user. Without a TTY it
// falls back to log lines at every ten percent.
type progressReporter struct {
	mu       sync.Mutex
	bar      *progressbar.ProgressBar
	lastTick int
}

func newProgressReporter(out *os.File) *progressReporter {
	p := &progressReporter{lastTick: -1}
	if isTerminal(out) {
		p.bar = newBar(out)
	}
	return p
}

func isTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func newBar(w io.Writer) *progressbar.ProgressBar {
	return progressbar.NewOptions(100,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("translating"),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionThrottle(100*time.Millisecond),
	)
}

func (p *progressReporter) Sink() jobs.Sink {
	return p.handle
}

func (p *progressReporter) handle(ev jobs.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch ev.Kind {
	case jobs.EventProgress:
		pct := int(ev.Percentage)
		if p.bar != nil {
			_ = p.bar.Set(pct)
			return
		}
		if tick := pct / 10; tick > p.lastTick {
			p.lastTick = tick
			log.Info("Progress %d%% (%d/%d blocks)", pct, ev.Completed, ev.Total)
		}
	case jobs.EventStatus:
		if ev.Pair != nil {
			log.Debug("%s: %s", ev.Pair, ev.Message)
			return
		}
		log.Info("%s", ev.Message)
	case jobs.EventFileError:
		if ev.Pair != nil {
			log.Error("%s: %s", ev.Pair, ev.Message)
			return
		}
		log.Error("%s", ev.Message)
	}
}

// finish clears the bar so the summary table starts on a clean line.
func (p *progressReporter) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bar != nil {
		_ = p.bar.Finish()
	}
	p.lastTick = -1
}
