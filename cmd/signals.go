package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/MimeLyc/subtitle-batch-translator/internal/service"
	"github.com/MimeLyc/subtitle-batch-translator/pkg/log"
)

const interruptExitCode = 130

// watchInterrupts turns the first signal into a cooperative cancel and the
// second into abort. It returns when sig is closed.
func watchInterrupts(sig <-chan os.Signal, cancel func() error, abort func()) {
	count := 0
	for range sig {
		count++
		if count > 1 {
			log.Warn("Second interrupt, exiting now")
			abort()
			return
		}
		log.Warn("Interrupt received, finishing in-flight batches. Press Ctrl+C again to exit")
		if err := cancel(); errors.Is(err, service.ErrNoActiveRun) {
			abort()
			return
		}
	}
}

// handleInterrupts installs watchInterrupts for the lifetime of ctx.
func handleInterrupts(ctx context.Context, coord *service.Coordinator) {
	sig := make(chan os.Signal, 2)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go watchInterrupts(sig, coord.Cancel, func() { os.Exit(interruptExitCode) })
	go func() {
		<-ctx.Done()
		signal.Stop(sig)
		close(sig)
	}()
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
