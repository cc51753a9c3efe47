package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/jbweber/boxforge/internal/collector"
	"github.com/jbweber/boxforge/internal/progress"
)

// Status receives the user-facing lines of the run.
type Status interface {
	Info(msg string)
	Error(msg string)
	Step(msg string, fn func() error) error
	Reset()
	Writer() io.Writer
}

// Orchestrator runs stages in a fixed order against one collector.
//
// Every termination source (a stage error, a signal, normal completion)
// funnels into the same cleanup, which runs exactly once per Orchestrator.
// A signal cancels the context handed to the stages; the running stage's
// child process is interrupted through that context and the remaining
// stages never start.
type Orchestrator struct {
	Stages    []Stage
	Collector *collector.Collector
	Status    Status

	// Signals defaults to TerminationSignals.
	Signals SignalSource
	// ReportError prints a build error before the cleanup notice. It is not
	// called for interruptions.
	ReportError func(error)
	// Reraise is called with the caught signal after cleanup. Defaults to
	// the package Reraise.
	Reraise func(os.Signal)

	cleanupOnce sync.Once
	mu          sync.Mutex
	succeeded   bool
	caught      os.Signal
}

// Succeeded reports whether every stage completed.
func (o *Orchestrator) Succeeded() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.succeeded
}

// Caught returns the termination signal that interrupted the run, if any.
func (o *Orchestrator) Caught() os.Signal {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.caught
}

// Run executes the stages, then cleans up. The returned error is the first
// stage error, or an *Interrupted when a signal stopped the build.
func (o *Orchestrator) Run(ctx context.Context, bc *BuildContext) (err error) {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	signals := o.Signals
	if signals == nil {
		signals = TerminationSignals
	}
	sigCh, stop := signals()
	var stopOnce sync.Once
	stopSignals := func() { stopOnce.Do(stop) }
	defer stopSignals()

	done := make(chan struct{})
	var listener sync.WaitGroup
	listener.Add(1)
	go func() {
		defer listener.Done()
		select {
		case sig := <-sigCh:
			stopSignals()
			o.mu.Lock()
			o.caught = sig
			o.mu.Unlock()
			cancel(&Interrupted{Signal: sig})
		case <-done:
		}
	}()

	defer func() {
		if r := recover(); r != nil {
			close(done)
			listener.Wait()
			stopSignals()
			o.cleanup()
			panic(r)
		}
	}()

	err = o.runStages(ctx, bc)

	close(done)
	listener.Wait()
	// a signal during cleanup gets its default disposition
	stopSignals()

	if isInterrupt(ctx) {
		cause := context.Cause(ctx)
		switch {
		case err == nil:
			err = cause
		case !errors.Is(err, cause):
			err = fmt.Errorf("%w: %w", cause, err)
		}
	}

	if err == nil {
		o.mu.Lock()
		o.succeeded = true
		o.mu.Unlock()
	} else if !isInterrupt(ctx) && o.ReportError != nil {
		o.ReportError(err)
	}

	o.cleanup()

	if sig := o.Caught(); sig != nil {
		reraise := o.Reraise
		if reraise == nil {
			reraise = Reraise
		}
		reraise(sig)
	}
	return err
}

func isInterrupt(ctx context.Context) bool {
	var in *Interrupted
	return errors.As(context.Cause(ctx), &in)
}

func (o *Orchestrator) runStages(ctx context.Context, bc *BuildContext) error {
	for _, s := range o.Stages {
		if err := ctx.Err(); err != nil {
			return context.Cause(ctx)
		}
		stage := s
		if err := o.Status.Step(stage.Name(), func() error {
			return stage.Run(ctx, bc, o.Collector)
		}); err != nil {
			return err
		}
	}
	return nil
}

// cleanup prints the cleanup notice and unwinds the collector. Only the
// first call does anything.
func (o *Orchestrator) cleanup() {
	o.cleanupOnce.Do(func() {
		o.Status.Reset()
		if o.Succeeded() {
			o.Status.Info("Cleaning up...")
		} else {
			_, _ = fmt.Fprintln(o.Status.Writer())
			o.Status.Error("Cleaning up...")
		}
		o.Collector.Cleanup()
		_, _ = io.WriteString(o.Status.Writer(), progress.ShowCursor)
	})
}
