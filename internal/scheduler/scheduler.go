// Package scheduler runs a task periodically. Firings of one runner never
// overlap: a slow firing delays the next one and at most one missed tick is
// remembered, so there is no catch-up burst.
//
// The Runner, Ticker and Stop/Kill/TriggerRun design is derived from
// go/lib/periodic in github.com/scionproto/scion, Copyright 2018 Anapaya
// Systems, licensed under the Apache License, Version 2.0.
package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// DefaultInterval is used when Options.Interval is unset.
const DefaultInterval = 100 * time.Millisecond

// Ticker abstracts time.Ticker so tests can drive a runner by hand.
type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}

type defaultTicker struct {
	*time.Ticker
}

func (t *defaultTicker) Chan() <-chan time.Time {
	return t.C
}

// NewTicker returns a Ticker backed by time.Ticker.
func NewTicker(d time.Duration) Ticker {
	return &defaultTicker{Ticker: time.NewTicker(d)}
}

// Options configures a Runner.
type Options struct {
	// Interval between firings. Ignored when Ticker is set.
	Interval time.Duration
	// InitialDelay, when positive, fires the task once after the delay
	// and before the first tick.
	InitialDelay time.Duration
	// Timeout bounds a single firing. Defaults to Interval.
	Timeout time.Duration
	// Ticker overrides the ticker built from Interval.
	Ticker Ticker
}

// Runner runs a task periodically on a single goroutine.
type Runner struct {
	task         Task
	opts         Options
	stop         chan struct{}
	loopFinished chan struct{}
	trigger      chan struct{}
	ctx          context.Context
	cancelF      context.CancelFunc
}

// Start creates a runner and starts it.
func Start(task Task, opts Options) *Runner {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = opts.Interval
	}
	ctx, cancelF := context.WithCancel(context.Background())
	r := &Runner{
		task:         task,
		opts:         opts,
		stop:         make(chan struct{}),
		loopFinished: make(chan struct{}),
		trigger:      make(chan struct{}),
		ctx:          ctx,
		cancelF:      cancelF,
	}
	go r.runLoop()
	slog.Debug("periodic task started", "task", task.Name(),
		"interval", opts.Interval, "initial_delay", opts.InitialDelay)
	return r
}

// Stop cancels future firings. If a firing is in progress it blocks until
// that firing returns.
func (r *Runner) Stop() {
	close(r.stop)
	<-r.loopFinished
}

// Kill is like Stop but also cancels the context of the running firing.
func (r *Runner) Kill() {
	close(r.stop)
	r.cancelF()
	<-r.loopFinished
}

// TriggerRun forces one firing without shifting the regular schedule. It
// blocks until the runner has accepted the trigger or was stopped. A trigger
// accepted while Stop is racing it may be dropped, in which case the
// triggered run will not be executed.
func (r *Runner) TriggerRun() {
	select {
	case <-r.stop:
	case r.trigger <- struct{}{}:
	}
}

func (r *Runner) runLoop() {
	defer close(r.loopFinished)
	defer r.cancelF()

	if d := r.opts.InitialDelay; d > 0 {
		timer := time.NewTimer(d)
		select {
		case <-r.stop:
			timer.Stop()
			return
		case <-timer.C:
			r.onTick()
		}
	}

	ticker := r.opts.Ticker
	if ticker == nil {
		ticker = NewTicker(r.opts.Interval)
	}
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.Chan():
			r.onTick()
		case <-r.trigger:
			r.onTick()
		}
	}
}

func (r *Runner) onTick() {
	select {
	// Stop wins when both stop and a tick are ready.
	case <-r.stop:
		return
	default:
	}
	ctx, cancelF := context.WithTimeout(r.ctx, r.opts.Timeout)
	defer cancelF()
	defer func() {
		if p := recover(); p != nil {
			slog.Error("periodic task panicked", "task", r.task.Name(), "panic", p)
		}
	}()
	r.task.Run(ctx)
}
