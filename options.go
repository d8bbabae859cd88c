// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package applet

import (
	"github.com/joeycumines/logiface"
)

// runnerOptions holds configuration options for Runner creation.
type runnerOptions struct {
	logger      *logiface.Logger[logiface.Event]
	arena       *BufferArena
	fatal       FatalReporter
	appctxLimit int64
}

// RunnerOption configures a Runner instance.
type RunnerOption interface {
	applyRunner(*runnerOptions) error
}

// runnerOptionImpl implements RunnerOption.
type runnerOptionImpl struct {
	applyRunnerFunc func(*runnerOptions) error
}

func (x *runnerOptionImpl) applyRunner(opts *runnerOptions) error {
	return x.applyRunnerFunc(opts)
}

// WithLogger sets the structured logger used for lifecycle debug logging,
// buffer-exhaustion warnings, and the fatal spin dump. A nil logger (the
// default) disables all logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) RunnerOption {
	return &runnerOptionImpl{func(opts *runnerOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithBufferArena sets the arena channel buffers are allocated from. By
// default each runner gets its own unbounded arena of
// [DefaultBufferSize]-byte buffers; sharing one arena across runners makes
// buffer memory a cross-runner shared resource, which the buffer-wait
// protocol supports.
func WithBufferArena(arena *BufferArena) RunnerOption {
	return &runnerOptionImpl{func(opts *runnerOptions) error {
		opts.arena = arena
		return nil
	}}
}

// WithAppctxLimit bounds the number of appctx records the runner may have
// live at once; NewAppctx fails with [ErrPoolExhausted] beyond it. Zero or
// negative (the default) means unbounded.
func WithAppctxLimit(limit int64) RunnerOption {
	return &runnerOptionImpl{func(opts *runnerOptions) error {
		opts.appctxLimit = limit
		return nil
	}}
}

// WithFatalReporter replaces the diagnostics capability invoked when an
// applet is classified as a runaway loop. The replacement is expected not
// to return normally; if it does, the turn completes and the task remains
// schedulable.
func WithFatalReporter(fn FatalReporter) RunnerOption {
	return &runnerOptionImpl{func(opts *runnerOptions) error {
		opts.fatal = fn
		return nil
	}}
}

// resolveRunnerOptions applies RunnerOption instances to runnerOptions.
func resolveRunnerOptions(opts []RunnerOption) (*runnerOptions, error) {
	cfg := &runnerOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyRunner(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
