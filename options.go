// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build linux || darwin

package para

import (
	"errors"
	"fmt"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
)

// dispatcherOptions holds configuration options for Dispatcher creation.
type dispatcherOptions struct {
	logger  *logiface.Logger[logiface.Event]
	spawner Spawner
	clock   Clock
	limits  map[time.Duration]int
}

// DispatcherOption configures a Dispatcher instance.
type DispatcherOption interface {
	applyDispatcher(*dispatcherOptions) error
}

// dispatcherOptionImpl implements DispatcherOption.
type dispatcherOptionImpl struct {
	applyDispatcherFunc func(*dispatcherOptions) error
}

func (o *dispatcherOptionImpl) applyDispatcher(opts *dispatcherOptions) error {
	return o.applyDispatcherFunc(opts)
}

// WithLogger attaches a structured logger. A nil logger disables logging,
// which is the default.
func WithLogger(logger *logiface.Logger[logiface.Event]) DispatcherOption {
	return &dispatcherOptionImpl{func(opts *dispatcherOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithSpawner replaces the default [ExecSpawner].
func WithSpawner(spawner Spawner) DispatcherOption {
	return &dispatcherOptionImpl{func(opts *dispatcherOptions) error {
		if spawner == nil {
			return errors.New(`para: nil spawner`)
		}
		opts.spawner = spawner
		return nil
	}}
}

// WithClock replaces the system clock used for timer deadlines.
func WithClock(clock Clock) DispatcherOption {
	return &dispatcherOptionImpl{func(opts *dispatcherOptions) error {
		if clock == nil {
			return errors.New(`para: nil clock`)
		}
		opts.clock = clock
		return nil
	}}
}

// WithWarningRateLimits bounds how often repeated warnings of the same
// category are logged, see [catrate.NewLimiter] for the format. A nil map
// disables the limit.
func WithWarningRateLimits(rates map[time.Duration]int) DispatcherOption {
	return &dispatcherOptionImpl{func(opts *dispatcherOptions) error {
		opts.limits = rates
		return nil
	}}
}

// resolveDispatcherOptions applies DispatcherOption instances to dispatcherOptions.
func resolveDispatcherOptions(opts []DispatcherOption) (*dispatcherOptions, error) {
	cfg := &dispatcherOptions{
		spawner: &ExecSpawner{},
		clock:   systemClock{},
		limits: map[time.Duration]int{
			time.Second: 1,
			time.Minute: 10,
		},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyDispatcher(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func (o *dispatcherOptions) limiter() (limiter *catrate.Limiter, err error) {
	if len(o.limits) == 0 {
		return nil, nil
	}
	// NewLimiter panics on invalid rates
	defer func() {
		if r := recover(); r != nil {
			limiter, err = nil, fmt.Errorf(`%w: %v`, ErrInvalidConfig, r)
		}
	}()
	return catrate.NewLimiter(o.limits), nil
}
