// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package builtins

import (
	"math/rand/v2"
	"time"
)

type options struct {
	now    func() time.Time
	random func() float64
}

func defaultOptions() *options {
	return &options{now: time.Now, random: rand.Float64}
}

// Option configures the builtin implementations.
type Option func(*options)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithRandom replaces the random source of the random query.
func WithRandom(random func() float64) Option {
	return func(o *options) { o.random = random }
}
