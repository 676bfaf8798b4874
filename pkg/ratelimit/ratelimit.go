// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ratelimit limits requests per string key. Every key owns a token
// bucket of size burst that refills at the given rate. Only the most recently
// used keys are remembered, a forgotten key starts again with a full bucket.
package ratelimit

import (
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

const defaultMaxKeys = 1024

type Options struct {
	// Clock is used to refill the buckets. Defaults to the wall clock.
	Clock clock.Clock
	// MaxKeys bounds the number of buckets kept at once.
	MaxKeys int
}

type Limiter struct {
	limiters *lru.Cache[string, *rate.Limiter]
	rate     rate.Limit
	burst    int
	clock    clock.Clock
}

// New returns a Limiter that allows burst requests per key and refills one
// token every r.
func New(r time.Duration, burst int, o Options) *Limiter {
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.MaxKeys <= 0 {
		o.MaxKeys = defaultMaxKeys
	}
	// the size is positive, New can not fail
	limiters, _ := lru.New[string, *rate.Limiter](o.MaxKeys)
	return &Limiter{
		limiters: limiters,
		rate:     rate.Every(r),
		burst:    burst,
		clock:    o.Clock,
	}
}

// Allow reports whether count tokens can be taken from the bucket of key, and
// takes them if so.
func (l *Limiter) Allow(key string, count int) bool {
	limiter, ok := l.limiters.Get(key)
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		// a concurrent caller may have added the same key
		if prev, ok, _ := l.limiters.PeekOrAdd(key, limiter); ok {
			limiter = prev
		}
	}
	return limiter.AllowN(l.clock.Now(), count)
}

// Clear forgets the bucket of key.
func (l *Limiter) Clear(key string) {
	l.limiters.Remove(key)
}
