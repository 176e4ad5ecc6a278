// Copyright 2026 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ratelimit bounds recovery attempts per subject.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// evictEvery is the number of calls between sweeps for idle subjects.
const evictEvery = 512

// SubjectLimiter applies a token bucket per subject and periodically forgets idle subjects.
// A nil *SubjectLimiter allows everything.
type SubjectLimiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration

	mu        sync.Mutex
	bySubject map[string]*entry
	hits      uint64
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New creates a limiter allowing perMinute attempts per subject on average and burst attempts at
// once. It returns nil, which allows everything, if perMinute is not positive.
func New(perMinute float64, burst int) *SubjectLimiter {
	if perMinute <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	limit := rate.Limit(perMinute / 60)

	// A subject is only forgotten once its bucket has refilled, so eviction never grants extra
	// attempts.
	idleTTL := 10 * time.Minute
	if refill := time.Duration(float64(burst) / float64(limit) * float64(time.Second)); refill > idleTTL {
		idleTTL = refill
	}
	return &SubjectLimiter{
		limit:     limit,
		burst:     burst,
		idleTTL:   idleTTL,
		bySubject: make(map[string]*entry),
	}
}

// Allow reports whether subject may attempt a recovery at now, consuming one token if so.
func (l *SubjectLimiter) Allow(subject string, now time.Time) bool {
	if l == nil {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.bySubject[subject]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.bySubject[subject] = e
	}
	e.lastSeen = now
	allowed := e.limiter.AllowN(now, 1)

	l.hits++
	if l.hits%evictEvery == 0 {
		cutoff := now.Add(-l.idleTTL)
		for k, v := range l.bySubject {
			if v.lastSeen.Before(cutoff) {
				delete(l.bySubject, k)
			}
		}
	}
	return allowed
}

// Tracked returns the number of subjects currently held.
func (l *SubjectLimiter) Tracked() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.bySubject)
}
