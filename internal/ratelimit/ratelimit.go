// Copyright (c) 2026 The meshbbs Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit enforces the per-sender minimum reply interval using
// a golang.org/x/time/rate token bucket per NodeId instead of a
// hand-rolled timestamp map.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/meshbbs/meshbbs/internal/model"
)

// Gate enforces a minimum interval between replies to the same sender. A
// single-token bucket refilling every `interval` expresses "at most one
// reply per interval" exactly.
type Gate struct {
	interval time.Duration
	mu       sync.Mutex
	limiters map[model.NodeId]*rate.Limiter
}

// NewGate builds a Gate with the configured minimum reply interval.
func NewGate(interval time.Duration) *Gate {
	return &Gate{
		interval: interval,
		limiters: make(map[model.NodeId]*rate.Limiter),
	}
}

// Allow reports whether a reply to from is currently permitted. It does
// not consume the token unless allowed — callers that decide not to reply
// for other reasons should not call Allow speculatively twice.
func (g *Gate) Allow(from model.NodeId) bool {
	g.mu.Lock()
	lim, ok := g.limiters[from]
	if !ok {
		lim = rate.NewLimiter(rate.Every(g.interval), 1)
		g.limiters[from] = lim
	}
	g.mu.Unlock()
	return lim.Allow()
}
