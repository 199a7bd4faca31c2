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

// Package supervisor holds the station's connection lifecycle: seed
// startup state, install the inbound handler, run the gossip tick and
// watchdog threads, and tear everything down gracefully on a stop signal.
//
// A WaitGroup of long-lived goroutines is torn down by a cancelled
// context, with sync.Once guarding idempotent close. The reconnect backoff
// is a flat one-second delay, not exponential.
package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/meshbbs/meshbbs/internal/config"
	"github.com/meshbbs/meshbbs/internal/radio"
	"github.com/meshbbs/meshbbs/internal/router"
	"github.com/meshbbs/meshbbs/internal/store"
	syncpkg "github.com/meshbbs/meshbbs/internal/sync"
)

// ReconnectBackoff is the fixed delay between reconnect attempts.
const ReconnectBackoff = 1 * time.Second

// Supervisor drives the station's long-lived goroutines.
type Supervisor struct {
	store  *store.Store
	link   radio.Link
	router *router.Router
	syncer *syncpkg.Syncer
	cfg    config.Config
	logger *slog.Logger

	wg        sync.WaitGroup
	reconnect sync.Mutex // ensures reconnect is never run concurrently with itself
	closeOnce sync.Once
}

// New builds a Supervisor.
func New(st *store.Store, link radio.Link, r *router.Router, syncer *syncpkg.Syncer, cfg config.Config, logger *slog.Logger) *Supervisor {
	return &Supervisor{store: st, link: link, router: r, syncer: syncer, cfg: cfg, logger: logger}
}

// Start seeds admins/peers, installs the inbound handler, and launches the
// gossip tick and watchdog goroutines. It does not block; call Run (or wait
// on ctx) to hold the process open.
func (s *Supervisor) Start(ctx context.Context) error {
	if err := s.store.SeedAdmins(ctx, s.cfg.Admins); err != nil {
		return err
	}
	if err := s.store.SeedPeers(ctx, s.cfg.Peers); err != nil {
		return err
	}

	s.link.OnInbound(s.router.Handle)

	s.wg.Add(2)
	go s.gossipLoop(ctx)
	go s.watchdogLoop(ctx)

	s.logger.Info("supervisor started", slog.String("device", s.cfg.DevicePath))
	return nil
}

// Run blocks until ctx is cancelled, then tears down the transport and
// waits (bounded) for background goroutines to exit.
func (s *Supervisor) Run(ctx context.Context) {
	<-ctx.Done()
	s.shutdown()
}

func (s *Supervisor) shutdown() {
	s.closeOnce.Do(func() {
		s.logger.Info("supervisor shutting down")
		if err := s.link.Close(); err != nil {
			s.logger.Warn("link close failed", slog.String("error", err.Error()))
		}
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("all background goroutines stopped")
	case <-time.After(s.cfg.WatchTick):
		s.logger.Warn("background goroutines did not stop within watch tick")
	}
}

func (s *Supervisor) gossipLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.SyncPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// The Syncer holds its own runtime-mutable enabled flag (see
			// internal/sync) so `sync on|off` can flip gossip without a
			// restart; only the timer path is gated on it, the `sync now`
			// command broadcasts regardless.
			if s.syncer.Enabled() {
				s.syncer.BroadcastInventory(ctx)
			}
		}
	}
}

func (s *Supervisor) watchdogLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.WatchTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.router.LastRxAge() > s.cfg.RXStaleSec {
				s.reconnectLoop(ctx)
			}
		}
	}
}

// reconnectLoop retries Reopen with a fixed one-second delay until it
// succeeds or ctx is cancelled. Mutually exclusive with itself.
func (s *Supervisor) reconnectLoop(ctx context.Context) {
	if !s.reconnect.TryLock() {
		return
	}
	defer s.reconnect.Unlock()

	if err := s.link.Close(); err != nil {
		s.logger.Warn("link close before reconnect failed", slog.String("error", err.Error()))
	}
	for {
		if ctx.Err() != nil {
			return
		}
		if err := s.link.Reopen(ctx); err == nil {
			// Restart the staleness clock so the next watchdog tick does
			// not observe the same stale window and reconnect again.
			s.router.ResetLastRx()
			s.logger.Info("radio link reopened")
			return
		} else {
			s.logger.Warn("reopen failed, retrying", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(ReconnectBackoff):
		}
	}
}
