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

// Command meshbbs-sim is a development harness wired like cmd/meshbbs,
// except that it points the wslink transport at a local simulator endpoint
// when DEVICE_PATH is unset or "auto", and logs to stdout only (LOG_FILE is
// not read). It exercises the full station against a scripted or
// interactive fake mesh instead of real hardware.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/meshbbs/meshbbs/internal/ackwait"
	"github.com/meshbbs/meshbbs/internal/command"
	"github.com/meshbbs/meshbbs/internal/config"
	"github.com/meshbbs/meshbbs/internal/dedup"
	"github.com/meshbbs/meshbbs/internal/dmoutbox"
	"github.com/meshbbs/meshbbs/internal/logging"
	"github.com/meshbbs/meshbbs/internal/radio/wslink"
	"github.com/meshbbs/meshbbs/internal/ratelimit"
	"github.com/meshbbs/meshbbs/internal/router"
	"github.com/meshbbs/meshbbs/internal/store"
	"github.com/meshbbs/meshbbs/internal/supervisor"
	syncpkg "github.com/meshbbs/meshbbs/internal/sync"
)

func main() {
	cfg := config.NewFromEnv()
	if os.Getenv("DEVICE_PATH") == "" || cfg.DevicePath == "auto" {
		cfg.DevicePath = "ws://127.0.0.1:8765/sim"
	}

	logger, err := logging.New(logging.Config{Level: logging.ParseLevel(os.Getenv("LOG_LEVEL"))})
	if err != nil {
		os.Stderr.WriteString("logging init failed: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("fatal", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	st, err := store.Open(ctx, cfg.DBPath, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	link, err := wslink.New(ctx, cfg.DevicePath, logger)
	if err != nil {
		return err
	}

	now := func() time.Time { return time.Now() }
	nowUnix := func() int64 { return time.Now().Unix() }

	acks := ackwait.New()
	link.OnAck(acks.Complete)

	outbox := dmoutbox.New(st, link, acks, cfg, logger, nowUnix)
	syncer := syncpkg.New(st, link, cfg, logger, nowUnix)
	cmd := command.New(st, link, outbox, syncer, cfg, logger, now)
	seen := dedup.NewSeenRing()
	finger := dedup.NewFingerprintCache()
	gate := ratelimit.NewGate(cfg.RateLimit)
	r := router.New(st, link, cmd, syncer, outbox, seen, finger, gate, acks, cfg, logger, now)

	sup := supervisor.New(st, link, r, syncer, cfg, logger)
	if err := sup.Start(ctx); err != nil {
		return err
	}
	sup.Run(ctx)
	return nil
}
