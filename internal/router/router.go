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

// Package router implements the per-inbound-frame pipeline: classify
// traffic as peer-sync control, a blacklisted source, or a user command,
// and drive dedup/rate-limit gating before handing text to the command
// interpreter.
package router

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meshbbs/meshbbs/internal/ackwait"
	"github.com/meshbbs/meshbbs/internal/bbserr"
	"github.com/meshbbs/meshbbs/internal/command"
	"github.com/meshbbs/meshbbs/internal/config"
	"github.com/meshbbs/meshbbs/internal/dedup"
	"github.com/meshbbs/meshbbs/internal/dmoutbox"
	"github.com/meshbbs/meshbbs/internal/model"
	"github.com/meshbbs/meshbbs/internal/pager"
	"github.com/meshbbs/meshbbs/internal/radio"
	"github.com/meshbbs/meshbbs/internal/ratelimit"
	"github.com/meshbbs/meshbbs/internal/store"
	syncpkg "github.com/meshbbs/meshbbs/internal/sync"
)

// FrameKind tags how an inbound frame was classified: a closed set of
// constants selecting which fields of Frame apply.
type FrameKind string

const (
	KindSync    FrameKind = "sync"
	KindCommand FrameKind = "command"
	KindEmpty   FrameKind = "empty"
)

// Frame is the normalized shape of one inbound radio callback, classified
// once at the boundary. Text is set for KindSync and KindCommand.
type Frame struct {
	Kind     FrameKind
	From     model.NodeId
	ChanIdx  int
	PacketID *string
	Text     string
}

// classify maps the raw radio callback arguments onto a tagged Frame.
func classify(from model.NodeId, chanIdx int, packetID *string, text *string) Frame {
	f := Frame{From: from, ChanIdx: chanIdx, PacketID: packetID}
	switch {
	case text == nil:
		f.Kind = KindEmpty
	case syncpkg.IsSyncFrame(*text):
		f.Kind = KindSync
		f.Text = *text
	default:
		f.Kind = KindCommand
		f.Text = *text
	}
	return f
}

// Clock abstracts wall-clock time so tests can control it.
type Clock func() time.Time

// Router wires dedup, rate limiting, the command interpreter, the pager,
// and the DM outbox flush into one inbound-frame pipeline.
type Router struct {
	store  *store.Store
	link   radio.Link
	cmd    *command.Interpreter
	sync   *syncpkg.Syncer
	outbox *dmoutbox.Outbox
	seen   *dedup.SeenRing
	finger *dedup.FingerprintCache
	gate   *ratelimit.Gate
	acks   *ackwait.Table
	cfg    config.Config
	logger *slog.Logger
	now    Clock

	mu       sync.Mutex
	lastRxAt time.Time
}

// New builds a Router.
func New(
	st *store.Store,
	link radio.Link,
	cmd *command.Interpreter,
	syncer *syncpkg.Syncer,
	outbox *dmoutbox.Outbox,
	seen *dedup.SeenRing,
	finger *dedup.FingerprintCache,
	gate *ratelimit.Gate,
	acks *ackwait.Table,
	cfg config.Config,
	logger *slog.Logger,
	now Clock,
) *Router {
	return &Router{
		store:  st,
		link:   link,
		cmd:    cmd,
		sync:   syncer,
		outbox: outbox,
		seen:   seen,
		finger: finger,
		gate:   gate,
		acks:   acks,
		cfg:    cfg,
		logger: logger,
		now:    now,
	}
}

// LastRxAge returns how long it has been since the last inbound frame was
// observed, used by the Supervisor's watchdog.
func (r *Router) LastRxAge() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastRxAt.IsZero() {
		return 0
	}
	return r.now().Sub(r.lastRxAt)
}

// ResetLastRx restarts the receive-staleness clock. The Supervisor calls
// this after a successful reopen so the watchdog does not immediately
// re-trigger on the same stale window.
func (r *Router) ResetLastRx() {
	r.mu.Lock()
	r.lastRxAt = r.now()
	r.mu.Unlock()
}

// Handle runs one inbound frame through the full pipeline. It is installed
// as the RadioLink's InboundHandler.
func (r *Router) Handle(from model.NodeId, chanIdx int, packetID *string, text *string) {
	ctx := context.Background()
	frame := classify(from, chanIdx, packetID, text)

	r.mu.Lock()
	r.lastRxAt = r.now()
	r.mu.Unlock()

	// Step 1: absent text still triggers opportunistic DM flush.
	if frame.Kind == KindEmpty {
		r.outbox.Flush(ctx, frame.From)
		return
	}

	// Step 2: blacklist.
	blacklisted, err := r.store.IsBlacklisted(ctx, frame.From)
	if err != nil {
		r.logger.Warn("blacklist check failed", slog.String("error", err.Error()))
		return
	}
	if blacklisted {
		return
	}

	// Step 3: recent-seen packet-id ring.
	if frame.PacketID != nil && r.seen.SeenBefore(*frame.PacketID) {
		return
	}

	// Step 4: peer-sync control traffic bypasses everything else.
	if frame.Kind == KindSync {
		isPeer, err := r.store.IsPeer(ctx, frame.From)
		if err != nil {
			r.logger.Warn("peer check failed", slog.String("error", err.Error()))
			return
		}
		if isPeer {
			r.sync.HandleFrame(ctx, frame.From, frame.Text)
		}
		return
	}

	// Step 5: fingerprint dedup.
	if r.finger.SeenBefore(frame.From, strings.TrimSpace(frame.Text)) {
		return
	}

	// Step 6: per-sender rate limit. Gate.Allow both checks and consumes
	// the token, so a successful check doubles as recording the reply.
	if !r.gate.Allow(frame.From) {
		r.outbox.Flush(ctx, frame.From)
		return
	}

	// Step 7: dispatch, paginate, transmit, then flush.
	reply := r.cmd.Handle(ctx, frame.From, frame.ChanIdx, frame.Text)
	r.transmit(ctx, frame.From, frame.ChanIdx, reply)
	r.outbox.Flush(ctx, frame.From)
}

// transmit paginates each reply burst separately and sends the resulting
// frames as one contiguous sequence, pausing between frames by the
// configured inter-frame gap. On an ack-capable transport
// with DIRECT_FALLBACK set, the first frame is sent direct with an ack wait
// of FALLBACK_SEC; if no ack arrives, the whole reply is re-sent as a
// broadcast on the inbound channel.
func (r *Router) transmit(ctx context.Context, to model.NodeId, chanIdx int, bursts [][]string) {
	var frames []string
	for _, lines := range bursts {
		frames = append(frames, pager.Paginate(lines, r.cfg.MaxText)...)
	}
	if len(frames) == 0 {
		return
	}

	dest := &to
	tracked, ok := r.link.(radio.AckCapable)
	if ok && r.cfg.DirectFallback && r.cfg.FallbackSec > 0 {
		if !r.probeDirect(ctx, tracked, &to, chanIdx, frames[0]) {
			dest = nil
			r.sendFrame(ctx, nil, chanIdx, frames[0])
		}
		frames = frames[1:]
		if len(frames) > 0 {
			r.gap(ctx)
		}
	}

	for i, frame := range frames {
		if !r.sendFrame(ctx, dest, chanIdx, frame) {
			return
		}
		if i < len(frames)-1 {
			r.gap(ctx)
		}
	}
}

// probeDirect sends the first reply frame direct with an ack wait, reporting
// whether the recipient acknowledged it within FALLBACK_SEC. It also reports
// true when ctx ends before either, so no broadcast follows a cancelled wait.
func (r *Router) probeDirect(ctx context.Context, tracked radio.AckCapable, to *model.NodeId, chanIdx int, frame string) bool {
	messageID := uuid.NewString()
	ch := r.acks.Register(messageID)
	defer r.acks.Cancel(messageID)
	if err := tracked.SendTracked(ctx, to, chanIdx, frame, messageID); err != nil {
		r.logger.Warn("direct reply send failed", slog.String("to", string(*to)), slog.String("error", err.Error()))
		return false
	}
	select {
	case <-ch:
		return true
	case <-ctx.Done():
		return true
	case <-time.After(r.cfg.FallbackSec):
		return false
	}
}

// minChunkBound is the smallest chunk bound the oversized-frame retry will
// attempt before giving up.
const minChunkBound = 16

func (r *Router) sendFrame(ctx context.Context, dest *model.NodeId, chanIdx int, frame string) bool {
	err := r.link.Send(ctx, dest, chanIdx, frame)
	if err == nil {
		return true
	}
	var tooBig *bbserr.PayloadTooBigKind
	if errors.As(err, &tooBig) {
		return r.sendReduced(ctx, dest, chanIdx, frame)
	}
	r.logger.Warn("transmit failed", slog.String("error", err.Error()))
	return false
}

// sendReduced retries an oversized frame with progressively smaller chunk
// bounds before giving up. Pieces already transmitted when a later piece is
// rejected may be re-sent on the next attempt; delivery here is best-effort.
func (r *Router) sendReduced(ctx context.Context, dest *model.NodeId, chanIdx int, frame string) bool {
	lines := strings.Split(frame, "\n")
	for bound := len(frame) / 2; bound >= minChunkBound; bound /= 2 {
		ok, fatal := r.sendPieces(ctx, dest, chanIdx, pager.Split(lines, bound))
		if ok {
			return true
		}
		if fatal {
			return false
		}
	}
	r.logger.Warn("giving up on oversized frame", slog.Int("len", len(frame)))
	return false
}

// sendPieces transmits each piece in order. It reports ok when every piece
// was accepted, and fatal when the failure was anything other than the
// transport rejecting a piece as too big.
func (r *Router) sendPieces(ctx context.Context, dest *model.NodeId, chanIdx int, pieces []string) (ok, fatal bool) {
	for i, p := range pieces {
		if err := r.link.Send(ctx, dest, chanIdx, p); err != nil {
			var tooBig *bbserr.PayloadTooBigKind
			if errors.As(err, &tooBig) {
				return false, false
			}
			r.logger.Warn("transmit failed", slog.String("error", err.Error()))
			return false, true
		}
		if i < len(pieces)-1 {
			r.gap(ctx)
		}
	}
	return true, false
}

func (r *Router) gap(ctx context.Context) {
	if r.cfg.TXGap <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(r.cfg.TXGap):
	}
}
