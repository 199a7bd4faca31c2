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

// Package dmoutbox implements the store-and-forward direct message policy:
// synchronous direct delivery with an acknowledgement wait, fallback to a
// queued entry on failure, and opportunistic flush whenever any frame
// arrives from a node with queued mail.
//
// The synchronous ack wait is a registration table keyed by the outbound
// message id, completed by an ack callback the RadioLink delivers.
package dmoutbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meshbbs/meshbbs/internal/ackwait"
	"github.com/meshbbs/meshbbs/internal/bbserr"
	"github.com/meshbbs/meshbbs/internal/config"
	"github.com/meshbbs/meshbbs/internal/model"
	"github.com/meshbbs/meshbbs/internal/radio"
	"github.com/meshbbs/meshbbs/internal/store"
)

// Clock abstracts wall-clock time so tests can control it.
type Clock func() int64

// Outbox drives synchronous/queued direct-message delivery.
type Outbox struct {
	store  *store.Store
	link   radio.Link
	acks   *ackwait.Table
	cfg    config.Config
	logger *slog.Logger
	now    Clock
}

// New builds an Outbox. The ack table is shared with the rest of the
// station; the transport's ack handler must be wired to acks.Complete for
// synchronous delivery confirmation to work.
func New(st *store.Store, link radio.Link, acks *ackwait.Table, cfg config.Config, logger *slog.Logger, now Clock) *Outbox {
	return &Outbox{
		store:  st,
		link:   link,
		acks:   acks,
		cfg:    cfg,
		logger: logger,
		now:    now,
	}
}

// payload is the wire shape for a delivered DM. The long-form sender
// attribution is deliberate: the recipient may have never heard of the
// sender's short name, so do not shorten this to a bare "[DM]" prefix.
func payload(fromShort string, fromID model.NodeId, body string) string {
	return fmt.Sprintf("[DM via BBS] from %s/%s: %s", fromShort, fromID, body)
}

// Send attempts synchronous direct delivery first, waiting up to
// cfg.DeliverWait for an acknowledgement. On success it returns
// (true, nil). On a send failure, an ack timeout, or a transport without
// ack support, it enqueues the message and returns (false, nil). The live
// node table is not consulted before the direct attempt.
func (o *Outbox) Send(ctx context.Context, to, from model.NodeId, fromShort, body string, chIdx int) (delivered bool, err error) {
	now := o.now()

	// Transports without ack support cannot confirm delivery, so the
	// message goes straight to the queue for opportunistic flush.
	if tracked, ok := o.link.(radio.AckCapable); ok {
		messageID := uuid.NewString()
		ch := o.acks.Register(messageID)
		defer o.acks.Cancel(messageID)

		sendErr := tracked.SendTracked(ctx, &to, chIdx, payload(fromShort, from, body), messageID)
		if sendErr == nil {
			waitCtx, cancel := context.WithTimeout(ctx, o.cfg.DeliverWait)
			defer cancel()
			select {
			case <-ch:
				return true, nil
			case <-waitCtx.Done():
				// fall through to queue
			}
		} else {
			o.logger.Warn("direct dm send failed, queueing", slog.String("to", string(to)), slog.String("error", sendErr.Error()))
		}
	}

	_, err = o.store.EnqueueDM(ctx, model.DMOutboxEntry{
		ToID:      to,
		FromID:    from,
		Body:      body,
		CreatedTS: now,
		ChIdx:     chIdx,
		TTLSec:    int64(o.cfg.SFTTL / time.Second),
	})
	if err != nil {
		return false, bbserr.StoreError("dmoutbox.send.enqueue", err)
	}
	return false, nil
}

// Flush opportunistically attempts delivery of up to cfg.SFLimitBatch
// queued entries addressed to from, triggered by observing
// any inbound frame from that node. It sweeps expired entries first.
func (o *Outbox) Flush(ctx context.Context, from model.NodeId) {
	now := o.now()
	if _, err := o.store.SweepExpired(ctx, now); err != nil {
		o.logger.Warn("dm outbox sweep failed", slog.String("error", err.Error()))
	}

	entries, err := o.store.TakeQueuedFor(ctx, from, o.cfg.SFLimitBatch)
	if err != nil {
		o.logger.Warn("dm outbox flush query failed", slog.String("error", err.Error()))
		return
	}
	for _, e := range entries {
		err := o.link.Send(ctx, &from, e.ChIdx, payload(o.shortOf(e.FromID), e.FromID, e.Body))
		if err != nil {
			o.logger.Warn("opportunistic dm flush failed", slog.String("to", string(from)), slog.String("error", err.Error()))
			if markErr := o.store.MarkAttempt(ctx, e.ID, now); markErr != nil {
				o.logger.Warn("dm outbox mark_attempt failed", slog.String("error", markErr.Error()))
			}
			continue
		}
		if markErr := o.store.MarkDelivered(ctx, e.ID, now); markErr != nil {
			o.logger.Warn("dm outbox mark_delivered failed", slog.String("error", markErr.Error()))
		}
	}
}

// shortOf looks up id's short name in the live node table, falling back to
// the canonical NodeId string if the node isn't currently known.
func (o *Outbox) shortOf(id model.NodeId) string {
	for _, n := range o.link.Nodes() {
		if n.ID == id {
			return n.Short
		}
	}
	return string(id)
}
