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

package dmoutbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meshbbs/meshbbs/internal/ackwait"
	"github.com/meshbbs/meshbbs/internal/config"
	"github.com/meshbbs/meshbbs/internal/model"
	"github.com/meshbbs/meshbbs/internal/radio"
	"github.com/meshbbs/meshbbs/internal/store"
)

// fakeLink is a minimal in-memory radio.Link test double recording every
// send, with an optional send-failure error. It has no ack capability.
type fakeLink struct {
	mu      sync.Mutex
	sent    []string
	sendErr error
}

func (f *fakeLink) Send(ctx context.Context, to *model.NodeId, chanIdx int, text string) error {
	f.mu.Lock()
	f.sent = append(f.sent, text)
	f.mu.Unlock()
	return f.sendErr
}
func (f *fakeLink) Nodes() []model.NodeEntry         { return nil }
func (f *fakeLink) OnInbound(h radio.InboundHandler) {}
func (f *fakeLink) Close() error                     { return nil }
func (f *fakeLink) Reopen(ctx context.Context) error { return nil }

func (f *fakeLink) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// fakeAckLink extends fakeLink with the AckCapable surface; onTracked sees
// the message id of each tracked send so a test can ack it.
type fakeAckLink struct {
	fakeLink
	onTracked func(messageID string)
}

func (f *fakeAckLink) SendTracked(ctx context.Context, to *model.NodeId, chanIdx int, text, messageID string) error {
	err := f.Send(ctx, to, chanIdx, text)
	if err == nil && f.onTracked != nil {
		f.onTracked(messageID)
	}
	return err
}
func (f *fakeAckLink) OnAck(handler func(messageID string)) {}

func testStore(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "meshbbs.db"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func testConfig() config.Config {
	return config.Config{
		DeliverWait:  30 * time.Millisecond,
		SFLimitBatch: 3,
		SFTTL:        time.Hour,
	}
}

func TestOutboxSendDeliversSynchronouslyOnAck(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)
	acks := ackwait.New()
	link := &fakeAckLink{}
	link.onTracked = func(messageID string) { go acks.Complete(messageID) }
	ob := New(st, link, acks, testConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)), func() int64 { return 1000 })

	delivered, err := ob.Send(ctx, "!aaaaaaaa", "!bbbbbbbb", "bob", "hello", 0)
	require.NoError(t, err)
	require.True(t, delivered)

	outbox, err := st.OutboxFor(ctx, "!bbbbbbbb")
	require.NoError(t, err)
	require.Empty(t, outbox)
}

func TestOutboxSendQueuesOnAckTimeout(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)
	link := &fakeAckLink{}
	ob := New(st, link, ackwait.New(), testConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)), func() int64 { return 1000 })

	delivered, err := ob.Send(ctx, "!aaaaaaaa", "!bbbbbbbb", "bob", "hello", 0)
	require.NoError(t, err)
	require.False(t, delivered)

	outbox, err := st.OutboxFor(ctx, "!bbbbbbbb")
	require.NoError(t, err)
	require.Len(t, outbox, 1)
	require.Equal(t, model.DMQueued, outbox[0].Status)
}

func TestOutboxSendQueuesWithoutAckCapability(t *testing.T) {
	// A transport with no ack surface cannot confirm delivery; the message
	// goes straight to the queue without a blind transmit.
	ctx := context.Background()
	st := testStore(t)
	link := &fakeLink{}
	ob := New(st, link, ackwait.New(), testConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)), func() int64 { return 1000 })

	delivered, err := ob.Send(ctx, "!aaaaaaaa", "!bbbbbbbb", "bob", "hello", 0)
	require.NoError(t, err)
	require.False(t, delivered)
	require.Zero(t, link.sentCount())

	outbox, err := st.OutboxFor(ctx, "!bbbbbbbb")
	require.NoError(t, err)
	require.Len(t, outbox, 1)
	require.Equal(t, model.DMQueued, outbox[0].Status)
}

func TestOutboxSendQueuesOnTransportError(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)
	link := &fakeAckLink{}
	link.sendErr = errors.New("radio offline")
	ob := New(st, link, ackwait.New(), testConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)), func() int64 { return 1000 })

	delivered, err := ob.Send(ctx, "!aaaaaaaa", "!bbbbbbbb", "bob", "hello", 0)
	require.NoError(t, err)
	require.False(t, delivered)
}

func TestOutboxFlushDeliversQueued(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)
	link := &fakeLink{}
	ob := New(st, link, ackwait.New(), testConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)), func() int64 { return 1000 })

	_, err := st.EnqueueDM(ctx, model.DMOutboxEntry{
		ToID: "!cccccccc", FromID: "!dddddddd", Body: "queued", CreatedTS: 1000, TTLSec: 3600,
	})
	require.NoError(t, err)

	ob.Flush(ctx, "!cccccccc")
	require.Equal(t, 1, link.sentCount())

	outbox, err := st.OutboxFor(ctx, "!dddddddd")
	require.NoError(t, err)
	require.Equal(t, model.DMDelivered, outbox[0].Status)
}

func TestOutboxFlushMarksAttemptOnSendFailure(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)
	link := &fakeLink{sendErr: errors.New("radio offline")}
	ob := New(st, link, ackwait.New(), testConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)), func() int64 { return 1000 })

	_, err := st.EnqueueDM(ctx, model.DMOutboxEntry{
		ToID: "!cccccccc", FromID: "!dddddddd", Body: "queued", CreatedTS: 1000, TTLSec: 3600,
	})
	require.NoError(t, err)

	ob.Flush(ctx, "!cccccccc")

	outbox, err := st.OutboxFor(ctx, "!dddddddd")
	require.NoError(t, err)
	require.Equal(t, model.DMQueued, outbox[0].Status)
	require.Equal(t, 1, outbox[0].Attempts)
}

func TestOutboxFlushSweepsExpiredBeforeSelecting(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)
	link := &fakeLink{}
	ob := New(st, link, ackwait.New(), testConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)), func() int64 { return 10_000 })

	_, err := st.EnqueueDM(ctx, model.DMOutboxEntry{
		ToID: "!cccccccc", FromID: "!dddddddd", Body: "stale", CreatedTS: 1000, TTLSec: 60,
	})
	require.NoError(t, err)

	ob.Flush(ctx, "!cccccccc")
	require.Zero(t, link.sentCount())

	outbox, err := st.OutboxFor(ctx, "!dddddddd")
	require.NoError(t, err)
	require.Equal(t, model.DMExpired, outbox[0].Status)
}
