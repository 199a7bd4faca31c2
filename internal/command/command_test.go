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

package command

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meshbbs/meshbbs/internal/ackwait"
	"github.com/meshbbs/meshbbs/internal/config"
	"github.com/meshbbs/meshbbs/internal/dmoutbox"
	"github.com/meshbbs/meshbbs/internal/model"
	"github.com/meshbbs/meshbbs/internal/radio"
	"github.com/meshbbs/meshbbs/internal/store"
	syncpkg "github.com/meshbbs/meshbbs/internal/sync"
)

type fakeLink struct {
	nodes []model.NodeEntry
	sent  []string
}

func (f *fakeLink) Send(ctx context.Context, to *model.NodeId, chanIdx int, text string) error {
	f.sent = append(f.sent, text)
	return nil
}
func (f *fakeLink) Nodes() []model.NodeEntry         { return f.nodes }
func (f *fakeLink) OnInbound(h radio.InboundHandler) {}
func (f *fakeLink) Close() error                     { return nil }
func (f *fakeLink) Reopen(ctx context.Context) error { return nil }

func testStore(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "meshbbs.db"), discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newInterp(t *testing.T, st *store.Store, link *fakeLink, cfg config.Config) *Interpreter {
	t.Helper()
	logger := discardLogger()
	nowUnix := func() int64 { return 1000 }
	now := func() time.Time { return time.Unix(1000, 0) }
	outbox := dmoutbox.New(st, link, ackwait.New(), cfg, logger, nowUnix)
	syncer := syncpkg.New(st, link, cfg, logger, nowUnix)
	return New(st, link, outbox, syncer, cfg, logger, now)
}

// reply flattens the burst structure for the single-burst assertions most
// commands need.
func reply(bursts [][]string) []string {
	var out []string
	for _, b := range bursts {
		out = append(out, b...)
	}
	return out
}

func TestSplitVerb(t *testing.T) {
	verb, rest := splitVerb("  p   hello world  ")
	require.Equal(t, "p", verb)
	require.Equal(t, "hello world", rest)

	verb, rest = splitVerb("")
	require.Equal(t, "", verb)
	require.Equal(t, "", rest)
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "hello", truncate("hello", 10))
	require.Equal(t, "hel...", truncate("hello world", 3))
}

func TestHandleUnknownCommand(t *testing.T) {
	st := testStore(t)
	link := &fakeLink{}
	cfg := config.Config{UnknownReply: true}
	in := newInterp(t, st, link, cfg)

	out := reply(in.Handle(context.Background(), "!aaaaaaaa", 0, "gibberish"))
	require.Equal(t, []string{unrecognized}, out)

	cfg.UnknownReply = false
	in = newInterp(t, st, link, cfg)
	require.Empty(t, in.Handle(context.Background(), "!aaaaaaaa", 0, "gibberish"))
}

func TestCmdMenuWithAndWithoutNotice(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)
	in := newInterp(t, st, &fakeLink{}, config.Config{})

	out := in.Handle(ctx, "!aaaaaaaa", 0, "?")
	require.Len(t, out, 1)

	// A non-expired notice rides as its own burst ahead of the menu, so it
	// is transmitted as a separate prior frame.
	require.NoError(t, st.SetNotice(ctx, "be nice", 900, nil))
	out = in.Handle(ctx, "!aaaaaaaa", 0, "menu")
	require.Len(t, out, 2)
	require.Equal(t, []string{"be nice"}, out[0])
	require.Contains(t, out[1][0], "? menu")
}

func TestCmdMenuHidesExpiredNotice(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)
	in := newInterp(t, st, &fakeLink{}, config.Config{})

	expire := int64(999) // already past at the pinned clock of t=1000
	require.NoError(t, st.SetNotice(ctx, "gone", 900, &expire))
	out := in.Handle(ctx, "!aaaaaaaa", 0, "?")
	require.Len(t, out, 1)
}

func TestCmdPostAndRead(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)
	in := newInterp(t, st, &fakeLink{}, config.Config{})

	out := reply(in.Handle(ctx, "!aaaaaaaa", 0, "p hello board"))
	require.Equal(t, []string{"posted #1"}, out)

	out = reply(in.Handle(ctx, "!aaaaaaaa", 0, "r"))
	require.Len(t, out, 1)
	require.Contains(t, out[0], "hello board")
}

func TestCmdPostRequiresBody(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)
	in := newInterp(t, st, &fakeLink{}, config.Config{})
	out := reply(in.Handle(ctx, "!aaaaaaaa", 0, "p   "))
	require.Equal(t, []string{"usage: p <text>"}, out)
}

func TestCmdReadByIDShowsRepliesAndMoreTrailer(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)
	in := newInterp(t, st, &fakeLink{}, config.Config{})

	in.Handle(ctx, "!aaaaaaaa", 0, "p top level")
	for i := 0; i < maxReplies+2; i++ {
		in.Handle(ctx, "!bbbbbbbb", 0, "reply 1 reply text")
	}

	out := reply(in.Handle(ctx, "!aaaaaaaa", 0, "r 1"))
	// header + maxReplies + trailer
	require.Len(t, out, 1+maxReplies+1)
	require.Contains(t, out[len(out)-1], "(+2 more)")
}

func TestCmdReadUnknownID(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)
	in := newInterp(t, st, &fakeLink{}, config.Config{})
	out := reply(in.Handle(ctx, "!aaaaaaaa", 0, "r 99"))
	require.Len(t, out, 1)
	require.Contains(t, out[0], "no such post")
}

func TestCmdInfoSetRequiresAdmin(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)
	in := newInterp(t, st, &fakeLink{}, config.Config{})

	out := reply(in.Handle(ctx, "!aaaaaaaa", 0, "info set hello"))
	require.Equal(t, []string{"Not authorized."}, out)

	require.NoError(t, st.AddAdmin(ctx, "!aaaaaaaa"))
	out = reply(in.Handle(ctx, "!aaaaaaaa", 0, "info set 2 back in two hours"))
	require.Equal(t, []string{"notice set"}, out)

	out = reply(in.Handle(ctx, "!aaaaaaaa", 0, "info"))
	require.Len(t, out, 2)
	require.Contains(t, out[0], "back in two hours")
}

func TestCmdWhoamiKnownAndUnknown(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)
	link := &fakeLink{nodes: []model.NodeEntry{{ID: "!aaaaaaaa", Short: "alice", Long: "Alice"}}}
	in := newInterp(t, st, link, config.Config{})

	out := reply(in.Handle(ctx, "!aaaaaaaa", 0, "whoami"))
	require.Contains(t, out[0], "alice")

	out = reply(in.Handle(ctx, "!cccccccc", 0, "whoami"))
	require.Equal(t, []string{"!cccccccc"}, out)
}

func TestCmdNodesSortedByShort(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)
	link := &fakeLink{nodes: []model.NodeEntry{
		{ID: "!22222222", Short: "bob"},
		{ID: "!11111111", Short: "alice"},
	}}
	in := newInterp(t, st, link, config.Config{})

	out := reply(in.Handle(ctx, "!aaaaaaaa", 0, "nodes"))
	require.Len(t, out, 2)
	require.Contains(t, out[0], "alice")
	require.Contains(t, out[1], "bob")
}

func TestCmdDMQueuedOnInboundChannel(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)
	link := &fakeLink{nodes: []model.NodeEntry{{ID: "!bbbbbbbb", Short: "bob"}}}
	cfg := config.Config{DeliverWait: time.Millisecond, SFTTL: time.Hour}
	in := newInterp(t, st, link, cfg)

	out := reply(in.Handle(ctx, "!aaaaaaaa", 2, "dm bob hello there"))
	require.Equal(t, []string{"queued dm to bob (!bbbbbbbb)"}, out)

	entries, err := st.OutboxFor(ctx, "!aaaaaaaa")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	// The queued DM keeps the channel the command arrived on.
	require.Equal(t, 2, entries[0].ChIdx)
}

func TestCmdDMUnresolvedRecipient(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)
	in := newInterp(t, st, &fakeLink{}, config.Config{})
	out := reply(in.Handle(ctx, "!aaaaaaaa", 0, "dm nobody hi"))
	require.Contains(t, out[0], "no such node")
}

func TestCmdAdminsBootstrapThenGated(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)
	in := newInterp(t, st, &fakeLink{}, config.Config{})

	out := reply(in.Handle(ctx, "!aaaaaaaa", 0, "admins add !bbbbbbbb"))
	require.Equal(t, []string{"admins updated"}, out)

	out = reply(in.Handle(ctx, "!cccccccc", 0, "admins add !dddddddd"))
	require.Equal(t, []string{"Not authorized."}, out)

	out = reply(in.Handle(ctx, "!bbbbbbbb", 0, "admins add !dddddddd"))
	require.Equal(t, []string{"admins updated"}, out)
}

func TestCmdPeerAddDelList(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)
	require.NoError(t, st.AddAdmin(ctx, "!aaaaaaaa"))
	in := newInterp(t, st, &fakeLink{}, config.Config{})

	out := reply(in.Handle(ctx, "!aaaaaaaa", 0, "peer add !bbbbbbbb"))
	require.Equal(t, []string{"peer added"}, out)

	out = reply(in.Handle(ctx, "!aaaaaaaa", 0, "peer list"))
	require.Contains(t, out[0], "!bbbbbbbb")

	out = reply(in.Handle(ctx, "!aaaaaaaa", 0, "peer del !bbbbbbbb"))
	require.Equal(t, []string{"peer removed"}, out)
}

func TestCmdNameGetAndSet(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)
	require.NoError(t, st.AddAdmin(ctx, "!aaaaaaaa"))
	in := newInterp(t, st, &fakeLink{}, config.Config{Name: "node7"})

	out := reply(in.Handle(ctx, "!aaaaaaaa", 0, "name"))
	require.Equal(t, []string{"node7"}, out)

	out = reply(in.Handle(ctx, "!aaaaaaaa", 0, "name set newname"))
	require.Equal(t, []string{"name set to newname"}, out)

	// The override persists and wins over the configured default.
	out = reply(in.Handle(ctx, "!aaaaaaaa", 0, "name"))
	require.Equal(t, []string{"newname"}, out)

	out = reply(in.Handle(ctx, "!bbbbbbbb", 0, "name set other"))
	require.Equal(t, []string{"Not authorized."}, out)
}

func TestCmdSyncRequiresAdminAndHandlesVerbs(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)
	require.NoError(t, st.AddAdmin(ctx, "!aaaaaaaa"))
	link := &fakeLink{}
	in := newInterp(t, st, link, config.Config{SyncEnabled: true, SyncInv: 10})

	out := reply(in.Handle(ctx, "!bbbbbbbb", 0, "sync now"))
	require.Equal(t, []string{"Not authorized."}, out)

	out = reply(in.Handle(ctx, "!aaaaaaaa", 0, "sync now"))
	require.Equal(t, []string{"inventory broadcast sent"}, out)

	require.NoError(t, st.AddPeer(ctx, "!cccccccc"))
	_, err := st.InsertPost(ctx, "!aaaaaaaa", "hello", nil, 1000)
	require.NoError(t, err)

	// `sync off` flips the gossip-timer toggle, but `sync now` forces an
	// inventory broadcast regardless of it.
	out = reply(in.Handle(ctx, "!aaaaaaaa", 0, "sync off"))
	require.Equal(t, []string{"sync off"}, out)
	link.sent = nil
	out = reply(in.Handle(ctx, "!aaaaaaaa", 0, "sync now"))
	require.Equal(t, []string{"inventory broadcast sent"}, out)
	require.NotEmpty(t, link.sent)

	out = reply(in.Handle(ctx, "!aaaaaaaa", 0, "sync on"))
	require.Equal(t, []string{"sync on"}, out)
	link.sent = nil
	out = reply(in.Handle(ctx, "!aaaaaaaa", 0, "sync now"))
	require.Equal(t, []string{"inventory broadcast sent"}, out)
	require.NotEmpty(t, link.sent)
}

func TestCmdHealthPublicVsAdminGated(t *testing.T) {
	ctx := context.Background()
	st := testStore(t)
	in := newInterp(t, st, &fakeLink{}, config.Config{HealthPublic: false})

	out := reply(in.Handle(ctx, "!aaaaaaaa", 0, "health"))
	require.Equal(t, []string{"Not authorized."}, out)

	in = newInterp(t, st, &fakeLink{}, config.Config{HealthPublic: true})
	out = reply(in.Handle(ctx, "!aaaaaaaa", 0, "health"))
	require.Contains(t, out[0], "posts=")
}
