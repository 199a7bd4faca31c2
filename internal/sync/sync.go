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

// Package sync implements the peer replication protocol: periodic INV
// advertisement, on-demand GET, chunked POST/PART/END assembly, and
// idempotent apply via the applied-uid dedup set.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/meshbbs/meshbbs/internal/bbserr"
	"github.com/meshbbs/meshbbs/internal/config"
	"github.com/meshbbs/meshbbs/internal/model"
	"github.com/meshbbs/meshbbs/internal/radio"
	"github.com/meshbbs/meshbbs/internal/store"
)

// Tag is the reserved prefix marking a frame as peer-sync control
// traffic. User text must never begin with this tag.
const Tag = "#SYNC"

// Verb identifies one of the five sync wire verbs.
type Verb string

const (
	VerbInv  Verb = "INV"
	VerbGet  Verb = "GET"
	VerbPost Verb = "POST"
	VerbPart Verb = "PART"
	VerbEnd  Verb = "END"
)

// MaxGetsPerInv bounds how many GETs a single INV triggers.
const MaxGetsPerInv = 3

// Clock abstracts wall-clock time so tests can control it.
type Clock func() int64

// Syncer drives the peer-sync protocol over a RadioLink.
type Syncer struct {
	store  *store.Store
	link   radio.Link
	cfg    config.Config
	logger *slog.Logger
	now    Clock

	// enabledMu guards enabled, the runtime sync toggle. It starts at
	// cfg.SyncEnabled but the `sync on|off` command can flip it without
	// a restart, unlike the rest of Config which is immutable.
	enabledMu sync.RWMutex
	enabled   bool
}

// New builds a Syncer.
func New(st *store.Store, link radio.Link, cfg config.Config, logger *slog.Logger, now Clock) *Syncer {
	return &Syncer{store: st, link: link, cfg: cfg, logger: logger, now: now, enabled: cfg.SyncEnabled}
}

// Enabled reports whether peer gossip is currently turned on.
func (s *Syncer) Enabled() bool {
	s.enabledMu.RLock()
	defer s.enabledMu.RUnlock()
	return s.enabled
}

// SetEnabled flips the runtime sync toggle, driven by the `sync on|off`
// command.
func (s *Syncer) SetEnabled(enabled bool) {
	s.enabledMu.Lock()
	s.enabled = enabled
	s.enabledMu.Unlock()
}

// IsSyncFrame reports whether text is tagged as peer-sync control traffic.
func IsSyncFrame(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), Tag)
}

// newUID generates the glossary's "random 10-character alphanumeric
// token" from a uuid rather than a hand-rolled RNG loop.
func newUID() string {
	raw := strings.ToLower(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return raw[:10]
}

// HandleFrame processes one inbound sync-tagged frame from a peer. Only
// frames from configured peers reach this method; the Frame Router
// enforces that gate. Malformed frames are dropped silently.
func (s *Syncer) HandleFrame(ctx context.Context, from model.NodeId, text string) {
	toks := strings.Fields(strings.TrimSpace(text))
	if len(toks) < 2 || toks[0] != Tag {
		return
	}
	verb := Verb(strings.ToUpper(toks[1]))
	var err error
	switch verb {
	case VerbInv:
		err = s.handleInv(ctx, from, toks)
	case VerbGet:
		err = s.handleGet(ctx, from, toks)
	case VerbPost:
		err = s.handlePost(ctx, from, toks)
	case VerbPart:
		err = s.handlePart(ctx, from, text, toks)
	case VerbEnd:
		err = s.handleEnd(ctx, from, toks)
	default:
		err = bbserr.MalformedSyncFrame(text)
	}
	if err != nil {
		s.logger.Debug("dropping malformed sync frame", slog.String("from", string(from)), slog.String("error", err.Error()))
	}
}

func parseKV(tok string) (string, string, bool) {
	k, v, ok := strings.Cut(tok, "=")
	return k, v, ok
}

func (s *Syncer) handleInv(ctx context.Context, from model.NodeId, toks []string) error {
	if len(toks) < 3 {
		return bbserr.MalformedSyncFrame(strings.Join(toks, " "))
	}
	k, v, ok := parseKV(toks[2])
	if !ok || k != "ids" {
		return bbserr.MalformedSyncFrame(strings.Join(toks, " "))
	}
	var advertised []int64
	for _, tok := range strings.Split(v, ",") {
		if tok == "" {
			continue
		}
		if id, err := strconv.ParseInt(tok, 10, 64); err == nil {
			advertised = append(advertised, id)
		}
	}
	sortInt64s(advertised)
	var missing []int64
	for _, id := range advertised {
		has, err := s.store.HasPost(ctx, id)
		if err != nil {
			return err
		}
		if !has {
			missing = append(missing, id)
		}
	}
	if len(missing) > MaxGetsPerInv {
		missing = missing[:MaxGetsPerInv]
	}
	for _, id := range missing {
		s.sendToPeer(ctx, from, fmt.Sprintf("%s GET id=%d", Tag, id))
	}
	return nil
}

func (s *Syncer) handleGet(ctx context.Context, from model.NodeId, toks []string) error {
	if len(toks) < 3 {
		return bbserr.MalformedSyncFrame(strings.Join(toks, " "))
	}
	_, v, ok := parseKV(toks[2])
	if !ok {
		return bbserr.MalformedSyncFrame(strings.Join(toks, " "))
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return bbserr.MalformedSyncFrame(strings.Join(toks, " "))
	}
	post, err := s.store.GetPost(ctx, id)
	if err != nil {
		// unknown post: nothing to answer with, drop silently.
		return nil
	}
	s.sendPost(ctx, from, post)
	return nil
}

func (s *Syncer) handlePost(ctx context.Context, from model.NodeId, toks []string) error {
	fields := make(map[string]string)
	for _, tok := range toks[2:] {
		k, v, ok := parseKV(tok)
		if !ok {
			return bbserr.MalformedSyncFrame(strings.Join(toks, " "))
		}
		fields[k] = v
	}
	uid, ok := fields["uid"]
	if !ok {
		return bbserr.MalformedSyncFrame(strings.Join(toks, " "))
	}
	total := 1
	if n, ok := fields["n"]; ok {
		if parsed, err := strconv.Atoi(n); err == nil {
			total = parsed
		}
	}
	now := s.now()
	if err := s.store.SeenUIDInsert(ctx, uid, now); err != nil {
		return err
	}
	return s.store.RxPartsInsertShell(ctx, uid, total, from, now)
}

func (s *Syncer) handlePart(ctx context.Context, from model.NodeId, rawText string, toks []string) error {
	if len(toks) < 4 {
		return bbserr.MalformedSyncFrame(rawText)
	}
	_, uid, ok := parseKV(toks[2])
	if !ok {
		return bbserr.MalformedSyncFrame(rawText)
	}
	idxTot := toks[3]
	_, totStr, ok := strings.Cut(idxTot, "/")
	if !ok {
		return bbserr.MalformedSyncFrame(rawText)
	}
	total, err := strconv.Atoi(totStr)
	if err != nil {
		return bbserr.MalformedSyncFrame(rawText)
	}
	// The chunk is everything after the "<i>/<N>" token in the raw
	// text, trimmed of one leading space. Reassembly tolerates any
	// ordering and does not verify boundaries: whatever has accumulated
	// by END is what gets committed.
	marker := Tag + " PART " + toks[2] + " " + idxTot
	chunk := ""
	if idx := strings.Index(rawText, marker); idx >= 0 {
		chunk = strings.TrimPrefix(rawText[idx+len(marker):], " ")
	}
	return s.store.RxPartsAppend(ctx, uid, chunk, total)
}

func (s *Syncer) handleEnd(ctx context.Context, from model.NodeId, toks []string) error {
	if len(toks) < 3 {
		return bbserr.MalformedSyncFrame(strings.Join(toks, " "))
	}
	_, uid, ok := parseKV(toks[2])
	if !ok {
		return bbserr.MalformedSyncFrame(strings.Join(toks, " "))
	}
	applied, err := s.store.IsApplied(ctx, uid)
	if err != nil {
		return err
	}
	if applied {
		return s.store.RxPartsDelete(ctx, uid)
	}
	buf, found, err := s.store.RxPartsTakeBody(ctx, uid)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	now := s.now()
	author := fmt.Sprintf("[peer]%s", buf.FromPeer)
	if _, err := s.store.InsertPost(ctx, author, buf.AccumulatedBody, nil, now); err != nil {
		return err
	}
	if err := s.store.AppliedUIDInsert(ctx, uid, now); err != nil {
		return err
	}
	return s.store.RxPartsDelete(ctx, uid)
}

// Replicate fans a newly created local post out to every configured peer:
// one POST header followed by its PART sequence and a terminating END,
// bursted per peer before moving to the next. There is no global ordering
// across peers.
func (s *Syncer) Replicate(ctx context.Context, post model.Post) {
	if !s.Enabled() {
		return
	}
	peers, err := s.store.ListPeers(ctx)
	if err != nil {
		s.logger.Warn("replicate: list peers failed", slog.String("error", err.Error()))
		return
	}
	for _, peer := range peers {
		s.sendPostTo(ctx, peer, post)
	}
}

func (s *Syncer) sendPost(ctx context.Context, to model.NodeId, post model.Post) {
	s.sendPostTo(ctx, to, post)
}

func (s *Syncer) sendPostTo(ctx context.Context, to model.NodeId, post model.Post) {
	uid := newUID()
	reply := "-"
	if post.ReplyTo != nil {
		reply = strconv.FormatInt(*post.ReplyTo, 10)
	}
	chunks := chunk(post.Body, s.cfg.SyncChunk)
	header := fmt.Sprintf("%s POST uid=%s id=%d ts=%d by=%s r=%s n=%d",
		Tag, uid, post.ID, post.TS, post.Author, reply, len(chunks))
	s.sendToPeer(ctx, to, header)
	for i, ch := range chunks {
		part := fmt.Sprintf("%s PART uid=%s %d/%d %s", Tag, uid, i+1, len(chunks), ch)
		s.sendToPeer(ctx, to, part)
	}
	s.sendToPeer(ctx, to, fmt.Sprintf("%s END uid=%s", Tag, uid))
}

// chunk splits body into fixed-size slices of n bytes. An empty body
// still produces exactly one empty chunk.
func chunk(body string, n int) []string {
	if n <= 0 {
		n = 1
	}
	if body == "" {
		return []string{""}
	}
	var out []string
	b := []byte(body)
	for len(b) > 0 {
		end := n
		if end > len(b) {
			end = len(b)
		}
		out = append(out, string(b[:end]))
		b = b[end:]
	}
	return out
}

// BroadcastInventory advertises the last SyncInv post ids to every peer,
// skipping entirely if the local post table is empty. It does not consult
// the enabled toggle: the `sync now` command forces a broadcast even while
// gossip is off, and the periodic timer gates on Enabled before calling.
func (s *Syncer) BroadcastInventory(ctx context.Context) {
	ids, err := s.store.RecentPostIDs(ctx, s.cfg.SyncInv)
	if err != nil {
		s.logger.Warn("broadcast inventory: query failed", slog.String("error", err.Error()))
		return
	}
	if len(ids) == 0 {
		return
	}
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = strconv.FormatInt(id, 10)
	}
	payload := fmt.Sprintf("%s INV ids=%s", Tag, strings.Join(strs, ","))
	peers, err := s.store.ListPeers(ctx)
	if err != nil {
		s.logger.Warn("broadcast inventory: list peers failed", slog.String("error", err.Error()))
		return
	}
	for _, peer := range peers {
		s.sendToPeer(ctx, peer, payload)
	}
}

func (s *Syncer) sendToPeer(ctx context.Context, peer model.NodeId, text string) {
	if err := s.link.Send(ctx, &peer, s.cfg.DefaultChannelIndex, text); err != nil {
		s.logger.Warn("sync send failed", slog.String("peer", string(peer)), slog.String("error", err.Error()))
	}
}

func sortInt64s(s []int64) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
