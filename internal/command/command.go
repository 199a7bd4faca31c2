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

// Package command implements the user-facing command grammar: a
// case-insensitive verb followed by arguments, dispatched through a
// string-keyed handler table.
package command

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/meshbbs/meshbbs/internal/bbserr"
	"github.com/meshbbs/meshbbs/internal/config"
	"github.com/meshbbs/meshbbs/internal/dmoutbox"
	"github.com/meshbbs/meshbbs/internal/model"
	"github.com/meshbbs/meshbbs/internal/radio"
	"github.com/meshbbs/meshbbs/internal/resolver"
	"github.com/meshbbs/meshbbs/internal/store"
	syncpkg "github.com/meshbbs/meshbbs/internal/sync"
)

// Truncation bounds for the various list renderings.
const (
	listBodyTrunc   = 60
	replyBodyTrunc  = 80
	outboxBodyTrunc = 40
	noticeTrunc     = 450
)

const unrecognized = "I didn't recognise that. Send '?' for menu."

// maxReplies is the display cap for `r <id>`; a "(+N more)" trailer marks
// the overflow when more exist.
const maxReplies = 5

// recentPostsLimit bounds the plain `r` listing.
const recentPostsLimit = 10

// Clock abstracts wall-clock time so tests can control it.
type Clock func() time.Time

// request carries one parsed inbound command: who sent it, the channel it
// arrived on, and the raw argument text after the verb.
type request struct {
	from    model.NodeId
	chanIdx int
	args    string
}

// handlerFunc executes one parsed command and returns its reply lines.
type handlerFunc func(ctx context.Context, in *Interpreter, req request) ([]string, error)

// Interpreter parses and executes the command grammar.
type Interpreter struct {
	store   *store.Store
	link    radio.Link
	outbox  *dmoutbox.Outbox
	syncer  *syncpkg.Syncer
	cfg     config.Config
	logger  *slog.Logger
	now     Clock
	started time.Time
}

// New builds an Interpreter.
func New(st *store.Store, link radio.Link, outbox *dmoutbox.Outbox, syncer *syncpkg.Syncer, cfg config.Config, logger *slog.Logger, now Clock) *Interpreter {
	return &Interpreter{
		store:   st,
		link:    link,
		outbox:  outbox,
		syncer:  syncer,
		cfg:     cfg,
		logger:  logger,
		now:     now,
		started: now(),
	}
}

// registry maps a lowercased verb to its handler. Built once; verbs that
// alias each other (menu/m/h/?) share a handler.
var registry = map[string]handlerFunc{
	"?":         cmdMenu,
	"menu":      cmdMenu,
	"m":         cmdMenu,
	"h":         cmdMenu,
	"??":        cmdHelp,
	"help":      cmdHelp,
	"r":         cmdRead,
	"p":         cmdPost,
	"reply":     cmdReply,
	"info":      cmdInfo,
	"status":    cmdStatus,
	"whoami":    cmdWhoami,
	"whois":     cmdWhois,
	"nodes":     cmdNodes,
	"dm":        cmdDM,
	"msg":       cmdDM,
	"outbox":    cmdOutbox,
	"admins":    cmdAdmins,
	"blacklist": cmdBlacklist,
	"name":      cmdName,
	"peer":      cmdPeer,
	"sync":      cmdSync,
	"health":    cmdHealth,
}

// menuVerbs are the aliases that get the notice sent ahead of the menu.
var menuVerbs = map[string]bool{"?": true, "menu": true, "m": true, "h": true}

// Handle parses text and executes the resulting command, returning reply
// bursts. Each burst is paginated and transmitted as its own frame
// sequence; most commands produce a single burst, but the short menu sends
// a non-expired notice as a separate prior burst. Errors from a handler are
// rendered to a single user-facing reply line rather than propagated.
func (in *Interpreter) Handle(ctx context.Context, from model.NodeId, chanIdx int, text string) [][]string {
	verb, args := splitVerb(text)
	key := strings.ToLower(verb)
	handler, ok := registry[key]
	if !ok {
		if in.cfg.UnknownReply {
			return [][]string{{unrecognized}}
		}
		return nil
	}
	req := request{from: from, chanIdx: chanIdx, args: args}

	var bursts [][]string
	if menuVerbs[key] {
		notice, ok, err := in.store.GetNotice(ctx)
		if err != nil {
			return [][]string{{renderError(err)}}
		}
		if ok && !notice.Expired(in.now().Unix()) {
			bursts = append(bursts, []string{truncate(notice.Text, noticeTrunc)})
		}
	}

	lines, err := handler(ctx, in, req)
	if err != nil {
		lines = []string{renderError(err)}
	}
	if len(lines) > 0 {
		bursts = append(bursts, lines)
	}
	return bursts
}

func renderError(err error) string {
	switch e := err.(type) {
	case *bbserr.NotFoundKind:
		return e.Error()
	case *bbserr.AmbiguousKind:
		if len(e.Suggestions) == 0 {
			return fmt.Sprintf("ambiguous query %q", e.Query)
		}
		return fmt.Sprintf("ambiguous query %q, did you mean: %s", e.Query, strings.Join(e.Suggestions, ", "))
	case *bbserr.StoreErrorKind:
		return "db error"
	default:
		if err == bbserr.Unauthorized {
			return "Not authorized."
		}
		return "internal error"
	}
}

// splitVerb tokenizes on runs of whitespace, not single spaces, and
// returns the verb plus the raw remainder with leading whitespace trimmed.
func splitVerb(text string) (verb, rest string) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", ""
	}
	verb = fields[0]
	idx := strings.Index(text, verb)
	rest = strings.TrimSpace(text[idx+len(verb):])
	return verb, rest
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	s = collapseWhitespace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func shortTS(ts int64) string {
	return time.Unix(ts, 0).UTC().Format("01-02 15:04")
}

func (in *Interpreter) isAdmin(ctx context.Context, id model.NodeId) (bool, error) {
	return in.store.IsAdmin(ctx, id)
}

// --- menu / help ---

func cmdMenu(ctx context.Context, in *Interpreter, _ request) ([]string, error) {
	name, err := in.stationName(ctx)
	if err != nil {
		return nil, err
	}
	return []string{
		fmt.Sprintf("[%s] ? menu | ?? help | r read | p post | reply | dm | nodes | status | whoami", name),
	}, nil
}

func cmdHelp(ctx context.Context, in *Interpreter, _ request) ([]string, error) {
	return []string{
		"Commands:",
		"  ?, menu, m, h           short menu",
		"  ??, help                this help",
		"  r                       recent posts",
		"  r <id>                  read post and replies",
		"  p <text>                new post",
		"  reply <id> <text>       reply to a post",
		"  info                    show station notice",
		"  info set [<hours>] <text>  set notice (admin)",
		"  status                  station status",
		"  whoami                  your node identity",
		"  whois <query>           resolve a node name",
		"  nodes                   live node table",
		"  dm <query> <text>       direct message (alias: msg)",
		"  outbox                  your queued DMs",
		"  admins ...              manage admins",
		"  blacklist ...           manage blacklist (admin)",
		"  name [set <text>]       station name",
		"  peer add|del|list <id>  manage sync peers (admin)",
		"  sync on|off|now         control gossip (admin)",
		"  health                  link/db snapshot",
	}, nil
}

// --- posts ---

func cmdRead(ctx context.Context, in *Interpreter, req request) ([]string, error) {
	args := strings.TrimSpace(req.args)
	if args == "" {
		posts, err := in.store.RecentPosts(ctx, recentPostsLimit)
		if err != nil {
			return nil, err
		}
		if len(posts) == 0 {
			return []string{"No posts yet."}, nil
		}
		lines := make([]string, 0, len(posts))
		for _, p := range posts {
			lines = append(lines, fmt.Sprintf("#%d %s %s: %s", p.ID, shortTS(p.TS), p.Author, truncate(p.Body, listBodyTrunc)))
		}
		return lines, nil
	}

	id, err := strconv.ParseInt(args, 10, 64)
	if err != nil {
		return []string{"bad id"}, nil
	}
	post, err := in.store.GetPost(ctx, id)
	if err != nil {
		return nil, err
	}
	lines := []string{fmt.Sprintf("#%d %s %s: %s", post.ID, shortTS(post.TS), post.Author, collapseWhitespace(post.Body))}
	replies, err := in.store.Replies(ctx, id)
	if err != nil {
		return nil, err
	}
	shown := replies
	more := 0
	if len(shown) > maxReplies {
		shown = shown[:maxReplies]
		more = len(replies) - maxReplies
	}
	for _, r := range shown {
		lines = append(lines, fmt.Sprintf("  > %s: %s", r.Author, truncate(r.Body, replyBodyTrunc)))
	}
	if more > 0 {
		lines = append(lines, fmt.Sprintf("  (+%d more)", more))
	}
	return lines, nil
}

func cmdPost(ctx context.Context, in *Interpreter, req request) ([]string, error) {
	if strings.TrimSpace(req.args) == "" {
		return []string{"usage: p <text>"}, nil
	}
	id, err := in.store.InsertPost(ctx, string(req.from), req.args, nil, in.now().Unix())
	if err != nil {
		return nil, err
	}
	post, err := in.store.GetPost(ctx, id)
	if err == nil {
		in.syncer.Replicate(ctx, post)
	}
	return []string{fmt.Sprintf("posted #%d", id)}, nil
}

func cmdReply(ctx context.Context, in *Interpreter, req request) ([]string, error) {
	fields := strings.Fields(req.args)
	if len(fields) < 2 {
		return []string{"usage: reply <id> <text>"}, nil
	}
	id, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return []string{"bad id"}, nil
	}
	idx := strings.Index(req.args, fields[0])
	body := strings.TrimSpace(req.args[idx+len(fields[0]):])
	replyID, err := in.store.AppendReply(ctx, id, string(req.from), body, in.now().Unix())
	if err != nil {
		return nil, err
	}
	post, err := in.store.GetPost(ctx, replyID)
	if err == nil {
		in.syncer.Replicate(ctx, post)
	}
	return []string{fmt.Sprintf("reply #%d posted to #%d", replyID, id)}, nil
}

// --- notice ---

func cmdInfo(ctx context.Context, in *Interpreter, req request) ([]string, error) {
	fields := strings.Fields(req.args)
	if len(fields) > 0 && strings.EqualFold(fields[0], "set") {
		return cmdInfoSet(ctx, in, req.from, fields[1:])
	}
	notice, ok, err := in.store.GetNotice(ctx)
	if err != nil {
		return nil, err
	}
	now := in.now().Unix()
	if !ok || notice.Expired(now) {
		return []string{"No notice set."}, nil
	}
	meta := fmt.Sprintf("set %s", shortTS(notice.SetTS))
	if notice.ExpireTS != nil {
		meta += fmt.Sprintf(", expires %s", shortTS(*notice.ExpireTS))
	} else {
		meta += ", never expires"
	}
	return []string{truncate(notice.Text, noticeTrunc), meta}, nil
}

func cmdInfoSet(ctx context.Context, in *Interpreter, from model.NodeId, fields []string) ([]string, error) {
	admin, err := in.isAdmin(ctx, from)
	if err != nil {
		return nil, err
	}
	if !admin {
		return nil, bbserr.Unauthorized
	}
	if len(fields) == 0 {
		return []string{"usage: info set [<hours>] <text>"}, nil
	}
	now := in.now().Unix()
	var expireTS *int64
	text := strings.Join(fields, " ")
	if hours, err := strconv.ParseFloat(fields[0], 64); err == nil {
		// A zero hours argument means "never expires".
		if hours > 0 {
			ts := now + int64(hours*3600)
			expireTS = &ts
		}
		text = strings.Join(fields[1:], " ")
		if text == "" {
			return []string{"usage: info set [<hours>] <text>"}, nil
		}
	}
	if err := in.store.SetNotice(ctx, text, now, expireTS); err != nil {
		return nil, err
	}
	return []string{"notice set"}, nil
}

// --- identity / status ---

// stationName returns the persisted display-name override, falling back to
// the configured NAME.
func (in *Interpreter) stationName(ctx context.Context) (string, error) {
	name, ok, err := in.store.StationName(ctx)
	if err != nil {
		return "", err
	}
	if ok && strings.TrimSpace(name) != "" {
		return name, nil
	}
	return in.cfg.Name, nil
}

func cmdStatus(ctx context.Context, in *Interpreter, _ request) ([]string, error) {
	name, err := in.stationName(ctx)
	if err != nil {
		return nil, err
	}
	uptime := in.now().Sub(in.started).Round(time.Second)
	lines := []string{
		fmt.Sprintf("%s / up %s", name, uptime),
	}
	// stats line rides along with status rather than being its own verb.
	postCount, err := in.store.PostCount(ctx)
	if err != nil {
		return nil, err
	}
	peers, err := in.store.ListPeers(ctx)
	if err != nil {
		return nil, err
	}
	lines = append(lines, fmt.Sprintf("stats: %d posts, %d peers", postCount, len(peers)))
	return lines, nil
}

func cmdWhoami(ctx context.Context, in *Interpreter, req request) ([]string, error) {
	for _, n := range in.link.Nodes() {
		if n.ID == req.from {
			return []string{fmt.Sprintf("%s (%s / %s)", req.from, n.Short, n.Long)}, nil
		}
	}
	return []string{string(req.from)}, nil
}

func cmdWhois(ctx context.Context, in *Interpreter, req request) ([]string, error) {
	args := strings.TrimSpace(req.args)
	if args == "" {
		return []string{"usage: whois <query>"}, nil
	}
	n, err := resolver.Resolve(args, in.link.Nodes())
	if err != nil {
		return nil, err
	}
	return []string{fmt.Sprintf("%s: %s / %s", n.ID, n.Short, n.Long)}, nil
}

func cmdNodes(ctx context.Context, in *Interpreter, _ request) ([]string, error) {
	nodes := in.link.Nodes()
	if len(nodes) == 0 {
		return []string{"No nodes known."}, nil
	}
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Short != nodes[j].Short {
			return nodes[i].Short < nodes[j].Short
		}
		return nodes[i].ID < nodes[j].ID
	})
	now := in.now().Unix()
	lines := make([]string, 0, len(nodes))
	for _, n := range nodes {
		age := "never"
		if n.HasLastHrd {
			age = (time.Duration(now-n.LastHeard) * time.Second).Round(time.Second).String() + " ago"
		}
		lines = append(lines, fmt.Sprintf("%s %s (%s) - %s", n.ID, n.Short, n.Long, age))
	}
	return lines, nil
}

// --- direct messages ---

func cmdDM(ctx context.Context, in *Interpreter, req request) ([]string, error) {
	fields := strings.Fields(req.args)
	if len(fields) < 2 {
		return []string{"usage: dm <query> <text>"}, nil
	}
	n, err := resolver.Resolve(fields[0], in.link.Nodes())
	if err != nil {
		return nil, err
	}
	idx := strings.Index(req.args, fields[0])
	body := strings.TrimSpace(req.args[idx+len(fields[0]):])
	var fromShort string
	for _, node := range in.link.Nodes() {
		if node.ID == req.from {
			fromShort = node.Short
			break
		}
	}
	if fromShort == "" {
		fromShort = string(req.from)
	}
	// The DM rides the channel the command arrived on.
	delivered, err := in.outbox.Send(ctx, n.ID, req.from, fromShort, body, req.chanIdx)
	if err != nil {
		return nil, err
	}
	if delivered {
		return []string{"delivered"}, nil
	}
	toShort := n.Short
	if toShort == "" {
		toShort = string(n.ID)
	}
	return []string{fmt.Sprintf("queued dm to %s (%s)", toShort, n.ID)}, nil
}

func cmdOutbox(ctx context.Context, in *Interpreter, req request) ([]string, error) {
	entries, err := in.store.OutboxFor(ctx, req.from)
	if err != nil {
		return nil, err
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Status != model.DMQueued {
			continue
		}
		lines = append(lines, fmt.Sprintf("#%d -> %s [%s] %s", e.ID, e.ToID, e.Status, truncate(e.Body, outboxBodyTrunc)))
	}
	if len(lines) == 0 {
		return []string{"Outbox empty."}, nil
	}
	return lines, nil
}

// --- admin sets ---

func cmdAdmins(ctx context.Context, in *Interpreter, req request) ([]string, error) {
	fields := strings.Fields(req.args)
	if len(fields) == 0 {
		admins, err := in.store.ListAdmins(ctx)
		if err != nil {
			return nil, err
		}
		return formatIDList("admins", admins), nil
	}

	existing, err := in.store.ListAdmins(ctx)
	if err != nil {
		return nil, err
	}
	sub := strings.ToLower(fields[0])
	bootstrapping := len(existing) == 0 && sub == "add"
	if !bootstrapping {
		admin, err := in.isAdmin(ctx, req.from)
		if err != nil {
			return nil, err
		}
		if !admin {
			return nil, bbserr.Unauthorized
		}
	}
	return mutateSet(ctx, in, "admins", fields,
		in.store.AddAdmin, in.store.RemoveAdmin, in.store.ClearAdmins, in.store.ListAdmins)
}

func cmdBlacklist(ctx context.Context, in *Interpreter, req request) ([]string, error) {
	admin, err := in.isAdmin(ctx, req.from)
	if err != nil {
		return nil, err
	}
	if !admin {
		return nil, bbserr.Unauthorized
	}
	fields := strings.Fields(req.args)
	if len(fields) == 0 {
		entries, err := in.store.ListBlacklist(ctx)
		if err != nil {
			return nil, err
		}
		return formatIDList("blacklist", entries), nil
	}
	return mutateSet(ctx, in, "blacklist", fields,
		in.store.AddBlacklist, in.store.RemoveBlacklist, in.store.ClearBlacklist, in.store.ListBlacklist)
}

func cmdPeer(ctx context.Context, in *Interpreter, req request) ([]string, error) {
	admin, err := in.isAdmin(ctx, req.from)
	if err != nil {
		return nil, err
	}
	if !admin {
		return nil, bbserr.Unauthorized
	}
	fields := strings.Fields(req.args)
	if len(fields) == 0 {
		peers, err := in.store.ListPeers(ctx)
		if err != nil {
			return nil, err
		}
		return formatIDList("peers", peers), nil
	}
	switch strings.ToLower(fields[0]) {
	case "add":
		if len(fields) < 2 {
			return []string{"usage: peer add <id>"}, nil
		}
		id, ok := model.NormalizeNodeID(fields[1])
		if !ok {
			return []string{"bad id"}, nil
		}
		if err := in.store.AddPeer(ctx, id); err != nil {
			return nil, err
		}
		return []string{"peer added"}, nil
	case "del":
		if len(fields) < 2 {
			return []string{"usage: peer del <id>"}, nil
		}
		id, ok := model.NormalizeNodeID(fields[1])
		if !ok {
			return []string{"bad id"}, nil
		}
		if err := in.store.RemovePeer(ctx, id); err != nil {
			return nil, err
		}
		return []string{"peer removed"}, nil
	case "list":
		peers, err := in.store.ListPeers(ctx)
		if err != nil {
			return nil, err
		}
		return formatIDList("peers", peers), nil
	default:
		return []string{"usage: peer add|del|list <id>"}, nil
	}
}

func mutateSet(
	ctx context.Context, in *Interpreter, label string, fields []string,
	add func(context.Context, model.NodeId) error,
	remove func(context.Context, model.NodeId) error,
	clear func(context.Context) error,
	list func(context.Context) ([]model.NodeId, error),
) ([]string, error) {
	switch strings.ToLower(fields[0]) {
	case "add":
		if len(fields) < 2 {
			return []string{fmt.Sprintf("usage: %s add <id>", label)}, nil
		}
		id, ok := model.NormalizeNodeID(fields[1])
		if !ok {
			return []string{"bad id"}, nil
		}
		if err := add(ctx, id); err != nil {
			return nil, err
		}
		return []string{label + " updated"}, nil
	case "remove":
		if len(fields) < 2 {
			return []string{fmt.Sprintf("usage: %s remove <id>", label)}, nil
		}
		id, ok := model.NormalizeNodeID(fields[1])
		if !ok {
			return []string{"bad id"}, nil
		}
		if err := remove(ctx, id); err != nil {
			return nil, err
		}
		return []string{label + " updated"}, nil
	case "clear":
		if err := clear(ctx); err != nil {
			return nil, err
		}
		return []string{label + " cleared"}, nil
	default:
		entries, err := list(ctx)
		if err != nil {
			return nil, err
		}
		return formatIDList(label, entries), nil
	}
}

func formatIDList(label string, ids []model.NodeId) []string {
	if len(ids) == 0 {
		return []string{label + ": (empty)"}
	}
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = string(id)
	}
	return []string{label + ": " + strings.Join(strs, ", ")}
}

// --- station name ---

func cmdName(ctx context.Context, in *Interpreter, req request) ([]string, error) {
	fields := strings.Fields(req.args)
	if len(fields) == 0 {
		name, err := in.stationName(ctx)
		if err != nil {
			return nil, err
		}
		return []string{name}, nil
	}
	if strings.EqualFold(fields[0], "set") {
		admin, err := in.isAdmin(ctx, req.from)
		if err != nil {
			return nil, err
		}
		if !admin {
			return nil, bbserr.Unauthorized
		}
		name := strings.Join(fields[1:], " ")
		if name == "" {
			return []string{"usage: name set <text>"}, nil
		}
		if err := in.store.SetStationName(ctx, name); err != nil {
			return nil, err
		}
		return []string{"name set to " + name}, nil
	}
	return []string{"usage: name [set <text>]"}, nil
}

// --- sync control ---

func cmdSync(ctx context.Context, in *Interpreter, req request) ([]string, error) {
	admin, err := in.isAdmin(ctx, req.from)
	if err != nil {
		return nil, err
	}
	if !admin {
		return nil, bbserr.Unauthorized
	}
	switch strings.ToLower(strings.TrimSpace(req.args)) {
	case "now":
		in.syncer.BroadcastInventory(ctx)
		return []string{"inventory broadcast sent"}, nil
	case "on":
		in.syncer.SetEnabled(true)
		return []string{"sync on"}, nil
	case "off":
		in.syncer.SetEnabled(false)
		return []string{"sync off"}, nil
	default:
		return []string{"usage: sync on|off|now"}, nil
	}
}

// --- health ---

func cmdHealth(ctx context.Context, in *Interpreter, req request) ([]string, error) {
	if !in.cfg.HealthPublic {
		admin, err := in.isAdmin(ctx, req.from)
		if err != nil {
			return nil, err
		}
		if !admin {
			return nil, bbserr.Unauthorized
		}
	}
	postCount, err := in.store.PostCount(ctx)
	if err != nil {
		return nil, err
	}
	latest := int64(0)
	if ids, err := in.store.RecentPostIDs(ctx, 1); err == nil && len(ids) > 0 {
		latest = ids[0]
	}
	peers, err := in.store.ListPeers(ctx)
	if err != nil {
		return nil, err
	}
	admins, err := in.store.ListAdmins(ctx)
	if err != nil {
		return nil, err
	}
	bl, err := in.store.ListBlacklist(ctx)
	if err != nil {
		return nil, err
	}
	qdm, err := in.store.QueuedDMCount(ctx)
	if err != nil {
		return nil, err
	}
	syncState := "off"
	if in.syncer.Enabled() {
		syncState = "on"
	}
	uptime := in.now().Sub(in.started).Round(time.Second)
	return []string{fmt.Sprintf(
		"up=%s posts=%d latest=%d peers=%d admins=%d bl=%d qdm=%d nodes=%d sync=%s",
		uptime, postCount, latest, len(peers), len(admins), len(bl), qdm, len(in.link.Nodes()), syncState,
	)}, nil
}
