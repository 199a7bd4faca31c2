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

// Package store implements the single-writer/many-reader persistence
// layer on top of an embedded sqlite database file. Every write is atomic
// at the entity level; a single mutex serializes writers while reads run
// directly against the pool.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/meshbbs/meshbbs/internal/bbserr"
	"github.com/meshbbs/meshbbs/internal/model"
)

// Store is the station's embedded relational database. The schema is
// private; migrations are idempotent CREATE IF NOT EXISTS statements run
// once at Open.
type Store struct {
	db      *sql.DB
	writeMu sync.Mutex
	logger  *slog.Logger
}

// Open opens (creating if absent) the sqlite database file at path and
// runs schema migrations.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := &Store{db: db, logger: logger}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("store opened", slog.String("path", path))
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS posts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			author TEXT NOT NULL,
			body TEXT NOT NULL,
			reply_to INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_posts_reply_to ON posts(reply_to)`,
		`CREATE TABLE IF NOT EXISTS notice (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			text TEXT NOT NULL,
			set_ts INTEGER NOT NULL,
			expire_ts INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS kv (k TEXT PRIMARY KEY, v TEXT)`,
		`CREATE TABLE IF NOT EXISTS admins (id TEXT PRIMARY KEY)`,
		`CREATE TABLE IF NOT EXISTS blacklist (id TEXT PRIMARY KEY)`,
		`CREATE TABLE IF NOT EXISTS peers (id TEXT PRIMARY KEY, last_seen INTEGER)`,
		`CREATE TABLE IF NOT EXISTS seen_uids (uid TEXT PRIMARY KEY, ts INTEGER NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS applied_uids (uid TEXT PRIMARY KEY, ts INTEGER NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS rxparts (
			uid TEXT PRIMARY KEY,
			total INTEGER NOT NULL,
			got INTEGER NOT NULL,
			data TEXT NOT NULL,
			from_id TEXT NOT NULL,
			created_ts INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS dm_out (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			to_id TEXT NOT NULL,
			from_id TEXT NOT NULL,
			body TEXT NOT NULL,
			created_ts INTEGER NOT NULL,
			delivered_ts INTEGER,
			attempts INTEGER NOT NULL DEFAULT 0,
			last_attempt_ts INTEGER,
			ch_idx INTEGER NOT NULL DEFAULT 0,
			ttl_sec INTEGER NOT NULL,
			status TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_dm_out_to_status ON dm_out(to_id, status, id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) withWrite(fn func() error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return fn()
}

// InsertPost inserts a new top-level post or reply (replyTo non-nil) and
// returns its newly assigned, durable id.
func (s *Store) InsertPost(ctx context.Context, author, body string, replyTo *int64, ts int64) (int64, error) {
	if replyTo != nil {
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT 1 FROM posts WHERE id = ?`, *replyTo).Scan(&exists); err != nil {
			if err == sql.ErrNoRows {
				return 0, bbserr.NotFound("post", fmt.Sprint(*replyTo))
			}
			return 0, bbserr.StoreError("insert_post.check_parent", err)
		}
	}
	var id int64
	err := s.withWrite(func() error {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO posts(ts, author, body, reply_to) VALUES (?, ?, ?, ?)`,
			ts, author, body, replyTo)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, bbserr.StoreError("insert_post", err)
	}
	return id, nil
}

// AppendReply is InsertPost with replyTo required; it fails with NotFound
// if postID does not exist.
func (s *Store) AppendReply(ctx context.Context, postID int64, author, body string, ts int64) (model.ReplyID, error) {
	return s.InsertPost(ctx, author, body, &postID, ts)
}

// GetPost fetches a single post by id.
func (s *Store) GetPost(ctx context.Context, id int64) (model.Post, error) {
	var p model.Post
	var replyTo sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, ts, author, body, reply_to FROM posts WHERE id = ?`, id).
		Scan(&p.ID, &p.TS, &p.Author, &p.Body, &replyTo)
	if err == sql.ErrNoRows {
		return model.Post{}, bbserr.NotFound("post", fmt.Sprint(id))
	}
	if err != nil {
		return model.Post{}, bbserr.StoreError("get_post", err)
	}
	if replyTo.Valid {
		p.ReplyTo = &replyTo.Int64
	}
	return p, nil
}

// RecentPosts returns up to limit most recent top-level-or-reply posts in
// descending id order (used by the `r` command).
func (s *Store) RecentPosts(ctx context.Context, limit int) ([]model.Post, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, author, body, reply_to FROM posts ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, bbserr.StoreError("recent_posts", err)
	}
	defer rows.Close()
	return scanPosts(rows)
}

// Replies returns all replies to postID in ascending id order.
func (s *Store) Replies(ctx context.Context, postID int64) ([]model.Post, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, author, body, reply_to FROM posts WHERE reply_to = ? ORDER BY id`, postID)
	if err != nil {
		return nil, bbserr.StoreError("replies", err)
	}
	defer rows.Close()
	return scanPosts(rows)
}

func scanPosts(rows *sql.Rows) ([]model.Post, error) {
	var out []model.Post
	for rows.Next() {
		var p model.Post
		var replyTo sql.NullInt64
		if err := rows.Scan(&p.ID, &p.TS, &p.Author, &p.Body, &replyTo); err != nil {
			return nil, bbserr.StoreError("scan_posts", err)
		}
		if replyTo.Valid {
			p.ReplyTo = &replyTo.Int64
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// HasPost reports whether a post with the given id exists.
func (s *Store) HasPost(ctx context.Context, id int64) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM posts WHERE id = ?`, id).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, bbserr.StoreError("has_post", err)
	}
	return true, nil
}

// PostCount returns the total number of rows in posts (top-level + replies).
func (s *Store) PostCount(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts`).Scan(&n); err != nil {
		return 0, bbserr.StoreError("post_count", err)
	}
	return n, nil
}

// RecentPostIDs returns up to n most recent post ids in ascending order,
// used to build an INV advertisement.
func (s *Store) RecentPostIDs(ctx context.Context, n int) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM posts ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, bbserr.StoreError("recent_post_ids", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, bbserr.StoreError("recent_post_ids.scan", err)
		}
		ids = append(ids, id)
	}
	// caller wants ascending order
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
	return ids, rows.Err()
}

// SetNotice replaces the single notice row.
func (s *Store) SetNotice(ctx context.Context, text string, setTS int64, expireTS *int64) error {
	return s.withWrite(func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO notice(id, text, set_ts, expire_ts) VALUES (1, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET text = excluded.text, set_ts = excluded.set_ts, expire_ts = excluded.expire_ts`,
			text, setTS, expireTS)
		return bbserr.StoreError("set_notice", err)
	})
}

// GetNotice returns the current notice, if one has ever been set.
func (s *Store) GetNotice(ctx context.Context) (model.Notice, bool, error) {
	var n model.Notice
	var expireTS sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT text, set_ts, expire_ts FROM notice WHERE id = 1`).
		Scan(&n.Text, &n.SetTS, &expireTS)
	if err == sql.ErrNoRows {
		return model.Notice{}, false, nil
	}
	if err != nil {
		return model.Notice{}, false, bbserr.StoreError("get_notice", err)
	}
	if expireTS.Valid {
		n.ExpireTS = &expireTS.Int64
	}
	return n, true, nil
}

// --- kv / station name ---

const kvStationName = "station_name"

func (s *Store) kvSet(ctx context.Context, k, v string) error {
	return s.withWrite(func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO kv(k, v) VALUES (?, ?) ON CONFLICT(k) DO UPDATE SET v = excluded.v`, k, v)
		return bbserr.StoreError("kv_set", err)
	})
}

func (s *Store) kvGet(ctx context.Context, k string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT v FROM kv WHERE k = ?`, k).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, bbserr.StoreError("kv_get", err)
	}
	return v, true, nil
}

// SetStationName persists a display-name override for the station; the
// configured NAME remains the default when no override has been set.
func (s *Store) SetStationName(ctx context.Context, name string) error {
	return s.kvSet(ctx, kvStationName, name)
}

// StationName returns the persisted display-name override, if any.
func (s *Store) StationName(ctx context.Context) (string, bool, error) {
	return s.kvGet(ctx, kvStationName)
}

// --- admin / blacklist / peer sets ---

func (s *Store) setAdd(ctx context.Context, table string, id model.NodeId) error {
	return s.withWrite(func() error {
		_, err := s.db.ExecContext(ctx,
			fmt.Sprintf(`INSERT OR IGNORE INTO %s(id) VALUES (?)`, table), string(id))
		return bbserr.StoreError("set_add."+table, err)
	})
}

func (s *Store) setRemove(ctx context.Context, table string, id model.NodeId) error {
	return s.withWrite(func() error {
		_, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, table), string(id))
		return bbserr.StoreError("set_remove."+table, err)
	})
}

func (s *Store) setClear(ctx context.Context, table string) error {
	return s.withWrite(func() error {
		_, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, table))
		return bbserr.StoreError("set_clear."+table, err)
	})
}

func (s *Store) setList(ctx context.Context, table string) ([]model.NodeId, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT id FROM %s ORDER BY id`, table))
	if err != nil {
		return nil, bbserr.StoreError("set_list."+table, err)
	}
	defer rows.Close()
	var out []model.NodeId
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, bbserr.StoreError("set_list."+table+".scan", err)
		}
		out = append(out, model.NodeId(id))
	}
	return out, rows.Err()
}

func (s *Store) setContains(ctx context.Context, table string, id model.NodeId) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT 1 FROM %s WHERE id = ?`, table), string(id)).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, bbserr.StoreError("set_contains."+table, err)
	}
	return true, nil
}

func (s *Store) AddAdmin(ctx context.Context, id model.NodeId) error { return s.setAdd(ctx, "admins", id) }
func (s *Store) RemoveAdmin(ctx context.Context, id model.NodeId) error {
	return s.setRemove(ctx, "admins", id)
}
func (s *Store) ClearAdmins(ctx context.Context) error { return s.setClear(ctx, "admins") }
func (s *Store) ListAdmins(ctx context.Context) ([]model.NodeId, error) { return s.setList(ctx, "admins") }
func (s *Store) IsAdmin(ctx context.Context, id model.NodeId) (bool, error) {
	return s.setContains(ctx, "admins", id)
}

func (s *Store) AddBlacklist(ctx context.Context, id model.NodeId) error {
	return s.setAdd(ctx, "blacklist", id)
}
func (s *Store) RemoveBlacklist(ctx context.Context, id model.NodeId) error {
	return s.setRemove(ctx, "blacklist", id)
}
func (s *Store) ClearBlacklist(ctx context.Context) error { return s.setClear(ctx, "blacklist") }
func (s *Store) ListBlacklist(ctx context.Context) ([]model.NodeId, error) {
	return s.setList(ctx, "blacklist")
}
func (s *Store) IsBlacklisted(ctx context.Context, id model.NodeId) (bool, error) {
	return s.setContains(ctx, "blacklist", id)
}

func (s *Store) AddPeer(ctx context.Context, id model.NodeId) error {
	return s.withWrite(func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO peers(id, last_seen) VALUES (?, 0)`, string(id))
		return bbserr.StoreError("add_peer", err)
	})
}
func (s *Store) RemovePeer(ctx context.Context, id model.NodeId) error {
	return s.setRemove(ctx, "peers", id)
}
func (s *Store) ClearPeers(ctx context.Context) error { return s.setClear(ctx, "peers") }
func (s *Store) ListPeers(ctx context.Context) ([]model.NodeId, error) { return s.setList(ctx, "peers") }
func (s *Store) IsPeer(ctx context.Context, id model.NodeId) (bool, error) {
	return s.setContains(ctx, "peers", id)
}

// --- DM outbox ---

// EnqueueDM inserts a new queued DM outbox entry.
func (s *Store) EnqueueDM(ctx context.Context, e model.DMOutboxEntry) (int64, error) {
	var id int64
	err := s.withWrite(func() error {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO dm_out(to_id, from_id, body, created_ts, attempts, ch_idx, ttl_sec, status)
			 VALUES (?, ?, ?, ?, 0, ?, ?, ?)`,
			string(e.ToID), string(e.FromID), e.Body, e.CreatedTS, e.ChIdx, e.TTLSec, model.DMQueued)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, bbserr.StoreError("enqueue_dm", err)
	}
	return id, nil
}

// SweepExpired transitions queued entries whose ttl has passed to expired,
// returning how many were changed.
func (s *Store) SweepExpired(ctx context.Context, now int64) (int64, error) {
	var n int64
	err := s.withWrite(func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE dm_out SET status = ? WHERE status = ? AND created_ts + ttl_sec < ?`,
			model.DMExpired, model.DMQueued, now)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, bbserr.StoreError("sweep_expired", err)
	}
	return n, nil
}

// TakeQueuedFor returns up to max queued DMs addressed to toID in ascending
// id order, for opportunistic flush.
func (s *Store) TakeQueuedFor(ctx context.Context, toID model.NodeId, max int) ([]model.DMOutboxEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, to_id, from_id, body, created_ts, delivered_ts, attempts, last_attempt_ts, ch_idx, ttl_sec, status
		 FROM dm_out WHERE to_id = ? AND status = ? ORDER BY id LIMIT ?`,
		string(toID), model.DMQueued, max)
	if err != nil {
		return nil, bbserr.StoreError("take_queued_for", err)
	}
	defer rows.Close()
	var out []model.DMOutboxEntry
	for rows.Next() {
		var e model.DMOutboxEntry
		var toIDStr, fromIDStr, status string
		var delivered, lastAttempt sql.NullInt64
		if err := rows.Scan(&e.ID, &toIDStr, &fromIDStr, &e.Body, &e.CreatedTS, &delivered,
			&e.Attempts, &lastAttempt, &e.ChIdx, &e.TTLSec, &status); err != nil {
			return nil, bbserr.StoreError("take_queued_for.scan", err)
		}
		e.ToID = model.NodeId(toIDStr)
		e.FromID = model.NodeId(fromIDStr)
		e.Status = model.DMStatus(status)
		if delivered.Valid {
			e.DeliveredTS = &delivered.Int64
		}
		if lastAttempt.Valid {
			e.LastAttemptTS = &lastAttempt.Int64
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// OutboxFor lists every entry sent by fromID in ascending id order,
// whatever its status (queued, delivered or expired).
func (s *Store) OutboxFor(ctx context.Context, fromID model.NodeId) ([]model.DMOutboxEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, to_id, from_id, body, created_ts, delivered_ts, attempts, last_attempt_ts, ch_idx, ttl_sec, status
		 FROM dm_out WHERE from_id = ? ORDER BY id`, string(fromID))
	if err != nil {
		return nil, bbserr.StoreError("outbox_for", err)
	}
	defer rows.Close()
	var out []model.DMOutboxEntry
	for rows.Next() {
		var e model.DMOutboxEntry
		var toIDStr, fromIDStr, status string
		var delivered, lastAttempt sql.NullInt64
		if err := rows.Scan(&e.ID, &toIDStr, &fromIDStr, &e.Body, &e.CreatedTS, &delivered,
			&e.Attempts, &lastAttempt, &e.ChIdx, &e.TTLSec, &status); err != nil {
			return nil, bbserr.StoreError("outbox_for.scan", err)
		}
		e.ToID = model.NodeId(toIDStr)
		e.FromID = model.NodeId(fromIDStr)
		e.Status = model.DMStatus(status)
		if delivered.Valid {
			e.DeliveredTS = &delivered.Int64
		}
		if lastAttempt.Valid {
			e.LastAttemptTS = &lastAttempt.Int64
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkDelivered transitions entry id to delivered at time now.
func (s *Store) MarkDelivered(ctx context.Context, id int64, now int64) error {
	return s.withWrite(func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE dm_out SET status = ?, delivered_ts = ? WHERE id = ?`, model.DMDelivered, now, id)
		return bbserr.StoreError("mark_delivered", err)
	})
}

// MarkAttempt bumps the attempt counter and last-attempt timestamp.
func (s *Store) MarkAttempt(ctx context.Context, id int64, now int64) error {
	return s.withWrite(func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE dm_out SET attempts = attempts + 1, last_attempt_ts = ? WHERE id = ?`, now, id)
		return bbserr.StoreError("mark_attempt", err)
	})
}

// QueuedDMCount returns how many outbox entries are still queued, for the
// health snapshot.
func (s *Store) QueuedDMCount(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM dm_out WHERE status = ?`, model.DMQueued).Scan(&n); err != nil {
		return 0, bbserr.StoreError("queued_dm_count", err)
	}
	return n, nil
}

// --- replication bookkeeping ---

// SeenUIDInsert records uid as seen; idempotent.
func (s *Store) SeenUIDInsert(ctx context.Context, uid string, now int64) error {
	return s.withWrite(func() error {
		_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO seen_uids(uid, ts) VALUES (?, ?)`, uid, now)
		return bbserr.StoreError("seen_uid_insert", err)
	})
}

// AppliedUIDInsert records uid as applied; idempotent.
func (s *Store) AppliedUIDInsert(ctx context.Context, uid string, now int64) error {
	return s.withWrite(func() error {
		_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO applied_uids(uid, ts) VALUES (?, ?)`, uid, now)
		return bbserr.StoreError("applied_uid_insert", err)
	})
}

// IsApplied reports whether uid has already been applied.
func (s *Store) IsApplied(ctx context.Context, uid string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM applied_uids WHERE uid = ?`, uid).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, bbserr.StoreError("is_applied", err)
	}
	return true, nil
}

// RxPartsInsertShell creates the rx buffer shell for a new incoming
// replicated post, announced by a POST header.
func (s *Store) RxPartsInsertShell(ctx context.Context, uid string, total int, fromID model.NodeId, now int64) error {
	return s.withWrite(func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO rxparts(uid, total, got, data, from_id, created_ts) VALUES (?, ?, 0, '', ?, ?)`,
			uid, total, string(fromID), now)
		return bbserr.StoreError("rxparts_insert_shell", err)
	})
}

// RxPartsAppend appends chunk to the buffer for uid, best-effort: it does
// not verify ordering, only records the last-observed total. Reassembly
// tolerates loss and reorder without error.
func (s *Store) RxPartsAppend(ctx context.Context, uid string, chunk string, total int) error {
	return s.withWrite(func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE rxparts SET data = data || ?, got = got + 1, total = ? WHERE uid = ?`,
			chunk, total, uid)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("rxparts.append: unknown uid %q", uid)
		}
		return nil
	})
}

// RxPartsTakeBody returns the rx buffer for uid with whatever body has
// accumulated so far.
func (s *Store) RxPartsTakeBody(ctx context.Context, uid string) (model.RxBuffer, bool, error) {
	var b model.RxBuffer
	var fromID string
	err := s.db.QueryRowContext(ctx,
		`SELECT uid, total, got, data, from_id, created_ts FROM rxparts WHERE uid = ?`, uid).
		Scan(&b.UID, &b.TotalParts, &b.ReceivedParts, &b.AccumulatedBody, &fromID, &b.CreatedTS)
	if err == sql.ErrNoRows {
		return model.RxBuffer{}, false, nil
	}
	if err != nil {
		return model.RxBuffer{}, false, bbserr.StoreError("rxparts_take_body", err)
	}
	b.FromPeer = model.NodeId(fromID)
	return b, true, nil
}

// RxPartsDelete removes the rx buffer for uid.
func (s *Store) RxPartsDelete(ctx context.Context, uid string) error {
	return s.withWrite(func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM rxparts WHERE uid = ?`, uid)
		return bbserr.StoreError("rxparts_delete", err)
	})
}

// seedSet idempotently adds every id in ids to table; used at startup to
// seed admins/peers from configuration.
func (s *Store) seedSet(ctx context.Context, table string, ids []string) error {
	for _, raw := range ids {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		id, ok := model.NormalizeNodeID(raw)
		if !ok {
			s.logger.Warn("skipping unparseable seed node id", slog.String("table", table), slog.String("raw", raw))
			continue
		}
		if err := s.setAdd(ctx, table, id); err != nil {
			return err
		}
	}
	return nil
}

// SeedAdmins idempotently inserts the configured admin seed list.
func (s *Store) SeedAdmins(ctx context.Context, ids []string) error { return s.seedSet(ctx, "admins", ids) }

// SeedPeers idempotently inserts the configured peer seed list.
func (s *Store) SeedPeers(ctx context.Context, ids []string) error {
	for _, raw := range ids {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		id, ok := model.NormalizeNodeID(raw)
		if !ok {
			s.logger.Warn("skipping unparseable seed peer id", slog.String("raw", raw))
			continue
		}
		if err := s.AddPeer(ctx, id); err != nil {
			return err
		}
	}
	return nil
}
