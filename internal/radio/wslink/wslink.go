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

// Package wslink is a websocket-backed RadioLink used by cmd/meshbbs and
// cmd/meshbbs-sim in place of a serial transport: dial, JSON-frame
// messages, and a read loop feeding the inbound callback.
package wslink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/meshbbs/meshbbs/internal/bbserr"
	"github.com/meshbbs/meshbbs/internal/model"
	"github.com/meshbbs/meshbbs/internal/radio"
)

// wireMessage is the JSON frame exchanged over the websocket. Exactly one
// of the payload groups is populated per message Type.
type wireMessage struct {
	Type string `json:"type"` // "text", "nodes", or "ack"

	// "text"
	From     string  `json:"from,omitempty"`
	ChanIdx  int     `json:"chan_idx,omitempty"`
	PacketID *string `json:"packet_id,omitempty"`
	Text     *string `json:"text,omitempty"`
	To       *string `json:"to,omitempty"` // nil means broadcast
	MsgID    string  `json:"msg_id,omitempty"`

	// "nodes"
	Nodes []wireNode `json:"nodes,omitempty"`

	// "ack"
	AckID string `json:"ack_id,omitempty"`
}

type wireNode struct {
	ID         string `json:"id"`
	Short      string `json:"short"`
	Long       string `json:"long"`
	LastHeard  int64  `json:"last_heard"`
	HasLastHrd bool   `json:"has_last_heard"`
}

// Link is a RadioLink implementation carrying mesh frames over a single
// websocket connection to a simulator or test harness.
type Link struct {
	url    string
	logger *slog.Logger

	mu         sync.RWMutex
	conn       *websocket.Conn
	nodes      []model.NodeEntry
	handler    radio.InboundHandler
	ackHandler func(messageID string)

	writeMu sync.Mutex
}

// New dials url and returns a ready Link. The caller installs an
// InboundHandler via OnInbound before inbound frames are delivered;
// messages received before that call are dropped.
func New(ctx context.Context, url string, logger *slog.Logger) (*Link, error) {
	l := &Link{url: url, logger: logger}
	if err := l.dial(ctx); err != nil {
		return nil, err
	}
	go l.readLoop()
	return l, nil
}

func (l *Link) dial(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, l.url, nil)
	if err != nil {
		return bbserr.TransportError(fmt.Errorf("dial %s: %w", l.url, err))
	}
	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()
	return nil
}

func (l *Link) readLoop() {
	for {
		l.mu.RLock()
		conn := l.conn
		l.mu.RUnlock()
		if conn == nil {
			return
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			l.logger.Warn("wslink read failed", slog.String("error", err.Error()))
			return
		}
		var msg wireMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			l.logger.Warn("wslink malformed frame", slog.String("error", err.Error()))
			continue
		}
		l.dispatch(msg)
	}
}

func (l *Link) dispatch(msg wireMessage) {
	switch msg.Type {
	case "nodes":
		nodes := make([]model.NodeEntry, 0, len(msg.Nodes))
		for _, n := range msg.Nodes {
			nodes = append(nodes, model.NodeEntry{
				ID: model.NodeId(n.ID), Short: n.Short, Long: n.Long,
				LastHeard: n.LastHeard, HasLastHrd: n.HasLastHrd,
			})
		}
		l.mu.Lock()
		l.nodes = nodes
		l.mu.Unlock()
	case "text":
		l.mu.RLock()
		handler := l.handler
		l.mu.RUnlock()
		if handler != nil {
			handler(model.NodeId(msg.From), msg.ChanIdx, msg.PacketID, msg.Text)
		}
	case "ack":
		l.mu.RLock()
		ackHandler := l.ackHandler
		l.mu.RUnlock()
		if ackHandler != nil && msg.AckID != "" {
			ackHandler(msg.AckID)
		}
	}
}

// Send implements radio.Link.
func (l *Link) Send(ctx context.Context, destination *model.NodeId, channelIndex int, text string) error {
	return l.send(destination, channelIndex, text, "")
}

// SendTracked implements radio.AckCapable: the simulator echoes an "ack"
// message carrying msg_id once the frame is delivered.
func (l *Link) SendTracked(ctx context.Context, destination *model.NodeId, channelIndex int, text, messageID string) error {
	return l.send(destination, channelIndex, text, messageID)
}

// OnAck implements radio.AckCapable.
func (l *Link) OnAck(handler func(messageID string)) {
	l.mu.Lock()
	l.ackHandler = handler
	l.mu.Unlock()
}

// maxPayloadBytes bounds the text payload a single mesh frame can carry.
// Oversized sends are rejected before hitting the wire so the caller can
// retry with a smaller chunk bound.
const maxPayloadBytes = 230

func (l *Link) send(destination *model.NodeId, channelIndex int, text, messageID string) error {
	if len(text) > maxPayloadBytes {
		return bbserr.PayloadTooBig(len(text))
	}
	l.mu.RLock()
	conn := l.conn
	l.mu.RUnlock()
	if conn == nil {
		return bbserr.TransportError(fmt.Errorf("not connected"))
	}
	msg := wireMessage{Type: "text", ChanIdx: channelIndex, Text: &text, MsgID: messageID}
	if destination != nil {
		to := string(*destination)
		msg.To = &to
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return bbserr.TransportError(err)
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return bbserr.TransportError(err)
	}
	return nil
}

// Nodes implements radio.Link.
func (l *Link) Nodes() []model.NodeEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.NodeEntry, len(l.nodes))
	copy(out, l.nodes)
	return out
}

// OnInbound implements radio.Link.
func (l *Link) OnInbound(handler radio.InboundHandler) {
	l.mu.Lock()
	l.handler = handler
	l.mu.Unlock()
}

// Close implements radio.Link.
func (l *Link) Close() error {
	l.mu.Lock()
	conn := l.conn
	l.conn = nil
	l.mu.Unlock()
	if conn == nil {
		return nil
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return conn.Close()
}

// Reopen implements radio.Link: re-dials the same url and restarts the
// read loop.
func (l *Link) Reopen(ctx context.Context) error {
	if err := l.dial(ctx); err != nil {
		return err
	}
	go l.readLoop()
	return nil
}
