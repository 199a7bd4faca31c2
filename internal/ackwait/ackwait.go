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

// Package ackwait holds the registration table that turns the transport's
// delivery acknowledgements into completable waits: a caller registers the
// outbound message id before transmitting, then blocks on the returned
// channel; the ack callback the RadioLink delivers completes it.
package ackwait

import "sync"

// Table maps in-flight outbound message ids to their completion channels.
// One Table is shared by every component that waits on acks; the transport's
// single ack handler is wired to Complete.
type Table struct {
	mu      sync.Mutex
	pending map[string]chan struct{}
}

// New builds an empty Table.
func New() *Table {
	return &Table{pending: make(map[string]chan struct{})}
}

// Register adds messageID to the table and returns the channel Complete
// will close. Call Cancel when the wait is over, acked or not.
func (t *Table) Register(messageID string) <-chan struct{} {
	ch := make(chan struct{})
	t.mu.Lock()
	t.pending[messageID] = ch
	t.mu.Unlock()
	return ch
}

// Cancel removes messageID from the table without completing it.
func (t *Table) Cancel(messageID string) {
	t.mu.Lock()
	delete(t.pending, messageID)
	t.mu.Unlock()
}

// Complete closes the channel registered for messageID, if any. Acks for
// unknown or already-cancelled ids are ignored.
func (t *Table) Complete(messageID string) {
	t.mu.Lock()
	ch, ok := t.pending[messageID]
	if ok {
		delete(t.pending, messageID)
	}
	t.mu.Unlock()
	if ok {
		close(ch)
	}
}
