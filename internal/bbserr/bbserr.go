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

// Package bbserr declares the domain error kinds, each
// wrapping an underlying cause so callers can errors.As onto the kind they
// care about rather than string-matching messages.
package bbserr

import "fmt"

// NotFoundKind covers a missing post id, node short name, or outbox id.
type NotFoundKind struct {
	Subject string // e.g. "post", "outbox entry"
	ID      string
}

func (e *NotFoundKind) Error() string {
	return fmt.Sprintf("no such %s %s", e.Subject, e.ID)
}

// NotFound builds a NotFoundKind error.
func NotFound(subject, id string) error {
	return &NotFoundKind{Subject: subject, ID: id}
}

// AmbiguousKind covers name resolution matching more than one node.
type AmbiguousKind struct {
	Query       string
	Suggestions []string // up to six, "short/!id" formatted
}

func (e *AmbiguousKind) Error() string {
	return fmt.Sprintf("ambiguous query %q", e.Query)
}

// Ambiguous builds an AmbiguousKind error.
func Ambiguous(query string, suggestions []string) error {
	return &AmbiguousKind{Query: query, Suggestions: suggestions}
}

// UnauthorizedKind covers an admin-only command invoked by a non-admin.
type UnauthorizedKind struct{}

func (e *UnauthorizedKind) Error() string { return "Not authorized." }

// Unauthorized is the sentinel UnauthorizedKind value.
var Unauthorized error = &UnauthorizedKind{}

// StoreErrorKind wraps a failure from the persistence layer.
type StoreErrorKind struct {
	Op  string
	Err error
}

func (e *StoreErrorKind) Error() string { return fmt.Sprintf("store: %s: %v", e.Op, e.Err) }
func (e *StoreErrorKind) Unwrap() error { return e.Err }

// StoreError wraps err as a StoreErrorKind for operation op.
func StoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreErrorKind{Op: op, Err: err}
}

// TransportErrorKind wraps a RadioLink send/reopen failure.
type TransportErrorKind struct {
	Err error
}

func (e *TransportErrorKind) Error() string { return fmt.Sprintf("transport: %v", e.Err) }
func (e *TransportErrorKind) Unwrap() error { return e.Err }

// TransportError wraps err as a TransportErrorKind.
func TransportError(err error) error {
	if err == nil {
		return nil
	}
	return &TransportErrorKind{Err: err}
}

// MalformedSyncFrameKind marks a peer-sync frame that failed to parse;
// callers drop it silently, peer sync is best-effort.
type MalformedSyncFrameKind struct {
	Text string
}

func (e *MalformedSyncFrameKind) Error() string {
	return fmt.Sprintf("malformed sync frame: %q", e.Text)
}

// MalformedSyncFrame builds a MalformedSyncFrameKind error.
func MalformedSyncFrame(text string) error {
	return &MalformedSyncFrameKind{Text: text}
}

// PayloadTooBigKind signals a send should retry with a smaller chunk bound.
type PayloadTooBigKind struct {
	Size int
}

func (e *PayloadTooBigKind) Error() string {
	return fmt.Sprintf("payload too big: %d bytes", e.Size)
}

// PayloadTooBig builds a PayloadTooBigKind error.
func PayloadTooBig(size int) error {
	return &PayloadTooBigKind{Size: size}
}
