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

// Package radio declares the RadioLink contract consumed by the core. The
// physical serial transport, USB enumeration, and device-protocol framing
// live below this abstraction; this package only defines the boundary the
// core programs against, plus a normalized view of the transport's live
// node table.
package radio

import (
	"context"

	"github.com/meshbbs/meshbbs/internal/model"
)

// InboundHandler is invoked once per inbound text frame.
type InboundHandler func(from model.NodeId, channelIndex int, packetID *string, text *string)

// Link is the external RadioLink contract. Implementations may block on
// Send while the transport drains; transport errors are returned to the
// caller, who treats them as a reconnect hint rather than surfacing them
// to the user except inside a synchronous admin command.
type Link interface {
	// Send transmits text. A nil destination means broadcast on the
	// primary channel.
	Send(ctx context.Context, destination *model.NodeId, channelIndex int, text string) error

	// Nodes returns a snapshot of the currently known mesh nodes.
	Nodes() []model.NodeEntry

	// OnInbound registers the single handler invoked for every inbound
	// text frame. Only one handler is ever active; registering a new one
	// replaces the previous.
	OnInbound(handler InboundHandler)

	// Close releases the underlying transport.
	Close() error

	// Reopen re-establishes the transport against the first available
	// candidate.
	Reopen(ctx context.Context) error
}

// AckCapable is an optional Link capability for transports that surface
// per-message delivery acknowledgements. SendTracked transmits text tagged
// with messageID so a later ack can be correlated to it; the single handler
// registered via OnAck receives that messageID when the ack arrives.
// Callers discover the capability with a type assertion and fall back to
// plain Send when it is absent.
type AckCapable interface {
	SendTracked(ctx context.Context, destination *model.NodeId, channelIndex int, text, messageID string) error

	// OnAck registers the handler invoked for every delivery ack. Only one
	// handler is ever active; registering a new one replaces the previous.
	OnAck(handler func(messageID string))
}
