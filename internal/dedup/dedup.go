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

// Package dedup implements the two in-memory suppression structures the
// Frame Router consults on every inbound frame: a bounded recent-seen
// packet-id ring, and a short-TTL (from, text) fingerprint cache. Both are
// backed by the same size/TTL-bounded LRU construct.
package dedup

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/meshbbs/meshbbs/internal/model"
)

// SeenRingSize is the bound on the recent-seen packet-id ring.
const SeenRingSize = 256

// FingerprintTTL is the suppression window for the (from, text)
// fingerprint cache.
const FingerprintTTL = 10 * time.Second

// SeenRing tracks recently observed packet ids to suppress duplicate
// delivery from overlapping transports.
type SeenRing struct {
	cache *lru.LRU[string, struct{}]
}

// NewSeenRing builds a SeenRing bounded to SeenRingSize entries.
func NewSeenRing() *SeenRing {
	return &SeenRing{cache: lru.NewLRU[string, struct{}](SeenRingSize, nil, 0)}
}

// SeenBefore reports whether packetID was already observed, recording it
// if not.
func (r *SeenRing) SeenBefore(packetID string) bool {
	if _, ok := r.cache.Get(packetID); ok {
		return true
	}
	r.cache.Add(packetID, struct{}{})
	return false
}

// FingerprintCache suppresses duplicate (from, trimmed-text) pairs for
// FingerprintTTL, to absorb retransmission from overlapping transports.
type FingerprintCache struct {
	cache *lru.LRU[string, struct{}]
}

// NewFingerprintCache builds a FingerprintCache with the spec's 10-second
// suppression window.
func NewFingerprintCache() *FingerprintCache {
	return &FingerprintCache{cache: lru.NewLRU[string, struct{}](4096, nil, FingerprintTTL)}
}

// SeenBefore reports whether (from, text) was seen within the TTL window,
// recording it if not.
func (f *FingerprintCache) SeenBefore(from model.NodeId, text string) bool {
	key := fingerprintKey(from, text)
	if _, ok := f.cache.Get(key); ok {
		return true
	}
	f.cache.Add(key, struct{}{})
	return false
}

func fingerprintKey(from model.NodeId, text string) string {
	return fmt.Sprintf("%s\x00%s", from, text)
}
