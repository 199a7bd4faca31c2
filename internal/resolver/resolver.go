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

// Package resolver implements the short-name resolution tiers: canonical
// NodeId passthrough, then exact/prefix/substring matching over the live
// node table snapshot.
package resolver

import (
	"regexp"
	"sort"
	"strings"

	"github.com/meshbbs/meshbbs/internal/bbserr"
	"github.com/meshbbs/meshbbs/internal/model"
)

// MaxSuggestions bounds the disambiguation set returned on an ambiguous
// query.
const MaxSuggestions = 6

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

func normalizeShort(s string) string {
	return nonAlnum.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "")
}

// Resolve resolves query against the live node table snapshot nodes,
// applying each tier in order. It returns a
// bbserr.NotFoundKind or bbserr.AmbiguousKind error on failure.
func Resolve(query string, nodes []model.NodeEntry) (model.NodeEntry, error) {
	if id, ok := model.NormalizeNodeID(query); ok {
		for _, n := range nodes {
			if n.ID == id {
				return n, nil
			}
		}
		// A syntactically valid NodeId with no matching live entry is
		// still returned directly; callers needing liveness should check
		// separately.
		return model.NodeEntry{ID: id}, nil
	}

	norm := normalizeShort(query)
	if norm == "" {
		return model.NodeEntry{}, bbserr.NotFound("node", query)
	}

	var exact []model.NodeEntry
	for _, n := range nodes {
		if normalizeShort(n.Short) == norm {
			exact = append(exact, n)
		}
	}
	if len(exact) > 0 {
		sort.Slice(exact, func(i, j int) bool {
			if exact[i].Short != exact[j].Short {
				return exact[i].Short < exact[j].Short
			}
			return exact[i].ID < exact[j].ID
		})
		return exact[0], nil
	}

	var prefix []model.NodeEntry
	for _, n := range nodes {
		if strings.HasPrefix(normalizeShort(n.Short), norm) {
			prefix = append(prefix, n)
		}
	}
	if len(prefix) == 1 {
		return prefix[0], nil
	}
	if len(prefix) > 1 {
		return model.NodeEntry{}, ambiguous(query, prefix)
	}

	var contains []model.NodeEntry
	for _, n := range nodes {
		if strings.Contains(normalizeShort(n.Short), norm) || strings.Contains(normalizeShort(n.Long), norm) {
			contains = append(contains, n)
		}
	}
	if len(contains) == 1 {
		return contains[0], nil
	}
	if len(contains) > 1 {
		return model.NodeEntry{}, ambiguous(query, contains)
	}

	return model.NodeEntry{}, bbserr.NotFound("node", query)
}

func ambiguous(query string, candidates []model.NodeEntry) error {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Short != candidates[j].Short {
			return candidates[i].Short < candidates[j].Short
		}
		return candidates[i].ID < candidates[j].ID
	})
	var suggestions []string
	for i, c := range candidates {
		if i >= MaxSuggestions {
			break
		}
		suggestions = append(suggestions, string(c.Short)+"/"+string(c.ID))
	}
	return bbserr.Ambiguous(query, suggestions)
}
