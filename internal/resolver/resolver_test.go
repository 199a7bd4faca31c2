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

package resolver

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meshbbs/meshbbs/internal/bbserr"
	"github.com/meshbbs/meshbbs/internal/model"
)

func sampleNodes() []model.NodeEntry {
	return []model.NodeEntry{
		{ID: "!11111111", Short: "alice", Long: "Alice's Node"},
		{ID: "!22222222", Short: "bob", Long: "Bob Relay"},
		{ID: "!33333333", Short: "bobby", Long: "Bobby Tables"},
	}
}

func TestResolveCanonicalID(t *testing.T) {
	nodes := sampleNodes()
	got, err := Resolve("!11111111", nodes)
	require.NoError(t, err)
	require.Equal(t, model.NodeId("!11111111"), got.ID)
}

func TestResolveCanonicalIDNotLive(t *testing.T) {
	got, err := Resolve("!deadbeef", sampleNodes())
	require.NoError(t, err)
	require.Equal(t, model.NodeId("!deadbeef"), got.ID)
	require.Empty(t, got.Short)
}

func TestResolveExactShortName(t *testing.T) {
	got, err := Resolve("alice", sampleNodes())
	require.NoError(t, err)
	require.Equal(t, model.NodeId("!11111111"), got.ID)
}

func TestResolveExactShortNameIsCaseInsensitive(t *testing.T) {
	got, err := Resolve("ALICE", sampleNodes())
	require.NoError(t, err)
	require.Equal(t, model.NodeId("!11111111"), got.ID)
}

func TestResolvePrefixUnique(t *testing.T) {
	got, err := Resolve("ali", sampleNodes())
	require.NoError(t, err)
	require.Equal(t, model.NodeId("!11111111"), got.ID)
}

func TestResolveExactWinsOverPrefix(t *testing.T) {
	_, err := Resolve("bob", sampleNodes())
	require.NoError(t, err) // exact match on "bob" wins before prefix tier runs
}

func TestResolveSubstringAmbiguous(t *testing.T) {
	_, err := Resolve("ob", sampleNodes())
	var ambig *bbserr.AmbiguousKind
	require.True(t, errors.As(err, &ambig))
	require.Len(t, ambig.Suggestions, 2)
}

func TestResolveNotFound(t *testing.T) {
	_, err := Resolve("nosuchnode", sampleNodes())
	var nf *bbserr.NotFoundKind
	require.True(t, errors.As(err, &nf))
}

func TestResolveBlankQuery(t *testing.T) {
	_, err := Resolve("   ", sampleNodes())
	var nf *bbserr.NotFoundKind
	require.True(t, errors.As(err, &nf))
}
