// Copyright (C) 2024 Packsmith ApS.
//
// This library is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; version
// 2.1 only.
//
// This library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// The license can be found in the file `LICENSE` in the top level
// directory of this repository.

package direct

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func Test_ManifestSerialize(t *testing.T) {
	m := newManifest()
	m.message = "initial"
	m.put(manifestEntry{LogicalKey: "raw/b.csv", PhysicalKey: "s3://bucket/raw/b.csv", Size: 2, Hash: "hb"})
	m.put(manifestEntry{LogicalKey: "raw/a.csv", PhysicalKey: "s3://bucket/raw/a.csv", Size: 1, Hash: "ha"})

	data, err := m.serialize()
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], `"version":"v0"`)
	assert.Contains(t, lines[0], `"message":"initial"`)
	// Entries are sorted by logical key regardless of insertion order.
	assert.Contains(t, lines[1], `"logical_key":"raw/a.csv"`)
	assert.Contains(t, lines[2], `"logical_key":"raw/b.csv"`)
}

func Test_ManifestRoundtrip(t *testing.T) {
	m := newManifest()
	m.message = "hello"
	m.userMeta = map[string]interface{}{"description": "demo"}
	m.put(manifestEntry{LogicalKey: "a", PhysicalKey: "s3://b/a", Size: 10, Hash: "x"})

	data, err := m.serialize()
	require.NoError(t, err)

	parsed, err := parseManifest(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "hello", parsed.message)
	assert.Equal(t, "demo", parsed.userMeta["description"])
	require.Equal(t, 1, parsed.len())
	assert.Equal(t, "s3://b/a", parsed.byKey["a"].PhysicalKey)
}

func Test_ParseManifestRejects(t *testing.T) {
	t.Run("empty input", func(t *testing.T) {
		_, err := parseManifest(strings.NewReader(""))
		assert.Error(t, err)
	})

	t.Run("unknown version", func(t *testing.T) {
		_, err := parseManifest(strings.NewReader(`{"version":"v9"}` + "\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported manifest version")
	})

	t.Run("garbage entry", func(t *testing.T) {
		_, err := parseManifest(strings.NewReader(`{"version":"v0"}` + "\nnot json\n"))
		assert.Error(t, err)
	})
}

func Test_TopHash(t *testing.T) {
	build := func(message string, size int64) *manifest {
		m := newManifest()
		m.message = message
		m.put(manifestEntry{LogicalKey: "a", PhysicalKey: "s3://b/a", Size: size, Hash: "x"})
		return m
	}

	h1, err := build("m", 1).topHash()
	require.NoError(t, err)
	h2, err := build("m", 1).topHash()
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Regexp(t, "^[0-9a-f]{64}$", h1)

	h3, err := build("m", 2).topHash()
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)

	h4, err := build("other", 1).topHash()
	require.NoError(t, err)
	assert.NotEqual(t, h1, h4)
}

func Test_TopHashOrderIndependent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		keys := rapid.SliceOfNDistinct(
			rapid.StringMatching(`[a-z]{1,8}(/[a-z]{1,8})?`), 1, 8,
			func(s string) string { return s }).Draw(t, "keys")

		forward := newManifest()
		for _, k := range keys {
			forward.put(manifestEntry{LogicalKey: k, PhysicalKey: "s3://b/" + k})
		}
		backward := newManifest()
		for i := len(keys) - 1; i >= 0; i-- {
			backward.put(manifestEntry{LogicalKey: keys[i], PhysicalKey: "s3://b/" + keys[i]})
		}

		h1, err := forward.topHash()
		if err != nil {
			t.Fatal(err)
		}
		h2, err := backward.topHash()
		if err != nil {
			t.Fatal(err)
		}
		if h1 != h2 {
			t.Fatalf("insertion order changed the hash: %s vs %s", h1, h2)
		}
	})
}

func Test_DiffManifests(t *testing.T) {
	left := newManifest()
	left.put(manifestEntry{LogicalKey: "keep", Size: 1, Hash: "same"})
	left.put(manifestEntry{LogicalKey: "gone", Size: 2, Hash: "g"})
	left.put(manifestEntry{LogicalKey: "changed", Size: 3, Hash: "old"})

	right := newManifest()
	right.put(manifestEntry{LogicalKey: "keep", Size: 1, Hash: "same"})
	right.put(manifestEntry{LogicalKey: "changed", Size: 4, Hash: "new"})
	right.put(manifestEntry{LogicalKey: "fresh", Size: 5, Hash: "f"})

	diff := diffManifests(left, right)
	require.Len(t, diff.Added, 1)
	assert.Equal(t, "fresh", diff.Added[0].LogicalKey)
	require.Len(t, diff.Removed, 1)
	assert.Equal(t, "gone", diff.Removed[0].LogicalKey)
	require.Len(t, diff.Modified, 1)
	assert.Equal(t, "changed", diff.Modified[0].LogicalKey)
	assert.Equal(t, "old", diff.Modified[0].OldHash)
	assert.Equal(t, "new", diff.Modified[0].NewHash)
	assert.Equal(t, int64(3), diff.Modified[0].OldSize)
	assert.Equal(t, int64(4), diff.Modified[0].NewSize)
}

func Test_DiffManifestsIdentical(t *testing.T) {
	m := newManifest()
	m.put(manifestEntry{LogicalKey: "a", Size: 1, Hash: "x"})
	diff := diffManifests(m, m)
	assert.Empty(t, diff.Added)
	assert.Empty(t, diff.Removed)
	assert.Empty(t, diff.Modified)
}
