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
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/packsmith/ppkg/pkg/ppkg"
)

// manifestVersion is written into every manifest header. Parsers reject
// anything else.
const manifestVersion = "v0"

// manifestHeader is the first line of a serialized manifest.
type manifestHeader struct {
	Version  string                 `json:"version"`
	Message  string                 `json:"message,omitempty"`
	UserMeta map[string]interface{} `json:"user_meta,omitempty"`
}

// manifestEntry is one line of a serialized manifest.
type manifestEntry struct {
	LogicalKey  string                 `json:"logical_key"`
	PhysicalKey string                 `json:"physical_key"`
	Size        int64                  `json:"size"`
	Hash        string                 `json:"hash,omitempty"`
	Meta        map[string]interface{} `json:"meta,omitempty"`
}

// manifest is an in-memory package manifest. It doubles as the build
// state of an in-progress revision: entries are added one by one and the
// result is serialized on push.
type manifest struct {
	message  string
	userMeta map[string]interface{}
	byKey    map[string]manifestEntry
}

func newManifest() *manifest {
	return &manifest{
		byKey: map[string]manifestEntry{},
	}
}

// put records an entry. Re-putting a logical key replaces the previous
// entry, which is what gives flattening its last-wins semantics.
func (m *manifest) put(e manifestEntry) {
	m.byKey[e.LogicalKey] = e
}

func (m *manifest) len() int {
	return len(m.byKey)
}

// sortedEntries returns the entries ordered by logical key. The order is
// part of the canonical serialization, so it must be deterministic.
func (m *manifest) sortedEntries() []manifestEntry {
	keys := make([]string, 0, len(m.byKey))
	for k := range m.byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	entries := make([]manifestEntry, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, m.byKey[k])
	}
	return entries
}

// serialize writes the manifest in its canonical form: one JSON document
// per line, header first, entries sorted by logical key.
func (m *manifest) serialize() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	header := manifestHeader{
		Version:  manifestVersion,
		Message:  m.message,
		UserMeta: m.userMeta,
	}
	if err := enc.Encode(header); err != nil {
		return nil, err
	}
	for _, e := range m.sortedEntries() {
		if err := enc.Encode(e); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// topHash computes the revision hash: SHA-256 over the canonical
// serialization, hex encoded. Equal manifests always hash equal.
func (m *manifest) topHash() (string, error) {
	data, err := m.serialize()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// parseManifest reads a serialized manifest.
func parseManifest(r io.Reader) (*manifest, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("empty manifest")
	}
	var header manifestHeader
	if err := json.Unmarshal(scanner.Bytes(), &header); err != nil {
		return nil, fmt.Errorf("bad manifest header: %w", err)
	}
	if header.Version != manifestVersion {
		return nil, fmt.Errorf("unsupported manifest version '%s'", header.Version)
	}

	m := newManifest()
	m.message = header.Message
	m.userMeta = header.UserMeta
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e manifestEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return nil, fmt.Errorf("bad manifest entry: %w", err)
		}
		m.put(e)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return m, nil
}

// diffManifests compares two manifests entry by entry.
func diffManifests(left *manifest, right *manifest) *ppkg.RawDiff {
	diff := &ppkg.RawDiff{}

	for _, e := range right.sortedEntries() {
		old, ok := left.byKey[e.LogicalKey]
		if !ok {
			diff.Added = append(diff.Added, rawEntry(e))
			continue
		}
		if old.Hash != e.Hash || old.Size != e.Size {
			diff.Modified = append(diff.Modified, ppkg.RawModified{
				LogicalKey: e.LogicalKey,
				OldHash:    old.Hash,
				NewHash:    e.Hash,
				OldSize:    old.Size,
				NewSize:    e.Size,
			})
		}
	}
	for _, e := range left.sortedEntries() {
		if _, ok := right.byKey[e.LogicalKey]; !ok {
			diff.Removed = append(diff.Removed, rawEntry(e))
		}
	}
	return diff
}

func rawEntry(e manifestEntry) ppkg.RawEntry {
	return ppkg.RawEntry{
		LogicalKey:  e.LogicalKey,
		PhysicalKey: e.PhysicalKey,
		Size:        e.Size,
		Hash:        e.Hash,
		Meta:        e.Meta,
	}
}

// totalSize sums the entry sizes.
func (m *manifest) totalSize() int64 {
	var total int64
	for _, e := range m.byKey {
		total += e.Size
	}
	return total
}
