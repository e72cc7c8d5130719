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

package ppkg

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockHandle is what the mock backend hands out.
type mockHandle struct {
	entries map[string]RawEntry
	order   []string
	meta    map[string]interface{}
}

func newMockHandle() *mockHandle {
	return &mockHandle{entries: map[string]RawEntry{}}
}

func (h *mockHandle) put(e RawEntry) {
	if _, ok := h.entries[e.LogicalKey]; !ok {
		h.order = append(h.order, e.LogicalKey)
	}
	h.entries[e.LogicalKey] = e
}

// mockBackend counts every primitive call and returns canned results.
type mockBackend struct {
	createCalls int
	addCalls    int
	metaCalls   int
	pushCalls   int
	getCalls    int
	searchCalls int
	browseCalls int
	diffCalls   int

	addedKeys []string

	pushHash string
	pushErr  error
	getErr   error

	existing *mockHandle
	rawDiff  *RawDiff
	rawHits  []RawHit

	lastPushName     string
	lastPushRegistry string
	lastPushMessage  string
	lastPushCopy     bool
}

func newMockBackend() *mockBackend {
	return &mockBackend{pushHash: "feedface"}
}

func (b *mockBackend) CreateEmptyPackage(ctx context.Context) (PackageHandle, error) {
	b.createCalls++
	return newMockHandle(), nil
}

func (b *mockBackend) AddFileToPackage(ctx context.Context, handle PackageHandle, sourceURI string, logicalKey string) error {
	b.addCalls++
	b.addedKeys = append(b.addedKeys, logicalKey)
	handle.(*mockHandle).put(RawEntry{LogicalKey: logicalKey, PhysicalKey: sourceURI})
	return nil
}

func (b *mockBackend) SetPackageMetadata(ctx context.Context, handle PackageHandle, metadata map[string]interface{}) error {
	b.metaCalls++
	if metadata != nil {
		handle.(*mockHandle).meta = metadata
	}
	return nil
}

func (b *mockBackend) PushPackage(ctx context.Context, handle PackageHandle, name string, registry string, message string, copyMode bool) (string, error) {
	b.pushCalls++
	b.lastPushName = name
	b.lastPushRegistry = registry
	b.lastPushMessage = message
	b.lastPushCopy = copyMode
	if b.pushErr != nil {
		return "", b.pushErr
	}
	return b.pushHash, nil
}

func (b *mockBackend) GetPackage(ctx context.Context, name string, registry string, ref string) (PackageHandle, error) {
	b.getCalls++
	if b.getErr != nil {
		return nil, b.getErr
	}
	if b.existing != nil {
		return b.existing, nil
	}
	return newMockHandle(), nil
}

func (b *mockBackend) SearchPackages(ctx context.Context, query string, registry string) ([]RawHit, error) {
	b.searchCalls++
	return b.rawHits, nil
}

func (b *mockBackend) BrowseContent(ctx context.Context, handle PackageHandle, pathPrefix string) ([]RawEntry, error) {
	b.browseCalls++
	h := handle.(*mockHandle)
	var entries []RawEntry
	for _, key := range h.order {
		entries = append(entries, h.entries[key])
	}
	return entries, nil
}

func (b *mockBackend) DiffPackages(ctx context.Context, left PackageHandle, right PackageHandle) (*RawDiff, error) {
	b.diffCalls++
	if b.rawDiff != nil {
		return b.rawDiff, nil
	}
	return &RawDiff{}, nil
}

func (b *mockBackend) totalCalls() int {
	return b.createCalls + b.addCalls + b.metaCalls + b.pushCalls +
		b.getCalls + b.searchCalls + b.browseCalls + b.diffCalls
}

var _ Backend = (*mockBackend)(nil)

func Test_CreateRevision(t *testing.T) {
	ctx := context.Background()

	t.Run("happy path", func(t *testing.T) {
		backend := newMockBackend()
		ops := NewOps(backend)

		result, err := ops.CreateRevision(ctx, RevisionOptions{
			Name:         "team/demo",
			SourceURIs:   []string{"s3://bucket/raw/a.csv", "s3://bucket/raw/b.csv"},
			Registry:     "bucket",
			Metadata:     map[string]interface{}{"source": "ingest"},
			Message:      "initial",
			AutoOrganize: true,
		})
		require.NoError(t, err)

		assert.Equal(t, "team/demo", result.PackageName)
		assert.Equal(t, "s3://bucket", result.Registry)
		assert.Equal(t, "feedface", result.TopHash)
		assert.Equal(t, 2, result.FilesAdded)
		assert.Equal(t, DefaultCatalogBase+"/b/bucket/packages/team/demo/tree/feedface", result.CatalogURL)
		assert.Empty(t, result.Warnings)

		assert.Equal(t, 1, backend.createCalls)
		assert.Equal(t, 2, backend.addCalls)
		assert.Equal(t, 1, backend.metaCalls)
		assert.Equal(t, 1, backend.pushCalls)
		assert.Equal(t, "s3://bucket", backend.lastPushRegistry)
		assert.Equal(t, "initial", backend.lastPushMessage)
	})

	t.Run("auto-organize logical keys", func(t *testing.T) {
		backend := newMockBackend()
		ops := NewOps(backend)

		_, err := ops.CreateRevision(ctx, RevisionOptions{
			Name:         "team/demo",
			SourceURIs:   []string{"s3://bucket/raw/a.csv", "s3://bucket/raw/b.csv"},
			Registry:     "bucket",
			AutoOrganize: true,
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"raw/a.csv", "raw/b.csv"}, backend.addedKeys)
	})

	t.Run("invalid name fails fast with zero backend calls", func(t *testing.T) {
		backend := newMockBackend()
		ops := NewOps(backend)

		_, err := ops.CreateRevision(ctx, RevisionOptions{
			Name:       "not-a-package",
			SourceURIs: []string{"s3://bucket/a.csv"},
			Registry:   "bucket",
		})
		require.Error(t, err)
		assert.True(t, IsKind(err, KindValidation))
		assert.Equal(t, 0, backend.totalCalls())
	})

	t.Run("invalid URI fails fast with zero backend calls", func(t *testing.T) {
		backend := newMockBackend()
		ops := NewOps(backend)

		_, err := ops.CreateRevision(ctx, RevisionOptions{
			Name:       "team/demo",
			SourceURIs: []string{"ftp://bucket/a.csv"},
			Registry:   "bucket",
		})
		require.Error(t, err)
		assert.True(t, IsKind(err, KindValidation))
		assert.Equal(t, 0, backend.totalCalls())
	})

	t.Run("empty registry fails fast with zero backend calls", func(t *testing.T) {
		backend := newMockBackend()
		ops := NewOps(backend)

		_, err := ops.CreateRevision(ctx, RevisionOptions{
			Name:       "team/demo",
			SourceURIs: []string{"s3://bucket/a.csv"},
			Registry:   "",
		})
		require.Error(t, err)
		assert.True(t, IsKind(err, KindValidation))
		assert.Equal(t, 0, backend.totalCalls())
	})

	t.Run("flatten collision counts unique keys and warns", func(t *testing.T) {
		backend := newMockBackend()
		ops := NewOps(backend)

		result, err := ops.CreateRevision(ctx, RevisionOptions{
			Name: "team/demo",
			SourceURIs: []string{
				"s3://bucket/one/x.csv",
				"s3://bucket/two/x.csv",
				"s3://bucket/one/y.csv",
			},
			Registry:     "bucket",
			AutoOrganize: false,
		})
		require.NoError(t, err)
		assert.Equal(t, 2, result.FilesAdded)
		require.Len(t, result.Warnings, 1)
		// All three adds happen in input order; the backend's manifest
		// resolves the collision with last-wins.
		assert.Equal(t, 3, backend.addCalls)
	})

	t.Run("empty push hash is a backend error", func(t *testing.T) {
		backend := newMockBackend()
		backend.pushHash = ""
		ops := NewOps(backend)

		_, err := ops.CreateRevision(ctx, RevisionOptions{
			Name:       "team/demo",
			SourceURIs: []string{"s3://bucket/a.csv"},
			Registry:   "bucket",
		})
		require.Error(t, err)
		assert.True(t, IsKind(err, KindBackend))
	})

	t.Run("backend errors keep their kind and gain context", func(t *testing.T) {
		backend := newMockBackend()
		backend.pushErr = NewError(KindConflict, "concurrent push")
		ops := NewOps(backend)

		_, err := ops.CreateRevision(ctx, RevisionOptions{
			Name:       "team/demo",
			SourceURIs: []string{"s3://bucket/a.csv"},
			Registry:   "bucket",
		})
		require.Error(t, err)
		assert.True(t, IsKind(err, KindConflict))
		var opErr *Error
		require.ErrorAs(t, err, &opErr)
		assert.Equal(t, "team/demo", opErr.Package)
		assert.Equal(t, "s3://bucket", opErr.Registry)
	})
}

func Test_UpdateRevision(t *testing.T) {
	ctx := context.Background()

	t.Run("merges onto the existing manifest", func(t *testing.T) {
		backend := newMockBackend()
		existing := newMockHandle()
		existing.put(RawEntry{LogicalKey: "raw/a.csv", PhysicalKey: "s3://bucket/raw/a.csv"})
		existing.put(RawEntry{LogicalKey: "raw/b.csv", PhysicalKey: "s3://bucket/raw/b.csv"})
		backend.existing = existing
		ops := NewOps(backend)

		result, err := ops.UpdateRevision(ctx, RevisionOptions{
			Name:         "team/demo",
			SourceURIs:   []string{"s3://bucket/raw/c.csv"},
			Registry:     "bucket",
			AutoOrganize: true,
		})
		require.NoError(t, err)
		assert.Equal(t, 1, result.FilesAdded)
		assert.Equal(t, 1, backend.getCalls)
		assert.Equal(t, 0, backend.createCalls)

		// Previous keys untouched, one new key added.
		assert.Len(t, existing.entries, 3)
		assert.Contains(t, existing.entries, "raw/a.csv")
		assert.Contains(t, existing.entries, "raw/b.csv")
		assert.Contains(t, existing.entries, "raw/c.csv")
	})

	t.Run("missing package surfaces as not-found", func(t *testing.T) {
		backend := newMockBackend()
		backend.getErr = NewError(KindNotFound, "no such package")
		ops := NewOps(backend)

		_, err := ops.UpdateRevision(ctx, RevisionOptions{
			Name:       "team/demo",
			SourceURIs: []string{"s3://bucket/a.csv"},
			Registry:   "bucket",
		})
		require.Error(t, err)
		assert.True(t, IsKind(err, KindNotFound))
		assert.Equal(t, 0, backend.addCalls)
		assert.Equal(t, 0, backend.pushCalls)
	})
}

func Test_DiffRevisions(t *testing.T) {
	ctx := context.Background()

	t.Run("same ref yields empty diff", func(t *testing.T) {
		backend := newMockBackend()
		ops := NewOps(backend)

		diff, err := ops.DiffRevisions(ctx, "team/demo", "bucket", "feedface", "feedface")
		require.NoError(t, err)
		assert.True(t, diff.Empty())
		assert.Equal(t, 2, backend.getCalls)
		assert.Equal(t, 1, backend.diffCalls)
	})

	t.Run("one removed, one modified", func(t *testing.T) {
		backend := newMockBackend()
		backend.rawDiff = &RawDiff{
			Removed: []RawEntry{{LogicalKey: "raw/b.csv", Hash: "oldb"}},
			Modified: []RawModified{
				{LogicalKey: "raw/a.csv", OldHash: "olda", NewHash: "newa"},
			},
		}
		ops := NewOps(backend)

		diff, err := ops.DiffRevisions(ctx, "team/demo", "bucket", "h1", "h2")
		require.NoError(t, err)
		assert.Empty(t, diff.Added)
		require.Len(t, diff.Removed, 1)
		require.Len(t, diff.Modified, 1)
		assert.Equal(t, "raw/b.csv", diff.Removed[0].LogicalKey)
		assert.NotEqual(t, diff.Modified[0].OldHash, diff.Modified[0].NewHash)
	})

	t.Run("added plus removed of one key collapses to modified", func(t *testing.T) {
		backend := newMockBackend()
		backend.rawDiff = &RawDiff{
			Added:   []RawEntry{{LogicalKey: "raw/a.csv", Hash: "new"}},
			Removed: []RawEntry{{LogicalKey: "raw/a.csv", Hash: "old"}},
		}
		ops := NewOps(backend)

		diff, err := ops.DiffRevisions(ctx, "team/demo", "bucket", "h1", "h2")
		require.NoError(t, err)
		assert.Empty(t, diff.Added)
		assert.Empty(t, diff.Removed)
		require.Len(t, diff.Modified, 1)
		assert.Equal(t, "old", diff.Modified[0].OldHash)
		assert.Equal(t, "new", diff.Modified[0].NewHash)
	})

	t.Run("removed keys are cleaned", func(t *testing.T) {
		backend := newMockBackend()
		backend.rawDiff = &RawDiff{
			Removed: []RawEntry{{LogicalKey: "/raw/x.csv", Hash: "hx"}},
		}
		ops := NewOps(backend)

		diff, err := ops.DiffRevisions(ctx, "team/demo", "bucket", "h1", "h2")
		require.NoError(t, err)
		require.Len(t, diff.Removed, 1)
		assert.Equal(t, "raw/x.csv", diff.Removed[0].LogicalKey)
	})

	t.Run("a key never lands in two lists", func(t *testing.T) {
		backend := newMockBackend()
		backend.rawDiff = &RawDiff{
			Added:    []RawEntry{{LogicalKey: "k", Hash: "n"}},
			Removed:  []RawEntry{{LogicalKey: "k", Hash: "o"}},
			Modified: []RawModified{{LogicalKey: "k", OldHash: "o", NewHash: "n"}},
		}
		ops := NewOps(backend)

		diff, err := ops.DiffRevisions(ctx, "team/demo", "bucket", "h1", "h2")
		require.NoError(t, err)
		total := len(diff.Added) + len(diff.Removed) + len(diff.Modified)
		assert.Equal(t, 1, total)
	})

	t.Run("invalid name performs zero backend calls", func(t *testing.T) {
		backend := newMockBackend()
		ops := NewOps(backend)

		_, err := ops.DiffRevisions(ctx, "bad name", "bucket", "h1", "h2")
		require.Error(t, err)
		assert.True(t, IsKind(err, KindValidation))
		assert.Equal(t, 0, backend.totalCalls())
	})
}

func Test_BrowseContent(t *testing.T) {
	ctx := context.Background()

	t.Run("maps raw entries", func(t *testing.T) {
		backend := newMockBackend()
		existing := newMockHandle()
		existing.put(RawEntry{LogicalKey: "raw/a.csv", PhysicalKey: "s3://bucket/raw/a.csv", Size: 10, Hash: "ha"})
		// A sloppy backend may report keys with a leading slash; the
		// orchestrator cleans them.
		existing.put(RawEntry{LogicalKey: "/raw/b.csv", PhysicalKey: "s3://bucket/raw/b.csv", Size: 20, Hash: "hb"})
		backend.existing = existing
		ops := NewOps(backend)

		entries, err := ops.BrowseContent(ctx, "team/demo", "bucket", "", "")
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "raw/a.csv", entries[0].LogicalKey)
		assert.Equal(t, "raw/b.csv", entries[1].LogicalKey)
		assert.Equal(t, int64(20), entries[1].SizeBytes)
	})

	t.Run("invalid name performs zero backend calls", func(t *testing.T) {
		backend := newMockBackend()
		ops := NewOps(backend)

		_, err := ops.BrowseContent(ctx, "nope", "bucket", "", "")
		require.Error(t, err)
		assert.Equal(t, 0, backend.totalCalls())
	})
}

func Test_SearchPackages(t *testing.T) {
	ctx := context.Background()

	t.Run("maps raw hits", func(t *testing.T) {
		backend := newMockBackend()
		backend.rawHits = []RawHit{
			{Name: "team/demo", Registry: "bucket", TopHash: "feedface", Tag: "latest", EntryCount: 2, Size: 30},
		}
		ops := NewOps(backend)

		infos, err := ops.SearchPackages(ctx, "demo", "bucket")
		require.NoError(t, err)
		require.Len(t, infos, 1)
		assert.Equal(t, "team/demo", infos[0].Name)
		assert.Equal(t, "s3://bucket", infos[0].Registry)
		assert.Equal(t, "feedface", infos[0].TopHash)
		assert.Equal(t, 2, infos[0].EntryCount)
	})

	t.Run("empty registry is allowed", func(t *testing.T) {
		backend := newMockBackend()
		ops := NewOps(backend)

		_, err := ops.SearchPackages(ctx, "demo", "")
		require.NoError(t, err)
		assert.Equal(t, 1, backend.searchCalls)
	})

	t.Run("bad registry fails fast", func(t *testing.T) {
		backend := newMockBackend()
		ops := NewOps(backend)

		_, err := ops.SearchPackages(ctx, "demo", "s3://")
		require.Error(t, err)
		assert.True(t, IsKind(err, KindValidation))
		assert.Equal(t, 0, backend.totalCalls())
	})
}
