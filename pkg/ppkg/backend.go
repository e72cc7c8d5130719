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
	"time"
)

// PackageHandle is an opaque in-progress or resolved package. It is owned
// by the backend that produced it for the duration of one workflow call;
// the orchestrator only threads it through primitive calls in sequence
// and never inspects its contents.
type PackageHandle interface{}

// RawEntry is the backend-native shape of one manifest entry, before the
// orchestrator maps it to a ContentEntry.
type RawEntry struct {
	LogicalKey  string
	PhysicalKey string
	Size        int64
	Hash        string
	Meta        map[string]interface{}
}

// RawModified is a backend-reported content change of one logical key.
type RawModified struct {
	LogicalKey string
	OldHash    string
	NewHash    string
	OldSize    int64
	NewSize    int64
}

// RawDiff is the unnormalized diff between two revisions as a backend
// reports it. The orchestrator enforces the one-list-per-key invariant.
type RawDiff struct {
	Added    []RawEntry
	Removed  []RawEntry
	Modified []RawModified
}

// RawHit is one backend-native search result.
type RawHit struct {
	Name         string
	Registry     string
	TopHash      string
	Tag          string
	Description  string
	Meta         map[string]interface{}
	EntryCount   int
	Size         int64
	LastModified time.Time
}

// Backend is the set of atomic package primitives each concrete backend
// provides. Implementations execute exactly one step per call: no
// cross-step orchestration, no business-rule validation (that has already
// happened in the orchestrator by the time a primitive runs).
//
// Implementations must not leak backend-native error types; failures are
// returned either as *Error values where the backend can classify them
// (not-found, permission, conflict) or as plain errors that the
// orchestrator wraps as KindBackend.
type Backend interface {
	// CreateEmptyPackage starts a new manifest build.
	CreateEmptyPackage(ctx context.Context) (PackageHandle, error)

	// AddFileToPackage records sourceURI under logicalKey in the handle's
	// manifest. Adding an existing logical key replaces the entry.
	AddFileToPackage(ctx context.Context, handle PackageHandle, sourceURI string, logicalKey string) error

	// SetPackageMetadata attaches package-level metadata to the handle.
	// A nil metadata map is a no-op.
	SetPackageMetadata(ctx context.Context, handle PackageHandle, metadata map[string]interface{}) error

	// PushPackage publishes the handle's manifest as a new revision of
	// name in registry and returns the revision's top hash.
	//
	// The returned value must be a plain string. If the underlying system
	// yields a richer object carrying the hash as a field, the backend is
	// responsible for extracting the string before returning.
	PushPackage(ctx context.Context, handle PackageHandle, name string, registry string, message string, copyMode bool) (string, error)

	// GetPackage resolves an existing revision. ref may be a top hash, a
	// tag, or empty for the default tag.
	GetPackage(ctx context.Context, name string, registry string, ref string) (PackageHandle, error)

	// SearchPackages returns packages in registry matching query.
	SearchPackages(ctx context.Context, query string, registry string) ([]RawHit, error)

	// BrowseContent lists the handle's manifest entries under pathPrefix.
	BrowseContent(ctx context.Context, handle PackageHandle, pathPrefix string) ([]RawEntry, error)

	// DiffPackages compares two resolved revisions.
	DiffPackages(ctx context.Context, left PackageHandle, right PackageHandle) (*RawDiff, error)
}
