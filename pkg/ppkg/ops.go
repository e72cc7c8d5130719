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

	"github.com/packsmith/ppkg/pkg/set"
)

// Ops serves as entry point for all package operations.
// Every workflow follows the same shape: validate the inputs, transform
// them, invoke backend primitives in a fixed order, assemble a domain
// result. Ops holds no state between calls and is safe for concurrent use
// as long as the injected backend is.
//
// Use NewOps to create one.
type Ops struct {
	backend Backend
}

// NewOps returns an Ops driving the given backend.
func NewOps(backend Backend) *Ops {
	return &Ops{backend: backend}
}

// RevisionOptions are the inputs of CreateRevision and UpdateRevision.
type RevisionOptions struct {
	// Name of the package, `namespace/name` form.
	Name string
	// SourceURIs of the objects to add, in order.
	SourceURIs []string
	// Registry to push to; any accepted spelling.
	Registry string
	// Metadata attached to the package revision. May be nil.
	Metadata map[string]interface{}
	// Message is the commit message of the revision.
	Message string
	// AutoOrganize keeps directory structure for logical keys; when
	// false keys are flattened to basenames.
	AutoOrganize bool
	// CopyMode copies object bytes into the registry instead of
	// referencing them in place.
	CopyMode bool
}

// CreateRevision builds and pushes a new package revision from source
// URIs. From the caller's perspective the operation is atomic: either a
// single pushed revision exists afterwards, or none does.
func (o *Ops) CreateRevision(ctx context.Context, opts RevisionOptions) (*CreateResult, error) {
	registry, err := o.validateRevisionInputs(opts)
	if err != nil {
		return nil, err
	}

	handle, err := o.backend.CreateEmptyPackage(ctx)
	if err != nil {
		return nil, withContext(err, opts.Name, registry)
	}
	return o.fillAndPush(ctx, handle, opts, registry)
}

// UpdateRevision merges new entries and metadata onto the current
// revision of an existing package and pushes the result.
func (o *Ops) UpdateRevision(ctx context.Context, opts RevisionOptions) (*CreateResult, error) {
	registry, err := o.validateRevisionInputs(opts)
	if err != nil {
		return nil, err
	}

	handle, err := o.backend.GetPackage(ctx, opts.Name, registry, "")
	if err != nil {
		return nil, withContext(err, opts.Name, registry)
	}
	return o.fillAndPush(ctx, handle, opts, registry)
}

func (o *Ops) validateRevisionInputs(opts RevisionOptions) (string, error) {
	if err := ValidatePackageName(opts.Name); err != nil {
		return "", err
	}
	if err := ValidateSourceURIs(opts.SourceURIs); err != nil {
		return "", err
	}
	if err := ValidateRegistry(opts.Registry); err != nil {
		return "", err
	}
	return NormalizeRegistry(opts.Registry), nil
}

// fillAndPush is the shared tail of create and update: add entries in
// input order, set metadata, push, assemble the result.
func (o *Ops) fillAndPush(ctx context.Context, handle PackageHandle, opts RevisionOptions, registry string) (*CreateResult, error) {
	keyed, warnings := LogicalKeys(opts.SourceURIs, opts.AutoOrganize)

	added := set.String{}
	for _, ku := range keyed {
		if err := o.backend.AddFileToPackage(ctx, handle, ku.SourceURI, ku.LogicalKey); err != nil {
			return nil, withContext(err, opts.Name, registry)
		}
		added.Add(ku.LogicalKey)
	}

	if err := o.backend.SetPackageMetadata(ctx, handle, opts.Metadata); err != nil {
		return nil, withContext(err, opts.Name, registry)
	}

	topHash, err := o.backend.PushPackage(ctx, handle, opts.Name, registry, opts.Message, opts.CopyMode)
	if err != nil {
		return nil, withContext(err, opts.Name, registry)
	}
	if topHash == "" {
		return nil, withContext(NewError(KindBackend, "backend returned an empty top hash"), opts.Name, registry)
	}

	bucket := BucketFromRegistry(registry)
	return &CreateResult{
		PackageName: opts.Name,
		Registry:    registry,
		TopHash:     topHash,
		CatalogURL:  BuildCatalogURL(registry, bucket, topHash, opts.Name),
		FilesAdded:  len(added),
		Warnings:    warnings,
	}, nil
}

// DiffRevisions compares two revisions of a package. Each ref may be a
// top hash, a tag, or empty for the default tag.
func (o *Ops) DiffRevisions(ctx context.Context, name string, registry string, leftRef string, rightRef string) (*PackageDiff, error) {
	if err := ValidatePackageName(name); err != nil {
		return nil, err
	}
	if err := ValidateRegistry(registry); err != nil {
		return nil, err
	}
	registry = NormalizeRegistry(registry)

	left, err := o.backend.GetPackage(ctx, name, registry, leftRef)
	if err != nil {
		return nil, withContext(err, name, registry)
	}
	right, err := o.backend.GetPackage(ctx, name, registry, rightRef)
	if err != nil {
		return nil, withContext(err, name, registry)
	}
	raw, err := o.backend.DiffPackages(ctx, left, right)
	if err != nil {
		return nil, withContext(err, name, registry)
	}
	diff, err := normalizeDiff(raw)
	if err != nil {
		return nil, withContext(err, name, registry)
	}
	return diff, nil
}

// normalizeDiff maps a backend diff to the domain shape and enforces that
// a logical key lands in at most one list. A key a backend reports as
// both added and removed collapses into a single modified record.
func normalizeDiff(raw *RawDiff) (*PackageDiff, error) {
	if raw == nil {
		return &PackageDiff{}, nil
	}

	removedByKey := map[string]RawEntry{}
	for _, e := range raw.Removed {
		key, err := CleanLogicalKey(e.LogicalKey)
		if err != nil {
			return nil, err
		}
		e.LogicalKey = key
		removedByKey[key] = e
	}

	diff := &PackageDiff{}
	seen := set.String{}

	for _, m := range raw.Modified {
		key, err := CleanLogicalKey(m.LogicalKey)
		if err != nil {
			return nil, err
		}
		if seen.Contains(key) {
			continue
		}
		seen.Add(key)
		delete(removedByKey, key)
		diff.Modified = append(diff.Modified, ModifiedEntry{
			LogicalKey: key,
			OldHash:    m.OldHash,
			NewHash:    m.NewHash,
			OldSize:    m.OldSize,
			NewSize:    m.NewSize,
		})
	}

	for _, e := range raw.Added {
		key, err := CleanLogicalKey(e.LogicalKey)
		if err != nil {
			return nil, err
		}
		if seen.Contains(key) {
			continue
		}
		if old, ok := removedByKey[key]; ok {
			seen.Add(key)
			delete(removedByKey, key)
			diff.Modified = append(diff.Modified, ModifiedEntry{
				LogicalKey: key,
				OldHash:    old.Hash,
				NewHash:    e.Hash,
				OldSize:    old.Size,
				NewSize:    e.Size,
			})
			continue
		}
		seen.Add(key)
		diff.Added = append(diff.Added, rawToContentEntry(e))
	}

	// Emit remaining removals in the backend's order.
	for _, e := range raw.Removed {
		key, err := CleanLogicalKey(e.LogicalKey)
		if err != nil {
			return nil, err
		}
		if _, ok := removedByKey[key]; !ok || seen.Contains(key) {
			continue
		}
		seen.Add(key)
		e.LogicalKey = key
		diff.Removed = append(diff.Removed, rawToContentEntry(e))
	}
	return diff, nil
}

// BrowseContent lists the entries of one revision, optionally restricted
// to a path prefix.
func (o *Ops) BrowseContent(ctx context.Context, name string, registry string, ref string, pathPrefix string) ([]ContentEntry, error) {
	if err := ValidatePackageName(name); err != nil {
		return nil, err
	}
	if err := ValidateRegistry(registry); err != nil {
		return nil, err
	}
	registry = NormalizeRegistry(registry)

	handle, err := o.backend.GetPackage(ctx, name, registry, ref)
	if err != nil {
		return nil, withContext(err, name, registry)
	}
	raw, err := o.backend.BrowseContent(ctx, handle, pathPrefix)
	if err != nil {
		return nil, withContext(err, name, registry)
	}

	entries := make([]ContentEntry, 0, len(raw))
	for _, e := range raw {
		key, err := CleanLogicalKey(e.LogicalKey)
		if err != nil {
			return nil, withContext(err, name, registry)
		}
		e.LogicalKey = key
		entries = append(entries, rawToContentEntry(e))
	}
	return entries, nil
}

// SearchPackages finds packages matching query. With an empty registry
// the backend searches its default scope.
func (o *Ops) SearchPackages(ctx context.Context, query string, registry string) ([]PackageInfo, error) {
	if registry != "" {
		if err := ValidateRegistry(registry); err != nil {
			return nil, err
		}
		registry = NormalizeRegistry(registry)
	}

	hits, err := o.backend.SearchPackages(ctx, query, registry)
	if err != nil {
		return nil, withContext(err, "", registry)
	}

	infos := make([]PackageInfo, 0, len(hits))
	for _, h := range hits {
		infos = append(infos, PackageInfo{
			Name:         h.Name,
			Registry:     NormalizeRegistry(h.Registry),
			TopHash:      h.TopHash,
			Tag:          h.Tag,
			Description:  h.Description,
			Metadata:     h.Meta,
			EntryCount:   h.EntryCount,
			SizeBytes:    h.Size,
			LastModified: h.LastModified,
		})
	}
	return infos, nil
}

func rawToContentEntry(e RawEntry) ContentEntry {
	return ContentEntry{
		LogicalKey:  e.LogicalKey,
		PhysicalKey: e.PhysicalKey,
		SizeBytes:   e.Size,
		ContentHash: e.Hash,
		Metadata:    e.Meta,
	}
}
