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

import "time"

// PackageInfo describes one package revision.
// Instances are projections built fresh on every call; they are never
// cached or mutated by this package.
type PackageInfo struct {
	// Name of the package, always in `namespace/name` form.
	Name string `json:"name" yaml:"name"`
	// Registry in normalized form.
	Registry string `json:"registry" yaml:"registry"`
	// TopHash is the manifest content hash of this revision.
	TopHash string `json:"top_hash" yaml:"top_hash"`
	// Tag is an optional human label such as "latest".
	Tag         string                 `json:"tag,omitempty" yaml:"tag,omitempty"`
	Description string                 `json:"description,omitempty" yaml:"description,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	EntryCount  int                    `json:"entry_count" yaml:"entry_count"`
	SizeBytes   int64                  `json:"size_bytes" yaml:"size_bytes"`
	// LastModified is zero when the backend doesn't report it.
	LastModified time.Time `json:"last_modified,omitempty" yaml:"last_modified,omitempty"`
}

// ContentEntry is one file referenced by a package manifest.
type ContentEntry struct {
	// LogicalKey is the path inside the package. Never empty, never
	// starts with '/'.
	LogicalKey string `json:"logical_key" yaml:"logical_key"`
	// PhysicalKey is the absolute storage URI of the underlying object.
	PhysicalKey string                 `json:"physical_key" yaml:"physical_key"`
	SizeBytes   int64                  `json:"size_bytes" yaml:"size_bytes"`
	ContentHash string                 `json:"content_hash,omitempty" yaml:"content_hash,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// CreateResult is returned by CreateRevision and UpdateRevision.
// It is complete on success; a failed workflow returns an error and no
// result, never a partially populated one.
type CreateResult struct {
	PackageName string `json:"package_name" yaml:"package_name"`
	Registry    string `json:"registry" yaml:"registry"`
	TopHash     string `json:"top_hash" yaml:"top_hash"`
	// CatalogURL is derived deterministically from registry, bucket,
	// name and top hash. No network involved.
	CatalogURL string `json:"catalog_url" yaml:"catalog_url"`
	// FilesAdded counts distinct logical keys added by this call.
	FilesAdded int `json:"files_added" yaml:"files_added"`
	// Warnings carries non-fatal notices, such as flattening collisions.
	Warnings []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// ModifiedEntry records one logical key whose content changed between two
// revisions.
type ModifiedEntry struct {
	LogicalKey string `json:"logical_key" yaml:"logical_key"`
	OldHash    string `json:"old_hash" yaml:"old_hash"`
	NewHash    string `json:"new_hash" yaml:"new_hash"`
	OldSize    int64  `json:"old_size,omitempty" yaml:"old_size,omitempty"`
	NewSize    int64  `json:"new_size,omitempty" yaml:"new_size,omitempty"`
}

// PackageDiff is the difference between two package revisions.
// A logical key appears in at most one of the three lists.
type PackageDiff struct {
	Added    []ContentEntry  `json:"added" yaml:"added"`
	Removed  []ContentEntry  `json:"removed" yaml:"removed"`
	Modified []ModifiedEntry `json:"modified" yaml:"modified"`
}

// Empty returns whether the diff has no entries in any list.
func (d *PackageDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Modified) == 0
}
