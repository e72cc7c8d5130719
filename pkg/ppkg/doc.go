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

// Package ppkg provides operations to create, update, diff, browse and
// search content-addressed data packages stored in object storage.
//
// Key concepts:
//   - Package: a named, versioned collection of object references plus
//     metadata. A package name always has the form `namespace/name`.
//   - Manifest: the set of logical-key to physical-key mappings
//     (ContentEntry values) that constitutes one package revision.
//   - Top hash: the content hash of a manifest. It identifies one revision
//     of a package and is always handled as a plain string.
//   - Registry: the storage root (bucket or service endpoint) where
//     manifests and data are kept. Heterogeneous spellings (bare bucket,
//     `s3://bucket`, full URL) are normalized before use.
//   - Logical key: the path under which a source object appears inside a
//     package, independent of where the object physically lives.
//   - Backend: a provider of the atomic package primitives. Two
//     implementations exist, one driving object storage directly
//     (pkg/direct) and one driving a remote registry service
//     (pkg/platform). All orchestration, validation and transformation
//     lives here; backends only execute primitives.
package ppkg
