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

const (
	// URIScheme is the scheme source URIs and s3-form registries use.
	URIScheme = "s3"

	// DefaultTag is the tag a push moves and an empty ref resolves to.
	DefaultTag = "latest"

	// DefaultCatalogBase is the catalog used for s3-form registries when
	// no explicit catalog host is configured.
	DefaultCatalogBase = "https://catalog.packsmith.io"
)
