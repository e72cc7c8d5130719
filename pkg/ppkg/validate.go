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
	"fmt"
	"path"
	"regexp"
	"strings"
)

// All functions in this file are pure. They never touch a backend, which
// is what lets every workflow fail fast on bad input before the first
// primitive call.

var packageNamePattern = regexp.MustCompile(`^[\w-]+/[\w-]+$`)

// ValidatePackageName fails unless name has the `namespace/name` form.
func ValidatePackageName(name string) error {
	if name == "" {
		return validationErr("package name must not be empty")
	}
	if !packageNamePattern.MatchString(name) {
		return validationErr("invalid package name '%s': expected 'namespace/name'", name)
	}
	return nil
}

// ParseSourceURI splits an s3-form URI into bucket and key.
func ParseSourceURI(uri string) (bucket string, key string, err error) {
	prefix := URIScheme + "://"
	if !strings.HasPrefix(uri, prefix) {
		return "", "", validationErr("invalid source URI '%s': expected '%s<bucket>/<key>'", uri, prefix)
	}
	rest := strings.TrimPrefix(uri, prefix)
	slash := strings.IndexByte(rest, '/')
	if slash <= 0 || slash == len(rest)-1 {
		return "", "", validationErr("invalid source URI '%s': missing bucket or key", uri)
	}
	return rest[:slash], rest[slash+1:], nil
}

// ValidateSourceURIs fails if the list is empty or any entry is not a
// well-formed storage URI with both a bucket and a key.
func ValidateSourceURIs(uris []string) error {
	if len(uris) == 0 {
		return validationErr("no source URIs given")
	}
	for _, uri := range uris {
		if _, _, err := ParseSourceURI(uri); err != nil {
			return err
		}
	}
	return nil
}

// ValidateRegistry fails on empty or malformed registry strings.
// Accepted forms: a bare bucket name, `s3://bucket`, or an http(s)
// registry URL.
func ValidateRegistry(registry string) error {
	r := strings.TrimSpace(registry)
	if r == "" {
		return validationErr("registry must not be empty")
	}
	if strings.HasPrefix(r, "http://") || strings.HasPrefix(r, "https://") {
		if strings.TrimRight(r[strings.Index(r, "://")+3:], "/") == "" {
			return validationErr("invalid registry '%s': missing host", registry)
		}
		return nil
	}
	bare := strings.TrimPrefix(r, URIScheme+"://")
	bare = strings.TrimRight(bare, "/")
	if bare == "" || strings.Contains(bare, "://") {
		return validationErr("invalid registry '%s'", registry)
	}
	return nil
}

// NormalizeRegistry converts the accepted registry spellings to one
// canonical form: `s3://bucket` for storage registries, and a URL without
// trailing slashes for service registries. The function is idempotent.
func NormalizeRegistry(registry string) string {
	r := strings.TrimSpace(registry)
	r = strings.TrimRight(r, "/")
	if r == "" {
		return r
	}
	if strings.HasPrefix(r, "http://") || strings.HasPrefix(r, "https://") {
		return r
	}
	if strings.HasPrefix(r, URIScheme+"://") {
		return r
	}
	return URIScheme + "://" + r
}

// BucketFromRegistry extracts the bucket name from an s3-form registry.
// Service-URL registries have no bucket; the empty string is returned.
func BucketFromRegistry(registry string) string {
	r := NormalizeRegistry(registry)
	if !strings.HasPrefix(r, URIScheme+"://") {
		return ""
	}
	bucket := strings.TrimPrefix(r, URIScheme+"://")
	if slash := strings.IndexByte(bucket, '/'); slash >= 0 {
		bucket = bucket[:slash]
	}
	return bucket
}

// BuildCatalogURL constructs the human-browsable catalog location of a
// revision. Pure string work; service registries browse on themselves,
// storage registries on the default catalog.
func BuildCatalogURL(registry string, bucket string, topHash string, packageName string) string {
	base := NormalizeRegistry(registry)
	if strings.HasPrefix(base, URIScheme+"://") || base == "" {
		base = DefaultCatalogBase
	}
	url := fmt.Sprintf("%s/b/%s/packages/%s", base, bucket, packageName)
	if topHash != "" {
		url += "/tree/" + topHash
	}
	return url
}

// KeyedURI pairs a source URI with the logical key it maps to.
type KeyedURI struct {
	SourceURI  string
	LogicalKey string
}

// LogicalKeys derives in-package paths for the given source URIs, in
// input order. The URIs must already have passed ValidateSourceURIs.
//
// With autoOrganize the object keys keep their directory structure minus
// the directory prefix shared by all of them; the innermost shared
// directory is kept so related files stay grouped. Without autoOrganize
// keys are flattened to their basename. When flattening maps two URIs to
// the same basename, the later URI wins; a warning records the
// overwritten one. The overwrite is enforced here, not left to backend
// map semantics.
func LogicalKeys(uris []string, autoOrganize bool) ([]KeyedURI, []string) {
	keys := make([]string, len(uris))
	for i, uri := range uris {
		_, key, err := ParseSourceURI(uri)
		if err != nil {
			// Callers validate first; keep the raw uri as key rather
			// than dropping the entry.
			key = uri
		}
		keys[i] = key
	}

	result := make([]KeyedURI, len(uris))
	if autoOrganize {
		prefix := commonDirPrefix(keys)
		for i, uri := range uris {
			result[i] = KeyedURI{
				SourceURI:  uri,
				LogicalKey: strings.TrimPrefix(keys[i], prefix),
			}
		}
		return result, nil
	}

	var warnings []string
	lastIndex := map[string]int{}
	for i, uri := range uris {
		base := path.Base(keys[i])
		if prev, ok := lastIndex[base]; ok {
			warnings = append(warnings, fmt.Sprintf(
				"duplicate basename '%s': '%s' replaces '%s'", base, uri, uris[prev]))
		}
		lastIndex[base] = i
		result[i] = KeyedURI{SourceURI: uri, LogicalKey: base}
	}
	return result, warnings
}

// commonDirPrefix returns the directory prefix (with trailing '/') shared
// by all keys, excluding the innermost shared directory. Returns "" when
// there is nothing to strip.
func commonDirPrefix(keys []string) string {
	if len(keys) == 0 {
		return ""
	}
	shared := strings.Split(path.Dir(keys[0]), "/")
	if path.Dir(keys[0]) == "." {
		return ""
	}
	for _, key := range keys[1:] {
		dir := path.Dir(key)
		if dir == "." {
			return ""
		}
		parts := strings.Split(dir, "/")
		n := 0
		for n < len(shared) && n < len(parts) && shared[n] == parts[n] {
			n++
		}
		shared = shared[:n]
		if len(shared) == 0 {
			return ""
		}
	}
	// Keep the innermost shared directory.
	shared = shared[:len(shared)-1]
	if len(shared) == 0 {
		return ""
	}
	return strings.Join(shared, "/") + "/"
}

// CleanLogicalKey normalizes a backend-provided logical key: leading
// slashes are stripped and the result must be non-empty.
func CleanLogicalKey(key string) (string, error) {
	cleaned := strings.TrimLeft(key, "/")
	if cleaned == "" {
		return "", NewError(KindBackend, "backend returned an empty logical key")
	}
	return cleaned, nil
}
