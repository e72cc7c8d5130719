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

// Package direct implements the backend primitives straight against
// object storage. Manifests, tag pointers and (in copy mode) data live
// under a reserved prefix of the registry bucket.
package direct

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/gobwas/glob"
	"github.com/sirupsen/logrus"

	"github.com/packsmith/ppkg/pkg/ppkg"
)

const (
	manifestPrefix = ".ppkg/manifests/"
	namedPrefix    = ".ppkg/named/"
	dataPrefix     = ".ppkg/data/"
)

// s3API is the slice of the S3 client this backend uses. *s3.Client
// satisfies it; tests substitute a fake.
type s3API interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, opts ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Backend drives object storage directly. The client must already be
// authorized; this package never touches credentials.
type Backend struct {
	client s3API
	// defaultRegistry is used by SearchPackages when the caller passes
	// no registry. May be empty.
	defaultRegistry string
	log             *logrus.Entry
}

var _ ppkg.Backend = (*Backend)(nil)

// New creates a direct backend on the given client.
func New(client *s3.Client, defaultRegistry string) *Backend {
	return newWithAPI(client, defaultRegistry)
}

func newWithAPI(client s3API, defaultRegistry string) *Backend {
	return &Backend{
		client:          client,
		defaultRegistry: ppkg.NormalizeRegistry(defaultRegistry),
		log:             logrus.WithField("backend", "direct"),
	}
}

// packageHandle is the build/read state of one workflow call. It never
// leaves this package other than as an opaque ppkg.PackageHandle.
type packageHandle struct {
	m *manifest
}

func (b *Backend) handleOf(h ppkg.PackageHandle) (*packageHandle, error) {
	ph, ok := h.(*packageHandle)
	if !ok || ph == nil || ph.m == nil {
		return nil, ppkg.NewError(ppkg.KindBackend, "foreign package handle passed to direct backend")
	}
	return ph, nil
}

func (b *Backend) CreateEmptyPackage(ctx context.Context) (ppkg.PackageHandle, error) {
	return &packageHandle{m: newManifest()}, nil
}

func (b *Backend) AddFileToPackage(ctx context.Context, h ppkg.PackageHandle, sourceURI string, logicalKey string) error {
	ph, err := b.handleOf(h)
	if err != nil {
		return err
	}
	bucket, key, err := ppkg.ParseSourceURI(sourceURI)
	if err != nil {
		return err
	}

	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return classify(err, fmt.Sprintf("source object '%s'", sourceURI))
	}

	ph.m.put(manifestEntry{
		LogicalKey:  logicalKey,
		PhysicalKey: sourceURI,
		Size:        aws.ToInt64(out.ContentLength),
		Hash:        strings.Trim(aws.ToString(out.ETag), `"`),
	})
	return nil
}

func (b *Backend) SetPackageMetadata(ctx context.Context, h ppkg.PackageHandle, metadata map[string]interface{}) error {
	ph, err := b.handleOf(h)
	if err != nil {
		return err
	}
	if metadata == nil {
		return nil
	}
	ph.m.userMeta = metadata
	return nil
}

func (b *Backend) PushPackage(ctx context.Context, h ppkg.PackageHandle, name string, registry string, message string, copyMode bool) (string, error) {
	ph, err := b.handleOf(h)
	if err != nil {
		return "", err
	}
	bucket, err := registryBucket(registry)
	if err != nil {
		return "", err
	}
	ph.m.message = message

	if copyMode {
		if err := b.copyEntries(ctx, ph.m, bucket, name); err != nil {
			return "", err
		}
	}

	topHash, err := ph.m.topHash()
	if err != nil {
		return "", err
	}
	data, err := ph.m.serialize()
	if err != nil {
		return "", err
	}

	manifestKey := manifestPrefix + name + "/" + topHash + ".jsonl"
	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(manifestKey),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return "", classify(err, "manifest write")
	}

	// Move the default tag. Concurrent pushes race here; the storage
	// system's last write wins.
	pointerKey := namedPrefix + name + "/" + ppkg.DefaultTag
	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(pointerKey),
		Body:        strings.NewReader(topHash),
		ContentType: aws.String("text/plain"),
	})
	if err != nil {
		return "", classify(err, "tag pointer write")
	}

	b.log.WithFields(logrus.Fields{
		"package": name,
		"hash":    topHash,
		"entries": ph.m.len(),
	}).Debug("pushed revision")
	return topHash, nil
}

// copyEntries copies every entry's bytes into the registry bucket and
// repoints the manifest at the copies. Entries that already live at their
// destination (from an earlier copy-mode push) are left alone; the storage
// system rejects a copy of an object onto itself.
func (b *Backend) copyEntries(ctx context.Context, m *manifest, bucket string, name string) error {
	for _, e := range m.sortedEntries() {
		srcBucket, srcKey, err := ppkg.ParseSourceURI(e.PhysicalKey)
		if err != nil {
			return err
		}
		destKey := dataPrefix + name + "/" + e.LogicalKey
		if srcBucket == bucket && srcKey == destKey {
			continue
		}
		// CopySource must be URL-encoded, with slashes kept.
		copySource := srcBucket + (&url.URL{Path: "/" + srcKey}).EscapedPath()
		_, err = b.client.CopyObject(ctx, &s3.CopyObjectInput{
			Bucket:     aws.String(bucket),
			Key:        aws.String(destKey),
			CopySource: aws.String(copySource),
		})
		if err != nil {
			return classify(err, fmt.Sprintf("copy of '%s'", e.PhysicalKey))
		}
		e.PhysicalKey = fmt.Sprintf("%s://%s/%s", ppkg.URIScheme, bucket, destKey)
		m.put(e)
	}
	return nil
}

var topHashPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

func (b *Backend) GetPackage(ctx context.Context, name string, registry string, ref string) (ppkg.PackageHandle, error) {
	bucket, err := registryBucket(registry)
	if err != nil {
		return nil, err
	}

	topHash := ref
	if !topHashPattern.MatchString(ref) {
		tag := ref
		if tag == "" {
			tag = ppkg.DefaultTag
		}
		topHash, err = b.resolveTag(ctx, bucket, name, tag)
		if err != nil {
			return nil, err
		}
	}

	m, err := b.loadManifest(ctx, bucket, name, topHash)
	if err != nil {
		return nil, err
	}
	return &packageHandle{m: m}, nil
}

func (b *Backend) resolveTag(ctx context.Context, bucket string, name string, tag string) (string, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(namedPrefix + name + "/" + tag),
	})
	if err != nil {
		return "", classify(err, fmt.Sprintf("package '%s' tag '%s'", name, tag))
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return "", err
	}
	topHash := strings.TrimSpace(string(data))
	if !topHashPattern.MatchString(topHash) {
		return "", ppkg.NewError(ppkg.KindBackend, "tag '%s' of '%s' does not point at a revision hash", tag, name)
	}
	return topHash, nil
}

func (b *Backend) loadManifest(ctx context.Context, bucket string, name string, topHash string) (*manifest, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(manifestPrefix + name + "/" + topHash + ".jsonl"),
	})
	if err != nil {
		return nil, classify(err, fmt.Sprintf("package '%s' revision '%s'", name, topHash))
	}
	defer out.Body.Close()
	m, err := parseManifest(out.Body)
	if err != nil {
		return nil, ppkg.NewError(ppkg.KindBackend, "corrupt manifest for '%s@%s': %v", name, topHash, err)
	}
	return m, nil
}

func (b *Backend) SearchPackages(ctx context.Context, query string, registry string) ([]ppkg.RawHit, error) {
	if registry == "" {
		registry = b.defaultRegistry
	}
	bucket, err := registryBucket(registry)
	if err != nil {
		return nil, err
	}

	matcher, err := queryGlob(query)
	if err != nil {
		return nil, ppkg.NewError(ppkg.KindValidation, "bad search query '%s': %v", query, err)
	}

	names, err := b.listPackageNames(ctx, bucket)
	if err != nil {
		return nil, err
	}

	var hits []ppkg.RawHit
	for _, name := range names {
		if !matcher.Match(name) {
			continue
		}
		topHash, err := b.resolveTag(ctx, bucket, name, ppkg.DefaultTag)
		if err != nil {
			// The pointer can disappear between listing and resolution.
			if ppkg.IsKind(err, ppkg.KindNotFound) {
				continue
			}
			return nil, err
		}
		m, err := b.loadManifest(ctx, bucket, name, topHash)
		if err != nil {
			return nil, err
		}
		hit := ppkg.RawHit{
			Name:       name,
			Registry:   registry,
			TopHash:    topHash,
			Tag:        ppkg.DefaultTag,
			Meta:       m.userMeta,
			EntryCount: m.len(),
			Size:       m.totalSize(),
		}
		if desc, ok := m.userMeta["description"].(string); ok {
			hit.Description = desc
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// listPackageNames walks the tag pointer prefix and collects distinct
// package names that carry the default tag.
func (b *Backend) listPackageNames(ctx context.Context, bucket string) ([]string, error) {
	var names []string
	var token *string
	for {
		out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(bucket),
			Prefix:            aws.String(namedPrefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, classify(err, "package listing")
		}
		for _, obj := range out.Contents {
			rest := strings.TrimPrefix(aws.ToString(obj.Key), namedPrefix)
			parts := strings.Split(rest, "/")
			if len(parts) != 3 || parts[2] != ppkg.DefaultTag {
				continue
			}
			names = append(names, parts[0]+"/"+parts[1])
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}
	return names, nil
}

func (b *Backend) BrowseContent(ctx context.Context, h ppkg.PackageHandle, pathPrefix string) ([]ppkg.RawEntry, error) {
	ph, err := b.handleOf(h)
	if err != nil {
		return nil, err
	}
	prefix := strings.TrimLeft(pathPrefix, "/")
	var entries []ppkg.RawEntry
	for _, e := range ph.m.sortedEntries() {
		if prefix != "" && !strings.HasPrefix(e.LogicalKey, prefix) {
			continue
		}
		entries = append(entries, rawEntry(e))
	}
	return entries, nil
}

func (b *Backend) DiffPackages(ctx context.Context, left ppkg.PackageHandle, right ppkg.PackageHandle) (*ppkg.RawDiff, error) {
	lh, err := b.handleOf(left)
	if err != nil {
		return nil, err
	}
	rh, err := b.handleOf(right)
	if err != nil {
		return nil, err
	}
	return diffManifests(lh.m, rh.m), nil
}

// queryGlob compiles a search query. Queries without glob metacharacters
// become substring matches.
func queryGlob(query string) (glob.Glob, error) {
	if query == "" {
		return glob.Compile("*")
	}
	if !strings.ContainsAny(query, "*?[{") {
		query = "*" + query + "*"
	}
	return glob.Compile(query)
}

// registryBucket maps a normalized registry to its bucket. The direct
// backend only serves s3-form registries.
func registryBucket(registry string) (string, error) {
	bucket := ppkg.BucketFromRegistry(registry)
	if bucket == "" {
		return "", ppkg.NewError(ppkg.KindValidation, "direct backend requires an s3 registry, got '%s'", registry)
	}
	return bucket, nil
}

// classify maps storage errors into the operation error taxonomy. Errors
// it can't classify pass through untouched for the orchestrator to wrap.
func classify(err error, what string) error {
	if err == nil {
		return nil
	}
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return ppkg.NewError(ppkg.KindNotFound, "%s not found", what)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			return ppkg.NewError(ppkg.KindNotFound, "%s not found", what)
		case "AccessDenied", "Forbidden":
			return ppkg.NewError(ppkg.KindPermission, "access denied for %s", what)
		}
	}
	return err
}
