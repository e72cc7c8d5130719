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

// Package platform implements the backend primitives against a remote
// registry service speaking GraphQL over HTTPS. Manifest building happens
// client-side in the handle; pushing is a single mutation.
package platform

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/machinebox/graphql"
	"github.com/sirupsen/logrus"

	"github.com/packsmith/ppkg/pkg/ppkg"
)

// Backend drives the registry service. The bearer token comes from an
// external auth collaborator; this package never refreshes it.
type Backend struct {
	client *graphql.Client
	token  string
	log    *logrus.Entry
}

var _ ppkg.Backend = (*Backend)(nil)

// New creates a platform backend against the given GraphQL endpoint.
// A nil httpClient falls back to a client with a sane timeout.
func New(endpoint string, token string, httpClient *http.Client) *Backend {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	client := graphql.NewClient(endpoint, graphql.WithHTTPClient(httpClient))
	log := logrus.WithField("backend", "platform")
	// The graphql client logs through this hook. Route it to stderr via
	// logrus; text on stdout would corrupt a stdio transport.
	client.Log = func(s string) { log.Debug(s) }
	return &Backend{
		client: client,
		token:  token,
		log:    log,
	}
}

// wireEntry is the entry shape exchanged with the service.
type wireEntry struct {
	LogicalKey  string `json:"logicalKey"`
	PhysicalKey string `json:"physicalKey"`
	Size        int64  `json:"size"`
	Hash        string `json:"hash,omitempty"`
}

// packageHandle accumulates the manifest of one workflow call
// client-side. For resolved packages it additionally carries the revision
// coordinates the entries were loaded from.
type packageHandle struct {
	name     string
	registry string
	topHash  string

	order []string
	byKey map[string]wireEntry
	meta  map[string]interface{}
}

func newHandle() *packageHandle {
	return &packageHandle{byKey: map[string]wireEntry{}}
}

func (h *packageHandle) put(e wireEntry) {
	if _, ok := h.byKey[e.LogicalKey]; !ok {
		h.order = append(h.order, e.LogicalKey)
	}
	h.byKey[e.LogicalKey] = e
}

func (h *packageHandle) entries() []wireEntry {
	entries := make([]wireEntry, 0, len(h.order))
	for _, key := range h.order {
		entries = append(entries, h.byKey[key])
	}
	return entries
}

func (b *Backend) handleOf(h ppkg.PackageHandle) (*packageHandle, error) {
	ph, ok := h.(*packageHandle)
	if !ok || ph == nil {
		return nil, ppkg.NewError(ppkg.KindBackend, "foreign package handle passed to platform backend")
	}
	return ph, nil
}

func (b *Backend) newRequest(query string) *graphql.Request {
	req := graphql.NewRequest(query)
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}
	return req
}

func (b *Backend) CreateEmptyPackage(ctx context.Context) (ppkg.PackageHandle, error) {
	return newHandle(), nil
}

func (b *Backend) AddFileToPackage(ctx context.Context, h ppkg.PackageHandle, sourceURI string, logicalKey string) error {
	ph, err := b.handleOf(h)
	if err != nil {
		return err
	}
	// The service validates and sizes the object at construct time; the
	// primitive just records the mapping.
	ph.put(wireEntry{
		LogicalKey:  logicalKey,
		PhysicalKey: sourceURI,
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
	ph.meta = metadata
	return nil
}

const packageConstructMutation = `
mutation ($name: String!, $registry: String!, $message: String, $entries: [PackageEntryInput!]!, $userMeta: JsonRecord, $copyData: Boolean!, $clientMutationId: String!) {
	packageConstruct(name: $name, registry: $registry, message: $message, entries: $entries, userMeta: $userMeta, copyData: $copyData, clientMutationId: $clientMutationId) {
		revision {
			topHash
		}
	}
}`

func (b *Backend) PushPackage(ctx context.Context, h ppkg.PackageHandle, name string, registry string, message string, copyMode bool) (string, error) {
	ph, err := b.handleOf(h)
	if err != nil {
		return "", err
	}

	req := b.newRequest(packageConstructMutation)
	req.Var("name", name)
	req.Var("registry", registry)
	req.Var("message", message)
	req.Var("entries", ph.entries())
	req.Var("userMeta", ph.meta)
	req.Var("copyData", copyMode)
	// Lets the service dedupe a retried mutation instead of pushing the
	// revision twice.
	req.Var("clientMutationId", uuid.NewString())

	var resp struct {
		PackageConstruct struct {
			Revision struct {
				TopHash string `json:"topHash"`
			} `json:"revision"`
		} `json:"packageConstruct"`
	}
	if err := b.client.Run(ctx, req, &resp); err != nil {
		return "", classify(err)
	}
	// The service response nests the hash in a revision object; only the
	// plain string leaves the backend.
	return resp.PackageConstruct.Revision.TopHash, nil
}

const packageRevisionQuery = `
query ($name: String!, $registry: String!, $ref: String!) {
	packageRevision(name: $name, registry: $registry, ref: $ref) {
		topHash
		userMeta
		entries {
			logicalKey
			physicalKey
			size
			hash
		}
	}
}`

func (b *Backend) GetPackage(ctx context.Context, name string, registry string, ref string) (ppkg.PackageHandle, error) {
	if ref == "" {
		ref = ppkg.DefaultTag
	}
	req := b.newRequest(packageRevisionQuery)
	req.Var("name", name)
	req.Var("registry", registry)
	req.Var("ref", ref)

	var resp struct {
		PackageRevision *struct {
			TopHash  string                 `json:"topHash"`
			UserMeta map[string]interface{} `json:"userMeta"`
			Entries  []wireEntry            `json:"entries"`
		} `json:"packageRevision"`
	}
	if err := b.client.Run(ctx, req, &resp); err != nil {
		return nil, classify(err)
	}
	if resp.PackageRevision == nil {
		return nil, ppkg.NewError(ppkg.KindNotFound, "package '%s' ref '%s' not found", name, ref)
	}

	ph := newHandle()
	ph.name = name
	ph.registry = registry
	ph.topHash = resp.PackageRevision.TopHash
	ph.meta = resp.PackageRevision.UserMeta
	for _, e := range resp.PackageRevision.Entries {
		ph.put(e)
	}
	return ph, nil
}

const searchPackagesQuery = `
query ($query: String!, $registry: String) {
	searchPackages(query: $query, registry: $registry) {
		name
		registry
		topHash
		tag
		description
		userMeta
		entryCount
		totalBytes
		modified
	}
}`

func (b *Backend) SearchPackages(ctx context.Context, query string, registry string) ([]ppkg.RawHit, error) {
	req := b.newRequest(searchPackagesQuery)
	req.Var("query", query)
	req.Var("registry", registry)

	var resp struct {
		SearchPackages []struct {
			Name        string                 `json:"name"`
			Registry    string                 `json:"registry"`
			TopHash     string                 `json:"topHash"`
			Tag         string                 `json:"tag"`
			Description string                 `json:"description"`
			UserMeta    map[string]interface{} `json:"userMeta"`
			EntryCount  int                    `json:"entryCount"`
			TotalBytes  int64                  `json:"totalBytes"`
			Modified    string                 `json:"modified"`
		} `json:"searchPackages"`
	}
	if err := b.client.Run(ctx, req, &resp); err != nil {
		return nil, classify(err)
	}

	hits := make([]ppkg.RawHit, 0, len(resp.SearchPackages))
	for _, h := range resp.SearchPackages {
		hit := ppkg.RawHit{
			Name:        h.Name,
			Registry:    h.Registry,
			TopHash:     h.TopHash,
			Tag:         h.Tag,
			Description: h.Description,
			Meta:        h.UserMeta,
			EntryCount:  h.EntryCount,
			Size:        h.TotalBytes,
		}
		if h.Modified != "" {
			if ts, err := time.Parse(time.RFC3339, h.Modified); err == nil {
				hit.LastModified = ts
			}
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

const packageEntriesQuery = `
query ($name: String!, $registry: String!, $ref: String!, $prefix: String) {
	packageEntries(name: $name, registry: $registry, ref: $ref, prefix: $prefix) {
		logicalKey
		physicalKey
		size
		hash
	}
}`

func (b *Backend) BrowseContent(ctx context.Context, h ppkg.PackageHandle, pathPrefix string) ([]ppkg.RawEntry, error) {
	ph, err := b.handleOf(h)
	if err != nil {
		return nil, err
	}
	req := b.newRequest(packageEntriesQuery)
	req.Var("name", ph.name)
	req.Var("registry", ph.registry)
	req.Var("ref", ph.topHash)
	req.Var("prefix", pathPrefix)

	var resp struct {
		PackageEntries []wireEntry `json:"packageEntries"`
	}
	if err := b.client.Run(ctx, req, &resp); err != nil {
		return nil, classify(err)
	}

	entries := make([]ppkg.RawEntry, 0, len(resp.PackageEntries))
	for _, e := range resp.PackageEntries {
		entries = append(entries, ppkg.RawEntry{
			LogicalKey:  e.LogicalKey,
			PhysicalKey: e.PhysicalKey,
			Size:        e.Size,
			Hash:        e.Hash,
		})
	}
	return entries, nil
}

const packageDiffQuery = `
query ($name: String!, $registry: String!, $left: String!, $right: String!) {
	packageDiff(name: $name, registry: $registry, left: $left, right: $right) {
		added { logicalKey physicalKey size hash }
		removed { logicalKey physicalKey size hash }
		modified { logicalKey oldHash newHash oldSize newSize }
	}
}`

func (b *Backend) DiffPackages(ctx context.Context, left ppkg.PackageHandle, right ppkg.PackageHandle) (*ppkg.RawDiff, error) {
	lh, err := b.handleOf(left)
	if err != nil {
		return nil, err
	}
	rh, err := b.handleOf(right)
	if err != nil {
		return nil, err
	}

	req := b.newRequest(packageDiffQuery)
	req.Var("name", lh.name)
	req.Var("registry", lh.registry)
	req.Var("left", lh.topHash)
	req.Var("right", rh.topHash)

	var resp struct {
		PackageDiff struct {
			Added    []wireEntry `json:"added"`
			Removed  []wireEntry `json:"removed"`
			Modified []struct {
				LogicalKey string `json:"logicalKey"`
				OldHash    string `json:"oldHash"`
				NewHash    string `json:"newHash"`
				OldSize    int64  `json:"oldSize"`
				NewSize    int64  `json:"newSize"`
			} `json:"modified"`
		} `json:"packageDiff"`
	}
	if err := b.client.Run(ctx, req, &resp); err != nil {
		return nil, classify(err)
	}

	diff := &ppkg.RawDiff{}
	for _, e := range resp.PackageDiff.Added {
		diff.Added = append(diff.Added, ppkg.RawEntry{
			LogicalKey: e.LogicalKey, PhysicalKey: e.PhysicalKey, Size: e.Size, Hash: e.Hash,
		})
	}
	for _, e := range resp.PackageDiff.Removed {
		diff.Removed = append(diff.Removed, ppkg.RawEntry{
			LogicalKey: e.LogicalKey, PhysicalKey: e.PhysicalKey, Size: e.Size, Hash: e.Hash,
		})
	}
	for _, m := range resp.PackageDiff.Modified {
		diff.Modified = append(diff.Modified, ppkg.RawModified{
			LogicalKey: m.LogicalKey,
			OldHash:    m.OldHash,
			NewHash:    m.NewHash,
			OldSize:    m.OldSize,
			NewSize:    m.NewSize,
		})
	}
	return diff, nil
}

// classify maps service errors into the operation error taxonomy. The
// service reports problems as GraphQL error messages, so matching is by
// message content. Unmatched errors pass through for the orchestrator to
// wrap.
func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "not found") || strings.Contains(msg, "no such package"):
		return ppkg.NewError(ppkg.KindNotFound, "%s", err.Error())
	case strings.Contains(msg, "access denied") ||
		strings.Contains(msg, "forbidden") ||
		strings.Contains(msg, "unauthorized"):
		return ppkg.NewError(ppkg.KindPermission, "%s", err.Error())
	case strings.Contains(msg, "conflict") || strings.Contains(msg, "concurrent"):
		return ppkg.NewError(ppkg.KindConflict, "%s", err.Error())
	default:
		return err
	}
}
