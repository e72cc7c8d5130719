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

package commands

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packsmith/ppkg/pkg/ppkg"
)

func revisionTestCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "x", Run: func(cmd *cobra.Command, args []string) {}}
	addRevisionFlags(cmd)
	return cmd
}

func Test_MetadataFromFlags(t *testing.T) {
	t.Run("no flags", func(t *testing.T) {
		cmd := revisionTestCmd()
		metadata, err := metadataFromFlags(cmd)
		require.NoError(t, err)
		assert.Nil(t, metadata)
	})

	t.Run("key=value pairs", func(t *testing.T) {
		cmd := revisionTestCmd()
		require.NoError(t, cmd.Flags().Set("meta", "source=ingest"))
		require.NoError(t, cmd.Flags().Set("meta", "owner=team"))

		metadata, err := metadataFromFlags(cmd)
		require.NoError(t, err)
		assert.Equal(t, map[string]interface{}{
			"source": "ingest",
			"owner":  "team",
		}, metadata)
	})

	t.Run("values may contain '='", func(t *testing.T) {
		cmd := revisionTestCmd()
		require.NoError(t, cmd.Flags().Set("meta", "query=a=b"))

		metadata, err := metadataFromFlags(cmd)
		require.NoError(t, err)
		assert.Equal(t, "a=b", metadata["query"])
	})

	t.Run("bad pair", func(t *testing.T) {
		cmd := revisionTestCmd()
		require.NoError(t, cmd.Flags().Set("meta", "novalue"))

		_, err := metadataFromFlags(cmd)
		assert.Error(t, err)
	})

	t.Run("meta-json overrides pairs", func(t *testing.T) {
		cmd := revisionTestCmd()
		require.NoError(t, cmd.Flags().Set("meta", "ignored=yes"))
		require.NoError(t, cmd.Flags().Set("meta-json", `{"count": 3, "nested": {"a": true}}`))

		metadata, err := metadataFromFlags(cmd)
		require.NoError(t, err)
		assert.Equal(t, float64(3), metadata["count"])
		assert.NotContains(t, metadata, "ignored")
	})

	t.Run("bad json", func(t *testing.T) {
		cmd := revisionTestCmd()
		require.NoError(t, cmd.Flags().Set("meta-json", `[1, 2]`))

		_, err := metadataFromFlags(cmd)
		assert.Error(t, err)
	})
}

func outputTestCmd(format string) (*cobra.Command, *bytes.Buffer) {
	cmd := &cobra.Command{Use: "x", Run: func(cmd *cobra.Command, args []string) {}}
	cmd.Flags().StringP("output", "o", "text", "")
	if format != "" {
		_ = cmd.Flags().Set("output", format)
	}
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	return cmd, buf
}

func Test_RenderResult(t *testing.T) {
	result := &ppkg.CreateResult{
		PackageName: "team/demo",
		Registry:    "s3://bucket",
		TopHash:     "feedface",
		CatalogURL:  "https://catalog.packsmith.io/b/bucket/packages/team/demo/tree/feedface",
		FilesAdded:  2,
	}
	h := &pkgHandler{ui: ppkg.NullUI}

	t.Run("text", func(t *testing.T) {
		cmd, buf := outputTestCmd("text")
		require.NoError(t, h.renderResult(cmd, result))
		out := buf.String()
		assert.Contains(t, out, "team/demo@feedface")
		assert.Contains(t, out, "2 files")
		assert.Contains(t, out, result.CatalogURL)
	})

	t.Run("json", func(t *testing.T) {
		cmd, buf := outputTestCmd("json")
		require.NoError(t, h.renderResult(cmd, result))
		out := buf.String()
		assert.Contains(t, out, `"top_hash": "feedface"`)
		assert.Contains(t, out, `"files_added": 2`)
	})

	t.Run("yaml", func(t *testing.T) {
		cmd, buf := outputTestCmd("yaml")
		require.NoError(t, h.renderResult(cmd, result))
		assert.Contains(t, buf.String(), "top_hash: feedface")
	})

	t.Run("unknown format", func(t *testing.T) {
		cmd, _ := outputTestCmd("xml")
		err := h.renderResult(cmd, result)
		assert.Error(t, err)
	})
}

func Test_RenderDiff(t *testing.T) {
	h := &pkgHandler{ui: ppkg.NullUI}

	t.Run("empty", func(t *testing.T) {
		cmd, buf := outputTestCmd("text")
		require.NoError(t, h.renderDiff(cmd, "team/demo", "", "", &ppkg.PackageDiff{}))
		assert.Contains(t, buf.String(), "No differences")
	})

	t.Run("unified listing", func(t *testing.T) {
		diff := &ppkg.PackageDiff{
			Added:   []ppkg.ContentEntry{{LogicalKey: "raw/c.csv", ContentHash: "hc"}},
			Removed: []ppkg.ContentEntry{{LogicalKey: "raw/b.csv", ContentHash: "hb"}},
			Modified: []ppkg.ModifiedEntry{
				{LogicalKey: "raw/a.csv", OldHash: "old", NewHash: "new"},
			},
		}
		cmd, buf := outputTestCmd("text")
		require.NoError(t, h.renderDiff(cmd, "team/demo", "h1", "h2", diff))
		out := buf.String()
		assert.Contains(t, out, "--- team/demo@h1")
		assert.Contains(t, out, "+++ team/demo@h2")
		assert.Contains(t, out, "-raw/a.csv old")
		assert.Contains(t, out, "+raw/a.csv new")
		assert.Contains(t, out, "+raw/c.csv hc")
		assert.Contains(t, out, "1 added, 1 removed, 1 modified")
	})
}

func Test_UnifiedListingDiffDefaultsRefs(t *testing.T) {
	diff := &ppkg.PackageDiff{
		Added: []ppkg.ContentEntry{{LogicalKey: "a", ContentHash: "h"}},
	}
	out, err := unifiedListingDiff("team/demo", "", "", diff)
	require.NoError(t, err)
	assert.True(t, strings.Contains(out, "team/demo@latest"))
}
