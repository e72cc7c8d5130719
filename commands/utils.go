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
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"github.com/packsmith/ppkg/pkg/ppkg"
)

// metadataFromFlags builds the metadata map from --meta key=value pairs,
// or from --meta-json when given.
func metadataFromFlags(cmd *cobra.Command) (map[string]interface{}, error) {
	rawJSON, err := cmd.Flags().GetString("meta-json")
	if err != nil {
		return nil, err
	}
	if rawJSON != "" {
		var metadata map[string]interface{}
		if err := json.Unmarshal([]byte(rawJSON), &metadata); err != nil {
			return nil, fmt.Errorf("not a JSON object: %w", err)
		}
		return metadata, nil
	}

	pairs, err := cmd.Flags().GetStringArray("meta")
	if err != nil {
		return nil, err
	}
	if len(pairs) == 0 {
		return nil, nil
	}
	metadata := map[string]interface{}{}
	for _, pair := range pairs {
		eq := strings.IndexByte(pair, '=')
		if eq <= 0 {
			return nil, fmt.Errorf("'%s' is not of the form key=value", pair)
		}
		metadata[pair[:eq]] = pair[eq+1:]
	}
	return metadata, nil
}

// output writes rendered command output. All result rendering goes
// through cmd.OutOrStdout so tests can capture it.
func output(cmd *cobra.Command, format string, a ...interface{}) {
	fmt.Fprintf(cmd.OutOrStdout(), format+"\n", a...)
}

func (h *pkgHandler) renderStructured(cmd *cobra.Command, v interface{}) (bool, error) {
	format, err := cmd.Flags().GetString("output")
	if err != nil {
		return false, err
	}
	switch format {
	case "json":
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return false, err
		}
		output(cmd, "%s", data)
		return true, nil
	case "yaml":
		data, err := yaml.Marshal(v)
		if err != nil {
			return false, err
		}
		output(cmd, "%s", strings.TrimRight(string(data), "\n"))
		return true, nil
	case "", "text":
		return false, nil
	default:
		return false, h.ui.ReportError("Unknown output format '%s'", format)
	}
}

func (h *pkgHandler) renderResult(cmd *cobra.Command, result *ppkg.CreateResult) error {
	if done, err := h.renderStructured(cmd, result); done || err != nil {
		return err
	}
	output(cmd, "Pushed %s@%s (%d files)", result.PackageName, result.TopHash, result.FilesAdded)
	output(cmd, "Catalog: %s", result.CatalogURL)
	return nil
}

func (h *pkgHandler) renderEntries(cmd *cobra.Command, entries []ppkg.ContentEntry) error {
	if done, err := h.renderStructured(cmd, entries); done || err != nil {
		return err
	}
	for _, e := range entries {
		output(cmd, "%12d  %s\t%s", e.SizeBytes, e.LogicalKey, e.PhysicalKey)
	}
	output(cmd, "%d entries", len(entries))
	return nil
}

func (h *pkgHandler) renderInfos(cmd *cobra.Command, infos []ppkg.PackageInfo) error {
	if done, err := h.renderStructured(cmd, infos); done || err != nil {
		return err
	}
	for _, info := range infos {
		line := fmt.Sprintf("%s@%s", info.Name, info.TopHash)
		if info.Description != "" {
			line += "  " + info.Description
		}
		output(cmd, "%s", line)
	}
	output(cmd, "%d packages", len(infos))
	return nil
}

func (h *pkgHandler) renderDiff(cmd *cobra.Command, name string, leftRef string, rightRef string, diff *ppkg.PackageDiff) error {
	if done, err := h.renderStructured(cmd, diff); done || err != nil {
		return err
	}
	if diff.Empty() {
		output(cmd, "No differences")
		return nil
	}
	unified, err := unifiedListingDiff(name, leftRef, rightRef, diff)
	if err != nil {
		return err
	}
	output(cmd, "%s", strings.TrimRight(unified, "\n"))
	output(cmd, "%d added, %d removed, %d modified",
		len(diff.Added), len(diff.Removed), len(diff.Modified))
	return nil
}

// unifiedListingDiff renders the structural diff as a unified diff of
// the two revisions' "logical_key hash" listings.
func unifiedListingDiff(name string, leftRef string, rightRef string, diff *ppkg.PackageDiff) (string, error) {
	if leftRef == "" {
		leftRef = ppkg.DefaultTag
	}
	if rightRef == "" {
		rightRef = ppkg.DefaultTag
	}

	var left, right []string
	for _, e := range diff.Removed {
		left = append(left, fmt.Sprintf("%s %s\n", e.LogicalKey, e.ContentHash))
	}
	for _, m := range diff.Modified {
		left = append(left, fmt.Sprintf("%s %s\n", m.LogicalKey, m.OldHash))
		right = append(right, fmt.Sprintf("%s %s\n", m.LogicalKey, m.NewHash))
	}
	for _, e := range diff.Added {
		right = append(right, fmt.Sprintf("%s %s\n", e.LogicalKey, e.ContentHash))
	}

	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        left,
		B:        right,
		FromFile: fmt.Sprintf("%s@%s", name, leftRef),
		ToFile:   fmt.Sprintf("%s@%s", name, rightRef),
		Context:  3,
	})
}
