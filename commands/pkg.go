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
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/packsmith/ppkg/pkg/ppkg"
	"github.com/packsmith/ppkg/pkg/tracking"
)

// Config keys as stored in the user config file.
const (
	ConfigKeyBackend  = "backend.mode"
	ConfigKeyRegistry = "backend.registry"
	ConfigKeyEndpoint = "platform.endpoint"
)

// Backend modes.
const (
	BackendModeDirect   = "direct"
	BackendModePlatform = "platform"
)

// ConfigStore loads and persists the user configuration.
type ConfigStore interface {
	Load(ctx context.Context) (*Config, error)
	Store(ctx context.Context, cfg *Config) error
}

// Config is the CLI configuration.
type Config struct {
	// BackendMode selects the backend implementation: "direct" or
	// "platform". Empty means direct.
	BackendMode string
	// DefaultRegistry is used when a command doesn't pass --registry.
	DefaultRegistry string
	// PlatformEndpoint is the registry service URL (platform mode only).
	PlatformEndpoint string
	// PlatformToken is the bearer token handed over by the auth
	// collaborator. Never persisted by the store.
	PlatformToken string
}

type CobraCommand func(cmd *cobra.Command, args []string)
type CobraErrorCommand func(cmd *cobra.Command, args []string) error
type Run func(CobraErrorCommand) CobraCommand

// WithSilent marks errors that have already been shown to the user.
type WithSilent interface {
	Silent() bool
}

type exitError struct {
	code int
}

func (e *exitError) ExitCode() int {
	return e.code
}

func (e *exitError) Silent() bool {
	return true
}

func (e *exitError) Error() string {
	return fmt.Sprintf("ExitError - exit code: %d", e.code)
}

func newExitError(code int) *exitError {
	return &exitError{
		code: code,
	}
}

// DefaultRunWrapper adapts an error-returning command to cobra's Run,
// reporting unsilenced errors on stderr through the UI.
func DefaultRunWrapper(f CobraErrorCommand) CobraCommand {
	return func(cmd *cobra.Command, args []string) {
		err := f(cmd, args)
		if err == nil {
			return
		}
		if s, ok := err.(WithSilent); !ok || !s.Silent() {
			pkgUI.ReportError("%v", err)
		}
	}
}

type pkgHandler struct {
	cfg      *Config
	cfgStore ConfigStore
	ui       ppkg.UI
	track    tracking.Track
}

var pkgUI = ppkg.FmtUI

// Pkg builds the package command tree.
func Pkg(run Run, track tracking.Track, configStore ConfigStore, ui ppkg.UI) (*cobra.Command, error) {
	if ui == nil {
		ui = pkgUI
	}
	if track == nil {
		track = tracking.NopTrack
	}

	handler := &pkgHandler{
		cfgStore: configStore,
		ui:       ui,
		track:    track,
	}

	// 1. Loads the config before invoking the command.
	// 2. Intercepts any error and checks if it is an already-reported
	//    error. If it is, replaces it with a silent error.
	// 3. Wraps the call into the given 'run' function.
	errorCfgRun := func(f CobraErrorCommand) CobraCommand {
		return run(func(cmd *cobra.Command, args []string) error {
			if handler.cfg == nil {
				cfg, err := handler.cfgStore.Load(cmd.Context())
				if err != nil {
					return err
				}
				handler.cfg = cfg
			}

			err := f(cmd, args)

			if ppkg.IsErrAlreadyReported(err) {
				return newExitError(1)
			}
			return err
		})
	}

	cmd := &cobra.Command{
		Use:   "pkg",
		Short: "Manage data packages",
	}
	cmd.PersistentFlags().String("backend", "", "backend to use: 'direct' or 'platform' (defaults to the configured mode)")
	cmd.PersistentFlags().String("registry", "", "registry to operate on (bucket, s3://bucket, or service URL)")
	cmd.PersistentFlags().StringP("output", "o", "text", "output format: text, json or yaml")

	createCmd := &cobra.Command{
		Use:   "create <namespace/name>",
		Short: "Creates and pushes a new package revision from source objects",
		Long: `Creates a new package revision from the given source objects and
pushes it to the registry.

Source objects are referenced by storage URI (s3://bucket/key) via the
--from flag, which may be repeated. By default the objects keep their
directory structure, minus the prefix they all share; with
--organize=false keys are flattened to basenames, and a later source
silently replaces an earlier one with the same basename.

Without --copy the revision references the source objects in place.
With --copy the object bytes are copied into the registry.`,
		Example: `  # Create a package from two objects, keeping 'raw/' structure.
  ppkg pkg create team/demo --from s3://bucket/raw/a.csv --from s3://bucket/raw/b.csv

  # Flatten keys and copy bytes into the registry.
  ppkg pkg create team/demo --from s3://bucket/raw/a.csv --organize=false --copy`,
		Run:  errorCfgRun(handler.pkgCreate),
		Args: cobra.ExactArgs(1),
	}
	addRevisionFlags(createCmd)
	cmd.AddCommand(createCmd)

	updateCmd := &cobra.Command{
		Use:   "update <namespace/name>",
		Short: "Adds source objects to an existing package and pushes a new revision",
		Long: `Fetches the latest revision of the package, merges the given source
objects and metadata onto it, and pushes the result as a new revision.
Existing entries keep their logical keys unless a new source maps to the
same key.`,
		Run:  errorCfgRun(handler.pkgUpdate),
		Args: cobra.ExactArgs(1),
	}
	addRevisionFlags(updateCmd)
	cmd.AddCommand(updateCmd)

	diffCmd := &cobra.Command{
		Use:   "diff <namespace/name> [<left-ref>] [<right-ref>]",
		Short: "Shows what changed between two revisions of a package",
		Long: `Compares two revisions of a package. Each ref may be a top hash or a
tag; a missing ref means 'latest'. The text output additionally renders
a unified listing diff.`,
		Run:  errorCfgRun(handler.pkgDiff),
		Args: cobra.RangeArgs(1, 3),
	}
	cmd.AddCommand(diffCmd)

	browseCmd := &cobra.Command{
		Use:   "browse <namespace/name> [<path-prefix>]",
		Short: "Lists the content entries of a package revision",
		Run:   errorCfgRun(handler.pkgBrowse),
		Args:  cobra.RangeArgs(1, 2),
	}
	browseCmd.Flags().String("ref", "", "revision to browse: top hash or tag (default 'latest')")
	cmd.AddCommand(browseCmd)

	searchCmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Searches for packages in the registry",
		Long: `Searches package names in the registry. The query is matched as a
substring; glob patterns ('team/*') are honored as-is.`,
		Run:  errorCfgRun(handler.pkgSearch),
		Args: cobra.ExactArgs(1),
	}
	cmd.AddCommand(searchCmd)

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Shows or changes the stored configuration",
	}
	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Prints the current configuration",
		Run:   errorCfgRun(handler.configShow),
		Args:  cobra.NoArgs,
	})
	configCmd.AddCommand(&cobra.Command{
		Use:   "set-backend <direct|platform>",
		Short: "Sets the backend mode",
		Run:   errorCfgRun(handler.configSetBackend),
		Args:  cobra.ExactArgs(1),
	})
	configCmd.AddCommand(&cobra.Command{
		Use:   "set-registry <registry>",
		Short: "Sets the default registry",
		Run:   errorCfgRun(handler.configSetRegistry),
		Args:  cobra.ExactArgs(1),
	})
	configCmd.AddCommand(&cobra.Command{
		Use:   "set-endpoint <url>",
		Short: "Sets the platform registry service endpoint",
		Run:   errorCfgRun(handler.configSetEndpoint),
		Args:  cobra.ExactArgs(1),
	})
	cmd.AddCommand(configCmd)

	return cmd, nil
}

func addRevisionFlags(cmd *cobra.Command) {
	cmd.Flags().StringArray("from", nil, "source object URI (repeatable)")
	cmd.Flags().StringP("message", "m", "", "revision message")
	cmd.Flags().StringArray("meta", nil, "package metadata entry as key=value (repeatable)")
	cmd.Flags().String("meta-json", "", "package metadata as a JSON object (overrides --meta)")
	cmd.Flags().Bool("organize", true, "keep directory structure for logical keys")
	cmd.Flags().Bool("copy", false, "copy object bytes into the registry instead of referencing them")
}

func (h *pkgHandler) registryOf(cmd *cobra.Command) (string, error) {
	registry, err := cmd.Flags().GetString("registry")
	if err != nil {
		return "", err
	}
	if registry == "" {
		registry = h.cfg.DefaultRegistry
	}
	if registry == "" {
		return "", h.ui.ReportError("No registry given; pass --registry or set one with 'pkg config set-registry'")
	}
	return registry, nil
}

func (h *pkgHandler) revisionOptions(cmd *cobra.Command, args []string) (*ppkg.RevisionOptions, error) {
	registry, err := h.registryOf(cmd)
	if err != nil {
		return nil, err
	}
	sources, err := cmd.Flags().GetStringArray("from")
	if err != nil {
		return nil, err
	}
	message, err := cmd.Flags().GetString("message")
	if err != nil {
		return nil, err
	}
	organize, err := cmd.Flags().GetBool("organize")
	if err != nil {
		return nil, err
	}
	copyMode, err := cmd.Flags().GetBool("copy")
	if err != nil {
		return nil, err
	}
	metadata, err := metadataFromFlags(cmd)
	if err != nil {
		return nil, h.ui.ReportError("Invalid metadata: %v", err)
	}

	return &ppkg.RevisionOptions{
		Name:         args[0],
		SourceURIs:   sources,
		Registry:     registry,
		Metadata:     metadata,
		Message:      message,
		AutoOrganize: organize,
		CopyMode:     copyMode,
	}, nil
}

func (h *pkgHandler) pkgCreate(cmd *cobra.Command, args []string) error {
	return h.runRevision(cmd, args, "pkg create", func(ctx context.Context, ops *ppkg.Ops, opts ppkg.RevisionOptions) (*ppkg.CreateResult, error) {
		return ops.CreateRevision(ctx, opts)
	})
}

func (h *pkgHandler) pkgUpdate(cmd *cobra.Command, args []string) error {
	return h.runRevision(cmd, args, "pkg update", func(ctx context.Context, ops *ppkg.Ops, opts ppkg.RevisionOptions) (*ppkg.CreateResult, error) {
		return ops.UpdateRevision(ctx, opts)
	})
}

func (h *pkgHandler) runRevision(cmd *cobra.Command, args []string, eventName string,
	invoke func(context.Context, *ppkg.Ops, ppkg.RevisionOptions) (*ppkg.CreateResult, error)) error {

	ctx := cmd.Context()
	opts, err := h.revisionOptions(cmd, args)
	if err != nil {
		return err
	}
	ops, err := h.buildOps(ctx, cmd)
	if err != nil {
		return err
	}

	result, err := invoke(ctx, ops, *opts)
	h.trackOp(ctx, eventName, opts.Name, opts.Registry, err)
	if err != nil {
		return err
	}

	for _, w := range result.Warnings {
		h.ui.ReportWarning("%s", w)
	}
	return h.renderResult(cmd, result)
}

func (h *pkgHandler) pkgDiff(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	registry, err := h.registryOf(cmd)
	if err != nil {
		return err
	}
	name := args[0]
	leftRef, rightRef := "", ""
	if len(args) > 1 {
		leftRef = args[1]
	}
	if len(args) > 2 {
		rightRef = args[2]
	}

	ops, err := h.buildOps(ctx, cmd)
	if err != nil {
		return err
	}
	diff, err := ops.DiffRevisions(ctx, name, registry, leftRef, rightRef)
	h.trackOp(ctx, "pkg diff", name, registry, err)
	if err != nil {
		return err
	}
	return h.renderDiff(cmd, name, leftRef, rightRef, diff)
}

func (h *pkgHandler) pkgBrowse(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	registry, err := h.registryOf(cmd)
	if err != nil {
		return err
	}
	name := args[0]
	prefix := ""
	if len(args) > 1 {
		prefix = args[1]
	}
	ref, err := cmd.Flags().GetString("ref")
	if err != nil {
		return err
	}

	ops, err := h.buildOps(ctx, cmd)
	if err != nil {
		return err
	}
	entries, err := ops.BrowseContent(ctx, name, registry, ref, prefix)
	h.trackOp(ctx, "pkg browse", name, registry, err)
	if err != nil {
		return err
	}
	return h.renderEntries(cmd, entries)
}

func (h *pkgHandler) pkgSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	// Search works without a registry when the backend has a default.
	registry, err := cmd.Flags().GetString("registry")
	if err != nil {
		return err
	}
	if registry == "" {
		registry = h.cfg.DefaultRegistry
	}

	ops, err := h.buildOps(ctx, cmd)
	if err != nil {
		return err
	}
	infos, err := ops.SearchPackages(ctx, args[0], registry)
	h.trackOp(ctx, "pkg search", args[0], registry, err)
	if err != nil {
		return err
	}
	return h.renderInfos(cmd, infos)
}

func (h *pkgHandler) configShow(cmd *cobra.Command, args []string) error {
	mode := h.cfg.BackendMode
	if mode == "" {
		mode = BackendModeDirect
	}
	h.ui.ReportInfo("backend: %s", mode)
	h.ui.ReportInfo("registry: %s", h.cfg.DefaultRegistry)
	h.ui.ReportInfo("endpoint: %s", h.cfg.PlatformEndpoint)
	return nil
}

func (h *pkgHandler) configSetBackend(cmd *cobra.Command, args []string) error {
	mode := args[0]
	if mode != BackendModeDirect && mode != BackendModePlatform {
		return h.ui.ReportError("Unknown backend mode '%s'", mode)
	}
	h.cfg.BackendMode = mode
	return h.cfgStore.Store(cmd.Context(), h.cfg)
}

func (h *pkgHandler) configSetRegistry(cmd *cobra.Command, args []string) error {
	if err := ppkg.ValidateRegistry(args[0]); err != nil {
		return err
	}
	h.cfg.DefaultRegistry = ppkg.NormalizeRegistry(args[0])
	return h.cfgStore.Store(cmd.Context(), h.cfg)
}

func (h *pkgHandler) configSetEndpoint(cmd *cobra.Command, args []string) error {
	h.cfg.PlatformEndpoint = args[0]
	return h.cfgStore.Store(cmd.Context(), h.cfg)
}

func (h *pkgHandler) trackOp(ctx context.Context, name string, pkg string, registry string, err error) {
	properties := map[string]string{
		"package":  pkg,
		"registry": registry,
	}
	if err != nil {
		properties["error"] = err.Error()
	}
	_ = h.track(ctx, tracking.NewEvent(name, properties))
}
