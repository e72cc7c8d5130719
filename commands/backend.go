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

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"

	"github.com/packsmith/ppkg/pkg/direct"
	"github.com/packsmith/ppkg/pkg/platform"
	"github.com/packsmith/ppkg/pkg/ppkg"
)

// buildOps binds the configured backend to a fresh orchestrator. The
// command's --backend flag overrides the stored mode.
func (h *pkgHandler) buildOps(ctx context.Context, cmd *cobra.Command) (*ppkg.Ops, error) {
	mode, err := cmd.Flags().GetString("backend")
	if err != nil {
		return nil, err
	}
	if mode == "" {
		mode = h.cfg.BackendMode
	}

	backend, err := h.buildBackend(ctx, mode)
	if err != nil {
		return nil, err
	}
	return ppkg.NewOps(backend), nil
}

func (h *pkgHandler) buildBackend(ctx context.Context, mode string) (ppkg.Backend, error) {
	switch mode {
	case "", BackendModeDirect:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, h.ui.ReportError("Cannot load storage credentials: %v", err)
		}
		return direct.New(s3.NewFromConfig(awsCfg), h.cfg.DefaultRegistry), nil
	case BackendModePlatform:
		if h.cfg.PlatformEndpoint == "" {
			return nil, h.ui.ReportError("Platform backend selected but no endpoint configured; use 'pkg config set-endpoint'")
		}
		return platform.New(h.cfg.PlatformEndpoint, h.cfg.PlatformToken, nil), nil
	default:
		return nil, h.ui.ReportError("Unknown backend mode '%s'", mode)
	}
}
