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

package main

import (
	"context"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/packsmith/ppkg/commands"
	"github.com/packsmith/ppkg/config"
	"github.com/packsmith/ppkg/config/store"
	"github.com/packsmith/ppkg/pkg/tracking"
)

var (
	rootCmd = &cobra.Command{
		Use:              "ppkg",
		Short:            "Run data package commands",
		TraverseChildren: true,
	}
)

func getTrimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func main() {
	// All diagnostics go to stderr; stdout carries command output only.
	logrus.SetOutput(os.Stderr)
	if level, err := logrus.ParseLevel(getTrimmedEnv("PPKG_LOG_LEVEL")); err == nil {
		logrus.SetLevel(level)
	}

	cfgFile := getTrimmedEnv(config.ConfigFileEnv)
	shouldLogTracking := getTrimmedEnv("PPKG_LOG_TRACKING")

	track := func(ctx context.Context, te *tracking.Event) error {
		if shouldLogTracking != "" {
			logrus.WithField("event", te.Name).
				WithField("id", te.ID).
				WithFields(logrus.Fields(toFields(te.Properties))).
				Info("operation")
		}
		return nil
	}

	configStore := store.NewViper()
	cobra.OnInitialize(func() {
		if cfgFile == "" {
			cfgFile, _ = config.UserConfigFile()
		}
		if err := configStore.Init(cfgFile); err != nil {
			logrus.WithError(err).Warn("could not read config file")
		}
	})

	pkgCmd, err := commands.Pkg(commands.DefaultRunWrapper, track, configStore, nil)
	if err != nil {
		logrus.Fatal(err)
	}
	rootCmd.AddCommand(pkgCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func toFields(properties map[string]string) map[string]interface{} {
	fields := make(map[string]interface{}, len(properties))
	for k, v := range properties {
		fields[k] = v
	}
	return fields
}
