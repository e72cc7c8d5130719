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

package config

import (
	"os"
)

const (
	// ConfigFileEnv if set, points at the config file to use.
	ConfigFileEnv = "PPKG_CONFIG_FILE"
	// UserConfigDirEnv if set, will be the directory the user config
	// will be loaded from.
	UserConfigDirEnv = "PPKG_USER_CONFIG_DIR"
	// BackendEnv overrides the configured backend mode.
	BackendEnv = "PPKG_BACKEND"
	// RegistryEnv overrides the configured default registry.
	RegistryEnv = "PPKG_REGISTRY"
	// PlatformEndpointEnv overrides the configured registry service URL.
	PlatformEndpointEnv = "PPKG_PLATFORM_ENDPOINT"
	// PlatformTokenEnv carries the bearer token issued by the auth
	// collaborator. Tokens are never written to the config file.
	PlatformTokenEnv = "PPKG_PLATFORM_TOKEN"
)

func EnsureDirectory(dir string, err error) (string, error) {
	if err != nil {
		return dir, err
	}
	return dir, os.MkdirAll(dir, 0755)
}
