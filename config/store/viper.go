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

package store

import (
	"context"
	"os"
	"path/filepath"

	"github.com/alexflint/go-filemutex"
	"github.com/spf13/viper"

	"github.com/packsmith/ppkg/commands"
	"github.com/packsmith/ppkg/config"
)

// Viper loads and stores the CLI configuration through viper.
// Environment variables override file values on load; tokens only ever
// come from the environment.
type Viper struct {
	cfgFile string
}

func NewViper() *Viper {
	return &Viper{}
}

func (vc *Viper) Init(cfgFile string) error {
	vc.cfgFile = cfgFile
	viper.SetConfigFile(cfgFile)
	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine; it appears on first Store.
		if os.IsNotExist(err) {
			return nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return err
	}
	return nil
}

func (vc *Viper) Load(ctx context.Context) (*commands.Config, error) {
	result := commands.Config{
		BackendMode:      viper.GetString(commands.ConfigKeyBackend),
		DefaultRegistry:  viper.GetString(commands.ConfigKeyRegistry),
		PlatformEndpoint: viper.GetString(commands.ConfigKeyEndpoint),
	}

	if mode := os.Getenv(config.BackendEnv); mode != "" {
		result.BackendMode = mode
	}
	if registry := os.Getenv(config.RegistryEnv); registry != "" {
		result.DefaultRegistry = registry
	}
	if endpoint := os.Getenv(config.PlatformEndpointEnv); endpoint != "" {
		result.PlatformEndpoint = endpoint
	}
	result.PlatformToken = os.Getenv(config.PlatformTokenEnv)

	return &result, nil
}

func (vc *Viper) Store(ctx context.Context, cfg *commands.Config) error {
	viper.Set(commands.ConfigKeyBackend, cfg.BackendMode)
	viper.Set(commands.ConfigKeyRegistry, cfg.DefaultRegistry)
	viper.Set(commands.ConfigKeyEndpoint, cfg.PlatformEndpoint)

	// Concurrent invocations write the same file; serialize them with a
	// lock next to it.
	if vc.cfgFile != "" {
		if err := os.MkdirAll(filepath.Dir(vc.cfgFile), 0755); err != nil {
			return err
		}
		m, err := filemutex.New(vc.cfgFile + ".lock")
		if err != nil {
			return err
		}
		if err := m.Lock(); err != nil {
			return err
		}
		defer m.Unlock()
	}
	return viper.WriteConfigAs(vc.cfgFile)
}

var _ commands.ConfigStore = (*Viper)(nil)
