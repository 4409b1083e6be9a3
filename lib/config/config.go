// Copyright 2026 The Deploynix Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads deployment defaults from a single YAML file.
//
// The file is located by the DEPLOYNIX_CONFIG environment variable or
// the --config flag; there is no automatic discovery, no home-directory
// probing, and no merging of multiple files. Unlike flags and
// environment variables, the file is entirely optional: with no file
// configured, Load returns the zero Config and every default comes
// from the command line.
//
// Precedence is decided by the caller: flags beat environment
// variables beat this file.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// EnvConfig names the environment variable pointing at the config file.
const EnvConfig = "DEPLOYNIX_CONFIG"

// Config holds per-machine deployment defaults. Every field maps to a
// CLI flag and is only consulted when the flag and its environment
// fallback are both unset.
type Config struct {
	// Flake is the default flake reference ("."-style or remote).
	Flake string `yaml:"flake"`

	// File is the default legacy Nix expression path. Mutually
	// exclusive with Flake; if both are set, Flake wins (same
	// precedence as the flags).
	File string `yaml:"file"`

	// BuildHost is the default build endpoint ("user@address").
	BuildHost string `yaml:"build_host"`

	// TargetHost is the default target endpoint.
	TargetHost string `yaml:"target_host"`

	// Specialisation pins a default specialisation name.
	Specialisation string `yaml:"specialisation"`

	// OutLink is the default result symlink path for build-only runs.
	OutLink string `yaml:"out_link"`
}

// Load reads the config file at path, falling back to DEPLOYNIX_CONFIG
// when path is empty. No file configured anywhere returns the zero
// Config. A configured file that is missing or malformed is an error:
// an operator who pointed at a file gets told when it is broken, not
// silently ignored.
func Load(path string) (Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path == "" {
		return Config{}, nil
	}
	return LoadFile(path)
}

// LoadFile reads and decodes a specific config file. Unknown keys are
// rejected so typos surface as errors instead of ignored defaults.
func LoadFile(path string) (Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("config file: %w", err)
	}
	defer file.Close()

	var cfg Config
	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			// An empty file is a valid "no defaults" config.
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}
