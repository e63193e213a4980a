// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package dliteconfig holds process-wide configuration for the runtime
// (§6.3): the DLITE_* environment variables plus an optional YAML overlay
// for embedding programs that prefer a config file to environment state.
package dliteconfig

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sintef/dlite-go/dliteerr"
)

// Config is the process-wide configuration surface described by §6.3.
type Config struct {
	// UseBuildRoot selects development paths (DLITE_USE_BUILD_ROOT) over
	// the install prefix.
	UseBuildRoot bool `yaml:"use_build_root"`

	// Root overrides the install prefix (DLITE_ROOT).
	Root string `yaml:"root"`

	// PythonStoragePluginDirs, PythonMappingPluginDirs and
	// PythonProtocolPluginDirs are path lists for host-language extension
	// discovery. Their semantics belong to the bindings, not the core;
	// the core only carries them so embedders can read them back.
	PythonStoragePluginDirs  []string `yaml:"python_storage_plugin_dirs"`
	PythonMappingPluginDirs  []string `yaml:"python_mapping_plugin_dirs"`
	PythonProtocolPluginDirs []string `yaml:"python_protocol_plugin_dirs"`

	// ErrStream names the diagnostic stream: "stderr", "stdout", or a
	// file path.
	ErrStream string `yaml:"err_stream"`

	// FailMode is the global fail-mode: "return", "exit", or "abort".
	FailMode string `yaml:"err_fail_mode"`
}

const pathListSep = ":"

// FromEnviron reads the named DLITE_* environment variables into a Config,
// applying the same defaults as the original implementation (fail-mode
// "return", err-stream "stderr").
func FromEnviron() Config {
	cfg := Config{
		ErrStream: "stderr",
		FailMode:  "return",
	}
	if v, ok := os.LookupEnv("DLITE_USE_BUILD_ROOT"); ok {
		cfg.UseBuildRoot = isTruthy(v)
	}
	if v, ok := os.LookupEnv("DLITE_ROOT"); ok {
		cfg.Root = v
	}
	if v, ok := os.LookupEnv("DLITE_PYTHON_STORAGE_PLUGIN_DIRS"); ok {
		cfg.PythonStoragePluginDirs = splitPathList(v)
	}
	if v, ok := os.LookupEnv("DLITE_PYTHON_MAPPING_PLUGIN_DIRS"); ok {
		cfg.PythonMappingPluginDirs = splitPathList(v)
	}
	if v, ok := os.LookupEnv("DLITE_PYTHON_PROTOCOL_PLUGIN_DIRS"); ok {
		cfg.PythonProtocolPluginDirs = splitPathList(v)
	}
	if v, ok := os.LookupEnv("ERR_STREAM"); ok {
		cfg.ErrStream = v
	}
	if v, ok := os.LookupEnv("ERR_FAIL_MODE"); ok {
		cfg.FailMode = v
	}
	return cfg
}

// Load overlays path (a YAML file) on top of base. It does not consult the
// environment; LoadThenEnviron overlays the set environment variables on
// the loaded file so that they take precedence (§6.3).
func Load(path string, base Config) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, dliteerr.Wrap(dliteerr.IO, err, "read config %s", path)
	}
	cfg := base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return base, dliteerr.Wrap(dliteerr.Parse, err, "parse config %s", path)
	}
	return cfg, nil
}

// LoadThenEnviron loads path as a base and then overlays any DLITE_*/ERR_*
// environment variables that are actually set, so the environment always
// wins as §6.3 requires.
func LoadThenEnviron(path string) (Config, error) {
	cfg, err := Load(path, Config{ErrStream: "stderr", FailMode: "return"})
	if err != nil {
		return cfg, err
	}
	env := FromEnviron()
	mergeSet(&cfg, env)
	return cfg, nil
}

func mergeSet(dst *Config, env Config) {
	if _, ok := os.LookupEnv("DLITE_USE_BUILD_ROOT"); ok {
		dst.UseBuildRoot = env.UseBuildRoot
	}
	if _, ok := os.LookupEnv("DLITE_ROOT"); ok {
		dst.Root = env.Root
	}
	if _, ok := os.LookupEnv("DLITE_PYTHON_STORAGE_PLUGIN_DIRS"); ok {
		dst.PythonStoragePluginDirs = env.PythonStoragePluginDirs
	}
	if _, ok := os.LookupEnv("DLITE_PYTHON_MAPPING_PLUGIN_DIRS"); ok {
		dst.PythonMappingPluginDirs = env.PythonMappingPluginDirs
	}
	if _, ok := os.LookupEnv("DLITE_PYTHON_PROTOCOL_PLUGIN_DIRS"); ok {
		dst.PythonProtocolPluginDirs = env.PythonProtocolPluginDirs
	}
	if _, ok := os.LookupEnv("ERR_STREAM"); ok {
		dst.ErrStream = env.ErrStream
	}
	if _, ok := os.LookupEnv("ERR_FAIL_MODE"); ok {
		dst.FailMode = env.FailMode
	}
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func splitPathList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, pathListSep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// FailModeValue parses cfg.FailMode into a dliteerr.FailMode, defaulting
// to Return on an unrecognised value.
func FailModeValue(cfg Config) (dliteerr.FailMode, error) {
	switch strings.ToLower(cfg.FailMode) {
	case "", "return":
		return dliteerr.Return, nil
	case "exit":
		return dliteerr.Exit, nil
	case "abort":
		return dliteerr.Abort, nil
	default:
		return dliteerr.Return, fmt.Errorf("unrecognised fail mode %q", cfg.FailMode)
	}
}
