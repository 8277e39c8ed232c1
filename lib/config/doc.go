// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the tether
// daemon.
//
// Configuration is loaded from a single file passed on the command
// line. There are no fallbacks, no ~/.config discovery, and no
// environment-variable overrides; the file is the whole story. Every
// timing figure, weight, and threshold the daemon uses lives here with
// a stated default, so [Default] alone is a runnable configuration
// once a principal is set.
//
// Endpoint seeds may sit inline under `endpoints` or in a separate
// JSONC document (`endpoints_file`), which allows comments and
// trailing commas; [Config.Seeds] merges the two.
package config
