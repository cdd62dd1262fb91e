/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Package config holds the tunable knobs for a PDDB basis: storage geometry
overrides for testing, the paranoid-delete policy, and ambient logging
settings. Sized values default to the bit-exact constants in
internal/geometry; overriding them is only safe for tests that construct
their own isolated storage arena, since the on-disk layout depends on them.
*/
package config

import (
	"github.com/firefly-oss/pddb/internal/errors"
	"github.com/firefly-oss/pddb/internal/geometry"
)

// Config holds configuration for a mounted basis.
type Config struct {
	// KeyMaxCount is the maximum number of descriptor slots per
	// dictionary. Defaults to geometry.KeyMaxCount; tests shrink this to
	// exercise descriptor exhaustion cheaply.
	KeyMaxCount uint32 `json:"key_max_count"`

	// ParanoidDelete, if true, makes key_remove overwrite a large key's
	// physical pages with CSPRNG bytes before returning them to
	// fastspace. Small keys are never paranoid-overwritten: their slot
	// page is rewritten wholesale on the next small-pool sync anyway.
	ParanoidDelete bool `json:"paranoid_delete"`

	// LogLevel names a minimum log severity: one of "debug", "info",
	// "warn", "error". Validate checks it; nothing in this module applies
	// it to internal/logging, whose level is set with SetGlobalLevel.
	LogLevel string `json:"log_level"`

	// LogJSON selects structured JSON log output. Nothing in this module
	// applies it to internal/logging, whose mode is set with SetJSONMode.
	LogJSON bool `json:"log_json"`
}

// DefaultConfig returns sensible defaults for a production basis mount.
func DefaultConfig() *Config {
	return &Config{
		KeyMaxCount:    geometry.KeyMaxCount,
		ParanoidDelete: false,
		LogLevel:       "info",
		LogJSON:        false,
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.KeyMaxCount < 2 {
		return errors.InvalidConfig("key_max_count", "must be at least 2 (slot 0 is reserved)")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "warning", "error", "":
	default:
		return errors.InvalidConfig("log_level", "must be one of debug, info, warn, error")
	}
	return nil
}
