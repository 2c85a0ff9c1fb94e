// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import "fmt"

// ArchiveDriver identifies the SQL driver for the session archive.
type ArchiveDriver string

const (
	ArchiveDriverSQLite   ArchiveDriver = "sqlite"
	ArchiveDriverPostgres ArchiveDriver = "postgres"
	ArchiveDriverMySQL    ArchiveDriver = "mysql"
)

// SessionConfig configures session storage.
//
// Live sessions always live in memory; the archive persists terminal
// sessions for later inspection and is best-effort.
type SessionConfig struct {
	Archive ArchiveConfig `yaml:"archive,omitempty" json:"archive,omitempty"`
}

// ArchiveConfig configures the terminal-session SQL archive.
type ArchiveConfig struct {
	// Enabled turns on archival of terminal sessions.
	Enabled bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// Driver selects the SQL dialect (sqlite, postgres, mysql).
	Driver ArchiveDriver `yaml:"driver,omitempty" json:"driver,omitempty" jsonschema:"enum=sqlite,enum=postgres,enum=mysql,default=sqlite"`

	// DSN is the driver-specific connection string.
	DSN string `yaml:"dsn,omitempty" json:"dsn,omitempty"`
}

// SetDefaults applies default values.
func (c *SessionConfig) SetDefaults() {
	if c.Archive.Driver == "" {
		c.Archive.Driver = ArchiveDriverSQLite
	}
	if c.Archive.Enabled && c.Archive.Driver == ArchiveDriverSQLite && c.Archive.DSN == "" {
		c.Archive.DSN = "accord.db"
	}
}

// Validate checks the session configuration.
func (c *SessionConfig) Validate() error {
	if !c.Archive.Enabled {
		return nil
	}
	switch c.Archive.Driver {
	case ArchiveDriverSQLite, ArchiveDriverPostgres, ArchiveDriverMySQL:
	default:
		return fmt.Errorf("invalid archive driver %q (valid: sqlite, postgres, mysql)", c.Archive.Driver)
	}
	if c.Archive.DSN == "" {
		return fmt.Errorf("archive dsn is required when the archive is enabled")
	}
	return nil
}
