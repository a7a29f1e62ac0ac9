// Casette Core
// Copyright (c) 2026 The Casette Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Casette Core.
//
// Casette Core is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Casette Core is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Casette Core.  If not, see <http://www.gnu.org/licenses/>.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigWritesDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(CfgEnv, "")

	cfg, err := NewConfig(dir, BaseDefaults)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dir, CfgFile))
	assert.Equal(t, "/mnt/casette", cfg.MountRoot())
	assert.Equal(t, 2*time.Second, cfg.UnmountGrace())
	assert.True(t, cfg.UseSudo())
	assert.Equal(t, "index.html", cfg.EntryFile())
	assert.Equal(t, ":0", cfg.XDisplay())
	assert.Equal(t, 3*time.Second, cfg.DisplayStopGrace())
	assert.Equal(t, 2*time.Second, cfg.CrashPollInterval())
	assert.Equal(t, 2*time.Second, cfg.DeviceSettle())
	assert.NotEmpty(t, cfg.DeviceID(), "a device id is generated on first save")
}

func TestNewConfigHonorsEnvPath(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "custom.toml")
	t.Setenv(CfgEnv, cfgPath)

	_, err := NewConfig(t.TempDir(), BaseDefaults)
	require.NoError(t, err)
	assert.FileExists(t, cfgPath)
}

func TestLoadOverlaysFileOnDefaults(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, CfgFile)
	content := fmt.Sprintf(`
config_schema = %d

[mount]
root = "/media/kiosk"
unmount_grace_ms = 500

[media]
entry_file = "start.html"
`, SchemaVersion)
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o600))
	t.Setenv(CfgEnv, cfgPath)

	cfg, err := NewConfig(dir, BaseDefaults)
	require.NoError(t, err)

	assert.Equal(t, "/media/kiosk", cfg.MountRoot())
	assert.Equal(t, 500*time.Millisecond, cfg.UnmountGrace())
	assert.Equal(t, "start.html", cfg.EntryFile())
	// untouched sections keep their defaults
	assert.Equal(t, ":0", cfg.XDisplay())
	assert.Equal(t, 2*time.Second, cfg.DeviceSettle())
}

func TestLoadRejectsSchemaMismatch(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, CfgFile)
	content := fmt.Sprintf(`
config_schema = %d

[mount]
root = "/mnt/casette"
`, SchemaVersion+1)
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o600))
	t.Setenv(CfgEnv, cfgPath)

	_, err := NewConfig(dir, BaseDefaults)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema version mismatch")
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, CfgFile)
	content := fmt.Sprintf(`
config_schema = %d

[mount]
root = ""
unmount_grace_ms = 999999
`, SchemaVersion)
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o600))
	t.Setenv(CfgEnv, cfgPath)

	_, err := NewConfig(dir, BaseDefaults)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config values")
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(CfgEnv, "")

	cfg, err := NewConfig(dir, BaseDefaults)
	require.NoError(t, err)
	firstID := cfg.DeviceID()
	require.NotEmpty(t, firstID)

	reloaded, err := NewConfig(dir, BaseDefaults)
	require.NoError(t, err)
	assert.Equal(t, firstID, reloaded.DeviceID(), "device id is stable across restarts")
}
