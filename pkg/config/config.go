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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/CasetteProject/casette-core/pkg/helpers/syncutil"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	AppName       = "casette"
	AppVersion    = "1.0.0"
	SchemaVersion = 1
	CfgEnv        = "CASETTE_CFG"
	CfgFile       = "config.toml"
)

type Values struct {
	Mount        Mount   `toml:"mount,omitempty"`
	Media        Media   `toml:"media,omitempty"`
	Display      Display `toml:"display,omitempty"`
	Devices      Devices `toml:"devices,omitempty"`
	Service      Service `toml:"service,omitempty"`
	ConfigSchema int     `toml:"config_schema"`
	DebugLogging bool    `toml:"debug_logging"`
}

// Mount configures the managed mount root and unmount behaviour.
type Mount struct {
	// Root is the directory under which all mount points are created.
	// Its namespace is owned exclusively by this service.
	Root string `toml:"root" validate:"required"`
	// UnmountGraceMS is the wait in milliseconds between force-releasing
	// handles and unmounting, and between unmount retries.
	UnmountGraceMS int `toml:"unmount_grace_ms" validate:"gte=0,lte=60000"`
	// UseSudo prefixes mount/umount commands with sudo. Needed when the
	// service itself does not run as root.
	UseSudo bool `toml:"use_sudo"`
}

// Media configures how mounted volumes are inspected.
type Media struct {
	// EntryFile is the well-known document name searched for at the top
	// level of a mounted volume.
	EntryFile string `toml:"entry_file" validate:"required"`
}

// Display configures the kiosk browser session.
type Display struct {
	// Browser is the display binary. Empty means auto-detect.
	Browser string `toml:"browser,omitempty"`
	// XDisplay is the value of the DISPLAY environment variable passed to
	// the browser process.
	XDisplay string `toml:"x_display"`
	// ExtraArgs are appended to the built-in kiosk flag set.
	ExtraArgs []string `toml:"extra_args,omitempty,multiline"`
	// StopGraceMS is how long a display process is given to exit after
	// SIGTERM before it is killed.
	StopGraceMS int `toml:"stop_grace_ms" validate:"gte=0,lte=60000"`
	// CrashPollMS is the interval of the display liveness probe.
	CrashPollMS int `toml:"crash_poll_ms" validate:"gte=0,lte=60000"`
}

// Devices configures the device event source.
type Devices struct {
	// SettleMS is how long to wait after an add event before mounting,
	// giving the kernel time to finish probing the new partition.
	SettleMS int `toml:"settle_ms" validate:"gte=0,lte=30000"`
}

type Service struct {
	DeviceID string `toml:"device_id,omitempty"`
}

var BaseDefaults = Values{
	ConfigSchema: SchemaVersion,
	Mount: Mount{
		Root:           "/mnt/casette",
		UnmountGraceMS: 2000,
		UseSudo:        true,
	},
	Media: Media{
		EntryFile: "index.html",
	},
	Display: Display{
		XDisplay:    ":0",
		StopGraceMS: 3000,
		CrashPollMS: 2000,
	},
	Devices: Devices{
		SettleMS: 2000,
	},
}

type Instance struct {
	cfgPath  string
	vals     Values
	defaults Values
	mu       syncutil.RWMutex
}

var validate = validator.New(validator.WithRequiredStructEnabled())

//nolint:gocritic // config struct copied for immutability
func NewConfig(configDir string, defaults Values) (*Instance, error) {
	cfgPath := os.Getenv(CfgEnv)
	log.Debug().Msgf("env config path: %s", cfgPath)

	if cfgPath == "" {
		cfgPath = filepath.Join(configDir, CfgFile)
	}

	cfg := Instance{
		mu:       syncutil.RWMutex{},
		cfgPath:  cfgPath,
		vals:     defaults,
		defaults: defaults,
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		log.Info().Msg("saving new default config to disk")

		err := os.MkdirAll(filepath.Dir(cfgPath), 0o750)
		if err != nil {
			return nil, fmt.Errorf("failed to create config directory: %w", err)
		}

		err = cfg.Save()
		if err != nil {
			return nil, err
		}
	}

	err := cfg.Load()
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Instance) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfgPath == "" {
		return errors.New("config path not set")
	}

	data, err := os.ReadFile(c.cfgPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// Start with defaults, then unmarshal file values on top. Fields not
	// present in the file retain their default values.
	newVals := c.defaults
	err = toml.Unmarshal(data, &newVals)
	if err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if newVals.ConfigSchema != SchemaVersion {
		log.Error().Msgf(
			"schema version mismatch: got %d, expecting %d",
			newVals.ConfigSchema,
			SchemaVersion,
		)
		return errors.New("schema version mismatch")
	}

	if err := validate.Struct(&newVals); err != nil {
		return fmt.Errorf("invalid config values: %w", err)
	}

	c.vals = newVals
	return nil
}

func (c *Instance) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfgPath == "" {
		return errors.New("config path not set")
	}

	c.vals.ConfigSchema = SchemaVersion

	// generate a device id if one doesn't exist
	if c.vals.Service.DeviceID == "" {
		newID := uuid.New().String()
		c.vals.Service.DeviceID = newID
		log.Info().Msgf("generated new device id: %s", newID)
	}

	data, err := toml.Marshal(&c.vals)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.cfgPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func (c *Instance) MountRoot() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Mount.Root
}

func (c *Instance) UnmountGrace() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.vals.Mount.UnmountGraceMS) * time.Millisecond
}

func (c *Instance) UseSudo() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Mount.UseSudo
}

func (c *Instance) EntryFile() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Media.EntryFile
}

func (c *Instance) Browser() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Display.Browser
}

func (c *Instance) XDisplay() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Display.XDisplay
}

func (c *Instance) DisplayExtraArgs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	args := make([]string, len(c.vals.Display.ExtraArgs))
	copy(args, c.vals.Display.ExtraArgs)
	return args
}

func (c *Instance) DisplayStopGrace() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.vals.Display.StopGraceMS) * time.Millisecond
}

func (c *Instance) CrashPollInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.vals.Display.CrashPollMS) * time.Millisecond
}

func (c *Instance) DeviceSettle() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.vals.Devices.SettleMS) * time.Millisecond
}

func (c *Instance) DeviceID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Service.DeviceID
}

func (c *Instance) DebugLogging() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.DebugLogging
}

func (c *Instance) SetDebugLogging(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.DebugLogging = enabled
	if enabled {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
