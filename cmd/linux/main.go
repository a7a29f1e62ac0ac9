//go:build linux

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

package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/CasetteProject/casette-core/pkg/config"
	"github.com/CasetteProject/casette-core/pkg/devices"
	"github.com/CasetteProject/casette-core/pkg/helpers"
	"github.com/CasetteProject/casette-core/pkg/service"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func run() error {
	daemonMode := flag.Bool(
		"daemon",
		false,
		"run service in foreground logging to stderr",
	)
	configDir := flag.String(
		"config",
		"",
		"path to config directory (default: user config dir)",
	)
	showVersion := flag.Bool(
		"version",
		false,
		"print version and exit",
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s v%s\n", config.AppName, config.AppVersion)
		return nil
	}

	var logWriters []io.Writer
	if *daemonMode {
		logWriters = []io.Writer{os.Stderr}
	}

	if err := helpers.InitLogging(helpers.LogDir(), logWriters); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	cfgDir := *configDir
	if cfgDir == "" {
		cfgDir = helpers.ConfigDir()
	}

	cfg, err := config.NewConfig(cfgDir, config.BaseDefaults)
	if err != nil {
		log.Error().Err(err).Msg("error loading config")
		return fmt.Errorf("error loading config: %w", err)
	}
	cfg.SetDebugLogging(cfg.DebugLogging())

	if cfg.DeviceID() == "" {
		if err := cfg.Save(); err != nil {
			log.Error().Err(err).Msg("error saving config")
			return fmt.Errorf("error saving config: %w", err)
		}
	}

	defer func() {
		if err := recover(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Panic: %s\n", err)
			log.Fatal().Msgf("panic: %v", err)
		}
	}()

	src, err := devices.NewEventSource()
	if err != nil {
		log.Error().Err(err).Msg("error creating device event source")
		return fmt.Errorf("error creating device event source: %w", err)
	}

	stopSvc, err := service.Start(cfg, src)
	if err != nil {
		log.Error().Err(err).Msg("error starting service")
		return fmt.Errorf("error starting service: %w", err)
	}

	defer func() {
		if err := stopSvc(); err != nil {
			log.Error().Err(err).Msg("error stopping service")
		}
	}()

	sigs := make(chan os.Signal, 1)
	defer close(sigs)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	<-sigs

	return nil
}
