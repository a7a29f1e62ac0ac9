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

// Package service assembles the storage, content and display subsystems
// into the running daemon.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/CasetteProject/casette-core/pkg/config"
	"github.com/CasetteProject/casette-core/pkg/devices"
	"github.com/CasetteProject/casette-core/pkg/display"
	"github.com/CasetteProject/casette-core/pkg/gateway"
	"github.com/CasetteProject/casette-core/pkg/helpers/command"
	"github.com/CasetteProject/casette-core/pkg/mount"
	"github.com/CasetteProject/casette-core/pkg/resolver"
	"github.com/CasetteProject/casette-core/pkg/session"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// cleanupTimeout bounds the startup and shutdown sweeps of the mount root.
const cleanupTimeout = 60 * time.Second

// Start wires the gateway, mount manager, content resolver, display
// supervisor and session coordinator together, sweeps stale mounts left by
// a previous run, and starts consuming events from src. The returned stop
// function shuts everything down in reverse order and blocks until the
// coordinator has torn down all live sessions.
func Start(cfg *config.Instance, src devices.EventSource) (stop func() error, err error) {
	log.Info().Msgf("version: %s", config.AppVersion)
	log.Info().Msgf("device ID: %s", cfg.DeviceID())

	clock := clockwork.NewRealClock()
	gw := gateway.NewExecGateway(&command.RealExecutor{}, cfg.UseSudo())
	mounts := mount.NewManager(gw, cfg.MountRoot(), cfg.UnmountGrace(), clock)

	// a crashed previous run can leave mounts and directories behind
	cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), cleanupTimeout)
	if cleanupErr := mounts.CleanupAll(cleanupCtx); cleanupErr != nil {
		log.Warn().Err(cleanupErr).
			Str("root", mounts.Root()).
			Msg("startup mount sweep incomplete")
	}
	cleanupCancel()

	res := resolver.New(cfg.EntryFile())
	disp := display.NewKioskSupervisor(
		cfg.Browser(),
		cfg.XDisplay(),
		cfg.DisplayExtraArgs(),
		cfg.DisplayStopGrace(),
		clock,
	)

	coord := session.NewCoordinator(
		mounts,
		res,
		disp,
		cfg.DeviceSettle(),
		cfg.CrashPollInterval(),
		clock,
	)

	if startErr := src.Start(); startErr != nil {
		return nil, fmt.Errorf("failed to start device event source: %w", startErr)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		coord.Run(runCtx, src.Events())
	}()

	log.Info().Str("mount_root", mounts.Root()).Msg("service started")

	return func() error {
		log.Info().Msg("stopping service")

		src.Stop()
		cancel()
		<-done

		// catch anything the coordinator could not release in time
		ctx, sweepCancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer sweepCancel()
		if err := mounts.CleanupAll(ctx); err != nil {
			log.Warn().Err(err).Msg("shutdown mount sweep incomplete")
			return fmt.Errorf("shutdown mount sweep incomplete: %w", err)
		}

		log.Info().Msg("service stopped")
		return nil
	}, nil
}
