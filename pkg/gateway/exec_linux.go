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

//go:build linux

package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/CasetteProject/casette-core/pkg/helpers/command"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

// ExecGateway shells out to the system mount/umount/fuser binaries,
// optionally through sudo when the service does not run as root.
type ExecGateway struct {
	exec    command.Executor
	useSudo bool
}

// NewExecGateway creates a gateway backed by the given executor.
func NewExecGateway(exec command.Executor, useSudo bool) *ExecGateway {
	return &ExecGateway{
		exec:    exec,
		useSudo: useSudo,
	}
}

// run executes name with args, prefixing sudo when configured.
func (g *ExecGateway) run(ctx context.Context, name string, args ...string) error {
	if g.useSudo {
		args = append([]string{name}, args...)
		name = "sudo"
	}
	//nolint:wrapcheck // callers wrap with operation context
	return g.exec.Run(ctx, name, args...)
}

func (g *ExecGateway) Mount(ctx context.Context, devicePath, mountPath, fsType string) error {
	args := make([]string, 0, 4)
	if fsType != "" {
		args = append(args, "-t", fsType)
	}
	args = append(args, devicePath, mountPath)

	if err := g.run(ctx, "mount", args...); err != nil {
		return fmt.Errorf("mount %s at %s: %w", devicePath, mountPath, err)
	}
	return nil
}

func (g *ExecGateway) Unmount(ctx context.Context, mountPath string) error {
	if err := g.run(ctx, "umount", mountPath); err != nil {
		return fmt.Errorf("umount %s: %w", mountPath, err)
	}
	return nil
}

func (g *ExecGateway) ForceReleaseHandles(ctx context.Context, mountPath string) error {
	// fuser exits non-zero when no process holds the path, which is the
	// common case and not a failure.
	if err := g.run(ctx, "fuser", "-km", mountPath); err != nil {
		log.Debug().Err(err).Str("mount_path", mountPath).Msg("fuser found no holders")
	}
	return nil
}

func (g *ExecGateway) KillProcess(pid int) error {
	err := unix.Kill(pid, unix.SIGKILL)
	if errors.Is(err, unix.ESRCH) {
		// already gone
		return nil
	}
	if err != nil {
		return fmt.Errorf("kill pid %d: %w", pid, err)
	}
	return nil
}
