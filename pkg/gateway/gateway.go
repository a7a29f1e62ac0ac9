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

// Package gateway performs the mount, unmount and process-kill operations
// that require elevated rights, behind a narrow command interface.
package gateway

import "context"

// Gateway is the privileged operation interface consumed by the mount
// manager and coordinator. Implementations hold no cross-call state; the OS
// mount and process tables are the source of truth.
type Gateway interface {
	// Mount attaches devicePath at mountPath. fsType may be empty to let
	// the kernel probe the filesystem.
	Mount(ctx context.Context, devicePath, mountPath, fsType string) error

	// Unmount detaches the filesystem mounted at mountPath.
	Unmount(ctx context.Context, mountPath string) error

	// ForceReleaseHandles terminates processes holding open handles under
	// mountPath. Finding no holders is not an error.
	ForceReleaseHandles(ctx context.Context, mountPath string) error

	// KillProcess forcibly terminates the process with the given pid.
	KillProcess(pid int) error
}
