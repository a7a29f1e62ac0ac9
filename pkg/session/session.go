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

// Package session turns device add/remove events into a correctly-sequenced
// mount, inspect, display, teardown lifecycle: one session per physical
// device, a single active foreground display at any time.
package session

import (
	"context"

	"github.com/CasetteProject/casette-core/pkg/devices"
	"github.com/CasetteProject/casette-core/pkg/display"
)

// State is the lifecycle state of a device session.
type State int

const (
	StateDiscovered State = iota
	StateMounting
	StateMounted
	StateNoContent
	StateDisplaying
	StateFailed
	StateTearingDown
	StateRemoved
)

func (s State) String() string {
	switch s {
	case StateDiscovered:
		return "discovered"
	case StateMounting:
		return "mounting"
	case StateMounted:
		return "mounted"
	case StateNoContent:
		return "no_content"
	case StateDisplaying:
		return "displaying"
	case StateFailed:
		return "failed"
	case StateTearingDown:
		return "tearing_down"
	case StateRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Session is the per-device lifecycle record. Exactly one exists per
// currently-present device path, and it is destroyed only after teardown
// completes, so a mount or process is never leaked.
type Session struct {
	Handle    *display.Handle
	ID        string
	MountPath string
	Device    devices.Device
	state     State
}

// Mounter is the mount lifecycle operations the coordinator drives.
type Mounter interface {
	Mount(ctx context.Context, dev devices.Device) (string, error)
	Unmount(ctx context.Context, mountPath string) error
}

// Resolver locates the entry document on a mounted volume.
type Resolver interface {
	Resolve(mountPath string) (string, bool)
}
