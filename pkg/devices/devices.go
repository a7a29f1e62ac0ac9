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

// Package devices delivers normalized add/remove notifications for
// removable block devices.
package devices

// Action is the kind of device notification.
type Action string

const (
	ActionAdd    Action = "add"
	ActionRemove Action = "remove"
)

// Device is an immutable snapshot of a block device as observed from the
// event source. A re-insertion of physically the same media is a new Device
// value carried by a fresh event, never a mutation of an old one.
type Device struct {
	// Path is the block device node (e.g. "/dev/sdb1"). It is the identity
	// key for sessions.
	Path string

	// Label is the filesystem volume label, if any.
	Label string

	// VolumeID is a unique volume identifier such as the filesystem UUID.
	// May be empty if unavailable.
	VolumeID string

	// FSType is the filesystem type hint (e.g. "vfat"). May be empty.
	FSType string
}

// Event is a single add or remove notification for one device.
type Event struct {
	Action Action
	Device Device
}

// EventSource delivers per-device add/remove events. Implementations are
// assumed de-duplicated at the transport level but not free of logical
// duplicates; consumers must tolerate repeats.
type EventSource interface {
	// Events returns the channel device events are delivered on.
	// The channel is closed when Stop is called.
	Events() <-chan Event

	// Start begins monitoring for device events.
	Start() error

	// Stop terminates the source and releases all resources. After Stop
	// returns, the Events channel is closed.
	Stop()
}
