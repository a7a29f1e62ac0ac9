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

// Package display starts, monitors and stops the foreground display
// process. Supervisors are stateless operators; the single active handle
// slot is owned by the coordinator.
package display

import (
	"context"
	"errors"
	"sync"
)

// ErrLaunchFailed indicates the external display process failed to start.
var ErrLaunchFailed = errors.New("display process failed to start")

// Handle represents one foreground display process: a process identifier
// and the source path it is displaying.
type Handle struct {
	done       chan struct{}
	SourcePath string
	PID        int
	exitOnce   sync.Once
}

// NewHandle creates a handle for a spawned display process. The supervisor
// that spawned the process is responsible for calling MarkExited when it
// reaps it.
func NewHandle(pid int, sourcePath string) *Handle {
	return &Handle{
		done:       make(chan struct{}),
		SourcePath: sourcePath,
		PID:        pid,
	}
}

// MarkExited records that the process has exited. Safe to call more than once.
func (h *Handle) MarkExited() {
	h.exitOnce.Do(func() {
		close(h.done)
	})
}

// Done returns a channel closed when the process has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Supervisor controls an opaque external display program at the
// process-identifier level: start, liveness, terminate.
type Supervisor interface {
	// Start spawns the display process rendering entryPath full-screen
	// with no interactive chrome, and returns its handle.
	Start(ctx context.Context, entryPath string) (*Handle, error)

	// Stop requests termination, escalating to a forcible kill after a
	// bounded grace period. Tolerant of the process having already exited.
	Stop(ctx context.Context, h *Handle) error

	// IsAlive reports whether the process behind the handle is still
	// running, independent of any device event.
	IsAlive(h *Handle) bool
}
