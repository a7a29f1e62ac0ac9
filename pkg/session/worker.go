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

package session

import (
	"context"
	"errors"
	"sync"

	"github.com/CasetteProject/casette-core/pkg/devices"
	"github.com/CasetteProject/casette-core/pkg/display"
	"github.com/CasetteProject/casette-core/pkg/helpers/syncutil"
	"github.com/CasetteProject/casette-core/pkg/mount"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type eventKind int

const (
	evAdd eventKind = iota
	evRemove
	evCrash
)

type workerEvent struct {
	handle *display.Handle
	dev    devices.Device
	kind   eventKind
}

// deviceWorker serializes all events for one device path. Its queue is
// unbounded so dispatching an event never blocks processing of other
// devices, and a remove queued behind an in-flight add is never dropped.
type deviceWorker struct {
	c       *Coordinator
	session *Session
	wake    chan struct{}
	path    string
	pending []workerEvent
	mu      syncutil.Mutex
}

func newDeviceWorker(c *Coordinator, path string) *deviceWorker {
	return &deviceWorker{
		c:    c,
		path: path,
		wake: make(chan struct{}, 1),
	}
}

func (w *deviceWorker) enqueue(ev workerEvent) {
	w.mu.Lock()
	w.pending = append(w.pending, ev)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *deviceWorker) next() (workerEvent, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pending) == 0 {
		return workerEvent{}, false
	}
	ev := w.pending[0]
	w.pending = w.pending[1:]
	return ev, true
}

func (w *deviceWorker) run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		for {
			ev, ok := w.next()
			if !ok {
				break
			}
			w.handle(ctx, ev)
		}

		select {
		case <-w.wake:
		case <-ctx.Done():
			w.shutdown()
			return
		}
	}
}

// shutdown tears down any live session under a bounded fresh context, so
// service exit cannot hang on an external resource.
func (w *deviceWorker) shutdown() {
	w.mu.Lock()
	live := w.session != nil && w.session.state != StateRemoved
	w.mu.Unlock()
	if !live {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	w.teardown(ctx)
}

func (w *deviceWorker) handle(ctx context.Context, ev workerEvent) {
	switch ev.kind {
	case evAdd:
		w.handleAdd(ctx, ev.dev)
	case evRemove:
		w.handleRemove(ctx)
	case evCrash:
		w.handleCrash(ev.handle)
	}
}

func (w *deviceWorker) handleAdd(ctx context.Context, dev devices.Device) {
	w.mu.Lock()
	if w.session != nil {
		w.mu.Unlock()
		// duplicate or re-announced add for a live session
		log.Debug().Str("device", w.path).Msg("ignoring add for existing session")
		return
	}
	s := &Session{
		ID:     uuid.New().String(),
		Device: dev,
		state:  StateDiscovered,
	}
	w.session = s
	w.mu.Unlock()

	log.Info().
		Str("device", dev.Path).
		Str("label", dev.Label).
		Str("volume_id", dev.VolumeID).
		Str("session", s.ID).
		Str("state", StateDiscovered.String()).
		Msg("device inserted")

	// give the kernel a moment to finish probing the partition
	w.c.clock.Sleep(w.c.settle)

	w.transition(StateMounting)
	mountPath, err := w.c.mounter.Mount(ctx, dev)
	if err != nil {
		log.Error().Err(err).Str("device", dev.Path).Msg("mount failed")
		w.transition(StateFailed)
		w.teardown(ctx)
		return
	}

	w.mu.Lock()
	w.session.MountPath = mountPath
	w.mu.Unlock()
	w.transition(StateMounted)

	entryPath, found := w.c.resolver.Resolve(mountPath)
	if !found {
		// mounted but inert: most removable media is not meant to
		// trigger a display
		w.transition(StateNoContent)
		return
	}

	h, err := w.c.startDisplay(ctx, w.path, entryPath)
	if err != nil {
		// volume stays available, no retry loop
		log.Error().Err(err).
			Str("device", dev.Path).
			Str("entry", entryPath).
			Msg("display launch failed, session stays mounted")
		return
	}

	w.mu.Lock()
	w.session.Handle = h
	w.mu.Unlock()
	w.transition(StateDisplaying)
}

func (w *deviceWorker) handleRemove(ctx context.Context) {
	w.mu.Lock()
	live := w.session != nil && w.session.state != StateRemoved
	w.mu.Unlock()

	if !live {
		log.Debug().Str("device", w.path).Msg("ignoring remove without live session")
		return
	}

	log.Info().Str("device", w.path).Msg("device removed")
	w.teardown(ctx)
}

// teardown releases the display (if this session still owns it) and the
// mount, then discards the session. It always reaches StateRemoved; an
// unmount failure leaves an orphaned mount point for the operator but never
// blocks removal bookkeeping.
func (w *deviceWorker) teardown(ctx context.Context) {
	w.transition(StateTearingDown)

	w.mu.Lock()
	h := w.session.Handle
	w.session.Handle = nil
	mountPath := w.session.MountPath
	w.mu.Unlock()

	if h != nil {
		w.c.releaseDisplay(ctx, w.path, h)
	}

	if mountPath != "" {
		if err := w.c.mounter.Unmount(ctx, mountPath); err != nil {
			if errors.Is(err, mount.ErrOrphaned) {
				log.Warn().Err(err).
					Str("device", w.path).
					Str("mount_path", mountPath).
					Msg("mount point orphaned, manual cleanup required")
			} else {
				log.Error().Err(err).
					Str("device", w.path).
					Str("mount_path", mountPath).
					Msg("unmount failed")
			}
		}
	}

	w.transition(StateRemoved)

	w.mu.Lock()
	w.session = nil
	w.mu.Unlock()
}

// handleCrash downgrades a displaying session to mounted after its display
// process died. The volume is still physically present, so it is not
// unmounted, and no automatic relaunch is attempted: persistently broken
// content must not cause a crash loop.
func (w *deviceWorker) handleCrash(h *display.Handle) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.session == nil || w.session.state != StateDisplaying || w.session.Handle != h {
		return
	}

	w.session.Handle = nil
	w.session.state = StateMounted
	log.Warn().
		Str("device", w.path).
		Str("session", w.session.ID).
		Str("state", StateMounted.String()).
		Msg("display crashed, session downgraded to mounted")
}

// transition moves the session to a new state with a structured log line.
func (w *deviceWorker) transition(to State) {
	w.mu.Lock()
	if w.session == nil {
		w.mu.Unlock()
		return
	}
	from := w.session.state
	w.session.state = to
	id := w.session.ID
	mountPath := w.session.MountPath
	w.mu.Unlock()

	log.Info().
		Str("device", w.path).
		Str("session", id).
		Str("mount_path", mountPath).
		Str("from", from.String()).
		Str("state", to.String()).
		Msg("session state changed")
}
