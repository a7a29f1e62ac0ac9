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
	"sync"
	"time"

	"github.com/CasetteProject/casette-core/pkg/devices"
	"github.com/CasetteProject/casette-core/pkg/display"
	"github.com/CasetteProject/casette-core/pkg/helpers/syncutil"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// teardownTimeout bounds teardown work during shutdown so a stuck external
// resource can never hang the service exit.
const teardownTimeout = 30 * time.Second

// Coordinator consumes device events and drives the mount manager, content
// resolver and display supervisor. It exclusively owns the session set
// (keyed by device path) and the single active display slot.
//
// Events for different device paths are processed concurrently; events for
// the same path are processed strictly in arrival order by a per-path
// worker. A remove arriving while a mount is in flight is queued and applied
// the instant the mount resolves.
type Coordinator struct {
	mounter  Mounter
	resolver Resolver
	display  display.Supervisor
	clock    clockwork.Clock

	settle       time.Duration
	pollInterval time.Duration

	workersMu syncutil.RWMutex
	workers   map[string]*deviceWorker

	// single display slot; stop-before-start is a hard ordering rule
	slotMu     syncutil.Mutex
	slotHandle *display.Handle
	slotOwner  string
}

// NewCoordinator creates a coordinator. settle is the delay between an add
// event and the mount attempt; pollInterval drives the display liveness
// probe.
func NewCoordinator(
	mounter Mounter,
	resolver Resolver,
	disp display.Supervisor,
	settle, pollInterval time.Duration,
	clock clockwork.Clock,
) *Coordinator {
	return &Coordinator{
		mounter:      mounter,
		resolver:     resolver,
		display:      disp,
		clock:        clock,
		settle:       settle,
		pollInterval: pollInterval,
		workers:      make(map[string]*deviceWorker),
	}
}

// Run consumes events until ctx is cancelled or the channel closes, then
// tears down all live sessions before returning.
func (c *Coordinator) Run(ctx context.Context, events <-chan devices.Event) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.watchDisplay(runCtx)
	}()

loop:
	for {
		select {
		case <-runCtx.Done():
			break loop
		case ev, ok := <-events:
			if !ok {
				break loop
			}
			c.dispatch(runCtx, ev, &wg)
		}
	}

	// cancel signals workers to tear down whatever is still live
	cancel()
	wg.Wait()

	// belt and braces: no display may survive the coordinator
	c.slotMu.Lock()
	if c.slotHandle != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), teardownTimeout)
		if err := c.display.Stop(stopCtx, c.slotHandle); err != nil {
			log.Warn().Err(err).Msg("failed to stop display during shutdown")
		}
		stopCancel()
		c.slotHandle = nil
		c.slotOwner = ""
	}
	c.slotMu.Unlock()

	log.Info().Msg("coordinator stopped")
}

// dispatch routes an event to its device's worker, creating the worker on
// first sight of the path. Workers persist for the coordinator's lifetime;
// sessions are created and destroyed within them.
func (c *Coordinator) dispatch(ctx context.Context, ev devices.Event, wg *sync.WaitGroup) {
	path := ev.Device.Path
	if path == "" {
		log.Debug().Msg("ignoring event with empty device path")
		return
	}
	if ev.Action != devices.ActionAdd && ev.Action != devices.ActionRemove {
		log.Warn().Str("action", string(ev.Action)).Msg("unknown device event action")
		return
	}

	c.workersMu.Lock()
	w, exists := c.workers[path]
	if !exists {
		if ev.Action == devices.ActionRemove {
			c.workersMu.Unlock()
			// spurious or duplicate removal
			log.Debug().Str("device", path).Msg("ignoring remove for unknown device")
			return
		}

		w = newDeviceWorker(c, path)
		c.workers[path] = w
		wg.Add(1)
		go w.run(ctx, wg)
	}
	c.workersMu.Unlock()

	if ev.Action == devices.ActionAdd {
		w.enqueue(workerEvent{kind: evAdd, dev: ev.Device})
	} else {
		w.enqueue(workerEvent{kind: evRemove})
	}
}

func (c *Coordinator) worker(path string) *deviceWorker {
	c.workersMu.RLock()
	defer c.workersMu.RUnlock()
	return c.workers[path]
}

// SessionState reports the state of the session for a device path, if one
// exists. Used by tests and status reporting.
func (c *Coordinator) SessionState(devicePath string) (State, bool) {
	w := c.worker(devicePath)
	if w == nil {
		return 0, false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.session == nil {
		return 0, false
	}
	return w.session.state, true
}

// SessionMountPath reports the mount path of the session for a device path,
// if one exists and is mounted.
func (c *Coordinator) SessionMountPath(devicePath string) (string, bool) {
	w := c.worker(devicePath)
	if w == nil {
		return "", false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.session == nil || w.session.MountPath == "" {
		return "", false
	}
	return w.session.MountPath, true
}

// ActiveDisplay reports the device path owning the display slot and the
// active handle, if any.
func (c *Coordinator) ActiveDisplay() (owner string, h *display.Handle, ok bool) {
	c.slotMu.Lock()
	defer c.slotMu.Unlock()
	if c.slotHandle == nil {
		return "", nil, false
	}
	return c.slotOwner, c.slotHandle, true
}

// startDisplay acquires the single display slot for owner. Any prior handle
// is stopped and its termination awaited before the new process is spawned;
// two foreground processes must never fight for the screen.
func (c *Coordinator) startDisplay(ctx context.Context, owner, entryPath string) (*display.Handle, error) {
	c.slotMu.Lock()
	defer c.slotMu.Unlock()

	if c.slotHandle != nil {
		log.Info().
			Str("device", c.slotOwner).
			Str("preempted_by", owner).
			Msg("stopping active display for new insertion")
		if err := c.display.Stop(ctx, c.slotHandle); err != nil {
			log.Warn().Err(err).Msg("failed to stop preempted display")
		}
		c.slotHandle = nil
		c.slotOwner = ""
	}

	h, err := c.display.Start(ctx, entryPath)
	if err != nil {
		return nil, err
	}

	c.slotHandle = h
	c.slotOwner = owner
	return h, nil
}

// releaseDisplay stops the display only if the slot still holds this exact
// handle. A session preempted by a later insertion finds the slot pointing
// elsewhere and skips the stop: handle identity, not session state, decides.
func (c *Coordinator) releaseDisplay(ctx context.Context, owner string, h *display.Handle) {
	c.slotMu.Lock()
	defer c.slotMu.Unlock()

	if c.slotHandle != h {
		log.Debug().
			Str("device", owner).
			Msg("display already stopped or preempted, skipping stop")
		return
	}

	if err := c.display.Stop(ctx, h); err != nil {
		log.Warn().Err(err).Str("device", owner).Msg("failed to stop display")
	}
	c.slotHandle = nil
	c.slotOwner = ""
}

// watchDisplay polls the active handle for liveness so a display crash is
// detected independently of device removal events.
func (c *Coordinator) watchDisplay(ctx context.Context) {
	// a zero interval disables crash detection
	if c.pollInterval <= 0 {
		<-ctx.Done()
		return
	}

	ticker := c.clock.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			c.checkDisplayAlive()
		}
	}
}

func (c *Coordinator) checkDisplayAlive() {
	c.slotMu.Lock()
	h := c.slotHandle
	owner := c.slotOwner
	if h == nil || c.display.IsAlive(h) {
		c.slotMu.Unlock()
		return
	}
	c.slotHandle = nil
	c.slotOwner = ""
	c.slotMu.Unlock()

	log.Warn().
		Str("device", owner).
		Int("pid", h.PID).
		Msg("display process exited unexpectedly")

	if w := c.worker(owner); w != nil {
		w.enqueue(workerEvent{kind: evCrash, handle: h})
	}
}
