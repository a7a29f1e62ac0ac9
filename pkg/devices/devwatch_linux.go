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

package devices

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/CasetteProject/casette-core/pkg/helpers/syncutil"
	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const (
	devDir     = "/dev"
	byLabelDir = "/dev/disk/by-label"
	byUUIDDir  = "/dev/disk/by-uuid"

	// udev creates the by-label/by-uuid links shortly after the device node
	// itself appears, so identity lookups poll briefly instead of reading
	// once.
	identityTimeout = 2 * time.Second
	identityPoll    = 50 * time.Millisecond
)

// partitionRe matches partition device node names: sdb1, mmcblk0p1, nvme0n1p2.
var partitionRe = regexp.MustCompile(`^(sd[a-z]+[0-9]+|mmcblk[0-9]+p[0-9]+|nvme[0-9]+n[0-9]+p[0-9]+)$`)

// devWatchSource implements EventSource by watching /dev for partition nodes
// appearing and disappearing. It is the fallback for minimal systems without
// D-Bus/UDisks2.
type devWatchSource struct {
	watcher  *fsnotify.Watcher
	clock    clockwork.Clock
	events   chan Event
	stopChan chan struct{}
	// device path -> announced device, for removal notification
	known      map[string]Device
	labelDir   string
	uuidDir    string
	idTimeout  time.Duration
	idInterval time.Duration
	wg         sync.WaitGroup
	mu         syncutil.RWMutex
	stopOnce   sync.Once
}

func newDevWatchSource() (EventSource, error) {
	return &devWatchSource{
		clock:      clockwork.NewRealClock(),
		events:     make(chan Event, 10),
		stopChan:   make(chan struct{}),
		known:      make(map[string]Device),
		labelDir:   byLabelDir,
		uuidDir:    byUUIDDir,
		idTimeout:  identityTimeout,
		idInterval: identityPoll,
	}, nil
}

func (s *devWatchSource) Events() <-chan Event {
	return s.events
}

func (s *devWatchSource) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	if err := watcher.Add(devDir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", devDir, err)
	}
	s.watcher = watcher

	s.wg.Add(1)
	go s.watchLoop()

	return nil
}

func (s *devWatchSource) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		if s.watcher != nil {
			_ = s.watcher.Close()
		}
		s.wg.Wait()
		close(s.events)
	})
}

func (s *devWatchSource) watchLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopChan:
			return

		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}

			name := filepath.Base(event.Name)
			if !isPartitionName(name) {
				continue
			}

			switch {
			case event.Op&fsnotify.Create != 0:
				s.handleCreate(event.Name)
			case event.Op&fsnotify.Remove != 0:
				s.handleRemove(event.Name)
			}

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("device watcher error")
		}
	}
}

func (s *devWatchSource) handleCreate(devicePath string) {
	label, volumeID := s.resolveIdentity(devicePath)
	dev := Device{
		Path:     devicePath,
		Label:    label,
		VolumeID: volumeID,
	}

	s.mu.Lock()
	s.known[devicePath] = dev
	s.mu.Unlock()

	select {
	case s.events <- Event{Action: ActionAdd, Device: dev}:
		log.Debug().
			Str("device", dev.Path).
			Str("label", dev.Label).
			Msg("device add detected (/dev watch)")
	case <-s.stopChan:
	}
}

func (s *devWatchSource) handleRemove(devicePath string) {
	s.mu.Lock()
	dev, exists := s.known[devicePath]
	if exists {
		delete(s.known, devicePath)
	}
	s.mu.Unlock()

	if !exists {
		return
	}

	select {
	case s.events <- Event{Action: ActionRemove, Device: dev}:
		log.Debug().
			Str("device", dev.Path).
			Msg("device remove detected (/dev watch)")
	case <-s.stopChan:
	}
}

// resolveIdentity looks up the volume label and UUID for a device node via
// the /dev/disk/by-* symlink directories, polling until both are found or
// the timeout elapses. A volume may legitimately have no label, so missing
// links after the timeout are not an error.
func (s *devWatchSource) resolveIdentity(devicePath string) (label, volumeID string) {
	deadline := s.clock.Now().Add(s.idTimeout)
	for {
		if label == "" {
			label = lookupSymlinkName(s.labelDir, devicePath)
		}
		if volumeID == "" {
			volumeID = lookupSymlinkName(s.uuidDir, devicePath)
		}
		if (label != "" && volumeID != "") || s.clock.Now().After(deadline) {
			return label, volumeID
		}

		select {
		case <-s.stopChan:
			return label, volumeID
		case <-s.clock.After(s.idInterval):
		}
	}
}

// isPartitionName reports whether a /dev entry name looks like a partition
// block device node.
func isPartitionName(name string) bool {
	return partitionRe.MatchString(name)
}

// lookupSymlinkName scans a /dev/disk/by-* directory for a symlink pointing
// at devicePath and returns the link name, or "" if none is found. Link
// names in these directories are the volume label or UUID respectively.
func lookupSymlinkName(dir, devicePath string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}

	for _, entry := range entries {
		linkPath := filepath.Join(dir, entry.Name())
		target, err := filepath.EvalSymlinks(linkPath)
		if err != nil {
			continue
		}
		if target == devicePath {
			return entry.Name()
		}
	}

	return ""
}
