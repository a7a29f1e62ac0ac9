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
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/CasetteProject/casette-core/pkg/helpers/syncutil"
	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog/log"
)

const (
	udisks2Service        = "org.freedesktop.UDisks2"
	udisks2Path           = "/org/freedesktop/UDisks2"
	udisks2BlockInterface = "org.freedesktop.UDisks2.Block"
	udisks2FSInterface    = "org.freedesktop.UDisks2.Filesystem"
	dbusObjectManager     = "org.freedesktop.DBus.ObjectManager"
)

// udisksSource implements EventSource for Linux using D-Bus/UDisks2 block
// device signals. Unlike a mount watcher, it announces filesystem-bearing
// partitions as they appear, before anything is mounted.
type udisksSource struct {
	conn     *dbus.Conn
	events   chan Event
	stopChan chan struct{}
	// objectPath -> announced device, for reliable removal notification
	known    map[dbus.ObjectPath]Device
	wg       sync.WaitGroup
	mu       syncutil.RWMutex
	stopOnce sync.Once
}

// isDBusAvailable quickly checks if D-Bus and UDisks2 are available.
func isDBusAvailable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	done := make(chan bool, 1)
	go func() {
		// A private connection can be safely closed without affecting the
		// shared connection used by Start()
		conn, err := dbus.SystemBusPrivate()
		if err != nil {
			done <- false
			return
		}
		defer func() { _ = conn.Close() }()

		if err := conn.Auth(nil); err != nil {
			done <- false
			return
		}

		if err := conn.Hello(); err != nil {
			done <- false
			return
		}

		obj := conn.Object("org.freedesktop.DBus", "/org/freedesktop/DBus")
		call := obj.CallWithContext(ctx, "org.freedesktop.DBus.ListNames", 0)
		if call.Err != nil {
			done <- false
			return
		}

		var names []string
		if err := call.Store(&names); err != nil {
			done <- false
			return
		}

		for _, name := range names {
			if name == udisks2Service {
				done <- true
				return
			}
		}

		done <- false
	}()

	select {
	case available := <-done:
		return available
	case <-ctx.Done():
		return false
	}
}

// NewEventSource creates a device event source for this host.
// It tries D-Bus/UDisks2 first, and falls back to watching /dev if D-Bus is
// unavailable (minimal systems without a desktop bus).
func NewEventSource() (EventSource, error) {
	if isDBusAvailable() {
		log.Debug().Msg("using D-Bus/UDisks2 for device events")
		return &udisksSource{
			events:   make(chan Event, 10),
			stopChan: make(chan struct{}),
			known:    make(map[dbus.ObjectPath]Device),
		}, nil
	}

	log.Debug().Msg("D-Bus unavailable, watching /dev for device events")
	return newDevWatchSource()
}

func (s *udisksSource) Events() <-chan Event {
	return s.events
}

func (s *udisksSource) Start() error {
	conn, err := dbus.SystemBus()
	if err != nil {
		return fmt.Errorf("failed to connect to system D-Bus: %w", err)
	}
	s.conn = conn

	if err := s.conn.AddMatchSignal(
		dbus.WithMatchObjectPath(udisks2Path),
		dbus.WithMatchInterface(dbusObjectManager),
		dbus.WithMatchMember("InterfacesAdded"),
	); err != nil {
		_ = s.conn.Close()
		return fmt.Errorf("failed to add match for InterfacesAdded: %w", err)
	}

	if err := s.conn.AddMatchSignal(
		dbus.WithMatchObjectPath(udisks2Path),
		dbus.WithMatchInterface(dbusObjectManager),
		dbus.WithMatchMember("InterfacesRemoved"),
	); err != nil {
		_ = s.conn.Close()
		return fmt.Errorf("failed to add match for InterfacesRemoved: %w", err)
	}

	signalChan := make(chan *dbus.Signal, 10)
	s.conn.Signal(signalChan)

	s.wg.Add(1)
	go s.listenForSignals(signalChan)

	return nil
}

func (s *udisksSource) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		s.wg.Wait()
		if s.conn != nil {
			_ = s.conn.Close()
		}
		close(s.events)
	})
}

func (s *udisksSource) listenForSignals(signalChan chan *dbus.Signal) {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopChan:
			return
		case signal := <-signalChan:
			if signal == nil {
				return
			}

			switch signal.Name {
			case dbusObjectManager + ".InterfacesAdded":
				s.handleInterfacesAdded(signal)
			case dbusObjectManager + ".InterfacesRemoved":
				s.handleInterfacesRemoved(signal)
			}
		}
	}
}

func (s *udisksSource) handleInterfacesAdded(signal *dbus.Signal) {
	if len(signal.Body) < 2 {
		return
	}

	objectPath, ok := signal.Body[0].(dbus.ObjectPath)
	if !ok {
		return
	}

	interfaces, ok := signal.Body[1].(map[string]map[string]dbus.Variant)
	if !ok {
		return
	}

	// Only filesystem-bearing block devices are interesting
	blockProps, hasBlock := interfaces[udisks2BlockInterface]
	_, hasFS := interfaces[udisks2FSInterface]
	if !hasBlock || !hasFS {
		return
	}

	// Skip system devices (internal disks, boot partitions)
	if hintSystem, ok := blockProps["HintSystem"]; ok {
		if isSystem, ok := hintSystem.Value().(bool); ok && isSystem {
			return
		}
	}

	if hintIgnore, ok := blockProps["HintIgnore"]; ok {
		if shouldIgnore, ok := hintIgnore.Value().(bool); ok && shouldIgnore {
			return
		}
	}

	devicePath := byteStringProp(blockProps, "Device")
	if devicePath == "" {
		log.Debug().Str("path", string(objectPath)).Msg("device has no node, skipping")
		return
	}

	dev := Device{
		Path:     devicePath,
		Label:    stringProp(blockProps, "IdLabel"),
		VolumeID: stringProp(blockProps, "IdUUID"),
		FSType:   stringProp(blockProps, "IdType"),
	}

	s.mu.Lock()
	s.known[objectPath] = dev
	s.mu.Unlock()

	select {
	case s.events <- Event{Action: ActionAdd, Device: dev}:
		log.Debug().
			Str("device", dev.Path).
			Str("label", dev.Label).
			Str("fs_type", dev.FSType).
			Msg("device add detected")
	case <-s.stopChan:
		return
	}
}

func (s *udisksSource) handleInterfacesRemoved(signal *dbus.Signal) {
	if len(signal.Body) < 2 {
		return
	}

	objectPath, ok := signal.Body[0].(dbus.ObjectPath)
	if !ok {
		return
	}

	interfaces, ok := signal.Body[1].([]string)
	if !ok {
		return
	}

	hasBlock := false
	for _, iface := range interfaces {
		if iface == udisks2BlockInterface {
			hasBlock = true
			break
		}
	}
	if !hasBlock {
		return
	}

	s.mu.Lock()
	dev, exists := s.known[objectPath]
	if exists {
		delete(s.known, objectPath)
	}
	s.mu.Unlock()

	if !exists {
		return
	}

	select {
	case s.events <- Event{Action: ActionRemove, Device: dev}:
		log.Debug().
			Str("device", dev.Path).
			Msg("device remove detected")
	case <-s.stopChan:
		return
	}
}

// stringProp extracts a string property from D-Bus variant props.
func stringProp(props map[string]dbus.Variant, key string) string {
	if v, ok := props[key]; ok {
		if str, ok := v.Value().(string); ok {
			return str
		}
	}
	return ""
}

// byteStringProp extracts a null-terminated byte array property as a string.
// UDisks2 encodes device nodes this way.
func byteStringProp(props map[string]dbus.Variant, key string) string {
	if v, ok := props[key]; ok {
		if raw, ok := v.Value().([]byte); ok && len(raw) > 0 {
			return strings.TrimRight(string(raw), "\x00")
		}
	}
	return ""
}
