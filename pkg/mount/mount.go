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

// Package mount turns device identifiers into mounted filesystem paths and
// back, idempotently. The live OS mount table is the source of truth for
// what is mounted, never cached state, so operations stay correct across
// process restarts and external interference.
package mount

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/CasetteProject/casette-core/pkg/devices"
	"github.com/CasetteProject/casette-core/pkg/gateway"
	"github.com/CasetteProject/casette-core/pkg/helpers/syncutil"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrMountFailed indicates the privileged mount or unmount operation failed.
	ErrMountFailed = errors.New("mount operation failed")

	// ErrOrphaned indicates a mount point could not be released after
	// retries and needs operator attention.
	ErrOrphaned = errors.New("mount point orphaned")
)

// procMounts is the default live mount table.
const procMounts = "/proc/self/mounts"

// Manager mounts devices under a managed root directory. Idempotency checks
// go against the OS mount table; the only internal state is the set of mount
// paths claimed by in-flight mounts, which have not reached the table yet.
type Manager struct {
	gw         gateway.Gateway
	clock      clockwork.Clock
	claims     map[string]bool
	root       string
	mountsPath string
	grace      time.Duration
	claimsMu   syncutil.Mutex
}

// NewManager creates a mount manager for the given managed root. grace is
// the wait between force-releasing handles and unmounting, and between
// unmount retries.
func NewManager(gw gateway.Gateway, root string, grace time.Duration, clock clockwork.Clock) *Manager {
	return &Manager{
		gw:         gw,
		clock:      clock,
		claims:     make(map[string]bool),
		root:       root,
		mountsPath: procMounts,
		grace:      grace,
	}
}

// Root returns the managed mount root directory.
func (m *Manager) Root() string {
	return m.root
}

// Mount attaches the device under the managed root and returns the mount
// path. If the device is already mounted according to the OS mount table,
// the existing path is returned without re-mounting.
func (m *Manager) Mount(ctx context.Context, dev devices.Device) (string, error) {
	table, err := m.readMountTable()
	if err != nil {
		return "", fmt.Errorf("failed to read mount table: %w", err)
	}

	if existing, ok := table[dev.Path]; ok {
		log.Debug().
			Str("device", dev.Path).
			Str("mount_path", existing).
			Msg("device already mounted")
		return existing, nil
	}

	mountPath, err := m.claimMountPath(dev, table)
	if err != nil {
		return "", err
	}
	// once the gateway call resolves the OS table is authoritative again
	defer m.releaseClaim(mountPath)

	if err := m.gw.Mount(ctx, dev.Path, mountPath, dev.FSType); err != nil {
		// no partial artifacts left behind
		if rmErr := os.Remove(mountPath); rmErr != nil {
			log.Warn().Err(rmErr).
				Str("mount_path", mountPath).
				Msg("could not remove mount point after failed mount")
		}
		return "", fmt.Errorf("%w: %w", ErrMountFailed, err)
	}

	log.Info().
		Str("device", dev.Path).
		Str("label", dev.Label).
		Str("mount_path", mountPath).
		Msg("device mounted")
	return mountPath, nil
}

// Unmount force-releases any process holding handles under mountPath, waits
// a grace interval, then unmounts, retrying once. On success the now-empty
// mount point directory is removed. Persistent failure returns ErrOrphaned;
// the caller logs it for operator attention but must not crash.
func (m *Manager) Unmount(ctx context.Context, mountPath string) error {
	if err := m.gw.ForceReleaseHandles(ctx, mountPath); err != nil {
		log.Warn().Err(err).Str("mount_path", mountPath).Msg("force release failed")
	}
	m.clock.Sleep(m.grace)

	err := m.gw.Unmount(ctx, mountPath)
	if err != nil {
		log.Warn().Err(err).
			Str("mount_path", mountPath).
			Msg("unmount failed, retrying after grace interval")
		m.clock.Sleep(m.grace)
		err = m.gw.Unmount(ctx, mountPath)
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrOrphaned, mountPath, err)
	}

	if err := os.Remove(mountPath); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).
			Str("mount_path", mountPath).
			Msg("could not remove mount point directory")
	}

	log.Info().Str("mount_path", mountPath).Msg("device unmounted")
	return nil
}

// CleanupAll unmounts everything still mounted under the managed root and
// removes leftover empty mount point directories. Safe to call when nothing
// is mounted. Used for startup recovery and full shutdown.
func (m *Manager) CleanupAll(ctx context.Context) error {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read mount root: %w", err)
	}

	table, err := m.readMountTable()
	if err != nil {
		return fmt.Errorf("failed to read mount table: %w", err)
	}

	mounted := make(map[string]bool, len(table))
	for _, mp := range table {
		mounted[mp] = true
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		mountPath := filepath.Join(m.root, entry.Name())

		if mounted[mountPath] {
			g.Go(func() error {
				if err := m.Unmount(ctx, mountPath); err != nil {
					log.Warn().Err(err).
						Str("mount_path", mountPath).
						Msg("cleanup could not release mount point")
				}
				return nil
			})
			continue
		}

		// stale empty directory from an earlier run
		if err := os.Remove(mountPath); err != nil {
			log.Debug().Err(err).
				Str("mount_path", mountPath).
				Msg("could not remove stale mount point")
		}
	}

	//nolint:wrapcheck // goroutines above never return errors
	return g.Wait()
}

// claimMountPath derives a unique mount path for the device and creates its
// directory while holding the claims lock. The name comes from the volume
// label, falling back to a name synthesized from the device path; collisions
// with live mounts, in-flight claims or non-empty directories are resolved
// by numeric suffix. Claiming is what keeps two concurrent mounts for
// identically-labeled devices from selecting the same path before either
// mount lands in the OS table.
func (m *Manager) claimMountPath(dev devices.Device, table map[string]string) (string, error) {
	m.claimsMu.Lock()
	defer m.claimsMu.Unlock()

	name := sanitizeName(dev.Label)
	if name == "" {
		name = "usb_" + filepath.Base(dev.Path)
	}

	inUse := make(map[string]bool, len(table))
	for _, mp := range table {
		inUse[mp] = true
	}

	for i := 1; i <= 100; i++ {
		candidate := filepath.Join(m.root, name)
		if i > 1 {
			candidate = fmt.Sprintf("%s_%d", candidate, i)
		}

		if inUse[candidate] || m.claims[candidate] {
			continue
		}
		free, err := dirFree(candidate)
		if err != nil {
			return "", err
		}
		if !free {
			continue
		}

		if err := os.MkdirAll(candidate, 0o750); err != nil {
			return "", fmt.Errorf("failed to create mount point: %w", err)
		}
		m.claims[candidate] = true
		return candidate, nil
	}

	return "", fmt.Errorf("%w: no free mount path for %s", ErrMountFailed, dev.Path)
}

func (m *Manager) releaseClaim(mountPath string) {
	m.claimsMu.Lock()
	delete(m.claims, mountPath)
	m.claimsMu.Unlock()
}

// sanitizeName strips path separators and relative components from a volume
// label so it is safe as a single directory name.
func sanitizeName(label string) string {
	name := strings.Map(func(r rune) rune {
		if r == '/' || r == 0 {
			return '_'
		}
		return r
	}, strings.TrimSpace(label))

	if name == "." || name == ".." {
		return ""
	}
	return name
}

// dirFree reports whether path either does not exist or is an empty
// directory available for use as a mount point.
func dirFree(path string) (bool, error) {
	entries, err := os.ReadDir(path)
	if os.IsNotExist(err) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to inspect mount point candidate: %w", err)
	}
	return len(entries) == 0, nil
}
