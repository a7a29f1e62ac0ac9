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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsPartitionName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected bool
	}{
		{name: "sata partition", input: "sdb1", expected: true},
		{name: "multi-letter disk", input: "sdab12", expected: true},
		{name: "mmc partition", input: "mmcblk0p1", expected: true},
		{name: "nvme partition", input: "nvme0n1p2", expected: true},
		{name: "whole sata disk", input: "sdb", expected: false},
		{name: "whole mmc disk", input: "mmcblk0", expected: false},
		{name: "whole nvme namespace", input: "nvme0n1", expected: false},
		{name: "tty node", input: "tty0", expected: false},
		{name: "loop device", input: "loop0", expected: false},
		{name: "empty", input: "", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, isPartitionName(tt.input))
		})
	}
}

func TestLookupSymlinkName(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	device := filepath.Join(dir, "sdb1")
	require.NoError(t, os.WriteFile(device, nil, 0o600))

	byLabel := filepath.Join(dir, "by-label")
	require.NoError(t, os.MkdirAll(byLabel, 0o750))
	require.NoError(t, os.Symlink(device, filepath.Join(byLabel, "DEMO")))

	assert.Equal(t, "DEMO", lookupSymlinkName(byLabel, device))
	assert.Empty(t, lookupSymlinkName(byLabel, filepath.Join(dir, "sdc1")))
}

func TestLookupSymlinkNameMissingDir(t *testing.T) {
	t.Parallel()

	assert.Empty(t, lookupSymlinkName(filepath.Join(t.TempDir(), "absent"), "/dev/sdb1"))
}

// newIdentityFixture builds a devWatchSource pointed at temp by-label and
// by-uuid directories with a fake device node.
func newIdentityFixture(t *testing.T) (*devWatchSource, string, string, string) {
	t.Helper()

	dir := t.TempDir()
	device := filepath.Join(dir, "sdb1")
	require.NoError(t, os.WriteFile(device, nil, 0o600))

	byLabel := filepath.Join(dir, "by-label")
	byUUID := filepath.Join(dir, "by-uuid")
	require.NoError(t, os.MkdirAll(byLabel, 0o750))
	require.NoError(t, os.MkdirAll(byUUID, 0o750))

	src, err := newDevWatchSource()
	require.NoError(t, err)
	w, ok := src.(*devWatchSource)
	require.True(t, ok)
	w.labelDir = byLabel
	w.uuidDir = byUUID
	return w, device, byLabel, byUUID
}

func TestResolveIdentityWaitsForUdevLinks(t *testing.T) {
	t.Parallel()

	w, device, byLabel, byUUID := newIdentityFixture(t)

	// udev creates the identity links a moment after the node appears
	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = os.Symlink(device, filepath.Join(byLabel, "DEMO"))
		_ = os.Symlink(device, filepath.Join(byUUID, "1234-ABCD"))
	}()

	label, volumeID := w.resolveIdentity(device)
	assert.Equal(t, "DEMO", label)
	assert.Equal(t, "1234-ABCD", volumeID)
}

func TestResolveIdentityToleratesUnlabeledVolume(t *testing.T) {
	t.Parallel()

	w, device, _, byUUID := newIdentityFixture(t)
	w.idTimeout = 50 * time.Millisecond
	w.idInterval = 5 * time.Millisecond
	require.NoError(t, os.Symlink(device, filepath.Join(byUUID, "1234-ABCD")))

	label, volumeID := w.resolveIdentity(device)
	assert.Empty(t, label)
	assert.Equal(t, "1234-ABCD", volumeID)
}

func TestDevWatchStopIsIdempotent(t *testing.T) {
	t.Parallel()

	src, err := newDevWatchSource()
	require.NoError(t, err)

	// Stop before Start must not panic or block.
	src.Stop()
	src.Stop()

	_, open := <-src.Events()
	assert.False(t, open, "events channel closes on stop")
}
