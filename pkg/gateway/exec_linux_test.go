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

package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedCall struct {
	name string
	args []string
}

type mockExecutor struct {
	runErr error
	calls  []recordedCall
}

func (m *mockExecutor) Run(_ context.Context, name string, args ...string) error {
	m.calls = append(m.calls, recordedCall{name: name, args: args})
	return m.runErr
}

func (m *mockExecutor) Output(_ context.Context, name string, args ...string) ([]byte, error) {
	m.calls = append(m.calls, recordedCall{name: name, args: args})
	return nil, m.runErr
}

func TestMountCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		fsType   string
		useSudo  bool
		expected recordedCall
	}{
		{
			name:    "direct with fstype",
			fsType:  "vfat",
			useSudo: false,
			expected: recordedCall{
				name: "mount",
				args: []string{"-t", "vfat", "/dev/sdb1", "/mnt/casette/DEMO"},
			},
		},
		{
			name:    "direct without fstype",
			fsType:  "",
			useSudo: false,
			expected: recordedCall{
				name: "mount",
				args: []string{"/dev/sdb1", "/mnt/casette/DEMO"},
			},
		},
		{
			name:    "sudo prefix",
			fsType:  "ext4",
			useSudo: true,
			expected: recordedCall{
				name: "sudo",
				args: []string{"mount", "-t", "ext4", "/dev/sdb1", "/mnt/casette/DEMO"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			exec := &mockExecutor{}
			gw := NewExecGateway(exec, tt.useSudo)

			err := gw.Mount(context.Background(), "/dev/sdb1", "/mnt/casette/DEMO", tt.fsType)
			require.NoError(t, err)
			require.Len(t, exec.calls, 1)
			assert.Equal(t, tt.expected, exec.calls[0])
		})
	}
}

func TestMountWrapsError(t *testing.T) {
	t.Parallel()

	exec := &mockExecutor{runErr: errors.New("exit status 32")}
	gw := NewExecGateway(exec, false)

	err := gw.Mount(context.Background(), "/dev/sdb1", "/mnt/casette/DEMO", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/dev/sdb1")
}

func TestUnmountCommand(t *testing.T) {
	t.Parallel()

	exec := &mockExecutor{}
	gw := NewExecGateway(exec, true)

	require.NoError(t, gw.Unmount(context.Background(), "/mnt/casette/DEMO"))
	require.Len(t, exec.calls, 1)
	assert.Equal(t, recordedCall{
		name: "sudo",
		args: []string{"umount", "/mnt/casette/DEMO"},
	}, exec.calls[0])
}

func TestForceReleaseToleratesNoHolders(t *testing.T) {
	t.Parallel()

	// fuser exits non-zero when nothing holds the path
	exec := &mockExecutor{runErr: errors.New("exit status 1")}
	gw := NewExecGateway(exec, false)

	err := gw.ForceReleaseHandles(context.Background(), "/mnt/casette/DEMO")
	require.NoError(t, err)
	require.Len(t, exec.calls, 1)
	assert.Equal(t, recordedCall{
		name: "fuser",
		args: []string{"-km", "/mnt/casette/DEMO"},
	}, exec.calls[0])
}

func TestKillProcessToleratesMissingPid(t *testing.T) {
	t.Parallel()

	gw := NewExecGateway(&mockExecutor{}, false)

	// a pid that certainly has no live process
	assert.NoError(t, gw.KillProcess(1<<22-1))
}
