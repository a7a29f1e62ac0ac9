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

package display

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKioskArgs(t *testing.T) {
	t.Parallel()

	s := NewKioskSupervisor("chromium", ":0", nil, time.Second, clockwork.NewRealClock())
	args := s.kioskArgs("/mnt/casette/DEMO/index.html")

	assert.Contains(t, args, "--kiosk")
	assert.Contains(t, args, "--no-sandbox")
	assert.Contains(t, args, "--start-fullscreen")
	assert.Contains(t, args, "--disable-web-security")
	assert.Equal(t, "file:///mnt/casette/DEMO/index.html", args[len(args)-1],
		"entry URL must come last")
}

func TestKioskArgsAppendsExtraArgs(t *testing.T) {
	t.Parallel()

	s := NewKioskSupervisor(
		"chromium", ":0",
		[]string{"--force-dark-mode"},
		time.Second, clockwork.NewRealClock(),
	)
	args := s.kioskArgs("/mnt/casette/DEMO/index.html")

	require.GreaterOrEqual(t, len(args), 2)
	assert.Equal(t, "--force-dark-mode", args[len(args)-2])
	assert.Equal(t, "file:///mnt/casette/DEMO/index.html", args[len(args)-1])
}

func TestResolveBrowserPrefersConfigured(t *testing.T) {
	t.Parallel()

	s := NewKioskSupervisor("/opt/bin/luakit", ":0", nil, time.Second, clockwork.NewRealClock())
	bin, err := s.resolveBrowser()
	require.NoError(t, err)
	assert.Equal(t, "/opt/bin/luakit", bin)
}

func TestResolveBrowserFailsWithoutCandidates(t *testing.T) {
	t.Setenv("PATH", t.TempDir())

	s := NewKioskSupervisor("", ":0", nil, time.Second, clockwork.NewRealClock())
	_, err := s.resolveBrowser()
	require.Error(t, err)
}

func TestHandleLifecycle(t *testing.T) {
	t.Parallel()

	h := NewHandle(1234, "/mnt/casette/DEMO/index.html")
	s := NewKioskSupervisor("chromium", ":0", nil, time.Second, clockwork.NewRealClock())

	assert.True(t, s.IsAlive(h))

	h.MarkExited()
	h.MarkExited() // idempotent

	assert.False(t, s.IsAlive(h))

	select {
	case <-h.Done():
	default:
		t.Fatal("Done channel must be closed after MarkExited")
	}
}

func TestIsAliveNilHandle(t *testing.T) {
	t.Parallel()

	s := NewKioskSupervisor("chromium", ":0", nil, time.Second, clockwork.NewRealClock())
	assert.False(t, s.IsAlive(nil))
}

func TestStopNilHandle(t *testing.T) {
	t.Parallel()

	s := NewKioskSupervisor("chromium", ":0", nil, time.Second, clockwork.NewRealClock())
	assert.NoError(t, s.Stop(t.Context(), nil))
}
