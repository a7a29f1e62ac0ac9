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
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

// KioskSupervisor runs a Chromium-family browser in kiosk mode.
type KioskSupervisor struct {
	clock     clockwork.Clock
	browser   string
	xDisplay  string
	extraArgs []string
	stopGrace time.Duration
}

// NewKioskSupervisor creates a supervisor for the given browser binary.
// browser may be empty to auto-detect chromium/chromium-browser at launch.
func NewKioskSupervisor(
	browser, xDisplay string,
	extraArgs []string,
	stopGrace time.Duration,
	clock clockwork.Clock,
) *KioskSupervisor {
	return &KioskSupervisor{
		clock:     clock,
		browser:   browser,
		xDisplay:  xDisplay,
		extraArgs: extraArgs,
		stopGrace: stopGrace,
	}
}

// kioskArgs builds the browser argument list for rendering entryPath
// full-screen with no interactive chrome.
func (s *KioskSupervisor) kioskArgs(entryPath string) []string {
	args := []string{
		"--kiosk",
		"--no-sandbox",
		"--start-fullscreen",
		"--disable-web-security",
		"--disable-features=TranslateUI",
		"--disable-ipc-flooding-protection",
	}
	args = append(args, s.extraArgs...)
	return append(args, "file://"+entryPath)
}

// resolveBrowser returns the configured browser binary, or auto-detects one.
// Debian ships 'chromium', Ubuntu 'chromium-browser'.
func (s *KioskSupervisor) resolveBrowser() (string, error) {
	if s.browser != "" {
		return s.browser, nil
	}
	if path, err := exec.LookPath("chromium"); err == nil {
		return path, nil
	}
	if path, err := exec.LookPath("chromium-browser"); err == nil {
		return path, nil
	}
	return "", errors.New("no chromium binary found in PATH")
}

func (s *KioskSupervisor) Start(_ context.Context, entryPath string) (*Handle, error) {
	bin, err := s.resolveBrowser()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLaunchFailed, err)
	}

	// Deliberately not CommandContext: the browser must outlive the Start
	// call's context and is terminated only through Stop.
	cmd := exec.Command(bin, s.kioskArgs(entryPath)...)
	cmd.Env = append(os.Environ(), "DISPLAY="+s.xDisplay)
	// Own process group so Stop can signal the whole browser tree
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLaunchFailed, err)
	}

	h := NewHandle(cmd.Process.Pid, entryPath)
	go func() {
		if waitErr := cmd.Wait(); waitErr != nil {
			log.Debug().Err(waitErr).Int("pid", h.PID).Msg("display process exited")
		}
		h.MarkExited()
	}()

	log.Info().
		Int("pid", h.PID).
		Str("entry", entryPath).
		Str("browser", bin).
		Msg("display started")
	return h, nil
}

func (s *KioskSupervisor) Stop(ctx context.Context, h *Handle) error {
	if h == nil {
		return nil
	}

	if err := unix.Kill(-h.PID, unix.SIGTERM); err != nil {
		if errors.Is(err, unix.ESRCH) {
			h.MarkExited()
			return nil
		}
		log.Warn().Err(err).Int("pid", h.PID).Msg("failed to signal display process")
	}

	select {
	case <-h.Done():
		log.Info().Int("pid", h.PID).Msg("display stopped")
		return nil
	case <-s.clock.After(s.stopGrace):
	case <-ctx.Done():
	}

	log.Warn().Int("pid", h.PID).Msg("display did not exit in time, killing")
	if err := unix.Kill(-h.PID, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("kill display pid %d: %w", h.PID, err)
	}

	select {
	case <-h.Done():
	case <-s.clock.After(s.stopGrace):
		// the process table will show it as an orphan; nothing more to do
		log.Error().Int("pid", h.PID).Msg("display process did not die after kill")
	}
	return nil
}

func (*KioskSupervisor) IsAlive(h *Handle) bool {
	if h == nil {
		return false
	}
	select {
	case <-h.Done():
		return false
	default:
		return true
	}
}
