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

// Package resolver inspects mounted volumes for the entry document.
package resolver

import (
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// maxEntrySize caps the entry document size (16MB). Arbitrary media can
// carry anything under the well-known name; refusing huge files keeps the
// display launch bounded.
const maxEntrySize = 16 * 1024 * 1024

// Resolver locates the entry document at the top level of a mounted volume.
// It is pure and side-effect-free: read errors are treated as absence, since
// a volume without the expected content is a normal case.
type Resolver struct {
	fs        afero.Fs
	entryName string
}

// New creates a resolver looking for entryName on the real filesystem.
func New(entryName string) *Resolver {
	return NewWithFs(afero.NewOsFs(), entryName)
}

// NewWithFs creates a resolver over an arbitrary filesystem, used in tests.
func NewWithFs(fs afero.Fs, entryName string) *Resolver {
	return &Resolver{
		fs:        fs,
		entryName: entryName,
	}
}

// Resolve looks for the entry document at the top level of mountPath. No
// recursive search: matches deep in arbitrary media would be surprising and
// unbounded. Returns the entry path and true when found.
func (r *Resolver) Resolve(mountPath string) (string, bool) {
	entryPath := filepath.Join(mountPath, r.entryName)

	info, err := r.lstat(entryPath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Debug().Err(err).Str("path", entryPath).Msg("failed to stat entry document")
		}
		return "", false
	}

	// Reject symlinks: the entry document must live on the volume itself,
	// not point outside the mount.
	if info.Mode()&os.ModeSymlink != 0 {
		log.Warn().Str("path", entryPath).Msg("rejecting symlink entry document")
		return "", false
	}

	if !info.Mode().IsRegular() {
		log.Debug().Str("path", entryPath).Msg("entry document is not a regular file")
		return "", false
	}

	if info.Size() > maxEntrySize {
		log.Warn().
			Str("path", entryPath).
			Int64("size", info.Size()).
			Msg("entry document exceeds maximum size limit")
		return "", false
	}

	return entryPath, true
}

// lstat avoids following symlinks where the backing filesystem supports it.
func (r *Resolver) lstat(path string) (os.FileInfo, error) {
	if lstater, ok := r.fs.(afero.Lstater); ok {
		info, _, err := lstater.LstatIfPossible(path)
		//nolint:wrapcheck // absence handling needs the raw os error
		return info, err
	}
	//nolint:wrapcheck // absence handling needs the raw os error
	return r.fs.Stat(path)
}
