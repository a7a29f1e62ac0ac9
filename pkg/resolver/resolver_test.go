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

package resolver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveFindsEntryDocument(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/mnt/casette/DEMO", 0o750))
	require.NoError(t, afero.WriteFile(fs,
		"/mnt/casette/DEMO/index.html", []byte("<html></html>"), 0o644))

	r := NewWithFs(fs, "index.html")
	path, found := r.Resolve("/mnt/casette/DEMO")
	assert.True(t, found)
	assert.Equal(t, "/mnt/casette/DEMO/index.html", path)
}

func TestResolveMissingEntry(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/mnt/casette/MUSIC", 0o750))
	require.NoError(t, afero.WriteFile(fs,
		"/mnt/casette/MUSIC/song.mp3", []byte("ID3"), 0o644))

	r := NewWithFs(fs, "index.html")
	_, found := r.Resolve("/mnt/casette/MUSIC")
	assert.False(t, found)
}

func TestResolveIgnoresNestedEntry(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs,
		"/mnt/casette/DEMO/site/index.html", []byte("<html></html>"), 0o644))

	r := NewWithFs(fs, "index.html")
	_, found := r.Resolve("/mnt/casette/DEMO")
	assert.False(t, found, "only the top level of the volume is searched")
}

func TestResolveRejectsDirectoryEntry(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/mnt/casette/DEMO/index.html", 0o750))

	r := NewWithFs(fs, "index.html")
	_, found := r.Resolve("/mnt/casette/DEMO")
	assert.False(t, found)
}

func TestResolveRejectsOversizedEntry(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	f, err := fs.Create("/mnt/casette/DEMO/index.html")
	require.NoError(t, err)
	require.NoError(t, f.Truncate(maxEntrySize+1))
	require.NoError(t, f.Close())

	r := NewWithFs(fs, "index.html")
	_, found := r.Resolve("/mnt/casette/DEMO")
	assert.False(t, found)
}

func TestResolveRejectsSymlinkEntry(t *testing.T) {
	t.Parallel()

	// MemMapFs cannot create symlinks, so use the real filesystem.
	dir := t.TempDir()
	target := filepath.Join(dir, "outside.html")
	require.NoError(t, os.WriteFile(target, []byte("<html></html>"), 0o644))

	volume := filepath.Join(dir, "volume")
	require.NoError(t, os.MkdirAll(volume, 0o750))
	require.NoError(t, os.Symlink(target, filepath.Join(volume, "index.html")))

	r := New("index.html")
	_, found := r.Resolve(volume)
	assert.False(t, found)
}

func TestResolveCustomEntryName(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs,
		"/mnt/casette/DEMO/start.html", []byte("<html></html>"), 0o644))

	r := NewWithFs(fs, "start.html")
	path, found := r.Resolve("/mnt/casette/DEMO")
	assert.True(t, found)
	assert.Equal(t, "/mnt/casette/DEMO/start.html", path)
}
