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

package mount

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// readMountTable parses the live mount table into a device path -> mount
// path map. Only /dev-backed entries are kept.
func (m *Manager) readMountTable() (map[string]string, error) {
	file, err := os.Open(m.mountsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", m.mountsPath, err)
	}
	defer func() { _ = file.Close() }()

	table := make(map[string]string)

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}

		device := fields[0]
		if !strings.HasPrefix(device, "/dev/") {
			continue
		}

		table[device] = unescapeMountPath(fields[1])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", m.mountsPath, err)
	}

	return table, nil
}

// unescapeMountPath decodes the octal escapes (\040 for space, \011 for tab)
// the kernel uses in /proc mount entries.
func unescapeMountPath(path string) string {
	if !strings.Contains(path, "\\") {
		return path
	}

	var b strings.Builder
	b.Grow(len(path))
	for i := 0; i < len(path); i++ {
		if path[i] == '\\' && i+3 < len(path) {
			if code, err := strconv.ParseUint(path[i+1:i+4], 8, 8); err == nil {
				b.WriteByte(byte(code))
				i += 3
				continue
			}
		}
		b.WriteByte(path[i])
	}
	return b.String()
}
