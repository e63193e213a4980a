// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package dlite

import (
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersionDefaultsWithoutLdflags(t *testing.T) {
	assert.Equal(t, "0.1.0", Version())
	v, c, d := BuildInfo()
	assert.Equal(t, "0.1.0", v)
	assert.Equal(t, "unknown", c)
	assert.Equal(t, "unknown", d)
}

func TestPlatformReportsGOOSGOARCH(t *testing.T) {
	want := runtime.GOOS + "/" + runtime.GOARCH
	assert.Equal(t, want, Platform())
	assert.True(t, strings.Contains(Platform(), "/"))
}
