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

package identifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinSplitRoundTrip(t *testing.T) {
	uri := Join("http://www.sintef.no/calm", "0.1", "Chemistry")
	assert.Equal(t, "http://www.sintef.no/calm/0.1/Chemistry", uri)

	parts, err := Split(uri)
	require.NoError(t, err)
	assert.Equal(t, "http://www.sintef.no/calm", parts.Namespace)
	assert.Equal(t, "0.1", parts.Version)
	assert.Equal(t, "Chemistry", parts.Name)
	assert.Equal(t, uri, parts.String())
}

func TestSplitRejectsIncomplete(t *testing.T) {
	_, err := Split("onlyonesegment")
	assert.Error(t, err)

	_, err = Split("a/b")
	assert.Error(t, err)
}

func TestParseURLWithOptionsAndFragment(t *testing.T) {
	u, err := ParseURL("json://path/to/file.json?mode=r;compact=true#abc-123")
	require.NoError(t, err)
	assert.Equal(t, "json", u.Scheme)
	assert.Equal(t, "path/to/file.json", u.Location)
	assert.Equal(t, "r", u.Options["mode"])
	assert.Equal(t, "true", u.Options["compact"])
	assert.Equal(t, "abc-123", u.Fragment)
}

func TestParseURLSingleOption(t *testing.T) {
	u, err := ParseURL("mem://store?mode=w")
	require.NoError(t, err)
	assert.Equal(t, "w", u.Options["mode"])
}
