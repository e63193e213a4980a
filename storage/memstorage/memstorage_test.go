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

package memstorage_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sintef/dlite-go/dliteerr"
	"github.com/sintef/dlite-go/instance"
	"github.com/sintef/dlite-go/storage"
	_ "github.com/sintef/dlite-go/storage/memstorage"
)

func TestOpenSaveLoadRoundTrip(t *testing.T) {
	url := fmt.Sprintf("mem://%s", t.Name())
	h, err := storage.Open(url)
	require.NoError(t, err)
	defer h.Close()

	assert.Equal(t, storage.Capabilities{Readable: true, Writable: true, Generic: true}, h.Capabilities())

	inst, err := instance.New(nil, nil, "http://example.com/0.1/Widget")
	require.NoError(t, err)
	require.NoError(t, h.Save(inst))

	got, err := h.Load(inst.URI())
	require.NoError(t, err)
	assert.Equal(t, inst.UUID(), got.UUID())

	got2, err := h.Load(inst.UUID())
	require.NoError(t, err)
	assert.Equal(t, inst.UUID(), got2.UUID())
}

func TestLoadMissingReturnsMissingInstance(t *testing.T) {
	url := fmt.Sprintf("mem://%s", t.Name())
	h, err := storage.Open(url)
	require.NoError(t, err)
	defer h.Close()

	_, err = h.Load("no-such-id")
	require.Error(t, err)
	assert.True(t, dliteerr.Is(err, dliteerr.MissingInstance))
}

func TestSameLocationSharesData(t *testing.T) {
	url := fmt.Sprintf("mem://%s", t.Name())
	h1, err := storage.Open(url)
	require.NoError(t, err)
	defer h1.Close()

	inst, err := instance.New(nil, nil, "http://example.com/0.1/Shared")
	require.NoError(t, err)
	require.NoError(t, h1.Save(inst))

	h2, err := storage.Open(url)
	require.NoError(t, err)
	got, err := h2.Load(inst.UUID())
	require.NoError(t, err)
	assert.Equal(t, inst.UUID(), got.UUID())
}

func TestIterIDsListsAllAndIsSorted(t *testing.T) {
	url := fmt.Sprintf("mem://%s", t.Name())
	h, err := storage.Open(url)
	require.NoError(t, err)
	defer h.Close()

	a, err := instance.New(nil, nil, "http://example.com/0.1/A")
	require.NoError(t, err)
	b, err := instance.New(nil, nil, "http://example.com/0.1/B")
	require.NoError(t, err)
	require.NoError(t, h.Save(a))
	require.NoError(t, h.Save(b))

	it, err := h.IterIDs("")
	require.NoError(t, err)
	defer it.Close()

	var got []string
	for it.Next() {
		got = append(got, it.Value())
	}
	require.NoError(t, it.Err())
	assert.Len(t, got, 2)
	assert.True(t, got[0] < got[1] || got[0] == got[1])
}

func TestOpenUnknownSchemeFails(t *testing.T) {
	_, err := storage.Open("nosuchscheme://wherever")
	require.Error(t, err)
	assert.True(t, dliteerr.Is(err, dliteerr.StorageOpen))
}

func TestLoadFragmentShortcut(t *testing.T) {
	url := fmt.Sprintf("mem://%s", t.Name())
	h, err := storage.Open(url)
	require.NoError(t, err)

	inst, err := instance.New(nil, nil, "http://example.com/0.1/Fragment")
	require.NoError(t, err)
	require.NoError(t, h.Save(inst))
	require.NoError(t, h.Close())

	got, err := storage.LoadFragment(url + "#" + inst.UUID())
	require.NoError(t, err)
	assert.Equal(t, inst.UUID(), got.UUID())
}
