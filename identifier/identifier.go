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

// Package identifier implements split/join of meta URIs
// (`namespace/version/name`) and the URL surface described by §6.2,
// grounded on the original dlite_join_meta_uri/dlite_split_meta_uri
// semantics in _examples/original_source/src/dlite-misc.h.
package identifier

import (
	"net/url"
	"strings"

	"github.com/sintef/dlite-go/dliteerr"
)

// MetaURI is a parsed `namespace/version/name` identifier (§3.1).
type MetaURI struct {
	Namespace string
	Version   string
	Name      string
}

// String reconstructs the canonical `namespace/version/name` form.
func (m MetaURI) String() string {
	return Join(m.Namespace, m.Version, m.Name)
}

// Join constructs a meta URI from its parts, matching
// dlite_join_meta_uri's `namespace/version/name` layout.
func Join(namespace, version, name string) string {
	return strings.TrimRight(namespace, "/") + "/" + version + "/" + name
}

// Split parses a meta URI into namespace, version and name, matching
// dlite_split_meta_uri. The namespace is everything up to the second-to-
// last slash, so a namespace URL containing slashes (e.g.
// "http://www.sintef.no/calm") is preserved intact.
func Split(uri string) (MetaURI, error) {
	idx2 := strings.LastIndex(uri, "/")
	if idx2 < 0 {
		return MetaURI{}, dliteerr.New(dliteerr.Parse, "not a meta uri: %q", uri)
	}
	name := uri[idx2+1:]
	rest := uri[:idx2]

	idx1 := strings.LastIndex(rest, "/")
	if idx1 < 0 {
		return MetaURI{}, dliteerr.New(dliteerr.Parse, "not a meta uri: %q", uri)
	}
	version := rest[idx1+1:]
	namespace := rest[:idx1]

	if namespace == "" || version == "" || name == "" {
		return MetaURI{}, dliteerr.New(dliteerr.Parse, "incomplete meta uri: %q", uri)
	}
	return MetaURI{Namespace: namespace, Version: version, Name: name}, nil
}

// URL is the parsed storage URL surface from §6.2:
// scheme://location?query#fragment, where scheme names a driver, query is
// the options_kv encoded with ';' or '&', and fragment is an id shortcut
// for load.
type URL struct {
	Scheme   string
	Location string
	Options  map[string]string
	Fragment string
}

// ParseURL parses a storage URL per §6.2.
func ParseURL(raw string) (URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return URL{}, dliteerr.Wrap(dliteerr.Parse, err, "parse storage url %q", raw)
	}
	loc := u.Host + u.Path
	opts := make(map[string]string)
	query := u.RawQuery
	for _, sep := range []string{"&", ";"} {
		if strings.Contains(query, sep) {
			for _, kv := range strings.Split(query, sep) {
				if kv == "" {
					continue
				}
				parts := strings.SplitN(kv, "=", 2)
				if len(parts) == 2 {
					opts[parts[0]] = parts[1]
				} else {
					opts[parts[0]] = ""
				}
			}
			return URL{Scheme: u.Scheme, Location: loc, Options: opts, Fragment: u.Fragment}, nil
		}
	}
	if query != "" {
		parts := strings.SplitN(query, "=", 2)
		if len(parts) == 2 {
			opts[parts[0]] = parts[1]
		} else {
			opts[parts[0]] = ""
		}
	}
	return URL{Scheme: u.Scheme, Location: loc, Options: opts, Fragment: u.Fragment}, nil
}
