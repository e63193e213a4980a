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

// Package dlog wraps log/slog with the optional-logger-with-default-fallback
// pattern: a component given a *slog.Logger uses it and falls back to the
// process default when none is given (bsoncodec.SetLogger is its user).
package dlog

import "log/slog"

// Or returns logger if non-nil, otherwise slog.Default().
func Or(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}

// With returns a child logger scoped to a component name, e.g.
// dlog.With(logger, "store") attaches component=store to every record.
func With(logger *slog.Logger, component string) *slog.Logger {
	return Or(logger).With(slog.String("component", component))
}
