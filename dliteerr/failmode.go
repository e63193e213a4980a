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

package dliteerr

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// FailMode selects how the process reacts to an error in addition to it
// being returned to the caller. Default is Return: the core never logs or
// exits unconditionally.
type FailMode int

const (
	// Return does nothing beyond returning the error (the default).
	Return FailMode = iota
	// Exit calls os.Exit(1) after reporting.
	Exit
	// Abort calls panic after reporting, for embedding programs that want
	// errors to behave like assertions.
	Abort
)

var (
	mu       sync.Mutex
	failMode = Return
	errStream io.Writer = os.Stderr
)

// SetFailMode sets the process-wide fail-mode (ERR_FAIL_MODE in §6.3).
func SetFailMode(m FailMode) {
	mu.Lock()
	defer mu.Unlock()
	failMode = m
}

// SetErrStream sets the process-wide diagnostic stream (ERR_STREAM).
func SetErrStream(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	errStream = w
}

// Report writes a severity-colored line for err to the configured
// ErrStream when the fail-mode is not Return, then acts on the fail-mode.
// It does nothing in the default (Return) mode: the core never logs
// unconditionally, so Report is strictly an opt-in facility that
// embedding programs enable via SetFailMode.
func Report(err error) {
	mu.Lock()
	mode, stream := failMode, errStream
	mu.Unlock()

	if mode == Return || err == nil {
		return
	}

	line := formatLine(err, stream)
	fmt.Fprintln(stream, line)

	switch mode {
	case Exit:
		os.Exit(1)
	case Abort:
		panic(err)
	}
}

func formatLine(err error, stream io.Writer) string {
	prefix := "dlite error:"
	if f, ok := stream.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		prefix = color.New(color.FgRed, color.Bold).Sprint(prefix)
	}
	return fmt.Sprintf("%s %v", prefix, err)
}
