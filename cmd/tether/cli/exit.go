// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import "fmt"

// ExitError signals a non-zero exit code without an extra error
// message. A command returning ExitError has already written its own
// output; main exits with the code and prints nothing.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

// ExitCode returns the exit code. main checks for this interface on
// returned errors to distinguish handled non-zero exits from errors
// to display.
func (e *ExitError) ExitCode() int {
	return e.Code
}
