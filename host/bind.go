// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package host

import "fmt"

// BindInUseError is returned by [Server.Start] when another process already
// listens on the configured address.
type BindInUseError struct {
	Addr  string
	Cause error
}

// Error implements the [error] interface.
func (e BindInUseError) Error() string {
	return fmt.Sprintf("address already in use: %s", e.Addr)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e BindInUseError) Unwrap() error {
	return e.Cause
}
