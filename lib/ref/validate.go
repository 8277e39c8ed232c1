// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"strings"
)

// maxIDLength bounds principal and endpoint identifiers. Identifiers
// appear in every journal record and log line; long ones are a smell,
// not a need.
const maxIDLength = 96

// allowedChars is the character set permitted in identifiers:
// a-z, 0-9, and the symbols . _ = - /.
var allowedChars [256]bool

func init() {
	for c := byte('a'); c <= 'z'; c++ {
		allowedChars[c] = true
	}
	for c := byte('0'); c <= '9'; c++ {
		allowedChars[c] = true
	}
	allowedChars['.'] = true
	allowedChars['_'] = true
	allowedChars['='] = true
	allowedChars['-'] = true
	allowedChars['/'] = true
}

// validateID enforces identifier safety rules: characters restricted
// to the allowed set; no leading or trailing /; no empty segments; no
// ".." segments; no segments starting with ".". Identifiers end up in
// filesystem paths (journal directories) and must never traverse.
func validateID(id, label string) error {
	if id == "" {
		return fmt.Errorf("%s is empty", label)
	}
	if len(id) > maxIDLength {
		return fmt.Errorf("%s %q is %d characters, maximum is %d", label, id, len(id), maxIDLength)
	}
	for i := 0; i < len(id); i++ {
		if !allowedChars[id[i]] {
			return fmt.Errorf("%s: invalid character %q at position %d (allowed: a-z, 0-9, ., _, =, -, /)", label, id[i], i)
		}
	}

	if id[0] == '/' {
		return fmt.Errorf("%s must not start with /", label)
	}
	if id[len(id)-1] == '/' {
		return fmt.Errorf("%s must not end with /", label)
	}

	for _, segment := range strings.Split(id, "/") {
		if segment == "" {
			return fmt.Errorf("%s contains empty segment (double slash)", label)
		}
		if segment == ".." {
			return fmt.Errorf("%s contains '..' segment (path traversal)", label)
		}
		if segment[0] == '.' {
			return fmt.Errorf("%s segment %q starts with '.'", label, segment)
		}
	}

	return nil
}
