// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package key names the entries of a config store.
package key

import "strings"

// Keyer is implemented by every key type.
type Keyer interface {
	Key() string
}

// Name is a single, unnested key.
type Name string

// Key implements the [Keyer] interface.
func (k Name) Key() string {
	return string(k)
}

// Chain addresses a value nested below one or more maps.
type Chain []Keyer

// Key implements the [Keyer] interface. Levels are joined with a dot.
func (k Chain) Key() string {
	ss := make([]string, 0, len(k))
	for _, level := range k {
		ss = append(ss, level.Key())
	}
	return strings.Join(ss, ".")
}

// Split builds a [Chain] from s, one level per sep separated segment.
// Empty segments are skipped.
func Split(s, sep string) Chain {
	var chain Chain
	for _, segment := range strings.Split(s, sep) {
		if segment == "" {
			continue
		}
		chain = append(chain, Name(segment))
	}
	return chain
}
