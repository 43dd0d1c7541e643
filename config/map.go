// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package config

import (
	"fmt"

	"github.com/z5labs/staticserver/config/key"
)

// Map is both a [Store] and a [Source]. Nested maps are addressed with
// [key.Chain]s.
type Map map[string]any

// Apply implements the [Source] interface by setting every leaf of m on store.
func (m Map) Apply(store Store) error {
	return walk(m, store, nil)
}

func walk(m map[string]any, store Store, chain key.Chain) error {
	for k, v := range m {
		// Copy so sibling keys never share a backing array.
		next := append(append(key.Chain{}, chain...), key.Name(k))

		switch x := v.(type) {
		case Map:
			if err := walk(x, store, next); err != nil {
				return err
			}
		case map[string]any:
			if err := walk(x, store, next); err != nil {
				return err
			}
		default:
			if err := store.Set(next, x); err != nil {
				return err
			}
		}
	}
	return nil
}

// UnknownKeyerError is returned for [key.Keyer] implementations other
// than [key.Name] and [key.Chain].
type UnknownKeyerError struct {
	Key key.Keyer
}

// Error implements the error interface.
func (e UnknownKeyerError) Error() string {
	return fmt.Sprintf("unknown key type %T: %s", e.Key, e.Key.Key())
}

// EmptyKeyChainError is returned when setting a value without a key.
type EmptyKeyChainError struct {
	Value any
}

// Error implements the error interface.
func (e EmptyKeyChainError) Error() string {
	return fmt.Sprintf("attempted to set value to an empty key chain: %v", e.Value)
}

// NotAMapError occurs when a key chain runs through a key which already
// holds a plain value.
type NotAMapError struct {
	Key string
}

// Error implements the error interface.
func (e NotAMapError) Error() string {
	return "config key does not hold a map: " + e.Key
}

// Set implements the [Store] interface.
func (m Map) Set(k key.Keyer, v any) error {
	switch x := k.(type) {
	case key.Name:
		m[string(x)] = v
		return nil
	case key.Chain:
		return m.setChain(x, v)
	default:
		return UnknownKeyerError{Key: k}
	}
}

func (m Map) setChain(chain key.Chain, v any) error {
	if len(chain) == 0 {
		return EmptyKeyChainError{Value: v}
	}
	if len(chain) == 1 {
		return m.Set(chain[0], v)
	}

	name := chain[0].Key()
	child, ok := m[name]
	if !ok {
		child = Map{}
		m[name] = child
	}

	var sub Map
	switch x := child.(type) {
	case Map:
		sub = x
	case map[string]any:
		sub = Map(x)
	default:
		return NotAMapError{Key: name}
	}
	return sub.setChain(chain[1:], v)
}
