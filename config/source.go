// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package config

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/z5labs/staticserver/internal/try"

	"gopkg.in/yaml.v3"
)

// InvalidYamlError occurs if the underlying io.Reader contains invalid YAML.
type InvalidYamlError struct {
	Cause error
}

// Error implements the error interface.
func (e InvalidYamlError) Error() string {
	return fmt.Sprintf("invalid yaml: %s", e.Cause)
}

// Unwrap implements the implicit interface used by errors.Is and errors.As.
func (e InvalidYamlError) Unwrap() error {
	return e.Cause
}

// InvalidJsonError occurs if the underlying io.Reader contains invalid JSON.
type InvalidJsonError struct {
	Cause error
}

// Error implements the error interface.
func (e InvalidJsonError) Error() string {
	return fmt.Sprintf("invalid json: %s", e.Cause)
}

// Unwrap implements the implicit interface used by errors.Is and errors.As.
func (e InvalidJsonError) Unwrap() error {
	return e.Cause
}

// Document is a [Source] parsed from a serialized document.
type Document struct {
	r         io.Reader
	unmarshal func([]byte, any) error
	invalid   func(error) error
}

// FromYaml returns a [Source] parsed from YAML. If r is an [io.Closer],
// it is closed once read.
func FromYaml(r io.Reader) Document {
	return Document{
		r:         r,
		unmarshal: yaml.Unmarshal,
		invalid: func(err error) error {
			return InvalidYamlError{Cause: err}
		},
	}
}

// FromJson returns a [Source] parsed from JSON. If r is an [io.Closer],
// it is closed once read.
func FromJson(r io.Reader) Document {
	return Document{
		r:         r,
		unmarshal: json.Unmarshal,
		invalid: func(err error) error {
			return InvalidJsonError{Cause: err}
		},
	}
}

// Apply implements the [Source] interface.
func (src Document) Apply(store Store) (err error) {
	if c, ok := src.r.(io.Closer); ok {
		defer try.Close(&err, c)
	}

	b, err := io.ReadAll(src.r)
	if err != nil {
		return err
	}

	m := make(map[string]any)
	err = src.unmarshal(b, &m)
	if err != nil {
		return src.invalid(err)
	}
	return Map(m).Apply(store)
}
