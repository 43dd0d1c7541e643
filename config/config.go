// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package config

import (
	"encoding"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/z5labs/staticserver/config/key"

	"github.com/mitchellh/mapstructure"
)

// Store receives the values of a [Source].
type Store interface {
	Set(key.Keyer, any) error
}

// Source is anything which can write its key value pairs into a [Store].
type Source interface {
	Apply(Store) error
}

// Manager holds the merged values of one or more sources.
type Manager struct {
	store Map
}

// Read applies srcs in order. Later sources override earlier ones.
func Read(srcs ...Source) (*Manager, error) {
	store := Map{}
	for _, src := range srcs {
		err := src.Apply(store)
		if err != nil {
			return nil, err
		}
	}
	return &Manager{store: store}, nil
}

// Apply implements the [Source] interface so a [Manager] can be layered
// beneath other sources.
func (m *Manager) Apply(store Store) error {
	return m.store.Apply(store)
}

// Unmarshal decodes the config into v, which must be a pointer. Struct
// fields are matched by their `config` tag.
//
// Durations may be given as Go duration strings or as integer
// milliseconds. Fields implementing [encoding.TextUnmarshaler] are
// decoded from strings.
func (m *Manager) Unmarshal(v any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "config",
		Result:           v,
		WeaklyTypedInput: true,
		DecodeHook: composeDecodeHooks(
			durationHookFunc(),
			textUnmarshalerHookFunc(),
		),
	})
	if err != nil {
		return err
	}
	return dec.Decode(map[string]any(m.store))
}

var errInvalidDecodeCondition = errors.New("invalid decode condition")

// TypeCoercionError occurs when a config value can not be converted to
// the type of the field it is decoded into.
type TypeCoercionError struct {
	From  reflect.Type
	To    reflect.Type
	Cause error
}

// Error implements the error interface.
func (e TypeCoercionError) Error() string {
	return fmt.Sprintf("failed to coerce value from %s to %s: %s", e.From, e.To, e.Cause)
}

// Unwrap implements the implicit interface for usage with errors.Is and errors.As.
func (e TypeCoercionError) Unwrap() error {
	return e.Cause
}

func composeDecodeHooks(hs ...mapstructure.DecodeHookFunc) mapstructure.DecodeHookFuncValue {
	return func(f, t reflect.Value) (any, error) {
		for _, h := range hs {
			v, err := mapstructure.DecodeHookExec(h, f, t)
			if err == nil {
				return v, nil
			}
			if errors.Is(err, errInvalidDecodeCondition) {
				continue
			}
			return nil, TypeCoercionError{
				From:  f.Type(),
				To:    t.Type(),
				Cause: err,
			}
		}
		return f.Interface(), nil
	}
}

var durationType = reflect.TypeOf(time.Duration(0))

func durationHookFunc() mapstructure.DecodeHookFuncType {
	return func(f, t reflect.Type, data any) (any, error) {
		if t != durationType {
			return nil, errInvalidDecodeCondition
		}

		switch x := data.(type) {
		case string:
			if ms, err := strconv.ParseInt(x, 10, 64); err == nil {
				return time.Duration(ms) * time.Millisecond, nil
			}
			return time.ParseDuration(x)
		case int:
			return time.Duration(x) * time.Millisecond, nil
		case int64:
			return time.Duration(x) * time.Millisecond, nil
		case uint64:
			return time.Duration(x) * time.Millisecond, nil
		case float64:
			return time.Duration(x * float64(time.Millisecond)), nil
		case time.Duration:
			return x, nil
		default:
			return nil, errInvalidDecodeCondition
		}
	}
}

func textUnmarshalerHookFunc() mapstructure.DecodeHookFuncType {
	return func(f, t reflect.Type, data any) (any, error) {
		if f.Kind() != reflect.String {
			return nil, errInvalidDecodeCondition
		}
		ptr := reflect.New(t)
		u, ok := ptr.Interface().(encoding.TextUnmarshaler)
		if !ok {
			return nil, errInvalidDecodeCondition
		}
		err := u.UnmarshalText([]byte(reflect.ValueOf(data).String()))
		if err != nil {
			return nil, err
		}
		return ptr.Elem().Interface(), nil
	}
}
