// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package config

import (
	"os"
	"strings"
	"unicode"

	"github.com/z5labs/staticserver/config/key"
)

// NestingSeparator separates the nesting levels of an environment
// variable name, e.g. STATICSERVER_LOG__LEVEL sets log.level.
const NestingSeparator = "__"

// Env is a [Source] backed by environment variables.
type Env struct {
	prefix  string
	environ func() []string
}

// FromEnv returns a [Source] of every environment variable starting with
// prefix. The prefix is stripped and each level of the remaining name is
// converted from SNAKE_CASE to camelCase.
func FromEnv(prefix string) Env {
	return Env{
		prefix:  prefix,
		environ: os.Environ,
	}
}

// Apply implements the [Source] interface.
func (src Env) Apply(store Store) error {
	for _, pair := range src.environ() {
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		name, ok = strings.CutPrefix(name, src.prefix)
		if !ok || name == "" {
			continue
		}

		chain := key.Split(name, NestingSeparator)
		for i, level := range chain {
			chain[i] = key.Name(camelCase(level.Key()))
		}
		if len(chain) == 0 {
			continue
		}

		err := store.Set(chain, value)
		if err != nil {
			return err
		}
	}
	return nil
}

func camelCase(s string) string {
	var sb strings.Builder
	upper := false
	for i, r := range strings.ToLower(s) {
		if r == '_' {
			upper = i > 0
			continue
		}
		if upper {
			r = unicode.ToUpper(r)
			upper = false
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
