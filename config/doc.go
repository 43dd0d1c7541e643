// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package config merges configuration from layered sources and decodes it
// into structs.
//
// A typical setup reads built-in defaults, then a YAML file, then the
// environment and finally command line flags:
//
//	m, err := config.Read(
//		config.Map{"http": config.Map{"port": "0"}},
//		config.FromYaml(f),
//		config.FromEnv("STATICSERVER_"),
//		config.Map(flags),
//	)
//	if err != nil {
//		return err
//	}
//
//	var cfg Config
//	err = m.Unmarshal(&cfg)
package config
