// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Command staticserver serves a document root and bridges requests below
// /rn/ to the configured consumer.
package main

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/z5labs/staticserver"
	"github.com/z5labs/staticserver/appbuilder"
	"github.com/z5labs/staticserver/config"
	"github.com/z5labs/staticserver/host"
	"github.com/z5labs/staticserver/pkg/slogfield"

	"github.com/spf13/cobra"
)

//go:embed default_config.yaml
var defaultConfig []byte

// EnvPrefix is stripped from the environment variables read as config.
const EnvPrefix = "STATICSERVER_"

func main() {
	err := newCommand(os.Stderr).ExecuteContext(context.Background())
	if err != nil {
		os.Exit(1)
	}
}

// flagKeys maps each command line flag to the config key it overrides.
var flagKeys = map[string][]string{
	"port":         {"server", "port"},
	"root":         {"server", "documentRoot"},
	"upload-dir":   {"server", "uploadDirectory"},
	"files-dir":    {"server", "filesDirectory"},
	"assets":       {"server", "assetsDirectory"},
	"timeout":      {"server", "timeout"},
	"local-only":   {"server", "localOnly"},
	"keep-alive":   {"server", "keepAlive"},
	"try-assets":   {"server", "tryAssets"},
	"bind":         {"server", "bindAddress"},
	"control-addr": {"server", "controlAddress"},
	"health-addr":  {"server", "healthAddress"},
	"cors-origin":  {"server", "corsOrigin"},
	"no-cors":      {"server", "disableCors"},
	"consumer":     {"consumer", "kind"},
	"log-level":    {"log", "level"},
}

func newCommand(stderr io.Writer) *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:           "staticserver",
		Short:         "Serve static files and bridge dynamic requests to a consumer",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			srcs, err := sources(cmd, configFile)
			if err != nil {
				return err
			}

			builder := appbuilder.Recover[Config](
				appbuilder.Lifecycle[Config](
					appbuilder.OTel[Config](
						staticserver.AppBuilderFunc[Config](buildApp),
					),
				),
			)

			err = staticserver.Run[Config](cmd.Context(), builder, srcs...)
			return handleRunError(stderr, err)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configFile, "config", "c", "", "path to a YAML config file")
	flags.StringP("port", "p", "", "port to listen on, 0 picks a random free port")
	flags.StringP("root", "r", "", "document root to serve")
	flags.String("upload-dir", "", "directory uploaded files are written to")
	flags.String("files-dir", "", "base directory for relative paths")
	flags.String("assets", "", "directory consulted before the document root")
	flags.Duration("timeout", 0, "how long a dynamic request waits for its reply")
	flags.Bool("local-only", false, "only listen on localhost")
	flags.Bool("keep-alive", false, "keep serving while the app is in the background")
	flags.Bool("try-assets", false, "serve matching assets before the document root")
	flags.String("bind", "", "address to listen on, defaults to the first non-loopback IPv4 address")
	flags.String("control-addr", "", "address of the control API, disabled if empty")
	flags.String("health-addr", "", "address of the gRPC health service, disabled if empty")
	flags.String("cors-origin", "*", "origin allowed to read static files and assets")
	flags.Bool("no-cors", false, "send no CORS headers")
	flags.String("consumer", "", "consumer kind: log, webhook, sqs or pubsub")
	flags.String("log-level", "", "minimum log level")

	return cmd
}

// sources layers the config: built-in defaults, the config file, the
// environment and finally explicitly set flags.
func sources(cmd *cobra.Command, configFile string) ([]config.Source, error) {
	srcs := []config.Source{
		config.FromYaml(bytes.NewReader(defaultConfig)),
	}
	if configFile != "" {
		b, err := os.ReadFile(configFile)
		if err != nil {
			return nil, err
		}
		srcs = append(srcs, config.FromYaml(bytes.NewReader(b)))
	}
	srcs = append(srcs, config.FromEnv(EnvPrefix))

	flagSrc, err := flagSource(cmd)
	if err != nil {
		return nil, err
	}
	return append(srcs, flagSrc), nil
}

func flagSource(cmd *cobra.Command) (config.Map, error) {
	m := config.Map{}
	flags := cmd.Flags()
	for name, path := range flagKeys {
		if !flags.Changed(name) {
			continue
		}

		var v any
		var err error
		switch name {
		case "timeout":
			v, err = flags.GetDuration(name)
		case "local-only", "keep-alive", "try-assets":
			v, err = flags.GetBool(name)
		default:
			v, err = flags.GetString(name)
		}
		if err != nil {
			return nil, err
		}

		section, ok := m[path[0]].(config.Map)
		if !ok {
			section = config.Map{}
			m[path[0]] = section
		}
		section[path[1]] = v
	}
	return m, nil
}

// handleRunError treats a server which is already running as success.
func handleRunError(stderr io.Writer, err error) error {
	if err == nil {
		return nil
	}

	h := slog.NewTextHandler(stderr, nil)
	var inUse host.BindInUseError
	if errors.As(err, &inUse) {
		slog.New(h).Info("already running", slogfield.String("addr", inUse.Addr))
		return nil
	}
	logStartupFailure(h, err)
	return err
}
