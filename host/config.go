// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package host

import (
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/z5labs/staticserver/static"
)

// FallbackPort is used when no random port could be allocated.
const FallbackPort = 9999

// Config is everything needed to start a [Server]. It is read once per start.
type Config struct {
	// BindAddress is the interface to listen on when LocalOnly is false.
	// It defaults to the first non-loopback IPv4 address of the machine.
	BindAddress string `config:"bindAddress"`

	// Port is kept as text so that "", "0" and unparsable values all
	// select a random free port.
	Port string `config:"port"`

	DocumentRoot    string `config:"documentRoot"`
	UploadDirectory string `config:"uploadDirectory"`
	FilesDirectory  string `config:"filesDirectory"`

	TryAssets       bool   `config:"tryAssets"`
	AssetsDirectory string `config:"assetsDirectory"`

	Timeout   time.Duration `config:"timeout"`
	KeepAlive bool          `config:"keepAlive"`
	LocalOnly bool          `config:"localOnly"`

	// ControlAddress enables the control API when set.
	ControlAddress string `config:"controlAddress"`

	// HealthAddress enables the gRPC health service when set.
	HealthAddress string `config:"healthAddress"`

	// CORSOrigin is allowed to read static files and assets from other
	// origins. Empty means any origin.
	CORSOrigin  string `config:"corsOrigin"`
	DisableCORS bool   `config:"disableCors"`
}

// port returns the configured port, or 0 when a random one should be used.
func (c Config) port() int {
	p, err := strconv.Atoi(strings.TrimSpace(c.Port))
	if err != nil || p <= 0 || p > 65535 {
		return 0
	}
	return p
}

func (c Config) corsOrigin() string {
	switch {
	case c.DisableCORS:
		return ""
	case c.CORSOrigin == "":
		return static.AnyOrigin
	default:
		return c.CORSOrigin
	}
}

func (c Config) host(interfaceAddrs func() ([]net.Addr, error)) string {
	if c.LocalOnly {
		return "localhost"
	}
	if c.BindAddress != "" {
		return c.BindAddress
	}
	return firstNonLoopbackIPv4(interfaceAddrs)
}

func firstNonLoopbackIPv4(interfaceAddrs func() ([]net.Addr, error)) string {
	addrs, err := interfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return "127.0.0.1"
}

// ResolvePath turns p into an absolute path. file:// URLs and absolute
// paths are used as is, anything else is taken relative to base, or to
// the working directory when base is empty.
func ResolvePath(p, base string) (string, error) {
	if strings.HasPrefix(p, "file://") {
		u, err := url.Parse(p)
		if err != nil {
			return "", err
		}
		return filepath.FromSlash(u.Path), nil
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p), nil
	}
	if base == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		base = wd
	}
	return filepath.Join(base, p), nil
}
