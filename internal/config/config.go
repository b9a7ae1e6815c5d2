package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/netip"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/tjfontaine/hass-directive-bridge/internal/logging"
)

// DefaultConfigPath is read when no --config flag is given. It is optional.
const DefaultConfigPath = "bridge.yaml"

const (
	ModeLambda = "lambda"
	ModeHTTP   = "http"
)

type Config struct {
	Tunnel     TunnelConfig     `koanf:"tunnel"`
	Controller ControllerConfig `koanf:"controller"`
	Host       HostConfig       `koanf:"host"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`

	// AccessToken is the default credential for directives whose scope has no
	// token. Optional.
	AccessToken string `koanf:"access_token"`
	LogLevel    string `koanf:"log_level"`
}

type TunnelConfig struct {
	Endpoint         string `koanf:"endpoint"`       // WireGuard peer, host:port
	PrivateKey       string `koanf:"private_key"`    // base64
	PublicKey        string `koanf:"public_key"`     // base64, the peer's
	SourcePeerIP     string `koanf:"source_peer_ip"` // our overlay address
	KeepaliveSeconds int    `koanf:"keepalive_seconds"`
	MTU              int    `koanf:"mtu"`
	ListenAddr       string `koanf:"listen_addr"` // local end of the port forward
}

type ControllerConfig struct {
	Host string `koanf:"host"` // ip:port on the private network
	Path string `koanf:"path"`
}

type HostConfig struct {
	Mode string `koanf:"mode"` // lambda or http
	Port int    `koanf:"port"`
}

type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

// ControllerURL is the tunnel-local base URL of the controller.
func (c *Config) ControllerURL() string {
	return "http://" + c.Tunnel.ListenAddr
}

var defaults = map[string]any{
	"tunnel.keepalive_seconds": 5,
	"tunnel.mtu":               1420,
	"tunnel.listen_addr":       "127.0.0.1:8080",
	"controller.path":          "/api/alexa/smart_home",
	"host.mode":                ModeLambda,
	"host.port":                9000,
	"log_level":                "info",
	"telemetry.service_name":   "hass-directive-bridge",
}

// legacyEnv maps the unprefixed variable names deployments already use.
var legacyEnv = map[string]string{
	"ENDPOINT":                "tunnel.endpoint",
	"PRIVATE_KEY":             "tunnel.private_key",
	"PUBLIC_KEY":              "tunnel.public_key",
	"SOURCE_PEER_IP":          "tunnel.source_peer_ip",
	"HA_HOST":                 "controller.host",
	"LOG_LEVEL":               "log_level",
	"LONG_LIVED_ACCESS_TOKEN": "access_token",
}

// flagKeys maps command-line flags to config keys.
var flagKeys = map[string]string{
	"endpoint":                "tunnel.endpoint",
	"private-key":             "tunnel.private_key",
	"public-key":              "tunnel.public_key",
	"source-peer-ip":          "tunnel.source_peer_ip",
	"keepalive":               "tunnel.keepalive_seconds",
	"listen-addr":             "tunnel.listen_addr",
	"ha-host":                 "controller.host",
	"ha-path":                 "controller.path",
	"log-level":               "log_level",
	"long-lived-access-token": "access_token",
	"mode":                    "host.mode",
	"port":                    "host.port",
	"telemetry":               "telemetry.enabled",
}

// NewFlagSet declares the command-line flags understood by Load.
func NewFlagSet(name string) *pflag.FlagSet {
	flags := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flags.StringP("config", "c", DefaultConfigPath, "path to a YAML config file")
	flags.StringP("endpoint", "e", "", "WireGuard endpoint, domain name or ip plus port")
	flags.StringP("private-key", "p", "", "WireGuard private key for this peer (base64)")
	flags.StringP("public-key", "k", "", "WireGuard public key of the endpoint (base64)")
	flags.StringP("source-peer-ip", "s", "", "overlay IP address assigned to this peer")
	flags.Int("keepalive", 0, "persistent keepalive interval in seconds")
	flags.String("listen-addr", "", "local address the controller is forwarded to")
	flags.StringP("ha-host", "a", "", "IP address and port of the controller on the private network")
	flags.String("ha-path", "", "controller path directives are posted to")
	flags.StringP("log-level", "l", "", "log level: error, warn, info, debug or trace")
	flags.StringP("long-lived-access-token", "t", "", "default access token for directives without one")
	flags.String("mode", "", "invocation host: lambda or http")
	flags.Int("port", 0, "listen port when mode is http")
	flags.Bool("telemetry", false, "export OpenTelemetry traces to stdout")
	flags.BoolP("help", "h", false, "show help")
	return flags
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load builds the configuration from, in increasing precedence: defaults, the
// YAML file, legacy environment variables, BRIDGE_ prefixed environment
// variables and explicitly set flags. args excludes the program name.
// pflag.ErrHelp is returned when help was requested.
func Load(flags *pflag.FlagSet, args []string) (*Config, error) {
	if err := flags.Parse(args); err != nil {
		return nil, err
	}
	if help, _ := flags.GetBool("help"); help {
		return nil, pflag.ErrHelp
	}

	k := koanf.New(".")

	path, _ := flags.GetString("config")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		// Only the default file may be absent
		if !errors.Is(err, fs.ErrNotExist) || flags.Changed("config") {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", func(s string) string {
		return legacyEnv[s]
	}), nil); err != nil {
		return nil, err
	}

	if err := k.Load(env.Provider("BRIDGE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "BRIDGE_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	var flagErr error
	flags.Visit(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok {
			return
		}
		if err := k.Set(key, f.Value.String()); err != nil {
			flagErr = errors.Join(flagErr, fmt.Errorf("flag --%s: %w", f.Name, err))
		}
	})
	if flagErr != nil {
		return nil, flagErr
	}

	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	cfg.AccessToken = substituteEnvVars(cfg.AccessToken)
	cfg.Tunnel.PrivateKey = substituteEnvVars(cfg.Tunnel.PrivateKey)

	return &cfg, nil
}

// Validate reports every missing or malformed setting.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Tunnel.Endpoint == "" {
		fail("tunnel.endpoint is required")
	} else if _, port, err := net.SplitHostPort(c.Tunnel.Endpoint); err != nil {
		fail("tunnel.endpoint %q: %w", c.Tunnel.Endpoint, err)
	} else if !validPort(port) {
		fail("tunnel.endpoint %q: invalid port", c.Tunnel.Endpoint)
	}
	if c.Tunnel.PrivateKey == "" {
		fail("tunnel.private_key is required")
	}
	if c.Tunnel.PublicKey == "" {
		fail("tunnel.public_key is required")
	}
	if c.Tunnel.SourcePeerIP == "" {
		fail("tunnel.source_peer_ip is required")
	} else if _, err := netip.ParseAddr(c.Tunnel.SourcePeerIP); err != nil {
		fail("tunnel.source_peer_ip: %w", err)
	}
	if c.Tunnel.KeepaliveSeconds < 0 || c.Tunnel.KeepaliveSeconds > 65535 {
		fail("tunnel.keepalive_seconds must be between 0 and 65535")
	}
	if c.Tunnel.MTU < 576 || c.Tunnel.MTU > 65535 {
		fail("tunnel.mtu must be between 576 and 65535")
	}
	if _, err := netip.ParseAddrPort(c.Tunnel.ListenAddr); err != nil {
		fail("tunnel.listen_addr: %w", err)
	}

	if c.Controller.Host == "" {
		fail("controller.host is required")
	} else if _, err := netip.ParseAddrPort(c.Controller.Host); err != nil {
		fail("controller.host: %w", err)
	}
	if !strings.HasPrefix(c.Controller.Path, "/") {
		fail("controller.path must start with /")
	}

	switch c.Host.Mode {
	case ModeLambda, ModeHTTP:
	default:
		fail("host.mode %q must be %s or %s", c.Host.Mode, ModeLambda, ModeHTTP)
	}
	if c.Host.Mode == ModeHTTP && (c.Host.Port <= 0 || c.Host.Port > 65535) {
		fail("host.port must be between 1 and 65535")
	}

	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func validPort(s string) bool {
	n, err := strconv.Atoi(s)
	return err == nil && n > 0 && n <= 65535
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
