// Package config loads the resolver's startup configuration from the
// environment, the way the rest of the stack prefers: koanf for
// layering defaults under overrides, go-playground/validator for
// structural checks.
package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// AppConfig holds every configuration value the resolver reads at
// startup, parsed from environment variables under the DNS_ prefix.
type AppConfig struct {
	// LogLevel is the zap level threshold: debug, info, warn, or error.
	LogLevel string `koanf:"log_level" validate:"required,oneof=debug info warn error"`

	// Protocol selects which listener(s) to start: tcp, udp, or both.
	Protocol string `koanf:"protocol" validate:"required,oneof=tcp udp both"`

	// Host is the bind address for the DNS listeners.
	Host string `koanf:"host" validate:"required"`

	// Port is the bind port for the DNS listeners.
	Port int `koanf:"port" validate:"required,gte=1,lte=65535"`

	// RootServers are IP addresses used when no cached delegation
	// matches a query's suffix chain.
	RootServers []string `koanf:"root_servers" validate:"required,min=1,dive,ip"`

	// CacheLocation is the filesystem path of the SQLite cache file.
	CacheLocation string `koanf:"cache_location" validate:"required"`

	// CacheLRUSize bounds the in-process front cache; 0 disables it.
	CacheLRUSize int `koanf:"cache_lru_size" validate:"gte=0"`

	// UpstreamTimeoutSeconds is the per-probe socket deadline against
	// authoritative name servers.
	UpstreamTimeoutSeconds int `koanf:"upstream_timeout" validate:"required,gt=0"`

	// AdminEnabled starts the read-only introspection HTTP surface.
	AdminEnabled bool `koanf:"admin_enabled"`

	// AdminAddr is the bind address:port for the admin surface, never
	// the DNS port.
	AdminAddr string `koanf:"admin_addr" validate:"required_if=AdminEnabled true,omitempty,ip_port"`
}

// DEFAULT_APP_CONFIG defines the default application configuration
// before environment overrides are applied.
var DEFAULT_APP_CONFIG = AppConfig{
	LogLevel:               "info",
	Protocol:               "both",
	Host:                   "0.0.0.0",
	Port:                   53,
	RootServers:            []string{"198.41.0.4", "199.9.14.201", "192.33.4.12"},
	CacheLocation:          "/var/lib/cachednsd/cache.db",
	CacheLRUSize:           4096,
	UpstreamTimeoutSeconds: 5,
	AdminEnabled:           false,
	AdminAddr:              "127.0.0.1:8553",
}

// validIPPort validates a "host:port" field.
func validIPPort(fl validator.FieldLevel) bool {
	addr := fl.Field().String()
	ip, port, err := net.SplitHostPort(addr)
	if err != nil || ip == "" || port == "" {
		return false
	}
	if net.ParseIP(ip) == nil {
		return false
	}
	portNum, err := strconv.ParseUint(port, 10, 16)
	return err == nil && portNum > 0 && portNum < 65536
}

// envLoader loads environment variables with the "DNS_" prefix,
// lowercasing keys and splitting space/comma-separated values into
// slices (used for root_servers).
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: "DNS_",
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, "DNS_"))
			value = strings.TrimSpace(value)

			if value == "" {
				return key, value
			}

			if strings.Contains(value, " ") || strings.Contains(value, ",") {
				parts := strings.FieldsFunc(value, func(r rune) bool {
					return r == ' ' || r == ','
				})
				return key, parts
			}

			return key, value
		},
	}), nil)
}

var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DEFAULT_APP_CONFIG, "koanf"), nil)
}

var registerValidation = func(v *validator.Validate) error {
	return v.RegisterValidation("ip_port", validIPPort)
}

// Load parses environment variables into an AppConfig, applying
// defaults first and validating the result.
func Load() (*AppConfig, error) {
	k := koanf.New(".")

	if err := defaultLoader(k); err != nil {
		return nil, fmt.Errorf("error loading default config: %w", err)
	}

	if err := envLoader(k); err != nil {
		return nil, fmt.Errorf("error loading env: %w", err)
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := registerValidation(validate); err != nil {
		return nil, fmt.Errorf("error registering validation: %w", err)
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return &cfg, nil
}
