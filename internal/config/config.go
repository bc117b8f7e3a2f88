package config

import (
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"
	"github.com/serjinio/kmsg-queue/internal/logging"
	"github.com/serjinio/kmsg-queue/internal/procfs"
	"github.com/serjinio/kmsg-queue/internal/queue"
)

// Bounds for max_message_size.
const (
	MinMessageSize = 1
	MaxMessageSize = 1 << 20
)

// ServiceConfig configures one kmsgqd process.
type ServiceConfig struct {
	ID             string
	HTTPAddr       string
	WireAddr       string
	EndpointPath   string
	EndpointMode   fs.FileMode
	MaxMessageSize int
	MaxBodyBytes   int64
	CorsOrigins    []string
	AuthToken      string
	LogLevel       string
}

// kmsgqd config.toml key mapping to runtime settings.
type fileConfig struct {
	ID             string   `toml:"id"`
	HTTPAddr       string   `toml:"http_addr"`
	WireAddr       string   `toml:"wire_addr"`
	EndpointPath   string   `toml:"endpoint_path"`
	EndpointMode   string   `toml:"endpoint_mode"`
	MaxMessageSize int      `toml:"max_message_size"`
	MaxBodyBytes   int64    `toml:"max_body_bytes"`
	CorsOrigins    []string `toml:"cors_origins"`
	AuthToken      string   `toml:"auth_token"`
	LogLevel       string   `toml:"log_level"`
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		ID:             "kmsgqd",
		HTTPAddr:       ":9200",
		WireAddr:       "",
		EndpointPath:   procfs.DefaultPath,
		EndpointMode:   procfs.DefaultMode,
		MaxMessageSize: queue.DefaultMaxMessageSize,
		MaxBodyBytes:   1 << 20,
		CorsOrigins:    []string{"http://localhost:3000"},
		LogLevel:       "info",
	}
}

// LoadServiceConfig overlays the keys present in path onto the defaults.
func LoadServiceConfig(path string) (ServiceConfig, error) {
	cfg := DefaultServiceConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return ServiceConfig{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return ServiceConfig{}, fmt.Errorf("config parse failed (%s): unknown keys %s", path, strings.Join(keys, ", "))
	}

	if meta.IsDefined("id") {
		cfg.ID = strings.TrimSpace(raw.ID)
	}
	if meta.IsDefined("http_addr") {
		cfg.HTTPAddr = strings.TrimSpace(raw.HTTPAddr)
	}
	if meta.IsDefined("wire_addr") {
		cfg.WireAddr = strings.TrimSpace(raw.WireAddr)
	}
	if meta.IsDefined("endpoint_path") {
		cfg.EndpointPath = strings.TrimSpace(raw.EndpointPath)
	}
	if meta.IsDefined("endpoint_mode") {
		mode, err := ParseMode(raw.EndpointMode)
		if err != nil {
			return ServiceConfig{}, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
		cfg.EndpointMode = mode
	}
	if meta.IsDefined("max_message_size") {
		cfg.MaxMessageSize = raw.MaxMessageSize
	}
	if meta.IsDefined("max_body_bytes") {
		cfg.MaxBodyBytes = raw.MaxBodyBytes
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = raw.CorsOrigins
	}
	if meta.IsDefined("auth_token") {
		cfg.AuthToken = strings.TrimSpace(raw.AuthToken)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}

	if err := ValidateServiceConfig(cfg); err != nil {
		return ServiceConfig{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

// ParseMode reads an octal permission string such as "0666".
func ParseMode(raw string) (fs.FileMode, error) {
	raw = strings.TrimSpace(raw)
	v, err := strconv.ParseUint(strings.TrimPrefix(raw, "0o"), 8, 32)
	if err != nil {
		return 0, fmt.Errorf("endpoint_mode %q is not an octal mode", raw)
	}
	if v&^0o777 != 0 {
		return 0, fmt.Errorf("endpoint_mode %q has bits outside 0777", raw)
	}
	return fs.FileMode(v), nil
}

// ValidateServiceConfig reports every problem at once.
func ValidateServiceConfig(cfg ServiceConfig) error {
	var result *multierror.Error
	if strings.TrimSpace(cfg.ID) == "" {
		result = multierror.Append(result, fmt.Errorf("id is required"))
	}
	if strings.TrimSpace(cfg.HTTPAddr) == "" && strings.TrimSpace(cfg.WireAddr) == "" {
		result = multierror.Append(result, fmt.Errorf("http_addr or wire_addr is required"))
	}
	if cfg.HTTPAddr != "" && cfg.HTTPAddr == cfg.WireAddr {
		result = multierror.Append(result, fmt.Errorf("http_addr and wire_addr must differ"))
	}
	if !procfs.IsValidPath(cfg.EndpointPath) {
		result = multierror.Append(result, fmt.Errorf("endpoint_path %q is invalid", cfg.EndpointPath))
	}
	if cfg.EndpointMode&0o006 == 0 {
		result = multierror.Append(result, fmt.Errorf("endpoint_mode %#o grants neither read nor write", uint32(cfg.EndpointMode)))
	}
	if cfg.MaxMessageSize < MinMessageSize || cfg.MaxMessageSize > MaxMessageSize {
		result = multierror.Append(result, fmt.Errorf("max_message_size %d out of range [%d, %d]", cfg.MaxMessageSize, MinMessageSize, MaxMessageSize))
	}
	if cfg.MaxBodyBytes < int64(cfg.MaxMessageSize) {
		result = multierror.Append(result, fmt.Errorf("max_body_bytes %d is smaller than max_message_size %d", cfg.MaxBodyBytes, cfg.MaxMessageSize))
	}
	if cfg.LogLevel != "" {
		if _, ok := logging.ParseLevel(cfg.LogLevel); !ok {
			result = multierror.Append(result, fmt.Errorf("log_level %q is unknown", cfg.LogLevel))
		}
	}
	return result.ErrorOrNil()
}
