// Package config loads the flashkv configuration: a YAML file, overlaid by a
// .env file and FLASHKV_* environment variables.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/dd0wney/cluso-flashkv/pkg/auth"
	"github.com/dd0wney/cluso-flashkv/pkg/blockdev"
	"github.com/dd0wney/cluso-flashkv/pkg/logging"
	"github.com/dd0wney/cluso-flashkv/pkg/metrics"
	"github.com/dd0wney/cluso-flashkv/pkg/partition"
	"github.com/dd0wney/cluso-flashkv/pkg/ptable"
	"github.com/dd0wney/cluso-flashkv/pkg/status"
	flashtls "github.com/dd0wney/cluso-flashkv/pkg/tls"
	"github.com/dd0wney/cluso-flashkv/pkg/validation"
)

// DeviceConfig describes the flash image.
type DeviceConfig struct {
	Path     string          `yaml:"path" validate:"required"`
	Size     ptable.ByteSize `yaml:"size" validate:"gt=0"`
	UnitSize ptable.ByteSize `yaml:"unit_size" validate:"gt=0"`
	Sync     bool            `yaml:"sync"`
}

// EngineConfig holds record log options applied to every partition.
type EngineConfig struct {
	Compress      bool `yaml:"compress"`
	ReservedUnits int  `yaml:"reserved_units" validate:"gte=0"`
}

// ServerConfig configures the HTTP binding.
type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required"`
	// JWTSecret enables bearer authentication on /v1 when set.
	JWTSecret string `yaml:"jwt_secret" validate:"omitempty,min=32"`
	// TokenTTL is the lifetime of tokens minted with "flashkv token".
	TokenTTL time.Duration `yaml:"token_ttl" validate:"gt=0"`
	// TLS switches the binding to HTTPS.
	TLS flashtls.Config `yaml:"tls"`
}

// Config is the complete flashkv configuration.
type Config struct {
	Device      DeviceConfig    `yaml:"device"`
	TableOffset ptable.ByteSize `yaml:"table_offset"`
	Layout      ptable.Layout   `yaml:"layout"`
	Engine      EngineConfig    `yaml:"engine"`
	Server      ServerConfig    `yaml:"server"`
	LogLevel    string          `yaml:"log_level" validate:"oneof=debug info warn error"`
}

// Default returns the configuration used when no file is given: a 1 MiB image
// with 4 KiB units, the table in unit 0 and a small default layout.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			Path:     "flash.img",
			Size:     1 << 20,
			UnitSize: 4096,
		},
		Layout: ptable.Layout{Partitions: []ptable.LayoutEntry{
			{Name: "nvs", Type: "data", Subtype: "nvs", Size: 24 << 10},
			{Name: "factory", Type: "data", Subtype: "nvs", Size: 64 << 10},
			{Name: "storage", Type: "data", Subtype: "fat", Size: 256 << 10},
		}},
		Engine:   EngineConfig{ReservedUnits: 1},
		Server:   ServerConfig{Addr: ":8080", TokenTTL: 24 * time.Hour},
		LogLevel: "info",
	}
}

// Load reads the configuration. A missing .env is ignored; an empty path
// starts from Default.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables onto the file values.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	size := func(name string, dst *ptable.ByteSize) error {
		v, ok := lookup(name)
		if !ok || v == "" {
			return nil
		}
		n, err := ptable.ParseByteSize(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = n
		return nil
	}
	boolean := func(name string, dst *bool) error {
		v, ok := lookup(name)
		if !ok || v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = b
		return nil
	}

	str("FLASHKV_DEVICE", &c.Device.Path)
	str("FLASHKV_ADDR", &c.Server.Addr)
	str("FLASHKV_JWT_SECRET", &c.Server.JWTSecret)
	str("FLASHKV_TLS_CERT", &c.Server.TLS.CertFile)
	str("FLASHKV_TLS_KEY", &c.Server.TLS.KeyFile)
	str("FLASHKV_TLS_CA", &c.Server.TLS.CAFile)
	str("LOG_LEVEL", &c.LogLevel)
	c.LogLevel = strings.ToLower(c.LogLevel)

	for _, err := range []error{
		size("FLASHKV_DEVICE_SIZE", &c.Device.Size),
		size("FLASHKV_UNIT_SIZE", &c.Device.UnitSize),
		size("FLASHKV_TABLE_OFFSET", &c.TableOffset),
		boolean("FLASHKV_SYNC", &c.Device.Sync),
		boolean("FLASHKV_COMPRESS", &c.Engine.Compress),
		boolean("FLASHKV_TLS_AUTO", &c.Server.TLS.AutoGenerate),
	} {
		if err != nil {
			return err
		}
	}

	if v, ok := lookup("FLASHKV_TOKEN_TTL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("FLASHKV_TOKEN_TTL: %w", err)
		}
		c.Server.TokenTTL = d
	}

	if v, ok := lookup("FLASHKV_RESERVED_UNITS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FLASHKV_RESERVED_UNITS: %w", err)
		}
		c.Engine.ReservedUnits = n
	}
	return nil
}

// Validate checks field constraints and that the layout fits the device.
func (c *Config) Validate() error {
	if err := validation.Struct(c); err != nil {
		return err
	}

	unit := int64(c.Device.UnitSize)
	cv := validation.NewConfigValidator("Config")
	cv.MultipleOf("Device.UnitSize", unit, 8).
		MultipleOf("Device.Size", int64(c.Device.Size), unit).
		MultipleOf("TableOffset", int64(c.TableOffset), unit).
		Custom("TableOffset", func() error {
			if int64(c.TableOffset) >= int64(c.Device.Size) {
				return fmt.Errorf("%w: offset 0x%x outside device", status.ErrInvalidArgument, int64(c.TableOffset))
			}
			return nil
		}).
		NonNegative("Server.TLS.ValidFor", int64(c.Server.TLS.ValidFor)).
		When(c.Server.TLS.Enabled(), func(cv *validation.ConfigValidator) {
			cv.Custom("Server.TLS", func() error {
				if (c.Server.TLS.CertFile == "") != (c.Server.TLS.KeyFile == "") {
					return fmt.Errorf("%w: cert_file and key_file must be set together", status.ErrInvalidArgument)
				}
				return nil
			})
		})
	if cv.HasErrors() {
		return cv.Validate()
	}

	cv.When(len(c.Layout.Partitions) > 0, func(cv *validation.ConfigValidator) {
		cv.Custom("Layout", func() error {
			_, err := c.Table()
			return err
		})
	})
	return cv.Validate()
}

// Geometry is the device shape the configuration describes.
func (c *Config) Geometry() blockdev.Geometry {
	return blockdev.Geometry{UnitSize: int(c.Device.UnitSize), Size: int64(c.Device.Size)}
}

// Table builds the partition table described by the layout.
func (c *Config) Table() (*ptable.Table, error) {
	return c.Layout.Build(c.Geometry(), int64(c.TableOffset))
}

// Level is the parsed log level.
func (c *Config) Level() logging.Level {
	return logging.ParseLevel(c.LogLevel)
}

// TokenManager returns the bearer token manager, or nil when no secret is
// configured.
func (c *Config) TokenManager() (*auth.TokenManager, error) {
	if c.Server.JWTSecret == "" {
		return nil, nil
	}
	return auth.NewTokenManager(c.Server.JWTSecret, c.Server.TokenTTL)
}

// TLSConfig returns the binding's TLS configuration, or nil for plain HTTP.
func (c *Config) TLSConfig() (*tls.Config, error) {
	return flashtls.Load(c.Server.TLS)
}

// OpenDevice opens the configured image, which must already exist.
func (c *Config) OpenDevice() (*blockdev.FileDevice, error) {
	return blockdev.OpenFileDevice(c.Device.Path, int(c.Device.UnitSize), c.Device.Sync)
}

// MakeImage writes a fresh erased image at the configured path and programs
// the partition table into it. An existing image is replaced.
func (c *Config) MakeImage() (*blockdev.FileDevice, *ptable.Table, error) {
	table, err := c.Table()
	if err != nil {
		return nil, nil, err
	}
	if err := blockdev.CreateImage(c.Device.Path, int(c.Device.UnitSize), int64(c.Device.Size)); err != nil {
		return nil, nil, err
	}
	dev, err := c.OpenDevice()
	if err != nil {
		return nil, nil, err
	}
	if err := ptable.Write(dev, table); err != nil {
		dev.Close()
		return nil, nil, err
	}
	return dev, table, nil
}

// ManagerOptions are the partition manager options for this configuration.
func (c *Config) ManagerOptions(logger logging.Logger, reg *metrics.Registry) partition.Options {
	return partition.Options{
		TableOffset:   int64(c.TableOffset),
		Compress:      c.Engine.Compress,
		ReservedUnits: c.Engine.ReservedUnits,
		Logger:        logger,
		Metrics:       reg,
	}
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
