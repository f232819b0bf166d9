// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Bulwark Contributors

package config

import (
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	bulwarkerr "github.com/bulwark-dev/bulwark/pkg/errors"
)

// Config is the top-level Bulwark configuration.
type Config struct {
	Server  ServerConfig           `mapstructure:"server"`
	Storage StorageConfig          `mapstructure:"storage"`
	Probing ProbingConfig          `mapstructure:"probing"`
	Breaker BreakerConfig          `mapstructure:"breaker"`
	Queue   QueueConfig            `mapstructure:"queue"`
	Classes map[string]ClassConfig `mapstructure:"classes"`
}

// ServerConfig controls the status API listener.
type ServerConfig struct {
	Listen string `mapstructure:"listen"`
}

// StorageConfig selects the durable state backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

// ProbingConfig controls the health prober's cadence and bound.
type ProbingConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// BreakerConfig controls the per-provider circuit breaker.
type BreakerConfig struct {
	FailureThreshold int `mapstructure:"failure_threshold"`
}

// QueueConfig controls the offline mutation queue.
type QueueConfig struct {
	MaxAttempts int `mapstructure:"max_attempts"`
}

// ClassConfig lists the provider candidates for one service class, in
// priority order. FailOpen defaults to true when unset.
type ClassConfig struct {
	Providers []ProviderConfig `mapstructure:"providers"`
	FailOpen  *bool            `mapstructure:"fail_open"`
}

// ProviderConfig identifies one endpoint candidate.
type ProviderConfig struct {
	Name     string `mapstructure:"name"`
	Endpoint string `mapstructure:"endpoint"`
}

// FailOpenOrDefault resolves the class's degraded-mode policy.
func (c ClassConfig) FailOpenOrDefault() bool {
	if c.FailOpen == nil {
		return true
	}
	return *c.FailOpen
}

// SetDefaults installs configuration defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", "127.0.0.1:18990")
	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("probing.interval", "30s")
	v.SetDefault("probing.timeout", "10s")
	v.SetDefault("breaker.failure_threshold", 3)
	v.SetDefault("queue.max_attempts", 5)
}

// SetupEnv binds BULWARK_-prefixed environment variables.
func SetupEnv(v *viper.Viper) {
	v.SetEnvPrefix("BULWARK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// DefaultClasses is the hard-coded provider list used when no classes
// section is configured.
func DefaultClasses() map[string]ClassConfig {
	return map[string]ClassConfig{
		"sandbox": {Providers: []ProviderConfig{
			{Name: "sandbox-primary", Endpoint: "https://sandbox.bulwark.dev"},
			{Name: "sandbox-fallback", Endpoint: "https://sandbox-fallback.bulwark.dev"},
		}},
		"inference": {Providers: []ProviderConfig{
			{Name: "inference-primary", Endpoint: "https://inference.bulwark.dev"},
			{Name: "inference-fallback", Endpoint: "https://inference-fallback.bulwark.dev"},
		}},
		"storage": {Providers: []ProviderConfig{
			{Name: "storage-primary", Endpoint: "https://storage.bulwark.dev"},
			{Name: "storage-fallback", Endpoint: "https://storage-fallback.bulwark.dev"},
		}},
	}
}

// Load reads configuration from the given path (or defaults) with
// environment variable overrides (prefix BULWARK_).
func Load(path string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)
	SetupEnv(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, bulwarkerr.Errorf(bulwarkerr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
		}
	}

	return FromViper(v)
}

// FromViper unmarshals and validates a populated Viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, bulwarkerr.Errorf(bulwarkerr.CodeConfigValidateInvalidValue, "unmarshalling config: %w", err)
	}

	// Classes missing from the configuration fall back to the
	// hard-coded defaults, one class at a time.
	if cfg.Classes == nil {
		cfg.Classes = make(map[string]ClassConfig)
	}
	for name, class := range DefaultClasses() {
		if _, ok := cfg.Classes[name]; !ok {
			cfg.Classes[name] = class
		}
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, bulwarkerr.Errorf(bulwarkerr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}

	return &cfg, nil
}

// Validate checks the configuration for logical errors, collecting every
// issue rather than stopping at the first one.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateServer()...)
	errs = append(errs, c.validateStorage()...)
	errs = append(errs, c.validateProbing()...)
	errs = append(errs, c.validateClasses()...)

	if c.Breaker.FailureThreshold <= 0 {
		errs = append(errs, bulwarkerr.Errorf(bulwarkerr.CodeConfigValidateInvalidValue,
			"config: breaker.failure_threshold must be greater than 0, got %d",
			c.Breaker.FailureThreshold,
		))
	}

	if c.Queue.MaxAttempts <= 0 {
		errs = append(errs, bulwarkerr.Errorf(bulwarkerr.CodeConfigValidateInvalidValue,
			"config: queue.max_attempts must be greater than 0, got %d",
			c.Queue.MaxAttempts,
		))
	}

	return errs
}

func (c *Config) validateServer() []error {
	var errs []error

	if c.Server.Listen == "" {
		errs = append(errs, bulwarkerr.Errorf(bulwarkerr.CodeConfigValidateInvalidValue, "config: server.listen must not be empty"))
		return errs
	}

	_, portStr, err := net.SplitHostPort(c.Server.Listen)
	if err != nil {
		errs = append(errs, bulwarkerr.Errorf(bulwarkerr.CodeConfigValidateInvalidValue,
			"config: server.listen must be a valid host:port address, got %q: %w",
			c.Server.Listen, err,
		))
		return errs
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		errs = append(errs, bulwarkerr.Errorf(bulwarkerr.CodeConfigValidateInvalidValue,
			"config: server.listen port must be a number, got %q",
			portStr,
		))
	} else if port < 1 || port > 65535 {
		errs = append(errs, bulwarkerr.Errorf(bulwarkerr.CodeConfigValidateInvalidValue,
			"config: server.listen port must be between 1 and 65535, got %d",
			port,
		))
	}

	return errs
}

func (c *Config) validateStorage() []error {
	var errs []error

	validBackends := map[string]bool{"sqlite": true, "memory": true}
	if !validBackends[c.Storage.Backend] {
		errs = append(errs, bulwarkerr.Errorf(bulwarkerr.CodeConfigValidateInvalidValue,
			"config: storage.backend must be one of [sqlite, memory], got %q",
			c.Storage.Backend,
		))
	}

	return errs
}

func (c *Config) validateProbing() []error {
	var errs []error

	if c.Probing.Interval <= 0 {
		errs = append(errs, bulwarkerr.Errorf(bulwarkerr.CodeConfigValidateInvalidValue,
			"config: probing.interval must be greater than 0, got %s",
			c.Probing.Interval,
		))
	}

	if c.Probing.Timeout <= 0 {
		errs = append(errs, bulwarkerr.Errorf(bulwarkerr.CodeConfigValidateInvalidValue,
			"config: probing.timeout must be greater than 0, got %s",
			c.Probing.Timeout,
		))
	}

	return errs
}

func (c *Config) validateClasses() []error {
	var errs []error

	validClasses := map[string]bool{"sandbox": true, "inference": true, "storage": true}

	for className, class := range c.Classes {
		if !validClasses[className] {
			errs = append(errs, bulwarkerr.Errorf(bulwarkerr.CodeConfigValidateInvalidValue,
				"config: classes key must be one of [sandbox, inference, storage], got %q",
				className,
			))
			continue
		}

		if len(class.Providers) == 0 {
			errs = append(errs, bulwarkerr.Errorf(bulwarkerr.CodeConfigValidateInvalidValue,
				"config: classes.%s must list at least one provider", className))
			continue
		}

		seen := map[string]bool{}
		for i, p := range class.Providers {
			if p.Name == "" {
				errs = append(errs, bulwarkerr.Errorf(bulwarkerr.CodeConfigValidateInvalidValue,
					"config: classes.%s.providers[%d].name must not be empty", className, i))
			} else if seen[p.Name] {
				errs = append(errs, bulwarkerr.Errorf(bulwarkerr.CodeConfigValidateInvalidValue,
					"config: classes.%s has duplicate provider name %q", className, p.Name))
			}
			seen[p.Name] = true

			if p.Endpoint == "" {
				errs = append(errs, bulwarkerr.Errorf(bulwarkerr.CodeConfigValidateInvalidValue,
					"config: classes.%s.providers[%d].endpoint must not be empty", className, i))
			}
		}
	}

	return errs
}
