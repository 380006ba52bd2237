package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. VDR_DATABASE_HOST.
const EnvPrefix = "VDR"

var searchPaths = []string{".", "./config", "/etc/veeduria"}

// defaults holds every built-in value. Keys without a default are still
// reachable from the environment through envKeys.
var defaults = map[string]any{
	"server.host":            "0.0.0.0",
	"server.port":            8080,
	"server.base_url":        "http://localhost:8080",
	"server.environment":     EnvDevelopment,
	"server.read_timeout":    "30s",
	"server.write_timeout":   "30s",
	"server.request_timeout": "15s",

	"database.host":                 "localhost",
	"database.port":                 5432,
	"database.name":                 "veeduria",
	"database.user":                 "veeduria",
	"database.ssl_mode":             "disable",
	"database.max_connections":      25,
	"database.min_idle_connections": 5,

	"storage.default_backend": "local",
	"storage.max_upload_mb":   10,
	"storage.local.base_path": "./storage",
	"storage.s3.auth_method":  "default",

	"auth.token_ttl":            "8h",
	"auth.issuer":               "consejo-veeduria",
	"auth.bootstrap_admin.name": "Administrador",

	"security.cors.allowed_origins":              []string{"*"},
	"security.cors.allowed_methods":              []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
	"security.rate_limiting.enabled":             true,
	"security.rate_limiting.requests_per_minute": 120,
	"security.rate_limiting.burst":               30,
	"security.tls.enabled":                       false,

	"logging.level":  "info",
	"logging.format": "json",

	"telemetry.service_name":            "veeduria",
	"telemetry.metrics.enabled":         true,
	"telemetry.metrics.prometheus_port": 9090,

	"audit.retention_floor_days": 30,

	"list.default_page_size": 15,
	"list.max_page_size":     100,

	"cache.backend":          "memory",
	"cache.default_ttl":      "5m",
	"cache.cleanup_interval": "10m",
	"cache.redis.address":    "localhost:6379",
	"cache.redis.db":         0,
}

// Load reads configPath, or config.yaml from the search paths when empty,
// applies VDR_ overrides and validates the result. A missing config file is
// not an error; every setting has a default or an environment variable.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		for _, p := range searchPaths {
			v.AddConfigPath(p)
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// AutomaticEnv only sees keys viper already knows, so nested fields
	// without a default or file value are bound explicitly.
	for _, key := range envKeys(reflect.TypeFor[Config](), "") {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.expandSecrets()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// envKeys lists the dotted mapstructure keys of every scalar field under t.
// Slices of structs and pointer sections (audit shippers) are file-only.
func envKeys(t reflect.Type, prefix string) []string {
	var keys []string
	for i := range t.NumField() {
		f := t.Field(i)
		name := f.Tag.Get("mapstructure")
		if name == "" || name == "-" {
			continue
		}
		key := name
		if prefix != "" {
			key = prefix + "." + name
		}

		switch {
		case f.Type.Kind() == reflect.Struct && f.Type != reflect.TypeFor[time.Time]():
			keys = append(keys, envKeys(f.Type, key)...)
		case f.Type.Kind() == reflect.Pointer, f.Type.Kind() == reflect.Map:
		case f.Type.Kind() == reflect.Slice && f.Type.Elem().Kind() == reflect.Struct:
		default:
			keys = append(keys, key)
		}
	}
	return keys
}

// expandSecrets resolves ${VAR} references in credential fields, so a YAML
// file can point at secrets mounted into the environment.
func (c *Config) expandSecrets() {
	for _, p := range []*string{
		&c.Database.Password,
		&c.Storage.S3.AccessKeyID,
		&c.Storage.S3.SecretAccessKey,
		&c.Cache.Redis.Password,
		&c.Auth.BootstrapAdmin.Password,
	} {
		*p = os.ExpandEnv(*p)
	}
}
