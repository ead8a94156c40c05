// Package config loads the chunkstored server's configuration from an
// optional YAML file plus environment variable overrides, following the
// env-var-with-defaults convention the rest of this module uses, extended
// with a file layer so deployments can check a config in alongside secrets
// passed through the environment.
package config

import (
	"os"
	"strconv"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the full chunkstored server configuration.
type Config struct {
	// Listen is the HTTP listen address, e.g. ":8080".
	Listen string `yaml:"listen"`

	// Backend selects the storage backend: "memory" or "mysql".
	Backend string `yaml:"backend"`

	// MySQLDSN is the data source name used when Backend == "mysql".
	MySQLDSN string `yaml:"mysqlDSN"`

	// TableName is the chunk table name for the relational backend.
	TableName string `yaml:"tableName"`

	// SnapshotCacheSize is a latestCacheSize value for snapshot.NewMemory.
	// chunkstored builds no snapshot store, so nothing in the server reads
	// it.
	SnapshotCacheSize int `yaml:"snapshotCacheSize"`

	// ShutdownTimeoutSeconds bounds graceful HTTP shutdown.
	ShutdownTimeoutSeconds int `yaml:"shutdownTimeoutSeconds"`
}

// Defaults returns the configuration used when neither a file nor
// environment variables override a field.
func Defaults() Config {
	return Config{
		Listen:                 ":8080",
		Backend:                "memory",
		TableName:              "chunks",
		SnapshotCacheSize:      1024,
		ShutdownTimeoutSeconds: 5,
	}
}

// Load builds a Config by starting from Defaults, layering in path (if
// non-empty and the file exists), then applying environment variable
// overrides. Environment variables win over the file, which wins over
// defaults.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, errors.Wrapf(err, "config: read %s", path)
			}
		} else if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "config: parse %s", path)
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.Listen = getenv("CHUNKSTORED_LISTEN", cfg.Listen)
	cfg.Backend = getenv("CHUNKSTORED_BACKEND", cfg.Backend)
	cfg.MySQLDSN = getenv("CHUNKSTORED_MYSQL_DSN", cfg.MySQLDSN)
	cfg.TableName = getenv("CHUNKSTORED_TABLE", cfg.TableName)
	cfg.SnapshotCacheSize = getenvInt("CHUNKSTORED_SNAPSHOT_CACHE_SIZE", cfg.SnapshotCacheSize)
	cfg.ShutdownTimeoutSeconds = getenvInt("CHUNKSTORED_SHUTDOWN_TIMEOUT_SECONDS", cfg.ShutdownTimeoutSeconds)
}

// getenv returns the named environment variable if set and non-empty,
// otherwise def.
func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// getenvInt is getenv's integer-parsing counterpart. An unparsable value
// falls back to def rather than failing configuration load outright.
func getenvInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
