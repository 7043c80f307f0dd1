// Package config loads leadcheck settings from leadcheck.yaml and LC_*
// environment variables through a package-level viper instance.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/leadcheck/leadcheck/internal/notification"
)

// EnvPrefix prefixes every environment override: db.path is LC_DB_PATH.
const EnvPrefix = "LC"

var v *viper.Viper

// Initialize sets up the viper instance. path, if non-empty, names the
// config file explicitly; otherwise leadcheck.yaml is searched for in the
// working directory and then $HOME/.config/leadcheck. A missing file is not
// an error.
func Initialize(path ...string) error {
	v = viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if len(path) > 0 && path[0] != "" {
		v.SetConfigFile(path[0])
	} else {
		v.SetConfigName("leadcheck")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "leadcheck"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if len(path) > 0 && path[0] != "" {
			return fmt.Errorf("config file %s: %w", path[0], err)
		}
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("json", false)
	v.SetDefault("actor", "")
	v.SetDefault("role", "")

	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.path", "leadcheck.db")
	v.SetDefault("db.dsn", "")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.cors_origins", []string{})
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.jwt_ttl", 12*time.Hour)
	v.SetDefault("intake.secret", "")

	v.SetDefault("feed.buffer", 64)
	v.SetDefault("feed.history", 512)
	v.SetDefault("feed.relay", "none")
	v.SetDefault("feed.redis_url", "")
	v.SetDefault("feed.redis_stream", "leadcheck.feed")
	v.SetDefault("feed.nats_url", "")
	v.SetDefault("feed.nats_token", "")
	v.SetDefault("feed.nats_port", 4222)
	v.SetDefault("feed.nats_store_dir", "")
	v.SetDefault("feed.heartbeat", 15*time.Second)

	v.SetDefault("leads.base_url", "")
	v.SetDefault("leads.token", "")
	v.SetDefault("leads.file", "")
	v.SetDefault("leads.max_elapsed", 10*time.Second)

	v.SetDefault("roster.file", "")

	v.SetDefault("notify.dedupe_window", notification.DefaultDedupeWindow)

	v.SetDefault("log.level", "info")
}

// ConfigFileUsed returns the path of the loaded config file, if any.
func ConfigFileUsed() string {
	if v == nil {
		return ""
	}
	return v.ConfigFileUsed()
}

// BindFlag binds a cobra/pflag flag onto key so an explicitly set flag wins
// over file and environment.
func BindFlag(key string, flag *pflag.Flag) error {
	if v == nil {
		return fmt.Errorf("config not initialized")
	}
	if flag == nil {
		return fmt.Errorf("bind %s: nil flag", key)
	}
	return v.BindPFlag(key, flag)
}

// Set overrides a value for the life of the process.
func Set(key string, value interface{}) {
	if v != nil {
		v.Set(key, value)
	}
}

// GetString retrieves a string configuration value
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool retrieves a boolean configuration value
func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

// GetInt retrieves an integer configuration value
func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

// GetDuration retrieves a duration configuration value
func GetDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

// GetStringSlice retrieves a string slice. A comma-separated string, as
// environment variables give, is split.
func GetStringSlice(key string) []string {
	if v == nil {
		return []string{}
	}
	raw, ok := v.Get(key).(string)
	if !ok {
		return v.GetStringSlice(key)
	}
	out := []string{}
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// AllSettings returns every resolved setting.
func AllSettings() map[string]interface{} {
	if v == nil {
		return map[string]interface{}{}
	}
	return v.AllSettings()
}

// Notification returns the notify.* section as dispatcher config.
func Notification() (notification.Config, error) {
	var cfg notification.Config
	if v == nil {
		return cfg, nil
	}
	if err := v.UnmarshalKey("notify", &cfg); err != nil {
		return cfg, fmt.Errorf("notify config: %w", err)
	}
	if cfg.DedupeWindow <= 0 {
		cfg.DedupeWindow = notification.DefaultDedupeWindow
	}
	return cfg, nil
}
