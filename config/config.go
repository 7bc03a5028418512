// Package config loads devlogger settings from DEVLOGGER_* environment
// variables and an optional YAML/JSON/TOML file.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/auditmos/devlogger/logging"
	"github.com/auditmos/devlogger/storage"
)

const EnvPrefix = "DEVLOGGER"

// Config is loaded once at startup and treated as read-only afterwards.
type Config struct {
	LogLevel         logging.LogLevel
	DBConnection     string
	TableName        string
	EnableDB         bool
	AutoCatch        bool
	FallbackChannels []string // nil means the default channel
	RetentionDays    *int     // nil disables cleanup
	ExcludedPaths    []string
	LogFormat        string
	DashboardAddr    string
	HardDelete       bool
}

var defaults = map[string]interface{}{
	"log_level":         "debug",
	"db_connection":     "devlogger.db",
	"table_name":        storage.DefaultTable,
	"enable_db":         true,
	"auto_catch":        true,
	"fallback_channels": "",
	"retention_days":    "30",
	"excluded_paths":    "vendor/,storage/framework/,/pkg/mod/",
	"log_format":        "human",
	"dashboard_addr":    "127.0.0.1:4041",
	"hard_delete":       false,
}

// Load reads the environment and, when file is not empty, a config file.
// Environment variables win over the file.
func Load(file string) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// DEVLOGGER_ENABLE_DATABASE_LOGGING is the long spelling of ENABLE_DB.
	_ = v.BindEnv("enable_db", EnvPrefix+"_ENABLE_DB", EnvPrefix+"_ENABLE_DATABASE_LOGGING")

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, logging.WrapError("read config "+file, err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	level, ok := logging.LookupLevel(v.GetString("log_level"))
	if !ok {
		return nil, fmt.Errorf("unknown log level %q", v.GetString("log_level"))
	}

	retention, err := parseRetention(v.Get("retention_days"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		LogLevel:         level,
		DBConnection:     strings.TrimSpace(v.GetString("db_connection")),
		TableName:        strings.TrimSpace(v.GetString("table_name")),
		EnableDB:         v.GetBool("enable_db"),
		AutoCatch:        v.GetBool("auto_catch"),
		FallbackChannels: stringList(v.Get("fallback_channels")),
		RetentionDays:    retention,
		ExcludedPaths:    stringList(v.Get("excluded_paths")),
		LogFormat:        strings.ToLower(strings.TrimSpace(v.GetString("log_format"))),
		DashboardAddr:    strings.TrimSpace(v.GetString("dashboard_addr")),
		HardDelete:       v.GetBool("hard_delete"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if !storage.ValidTableName(c.TableName) {
		return fmt.Errorf("invalid table name %q", c.TableName)
	}
	if c.EnableDB && c.DBConnection == "" {
		return errors.New("database logging enabled but no database connection configured")
	}
	switch c.LogFormat {
	case "human", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	return nil
}

// parseRetention accepts a day count. Empty, "null", "none" and 0 disable
// retention.
func parseRetention(raw interface{}) (*int, error) {
	var days int
	switch val := raw.(type) {
	case nil:
		return nil, nil
	case int:
		days = val
	case int64:
		days = int(val)
	case float64:
		days = int(val)
	default:
		s := strings.ToLower(strings.TrimSpace(fmt.Sprint(val)))
		if s == "" || s == "null" || s == "none" {
			return nil, nil
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("invalid retention days %q", s)
		}
		days = n
	}

	if days < 0 {
		return nil, fmt.Errorf("invalid retention days %d", days)
	}
	if days == 0 {
		return nil, nil
	}
	return &days, nil
}

// stringList splits comma separated env values; lists from a config file
// are taken as is. Empty items are dropped and an empty result is nil.
func stringList(raw interface{}) []string {
	var items []string
	switch val := raw.(type) {
	case nil:
		return nil
	case []string:
		items = val
	case []interface{}:
		for _, item := range val {
			items = append(items, fmt.Sprint(item))
		}
	default:
		items = strings.Split(fmt.Sprint(val), ",")
	}

	var out []string
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
