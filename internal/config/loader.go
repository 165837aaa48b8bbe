package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. JUSOSYNC_DATABASE_DSN.
const EnvPrefix = "JUSOSYNC"

// flagKeys maps persistent CLI flags onto config keys.
var flagKeys = map[string]string{
	"db-driver":     "database.driver",
	"db-dsn":        "database.dsn",
	"zip-dir":       "paths.zip_dir",
	"extract-dir":   "paths.extract_dir",
	"progress-file": "paths.progress_file",
	"export-dir":    "paths.export_dir",
	"log-level":     "log.level",
	"log-format":    "log.format",
	"log-file":      "log.file",
	"addr":          "server.addr",
}

// Load builds the Config from defaults, an optional YAML file, a .env file,
// JUSOSYNC_* environment variables and finally any flags that were set.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	// A missing .env is normal outside development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", cfgFile, err)
		}
	} else {
		v.SetConfigName("jusosync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/jusosync")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	// Datasets from a file replace the defaults wholesale rather than
	// merging field by field into them.
	cfg := Default()
	cfg.Datasets = nil
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if len(cfg.Datasets) == 0 {
		cfg.Datasets = DefaultDatasets()
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("recovery_window_days", d.RecoveryWindowDays)
	v.SetDefault("schedule.enabled", d.Schedule.Enabled)
	v.SetDefault("schedule.cron", d.Schedule.Cron)
	v.SetDefault("schedule.location", d.Schedule.Location)
	v.SetDefault("paths.zip_dir", d.Paths.ZipDir)
	v.SetDefault("paths.extract_dir", d.Paths.ExtractDir)
	v.SetDefault("paths.progress_file", d.Paths.ProgressFile)
	v.SetDefault("paths.export_dir", d.Paths.ExportDir)
	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.dsn", d.Database.DSN)
	v.SetDefault("database.create_schema", d.Database.CreateSchema)
	v.SetDefault("database.max_open_conns", d.Database.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", d.Database.MaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", d.Database.ConnMaxLife)
	v.SetDefault("delivery.enabled", d.Delivery.Enabled)
	v.SetDefault("delivery.base_url", d.Delivery.BaseURL)
	v.SetDefault("delivery.app_key", d.Delivery.AppKey)
	v.SetDefault("delivery.retry", d.Delivery.Retry)
	v.SetDefault("delivery.retries", d.Delivery.Retries)
	v.SetDefault("delivery.timeout", d.Delivery.Timeout)
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)
}
