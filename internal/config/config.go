package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/brensch/jusosync/internal/errs"
	"github.com/brensch/jusosync/internal/models"
	"github.com/brensch/jusosync/internal/util"
)

const (
	// DefaultRecoveryWindowDays is the largest gap a run will catch up on
	// before refusing and asking for manual intervention.
	DefaultRecoveryWindowDays = 10
	// DefaultCron fires at 01:00 every day. Quartz-style expressions with
	// a leading seconds field and '?' are accepted.
	DefaultCron = "0 0 1 * * ?"
)

// Dataset describes one published dataset and where it lands.
type Dataset struct {
	Kind        models.DatasetKind `mapstructure:"kind"`
	Code        string             `mapstructure:"code"`         // delivery service dataset code
	NameFilter  string             `mapstructure:"name_filter"`  // substring of the archive file name
	EntrySuffix string             `mapstructure:"entry_suffix"` // suffix of the entry inside the archive
	Table       string             `mapstructure:"table"`
	Procedure   string             `mapstructure:"procedure"` // reconciliation procedure, empty to skip
	Enabled     bool               `mapstructure:"enabled"`
}

// DefaultDatasets returns the two published change datasets.
func DefaultDatasets() []Dataset {
	return []Dataset{
		{
			Kind:        models.RoadNameChange,
			Code:        "100001",
			NameFilter:  "JUSUKR",
			EntrySuffix: "_mst.txt",
			Table:       "tb_juso_road_chg_tmp",
			Procedure:   "SP_ROAD_NM_ADDR_CHG_RFLCT",
			Enabled:     true,
		},
		{
			Kind:        models.DongDetail,
			Code:        "100004",
			NameFilter:  "JUSDG",
			EntrySuffix: "_dong.txt",
			Table:       "tb_juso_dong_detail_tmp",
			Procedure:   "",
			Enabled:     true,
		},
	}
}

type Schedule struct {
	Enabled  bool   `mapstructure:"enabled"`
	Cron     string `mapstructure:"cron"`
	Location string `mapstructure:"location"`
}

type Paths struct {
	ZipDir       string `mapstructure:"zip_dir"`
	ExtractDir   string `mapstructure:"extract_dir"`
	ProgressFile string `mapstructure:"progress_file"`
	ExportDir    string `mapstructure:"export_dir"`
}

type Database struct {
	Driver       string        `mapstructure:"driver"` // duckdb, mysql or postgres
	DSN          string        `mapstructure:"dsn"`
	CreateSchema bool          `mapstructure:"create_schema"`
	MaxOpenConns int           `mapstructure:"max_open_conns"`
	MaxIdleConns int           `mapstructure:"max_idle_conns"`
	ConnMaxLife  time.Duration `mapstructure:"conn_max_lifetime"`
}

type Delivery struct {
	Enabled bool          `mapstructure:"enabled"`
	BaseURL string        `mapstructure:"base_url"`
	AppKey  string        `mapstructure:"app_key"`
	Retry   bool          `mapstructure:"retry"`
	Retries int           `mapstructure:"retries"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type Server struct {
	Addr string `mapstructure:"addr"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// Config holds application settings. It is built once at startup and
// passed by value; nothing reads it from global state.
type Config struct {
	RecoveryWindowDays int       `mapstructure:"recovery_window_days"`
	Schedule           Schedule  `mapstructure:"schedule"`
	Paths              Paths     `mapstructure:"paths"`
	Database           Database  `mapstructure:"database"`
	Delivery           Delivery  `mapstructure:"delivery"`
	Server             Server    `mapstructure:"server"`
	Log                Log       `mapstructure:"log"`
	Datasets           []Dataset `mapstructure:"datasets"`
}

// Default returns a Config with every default applied.
func Default() Config {
	return Config{
		RecoveryWindowDays: DefaultRecoveryWindowDays,
		Schedule: Schedule{
			Enabled:  true,
			Cron:     DefaultCron,
			Location: "Asia/Seoul",
		},
		Paths: Paths{
			ZipDir:       "./data/zip",
			ExtractDir:   "./data/extract",
			ProgressFile: "./logs/last_success_date.txt",
			ExportDir:    "./data/export",
		},
		Database: Database{
			Driver:       "duckdb",
			DSN:          "./data/jusosync.duckdb",
			CreateSchema: true,
			MaxOpenConns: 10,
			MaxIdleConns: 5,
			ConnMaxLife:  5 * time.Minute,
		},
		Delivery: Delivery{
			Retry:   true,
			Retries: 3,
			Timeout: 2 * time.Minute,
		},
		Server:   Server{Addr: ":8080"},
		Log:      Log{Level: "info", Format: "text"},
		Datasets: DefaultDatasets(),
	}
}

// Location resolves the schedule location used for every calendar decision.
func (c Config) Location() (*time.Location, error) {
	return util.LoadLocation(c.Schedule.Location)
}

// EnabledDatasets returns the datasets that take part in a run, in order.
func (c Config) EnabledDatasets() []Dataset {
	var out []Dataset
	for _, d := range c.Datasets {
		if d.Enabled {
			out = append(out, d)
		}
	}
	return out
}

// Dataset looks up an enabled or disabled dataset by kind.
func (c Config) Dataset(kind models.DatasetKind) (Dataset, bool) {
	for _, d := range c.Datasets {
		if d.Kind == kind {
			return d, true
		}
	}
	return Dataset{}, false
}

// Validate reports every problem at once as an errs.ErrConfig.
func (c Config) Validate() error {
	var problems []string
	if c.RecoveryWindowDays < 1 {
		problems = append(problems, "recovery_window_days must be at least 1")
	}
	if c.Paths.ZipDir == "" {
		problems = append(problems, "paths.zip_dir is required")
	}
	if c.Paths.ExtractDir == "" {
		problems = append(problems, "paths.extract_dir is required")
	}
	if c.Paths.ProgressFile == "" {
		problems = append(problems, "paths.progress_file is required")
	}
	switch c.Database.Driver {
	case "duckdb", "mysql", "postgres":
	default:
		problems = append(problems, fmt.Sprintf("database.driver %q is not one of duckdb, mysql, postgres", c.Database.Driver))
	}
	if c.Database.DSN == "" && c.Database.Driver != "duckdb" {
		problems = append(problems, "database.dsn is required")
	}
	if c.Delivery.Enabled && c.Delivery.BaseURL == "" {
		problems = append(problems, "delivery.base_url is required when delivery is enabled")
	}
	if _, err := c.Location(); err != nil {
		problems = append(problems, err.Error())
	}
	if len(c.EnabledDatasets()) == 0 {
		problems = append(problems, "at least one dataset must be enabled")
	}
	seen := make(map[models.DatasetKind]bool)
	for i, d := range c.Datasets {
		if _, err := models.ParseKind(string(d.Kind)); err != nil {
			problems = append(problems, fmt.Sprintf("datasets[%d]: %v", i, err))
		}
		if seen[d.Kind] {
			problems = append(problems, fmt.Sprintf("datasets[%d]: duplicate kind %s", i, d.Kind))
		}
		seen[d.Kind] = true
		if strings.TrimSpace(d.NameFilter) == "" || strings.TrimSpace(d.EntrySuffix) == "" {
			problems = append(problems, fmt.Sprintf("datasets[%d]: name_filter and entry_suffix are required", i))
		}
		if d.Table == "" {
			problems = append(problems, fmt.Sprintf("datasets[%d]: table is required", i))
		}
	}
	if len(problems) > 0 {
		return errs.Configf("%s", strings.Join(problems, "; "))
	}
	return nil
}
