package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/SzilBalazs/bctools/internal/domain"
	"github.com/spf13/viper"
)

// DefaultPath is used when no --config flag is given. Unlike an explicit path,
// it may be absent.
const DefaultPath = "bctools.yaml"

type Config struct {
	Generator GeneratorConfig `mapstructure:"generator" yaml:"generator"`
	Tablebase TablebaseConfig `mapstructure:"tablebase" yaml:"tablebase"`
	HTTP      HTTPConfig      `mapstructure:"http" yaml:"http"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Store     StoreConfig     `mapstructure:"store" yaml:"store"`

	Port string `mapstructure:"port" yaml:"port"`
}

type GeneratorConfig struct {
	Binary  string        `mapstructure:"binary" yaml:"binary"`
	Command string        `mapstructure:"command" yaml:"command"`
	WorkDir string        `mapstructure:"work_dir" yaml:"work_dir"`
	DataDir string        `mapstructure:"data_dir" yaml:"data_dir"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type TablebaseConfig struct {
	Destination   string          `mapstructure:"destination" yaml:"destination"`
	Concurrency   int             `mapstructure:"concurrency" yaml:"concurrency"`
	SkipNonFiles  bool            `mapstructure:"skip_non_files" yaml:"skip_non_files"`
	SaveIndex     bool            `mapstructure:"save_index" yaml:"save_index"`
	DefaultSource string          `mapstructure:"default_source" yaml:"default_source"`
	Sources       []domain.Source `mapstructure:"sources" yaml:"sources"`
}

type HTTPConfig struct {
	// Timeout is the longest a download may stall between reads.
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RetryAttempts   int           `mapstructure:"retry_attempts" yaml:"retry_attempts"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff"`
	RetryMaxBackoff time.Duration `mapstructure:"retry_max_backoff" yaml:"retry_max_backoff"`
	RateLimit       float64       `mapstructure:"rate_limit" yaml:"rate_limit"`
}

type LogConfig struct {
	Path          string `mapstructure:"path" yaml:"path"`
	Level         string `mapstructure:"level" yaml:"level"`
	IncludeStdout bool   `mapstructure:"include_stdout" yaml:"include_stdout"`
	MaxSizeMB     int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups    int    `mapstructure:"max_backups" yaml:"max_backups"`
}

type StoreConfig struct {
	Driver      string `mapstructure:"driver" yaml:"driver"`
	SQLitePath  string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn" yaml:"postgres_dsn"`
}

// DefaultSources are the lichess standard tablebase directories.
var DefaultSources = []domain.Source{
	{Name: "3-4-5", BaseURL: "https://tablebase.lichess.ovh/tables/standard/3-4-5/"},
	{Name: "6-wdl", BaseURL: "https://tablebase.lichess.ovh/tables/standard/6-wdl/"},
}

func Load(path string) (*Config, error) {
	explicit := path != ""
	if path == "" {
		path = DefaultPath
	}

	v := viper.New()

	// Set Defaults
	v.SetDefault("generator.binary", "./BlackCore")
	v.SetDefault("generator.command", "datagen")
	v.SetDefault("generator.work_dir", ".")
	v.SetDefault("generator.data_dir", "data")
	v.SetDefault("generator.timeout", "0s")
	v.SetDefault("tablebase.destination", ".")
	v.SetDefault("tablebase.concurrency", 4)
	v.SetDefault("tablebase.skip_non_files", true)
	v.SetDefault("tablebase.save_index", false)
	v.SetDefault("tablebase.default_source", "6-wdl")
	v.SetDefault("http.timeout", "60s")
	v.SetDefault("http.retry_attempts", 0)
	v.SetDefault("http.retry_backoff", "1s")
	v.SetDefault("http.retry_max_backoff", "30s")
	v.SetDefault("http.rate_limit", 0)
	v.SetDefault("log.path", "bctools.log")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.include_stdout", true)
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "bctools.db")
	v.SetDefault("port", "8080")

	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	} else if explicit || !os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	// Support Environment Variables
	v.SetEnvPrefix("BCTOOLS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Generator.Binary == "" {
		return errors.New("generator.binary is required")
	}

	if c.Generator.Command == "" {
		c.Generator.Command = "datagen"
	}

	if c.Generator.Timeout < 0 {
		return fmt.Errorf("generator.timeout must not be negative: %s", c.Generator.Timeout)
	}

	if c.Tablebase.Concurrency <= 0 {
		// Sequential, as the original downloader did
		c.Tablebase.Concurrency = 1
	}

	if c.Tablebase.Destination == "" {
		c.Tablebase.Destination = "."
	}

	if len(c.Tablebase.Sources) == 0 {
		c.Tablebase.Sources = append([]domain.Source(nil), DefaultSources...)
	}

	seen := make(map[string]bool, len(c.Tablebase.Sources))
	for i, s := range c.Tablebase.Sources {
		if s.Name == "" {
			return fmt.Errorf("tablebase.sources[%d] requires a name", i)
		}
		if s.BaseURL == "" {
			return fmt.Errorf("tablebase source %s: base_url is required", s.Name)
		}
		if seen[s.Name] {
			return fmt.Errorf("tablebase source %s is defined twice", s.Name)
		}
		seen[s.Name] = true

		if !strings.HasSuffix(s.BaseURL, "/") {
			// Entries are appended verbatim, so the base must end in a slash
			c.Tablebase.Sources[i].BaseURL = s.BaseURL + "/"
		}
	}

	if c.HTTP.RetryAttempts < 0 {
		c.HTTP.RetryAttempts = 0
	}

	if c.HTTP.RateLimit < 0 {
		return fmt.Errorf("http.rate_limit must not be negative: %v", c.HTTP.RateLimit)
	}

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return errors.New("store.sqlite_path is required for the sqlite driver")
		}
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return errors.New("store.postgres_dsn is required for the postgres driver")
		}
	case "none", "":
		c.Store.Driver = "none"
	default:
		return fmt.Errorf("unknown store.driver %q (want sqlite, postgres or none)", c.Store.Driver)
	}

	return nil
}

// Source looks up a tablebase source by name.
func (c *Config) Source(name string) (domain.Source, error) {
	for _, s := range c.Tablebase.Sources {
		if s.Name == name {
			return s, nil
		}
	}
	return domain.Source{}, fmt.Errorf("%w: %q", domain.ErrUnknownSource, name)
}
