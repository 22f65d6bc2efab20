package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// DefaultFile is the configuration file looked up in the working directory.
const DefaultFile = "exodus.yml"

// ErrConfigMissing is matched by every MissingParamError.
var ErrConfigMissing = errors.New("configuration parameter missing")

// ErrConfigNotFound is returned when the configuration file does not exist.
var ErrConfigNotFound = errors.New("configuration file not found")

// MissingParamError names the configuration key that is absent or empty.
type MissingParamError struct {
	Param string
}

func (e *MissingParamError) Error() string {
	return fmt.Sprintf("configuration parameter %q is missing", e.Param)
}

func (e *MissingParamError) Unwrap() error { return ErrConfigMissing }

type Config struct {
	MigrationDir   string   `mapstructure:"migration_dir"`
	MigrationTable string   `mapstructure:"migration_table"`
	LogLevel       string   `mapstructure:"log_level"`
	DB             DBConfig `mapstructure:"db"`
}

type DBConfig struct {
	Adapter  string `mapstructure:"adapter"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
	DSN      string `mapstructure:"dsn"`
}

// Load reads the YAML file at path. Every key can be overridden from the
// environment with the EXODUS_ prefix, e.g. EXODUS_DB_PASSWORD.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("EXODUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can fill keys the file omits.
func setDefaults(v *viper.Viper) {
	v.SetDefault("migration_dir", "")
	v.SetDefault("migration_table", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("db.adapter", "")
	v.SetDefault("db.host", "")
	v.SetDefault("db.port", 0)
	v.SetDefault("db.username", "")
	v.SetDefault("db.password", "")
	v.SetDefault("db.name", "")
	v.SetDefault("db.sslmode", "")
	v.SetDefault("db.dsn", "")
}

// MigrationDirectory returns the configured directory without trailing separators.
func (c *Config) MigrationDirectory() (string, error) {
	dir := strings.TrimSpace(c.MigrationDir)
	if dir == "" {
		return "", &MissingParamError{Param: "migration_dir"}
	}
	if trimmed := strings.TrimRight(dir, `/\`); trimmed != "" {
		dir = trimmed
	}
	return dir, nil
}

func (c *Config) MigrationTableName() (string, error) {
	table := strings.TrimSpace(c.MigrationTable)
	if table == "" {
		return "", &MissingParamError{Param: "migration_table"}
	}
	return table, nil
}

func (c *Config) Validate() error {
	if _, err := c.MigrationDirectory(); err != nil {
		return err
	}
	if _, err := c.MigrationTableName(); err != nil {
		return err
	}
	return c.DB.Validate()
}

// Validate checks connection settings. A DSN replaces the discrete fields.
func (c DBConfig) Validate() error {
	if strings.TrimSpace(c.Adapter) == "" {
		return &MissingParamError{Param: "db.adapter"}
	}
	if strings.TrimSpace(c.DSN) != "" {
		return nil
	}
	if strings.TrimSpace(c.Host) == "" {
		return &MissingParamError{Param: "db.host"}
	}
	if c.Port == 0 {
		return &MissingParamError{Param: "db.port"}
	}
	return nil
}

// WriteSample writes SampleFile to path unless a file already exists there.
func WriteSample(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	return os.WriteFile(path, []byte(SampleFile), 0o644)
}
