package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// ShopServer holds all configuration for the shop server.
type ShopServer struct {
	LogLevel string `yaml:"log_level"` // debug, info, warn, error

	// TimeZone is the default zone for availability windows and reset rules
	// that do not name their own.
	TimeZone string `yaml:"timezone"`

	// CatalogPath points at the shops YAML file.
	CatalogPath string `yaml:"catalog_path"`

	Store     StoreConfig     `yaml:"store"`
	Database  DatabaseConfig  `yaml:"database"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// StoreConfig selects the durable counter backend.
type StoreConfig struct {
	Driver     string `yaml:"driver"`      // postgres | sqlite
	SQLitePath string `yaml:"sqlite_path"` // used when driver = sqlite
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// SchedulerConfig controls the stock reset loop.
type SchedulerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"` // default: 60s
}

// DefaultShopServer returns ShopServer config with sensible defaults.
func DefaultShopServer() ShopServer {
	return ShopServer{
		LogLevel:    "info",
		TimeZone:    "UTC",
		CatalogPath: "config/shops.yaml",
		Store: StoreConfig{
			Driver:     DriverPostgres,
			SQLitePath: "data/shop.db",
		},
		Database: DatabaseConfig{
			Host:     "127.0.0.1",
			Port:     5432,
			User:     "la2shop",
			Password: "la2shop",
			DBName:   "la2shop",
			SSLMode:  "disable",
		},
		Scheduler: SchedulerConfig{
			PollInterval: 60 * time.Second,
		},
	}
}

// Location resolves TimeZone. An empty zone means UTC.
func (c ShopServer) Location() (*time.Location, error) {
	if c.TimeZone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", c.TimeZone, err)
	}
	return loc, nil
}

// Validate checks values that have no safe fallback.
func (c ShopServer) Validate() error {
	switch c.Store.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Scheduler.PollInterval <= 0 {
		return fmt.Errorf("scheduler poll_interval must be positive, got %s", c.Scheduler.PollInterval)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// LoadShopServer loads shop server config from a YAML file.
// If the file doesn't exist, returns defaults.
func LoadShopServer(path string) (ShopServer, error) {
	cfg := DefaultShopServer()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("validating config %s: %w", path, err)
	}

	return cfg, nil
}
