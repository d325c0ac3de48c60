// Package common provides shared utilities for the KI7MT irradiance tools.
package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-faster/errors"
	"go.yaml.in/yaml/v3"
)

// Config holds common configuration for all applications.
type Config struct {
	ClickHouseHost     string
	ClickHousePort     int
	ClickHouseDatabase string
	ClickHouseUser     string
	ClickHousePassword string
	DataDir            string
	CacheDir           string
	PowerBaseURL       string
	LogLevel           string
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ClickHouseHost:     getEnv("CLICKHOUSE_HOST", "localhost"),
		ClickHousePort:     getEnvInt("CLICKHOUSE_PORT", 9000),
		ClickHouseDatabase: getEnv("CLICKHOUSE_DATABASE", "solar"),
		ClickHouseUser:     getEnv("CLICKHOUSE_USER", "default"),
		ClickHousePassword: getEnv("CLICKHOUSE_PASSWORD", ""),
		DataDir:            getEnv("IRRADIANCE_DATA_DIR", "/var/lib/ki7mt-irradiance"),
		CacheDir:           getEnv("IRRADIANCE_CACHE_DIR", ""),
		PowerBaseURL:       getEnv("POWER_BASE_URL", "https://power.larc.nasa.gov/api/temporal/daily/point"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
	}
}

// ClickHouseAddr returns host:port for the native protocol.
func (c *Config) ClickHouseAddr() string {
	return fmt.Sprintf("%s:%d", c.ClickHouseHost, c.ClickHousePort)
}

// IrradianceDataDir returns the directory for downloaded irradiance files.
func (c *Config) IrradianceDataDir() string {
	return filepath.Join(c.DataDir, "irradiance")
}

// WeatherDataDir returns the directory for climate files and their rollups.
func (c *Config) WeatherDataDir() string {
	return filepath.Join(c.DataDir, "weather")
}

// Site describes one monitored installation. It is loaded from YAML:
//
//	name: hamilton
//	latitude: 43.256687
//	longitude: -79.8690589
//	start_year: 2015
//	end_year: 2019
//	generation:
//	  time_column: time
//	  value_column: kWh
type Site struct {
	Name       string  `yaml:"name"`
	Latitude   float64 `yaml:"latitude"`
	Longitude  float64 `yaml:"longitude"`
	StartYear  int     `yaml:"start_year"`
	EndYear    int     `yaml:"end_year"`
	Generation struct {
		TimeColumn  string `yaml:"time_column"`
		ValueColumn string `yaml:"value_column"`
		Since       string `yaml:"since"`
	} `yaml:"generation"`
}

// DefaultSite is the Hamilton, Ontario installation the tools were built for.
func DefaultSite() Site {
	s := Site{
		Name:      "hamilton",
		Latitude:  43.256687,
		Longitude: -79.8690589,
		StartYear: 2015,
		EndYear:   2019,
	}
	s.Generation.TimeColumn = "time"
	s.Generation.ValueColumn = "kWh"
	s.Generation.Since = "2024-01-01"
	return s
}

// LoadSite reads a site file, filling unset fields from DefaultSite.
func LoadSite(path string) (Site, error) {
	site := DefaultSite()
	if path == "" {
		return site, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Site{}, errors.Wrap(err, "read site file")
	}
	if err := yaml.Unmarshal(data, &site); err != nil {
		return Site{}, errors.Wrapf(err, "parse site file %s", path)
	}
	if err := site.Validate(); err != nil {
		return Site{}, errors.Wrapf(err, "site file %s", path)
	}
	return site, nil
}

// Validate checks coordinate and year bounds.
func (s Site) Validate() error {
	if s.Latitude < -90 || s.Latitude > 90 {
		return errors.Errorf("latitude %v out of range", s.Latitude)
	}
	if s.Longitude < -180 || s.Longitude > 180 {
		return errors.Errorf("longitude %v out of range", s.Longitude)
	}
	if s.StartYear > s.EndYear {
		return errors.Errorf("start_year %d after end_year %d", s.StartYear, s.EndYear)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}
