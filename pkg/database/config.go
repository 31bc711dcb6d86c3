package database

import (
	"errors"
	"time"
)

// Store drivers understood by the application wiring.
const (
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

// Config holds persisted room store configuration
// ARCHITECTURAL DISCOVERY: Configuration struct provides all database settings
// needed for production deployment without hardcoded values
type Config struct {
	Driver          string        `json:"driver"`
	DatabasePath    string        `json:"database_path"`
	MaxConnections  int           `json:"max_connections"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
	RedisURL        string        `json:"redis_url"`
	RecordTTL       time.Duration `json:"record_ttl"`
}

// DefaultConfig returns production-ready store configuration
// FUNCTIONAL DISCOVERY: SQLite performs optimally with 10 connections for
// classroom-scale concurrent access
func DefaultConfig() *Config {
	return &Config{
		Driver:          DriverSQLite,
		DatabasePath:    "./data/polycast.db",
		MaxConnections:  10, // SQLite recommended limit for concurrent access
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: time.Minute * 10,
		RecordTTL:       2 * time.Hour,
	}
}

// Validate ensures the configuration is valid for the selected driver
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverSQLite:
		if c.DatabasePath == "" {
			return errors.New("database path cannot be empty")
		}
		if c.MaxConnections <= 0 {
			return errors.New("max connections must be greater than 0")
		}
		if c.ConnMaxLifetime <= 0 {
			return errors.New("connection max lifetime must be greater than 0")
		}
		if c.ConnMaxIdleTime <= 0 {
			return errors.New("connection max idle time must be greater than 0")
		}
	case DriverRedis:
		if c.RedisURL == "" {
			return errors.New("redis URL cannot be empty")
		}
		if c.RecordTTL <= 0 {
			return errors.New("record TTL must be greater than 0")
		}
	default:
		return errors.New("store driver must be 'sqlite' or 'redis'")
	}
	return nil
}
