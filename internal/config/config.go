package config

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// DatabaseEngine represents the database type
type DatabaseEngine string

const (
	MySQL      DatabaseEngine = "mysql"
	PostgreSQL DatabaseEngine = "postgres"
)

// Config holds all application configuration, read once at startup from
// config/config.ini ([general] and [database] sections).
type Config struct {
	// Server
	ListenHost string
	ListenPort int

	// Basic auth credentials every endpoint requires
	AuthUsername string
	AuthPassword string

	// Cooldowns (hours in the ini file)
	CooldownHours      int
	ShortCooldownHours int

	// Budgets and rate caps
	EncounterLimit       int
	DeviceMaxLoginsHour  int
	AccountMaxLoginsHour int

	// Purpose "iv" hand-outs are refused unless enabled
	PurposeIVEnabled bool

	// Logging
	LogLevel string

	// Optional stats cache
	RedisConnString string

	// Database
	Engine DatabaseEngine
	DBHost string
	DBPort int
	DBUser string
	DBPass string
	DBName string
}

// Global config instance
var cfg *Config

// Load reads config/config.ini. Missing required settings are logged but
// not fatal; the process will fail on first database use instead.
func Load() *Config {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("ini")
	v.AddConfigPath("config")

	v.SetDefault("general.listen_host", "127.0.0.1")
	v.SetDefault("general.listen_port", 9009)
	v.SetDefault("general.cooldown", 24)
	v.SetDefault("general.cooldown_reuse", 3)
	v.SetDefault("general.encounter_limit", 6500)
	v.SetDefault("general.device_max_logins_per_hour", 4)
	v.SetDefault("general.account_max_logins_per_hour", 4)
	v.SetDefault("general.purpose_iv_enabled", false)
	v.SetDefault("general.log_level", "info")
	v.SetDefault("database.engine", "mysql")
	v.SetDefault("database.host", "127.0.0.1")
	v.SetDefault("database.port", 3306)

	if err := v.ReadInConfig(); err != nil {
		log.Error().Err(err).Msg("unable to read config/config.ini")
	}

	cfg = &Config{
		ListenHost:           v.GetString("general.listen_host"),
		ListenPort:           v.GetInt("general.listen_port"),
		AuthUsername:         v.GetString("general.auth_username"),
		AuthPassword:         v.GetString("general.auth_password"),
		CooldownHours:        v.GetInt("general.cooldown"),
		ShortCooldownHours:   v.GetInt("general.cooldown_reuse"),
		EncounterLimit:       v.GetInt("general.encounter_limit"),
		DeviceMaxLoginsHour:  v.GetInt("general.device_max_logins_per_hour"),
		AccountMaxLoginsHour: v.GetInt("general.account_max_logins_per_hour"),
		PurposeIVEnabled:     v.GetBool("general.purpose_iv_enabled"),
		LogLevel:             v.GetString("general.log_level"),
		RedisConnString:      v.GetString("general.redis"),
		Engine:               DatabaseEngine(v.GetString("database.engine")),
		DBHost:               v.GetString("database.host"),
		DBPort:               v.GetInt("database.port"),
		DBUser:               v.GetString("database.user"),
		DBPass:               v.GetString("database.pass"),
		DBName:               v.GetString("database.db"),
	}

	if cfg.DBUser == "" || cfg.DBPass == "" || cfg.DBName == "" ||
		cfg.AuthUsername == "" || cfg.AuthPassword == "" {
		log.Error().Msg("Missing required setting! Check your config.")
	}

	return cfg
}

// Get returns the global config, panics if not loaded
func Get() *Config {
	if cfg == nil {
		panic("config not loaded, call config.Load() first")
	}
	return cfg
}

// Set installs a config instance (only used by tests).
func Set(c *Config) {
	cfg = c
}

// CooldownSeconds returns the long account re-use cooldown.
func (c *Config) CooldownSeconds() int64 {
	return int64(c.CooldownHours) * 3600
}

// ShortCooldownSeconds returns the minimum interval between hand-outs.
func (c *Config) ShortCooldownSeconds() int64 {
	return int64(c.ShortCooldownHours) * 3600
}

// CooldownWindow returns the trailing window used for encounter sums.
func (c *Config) CooldownWindow() time.Duration {
	return time.Duration(c.CooldownHours) * time.Hour
}

// DSN returns a driver-compatible connection string.
func (c *Config) DSN() string {
	if c.Engine == PostgreSQL {
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", c.DBUser, c.DBPass, c.DBHost, c.DBPort, c.DBName)
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=false", c.DBUser, c.DBPass, c.DBHost, c.DBPort, c.DBName)
}

// DriverName returns the database driver name for sqlx
func (c *Config) DriverName() string {
	if c.Engine == PostgreSQL {
		return "pgx"
	}
	return "mysql"
}

// ServerAddr returns the full listen address
func (c *Config) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.ListenHost, c.ListenPort)
}
