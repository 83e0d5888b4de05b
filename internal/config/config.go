package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

const (
	DefaultConfigPath   = "config.toml"
	DefaultHTTPAddr     = ":8080"
	DefaultJWTExpiresIn = "24h"
	DefaultPGHost       = "127.0.0.1"
	DefaultPGPort       = 5432
	DefaultPGUser       = "postgres"
	DefaultPGDatabase   = "deskbridge"
	DefaultPGSSLMode    = "disable"
	DefaultSweepBatch   = 100
	DefaultGraphVersion = "v23.0"
)

type Config struct {
	Log        LogConfig        `toml:"log"`
	Server     ServerConfig     `toml:"server"`
	Auth       AuthConfig       `toml:"auth"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Assignment AssignmentConfig `toml:"assignment"`
	Messenger  MessengerConfig  `toml:"messenger"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
	// BaseURL is the externally reachable URL, used to build webhook and
	// OAuth callback addresses handed to providers.
	BaseURL string `toml:"base_url"`
}

type AuthConfig struct {
	JWTSecret    string `toml:"jwt_secret"`
	JWTExpiresIn string `toml:"jwt_expires_in"`
}

type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// DSN renders the pgx connection string.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// AssignmentConfig controls the redistribution sweep.
// SweepSchedule is a cron expression; empty disables the scheduled sweep.
type AssignmentConfig struct {
	SweepSchedule string `toml:"sweep_schedule"`
	SweepBatch    int    `toml:"sweep_batch"`
}

// MessengerConfig holds the page-messaging app credentials used by the
// one-time connect flow. Per-page tokens live in company settings, not here.
type MessengerConfig struct {
	AppID        string `toml:"app_id"`
	AppSecret    string `toml:"app_secret"`
	GraphVersion string `toml:"graph_version"`
	// CompleteURL is the client-side page the callback redirects to,
	// receiving the connect session id as a query parameter.
	CompleteURL string `toml:"complete_url"`
}

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr:    DefaultHTTPAddr,
			BaseURL: "http://127.0.0.1:8080",
		},
		Auth: AuthConfig{
			JWTExpiresIn: DefaultJWTExpiresIn,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Assignment: AssignmentConfig{
			SweepBatch: DefaultSweepBatch,
		},
		Messenger: MessengerConfig{
			GraphVersion: DefaultGraphVersion,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}
