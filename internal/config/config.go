// Copyright 2020 Adam Chalkley
//
// https://github.com/atc0005/check-cert
//
// Licensed under the MIT License. See LICENSE file in the project root for
// full license information.

// Package config assembles the application configuration (§6) from
// environment variables, the way the teacher's config package assembled it
// from CLI flags: a Config struct built by a constructor, a Validate()
// method, and named constants for every input and default. Every
// environment variable named in spec.md §6 has a constant in constants.go
// and a field here.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/icao-pkd/mirror/internal/logging"
)

// Updated via build-time ldflags. Placeholder value here so non-Makefile
// builds still emit something resembling a version string.
var version string = "x.y.z"

// Version emits application name, version and repo location.
func Version() string {
	return fmt.Sprintf("%s %s (%s)", myAppName, version, myAppURL)
}

// CatalogConfig carries the §6 catalog connection parameters.
type CatalogConfig struct {
	Host            string
	Port            int
	Name            string
	User            string
	Password        string
	AcquireTimeout  time.Duration
}

// DirectoryConfig carries the §6 directory connection parameters.
type DirectoryConfig struct {
	ReadHosts       []string
	WriteHost       string
	BindDN          string
	BindPassword    string
	BaseDN          string
	DataContainer   string
	NCDataContainer string
}

// ProcessingConfig carries the §6 processing/reconciliation parameters.
type ProcessingConfig struct {
	AutoReconcile         bool
	SyncIntervalMinutes   int
	MaxReconcileBatchSize int
}

// CryptoConfig carries the §6 crypto parameters.
type CryptoConfig struct {
	TrustAnchorPath string
}

// ServerConfig carries the §6 server parameters.
type ServerConfig struct {
	Port           int
	ThreadNum      int
	MaxBodySizeMB  int
}

// SchedulerConfig carries the §6 scheduler parameters.
type SchedulerConfig struct {
	ICAOCheckEnabled   bool
	ICAOCheckHourLocal int
	ICAOPortalURL      string
}

// Config is the application configuration assembled from the environment
// (§6). Unlike the teacher's flag-sourced Config, every field here comes
// from an environment variable because this system runs as a long-lived
// server (§5), not a one-shot CLI invocation.
type Config struct {
	Catalog   CatalogConfig
	Directory DirectoryConfig
	Processing ProcessingConfig
	Crypto    CryptoConfig
	Server    ServerConfig
	Scheduler SchedulerConfig

	LoggingLevel string

	// Log is an embedded zerolog Logger initialized via NewConfig.
	Log zerolog.Logger
}

// NewConfig reads the environment and produces a validated Config,
// mirroring the teacher's config.New(): parse, validate, then initialize
// logging. A validation failure is returned as an error before the
// logger is built.
func NewConfig() (*Config, error) {
	cfg := &Config{
		Catalog: CatalogConfig{
			Host:           os.Getenv(EnvCatalogHost),
			Port:           envInt(EnvCatalogPort, defaultCatalogPort),
			Name:           os.Getenv(EnvCatalogName),
			User:           os.Getenv(EnvCatalogUser),
			Password:       os.Getenv(EnvCatalogPassword),
			AcquireTimeout: time.Duration(defaultCatalogAcquireTimeoutSeconds) * time.Second,
		},
		Directory: DirectoryConfig{
			ReadHosts:       envCSV(EnvDirectoryReadHosts),
			WriteHost:       os.Getenv(EnvDirectoryWriteHost),
			BindDN:          os.Getenv(EnvDirectoryBindDN),
			BindPassword:    os.Getenv(EnvDirectoryBindPassword),
			BaseDN:          os.Getenv(EnvDirectoryBaseDN),
			DataContainer:   envOr(EnvDirectoryDataContainer, "ou=data"),
			NCDataContainer: envOr(EnvDirectoryNCDataContainer, "ou=nc-data"),
		},
		Processing: ProcessingConfig{
			AutoReconcile:         envBool(EnvProcessingAutoReconcile, defaultProcessingAutoReconcile),
			SyncIntervalMinutes:   envInt(EnvProcessingSyncIntervalMinutes, defaultProcessingSyncIntervalMinutes),
			MaxReconcileBatchSize: envInt(EnvProcessingMaxReconcileBatch, defaultProcessingMaxReconcileBatch),
		},
		Crypto: CryptoConfig{
			TrustAnchorPath: os.Getenv(EnvCryptoTrustAnchorPath),
		},
		Server: ServerConfig{
			Port:          envInt(EnvServerPort, defaultServerPort),
			ThreadNum:     envInt(EnvServerThreadNum, defaultServerThreadNum),
			MaxBodySizeMB: envInt(EnvServerMaxBodySizeMB, defaultServerMaxBodySizeMB),
		},
		Scheduler: SchedulerConfig{
			ICAOCheckEnabled:   envBool(EnvSchedulerICAOCheckEnabled, defaultSchedulerICAOCheckEnabled),
			ICAOCheckHourLocal: envInt(EnvSchedulerICAOCheckHourLocal, defaultSchedulerICAOCheckHourLocal),
			ICAOPortalURL:      envOr(EnvSchedulerICAOPortalURL, defaultSchedulerICAOPortalURL),
		},
		LoggingLevel: envOr(EnvLogLevel, defaultLogLevel),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	if err := cfg.setupLogging(); err != nil {
		return nil, fmt.Errorf("failed to set logging configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) setupLogging() error {
	if err := logging.SetLoggingLevel(c.LoggingLevel); err != nil {
		return err
	}
	level, ok := logging.LoggingLevels[c.LoggingLevel]
	if !ok {
		return errors.New("invalid logging level")
	}
	c.Log = zerolog.New(os.Stdout).Level(level).With().Timestamp().Str("app", myAppName).Logger()
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envCSV(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	items := strings.Split(v, ",")
	out := make([]string, 0, len(items))
	for _, i := range items {
		i = strings.TrimSpace(i)
		if i != "" {
			out = append(out, i)
		}
	}
	return out
}
