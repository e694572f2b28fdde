// Copyright 2020 Adam Chalkley
//
// https://github.com/atc0005/check-cert
//
// Licensed under the MIT License. See LICENSE file in the project root for
// full license information.

package config

import (
	"os"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		EnvCatalogHost, EnvCatalogPort, EnvCatalogName, EnvCatalogUser, EnvCatalogPassword,
		EnvDirectoryReadHosts, EnvDirectoryWriteHost, EnvDirectoryBindDN, EnvDirectoryBindPassword,
		EnvDirectoryBaseDN, EnvDirectoryDataContainer, EnvDirectoryNCDataContainer,
		EnvProcessingAutoReconcile, EnvProcessingSyncIntervalMinutes, EnvProcessingMaxReconcileBatch,
		EnvCryptoTrustAnchorPath, EnvServerPort, EnvServerThreadNum, EnvServerMaxBodySizeMB,
		EnvSchedulerICAOCheckEnabled, EnvSchedulerICAOCheckHourLocal, EnvSchedulerICAOPortalURL, EnvLogLevel,
	}
	for _, k := range keys {
		os.Unsetenv(k)
	}
}

func setMinimalEnv(t *testing.T) {
	t.Helper()
	os.Setenv(EnvCatalogHost, "catalog.example.test")
	os.Setenv(EnvCatalogName, "pkd")
	os.Setenv(EnvDirectoryWriteHost, "ldap://directory.example.test")
	os.Setenv(EnvDirectoryBaseDN, "dc=pkd,dc=example,dc=test")
}

func TestNewConfigAppliesDefaults(t *testing.T) {
	clearEnv(t)
	setMinimalEnv(t)

	cfg, err := NewConfig()
	if err != nil {
		t.Fatalf("NewConfig returned unexpected error: %v", err)
	}

	if cfg.Catalog.Port != defaultCatalogPort {
		t.Errorf("expected default catalog port %d, got %d", defaultCatalogPort, cfg.Catalog.Port)
	}
	if cfg.Processing.SyncIntervalMinutes != defaultProcessingSyncIntervalMinutes {
		t.Errorf("expected default sync interval %d, got %d", defaultProcessingSyncIntervalMinutes, cfg.Processing.SyncIntervalMinutes)
	}
	if cfg.Server.Port != defaultServerPort {
		t.Errorf("expected default server port %d, got %d", defaultServerPort, cfg.Server.Port)
	}
	if !cfg.Scheduler.ICAOCheckEnabled {
		t.Error("expected scheduler.icao_check_enabled to default true")
	}
}

func TestNewConfigMissingRequiredFields(t *testing.T) {
	tt := []struct {
		name    string
		mutate  func()
		wantErr error
	}{
		{"missing catalog host", func() { os.Unsetenv(EnvCatalogHost) }, ErrMissingCatalogHost},
		{"missing catalog name", func() { os.Unsetenv(EnvCatalogName) }, ErrMissingCatalogName},
		{"missing directory write host", func() { os.Unsetenv(EnvDirectoryWriteHost) }, ErrMissingDirectoryWrite},
		{"missing directory base dn", func() { os.Unsetenv(EnvDirectoryBaseDN) }, ErrMissingDirectoryBaseDN},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			setMinimalEnv(t)
			tc.mutate()

			_, err := NewConfig()
			if err == nil {
				t.Fatalf("expected error %v, got nil", tc.wantErr)
			}
		})
	}
}

func TestNewConfigRejectsOutOfRangeServerPort(t *testing.T) {
	clearEnv(t)
	setMinimalEnv(t)
	os.Setenv(EnvServerPort, "99999")

	if _, err := NewConfig(); err == nil {
		t.Fatal("expected an error for an out-of-range server port")
	}
}

func TestNewConfigParsesDirectoryReadHosts(t *testing.T) {
	clearEnv(t)
	setMinimalEnv(t)
	os.Setenv(EnvDirectoryReadHosts, "ldap://r1.example.test, ldap://r2.example.test")

	cfg, err := NewConfig()
	if err != nil {
		t.Fatalf("NewConfig returned unexpected error: %v", err)
	}
	if len(cfg.Directory.ReadHosts) != 2 {
		t.Fatalf("expected 2 read hosts, got %d: %v", len(cfg.Directory.ReadHosts), cfg.Directory.ReadHosts)
	}
	if cfg.Directory.ReadHosts[0] != "ldap://r1.example.test" {
		t.Errorf("unexpected first read host: %q", cfg.Directory.ReadHosts[0])
	}
}
