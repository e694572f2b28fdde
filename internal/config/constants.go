// Copyright 2020 Adam Chalkley
//
// https://github.com/atc0005/check-cert
//
// Licensed under the MIT License. See LICENSE file in the project root for
// full license information.

package config

// myAppName and myAppURL are emitted alongside the version string, mirroring
// the teacher's Version()/Branding() helpers.
const myAppName string = "pkdmirror"
const myAppURL string = "https://github.com/icao-pkd/mirror"

// Environment variable names, one per §6 configuration option. Every field
// in Config is sourced from exactly one of these.
const (
	EnvCatalogHost     string = "PKD_CATALOG_HOST"
	EnvCatalogPort     string = "PKD_CATALOG_PORT"
	EnvCatalogName     string = "PKD_CATALOG_NAME"
	EnvCatalogUser     string = "PKD_CATALOG_USER"
	EnvCatalogPassword string = "PKD_CATALOG_PASSWORD"

	EnvDirectoryReadHosts    string = "PKD_DIRECTORY_READ_HOSTS" // comma-separated
	EnvDirectoryWriteHost    string = "PKD_DIRECTORY_WRITE_HOST"
	EnvDirectoryBindDN       string = "PKD_DIRECTORY_BIND_DN"
	EnvDirectoryBindPassword string = "PKD_DIRECTORY_BIND_PASSWORD"
	EnvDirectoryBaseDN       string = "PKD_DIRECTORY_BASE_DN"
	EnvDirectoryDataContainer   string = "PKD_DIRECTORY_DATA_CONTAINER"
	EnvDirectoryNCDataContainer string = "PKD_DIRECTORY_NC_DATA_CONTAINER"

	EnvProcessingAutoReconcile        string = "PKD_PROCESSING_AUTO_RECONCILE"
	EnvProcessingSyncIntervalMinutes  string = "PKD_PROCESSING_SYNC_INTERVAL_MINUTES"
	EnvProcessingMaxReconcileBatch    string = "PKD_PROCESSING_MAX_RECONCILE_BATCH_SIZE"

	EnvCryptoTrustAnchorPath string = "PKD_CRYPTO_TRUST_ANCHOR_PATH"

	EnvServerPort         string = "PKD_SERVER_PORT"
	EnvServerThreadNum    string = "PKD_SERVER_THREAD_NUM"
	EnvServerMaxBodySizeMB string = "PKD_SERVER_MAX_BODY_SIZE_MB"

	EnvSchedulerICAOCheckEnabled  string = "PKD_SCHEDULER_ICAO_CHECK_ENABLED"
	EnvSchedulerICAOCheckHourLocal string = "PKD_SCHEDULER_ICAO_CHECK_HOUR_LOCAL"
	EnvSchedulerICAOPortalURL      string = "PKD_SCHEDULER_ICAO_PORTAL_URL"

	EnvLogLevel string = "PKD_LOG_LEVEL"
)

// Defaults for options §6 does not require an operator to set explicitly.
const (
	defaultCatalogPort = 3306

	defaultProcessingAutoReconcile       = true
	defaultProcessingSyncIntervalMinutes = 60
	defaultProcessingMaxReconcileBatch   = 500

	defaultServerPort          = 8443
	defaultServerThreadNum     = 8
	defaultServerMaxBodySizeMB = 64

	defaultSchedulerICAOCheckEnabled   = true
	defaultSchedulerICAOCheckHourLocal = 3
	defaultSchedulerICAOPortalURL      = "https://icao-pkd.example.invalid/api/version"

	defaultLogLevel = "info"

	// defaultCatalogAcquireTimeoutSeconds is the §5(a) pool-acquisition
	// timeout ceiling.
	defaultCatalogAcquireTimeoutSeconds = 5
)
