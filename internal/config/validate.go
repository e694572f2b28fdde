// Copyright 2020 Adam Chalkley
//
// https://github.com/atc0005/check-cert
//
// Licensed under the MIT License. See LICENSE file in the project root for
// full license information.

package config

import "errors"

// Sentinel validation errors, named the way the teacher names its own
// config validation failures.
var (
	ErrMissingCatalogHost     = errors.New("catalog host not specified")
	ErrMissingCatalogName     = errors.New("catalog database name not specified")
	ErrMissingDirectoryWrite  = errors.New("directory write host not specified")
	ErrMissingDirectoryBaseDN = errors.New("directory base DN not specified")
	ErrInvalidServerPort      = errors.New("server port out of range")
	ErrInvalidSchedulerHour   = errors.New("scheduler hour out of range")
)

// validate checks every §6 required field and range constraint. Unlike the
// teacher's per-AppType validation (different flag sets per tool), this
// system has exactly one shape of config because it runs as a single
// server process.
func (c *Config) validate() error {
	if c.Catalog.Host == "" {
		return ErrMissingCatalogHost
	}
	if c.Catalog.Name == "" {
		return ErrMissingCatalogName
	}
	if c.Directory.WriteHost == "" {
		return ErrMissingDirectoryWrite
	}
	if c.Directory.BaseDN == "" {
		return ErrMissingDirectoryBaseDN
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return ErrInvalidServerPort
	}
	if c.Scheduler.ICAOCheckHourLocal < 0 || c.Scheduler.ICAOCheckHourLocal > 23 {
		return ErrInvalidSchedulerHour
	}
	return nil
}
