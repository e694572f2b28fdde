// Copyright 2020 Adam Chalkley
//
// https://github.com/atc0005/check-cert
//
// Licensed under the MIT License. See LICENSE file in the project root for
// full license information.

// Package health implements the §6 health endpoint contract: catalog and
// directory connectivity plus pool statistics, classified with the
// OK/WARNING/CRITICAL/UNKNOWN vocabulary the teacher's plugin output uses
// for service checks.
package health

import (
	"context"
	"database/sql"
	"time"

	"github.com/atc0005/go-nagios"

	"github.com/icao-pkd/mirror/internal/model"
)

// catalogPinger is the subset of the catalog the health checker depends on.
type catalogPinger interface {
	Ping(ctx context.Context) error
	PoolStats() sql.DBStats
	CountByType(ctx context.Context) (model.TypeCounts, error)
}

// directoryPinger is the subset of the directory the health checker
// depends on.
type directoryPinger interface {
	Ping() error
}

// ComponentStatus is one dependency's observed state, classified with the
// go-nagios service-state vocabulary.
type ComponentStatus struct {
	Name       string `json:"name"`
	StateLabel string `json:"state"`
	Detail     string `json:"detail,omitempty"`
}

// PoolStats mirrors the database/sql pool counters the §6 endpoint
// reports.
type PoolStats struct {
	OpenConnections int `json:"open_connections"`
	InUse           int `json:"in_use"`
	Idle            int `json:"idle"`
}

// Report is the full health endpoint response.
type Report struct {
	OverallState string            `json:"overall_state"`
	Components   []ComponentStatus `json:"components"`
	CatalogPool  PoolStats         `json:"catalog_pool"`
	CertCounts   model.TypeCounts  `json:"certificate_counts"`
	CheckedAt    time.Time         `json:"checked_at"`
}

// Checker runs the §6 health checks against the catalog and directory
// tiers.
type Checker struct {
	catalog   catalogPinger
	directory directoryPinger
}

// NewChecker constructs a health Checker.
func NewChecker(catalog catalogPinger, directory directoryPinger) *Checker {
	return &Checker{catalog: catalog, directory: directory}
}

// Run pings both store tiers and folds their state into one Report. Per
// the teacher's own state precedence (worst state wins), CRITICAL beats
// WARNING beats OK.
func (c *Checker) Run(ctx context.Context) Report {
	report := Report{CheckedAt: time.Now().UTC()}

	catalogStatus := c.checkCatalog(ctx)
	directoryStatus := c.checkDirectory()
	report.Components = []ComponentStatus{catalogStatus, directoryStatus}

	report.OverallState = worstState(catalogStatus.StateLabel, directoryStatus.StateLabel)

	stats := c.catalog.PoolStats()
	report.CatalogPool = PoolStats{
		OpenConnections: stats.OpenConnections,
		InUse:           stats.InUse,
		Idle:            stats.Idle,
	}

	if counts, err := c.catalog.CountByType(ctx); err == nil {
		report.CertCounts = counts
	}

	return report
}

func (c *Checker) checkCatalog(ctx context.Context) ComponentStatus {
	if err := c.catalog.Ping(ctx); err != nil {
		return ComponentStatus{Name: "catalog", StateLabel: nagios.StateCRITICALLabel, Detail: err.Error()}
	}
	return ComponentStatus{Name: "catalog", StateLabel: nagios.StateOKLabel}
}

func (c *Checker) checkDirectory() ComponentStatus {
	if err := c.directory.Ping(); err != nil {
		return ComponentStatus{Name: "directory", StateLabel: nagios.StateCRITICALLabel, Detail: err.Error()}
	}
	return ComponentStatus{Name: "directory", StateLabel: nagios.StateOKLabel}
}

// stateRank orders the go-nagios state labels from least to most severe,
// the same precedence the teacher's plugin output collapses multiple
// findings into a single exit state with.
var stateRank = map[string]int{
	nagios.StateOKLabel:       0,
	nagios.StateWARNINGLabel:  1,
	nagios.StateUNKNOWNLabel:  2,
	nagios.StateCRITICALLabel: 3,
}

func worstState(states ...string) string {
	worst := nagios.StateOKLabel
	for _, s := range states {
		if stateRank[s] > stateRank[worst] {
			worst = s
		}
	}
	return worst
}
