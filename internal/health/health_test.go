// Copyright 2020 Adam Chalkley
//
// https://github.com/atc0005/check-cert
//
// Licensed under the MIT License. See LICENSE file in the project root for
// full license information.

package health

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/icao-pkd/mirror/internal/model"
)

type fakeCatalogPinger struct {
	pingErr error
	counts  model.TypeCounts
}

func (f *fakeCatalogPinger) Ping(context.Context) error { return f.pingErr }
func (f *fakeCatalogPinger) PoolStats() sql.DBStats     { return sql.DBStats{OpenConnections: 3, InUse: 1, Idle: 2} }
func (f *fakeCatalogPinger) CountByType(context.Context) (model.TypeCounts, error) {
	return f.counts, nil
}

type fakeDirectoryPinger struct {
	pingErr error
}

func (f *fakeDirectoryPinger) Ping() error { return f.pingErr }

func TestRun_AllHealthy(t *testing.T) {
	checker := NewChecker(&fakeCatalogPinger{counts: model.TypeCounts{DSC: 5}}, &fakeDirectoryPinger{})
	report := checker.Run(context.Background())

	if report.OverallState != "OK" {
		t.Fatalf("overall state = %q, want OK", report.OverallState)
	}
	if report.CertCounts.DSC != 5 {
		t.Fatalf("cert counts not propagated, got %+v", report.CertCounts)
	}
	if report.CatalogPool.OpenConnections != 3 {
		t.Fatalf("pool stats not propagated, got %+v", report.CatalogPool)
	}
}

func TestRun_CatalogDownIsCritical(t *testing.T) {
	checker := NewChecker(&fakeCatalogPinger{pingErr: errors.New("connection refused")}, &fakeDirectoryPinger{})
	report := checker.Run(context.Background())

	if report.OverallState != "CRITICAL" {
		t.Fatalf("overall state = %q, want CRITICAL", report.OverallState)
	}
}

func TestRun_DirectoryDownIsCritical(t *testing.T) {
	checker := NewChecker(&fakeCatalogPinger{}, &fakeDirectoryPinger{pingErr: errors.New("no route to host")})
	report := checker.Run(context.Background())

	if report.OverallState != "CRITICAL" {
		t.Fatalf("overall state = %q, want CRITICAL", report.OverallState)
	}
	if len(report.Components) != 2 {
		t.Fatalf("expected 2 component statuses, got %d", len(report.Components))
	}
}
