// Copyright 2020 Adam Chalkley
//
// https://github.com/atc0005/check-cert
//
// Licensed under the MIT License. See LICENSE file in the project root for
// full license information.

// Package reconcile implements the reconciliation component (C8, §4.8):
// it compares the catalog's per-type counts against the directory's
// actual entries, and repairs discrepancies under the rule "catalog is
// authoritative" -- an entry present in the catalog but absent from the
// directory is re-projected; an entry present in the directory but absent
// from the catalog is deleted. Every repair is idempotent, and a dry run
// reports what would happen without performing it.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/icao-pkd/mirror/internal/model"
	"github.com/icao-pkd/mirror/internal/store/catalog"
	"github.com/icao-pkd/mirror/internal/store/directory"
)

// certLister is the subset of the catalog the reconciler reads to decide
// what should exist in the directory.
type certLister interface {
	CountByType(ctx context.Context) (model.TypeCounts, error)
	ListCertificates(ctx context.Context) ([]*model.Certificate, error)
	RecordSyncStatus(ctx context.Context, lastRunAt time.Time, lastResult string, nextRunAt time.Time, running bool) error
}

// dirLister is the subset of the directory the reconciler reads and
// repairs.
type dirLister interface {
	ListEntries(container string) ([]directory.Entry, error)
	ProjectCertificate(cert *model.Certificate) error
	Delete(dn string) error
}

// Operation is one repair action taken (or, in dry-run mode, proposed)
// during a reconciliation run.
type Operation struct {
	Kind        string // "ADD" or "DELETE"
	Fingerprint string
	DN          string
	Error       string
}

// PerType aggregates add/delete counts for one certificate type, per the
// §4.8 summary shape.
type PerType struct {
	Added   int
	Deleted int
}

// Summary is the §4.8 reconciliation run report.
type Summary struct {
	StartedAt     time.Time
	CompletedAt   time.Time
	DurationMS    int64
	TotalProcessed int
	SuccessCount  int
	FailedCount   int
	PerType       map[string]*PerType
	Log           []Operation
	DryRun        bool
}

// Reconciler runs periodic and on-demand reconciliation (C8).
type Reconciler struct {
	catalog   certLister
	directory dirLister
	log       zerolog.Logger

	dataContainer   string
	ncDataContainer string
}

// New constructs a Reconciler. dataContainer/ncDataContainer are the same
// relative containers the directory tier projects certificates under
// (§4.4, §6).
func New(cat certLister, dir dirLister, dataContainer, ncDataContainer string, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		catalog:         cat,
		directory:       dir,
		dataContainer:   dataContainer,
		ncDataContainer: ncDataContainer,
		log:             log.With().Str("component", "reconcile").Logger(),
	}
}

// Run performs one reconciliation pass: enumerate the directory's actual
// entries under both containers, compare against the catalog's known
// certificates for each, and repair. dryRun=true reports operations
// without performing them, per §4.8.
func (r *Reconciler) Run(ctx context.Context, dryRun bool) (*Summary, error) {
	started := time.Now().UTC()
	summary := &Summary{
		StartedAt: started,
		PerType:   make(map[string]*PerType),
		DryRun:    dryRun,
	}

	if err := r.catalog.RecordSyncStatus(ctx, started, "RUNNING", time.Time{}, true); err != nil {
		r.log.Warn().Err(err).Msg("failed to record sync_status RUNNING")
	}

	directoryEntries, err := r.listAllDirectoryEntries()
	if err != nil {
		return nil, fmt.Errorf("listing directory entries: %w", err)
	}

	catalogByFingerprint, err := r.catalogSnapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshotting catalog: %w", err)
	}

	r.logCountComparison(ctx, directoryEntries)

	directoryFingerprints := make(map[string]directory.Entry, len(directoryEntries))
	for _, e := range directoryEntries {
		directoryFingerprints[e.Fingerprint] = e
	}

	// Catalog entries absent from the directory: re-project.
	for fp, cert := range catalogByFingerprint {
		if _, present := directoryFingerprints[fp]; present {
			continue
		}
		summary.TotalProcessed++
		op := Operation{Kind: "ADD", Fingerprint: fp}
		if !dryRun {
			if err := r.directory.ProjectCertificate(cert); err != nil {
				op.Error = err.Error()
				summary.FailedCount++
			} else {
				summary.SuccessCount++
			}
		} else {
			summary.SuccessCount++
		}
		r.tally(summary, string(cert.Type), op)
	}

	// Directory entries absent from the catalog: delete.
	for fp, entry := range directoryFingerprints {
		if _, present := catalogByFingerprint[fp]; present {
			continue
		}
		summary.TotalProcessed++
		op := Operation{Kind: "DELETE", Fingerprint: fp, DN: entry.DN}
		if !dryRun {
			if err := r.directory.Delete(entry.DN); err != nil {
				op.Error = err.Error()
				summary.FailedCount++
			} else {
				summary.SuccessCount++
			}
		} else {
			summary.SuccessCount++
		}
		r.tally(summary, entry.Type, op)
	}

	summary.CompletedAt = time.Now().UTC()
	summary.DurationMS = summary.CompletedAt.Sub(started).Milliseconds()

	result := "COMPLETED"
	if summary.FailedCount > 0 {
		result = "COMPLETED_WITH_ERRORS"
	}
	if err := r.catalog.RecordSyncStatus(ctx, summary.CompletedAt, result, time.Time{}, false); err != nil {
		r.log.Warn().Err(err).Msg("failed to record sync_status completion")
	}

	return summary, nil
}

func (r *Reconciler) tally(summary *Summary, certType string, op Operation) {
	pt, ok := summary.PerType[certType]
	if !ok {
		pt = &PerType{}
		summary.PerType[certType] = pt
	}
	switch op.Kind {
	case "ADD":
		pt.Added++
	case "DELETE":
		pt.Deleted++
	}
	summary.Log = append(summary.Log, op)
}

// logCountComparison reports the catalog's per-type counts against the
// directory's actual per-type entry counts, the headline numbers of the
// §4.8 summary. A mismatch here is expected going into a repair pass; it's
// only a concern if it persists across runs.
func (r *Reconciler) logCountComparison(ctx context.Context, directoryEntries []directory.Entry) {
	catalogCounts, err := r.catalog.CountByType(ctx)
	if err != nil {
		r.log.Warn().Err(err).Msg("failed to read catalog counts by type")
		return
	}

	directoryCounts := make(map[string]int)
	for _, e := range directoryEntries {
		directoryCounts[e.Type]++
	}

	perType := map[string]int{
		string(model.CertTypeCSCA):     catalogCounts.CSCA,
		string(model.CertTypeDSC):      catalogCounts.DSC,
		string(model.CertTypeDSCNC):    catalogCounts.DSCNC,
		string(model.CertTypeMLSC):     catalogCounts.MLSC,
		string(model.CertTypeLinkCert): catalogCounts.LinkCert,
		string(model.CertTypeDVLSigne): catalogCounts.DVLSigne,
	}
	for certType, catalogCount := range perType {
		dirCount := directoryCounts[certType]
		if dirCount != catalogCount {
			r.log.Info().
				Str("cert_type", certType).
				Int("catalog_count", catalogCount).
				Int("directory_count", dirCount).
				Msg("reconciliation: count discrepancy")
		}
	}
}

func (r *Reconciler) listAllDirectoryEntries() ([]directory.Entry, error) {
	conformant, err := r.directory.ListEntries(r.dataContainer)
	if err != nil {
		return nil, err
	}
	nonConformant, err := r.directory.ListEntries(r.ncDataContainer)
	if err != nil {
		return nil, err
	}
	return append(conformant, nonConformant...), nil
}

// catalogSnapshot builds a fingerprint-keyed view of every certificate the
// catalog currently holds, the authoritative set reconciliation compares
// the directory's actual entries against (§4.8).
func (r *Reconciler) catalogSnapshot(ctx context.Context) (map[string]*model.Certificate, error) {
	certs, err := r.catalog.ListCertificates(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*model.Certificate, len(certs))
	for _, cert := range certs {
		out[cert.FingerprintHex()] = cert
	}
	return out, nil
}
