// Copyright 2020 Adam Chalkley
//
// https://github.com/atc0005/check-cert
//
// Licensed under the MIT License. See LICENSE file in the project root for
// full license information.

// Package store composes the two trust-material tiers (C4, §4.4): the
// relational catalog (authoritative) and the hierarchical directory (a
// derived projection). One logical ingest unit is one logical
// transaction spanning catalog upsert, optional directory projection,
// and statistics update, per the consistency discipline in §4.4.
package store

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/icao-pkd/mirror/internal/model"
	"github.com/icao-pkd/mirror/internal/store/catalog"
	"github.com/icao-pkd/mirror/internal/store/directory"
)

// Store is the façade the validation engine, PA engine, ingestion
// coordinator and reconciliation job depend on.
type Store struct {
	Catalog   *catalog.Catalog
	Directory *directory.Directory
	log       zerolog.Logger
}

// New composes a Store from an already-opened catalog and directory
// handle.
func New(cat *catalog.Catalog, dir *directory.Directory, log zerolog.Logger) *Store {
	return &Store{Catalog: cat, Directory: dir, log: log.With().Str("component", "store").Logger()}
}

// UpsertCertificate runs the catalog upsert, then projects to the
// directory if the certificate was newly inserted (duplicates are not
// re-projected — they are already present). Per §4.4: if the directory
// write fails after a successful catalog write, the certificate is kept
// with StoredInDirectory=false for C8 to retry; the catalog write is
// never rolled back on a directory failure.
func (s *Store) UpsertCertificate(ctx context.Context, cert *model.Certificate, uploadID string) (catalog.Outcome, storedInDirectory bool, err error) {
	outcome, err := s.Catalog.UpsertCertificate(ctx, cert, uploadID)
	if err != nil {
		return "", false, err
	}

	if outcome != catalog.Inserted {
		return outcome, true, nil
	}

	if err := s.Directory.ProjectCertificate(cert); err != nil {
		s.log.Warn().Err(err).Str("fingerprint", cert.FingerprintHex()).
			Msg("catalog upsert committed, directory projection failed; reconciliation will retry")
		return outcome, false, nil
	}

	return outcome, true, nil
}

// UpsertCRL runs the catalog upsert, then projects to the directory on a
// fresh insert, mirroring UpsertCertificate's discipline.
func (s *Store) UpsertCRL(ctx context.Context, crl *model.CRL, uploadID string) (catalog.Outcome, storedInDirectory bool, err error) {
	outcome, err := s.Catalog.UpsertCRL(ctx, crl, uploadID)
	if err != nil {
		return "", false, err
	}

	if outcome != catalog.Inserted {
		return outcome, true, nil
	}

	if err := s.Directory.ProjectCRL(crl); err != nil {
		s.log.Warn().Err(err).Str("issuer_dn", crl.IssuerDN).
			Msg("catalog upsert committed, directory projection failed; reconciliation will retry")
		return outcome, false, nil
	}

	return outcome, true, nil
}

// FindIssuerCandidates delegates to the catalog, the authoritative tier
// for chain construction (C5).
func (s *Store) FindIssuerCandidates(ctx context.Context, issuerDN string, skiHint []byte) ([]*model.Certificate, error) {
	return s.Catalog.FindIssuerCandidates(ctx, issuerDN, skiHint)
}

// FindCRLFor delegates to the catalog.
func (s *Store) FindCRLFor(ctx context.Context, issuerDN string) (*model.CRL, error) {
	return s.Catalog.FindCRLFor(ctx, issuerDN)
}
