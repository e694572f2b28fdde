// Copyright 2020 Adam Chalkley
//
// https://github.com/atc0005/check-cert
//
// Licensed under the MIT License. See LICENSE file in the project root for
// full license information.

package model

import (
	"crypto/sha256"
	"crypto/x509"
	"time"
)

// RevocationEntry is one entry of a CRL's revoked-certificate list.
type RevocationEntry struct {
	RevocationDate time.Time
	ReasonCode     int
}

// CRL is the canonical model of an ingested Certificate Revocation List
// (§3). RevokedSet is keyed by lowercase hex serial number.
type CRL struct {
	FingerprintSHA256 [32]byte
	CountryCode       string
	IssuerDN          string // canonical form
	ThisUpdate        time.Time
	NextUpdate        *time.Time
	CRLNumber         *int64
	DER               []byte
	RevokedSet        map[string]RevocationEntry
}

// CRLFromDER decodes an X.509 CRL and builds the canonical model.
func CRLFromDER(der []byte, countryCode string) (*CRL, error) {
	parsed, err := x509.ParseRevocationList(der)
	if err != nil {
		return nil, err
	}

	fp := sha256.Sum256(der)
	crl := &CRL{
		FingerprintSHA256: fp,
		CountryCode:       countryCode,
		IssuerDN:          CanonicalDN(parsed.Issuer),
		ThisUpdate:        parsed.ThisUpdate,
		DER:               append([]byte(nil), der...),
		RevokedSet:        make(map[string]RevocationEntry, len(parsed.RevokedCertificateEntries)),
	}

	if !parsed.NextUpdate.IsZero() {
		nu := parsed.NextUpdate
		crl.NextUpdate = &nu
	}
	if parsed.Number != nil {
		n := parsed.Number.Int64()
		crl.CRLNumber = &n
	}

	for _, entry := range parsed.RevokedCertificateEntries {
		crl.RevokedSet[entry.SerialNumber.Text(16)] = RevocationEntry{
			RevocationDate: entry.RevocationTime,
			ReasonCode:     int(entry.ReasonCode),
		}
	}

	return crl, nil
}

// IsCurrent reports whether the CRL is current at referenceTime per §3:
// ThisUpdate <= referenceTime <= NextUpdate (when NextUpdate is present).
func (c *CRL) IsCurrent(referenceTime time.Time) bool {
	if referenceTime.Before(c.ThisUpdate) {
		return false
	}
	if c.NextUpdate != nil && referenceTime.After(*c.NextUpdate) {
		return false
	}
	return true
}

// Newer reports whether c should be preferred over other as the "current"
// CRL for the same issuer, per the §4.4 selection rule: max by
// ThisUpdate, ties broken by max CRLNumber.
func (c *CRL) Newer(other *CRL) bool {
	if other == nil {
		return true
	}
	if !c.ThisUpdate.Equal(other.ThisUpdate) {
		return c.ThisUpdate.After(other.ThisUpdate)
	}
	cn, on := int64(0), int64(0)
	if c.CRLNumber != nil {
		cn = *c.CRLNumber
	}
	if other.CRLNumber != nil {
		on = *other.CRLNumber
	}
	return cn > on
}

// Revoked reports whether the given hex serial number is present in the
// revoked set, and the entry if so.
func (c *CRL) Revoked(serialHex string) (RevocationEntry, bool) {
	e, ok := c.RevokedSet[serialHex]
	return e, ok
}
