// Copyright 2020 Adam Chalkley
//
// https://github.com/atc0005/check-cert
//
// Licensed under the MIT License. See LICENSE file in the project root for
// full license information.

// Package masterlist implements the ICAO Master List parser (C3, §4.3): it
// unwraps the CMS SignedData envelope, verifies it against a configured
// trust anchor, identifies the MLSC signer, and hands back every other
// embedded certificate as a classification candidate. Final
// classification (CSCA vs LINK_CERT vs MLSC) is C2's job — see
// model.FromDER — so that the same classification rule applies uniformly
// regardless of where a certificate was observed.
package masterlist

import (
	"crypto/x509"
	"fmt"

	"github.com/icao-pkd/mirror/internal/apperr"
	"github.com/icao-pkd/mirror/internal/xcrypto"
)

// Result is the outcome of parsing one Master List.
type Result struct {
	Signer        *x509.Certificate
	EmbeddedCerts []*x509.Certificate
	RawCMS        []byte
}

// Parse decodes and verifies a Master List against the given trust
// anchors. Per §4.3 and the end-to-end scenario in §8: if the CMS
// signature does not verify against the anchor, the upload fails with
// ErrBadSignature and the caller must write zero rows.
func Parse(der []byte, anchors *x509.CertPool) (*Result, error) {
	cms, err := xcrypto.DecodeCMS(der)
	if err != nil {
		return nil, err
	}

	if err := cms.VerifyAgainstAnchor(anchors); err != nil {
		return nil, err
	}

	signer := cms.Signer()
	if signer == nil {
		return nil, fmt.Errorf("%w: no signer certificate found in Master List CMS bag", apperr.ErrMalformedCMS)
	}

	bag := cms.CertificateBag()
	embedded := make([]*x509.Certificate, 0, len(bag))
	for _, cert := range bag {
		if cert.Equal(signer) {
			continue
		}
		embedded = append(embedded, cert)
	}

	return &Result{
		Signer:        signer,
		EmbeddedCerts: embedded,
		RawCMS:        der,
	}, nil
}
