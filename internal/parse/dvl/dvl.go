// Copyright 2020 Adam Chalkley
//
// https://github.com/atc0005/check-cert
//
// Licensed under the MIT License. See LICENSE file in the project root for
// full license information.

// Package dvl implements the Deviation List parser (§3A): a DVL is
// structurally a CMS SignedData envelope like a Master List, but its
// payload is a list of deviating countries/reasons rather than embedded
// certificates. It reuses C1's CMS unwrap and verifies against the same
// trust-anchor contract as the Master List parser.
package dvl

import (
	"crypto/x509"
	"encoding/asn1"
	"fmt"

	"github.com/icao-pkd/mirror/internal/apperr"
	"github.com/icao-pkd/mirror/internal/model"
	"github.com/icao-pkd/mirror/internal/xcrypto"
)

// deviationContent mirrors the ASN.1 SEQUENCE OF Deviation shape a
// Deviation List's CMS content carries: each entry names a country and a
// free-text, machine-parseable reason code.
type deviationContent struct {
	Deviations []deviationEntry `asn1:"optional"`
}

type deviationEntry struct {
	CountryCode string
	Reason      string `asn1:"optional,utf8"`
}

// Result is the outcome of parsing one Deviation List.
type Result struct {
	Signer     *x509.Certificate
	Deviations []model.Deviation
	RawCMS     []byte
}

// Parse decodes and verifies a Deviation List against the given trust
// anchors, then decodes its inner content into deviation rows. Signer
// identity is recorded under CertTypeDVLSigne by the caller (C7), not
// here — this package, like the Master List parser, does not classify.
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
		return nil, fmt.Errorf("%w: no signer certificate found in Deviation List CMS bag", apperr.ErrMalformedCMS)
	}

	deviations, err := decodeDeviations(cms.Content())
	if err != nil {
		return nil, err
	}

	return &Result{
		Signer:     signer,
		Deviations: deviations,
		RawCMS:     der,
	}, nil
}

// decodeDeviations unmarshals the CMS content as a DER SEQUENCE of
// deviation entries. A content body that does not parse as the expected
// shape is reported as ErrMalformedCMS rather than silently dropped: an
// empty deviation list must still decode as zero entries, not an error.
func decodeDeviations(content []byte) ([]model.Deviation, error) {
	var raw deviationContent
	if _, err := asn1.Unmarshal(content, &raw); err != nil {
		return nil, fmt.Errorf("%w: deviation list content: %v", apperr.ErrMalformedCMS, err)
	}

	out := make([]model.Deviation, 0, len(raw.Deviations))
	for _, d := range raw.Deviations {
		out = append(out, model.Deviation{
			CountryCode: d.CountryCode,
			Reason:      d.Reason,
		})
	}
	return out, nil
}
