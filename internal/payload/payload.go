// Copyright 2020 Adam Chalkley
//
// https://github.com/atc0005/check-cert
//
// Licensed under the MIT License. See LICENSE file in the project root for
// full license information.

// Package payload projects a canonical Certificate and its validation
// outcome into the JSON wire-shape defined by cert-payload's format/v0, the
// teacher's own audit/debug representation of evaluated certificate
// metadata, adapted here from a live TLS handshake's chain to a stored
// trust-material row.
package payload

import (
	"crypto/x509"
	"errors"

	certpayload "github.com/atc0005/cert-payload"
	"github.com/atc0005/cert-payload/input"
	"github.com/atc0005/go-nagios"

	"github.com/icao-pkd/mirror/internal/model"
)

// formatVersion pins the unstable/pre-release format, the only version
// compiled against this module's vendored cert-payload release.
const formatVersion = certpayload.UnstablePayloadVersion

// stateForValidation maps the canonical validation outcome onto the
// go-nagios service-state vocabulary cert-payload expects.
func stateForValidation(status model.ValidationStatus) string {
	switch status {
	case model.ValidationValid:
		return nagios.StateOKLabel
	case model.ValidationWarning:
		return nagios.StateWARNINGLabel
	case model.ValidationInvalid:
		return nagios.StateCRITICALLabel
	default:
		return nagios.StateUNKNOWNLabel
	}
}

// Encode renders cert's metadata and result's outcome as a cert-payload
// JSON document, for the debug/audit projection of a single certificate
// record.
func Encode(cert *model.Certificate, result *model.ValidationResult) ([]byte, error) {
	parsed, err := x509.ParseCertificate(cert.DER)
	if err != nil {
		return nil, err
	}

	var errs []error
	state := nagios.StateUNKNOWNLabel
	if result != nil {
		state = stateForValidation(result.Status)
		if result.ErrorMessage != "" {
			errs = append(errs, errors.New(result.ErrorMessage))
		}
	}

	inputData := input.Values{
		CertChain:            []*x509.Certificate{parsed},
		Errors:               errs,
		IncludeFullCertChain: true,
		Server:               input.Server{HostValue: cert.SubjectDN},
		ServiceState:         state,
	}

	return certpayload.Encode(formatVersion, inputData)
}
