// Copyright 2020 Adam Chalkley
//
// https://github.com/atc0005/check-cert
//
// Licensed under the MIT License. See LICENSE file in the project root for
// full license information.

package model

import "time"

// ValidationStatus is the overall outcome of a validation check, shared by
// ValidationResult and PAVerification (§3, §4.5).
type ValidationStatus string

// Recognized validation statuses.
const (
	ValidationPending ValidationStatus = "PENDING"
	ValidationValid   ValidationStatus = "VALID"
	ValidationInvalid ValidationStatus = "INVALID"
	ValidationWarning ValidationStatus = "WARNING"
	ValidationError   ValidationStatus = "ERROR"
)

// CRLStatus is the outcome of the revocation check step for a single
// certificate in a chain (§4.5, §7).
type CRLStatus string

// Recognized CRL statuses.
const (
	CRLValid       CRLStatus = "VALID"
	CRLRevoked     CRLStatus = "REVOKED"
	CRLUnavailable CRLStatus = "CRL_UNAVAILABLE"
	CRLExpired     CRLStatus = "CRL_EXPIRED"
	CRLInvalid     CRLStatus = "CRL_INVALID"
	CRLNotChecked  CRLStatus = "NOT_CHECKED"
)

// ValidationResult is the per-(upload, certificate fingerprint) outcome of
// running the validation engine (C5) at ingest time (§3).
type ValidationResult struct {
	UploadID          string
	FingerprintHex    string
	TrustChainValid   bool
	CSCASubjectDN     string
	SignatureVerified bool
	IsExpired         bool
	CRLChecked        bool
	CRLRevoked        bool
	CRLStatus         CRLStatus
	Status            ValidationStatus
	ErrorMessage      string
	CheckedAt         time.Time
}

// IsOKState reports whether the result carries no failing sub-check,
// mirroring the ServiceStater pattern used throughout this system's
// ambient stack for uniform status classification.
func (v ValidationResult) IsOKState() bool {
	return v.Status == ValidationValid
}

// IsWarningState reports a degraded-but-not-failing result.
func (v ValidationResult) IsWarningState() bool {
	return v.Status == ValidationWarning
}

// IsCriticalState reports a failing or infrastructural-fault result.
func (v ValidationResult) IsCriticalState() bool {
	return v.Status == ValidationInvalid || v.Status == ValidationError
}
