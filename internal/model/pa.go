// Copyright 2020 Adam Chalkley
//
// https://github.com/atc0005/check-cert
//
// Licensed under the MIT License. See LICENSE file in the project root for
// full license information.

package model

import "time"

// PAVerification is the canonical model of one Passive Authentication
// request/result pair (§3, §4.6).
type PAVerification struct {
	ID              string
	IssuingCountry  string
	DocumentNumber  string
	DOB             string
	Expiry          string
	SODDigest       [32]byte
	SODBytes        []byte

	DSCFingerprintHex  string
	DSCSubjectDN       string
	CSCAFingerprintHex string
	CSCASubjectDN      string

	TrustChainValid    bool
	TrustChainMessage  string
	SODSignatureValid  bool
	SODSignatureMsg    string
	DGHashesValid      bool
	DGHashesMsg        string

	DataGroups []DataGroupObservation

	CRLStatus           CRLStatus
	VerificationStatus  ValidationStatus
	ErrorMessage        string
	ProcessingTime      time.Duration
	RequestedAt         time.Time
	CompletedAt         time.Time
}

// IsOKState reports a fully VALID PA result.
func (p PAVerification) IsOKState() bool {
	return p.VerificationStatus == ValidationValid
}

// IsWarningState is always false for PA results: §4.6 step 8 collapses
// CRL_UNAVAILABLE/CRL_EXPIRED into the same VALID/INVALID split used for
// chain and signature checks, unlike ingest-time validation which has a
// dedicated WARNING state (§4.5).
func (p PAVerification) IsWarningState() bool {
	return false
}

// IsCriticalState reports an INVALID or ERROR PA result.
func (p PAVerification) IsCriticalState() bool {
	return p.VerificationStatus == ValidationInvalid || p.VerificationStatus == ValidationError
}
