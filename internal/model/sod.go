// Copyright 2020 Adam Chalkley
//
// https://github.com/atc0005/check-cert
//
// Licensed under the MIT License. See LICENSE file in the project root for
// full license information.

package model

import "time"

// LDSSecurityObject is the decoded ASN.1 payload carried inside a SOD's
// CMS SignedData (§3): {version, hashAlgorithm, dataGroupHashValues}.
type LDSSecurityObject struct {
	Version              int
	HashAlgorithmOID     string
	DataGroupHashValues  []DataGroupHash
}

// DataGroupHash is one {dataGroupNumber, dataGroupHashValue} entry from
// the LDSSecurityObject.
type DataGroupHash struct {
	Number int
	Hash   []byte
}

// SOD is the canonical, decoded model of a Document Security Object (§3).
type SOD struct {
	LDS         LDSSecurityObject
	SignerDN    string // canonical DN identified by the CMS SignerInfo
	SignerSerial string // hex
	DSC         *Certificate // extracted from the CMS cert bag, or resolved from the store
	SigningTime *time.Time  // from signed attributes, if present
	RawCMS      []byte
}

// DataGroupObservation is a single Data Group hash comparison result
// recorded as part of a PAVerification (§3).
type DataGroupObservation struct {
	Number       int
	ExpectedHash []byte
	ActualHash   []byte
	Present      bool
	HashValid    bool
}
