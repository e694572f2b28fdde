// Copyright 2020 Adam Chalkley
//
// https://github.com/atc0005/check-cert
//
// Licensed under the MIT License. See LICENSE file in the project root for
// full license information.

package model

// MasterList is the canonical model of a parsed ICAO Master List (§3): a
// CMS SignedData envelope whose signer is the MLSC and whose certificate
// bag holds the CSCAs (and possibly Link certificates) it vouches for.
type MasterList struct {
	SignerDN           string // canonical DN of the MLSC, as identified by SignerInfo
	Signer             *Certificate
	EmbeddedCertsDER   [][]byte
	CMSVerified        bool
	RawCMS             []byte
}

// DVL is the canonical model of a parsed ICAO Deviation List: structurally
// a CMS SignedData envelope like MasterList, but its payload lists
// deviating countries and reasons rather than certificates (SPEC_FULL.md
// §3A).
type DVL struct {
	SignerDN    string
	Signer      *Certificate
	Deviations  []Deviation
	CMSVerified bool
	RawCMS      []byte
}

// Deviation is one entry of a parsed Deviation List payload.
type Deviation struct {
	CountryCode string
	Reason      string
}
