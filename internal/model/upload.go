// Copyright 2020 Adam Chalkley
//
// https://github.com/atc0005/check-cert
//
// Licensed under the MIT License. See LICENSE file in the project root for
// full license information.

package model

import "time"

// UploadFormat enumerates the recognized incoming file formats (§3, §6).
type UploadFormat string

// Recognized upload formats.
const (
	FormatLDIF       UploadFormat = "LDIF"
	FormatML         UploadFormat = "ML"
	FormatPEM        UploadFormat = "PEM"
	FormatDER        UploadFormat = "DER"
	FormatCER        UploadFormat = "CER"
	FormatBIN        UploadFormat = "BIN"
	FormatDVL        UploadFormat = "DVL"
	FormatMasterList UploadFormat = "MASTER_LIST"
)

// UploadStatus is the terminal/non-terminal lifecycle state of an upload
// (§3, §4.7). Transitions are one-way: PENDING -> PROCESSING ->
// {COMPLETED, FAILED}.
type UploadStatus string

// Recognized upload lifecycle states.
const (
	UploadPending    UploadStatus = "PENDING"
	UploadProcessing UploadStatus = "PROCESSING"
	UploadCompleted  UploadStatus = "COMPLETED"
	UploadFailed     UploadStatus = "FAILED"
)

// ProcessingMode controls whether an ingest runs unattended or waits on
// operator confirmation for ambiguous entries (§3).
type ProcessingMode string

// Recognized processing modes.
const (
	ProcessingAuto   ProcessingMode = "AUTO"
	ProcessingManual ProcessingMode = "MANUAL"
)

// TypeCounts aggregates per-certificate-type counts observed in an upload.
type TypeCounts struct {
	CSCA     int
	DSC      int
	DSCNC    int
	MLSC     int
	LinkCert int
	DVLSigne int
}

// Add increments the counter matching t.
func (tc *TypeCounts) Add(t CertificateType) {
	switch t {
	case CertTypeCSCA:
		tc.CSCA++
	case CertTypeDSC:
		tc.DSC++
	case CertTypeDSCNC:
		tc.DSCNC++
	case CertTypeMLSC:
		tc.MLSC++
	case CertTypeLinkCert:
		tc.LinkCert++
	case CertTypeDVLSigne:
		tc.DVLSigne++
	}
}

// UploadRecord is the canonical model of one ingest unit's lifecycle and
// aggregated statistics (§3).
type UploadRecord struct {
	ID              string
	FileName        string
	SizeBytes       int64
	SHA256          [32]byte
	Format          UploadFormat
	Status          UploadStatus
	ProcessingMode  ProcessingMode
	CreatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time

	TotalEntries     int
	ProcessedEntries int
	TypeCounts       TypeCounts

	ValidCount   int
	InvalidCount int
	WarningCount int
	ErrorCount   int

	Errors []string

	ErrorMessage string
}

// ProgressSnapshot is emitted by the ingestion coordinator (C7) at a
// minimum rate while an upload is PROCESSING (§4.7).
type ProgressSnapshot struct {
	UploadID     string
	Processed    int
	Total        int
	CurrentStage string
	TypeCounts   TypeCounts
}

// DuplicateCertificate records a re-ingest of a previously-seen
// fingerprint (§3). It does not replace the original Certificate row.
type DuplicateCertificate struct {
	ID               string
	FingerprintHex   string
	ObservingUploadID string
	FirstUploadID    string
	Type             CertificateType
	CountryCode      string
	SubjectDN        string
	ObservedAt       time.Time
}
