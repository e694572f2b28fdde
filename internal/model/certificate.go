// Copyright 2020 Adam Chalkley
//
// https://github.com/atc0005/check-cert
//
// Licensed under the MIT License. See LICENSE file in the project root for
// full license information.

// Package model holds the canonical, storage-agnostic representation of
// the trust material this system ingests, validates and serves: X.509
// certificates, CRLs, Master Lists, SODs and the bookkeeping rows layered
// on top of them (uploads, validation results, duplicates, PA
// verifications). Nothing in this package performs I/O; see internal/xcrypto
// for decoding and internal/store for persistence.
package model

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"strings"
	"time"

	"github.com/grantae/certinfo"
)

// CertificateType classifies a certificate per §3/§4.2.
type CertificateType string

// Recognized certificate types.
const (
	CertTypeCSCA     CertificateType = "CSCA"
	CertTypeDSC      CertificateType = "DSC"
	CertTypeDSCNC    CertificateType = "DSC_NC"
	CertTypeMLSC     CertificateType = "MLSC"
	CertTypeLinkCert CertificateType = "LINK_CERT"
	CertTypeDVLSigne CertificateType = "DVL_SIGNER"
)

// SourceType records where a Certificate row was first observed, per §3.
type SourceType string

// Recognized provenance values.
const (
	SourceFileUpload    SourceType = "FILE_UPLOAD"
	SourceMLParsed      SourceType = "ML_PARSED"
	SourceLDIFParsed    SourceType = "LDIF_PARSED"
	SourceDVLParsed     SourceType = "DVL_PARSED"
	SourceAPIRegistered SourceType = "API_REGISTERED"
	SourceSystemGen     SourceType = "SYSTEM_GENERATED"
)

// unknownCountryCode is returned by extractCountryCode when no usable C=
// RDN or directory-DN fallback is present, per §4.2 rule (4).
const unknownCountryCode = "ZZ"

// Certificate is the canonical, storage-agnostic model of an ingested
// X.509 certificate (§3). FingerprintSHA256 is the system's primary
// identifier and dedup key (I1).
type Certificate struct {
	FingerprintSHA256 [32]byte
	SerialNumberHex   string
	SubjectDN         string // canonical form, per §3
	IssuerDN          string // canonical form, per §3
	NotBefore         time.Time
	NotAfter          time.Time
	Type              CertificateType
	CountryCode       string
	DER               []byte

	Version                int
	SignatureAlgorithm      x509.SignatureAlgorithm
	PublicKeyAlgorithm      x509.PublicKeyAlgorithm
	PublicKeyBits           int
	SubjectKeyID            []byte
	AuthorityKeyID          []byte
	KeyUsage                x509.KeyUsage
	ExtKeyUsageOIDs         []string
	IsCA                    bool
	PathLenConstraint       int
	PathLenConstraintIsZero bool
	CRLDistributionPoints   []string
	IsSelfSigned            bool

	SourceType       SourceType
	FirstUploadID    string
	LastSeenUploadID string
	LastSeenAt       time.Time
	DuplicateCount   int

	// DSC_NC conformance annotations (I6: non-empty code required for
	// CertTypeDSCNC).
	PKDConformanceCode string
	PKDConformanceText string
}

// FingerprintHex renders the fingerprint as lowercase hex, the form used
// for directory RDNs (cn=<fingerprint_sha256>,...) and logging.
func (c *Certificate) FingerprintHex() string {
	return hex.EncodeToString(c.FingerprintSHA256[:])
}

// IsDSCNonConformant reports whether this row carries non-empty
// conformance annotations, i.e. satisfies I6.
func (c *Certificate) IsDSCNonConformant() bool {
	return c.Type == CertTypeDSCNC && c.PKDConformanceCode != ""
}

// FromDER decodes an X.509 certificate, computes its fingerprint and
// derived metadata, and classifies it per §4.2. dnHint, when non-empty, is
// the canonical DN of the directory entry storing this certificate and is
// used only as the last-resort source of a country code (rule 3 in
// §4.2). mlsc indicates this certificate arrived inside a Master List's
// CMS certificate bag in the signer slot (forces CertTypeMLSC).
// ldifConformance, when non-nil, carries pkdConformanceCode/Text values
// observed on the storing LDIF entry and forces CertTypeDSCNC when the
// code is non-empty.
func FromDER(der []byte, source SourceType, dnHint string, mlsc bool, ldifConformance *Conformance) (*Certificate, error) {
	parsed, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}

	fp := sha256.Sum256(der)

	subjectDN := CanonicalDN(parsed.Subject)
	issuerDN := CanonicalDN(parsed.Issuer)
	isSelfSigned := subjectDN == issuerDN

	country := extractCountryCode(parsed, dnHint)

	c := &Certificate{
		FingerprintSHA256:     fp,
		SerialNumberHex:       parsed.SerialNumber.Text(16),
		SubjectDN:             subjectDN,
		IssuerDN:              issuerDN,
		NotBefore:             parsed.NotBefore,
		NotAfter:              parsed.NotAfter,
		CountryCode:           country,
		DER:                   append([]byte(nil), der...),
		Version:               parsed.Version,
		SignatureAlgorithm:    parsed.SignatureAlgorithm,
		PublicKeyAlgorithm:    parsed.PublicKeyAlgorithm,
		PublicKeyBits:         publicKeyBits(parsed),
		SubjectKeyID:          parsed.SubjectKeyId,
		AuthorityKeyID:        parsed.AuthorityKeyId,
		KeyUsage:              parsed.KeyUsage,
		ExtKeyUsageOIDs:       extKeyUsageOIDs(parsed),
		IsCA:                  parsed.IsCA,
		CRLDistributionPoints: parsed.CRLDistributionPoints,
		IsSelfSigned:          isSelfSigned,
		SourceType:            source,
	}

	if parsed.BasicConstraintsValid && parsed.MaxPathLen == 0 && !parsed.MaxPathLenZero {
		c.PathLenConstraint = -1
	} else {
		c.PathLenConstraint = parsed.MaxPathLen
		c.PathLenConstraintIsZero = parsed.MaxPathLenZero
	}

	c.Type = classify(c, mlsc)

	if ldifConformance != nil && ldifConformance.Code != "" {
		c.Type = CertTypeDSCNC
		c.PKDConformanceCode = ldifConformance.Code
		c.PKDConformanceText = ldifConformance.Text
	}

	return c, nil
}

// Conformance carries the pkdConformanceCode/pkdConformanceText LDIF
// attributes (§6) observed alongside a certificate entry.
type Conformance struct {
	Code string
	Text string
}

// classify implements the §4.2 classification rule from combined
// evidence: self-signed CA -> CSCA; CA but not self-signed -> LINK_CERT
// (provisional heuristic, see Design Note/Open Question in §9); signer
// slot of a Master List -> MLSC; otherwise DSC.
func classify(c *Certificate, mlsc bool) CertificateType {
	switch {
	case mlsc:
		return CertTypeMLSC
	case c.IsSelfSigned && c.IsCA:
		return CertTypeCSCA
	case c.IsCA && !c.IsSelfSigned:
		return CertTypeLinkCert
	default:
		return CertTypeDSC
	}
}

// extractCountryCode implements the §4.2 precedence: subject C=, then
// issuer C=, then the storing directory DN's c= segment, then "ZZ".
func extractCountryCode(parsed *x509.Certificate, dnHint string) string {
	if cc := rdnCountry(parsed.Subject); cc != "" {
		return cc
	}
	if cc := rdnCountry(parsed.Issuer); cc != "" {
		return cc
	}
	if cc := countryFromCanonicalDN(dnHint); cc != "" {
		return cc
	}
	return unknownCountryCode
}

func rdnCountry(name pkix.Name) string {
	if len(name.Country) > 0 && isValidISOCountry(name.Country[0]) {
		return strings.ToUpper(name.Country[0])
	}
	return ""
}

// countryFromCanonicalDN extracts a "c=" RDN component from an already
// canonicalized DN string, e.g. as produced by CanonicalDN.
func countryFromCanonicalDN(canonical string) string {
	if canonical == "" {
		return ""
	}
	for _, rdn := range strings.Split(canonical, ",") {
		for _, atv := range strings.Split(rdn, "+") {
			if strings.HasPrefix(atv, "c=") {
				cc := strings.ToUpper(strings.TrimPrefix(atv, "c="))
				if isValidISOCountry(cc) {
					return cc
				}
			}
		}
	}
	return ""
}

// isValidISOCountry accepts ISO 3166-1 alpha-2 or alpha-3 shaped codes;
// this system does not maintain the full ISO country table, only the
// shape constraint called for by §4.2 ("parses as ISO 3166").
func isValidISOCountry(cc string) bool {
	if len(cc) != 2 && len(cc) != 3 {
		return false
	}
	for _, r := range cc {
		if r < 'A' || r > 'z' || (r > 'Z' && r < 'a') {
			return false
		}
	}
	return true
}

func publicKeyBits(cert *x509.Certificate) int {
	switch pub := cert.PublicKey.(type) {
	case *rsa.PublicKey:
		return pub.N.BitLen()
	case *ecdsa.PublicKey:
		return pub.Curve.Params().BitSize
	case ed25519.PublicKey:
		return len(pub) * 8
	default:
		return 0
	}
}

// extKeyUsageOID maps the standard x509.ExtKeyUsage constants to their
// dotted OID strings; x509.Certificate only carries the named form for
// recognized EKUs, so this list has to be maintained by hand to recover
// the OID string the §3 extended key-usage OID list requires.
var extKeyUsageOID = map[x509.ExtKeyUsage]string{
	x509.ExtKeyUsageServerAuth:                    "1.3.6.1.5.5.7.3.1",
	x509.ExtKeyUsageClientAuth:                    "1.3.6.1.5.5.7.3.2",
	x509.ExtKeyUsageCodeSigning:                   "1.3.6.1.5.5.7.3.3",
	x509.ExtKeyUsageEmailProtection:                "1.3.6.1.5.5.7.3.4",
	x509.ExtKeyUsageIPSECEndSystem:                "1.3.6.1.5.5.7.3.5",
	x509.ExtKeyUsageIPSECTunnel:                    "1.3.6.1.5.5.7.3.6",
	x509.ExtKeyUsageIPSECUser:                      "1.3.6.1.5.5.7.3.7",
	x509.ExtKeyUsageTimeStamping:                   "1.3.6.1.5.5.7.3.8",
	x509.ExtKeyUsageOCSPSigning:                    "1.3.6.1.5.5.7.3.9",
	x509.ExtKeyUsageMicrosoftServerGatedCrypto:     "1.3.6.1.4.1.311.10.3.3",
	x509.ExtKeyUsageNetscapeServerGatedCrypto:      "2.16.840.1.113730.4.1",
	x509.ExtKeyUsageMicrosoftCommercialCodeSigning: "1.3.6.1.4.1.311.2.1.22",
	x509.ExtKeyUsageMicrosoftKernelCodeSigning:     "1.3.6.1.4.1.311.61.1.1",
	x509.ExtKeyUsageAny:                            "2.5.29.37.0",
}

func extKeyUsageOIDs(cert *x509.Certificate) []string {
	oids := make([]string, 0, len(cert.UnknownExtKeyUsage)+len(cert.ExtKeyUsage))
	for _, eku := range cert.ExtKeyUsage {
		if oid, ok := extKeyUsageOID[eku]; ok {
			oids = append(oids, oid)
		}
	}
	for _, oid := range cert.UnknownExtKeyUsage {
		oids = append(oids, oid.String())
	}
	return oids
}

// DebugText renders a human-readable OpenSSL-style text dump of the
// certificate, for audit trails and debug-level logging (C2/C7); never
// called on the hot ingest path at normal log levels.
func (c *Certificate) DebugText() (string, error) {
	parsed, err := x509.ParseCertificate(c.DER)
	if err != nil {
		return "", err
	}
	return certinfo.CertificateText(parsed)
}
