// Copyright 2020 Adam Chalkley
//
// https://github.com/atc0005/check-cert
//
// Licensed under the MIT License. See LICENSE file in the project root for
// full license information.

// Package xcrypto implements the crypto primitives component (C1): DER/PEM
// decoding of X.509 certificates, CRLs and CMS SignedData, ASN.1 decoding
// of the LDSSecurityObject, digest computation and signature verification.
// Every exported function here except LoadTrustAnchors, which reads the
// trust anchor directory, is pure — no I/O, no logging — so it can be
// exercised identically from the ingestion path and the PA engine.
package xcrypto

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"github.com/icao-pkd/mirror/internal/apperr"
)

// MaxSingleCertificateBytes bounds a single DER-encoded certificate per
// §5: pathological DER is rejected by size limits rather than allowed to
// exhaust memory or CPU in the ASN.1 decoder.
const MaxSingleCertificateBytes = 64 * 1024

// MaxCMSDepth bounds nested ASN.1 structures inside a Master List/SOD CMS
// envelope per §5 (ML ASN.1 depth <= 32). encoding/asn1 does not expose a
// depth counter and no nesting-depth check is applied; the only limit
// enforced on a CMS envelope is the MaxCMSBytes size ceiling.
const MaxCMSDepth = 32

// MaxCMSBytes bounds the overall size of a CMS SignedData envelope this
// system will attempt to decode.
const MaxCMSBytes = 64 * 1024 * 1024

// DecodeCertificate parses a DER-encoded X.509 certificate. Oversized or
// malformed input is rejected as ErrMalformedCertificate, with the
// underlying x509 package's error text appended as detail.
func DecodeCertificate(der []byte) (*x509.Certificate, error) {
	if len(der) == 0 {
		return nil, fmt.Errorf("%w: empty input", apperr.ErrMalformedCertificate)
	}
	if len(der) > MaxSingleCertificateBytes {
		return nil, fmt.Errorf("%w: certificate exceeds %d byte limit", apperr.ErrMalformedCertificate, MaxSingleCertificateBytes)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrMalformedCertificate, err)
	}
	return cert, nil
}

// DecodePossiblyPEM sniffs whether data is PEM-armored and, if so, decodes
// the first CERTIFICATE block; otherwise it is treated as raw DER. Per §6
// "Raw certificates: DER or PEM; extension is advisory only — content is
// sniffed."
func DecodePossiblyPEM(data []byte) ([]byte, error) {
	if block, _ := pem.Decode(data); block != nil {
		return block.Bytes, nil
	}
	return data, nil
}

// LoadTrustAnchors reads every PEM or DER certificate file directly under
// dir and returns them as an x509.CertPool, the Master List/Deviation List
// signer trust anchors named by §6's crypto.trust_anchor_path.
func LoadTrustAnchors(dir string) (*x509.CertPool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading trust anchor directory %q: %w", dir, err)
	}

	pool := x509.NewCertPool()
	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading trust anchor %q: %w", path, err)
		}
		der, err := DecodePossiblyPEM(data)
		if err != nil {
			return nil, fmt.Errorf("decoding trust anchor %q: %w", path, err)
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("%w: trust anchor %q: %v", apperr.ErrMalformedCertificate, path, err)
		}
		pool.AddCert(cert)
		loaded++
	}

	if loaded == 0 {
		return nil, fmt.Errorf("no trust anchors found in %q", dir)
	}
	return pool, nil
}

// DecodeCRL parses a DER-encoded X.509 CRL.
func DecodeCRL(der []byte) (*x509.RevocationList, error) {
	if len(der) == 0 {
		return nil, fmt.Errorf("%w: empty input", apperr.ErrMalformedCRL)
	}
	crl, err := x509.ParseRevocationList(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrMalformedCRL, err)
	}
	return crl, nil
}
