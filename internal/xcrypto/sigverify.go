// Copyright 2020 Adam Chalkley
//
// https://github.com/atc0005/check-cert
//
// Licensed under the MIT License. See LICENSE file in the project root for
// full license information.

package xcrypto

import (
	"crypto/x509"
	"fmt"

	"github.com/icao-pkd/mirror/internal/apperr"
)

// mandatorySignatureAlgorithms is the set §4.5 requires every
// implementation to support: RSA-PKCS1-v1.5 and ECDSA, each with
// SHA-256/384/512.
var mandatorySignatureAlgorithms = map[x509.SignatureAlgorithm]bool{
	x509.SHA256WithRSA:   true,
	x509.SHA384WithRSA:   true,
	x509.SHA512WithRSA:   true,
	x509.ECDSAWithSHA256: true,
	x509.ECDSAWithSHA384: true,
	x509.ECDSAWithSHA512: true,
}

// VerifyChainEdge verifies that issued was signed by issuer, per §4.5
// "For each edge of the chain, verify the child's signature using the
// parent's public key". The signature algorithm must be one of the
// mandatory set; anything else is rejected as ErrUnsupportedAlgorithm
// rather than silently accepted or rejected by Go's own insecure-algorithm
// policy (which would make CSCA generations signed with legacy algorithms
// permanently unverifiable even when historically valid per ICAO 9303).
func VerifyChainEdge(issued, issuer *x509.Certificate) error {
	if !mandatorySignatureAlgorithms[issued.SignatureAlgorithm] {
		return fmt.Errorf("%w: %s", apperr.ErrUnsupportedAlgorithm, issued.SignatureAlgorithm)
	}

	if err := issuer.CheckSignature(issued.SignatureAlgorithm, issued.RawTBSCertificate, issued.Signature); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrBadSignature, err)
	}
	return nil
}
