// Copyright 2020 Adam Chalkley
//
// https://github.com/atc0005/check-cert
//
// Licensed under the MIT License. See LICENSE file in the project root for
// full license information.

package xcrypto

import (
	"crypto/x509"
	"encoding/asn1"
	"fmt"
	"time"

	"github.com/digitorus/pkcs7"
	"github.com/icao-pkd/mirror/internal/apperr"
	"github.com/icao-pkd/mirror/internal/model"
)

// oidSigningTime is the CMS signed-attribute OID carrying the signer's
// claimed signing time, consulted by the PA engine for ICAO 9303
// point-in-time semantics (§4.5).
var oidSigningTime = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 5}

// CMS wraps a decoded CMS SignedData envelope. Content is the verified
// encapsulated payload once a Verify* method has succeeded; callers must
// not trust Content before verification.
type CMS struct {
	inner *pkcs7.PKCS7
}

// DecodeCMS parses a DER-encoded CMS SignedData structure (a Master List
// or a SOD, per §3/§6). It does not verify the signature.
func DecodeCMS(der []byte) (*CMS, error) {
	if len(der) == 0 {
		return nil, fmt.Errorf("%w: empty input", apperr.ErrMalformedCMS)
	}
	if len(der) > MaxCMSBytes {
		return nil, fmt.Errorf("%w: CMS envelope exceeds %d byte limit", apperr.ErrMalformedCMS, MaxCMSBytes)
	}
	p7, err := pkcs7.Parse(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrMalformedCMS, err)
	}
	return &CMS{inner: p7}, nil
}

// Content returns the encapsulated content bytes. Only meaningful after a
// successful Verify call.
func (c *CMS) Content() []byte {
	return c.inner.Content
}

// CertificateBag returns every certificate embedded in the CMS structure
// (the Master List's CSCAs/Link certs, or a SOD's DSC).
func (c *CMS) CertificateBag() []*x509.Certificate {
	return c.inner.Certificates
}

// Signer identifies the certificate that produced this CMS's signature by
// matching the SignerInfo's issuer/serial against the certificate bag, per
// §4.3/§4.6 step 3. Returns nil if no match is found in the bag (the
// caller, e.g. the PA engine, must then fall back to a store lookup).
func (c *CMS) Signer() *x509.Certificate {
	return c.inner.GetOnlySigner()
}

// SignerIdentity returns the issuer DN and hex serial number the
// SignerInfo claims signed this CMS, per §4.6 step 3: when the
// certificate bag is empty the PA engine must resolve the DSC from the
// trust-material store by this identity rather than by matching against
// an embedded certificate. ok is false if there is no signer or its
// serial number is absent.
func (c *CMS) SignerIdentity() (issuerDN, serialHex string, ok bool) {
	if len(c.inner.Signers) == 0 {
		return "", "", false
	}
	ias := c.inner.Signers[0].IssuerAndSerialNumber
	if ias.SerialNumber == nil {
		return "", "", false
	}
	dn, err := model.CanonicalDNFromRaw(ias.IssuerName.FullBytes)
	if err != nil {
		return "", "", false
	}
	return dn, ias.SerialNumber.Text(16), true
}

// InjectSignerCertificate adds an externally-resolved certificate (e.g.
// looked up from the trust-material store by issuer/serial identity) to
// the certificate bag so that VerifySignatureOnly can validate against it
// even when the CMS structure itself carried no certificates, per §4.6
// step 3's fallback path.
func (c *CMS) InjectSignerCertificate(cert *x509.Certificate) {
	c.inner.Certificates = append(c.inner.Certificates, cert)
}

// VerifySignatureOnly verifies the CMS signature against the embedded (or
// injected) signer certificate without validating that certificate's
// trust chain. This is the mode the PA engine uses (§4.1): chain
// validation is the validation engine's job, not the CMS layer's.
func (c *CMS) VerifySignatureOnly() error {
	if err := c.inner.Verify(); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrBadSignature, err)
	}
	return nil
}

// VerifyAgainstAnchor verifies the CMS signature and validates the
// signer's chain against the supplied trust anchor pool. This is the mode
// the Master List parser uses (§4.1, §4.3): a Master List is self-vouching
// only if its MLSC's own chain terminates at a configured anchor.
func (c *CMS) VerifyAgainstAnchor(anchors *x509.CertPool) error {
	if err := c.inner.VerifyWithChain(anchors); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrBadSignature, err)
	}
	return nil
}

// SigningTime extracts the signingTime signed attribute if present, for
// ICAO 9303 point-in-time validity semantics (§4.5, §4.6 step 7).
func (c *CMS) SigningTime() (*time.Time, bool) {
	var t time.Time
	if err := c.inner.UnmarshalSignedAttribute(oidSigningTime, &t); err != nil {
		return nil, false
	}
	return &t, true
}
