// Copyright 2020 Adam Chalkley
//
// https://github.com/atc0005/check-cert
//
// Licensed under the MIT License. See LICENSE file in the project root for
// full license information.

package masterlist

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/digitorus/pkcs7"
)

// genCA builds a throwaway self-signed CA certificate + key, mirroring the
// model package's in-process fixture style rather than checking in PEM.
func genCA(t *testing.T, cn string) (*x509.Certificate, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: cn, Country: []string{"FR"}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	return cert, key
}

// buildMasterList signs a Master List payload with mlsc/mlscKey and embeds
// the given CSCA certificates in the CMS certificate bag, mirroring how an
// ICAO Master List carries its signer plus every CSCA it vouches for.
func buildMasterList(t *testing.T, mlsc *x509.Certificate, mlscKey *ecdsa.PrivateKey, embedded ...*x509.Certificate) []byte {
	t.Helper()
	sd, err := pkcs7.NewSignedData([]byte("master-list-payload"))
	if err != nil {
		t.Fatalf("NewSignedData: %v", err)
	}
	if err := sd.AddSigner(mlsc, mlscKey, pkcs7.SignerInfoConfig{}); err != nil {
		t.Fatalf("AddSigner: %v", err)
	}
	for _, c := range embedded {
		sd.AddCertificate(c)
	}
	der, err := sd.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	return der
}

func TestParse_ExtractsSignerAndEmbeddedCerts(t *testing.T) {
	mlsc, mlscKey := genCA(t, "MLSC-FR")
	csca1, _ := genCA(t, "CSCA-FR-1")
	csca2, _ := genCA(t, "CSCA-FR-2")

	der := buildMasterList(t, mlsc, mlscKey, csca1, csca2)

	anchors := x509.NewCertPool()
	anchors.AddCert(mlsc)

	result, err := Parse(der, anchors)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if result.Signer == nil || result.Signer.Subject.CommonName != "MLSC-FR" {
		t.Fatalf("expected signer MLSC-FR, got %v", result.Signer)
	}
	if len(result.EmbeddedCerts) != 2 {
		t.Fatalf("expected 2 embedded certs, got %d", len(result.EmbeddedCerts))
	}
}

func TestParse_RejectsSignatureNotMatchingAnchor(t *testing.T) {
	mlsc, mlscKey := genCA(t, "MLSC-FR")
	other, _ := genCA(t, "UNRELATED")

	der := buildMasterList(t, mlsc, mlscKey)

	anchors := x509.NewCertPool()
	anchors.AddCert(other) // does not match the MLSC that actually signed

	if _, err := Parse(der, anchors); err == nil {
		t.Fatalf("expected Parse to fail against a mismatched trust anchor")
	}
}
