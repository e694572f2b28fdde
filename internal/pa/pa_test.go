// Copyright 2020 Adam Chalkley
//
// https://github.com/atc0005/check-cert
//
// Licensed under the MIT License. See LICENSE file in the project root for
// full license information.

package pa

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"testing"
	"time"

	"github.com/digitorus/pkcs7"
	"github.com/rs/zerolog"

	"github.com/icao-pkd/mirror/internal/model"
	"github.com/icao-pkd/mirror/internal/validate"
)

// fakeStore satisfies dscLookup and validate's issuerLookup interfaces,
// presenting a DSC whose issuer is always self-signed (i.e. the DSC
// itself is treated as its own chain root) so the PA pipeline can be
// exercised without a real CSCA/store round trip.
type fakeStore struct{}

func (fakeStore) FindIssuerCandidates(context.Context, string, []byte) ([]*model.Certificate, error) {
	return nil, nil
}

func (fakeStore) FindCRLFor(context.Context, string) (*model.CRL, error) {
	return nil, nil
}

func genSelfSignedDSC(t *testing.T, notAfter time.Time) (*x509.Certificate, *ecdsa.PrivateKey, *model.Certificate) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(7),
		Subject:               pkix.Name{CommonName: "DSC-NL", Country: []string{"NL"}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              notAfter,
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	canonical, err := model.FromDER(der, model.SourceSystemGen, "", false, nil)
	if err != nil {
		t.Fatalf("FromDER: %v", err)
	}
	return cert, key, canonical
}

type ldsDataGroupHash struct {
	Number int
	Hash   []byte
}

type ldsAlgorithmIdentifier struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.RawValue `asn1:"optional"`
}

type ldsSecurityObject struct {
	Version             int
	HashAlgorithm        ldsAlgorithmIdentifier
	DataGroupHashValues []ldsDataGroupHash
}

var oidSHA256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}

func buildSOD(t *testing.T, dsc *x509.Certificate, key *ecdsa.PrivateKey, dg1, dg2 []byte) []byte {
	t.Helper()
	h1 := sha256.Sum256(dg1)
	h2 := sha256.Sum256(dg2)

	lds := ldsSecurityObject{
		Version:       0,
		HashAlgorithm: ldsAlgorithmIdentifier{Algorithm: oidSHA256},
		DataGroupHashValues: []ldsDataGroupHash{
			{Number: 1, Hash: h1[:]},
			{Number: 2, Hash: h2[:]},
		},
	}
	content, err := asn1.Marshal(lds)
	if err != nil {
		t.Fatalf("marshal LDSSecurityObject: %v", err)
	}

	sd, err := pkcs7.NewSignedData(content)
	if err != nil {
		t.Fatalf("NewSignedData: %v", err)
	}
	if err := sd.AddSigner(dsc, key, pkcs7.SignerInfoConfig{}); err != nil {
		t.Fatalf("AddSigner: %v", err)
	}
	der, err := sd.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	return der
}

func TestVerify_HappyPath(t *testing.T) {
	dsc, key, _ := genSelfSignedDSC(t, time.Now().Add(24*time.Hour))
	dg1 := []byte("mrz-data-group-1")
	dg2 := []byte("facial-image-data-group-2")
	sodBytes := buildSOD(t, dsc, key, dg1, dg2)

	validator := validate.NewEngine(fakeStore{}, zerolog.Nop())
	engine := NewEngine(fakeStore{}, validator, zerolog.Nop())

	result := engine.Verify(context.Background(), Request{
		IssuingCountry: "NL",
		SODBytes:       sodBytes,
		DataGroups:     map[int][]byte{1: dg1, 2: dg2},
	})

	if !result.SODSignatureValid {
		t.Fatalf("expected SODSignatureValid = true, got error %q", result.ErrorMessage)
	}
	if !result.DGHashesValid {
		t.Fatalf("expected DGHashesValid = true")
	}
	if !result.TrustChainValid {
		t.Fatalf("expected TrustChainValid = true (self-signed DSC is its own chain root)")
	}
	if result.VerificationStatus != model.ValidationValid {
		t.Fatalf("VerificationStatus = %s, want VALID: %s", result.VerificationStatus, result.ErrorMessage)
	}
	for _, dg := range result.DataGroups {
		if !dg.HashValid {
			t.Errorf("DG%d hash_valid = false, want true", dg.Number)
		}
	}
}

func TestVerify_PerturbedDataGroupFlipsHashValid(t *testing.T) {
	dsc, key, _ := genSelfSignedDSC(t, time.Now().Add(24*time.Hour))
	dg1 := []byte("mrz-data-group-1")
	dg2 := []byte("facial-image-data-group-2")
	sodBytes := buildSOD(t, dsc, key, dg1, dg2)

	validator := validate.NewEngine(fakeStore{}, zerolog.Nop())
	engine := NewEngine(fakeStore{}, validator, zerolog.Nop())

	tampered := append([]byte(nil), dg1...)
	tampered[0] ^= 0xFF

	result := engine.Verify(context.Background(), Request{
		IssuingCountry: "NL",
		SODBytes:       sodBytes,
		DataGroups:     map[int][]byte{1: tampered, 2: dg2},
	})

	if result.DGHashesValid {
		t.Fatalf("expected DGHashesValid = false after perturbing DG1")
	}
	if result.VerificationStatus != model.ValidationInvalid {
		t.Fatalf("VerificationStatus = %s, want INVALID", result.VerificationStatus)
	}
}

func TestVerify_PerturbedSignatureFlipsSignatureValid(t *testing.T) {
	dsc, key, _ := genSelfSignedDSC(t, time.Now().Add(24*time.Hour))
	dg1 := []byte("mrz-data-group-1")
	dg2 := []byte("facial-image-data-group-2")
	sodBytes := buildSOD(t, dsc, key, dg1, dg2)

	// Flip a byte well into the structure to corrupt the signature without
	// producing an unparsable ASN.1 envelope outright.
	tampered := append([]byte(nil), sodBytes...)
	tampered[len(tampered)-5] ^= 0xFF

	validator := validate.NewEngine(fakeStore{}, zerolog.Nop())
	engine := NewEngine(fakeStore{}, validator, zerolog.Nop())

	result := engine.Verify(context.Background(), Request{
		IssuingCountry: "NL",
		SODBytes:       tampered,
		DataGroups:     map[int][]byte{1: dg1, 2: dg2},
	})

	if result.SODSignatureValid {
		t.Fatalf("expected SODSignatureValid = false after corrupting the CMS envelope")
	}
	if result.VerificationStatus == model.ValidationValid {
		t.Fatalf("expected a non-VALID status after signature corruption")
	}
}

func TestVerify_ExpiredDSCSignedAfterNotAfterIsNotTrusted(t *testing.T) {
	// Point-in-time semantics (spec §4.5/§4.6 step 7, scenario 5): an
	// expired DSC is rescued only by a SOD signing time inside its
	// validity window. This fixture is signed now, after the DSC's
	// NotAfter, so nothing rescues it.
	notAfter := time.Now().Add(-time.Hour) // already expired relative to "now"
	dsc, key, _ := genSelfSignedDSC(t, notAfter)
	dg1 := []byte("mrz-data-group-1")
	sodBytes := buildSOD(t, dsc, key, dg1, nil)

	validator := validate.NewEngine(fakeStore{}, zerolog.Nop())
	engine := NewEngine(fakeStore{}, validator, zerolog.Nop())

	result := engine.Verify(context.Background(), Request{
		IssuingCountry: "NL",
		SODBytes:       sodBytes,
		DataGroups:     map[int][]byte{1: dg1},
	})

	// The reference time, whether the CMS signing time or the request
	// time, lies after the DSC's NotAfter, so the DSC must not be
	// reported as trusted.
	if result.TrustChainValid {
		t.Fatalf("expected TrustChainValid = false: DSC expired before the SOD was signed")
	}
}
