// Copyright 2020 Adam Chalkley
//
// https://github.com/atc0005/check-cert
//
// Licensed under the MIT License. See LICENSE file in the project root for
// full license information.

package ingest

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/icao-pkd/mirror/internal/model"
	"github.com/icao-pkd/mirror/internal/store/catalog"
	"github.com/icao-pkd/mirror/internal/validate"
)

// fakeCertStore records every upsert it's given, standing in for the store
// façade in tests.
type fakeCertStore struct {
	certs []*model.Certificate
	crls  []*model.CRL
}

func (f *fakeCertStore) UpsertCertificate(_ context.Context, cert *model.Certificate, _ string) (catalog.Outcome, bool, error) {
	f.certs = append(f.certs, cert)
	return catalog.Inserted, false, nil
}

func (f *fakeCertStore) UpsertCRL(_ context.Context, crl *model.CRL, _ string) (catalog.Outcome, bool, error) {
	f.crls = append(f.crls, crl)
	return catalog.Inserted, false, nil
}

// fakeUploadCatalog records upload bookkeeping calls.
type fakeUploadCatalog struct {
	inserted *model.UploadRecord
	statuses []model.UploadStatus
	errMsgs  []string
	progress []model.ProgressSnapshot
	results  []*model.ValidationResult
}

func (f *fakeUploadCatalog) InsertUpload(_ context.Context, u *model.UploadRecord) error {
	f.inserted = u
	return nil
}

func (f *fakeUploadCatalog) UpdateUploadStatus(_ context.Context, _ string, status model.UploadStatus, errMsg string) error {
	f.statuses = append(f.statuses, status)
	f.errMsgs = append(f.errMsgs, errMsg)
	return nil
}

func (f *fakeUploadCatalog) UpdateUploadProgress(_ context.Context, snap model.ProgressSnapshot) error {
	f.progress = append(f.progress, snap)
	return nil
}

func (f *fakeUploadCatalog) InsertValidationResult(_ context.Context, v *model.ValidationResult) error {
	f.results = append(f.results, v)
	return nil
}

// fakeIssuerLookup always reports no issuer candidates; only used to
// satisfy validate.NewEngine's dependency for self-signed certificates,
// which never consult it.
type fakeIssuerLookup struct{}

func (fakeIssuerLookup) FindIssuerCandidates(_ context.Context, _ string, _ []byte) ([]*model.Certificate, error) {
	return nil, nil
}

func (fakeIssuerLookup) FindCRLFor(_ context.Context, _ string) (*model.CRL, error) {
	return nil, nil
}

func newTestCoordinator() (*Coordinator, *fakeCertStore, *fakeUploadCatalog) {
	store := &fakeCertStore{}
	cat := &fakeUploadCatalog{}
	engine := validate.NewEngine(fakeIssuerLookup{}, zerolog.Nop())
	coord := NewCoordinator(store, cat, engine, nil, zerolog.Nop())
	return coord, store, cat
}

// selfSignedCSCADER generates a minimal self-signed CA certificate DER, the
// only shape the ingest pipeline needs to exercise a successful chain build
// (subject == issuer short-circuits buildChain before it ever touches the
// store).
func selfSignedCSCADER(t *testing.T, country string) []byte {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject: pkix.Name{
			Country:      []string{country},
			Organization: []string{"Test CSCA"},
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("creating certificate: %v", err)
	}
	return der
}

func ldifEntry(dn string, der []byte) string {
	return fmt.Sprintf("dn: %s\nuserCertificate;binary:: %s\n\n", dn, base64.StdEncoding.EncodeToString(der))
}

func TestIngestLDIF_HappyPath(t *testing.T) {
	coord, store, cat := newTestCoordinator()
	der := selfSignedCSCADER(t, "FR")

	upload := &model.UploadRecord{ID: "upload-1", Status: model.UploadPending}
	body := ldifEntry("c=FR,o=DCS,ou=csca", der)

	if err := coord.IngestLDIF(context.Background(), upload, bytes.NewBufferString(body)); err != nil {
		t.Fatalf("IngestLDIF returned error: %v", err)
	}

	if len(store.certs) != 1 {
		t.Fatalf("expected 1 certificate stored, got %d", len(store.certs))
	}
	if upload.Status != model.UploadCompleted {
		t.Fatalf("upload status = %v, want COMPLETED", upload.Status)
	}
	if len(cat.results) != 1 {
		t.Fatalf("expected 1 validation result recorded, got %d", len(cat.results))
	}
	if cat.results[0].Status != model.ValidationValid {
		t.Fatalf("validation status = %v, want VALID (self-signed, no CRL distribution points)", cat.results[0].Status)
	}
	if upload.TypeCounts.CSCA != 1 {
		t.Fatalf("expected CSCA type count 1, got %d", upload.TypeCounts.CSCA)
	}

	lastStatus := cat.statuses[len(cat.statuses)-1]
	if lastStatus != model.UploadCompleted {
		t.Fatalf("last recorded status = %v, want COMPLETED", lastStatus)
	}
}

func TestIngestLDIF_MalformedEntryIsSkippedNotFatal(t *testing.T) {
	coord, store, _ := newTestCoordinator()
	der := selfSignedCSCADER(t, "DE")

	upload := &model.UploadRecord{ID: "upload-2", Status: model.UploadPending}
	body := "dn: c=DE,o=bad\nuserCertificate;binary:: not-valid-base64!!!\n\n" + ldifEntry("c=DE,o=DCS,ou=csca", der)

	if err := coord.IngestLDIF(context.Background(), upload, bytes.NewBufferString(body)); err != nil {
		t.Fatalf("IngestLDIF returned error: %v", err)
	}

	if len(store.certs) != 1 {
		t.Fatalf("expected the well-formed entry to still be stored, got %d certs", len(store.certs))
	}
	if upload.Status != model.UploadCompleted {
		t.Fatalf("upload status = %v, want COMPLETED despite one malformed entry", upload.Status)
	}
	if len(upload.Errors) == 0 {
		t.Fatal("expected the malformed entry's parse error to be recorded on the upload")
	}
}

func TestIngestLDIF_MalformedCertificateIsRecordedAsEntryError(t *testing.T) {
	coord, store, _ := newTestCoordinator()

	upload := &model.UploadRecord{ID: "upload-3", Status: model.UploadPending}
	body := ldifEntry("c=FR,o=DCS,ou=csca", []byte("this is not a certificate"))

	if err := coord.IngestLDIF(context.Background(), upload, bytes.NewBufferString(body)); err != nil {
		t.Fatalf("IngestLDIF returned error: %v", err)
	}

	if len(store.certs) != 0 {
		t.Fatalf("expected no certificate stored for garbage DER, got %d", len(store.certs))
	}
	if upload.ErrorCount != 1 {
		t.Fatalf("expected error count 1, got %d", upload.ErrorCount)
	}
	if upload.Status != model.UploadCompleted {
		t.Fatalf("a malformed single entry should not fail the whole upload, got status %v", upload.Status)
	}
}

func TestIngestLDIF_StatusTransitionFailurePropagates(t *testing.T) {
	store := &fakeCertStore{}
	cat := &fakeUploadCatalog{}
	engine := validate.NewEngine(fakeIssuerLookup{}, zerolog.Nop())
	coord := NewCoordinator(store, &erroringUploadCatalog{fakeUploadCatalog: cat}, engine, nil, zerolog.Nop())

	upload := &model.UploadRecord{ID: "upload-4", Status: model.UploadPending}
	err := coord.IngestLDIF(context.Background(), upload, bytes.NewBufferString(""))
	if err == nil {
		t.Fatal("expected an error when the initial status transition fails")
	}
}

// erroringUploadCatalog fails the very first UpdateUploadStatus call, to
// exercise the coordinator's propagation of a store-layer failure before
// parsing begins.
type erroringUploadCatalog struct {
	*fakeUploadCatalog
	called bool
}

func (e *erroringUploadCatalog) UpdateUploadStatus(ctx context.Context, uploadID string, status model.UploadStatus, errMsg string) error {
	if !e.called {
		e.called = true
		return errors.New("catalog unavailable")
	}
	return e.fakeUploadCatalog.UpdateUploadStatus(ctx, uploadID, status, errMsg)
}

func TestNewUpload(t *testing.T) {
	coord, _, cat := newTestCoordinator()

	u, err := coord.NewUpload(context.Background(), "dsc.ldif", 1024, [32]byte{1, 2, 3}, model.FormatLDIF, model.ProcessingAuto)
	if err != nil {
		t.Fatalf("NewUpload returned error: %v", err)
	}
	if u.ID == "" {
		t.Fatal("expected a non-empty generated upload ID")
	}
	if u.Status != model.UploadPending {
		t.Fatalf("status = %v, want PENDING", u.Status)
	}
	if cat.inserted != u {
		t.Fatal("expected the constructed record to be passed to InsertUpload")
	}
}

func TestCountryFromDNHint(t *testing.T) {
	tt := []struct {
		dn   string
		want string
	}{
		{"c=FR,o=DCS,ou=csca", "FR"},
		{"cn=leaf,c=DE", "DE"},
		{"o=nocountry", ""},
	}
	for _, tc := range tt {
		if got := countryFromDNHint(tc.dn); got != tc.want {
			t.Errorf("countryFromDNHint(%q) = %q, want %q", tc.dn, got, tc.want)
		}
	}
}
