// Copyright 2020 Adam Chalkley
//
// https://github.com/atc0005/check-cert
//
// Licensed under the MIT License. See LICENSE file in the project root for
// full license information.

// Package ingest implements the ingestion coordinator (C7, §4.7): the
// per-upload lifecycle state machine (PENDING -> PROCESSING ->
// {COMPLETED, FAILED}), progress reporting at a minimum rate, failure
// classification, and the transactional boundary between the
// trust-material store (C4) and the upload record. It is the glue that
// drives the LDIF/Master List/Deviation List parsers (C3) and the
// validation engine (C5) for every entry in one uploaded file.
package ingest

import (
	"context"
	"crypto/x509"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/icao-pkd/mirror/internal/apperr"
	"github.com/icao-pkd/mirror/internal/model"
	"github.com/icao-pkd/mirror/internal/parse/dvl"
	"github.com/icao-pkd/mirror/internal/parse/ldif"
	"github.com/icao-pkd/mirror/internal/parse/masterlist"
	"github.com/icao-pkd/mirror/internal/store/catalog"
	"github.com/icao-pkd/mirror/internal/validate"
)

// certStore is the subset of the store façade the coordinator depends on;
// kept as an interface so unit tests can substitute a fake without pulling
// in the catalog/directory backends.
type certStore interface {
	UpsertCertificate(ctx context.Context, cert *model.Certificate, uploadID string) (outcome catalog.Outcome, storedInDirectory bool, err error)
	UpsertCRL(ctx context.Context, crl *model.CRL, uploadID string) (outcome catalog.Outcome, storedInDirectory bool, err error)
}

// uploadCatalog is the subset of the catalog the coordinator uses directly
// for upload bookkeeping (separate from cert/CRL upserts, which go through
// certStore so both tiers stay in lockstep per §4.4).
type uploadCatalog interface {
	InsertUpload(ctx context.Context, u *model.UploadRecord) error
	UpdateUploadStatus(ctx context.Context, uploadID string, status model.UploadStatus, errMsg string) error
	UpdateUploadProgress(ctx context.Context, snap model.ProgressSnapshot) error
	InsertValidationResult(ctx context.Context, v *model.ValidationResult) error
}

// progressMinInterval and progressMinEntries implement §4.7's "emits
// progress snapshots at a minimum rate (every N entries OR every T
// milliseconds, whichever first)".
const (
	progressMinEntries  = 100
	progressMinInterval = 2 * time.Second
)

// Coordinator drives one upload's lifecycle end-to-end.
type Coordinator struct {
	store    certStore
	catalog  uploadCatalog
	validator *validate.Engine
	anchors  *x509.CertPool
	log      zerolog.Logger
}

// NewCoordinator constructs an ingestion Coordinator. anchors is the
// configured Master List/Deviation List trust anchor pool (§3, §6
// crypto.trust_anchor_path).
func NewCoordinator(store certStore, catalog uploadCatalog, validator *validate.Engine, anchors *x509.CertPool, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		store:     store,
		catalog:   catalog,
		validator: validator,
		anchors:   anchors,
		log:       log.With().Str("component", "ingest").Logger(),
	}
}

// NewUpload creates a PENDING UploadRecord for the given file, ready to be
// handed to one of the Ingest* methods. The HTTP handler (out of scope
// here, per §1) is expected to return uploadID to the caller immediately
// and let ingestion proceed on a dedicated worker, per §5.
func (c *Coordinator) NewUpload(ctx context.Context, fileName string, size int64, sha256 [32]byte, format model.UploadFormat, mode model.ProcessingMode) (*model.UploadRecord, error) {
	u := &model.UploadRecord{
		ID:             uuid.NewString(),
		FileName:       fileName,
		SizeBytes:      size,
		SHA256:         sha256,
		Format:         format,
		Status:         model.UploadPending,
		ProcessingMode: mode,
		CreatedAt:      time.Now().UTC(),
	}
	if err := c.catalog.InsertUpload(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// progressTracker rate-limits progress emission per §4.7.
type progressTracker struct {
	lastEmit     time.Time
	lastProcessed int
}

func (p *progressTracker) shouldEmit(processed, total int) bool {
	if processed == total {
		return true
	}
	if processed-p.lastProcessed >= progressMinEntries {
		return true
	}
	return time.Since(p.lastEmit) >= progressMinInterval
}

func (p *progressTracker) mark(processed int) {
	p.lastEmit = time.Now()
	p.lastProcessed = processed
}

// IngestLDIF runs the §4.7 state machine over an LDIF stream: transitions
// the upload to PROCESSING, parses entries, upserts certificates/CRLs
// found on each entry, validates them against the store, and transitions
// to COMPLETED or FAILED. Per §7, a whole-file decode failure fails the
// upload; a malformed individual entry is recorded and skipped.
func (c *Coordinator) IngestLDIF(ctx context.Context, upload *model.UploadRecord, r io.Reader) error {
	if err := c.catalog.UpdateUploadStatus(ctx, upload.ID, model.UploadProcessing, ""); err != nil {
		return err
	}

	tracker := &progressTracker{}
	var entryErrors []error

	onEntry := func(e ldif.Entry) {
		c.processLDIFEntry(ctx, upload, e, &entryErrors)
	}
	onProgress := func(processed, total int) {
		upload.ProcessedEntries = processed
		upload.TotalEntries = total
		if tracker.shouldEmit(processed, total) {
			tracker.mark(processed)
			_ = c.catalog.UpdateUploadProgress(ctx, model.ProgressSnapshot{
				UploadID: upload.ID, Processed: processed, Total: total,
				CurrentStage: "ldif", TypeCounts: upload.TypeCounts,
			})
		}
	}

	parseErrors, err := ldif.Parse(r, onEntry, onProgress)
	if err != nil {
		return c.fail(ctx, upload, err)
	}
	for _, pe := range parseErrors {
		upload.Errors = append(upload.Errors, pe.Error())
	}
	for _, ee := range entryErrors {
		upload.Errors = append(upload.Errors, ee.Error())
	}

	return c.complete(ctx, upload)
}

// processLDIFEntry handles one LDIF entry's certificate/CRL/conformance
// attributes, per §4.3/§6's recognized attribute names.
func (c *Coordinator) processLDIFEntry(ctx context.Context, upload *model.UploadRecord, e ldif.Entry, entryErrors *[]error) {
	dnHint := e.DN

	var conformance *model.Conformance
	if code, ok := e.Get("pkdConformanceCode"); ok {
		conformance = &model.Conformance{Code: string(code)}
		if text, ok := e.Get("pkdConformanceText"); ok {
			conformance.Text = string(text)
		}
	}

	for _, der := range e.All("userCertificate;binary") {
		c.storeCertificate(ctx, upload, der, model.SourceLDIFParsed, dnHint, false, conformance, entryErrors)
	}
	for _, der := range e.All("cACertificate;binary") {
		c.storeCertificate(ctx, upload, der, model.SourceLDIFParsed, dnHint, false, conformance, entryErrors)
	}
	for _, der := range e.All("certificateRevocationList;binary") {
		c.storeCRL(ctx, upload, der, dnHint, entryErrors)
	}
	for _, der := range e.All("pkdMasterListContent;binary") {
		c.ingestEmbeddedMasterList(ctx, upload, der, entryErrors)
	}
	for _, der := range e.All("pkdMasterListContent") {
		c.ingestEmbeddedMasterList(ctx, upload, der, entryErrors)
	}
}

func (c *Coordinator) storeCertificate(ctx context.Context, upload *model.UploadRecord, der []byte, source model.SourceType, dnHint string, mlsc bool, conformance *model.Conformance, entryErrors *[]error) {
	cert, err := model.FromDER(der, source, dnHint, mlsc, conformance)
	if err != nil {
		*entryErrors = append(*entryErrors, fmt.Errorf("%w: %v", apperr.ErrMalformedCertificate, err))
		upload.ErrorCount++
		return
	}
	if source == model.SourceDVLParsed {
		cert.Type = model.CertTypeDVLSigne
	}

	outcome, _, err := c.store.UpsertCertificate(ctx, cert, upload.ID)
	if err != nil {
		*entryErrors = append(*entryErrors, err)
		upload.ErrorCount++
		return
	}

	upload.TypeCounts.Add(cert.Type)

	result := c.validator.Validate(ctx, cert, time.Now().UTC(), upload.ID)
	_ = c.catalog.InsertValidationResult(ctx, result)
	c.tallyValidation(upload, result.Status)

	c.log.Debug().
		Str("fingerprint", cert.FingerprintHex()).
		Str("type", string(cert.Type)).
		Str("country", cert.CountryCode).
		Str("outcome", string(outcome)).
		Str("validation", string(result.Status)).
		Msg("certificate ingested")

	if c.log.GetLevel() <= zerolog.TraceLevel {
		if text, terr := cert.DebugText(); terr == nil {
			c.log.Trace().Str("fingerprint", cert.FingerprintHex()).Msg(text)
		}
	}
}

func (c *Coordinator) storeCRL(ctx context.Context, upload *model.UploadRecord, der []byte, dnHint string, entryErrors *[]error) {
	crl, err := model.CRLFromDER(der, countryFromDNHint(dnHint))
	if err != nil {
		*entryErrors = append(*entryErrors, fmt.Errorf("%w: %v", apperr.ErrMalformedCRL, err))
		upload.ErrorCount++
		return
	}
	if _, _, err := c.store.UpsertCRL(ctx, crl, upload.ID); err != nil {
		*entryErrors = append(*entryErrors, err)
		upload.ErrorCount++
	}
}

// ingestEmbeddedMasterList handles a Master List carried as an LDIF
// attribute value (§6 pkdMasterListContent) rather than as a standalone
// upload.
func (c *Coordinator) ingestEmbeddedMasterList(ctx context.Context, upload *model.UploadRecord, der []byte, entryErrors *[]error) {
	if err := c.ingestMasterListBytes(ctx, upload, der); err != nil {
		*entryErrors = append(*entryErrors, err)
		upload.ErrorCount++
	}
}

// tallyValidation folds one certificate's validation outcome into the
// upload's aggregated statistics (§3 UploadRecord counters).
func (c *Coordinator) tallyValidation(upload *model.UploadRecord, status model.ValidationStatus) {
	switch status {
	case model.ValidationValid:
		upload.ValidCount++
	case model.ValidationInvalid:
		upload.InvalidCount++
	case model.ValidationWarning:
		upload.WarningCount++
	case model.ValidationError:
		upload.ErrorCount++
	}
}

// IngestMasterList runs the §4.7 state machine over a standalone Master
// List upload: the whole file is one CMS envelope, so a decode/signature
// failure fails the entire upload and writes zero rows, per the §8
// end-to-end scenario.
func (c *Coordinator) IngestMasterList(ctx context.Context, upload *model.UploadRecord, der []byte) error {
	if err := c.catalog.UpdateUploadStatus(ctx, upload.ID, model.UploadProcessing, ""); err != nil {
		return err
	}

	if err := c.ingestMasterListBytes(ctx, upload, der); err != nil {
		return c.fail(ctx, upload, err)
	}

	return c.complete(ctx, upload)
}

func (c *Coordinator) ingestMasterListBytes(ctx context.Context, upload *model.UploadRecord, der []byte) error {
	result, err := masterlist.Parse(der, c.anchors)
	if err != nil {
		return err
	}

	var entryErrors []error
	c.storeCertificate(ctx, upload, result.Signer.Raw, model.SourceMLParsed, "", true, nil, &entryErrors)
	for _, embedded := range result.EmbeddedCerts {
		c.storeCertificate(ctx, upload, embedded.Raw, model.SourceMLParsed, "", false, nil, &entryErrors)
	}
	upload.Errors = append(upload.Errors, errorStrings(entryErrors)...)
	upload.TotalEntries = len(result.EmbeddedCerts) + 1
	upload.ProcessedEntries = upload.TotalEntries
	return nil
}

// IngestDVL runs the §4.7 state machine over a standalone Deviation List
// upload (§3A): parsed like a Master List but recording deviations rather
// than minting certificate rows, aside from the DVL signer certificate
// itself.
func (c *Coordinator) IngestDVL(ctx context.Context, upload *model.UploadRecord, der []byte) error {
	if err := c.catalog.UpdateUploadStatus(ctx, upload.ID, model.UploadProcessing, ""); err != nil {
		return err
	}

	result, err := dvl.Parse(der, c.anchors)
	if err != nil {
		return c.fail(ctx, upload, err)
	}

	var entryErrors []error
	c.storeCertificate(ctx, upload, result.Signer.Raw, model.SourceDVLParsed, "", false, nil, &entryErrors)
	upload.Errors = append(upload.Errors, errorStrings(entryErrors)...)
	upload.TotalEntries = len(result.Deviations) + 1
	upload.ProcessedEntries = upload.TotalEntries

	c.log.Info().Int("deviations", len(result.Deviations)).Str("upload_id", upload.ID).Msg("deviation list ingested")

	return c.complete(ctx, upload)
}

// fail transitions the upload to FAILED, per §4.7: "On any uncaught
// error, status = FAILED and error_message is the top-level error's
// string; the partial data already committed is retained."
func (c *Coordinator) fail(ctx context.Context, upload *model.UploadRecord, err error) error {
	upload.ErrorMessage = err.Error()
	if uerr := c.catalog.UpdateUploadStatus(ctx, upload.ID, model.UploadFailed, err.Error()); uerr != nil {
		c.log.Error().Err(uerr).Str("upload_id", upload.ID).Msg("failed to record FAILED status")
	}
	upload.Status = model.UploadFailed
	return err
}

// complete transitions the upload to COMPLETED.
func (c *Coordinator) complete(ctx context.Context, upload *model.UploadRecord) error {
	if err := c.catalog.UpdateUploadStatus(ctx, upload.ID, model.UploadCompleted, ""); err != nil {
		return err
	}
	upload.Status = model.UploadCompleted
	return nil
}

func errorStrings(errs []error) []string {
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.Error())
	}
	return out
}

func countryFromDNHint(dnHint string) string {
	for _, part := range splitDN(dnHint) {
		if len(part) > 2 && (part[0] == 'c' || part[0] == 'C') && part[1] == '=' {
			return part[2:]
		}
	}
	return ""
}

func splitDN(dn string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(dn); i++ {
		if dn[i] == ',' {
			parts = append(parts, dn[start:i])
			start = i + 1
		}
	}
	parts = append(parts, dn[start:])
	return parts
}
