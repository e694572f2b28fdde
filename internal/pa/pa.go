// Copyright 2020 Adam Chalkley
//
// https://github.com/atc0005/check-cert
//
// Licensed under the MIT License. See LICENSE file in the project root for
// full license information.

// Package pa implements the Passive Authentication engine (C6, §4.6): SOD
// unwrap, CMS verification against the embedded DSC, LDSSecurityObject
// decode, per-Data-Group hash recomputation, and chain/CRL resolution via
// C5. The engine is stateless beyond the store dependency; each call is
// independent.
package pa

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/icao-pkd/mirror/internal/apperr"
	"github.com/icao-pkd/mirror/internal/model"
	"github.com/icao-pkd/mirror/internal/validate"
	"github.com/icao-pkd/mirror/internal/xcrypto"
)

// dscLookup resolves a DSC by issuer/serial identity when a SOD's CMS
// certificate bag is empty, per §4.6 step 3's fallback path.
type dscLookup interface {
	FindIssuerCandidates(ctx context.Context, issuerDN string, skiHint []byte) ([]*model.Certificate, error)
}

// Engine runs the Passive Authentication pipeline.
type Engine struct {
	store   dscLookup
	anchors *x509.CertPool
	validator *validate.Engine
	log     zerolog.Logger
}

// NewEngine constructs a PA Engine. Chain trust is delegated to validator;
// store is consulted only when a SOD's CMS certificate bag carries no
// signer certificate.
func NewEngine(store dscLookup, validator *validate.Engine, log zerolog.Logger) *Engine {
	return &Engine{store: store, validator: validator, log: log.With().Str("component", "pa").Logger()}
}

// Request is the §4.6 input shape.
type Request struct {
	IssuingCountry string
	SODBytes       []byte
	DataGroups     map[int][]byte
	DocumentNumber string
	DOB            string
	Expiry         string
}

// Verify runs the full §4.6 pipeline and returns the assembled
// PAVerification.
func (e *Engine) Verify(ctx context.Context, req Request) *model.PAVerification {
	requestedAt := time.Now().UTC()
	result := &model.PAVerification{
		ID:             uuid.NewString(),
		IssuingCountry: req.IssuingCountry,
		DocumentNumber: req.DocumentNumber,
		DOB:            req.DOB,
		Expiry:         req.Expiry,
		SODBytes:       req.SODBytes,
		RequestedAt:    requestedAt,
		CRLStatus:      model.CRLNotChecked,
	}

	digest := sha256Of(req.SODBytes)
	result.SODDigest = digest

	sod, dsc, err := e.unwrapAndVerify(ctx, req.SODBytes)
	if err != nil {
		result.VerificationStatus = statusForPAError(err)
		result.ErrorMessage = err.Error()
		result.CompletedAt = time.Now().UTC()
		result.ProcessingTime = result.CompletedAt.Sub(requestedAt)
		return result
	}

	result.SODSignatureValid = true
	result.DSCFingerprintHex = dsc.FingerprintHex()
	result.DSCSubjectDN = dsc.SubjectDN

	dgResults, dgAllValid := compareDataGroups(sod.LDS, req.DataGroups)
	result.DataGroups = dgResults
	result.DGHashesValid = dgAllValid

	referenceTime := requestedAt
	if sod.SigningTime != nil {
		referenceTime = *sod.SigningTime
	}

	validation := e.validator.Validate(ctx, dsc, referenceTime, "")
	result.CSCAFingerprintHex = validation.FingerprintHex
	result.CSCASubjectDN = validation.CSCASubjectDN
	result.TrustChainValid = validation.TrustChainValid
	result.CRLStatus = validation.CRLStatus

	crlOK := validation.CRLStatus == model.CRLValid || validation.CRLStatus == model.CRLNotChecked ||
		validation.CRLStatus == model.CRLUnavailable || validation.CRLStatus == model.CRLExpired

	switch {
	case result.TrustChainValid && dgAllValid && crlOK:
		result.VerificationStatus = model.ValidationValid
	default:
		result.VerificationStatus = model.ValidationInvalid
		result.ErrorMessage = paFailureSummary(result.TrustChainValid, dgAllValid, crlOK, validation.ErrorMessage)
	}

	result.CompletedAt = time.Now().UTC()
	result.ProcessingTime = result.CompletedAt.Sub(requestedAt)
	return result
}

// unwrapAndVerify implements §4.6 steps 1-4: unwrap the optional 0x77 tag,
// decode the CMS envelope, resolve the DSC, and verify the CMS signature
// against it without validating its trust chain (chain validation is
// delegated to C5 afterward).
func (e *Engine) unwrapAndVerify(ctx context.Context, sodBytes []byte) (*model.SOD, *model.Certificate, error) {
	inner, err := xcrypto.UnwrapSOD(sodBytes)
	if err != nil {
		return nil, nil, err
	}

	cms, err := xcrypto.DecodeCMS(inner)
	if err != nil {
		return nil, nil, err
	}

	signerCert := cms.Signer()
	var dsc *model.Certificate
	if signerCert != nil {
		dsc, err = model.FromDER(signerCert.Raw, model.SourceSystemGen, "", false, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", apperr.ErrMalformedSod, err)
		}
	} else {
		dsc, err = e.resolveDSCFromStore(ctx, cms)
		if err != nil {
			return nil, nil, err
		}
		parsed, err := x509.ParseCertificate(dsc.DER)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", apperr.ErrMalformedCertificate, err)
		}
		cms.InjectSignerCertificate(parsed)
	}

	if err := cms.VerifySignatureOnly(); err != nil {
		return nil, nil, err
	}

	lds, err := xcrypto.DecodeLDSSecurityObject(cms.Content())
	if err != nil {
		return nil, nil, err
	}

	signingTime, _ := cms.SigningTime()

	sod := &model.SOD{
		LDS:         *lds,
		SignerDN:    dsc.SubjectDN,
		DSC:         dsc,
		SigningTime: signingTime,
		RawCMS:      inner,
	}
	return sod, dsc, nil
}

// resolveDSCFromStore implements the §4.6 step 3 fallback: when the CMS
// certificate bag is empty, look up the DSC by SignerInfo issuer/serial
// identity. Returns NoDscInSod if no match is found.
func (e *Engine) resolveDSCFromStore(ctx context.Context, cms *xcrypto.CMS) (*model.Certificate, error) {
	issuerDN, serialHex, ok := cms.SignerIdentity()
	if !ok {
		return nil, apperr.ErrNoDscInSod
	}

	candidates, err := e.store.FindIssuerCandidates(ctx, issuerDN, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrNoDscInSod, err)
	}
	for _, c := range candidates {
		if c.SerialNumberHex == serialHex {
			return c, nil
		}
	}
	return nil, apperr.ErrNoDscInSod
}

// compareDataGroups implements §4.6 steps 6/8: recompute and compare each
// present Data Group's hash against the SOD's expected value. A Data Group
// the caller did not supply is recorded MISSING (Present=false) rather than
// failed -- a SOD routinely lists DGs the caller never sent for comparison,
// and that absence must not by itself fail PA. Only a present DG whose
// recomputed hash disagrees with the SOD's expected value counts against
// the returned dg_hashes_valid verdict.
func compareDataGroups(lds model.LDSSecurityObject, dataGroups map[int][]byte) ([]model.DataGroupObservation, bool) {
	hasher, hashErr := xcrypto.HashByOID(lds.HashAlgorithmOID)

	observations := make([]model.DataGroupObservation, 0, len(lds.DataGroupHashValues))
	allValid := hashErr == nil

	for _, expected := range lds.DataGroupHashValues {
		actualBytes, present := dataGroups[expected.Number]
		obs := model.DataGroupObservation{
			Number:       expected.Number,
			ExpectedHash: expected.Hash,
			Present:      present,
		}
		if !present {
			// MISSING: excluded from the validity verdict, per §4.6 step 8.
			observations = append(observations, obs)
			continue
		}
		if hashErr != nil {
			allValid = false
			observations = append(observations, obs)
			continue
		}

		actual, err := xcrypto.Digest(hasher, actualBytes)
		if err != nil {
			allValid = false
			observations = append(observations, obs)
			continue
		}
		obs.ActualHash = actual
		obs.HashValid = bytes.Equal(actual, expected.Hash)
		if !obs.HashValid {
			allValid = false
		}
		observations = append(observations, obs)
	}

	return observations, allValid
}

func sha256Of(b []byte) [32]byte {
	return sha256.Sum256(b)
}

func statusForPAError(err error) model.ValidationStatus {
	switch {
	case errors.Is(err, apperr.ErrMalformedSod), errors.Is(err, apperr.ErrMalformedCMS), errors.Is(err, apperr.ErrMalformedCertificate):
		return model.ValidationError
	case errors.Is(err, apperr.ErrNoDscInSod), errors.Is(err, apperr.ErrBadSignature):
		return model.ValidationInvalid
	default:
		return model.ValidationError
	}
}

func paFailureSummary(chainValid, dgValid, crlOK bool, validationMsg string) string {
	switch {
	case !chainValid:
		return validationMsg
	case !dgValid:
		return "one or more data group hashes did not match the SOD"
	case !crlOK:
		return "revocation check failed"
	default:
		return ""
	}
}
