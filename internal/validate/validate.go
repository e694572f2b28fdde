// Copyright 2020 Adam Chalkley
//
// https://github.com/atc0005/check-cert
//
// Licensed under the MIT License. See LICENSE file in the project root for
// full license information.

// Package validate implements the validation engine (C5, §4.5): chain
// construction with tie-breaking, point-in-time validity, signature
// verification, revocation checking and the overall status rollup.
// Grounded on the teacher's certificate-chain validation result shape in
// internal/certs/validation-chain-order.go, adapted from a fixed
// peer-supplied chain to on-demand chain construction against the
// trust-material store.
package validate

import (
	"bytes"
	"context"
	"crypto/x509"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/icao-pkd/mirror/internal/apperr"
	"github.com/icao-pkd/mirror/internal/model"
	"github.com/icao-pkd/mirror/internal/xcrypto"
)

// maxChainDepth is the §4.5 "paths longer than 8 are rejected as cyclic"
// ceiling.
const maxChainDepth = 8

// issuerLookup is the subset of the store's catalog surface the chain
// builder needs; validate depends on this interface rather than the
// concrete store package so it can be tested against a fake.
type issuerLookup interface {
	FindIssuerCandidates(ctx context.Context, issuerDN string, skiHint []byte) ([]*model.Certificate, error)
	FindCRLFor(ctx context.Context, issuerDN string) (*model.CRL, error)
}

// Engine runs the validation pipeline against a trust-material store.
type Engine struct {
	store issuerLookup
	log   zerolog.Logger
}

// NewEngine constructs a validation Engine.
func NewEngine(store issuerLookup, log zerolog.Logger) *Engine {
	return &Engine{store: store, log: log.With().Str("component", "validate").Logger()}
}

// Validate runs the full §4.5 pipeline for leaf at referenceTime, and
// returns a ValidationResult shaped for the (uploadID, fingerprint) pair
// it was invoked for. uploadID may be empty for PA-driven calls (C6),
// which populate their own result shape instead.
func (e *Engine) Validate(ctx context.Context, leaf *model.Certificate, referenceTime time.Time, uploadID string) *model.ValidationResult {
	result := &model.ValidationResult{
		UploadID:       uploadID,
		FingerprintHex: leaf.FingerprintHex(),
		CheckedAt:      time.Now().UTC(),
		CRLStatus:      model.CRLNotChecked,
	}

	chain, err := e.buildChain(ctx, leaf, referenceTime)
	if err != nil {
		result.Status = statusForChainError(err)
		result.ErrorMessage = err.Error()
		return result
	}

	csca := chain[len(chain)-1]
	result.CSCASubjectDN = csca.SubjectDN

	sigOK, sigErr := e.verifyChainSignatures(chain)
	result.SignatureVerified = sigOK

	result.IsExpired = !withinValidity(leaf, referenceTime)

	crlStatus, crlRevoked, crlErr := e.checkRevocation(ctx, chain, referenceTime)
	result.CRLChecked = crlStatus != model.CRLNotChecked
	result.CRLRevoked = crlRevoked
	result.CRLStatus = crlStatus

	result.TrustChainValid = sigOK && !result.IsExpired && crlStatus != model.CRLRevoked

	switch {
	case sigErr != nil:
		result.Status = model.ValidationInvalid
		result.ErrorMessage = sigErr.Error()
	case result.IsExpired:
		result.Status = model.ValidationInvalid
		result.ErrorMessage = apperr.ErrExpired.Error()
	case crlStatus == model.CRLRevoked:
		result.Status = model.ValidationInvalid
		result.ErrorMessage = apperr.ErrRevoked.Error()
	case crlStatus == model.CRLInvalid:
		result.Status = model.ValidationInvalid
		result.ErrorMessage = crlErr.Error()
	case crlStatus == model.CRLUnavailable || crlStatus == model.CRLExpired:
		result.Status = model.ValidationWarning
	default:
		result.Status = model.ValidationValid
	}

	return result
}

// buildChain implements the §4.5 chain construction rule: repeatedly find
// an issuer candidate until a self-signed cert is reached or none exists,
// rejecting paths longer than maxChainDepth as ChainTooLong.
func (e *Engine) buildChain(ctx context.Context, leaf *model.Certificate, referenceTime time.Time) ([]*model.Certificate, error) {
	chain := []*model.Certificate{leaf}
	current := leaf

	for !current.IsSelfSigned {
		if len(chain) >= maxChainDepth {
			return nil, apperr.ErrChainTooLong
		}

		candidates, err := e.store.FindIssuerCandidates(ctx, current.IssuerDN, current.AuthorityKeyID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", apperr.ErrCscaNotFound, err)
		}
		if len(candidates) == 0 {
			return nil, apperr.ErrCscaNotFound
		}

		next := pickIssuer(candidates, current.AuthorityKeyID, referenceTime)
		chain = append(chain, next)
		current = next
	}

	return chain, nil
}

// pickIssuer applies the §4.5 tie-breaking rule: prefer AKI match over
// subject-only match; among those, prefer validity covering now; then
// most recently observed (last_seen_at).
func pickIssuer(candidates []*model.Certificate, akiHint []byte, now time.Time) *model.Certificate {
	best := candidates[0]

	for _, c := range candidates[1:] {
		if issuerBetter(c, best, akiHint, now) {
			best = c
		}
	}
	return best
}

// issuerBetter reports whether candidate should be preferred over best
// under the §4.5 tie-breaking precedence: AKI match, then validity at
// now, then last_seen_at.
func issuerBetter(candidate, best *model.Certificate, akiHint []byte, now time.Time) bool {
	candidateAKI := len(akiHint) > 0 && bytes.Equal(candidate.SubjectKeyID, akiHint)
	bestAKI := len(akiHint) > 0 && bytes.Equal(best.SubjectKeyID, akiHint)
	if candidateAKI != bestAKI {
		return candidateAKI
	}

	candidateValid := withinValidity(candidate, now)
	bestValid := withinValidity(best, now)
	if candidateValid != bestValid {
		return candidateValid
	}

	return candidate.LastSeenAt.After(best.LastSeenAt)
}

func withinValidity(c *model.Certificate, at time.Time) bool {
	return !at.Before(c.NotBefore) && !at.After(c.NotAfter)
}

func statusForChainError(err error) model.ValidationStatus {
	switch err {
	case apperr.ErrCscaNotFound, apperr.ErrChainTooLong:
		return model.ValidationInvalid
	default:
		return model.ValidationError
	}
}

// verifyChainSignatures verifies every edge of the chain via C1.
func (e *Engine) verifyChainSignatures(chain []*model.Certificate) (bool, error) {
	for i := 0; i < len(chain)-1; i++ {
		child, err := x509.ParseCertificate(chain[i].DER)
		if err != nil {
			return false, fmt.Errorf("%w: %v", apperr.ErrMalformedCertificate, err)
		}
		parent, err := x509.ParseCertificate(chain[i+1].DER)
		if err != nil {
			return false, fmt.Errorf("%w: %v", apperr.ErrMalformedCertificate, err)
		}
		if err := xcrypto.VerifyChainEdge(child, parent); err != nil {
			return false, err
		}
	}
	return true, nil
}

// checkRevocation implements the §4.5 revocation rule for every non-root
// certificate in the chain, returning the most severe status observed.
func (e *Engine) checkRevocation(ctx context.Context, chain []*model.Certificate, referenceTime time.Time) (model.CRLStatus, bool, error) {
	worst := model.CRLValid
	var worstErr error
	anyChecked := false

	for i := 0; i < len(chain)-1; i++ {
		cert := chain[i]
		issuer := chain[i+1]

		crl, err := e.store.FindCRLFor(ctx, issuer.SubjectDN)
		if err != nil {
			return model.CRLInvalid, false, fmt.Errorf("%w: %v", apperr.ErrCrlUnavailable, err)
		}

		if crl == nil {
			if len(cert.CRLDistributionPoints) > 0 {
				anyChecked = true
				worst = worsen(worst, model.CRLUnavailable)
				worstErr = apperr.ErrCrlUnavailable
			}
			continue
		}

		anyChecked = true

		if !crl.IsCurrent(referenceTime) {
			worst = worsen(worst, model.CRLExpired)
			worstErr = apperr.ErrCrlExpired
			continue
		}

		issuerParsed, err := x509.ParseCertificate(issuer.DER)
		if err != nil {
			return model.CRLInvalid, false, fmt.Errorf("%w: %v", apperr.ErrMalformedCertificate, err)
		}
		parsedCRL, err := x509.ParseRevocationList(crl.DER)
		if err != nil {
			worst = worsen(worst, model.CRLInvalid)
			worstErr = apperr.ErrCrlInvalid
			continue
		}
		if err := checkCRLSignature(parsedCRL, issuerParsed); err != nil {
			worst = worsen(worst, model.CRLInvalid)
			worstErr = apperr.ErrCrlInvalid
			continue
		}

		if _, revoked := crl.Revoked(cert.SerialNumberHex); revoked {
			return model.CRLRevoked, true, nil
		}
	}

	if !anyChecked {
		return model.CRLNotChecked, false, nil
	}
	return worst, false, worstErr
}

// worsen returns the more severe of two CRL statuses, ranked
// VALID < CRL_UNAVAILABLE < CRL_EXPIRED < CRL_INVALID < REVOKED.
func worsen(current, candidate model.CRLStatus) model.CRLStatus {
	rank := map[model.CRLStatus]int{
		model.CRLValid:       0,
		model.CRLUnavailable: 1,
		model.CRLExpired:     2,
		model.CRLInvalid:     3,
		model.CRLRevoked:     4,
	}
	if rank[candidate] > rank[current] {
		return candidate
	}
	return current
}

// checkCRLSignature verifies a CRL's signature against its issuing
// certificate, the same primitive VerifyChainEdge uses for certificate
// chain edges (§4.5).
func checkCRLSignature(crl *x509.RevocationList, issuer *x509.Certificate) error {
	if err := issuer.CheckSignature(crl.SignatureAlgorithm, crl.RawTBSRevocationList, crl.Signature); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrCrlInvalid, err)
	}
	return nil
}
