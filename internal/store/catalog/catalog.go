// Copyright 2020 Adam Chalkley
//
// https://github.com/atc0005/check-cert
//
// Licensed under the MIT License. See LICENSE file in the project root for
// full license information.

// Package catalog implements the relational tier of the trust-material
// store (C4, §4.4): the authoritative record of every certificate, CRL,
// upload, validation and PA result this system has ever observed. It is
// backed by MySQL via database/sql and github.com/go-sql-driver/mysql,
// mirroring the connection-pool-with-bounded-acquisition shape named in
// §5(a).
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/icao-pkd/mirror/internal/apperr"
	"github.com/icao-pkd/mirror/internal/model"
)

// Outcome is the result of an idempotent upsert, per §4.4.
type Outcome string

// Recognized upsert outcomes.
const (
	Inserted Outcome = "INSERTED"
	Duplicate Outcome = "DUPLICATE"
)

// Catalog is the relational tier handle. All methods accept a context so
// the caller can bound the acquisition timeout named in §5(a).
type Catalog struct {
	db  *sql.DB
	log zerolog.Logger
}

// Config carries the catalog connection parameters named in §6.
type Config struct {
	Host            string
	Port            int
	Name            string
	User            string
	Password        string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AcquireTimeout  time.Duration // default 5s, per §5(a)
}

// Open establishes the catalog connection pool.
func Open(cfg Config, log zerolog.Logger) (*Catalog, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=false",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrCatalogUnavailable, err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	timeout := cfg.AcquireTimeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrCatalogUnavailable, err)
	}

	return &Catalog{db: db, log: log.With().Str("component", "catalog").Logger()}, nil
}

// New wraps an already-opened *sql.DB, used by tests and by callers that
// manage the pool lifecycle themselves (e.g. sqlmock).
func New(db *sql.DB, log zerolog.Logger) *Catalog {
	return &Catalog{db: db, log: log.With().Str("component", "catalog").Logger()}
}

// Close releases the pool.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// Ping verifies connectivity to the catalog, for the §6 health endpoint.
func (c *Catalog) Ping(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrCatalogUnavailable, err)
	}
	return nil
}

// PoolStats exposes the connection pool counters the §6 health endpoint
// reports alongside connectivity.
func (c *Catalog) PoolStats() sql.DBStats {
	return c.db.Stats()
}

// UpsertCertificate implements the §4.4 contract: idempotent on
// fingerprint_sha256. Absent -> INSERT with first_upload_id = uploadID,
// duplicate_count = 0. Present -> increment duplicate_count, update
// last_seen_upload_id/last_seen_at, and record a DuplicateCertificate
// event row. The unique constraint on fingerprint_sha256 is what
// serializes concurrent upserts of the same fingerprint, per §5(c); this
// method additionally wraps the read-then-write in a transaction so the
// duplicate-count increment and the event-row insert are atomic together.
func (c *Catalog) UpsertCertificate(ctx context.Context, cert *model.Certificate, uploadID string) (Outcome, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrCatalogUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	fp := cert.FingerprintHex()

	var exists int
	row := tx.QueryRowContext(ctx, `SELECT 1 FROM certificate WHERE fingerprint_sha256 = ? FOR UPDATE`, fp)
	switch err := row.Scan(&exists); {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx, insertCertificateSQL,
			fp, cert.SerialNumberHex, cert.SubjectDN, cert.IssuerDN, cert.SubjectKeyID,
			cert.NotBefore, cert.NotAfter, string(cert.Type), cert.CountryCode, cert.DER,
			string(cert.SourceType), uploadID, uploadID, time.Now().UTC(),
			cert.PKDConformanceCode, cert.PKDConformanceText,
		); err != nil {
			if isUniqueViolation(err) {
				return "", fmt.Errorf("%w: %v", apperr.ErrUniqueViolation, err)
			}
			return "", fmt.Errorf("%w: %v", apperr.ErrCatalogUnavailable, err)
		}
		if err := tx.Commit(); err != nil {
			return "", fmt.Errorf("%w: %v", apperr.ErrCatalogUnavailable, err)
		}
		return Inserted, nil

	case err != nil:
		return "", fmt.Errorf("%w: %v", apperr.ErrCatalogUnavailable, err)

	default:
		if _, err := tx.ExecContext(ctx, `
			UPDATE certificate
			   SET duplicate_count = duplicate_count + 1,
			       last_seen_upload_id = ?, last_seen_at = ?
			 WHERE fingerprint_sha256 = ?`,
			uploadID, time.Now().UTC(), fp,
		); err != nil {
			return "", fmt.Errorf("%w: %v", apperr.ErrCatalogUnavailable, err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO duplicate_certificate
			  (id, fingerprint_sha256, observing_upload_id, certificate_type, country_code, subject_dn, observed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), fp, uploadID, string(cert.Type), cert.CountryCode, cert.SubjectDN, time.Now().UTC(),
		); err != nil {
			return "", fmt.Errorf("%w: %v", apperr.ErrCatalogUnavailable, err)
		}

		if err := tx.Commit(); err != nil {
			return "", fmt.Errorf("%w: %v", apperr.ErrCatalogUnavailable, err)
		}
		return Duplicate, nil
	}
}

const insertCertificateSQL = `
	INSERT INTO certificate
	  (fingerprint_sha256, serial_number_hex, subject_dn, issuer_dn, subject_key_id, not_before, not_after,
	   certificate_type, country_code, der, source_type, first_upload_id, last_seen_upload_id,
	   last_seen_at, pkd_conformance_code, pkd_conformance_text, duplicate_count)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`

// UpsertCRL implements the §4.4 contract: idempotent on the CRL DER's
// fingerprint. The "current" CRL for an issuer is whichever satisfies
// CRL.Newer — this method does not delete superseded rows, only tracks
// which one is current via max(this_update)/max(crl_number) at query
// time in FindCRLFor, per the selection rule.
func (c *Catalog) UpsertCRL(ctx context.Context, crl *model.CRL, uploadID string) (Outcome, error) {
	fp := fmt.Sprintf("%x", crl.FingerprintSHA256)

	var exists int
	row := c.db.QueryRowContext(ctx, `SELECT 1 FROM crl WHERE fingerprint_sha256 = ?`, fp)
	switch err := row.Scan(&exists); {
	case errors.Is(err, sql.ErrNoRows):
		var crlNumber sql.NullInt64
		if crl.CRLNumber != nil {
			crlNumber = sql.NullInt64{Int64: *crl.CRLNumber, Valid: true}
		}
		var nextUpdate sql.NullTime
		if crl.NextUpdate != nil {
			nextUpdate = sql.NullTime{Time: *crl.NextUpdate, Valid: true}
		}
		if _, err := c.db.ExecContext(ctx, `
			INSERT INTO crl (fingerprint_sha256, issuer_dn, country_code, this_update, next_update,
			                  crl_number, der, source_upload_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			fp, crl.IssuerDN, crl.CountryCode, crl.ThisUpdate, nextUpdate, crlNumber, crl.DER, uploadID,
		); err != nil {
			if isUniqueViolation(err) {
				return "", fmt.Errorf("%w: %v", apperr.ErrUniqueViolation, err)
			}
			return "", fmt.Errorf("%w: %v", apperr.ErrCatalogUnavailable, err)
		}
		return Inserted, nil
	case err != nil:
		return "", fmt.Errorf("%w: %v", apperr.ErrCatalogUnavailable, err)
	default:
		return Duplicate, nil
	}
}

// FindIssuerCandidates implements the §4.4 contract: certificates whose
// subject_dn canonically equals issuerDN, OR whose SKI equals skiHint
// (when non-empty). Used by the chain builder (C5), which applies its own
// AKI-match/validity/recency tie-breaking over the returned set.
func (c *Catalog) FindIssuerCandidates(ctx context.Context, issuerDN string, skiHint []byte) ([]*model.Certificate, error) {
	var rows *sql.Rows
	var err error
	if len(skiHint) > 0 {
		rows, err = c.db.QueryContext(ctx, `
			SELECT fingerprint_sha256, serial_number_hex, subject_dn, issuer_dn, subject_key_id, not_before, not_after,
			       certificate_type, country_code, der, source_type, first_upload_id, last_seen_upload_id,
			       last_seen_at, pkd_conformance_code, pkd_conformance_text, duplicate_count
			  FROM certificate
			 WHERE subject_dn = ? OR subject_key_id = ?`, issuerDN, skiHint)
	} else {
		rows, err = c.db.QueryContext(ctx, `
			SELECT fingerprint_sha256, serial_number_hex, subject_dn, issuer_dn, subject_key_id, not_before, not_after,
			       certificate_type, country_code, der, source_type, first_upload_id, last_seen_upload_id,
			       last_seen_at, pkd_conformance_code, pkd_conformance_text, duplicate_count
			  FROM certificate
			 WHERE subject_dn = ?`, issuerDN)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrCatalogUnavailable, err)
	}
	defer rows.Close()

	var out []*model.Certificate
	for rows.Next() {
		cert, err := scanCertificate(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", apperr.ErrCatalogUnavailable, err)
		}
		out = append(out, cert)
	}
	return out, rows.Err()
}

// ListCertificates returns every certificate row the catalog holds. Used
// by reconciliation (C8, §4.8) to enumerate the authoritative set for
// comparison against the directory tier's actual entries.
func (c *Catalog) ListCertificates(ctx context.Context) ([]*model.Certificate, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT fingerprint_sha256, serial_number_hex, subject_dn, issuer_dn, subject_key_id, not_before, not_after,
		       certificate_type, country_code, der, source_type, first_upload_id, last_seen_upload_id,
		       last_seen_at, pkd_conformance_code, pkd_conformance_text, duplicate_count
		  FROM certificate`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrCatalogUnavailable, err)
	}
	defer rows.Close()

	var out []*model.Certificate
	for rows.Next() {
		cert, err := scanCertificate(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", apperr.ErrCatalogUnavailable, err)
		}
		out = append(out, cert)
	}
	return out, rows.Err()
}

func scanCertificate(rows *sql.Rows) (*model.Certificate, error) {
	var (
		fpHex, serialHex, subjectDN, issuerDN, certType, country, sourceType string
		firstUploadID, lastUploadID                                         string
		notBefore, notAfter, lastSeenAt                                     time.Time
		der, subjectKeyID                                                   []byte
		conformanceCode, conformanceText                                    sql.NullString
		duplicateCount                                                      int
	)
	if err := rows.Scan(&fpHex, &serialHex, &subjectDN, &issuerDN, &subjectKeyID, &notBefore, &notAfter,
		&certType, &country, &der, &sourceType, &firstUploadID, &lastUploadID,
		&lastSeenAt, &conformanceCode, &conformanceText, &duplicateCount); err != nil {
		return nil, err
	}

	cert, err := model.FromDER(der, model.SourceType(sourceType), "", certType == string(model.CertTypeMLSC), nil)
	if err != nil {
		return nil, err
	}
	if len(cert.SubjectKeyID) == 0 {
		cert.SubjectKeyID = subjectKeyID
	}
	cert.Type = model.CertificateType(certType)
	cert.FirstUploadID = firstUploadID
	cert.LastSeenUploadID = lastUploadID
	cert.LastSeenAt = lastSeenAt
	cert.DuplicateCount = duplicateCount
	cert.PKDConformanceCode = conformanceCode.String
	cert.PKDConformanceText = conformanceText.String
	return cert, nil
}

// FindCRLFor implements the §4.4 selection rule: the current CRL for an
// issuer is the one with the max this_update, ties broken by max
// crl_number.
func (c *Catalog) FindCRLFor(ctx context.Context, issuerDN string) (*model.CRL, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT fingerprint_sha256, issuer_dn, country_code, this_update, next_update, crl_number, der
		  FROM crl
		 WHERE issuer_dn = ?
		 ORDER BY this_update DESC, crl_number DESC
		 LIMIT 1`, issuerDN)

	var (
		fpHex, dn, country string
		thisUpdate         time.Time
		nextUpdate         sql.NullTime
		crlNumber          sql.NullInt64
		der                []byte
	)
	switch err := row.Scan(&fpHex, &dn, &country, &thisUpdate, &nextUpdate, &crlNumber, &der); {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("%w: %v", apperr.ErrCatalogUnavailable, err)
	}

	return model.CRLFromDER(der, country)
}

// InsertUpload creates a new upload record in PENDING state.
func (c *Catalog) InsertUpload(ctx context.Context, u *model.UploadRecord) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO uploaded_file (id, file_name, size_bytes, sha256, format, status, processing_mode, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.FileName, u.SizeBytes, fmt.Sprintf("%x", u.SHA256), string(u.Format),
		string(u.Status), string(u.ProcessingMode), u.CreatedAt)
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrCatalogUnavailable, err)
	}
	return nil
}

// UpdateUploadStatus transitions an upload's lifecycle state, per the
// one-way PENDING -> PROCESSING -> {COMPLETED, FAILED} state machine
// (§4.7).
func (c *Catalog) UpdateUploadStatus(ctx context.Context, uploadID string, status model.UploadStatus, errMsg string) error {
	res, err := c.db.ExecContext(ctx, `
		UPDATE uploaded_file SET status = ?, error_message = ?,
		       started_at = IF(status = 'PENDING' AND ? = 'PROCESSING', ?, started_at),
		       completed_at = IF(? IN ('COMPLETED','FAILED'), ?, completed_at)
		 WHERE id = ?`,
		string(status), errMsg, string(status), time.Now().UTC(), string(status), time.Now().UTC(), uploadID)
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrCatalogUnavailable, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrUploadNotFound
	}
	return nil
}

// UpdateUploadProgress records a progress snapshot's counters, per §4.7.
func (c *Catalog) UpdateUploadProgress(ctx context.Context, snap model.ProgressSnapshot) error {
	_, err := c.db.ExecContext(ctx, `
		UPDATE uploaded_file
		   SET processed_entries = ?, total_entries = ?
		 WHERE id = ?`, snap.Processed, snap.Total, snap.UploadID)
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrCatalogUnavailable, err)
	}
	return nil
}

// InsertValidationResult records one per-(upload, certificate) validation
// outcome, per §4.5.
func (c *Catalog) InsertValidationResult(ctx context.Context, v *model.ValidationResult) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO validation_result
		  (upload_id, fingerprint_sha256, trust_chain_valid, csca_subject_dn, signature_verified,
		   is_expired, crl_checked, crl_revoked, crl_status, status, error_message, checked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.UploadID, v.FingerprintHex, v.TrustChainValid, v.CSCASubjectDN, v.SignatureVerified,
		v.IsExpired, v.CRLChecked, v.CRLRevoked, string(v.CRLStatus), string(v.Status), v.ErrorMessage, v.CheckedAt)
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrCatalogUnavailable, err)
	}
	return nil
}

// InsertPAVerification records a completed Passive Authentication result,
// along with its per-Data-Group observations, per §4.6.
func (c *Catalog) InsertPAVerification(ctx context.Context, p *model.PAVerification) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrCatalogUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO pa_verification
		  (id, issuing_country, document_number, dob, expiry, sod_digest,
		   dsc_fingerprint_sha256, dsc_subject_dn, csca_fingerprint_sha256, csca_subject_dn,
		   trust_chain_valid, sod_signature_valid, dg_hashes_valid, crl_status,
		   verification_status, error_message, processing_time_ms, requested_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.IssuingCountry, p.DocumentNumber, p.DOB, p.Expiry, fmt.Sprintf("%x", p.SODDigest),
		p.DSCFingerprintHex, p.DSCSubjectDN, p.CSCAFingerprintHex, p.CSCASubjectDN,
		p.TrustChainValid, p.SODSignatureValid, p.DGHashesValid, string(p.CRLStatus),
		string(p.VerificationStatus), p.ErrorMessage, p.ProcessingTime.Milliseconds(), p.RequestedAt, p.CompletedAt,
	); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrCatalogUnavailable, err)
	}

	for _, dg := range p.DataGroups {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO pa_data_group (pa_verification_id, dg_number, expected_hash, actual_hash, present, hash_valid)
			VALUES (?, ?, ?, ?, ?, ?)`,
			p.ID, dg.Number, dg.ExpectedHash, dg.ActualHash, dg.Present, dg.HashValid,
		); err != nil {
			return fmt.Errorf("%w: %v", apperr.ErrCatalogUnavailable, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrCatalogUnavailable, err)
	}
	return nil
}

// CountByType returns the catalog's per-certificate-type row counts, used
// by reconciliation (C8) to compare against the directory tier.
func (c *Catalog) CountByType(ctx context.Context) (model.TypeCounts, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT certificate_type, COUNT(*) FROM certificate GROUP BY certificate_type`)
	if err != nil {
		return model.TypeCounts{}, fmt.Errorf("%w: %v", apperr.ErrCatalogUnavailable, err)
	}
	defer rows.Close()

	var tc model.TypeCounts
	for rows.Next() {
		var certType string
		var n int
		if err := rows.Scan(&certType, &n); err != nil {
			return model.TypeCounts{}, fmt.Errorf("%w: %v", apperr.ErrCatalogUnavailable, err)
		}
		for i := 0; i < n; i++ {
			tc.Add(model.CertificateType(certType))
		}
	}
	return tc, rows.Err()
}

// RecordSyncStatus persists the current auto-reconcile scheduler state
// (§3A sync_status).
func (c *Catalog) RecordSyncStatus(ctx context.Context, lastRunAt time.Time, lastResult string, nextRunAt time.Time, running bool) error {
	_, err := c.db.ExecContext(ctx, `
		REPLACE INTO sync_status (id, last_run_at, last_result, next_run_at, running)
		VALUES (1, ?, ?, ?, ?)`, lastRunAt, lastResult, nextRunAt, running)
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrCatalogUnavailable, err)
	}
	return nil
}

// RecordVersionCheck persists one ICAO portal version manifest check
// (§3A icao_version_history).
func (c *Catalog) RecordVersionCheck(ctx context.Context, checkedAt time.Time, remoteVersion, localVersion string, changed bool) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO icao_version_history (checked_at, remote_version, local_version, changed)
		VALUES (?, ?, ?, ?)`, checkedAt, remoteVersion, localVersion, changed)
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrCatalogUnavailable, err)
	}
	return nil
}

// LatestVersionCheck returns the most recently observed remote_version from
// icao_version_history, or "" if no check has ever been recorded.
func (c *Catalog) LatestVersionCheck(ctx context.Context) (string, error) {
	var remoteVersion string
	err := c.db.QueryRowContext(ctx, `
		SELECT remote_version FROM icao_version_history
		ORDER BY checked_at DESC LIMIT 1`).Scan(&remoteVersion)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", nil
	case err != nil:
		return "", fmt.Errorf("%w: %v", apperr.ErrCatalogUnavailable, err)
	default:
		return remoteVersion, nil
	}
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "Duplicate entry") || strings.Contains(msg, "1062")
}
