// Copyright 2020 Adam Chalkley
//
// https://github.com/atc0005/check-cert
//
// Licensed under the MIT License. See LICENSE file in the project root for
// full license information.

package xcrypto

import (
	"crypto"
	"crypto/sha1" //nolint:gosec // required for legacy LDS hash algorithm support
	"crypto/sha256"
	"crypto/sha512"
	"encoding/asn1"
	"fmt"

	"github.com/icao-pkd/mirror/internal/apperr"
)

// Digest OIDs recognized for LDSSecurityObject hashAlgorithm and CMS
// DigestAlgorithmIdentifier values.
var (
	oidSHA1   = asn1.ObjectIdentifier{1, 3, 14, 3, 2, 26}
	oidSHA224 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 4}
	oidSHA256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
	oidSHA384 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 2}
	oidSHA512 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 3}
)

var oidToHash = map[string]crypto.Hash{
	oidSHA1.String():   crypto.SHA1,
	oidSHA224.String(): crypto.SHA224,
	oidSHA256.String(): crypto.SHA256,
	oidSHA384.String(): crypto.SHA384,
	oidSHA512.String(): crypto.SHA512,
}

// HashByOID resolves a digest algorithm OID string to a crypto.Hash,
// rejecting anything not in the mandatory set named by §4.1/§4.5.
func HashByOID(oid string) (crypto.Hash, error) {
	h, ok := oidToHash[oid]
	if !ok {
		return 0, fmt.Errorf("%w: digest OID %s", apperr.ErrUnsupportedAlgorithm, oid)
	}
	return h, nil
}

// Digest computes the digest of data under the named hash algorithm.
func Digest(h crypto.Hash, data []byte) ([]byte, error) {
	switch h {
	case crypto.SHA1:
		sum := sha1.Sum(data) //nolint:gosec // DG1 hash algorithm is dictated by the SOD, not chosen here
		return sum[:], nil
	case crypto.SHA224:
		sum := sha256.Sum224(data)
		return sum[:], nil
	case crypto.SHA256:
		sum := sha256.Sum256(data)
		return sum[:], nil
	case crypto.SHA384:
		sum := sha512.Sum384(data)
		return sum[:], nil
	case crypto.SHA512:
		sum := sha512.Sum512(data)
		return sum[:], nil
	default:
		return nil, fmt.Errorf("%w: crypto.Hash(%d)", apperr.ErrUnsupportedAlgorithm, h)
	}
}
