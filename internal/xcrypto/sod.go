// Copyright 2020 Adam Chalkley
//
// https://github.com/atc0005/check-cert
//
// Licensed under the MIT License. See LICENSE file in the project root for
// full license information.

package xcrypto

import (
	"encoding/asn1"
	"fmt"

	"github.com/icao-pkd/mirror/internal/apperr"
	"github.com/icao-pkd/mirror/internal/model"
)

// UnwrapSOD strips the optional outer ICAO Application[23] tag (0x77) a
// SOD may carry before its CMS SignedData, per §3/§4.6 step 1. A SOD
// without the tag is returned unchanged.
func UnwrapSOD(sodBytes []byte) ([]byte, error) {
	if len(sodBytes) == 0 {
		return nil, fmt.Errorf("%w: empty SOD", apperr.ErrMalformedSod)
	}
	if sodBytes[0] != 0x77 {
		return sodBytes, nil
	}

	var inner asn1.RawValue
	if _, err := asn1.Unmarshal(sodBytes, &inner); err != nil {
		return nil, fmt.Errorf("%w: outer application tag: %v", apperr.ErrMalformedSod, err)
	}
	return inner.Bytes, nil
}

// oidLDSSecurityObject identifies the LDSSecurityObject content type
// carried by a SOD's CMS SignedData, per §6.
var oidLDSSecurityObject = asn1.ObjectIdentifier{2, 23, 136, 1, 1, 1}

// ldsAlgorithmIdentifier mirrors pkix.AlgorithmIdentifier's shape for
// decoding the LDSSecurityObject's hashAlgorithm field.
type ldsAlgorithmIdentifier struct {
	Algorithm asn1.ObjectIdentifier
	Parameters asn1.RawValue `asn1:"optional"`
}

type ldsDataGroupHash struct {
	Number int
	Hash   []byte
}

// ldsSecurityObject mirrors the ASN.1 shape {version INTEGER,
// hashAlgorithm AlgorithmIdentifier, dataGroupHashValues SEQUENCE OF
// {dataGroupNumber INTEGER, dataGroupHashValue OCTET STRING}} per §3.
type ldsSecurityObject struct {
	Version             int
	HashAlgorithm       ldsAlgorithmIdentifier
	DataGroupHashValues []ldsDataGroupHash
}

// DecodeLDSSecurityObject ASN.1-decodes a SOD's encapsulated content per
// §3/§4.6 step 5, returning the model's canonical LDSSecurityObject shape.
func DecodeLDSSecurityObject(content []byte) (*model.LDSSecurityObject, error) {
	var lds ldsSecurityObject
	if _, err := asn1.Unmarshal(content, &lds); err != nil {
		return nil, fmt.Errorf("%w: LDSSecurityObject: %v", apperr.ErrMalformedSod, err)
	}

	hashes := make([]model.DataGroupHash, 0, len(lds.DataGroupHashValues))
	for _, dg := range lds.DataGroupHashValues {
		hashes = append(hashes, model.DataGroupHash{Number: dg.Number, Hash: dg.Hash})
	}

	return &model.LDSSecurityObject{
		Version:             lds.Version,
		HashAlgorithmOID:     lds.HashAlgorithm.Algorithm.String(),
		DataGroupHashValues:  hashes,
	}, nil
}
