// Copyright 2020 Adam Chalkley
//
// https://github.com/atc0005/check-cert
//
// Licensed under the MIT License. See LICENSE file in the project root for
// full license information.

package model

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"sort"
	"strings"
)

// attrTypeNames maps the well-known X.520/LDAP attribute OIDs to the
// lowercase short names used by RFC 4514 canonical form. Anything not in
// this table falls back to its dotted OID string, per RFC 4514 §2.3.
var attrTypeNames = map[string]string{
	"2.5.4.3":                    "cn",
	"2.5.4.6":                    "c",
	"2.5.4.7":                    "l",
	"2.5.4.8":                    "st",
	"2.5.4.10":                   "o",
	"2.5.4.11":                   "ou",
	"2.5.4.5":                    "serialnumber",
	"2.5.4.4":                    "sn",
	"2.5.4.42":                   "givenname",
	"0.9.2342.19200300.100.1.25": "dc",
	"0.9.2342.19200300.100.1.1":  "uid",
	"1.2.840.113549.1.9.1":       "emailaddress",
}

// CanonicalDN reduces a certificate subject/issuer Name to the RFC 4514
// form required by §3: lowercased attribute types, whitespace stripped
// around "=" and ",", RDN components ordered most-specific-first. Two DNs
// are considered equal for every lookup/index in this system iff their
// canonical forms are byte-identical.
func CanonicalDN(name pkix.Name) string {
	seq := name.ToRDNSequence()
	return canonicalizeRDNSequence(seq)
}

// CanonicalDNFromRaw canonicalizes a raw ASN.1-encoded RDNSequence, such
// as the issuer name in a CMS SignerInfo's IssuerAndSerialNumber.
func CanonicalDNFromRaw(raw []byte) (string, error) {
	var seq pkix.RDNSequence
	if _, err := asn1.Unmarshal(raw, &seq); err != nil {
		return "", err
	}
	return canonicalizeRDNSequence(seq), nil
}

// canonicalizeRDNSequence renders an RDNSequence using the rule in §3. Go's
// pkix.RDNSequence is ordered most-significant (country, typically) first;
// RFC 4514 string form is most-specific-first, so the sequence is reversed
// as it is rendered and multi-valued RDNs are sorted by attribute type for
// a stable byte-for-byte comparison.
func canonicalizeRDNSequence(seq pkix.RDNSequence) string {
	parts := make([]string, 0, len(seq))
	for i := len(seq) - 1; i >= 0; i-- {
		rdn := seq[i]
		if len(rdn) == 0 {
			continue
		}
		atvs := make([]string, 0, len(rdn))
		for _, atv := range rdn {
			typ := attrTypeName(atv.Type)
			val := normalizeAttrValue(atv.Value)
			atvs = append(atvs, typ+"="+val)
		}
		sort.Strings(atvs)
		parts = append(parts, strings.Join(atvs, "+"))
	}
	return strings.Join(parts, ",")
}

func attrTypeName(oid asn1.ObjectIdentifier) string {
	if name, ok := attrTypeNames[oid.String()]; ok {
		return name
	}
	return oid.String()
}

func normalizeAttrValue(v interface{}) string {
	s, ok := v.(string)
	if !ok {
		s = ""
	}
	s = strings.TrimSpace(s)
	return strings.ToLower(s)
}

// DNEqual reports whether two DNs are equal under the canonicalization
// rule in §3.
func DNEqual(a, b pkix.Name) bool {
	return CanonicalDN(a) == CanonicalDN(b)
}
