// Copyright 2020 Adam Chalkley
//
// https://github.com/atc0005/check-cert
//
// Licensed under the MIT License. See LICENSE file in the project root for
// full license information.

package model

import (
	"crypto/x509/pkix"
	"testing"
)

func TestCanonicalDN_OrderAndCase(t *testing.T) {
	a := pkix.Name{
		Country:      []string{"KR"},
		Organization: []string{"Government"},
		CommonName:   "CSCA-KR",
	}
	// Go's pkix.Name.ToRDNSequence produces C, O, CN most-significant-first;
	// canonical form reverses that to CN, O, C (most specific first).
	got := CanonicalDN(a)
	want := "cn=csca-kr,o=government,c=kr"
	if got != want {
		t.Fatalf("CanonicalDN() = %q, want %q", got, want)
	}
}

func TestCanonicalDN_WhitespaceInsensitive(t *testing.T) {
	a := pkix.Name{CommonName: "  Example  ", Country: []string{"us"}}
	b := pkix.Name{CommonName: "Example", Country: []string{"US"}}
	if !DNEqual(a, b) {
		t.Fatalf("expected DNs to be canonically equal: %q vs %q", CanonicalDN(a), CanonicalDN(b))
	}
}

func TestCountryFromCanonicalDN(t *testing.T) {
	cases := []struct {
		dn   string
		want string
	}{
		{"cn=foo,o=bar,c=kr", "KR"},
		{"cn=foo,o=bar", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := countryFromCanonicalDN(tc.dn); got != tc.want {
			t.Errorf("countryFromCanonicalDN(%q) = %q, want %q", tc.dn, got, tc.want)
		}
	}
}
