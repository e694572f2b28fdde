// Copyright 2020 Adam Chalkley
//
// https://github.com/atc0005/check-cert
//
// Licensed under the MIT License. See LICENSE file in the project root for
// full license information.

package dvl

import (
	"encoding/asn1"
	"testing"
)

func TestDecodeDeviations_Empty(t *testing.T) {
	der, err := asn1.Marshal(deviationContent{})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := decodeDeviations(der)
	if err != nil {
		t.Fatalf("decodeDeviations returned error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected 0 deviations, got %d", len(got))
	}
}

func TestDecodeDeviations_Entries(t *testing.T) {
	der, err := asn1.Marshal(deviationContent{
		Deviations: []deviationEntry{
			{CountryCode: "FR", Reason: "legacy SHA-1 CSCA retained for back-compat"},
			{CountryCode: "DE", Reason: "link certificate chain depth exceeds 1"},
		},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := decodeDeviations(der)
	if err != nil {
		t.Fatalf("decodeDeviations returned error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 deviations, got %d", len(got))
	}
	if got[0].CountryCode != "FR" || got[1].CountryCode != "DE" {
		t.Fatalf("unexpected country codes: %+v", got)
	}
}

func TestDecodeDeviations_MalformedContent(t *testing.T) {
	if _, err := decodeDeviations([]byte("not-der-at-all")); err == nil {
		t.Fatalf("expected error decoding malformed content")
	}
}
