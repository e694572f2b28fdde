// Copyright 2020 Adam Chalkley
//
// https://github.com/atc0005/check-cert
//
// Licensed under the MIT License. See LICENSE file in the project root for
// full license information.

package mrz

import "testing"

// TestParse_TD3 uses the canonical ICAO 9303 Part 4 worked example (the
// fictitious "ERIKSSON, ANNA MARIA" passport).
func TestParse_TD3(t *testing.T) {
	raw := "P<UTOERIKSSON<<ANNA<MARIA<<<<<<<<<<<<<<<<<<<\n" +
		"L898902C36UTO7408122F1204159ZE184226B<<<<<10\n"

	r, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if r.Format != FormatTD3 {
		t.Fatalf("format = %v, want TD3", r.Format)
	}
	if r.DocumentNumber != "L898902C3" {
		t.Fatalf("document number = %q", r.DocumentNumber)
	}
	if !r.DocumentNumberOK {
		t.Fatalf("expected document number check digit to validate")
	}
	if !r.DateOfBirthOK {
		t.Fatalf("expected date of birth check digit to validate")
	}
	if !r.DateOfExpiryOK {
		t.Fatalf("expected date of expiry check digit to validate")
	}
	if !r.CompositeValid {
		t.Fatalf("expected composite check digit to validate")
	}
	if r.Nationality != "UTO" {
		t.Fatalf("nationality = %q", r.Nationality)
	}
	if r.Sex != "F" {
		t.Fatalf("sex = %q", r.Sex)
	}
}

func TestParse_TD3_CorruptedCheckDigitFails(t *testing.T) {
	raw := "P<UTOERIKSSON<<ANNA<MARIA<<<<<<<<<<<<<<<<<<<\n" +
		"L898902C36UTO7408122F1204159ZE184226B<<<<<11\n"

	r, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if r.CompositeValid {
		t.Fatalf("expected composite check digit to fail with corrupted input")
	}
}

func TestParse_UnrecognizedLineCount(t *testing.T) {
	if _, err := Parse("one line only"); err == nil {
		t.Fatalf("expected error for unrecognized MRZ shape")
	}
}
