// Copyright 2020 Adam Chalkley
//
// https://github.com/atc0005/check-cert
//
// Licensed under the MIT License. See LICENSE file in the project root for
// full license information.

// Package mrz implements the ICAO 9303 Machine Readable Zone parser for
// DG1 (C3, §4.3): TD1 (3x30), TD2 (2x36) and TD3 (2x44) formats, with
// check-digit validation for document number, date of birth, expiry and
// the composite checksum.
package mrz

import (
	"fmt"
	"strings"
	"time"

	"github.com/icao-pkd/mirror/internal/apperr"
)

// Format identifies the MRZ document layout.
type Format string

// Recognized MRZ formats.
const (
	FormatTD1 Format = "TD1" // 3 lines x 30 chars
	FormatTD2 Format = "TD2" // 2 lines x 36 chars
	FormatTD3 Format = "TD3" // 2 lines x 44 chars (passport)
)

// Result is the decoded content of a DG1 MRZ, per §4.3.
type Result struct {
	Format           Format
	IssuingState     string
	DocumentNumber   string
	Nationality      string
	DateOfBirth      time.Time
	Sex              string
	DateOfExpiry     time.Time
	PersonalNumber   string
	CompositeValid   bool
	DocumentNumberOK bool
	DateOfBirthOK    bool
	DateOfExpiryOK   bool
}

// weights is the ICAO 9303 Appendix check-digit weighting sequence,
// repeating 7,3,1 over the field.
var weights = [3]int{7, 3, 1}

// Parse decodes the raw MRZ text (newline-joined lines, trailing
// whitespace tolerated) into a Result, selecting the format by line
// count/width per ICAO 9303 Part 5/6.
func Parse(raw string) (*Result, error) {
	lines := splitLines(raw)

	switch len(lines) {
	case 3:
		return parseTD1(lines)
	case 2:
		switch len(lines[0]) {
		case 44:
			return parseTD3(lines)
		case 36:
			return parseTD2(lines)
		default:
			return nil, fmt.Errorf("%w: unrecognized 2-line MRZ width %d", apperr.ErrMalformedMRZ, len(lines[0]))
		}
	default:
		return nil, fmt.Errorf("%w: unexpected MRZ line count %d", apperr.ErrMalformedMRZ, len(lines))
	}
}

func splitLines(raw string) []string {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	var out []string
	for _, l := range strings.Split(raw, "\n") {
		l = strings.TrimRight(l, " \t")
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}

// parseTD1 decodes a 3x30 ID-card format MRZ.
func parseTD1(lines []string) (*Result, error) {
	if len(lines[0]) < 30 || len(lines[1]) < 30 || len(lines[2]) < 30 {
		return nil, fmt.Errorf("%w: TD1 lines must be 30 characters", apperr.ErrMalformedMRZ)
	}
	l1, l2 := lines[0], lines[1]

	docNum := field(l1, 5, 14)
	docNumCD := l1[14]
	issuingState := field(l1, 2, 5)

	dob := field(l2, 0, 6)
	dobCD := l2[6]
	sex := field(l2, 7, 8)
	doe := field(l2, 8, 14)
	doeCD := l2[14]
	nationality := field(l2, 15, 18)

	composite := l1[5:30] + l2[0:7] + l2[8:15] + l2[18:29]
	compositeCD := l2[29]

	r := &Result{
		Format:           FormatTD1,
		IssuingState:     issuingState,
		DocumentNumber:   strings.TrimRight(docNum, "<"),
		Nationality:      nationality,
		Sex:              normalizeSex(sex),
		PersonalNumber:   strings.TrimRight(field(l2, 18, 29), "<"),
		DocumentNumberOK: checkDigit(docNum) == docNumCD,
		DateOfBirthOK:    checkDigit(dob) == dobCD,
		DateOfExpiryOK:   checkDigit(doe) == doeCD,
		CompositeValid:   checkDigit(composite) == compositeCD,
	}
	r.DateOfBirth, _ = parseYYMMDD(dob, true)
	r.DateOfExpiry, _ = parseYYMMDD(doe, false)
	return r, nil
}

// parseTD2 decodes a 2x36 format MRZ.
func parseTD2(lines []string) (*Result, error) {
	if len(lines[0]) < 36 || len(lines[1]) < 36 {
		return nil, fmt.Errorf("%w: TD2 lines must be 36 characters", apperr.ErrMalformedMRZ)
	}
	l1, l2 := lines[0], lines[1]

	issuingState := field(l1, 2, 5)
	docNum := field(l2, 0, 9)
	docNumCD := l2[9]
	nationality := field(l2, 10, 13)
	dob := field(l2, 13, 19)
	dobCD := l2[19]
	sex := field(l2, 20, 21)
	doe := field(l2, 21, 27)
	doeCD := l2[27]

	composite := l2[0:10] + l2[13:20] + l2[21:35]
	compositeCD := l2[35]

	r := &Result{
		Format:           FormatTD2,
		IssuingState:     issuingState,
		DocumentNumber:   strings.TrimRight(docNum, "<"),
		Nationality:      nationality,
		Sex:              normalizeSex(sex),
		DocumentNumberOK: checkDigit(docNum) == docNumCD,
		DateOfBirthOK:    checkDigit(dob) == dobCD,
		DateOfExpiryOK:   checkDigit(doe) == doeCD,
		CompositeValid:   checkDigit(composite) == compositeCD,
	}
	r.DateOfBirth, _ = parseYYMMDD(dob, true)
	r.DateOfExpiry, _ = parseYYMMDD(doe, false)
	return r, nil
}

// parseTD3 decodes a 2x44 passport-format MRZ.
func parseTD3(lines []string) (*Result, error) {
	if len(lines[0]) < 44 || len(lines[1]) < 44 {
		return nil, fmt.Errorf("%w: TD3 lines must be 44 characters", apperr.ErrMalformedMRZ)
	}
	l1, l2 := lines[0], lines[1]

	issuingState := field(l1, 2, 5)
	docNum := field(l2, 0, 9)
	docNumCD := l2[9]
	nationality := field(l2, 10, 13)
	dob := field(l2, 13, 19)
	dobCD := l2[19]
	sex := field(l2, 20, 21)
	doe := field(l2, 21, 27)
	doeCD := l2[27]
	personalNum := field(l2, 28, 42)
	personalNumCD := l2[42]

	composite := l2[0:10] + l2[13:20] + l2[21:43]
	compositeCD := l2[43]

	personalNumOK := checkDigit(personalNum) == personalNumCD || strings.Trim(personalNum, "<") == ""

	r := &Result{
		Format:           FormatTD3,
		IssuingState:     issuingState,
		DocumentNumber:   strings.TrimRight(docNum, "<"),
		Nationality:      nationality,
		Sex:              normalizeSex(sex),
		PersonalNumber:   strings.TrimRight(personalNum, "<"),
		DocumentNumberOK: checkDigit(docNum) == docNumCD,
		DateOfBirthOK:    checkDigit(dob) == dobCD,
		DateOfExpiryOK:   checkDigit(doe) == doeCD,
		CompositeValid:   checkDigit(composite) == compositeCD && personalNumOK,
	}
	r.DateOfBirth, _ = parseYYMMDD(dob, true)
	r.DateOfExpiry, _ = parseYYMMDD(doe, false)
	return r, nil
}

func field(line string, start, end int) string {
	if end > len(line) {
		end = len(line)
	}
	if start > len(line) {
		return ""
	}
	return line[start:end]
}

func normalizeSex(s string) string {
	switch strings.ToUpper(s) {
	case "M", "F":
		return strings.ToUpper(s)
	default:
		return "X"
	}
}

// charValue maps an MRZ character to its numeric value for check-digit
// computation per ICAO 9303: '0'-'9' -> 0-9, 'A'-'Z' -> 10-35, '<' -> 0.
func charValue(r byte) int {
	switch {
	case r >= '0' && r <= '9':
		return int(r - '0')
	case r >= 'A' && r <= 'Z':
		return int(r-'A') + 10
	default:
		return 0
	}
}

// checkDigit computes the ICAO 9303 check digit for field using the
// repeating 7-3-1 weighting, returning it as an ASCII digit.
func checkDigit(field string) byte {
	sum := 0
	for i := 0; i < len(field); i++ {
		sum += charValue(field[i]) * weights[i%3]
	}
	return byte('0' + sum%10)
}

// parseYYMMDD interprets a 6-digit MRZ date field. Birth dates pivot
// two-digit years > current year into the prior century; expiry dates
// never do (a passport cannot expire in the 1900s).
func parseYYMMDD(field string, isBirthDate bool) (time.Time, error) {
	if len(field) != 6 {
		return time.Time{}, fmt.Errorf("%w: date field must be 6 digits", apperr.ErrMalformedMRZ)
	}
	yy, mm, dd := field[0:2], field[2:4], field[4:6]
	t, err := time.Parse("060102", yy+mm+dd)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", apperr.ErrMalformedMRZ, err)
	}
	if isBirthDate && t.Year() > time.Now().Year() {
		t = t.AddDate(-100, 0, 0)
	}
	return t, nil
}
