// Copyright 2020 Adam Chalkley
//
// https://github.com/atc0005/check-cert
//
// Licensed under the MIT License. See LICENSE file in the project root for
// full license information.

// Package ldif implements the LDIF streaming parser (C3, §4.3, RFC 2849):
// attribute-value continuation lines, base64 `::` binary values, and
// progress reporting every 100 entries. Malformed entries are accumulated
// into an errors list and skipped rather than aborting the whole file.
package ldif

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/icao-pkd/mirror/internal/apperr"
)

// Entry is one LDIF record: a DN and a multimap of attribute name to raw
// (possibly binary, base64-decoded) values.
type Entry struct {
	DN         string
	Attributes map[string][][]byte
}

// Get returns the first value for name, if any.
func (e Entry) Get(name string) ([]byte, bool) {
	vs := e.Attributes[name]
	if len(vs) == 0 {
		return nil, false
	}
	return vs[0], true
}

// All returns every value for name.
func (e Entry) All(name string) [][]byte {
	return e.Attributes[name]
}

// ProgressFunc is invoked every 100 entries (and once at completion) with
// the number of entries processed so far and the total entry count
// discovered in the stream, per §4.3.
type ProgressFunc func(processed, total int)

// progressInterval is the minimum reporting rate named by §4.3.
const progressInterval = 100

// Parse decodes every entry in an LDIF byte stream, invoking onEntry for
// each well-formed entry and accumulating malformed entries into the
// returned errors slice instead of aborting (§4.3). The full stream is
// buffered in memory once to establish the total entry count used for
// progress reporting; this is a one-time cost paid before decoding begins.
func Parse(r io.Reader, onEntry func(Entry), onProgress ProgressFunc) ([]error, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading LDIF stream: %w", err)
	}

	total := countEntries(data)

	var parseErrors []error
	processed := 0

	for _, block := range splitEntries(data) {
		if len(bytes.TrimSpace(block)) == 0 {
			continue
		}
		entry, err := parseEntry(block)
		if err != nil {
			parseErrors = append(parseErrors, fmt.Errorf("%w: %v", apperr.ErrMalformedLdif, err))
			continue
		}
		onEntry(entry)
		processed++
		if onProgress != nil && processed%progressInterval == 0 {
			onProgress(processed, total)
		}
	}

	if onProgress != nil {
		onProgress(processed, total)
	}

	return parseErrors, nil
}

// splitEntries divides the LDIF byte stream into blank-line-delimited
// entry blocks, per RFC 2849 (a blank line terminates an entry).
func splitEntries(data []byte) [][]byte {
	normalized := bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
	rawBlocks := bytes.Split(normalized, []byte("\n\n"))
	blocks := make([][]byte, 0, len(rawBlocks))
	for _, b := range rawBlocks {
		if len(bytes.TrimSpace(b)) > 0 {
			blocks = append(blocks, b)
		}
	}
	return blocks
}

func countEntries(data []byte) int {
	return len(splitEntries(data))
}

// parseEntry decodes one entry block, folding continuation lines (a line
// beginning with a single space continues the previous logical line) and
// skipping comment lines (beginning with '#').
func parseEntry(block []byte) (Entry, error) {
	lines := foldContinuations(block)

	entry := Entry{Attributes: make(map[string][][]byte)}
	dnSeen := false

	for _, line := range lines {
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		name, value, binary, err := splitAttrLine(line)
		if err != nil {
			return Entry{}, err
		}

		if strings.EqualFold(name, "dn") {
			if dnSeen {
				return Entry{}, fmt.Errorf("duplicate dn line")
			}
			entry.DN = string(value)
			dnSeen = true
			continue
		}

		if binary && !strings.HasSuffix(name, ";binary") {
			name += ";binary"
		}
		entry.Attributes[name] = append(entry.Attributes[name], value)
	}

	if !dnSeen {
		return Entry{}, fmt.Errorf("entry missing dn")
	}

	return entry, nil
}

// splitAttrLine splits "name: value" or "name:: base64value" into name and
// decoded value bytes.
func splitAttrLine(line string) (name string, value []byte, binary bool, err error) {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return "", nil, false, fmt.Errorf("malformed attribute line: %q", line)
	}
	name = line[:idx]
	rest := line[idx+1:]

	if strings.HasPrefix(rest, ":") {
		// "name:: base64value"
		b64 := strings.TrimSpace(rest[1:])
		decoded, derr := base64.StdEncoding.DecodeString(b64)
		if derr != nil {
			return "", nil, false, fmt.Errorf("invalid base64 value for %q: %w", name, derr)
		}
		return name, decoded, true, nil
	}

	return name, []byte(strings.TrimSpace(rest)), false, nil
}

// foldContinuations joins continuation lines (a line starting with a
// single space is a continuation of the previous logical line) into one
// logical line per attribute.
func foldContinuations(block []byte) []string {
	scanner := bufio.NewScanner(bytes.NewReader(block))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var logical []string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, " ") && len(logical) > 0 {
			logical[len(logical)-1] += line[1:]
			continue
		}
		logical = append(logical, line)
	}
	return logical
}
