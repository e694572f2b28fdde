// Copyright 2020 Adam Chalkley
//
// https://github.com/atc0005/check-cert
//
// Licensed under the MIT License. See LICENSE file in the project root for
// full license information.

package model

import (
	"testing"
	"time"
)

func TestCRL_IsCurrent(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	cases := []struct {
		name       string
		thisUpdate time.Time
		nextUpdate *time.Time
		at         time.Time
		want       bool
	}{
		{"within window", past, &future, now, true},
		{"before thisUpdate", future, nil, now, false},
		{"after nextUpdate", past, &past, now, false},
		{"no nextUpdate, after thisUpdate", past, nil, now, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := &CRL{ThisUpdate: tc.thisUpdate, NextUpdate: tc.nextUpdate}
			if got := c.IsCurrent(tc.at); got != tc.want {
				t.Fatalf("IsCurrent() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestCRL_Newer(t *testing.T) {
	older := &CRL{ThisUpdate: time.Unix(100, 0)}
	newer := &CRL{ThisUpdate: time.Unix(200, 0)}
	if !newer.Newer(older) {
		t.Fatalf("expected later ThisUpdate to be newer")
	}
	if older.Newer(newer) {
		t.Fatalf("expected earlier ThisUpdate not to be newer")
	}
	if !older.Newer(nil) {
		t.Fatalf("expected any CRL to be newer than nil")
	}
}

func TestCRL_Newer_TieBreaksOnCRLNumber(t *testing.T) {
	same := time.Unix(100, 0)
	low := int64(1)
	high := int64(2)
	a := &CRL{ThisUpdate: same, CRLNumber: &low}
	b := &CRL{ThisUpdate: same, CRLNumber: &high}
	if a.Newer(b) {
		t.Fatalf("expected lower crl_number not to win a ThisUpdate tie")
	}
	if !b.Newer(a) {
		t.Fatalf("expected higher crl_number to win a ThisUpdate tie")
	}
}

func TestCRL_Revoked(t *testing.T) {
	c := &CRL{RevokedSet: map[string]RevocationEntry{
		"1a": {RevocationDate: time.Now(), ReasonCode: 1},
	}}
	if _, ok := c.Revoked("1a"); !ok {
		t.Fatalf("expected serial 1a to be revoked")
	}
	if _, ok := c.Revoked("ff"); ok {
		t.Fatalf("expected serial ff not to be revoked")
	}
}
