package utils

import (
	"strconv"
	"testing"
	"time"
)

func TestVerifySignature(t *testing.T) {
	now := time.Unix(1_800_000_000, 0)
	body := []byte(`{"capability":2}`)
	ts := strconv.FormatInt(now.Unix(), 10)
	sig := SignRequest("s3cret", "POST", "/api/v1/dispatch/workers/register", now.Unix(), body)

	if err := VerifySignature("s3cret", "POST", "/api/v1/dispatch/workers/register", ts, sig, body, now); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}

	cases := []struct {
		name   string
		secret string
		path   string
		ts     string
		body   []byte
		now    time.Time
	}{
		{name: "wrong secret", secret: "other", path: "/api/v1/dispatch/workers/register", ts: ts, body: body, now: now},
		{name: "tampered body", secret: "s3cret", path: "/api/v1/dispatch/workers/register", ts: ts, body: []byte(`{"capability":8}`), now: now},
		{name: "other path", secret: "s3cret", path: "/api/v1/dispatch/workers/x/claim", ts: ts, body: body, now: now},
		{name: "expired", secret: "s3cret", path: "/api/v1/dispatch/workers/register", ts: ts, body: body, now: now.Add(301 * time.Second)},
		{name: "bad timestamp", secret: "s3cret", path: "/api/v1/dispatch/workers/register", ts: "yesterday", body: body, now: now},
		{name: "missing timestamp", secret: "s3cret", path: "/api/v1/dispatch/workers/register", ts: "", body: body, now: now},
	}
	for _, tc := range cases {
		if err := VerifySignature(tc.secret, "POST", tc.path, tc.ts, sig, tc.body, tc.now); err == nil {
			t.Fatalf("%s: signature accepted", tc.name)
		}
	}
}

func TestHashBodySHA256Empty(t *testing.T) {
	if HashBodySHA256(nil) != EmptyBodyHash {
		t.Fatalf("empty body hash mismatch")
	}
	if HashBodySHA256([]byte{}) != HashBodySHA256(nil) {
		t.Fatalf("nil and empty bodies must hash the same")
	}
}
