// SPDX-FileCopyrightText: 2026 Andrew Young
//
// SPDX-License-Identifier: GPL-3.0-or-later

package binkp

import (
	"errors"
	"strings"
	"testing"
)

// Fixed challenge for deterministic digests: the ASCII octets of
// "1234567890123456".
const testChallengeHex = "31323334353637383930313233343536"

func TestCramKnownDigests(t *testing.T) {
	tests := []struct {
		option   string
		response string
	}{
		{
			"CRAM-MD5-" + testChallengeHex,
			"CRAM-MD5-23ddf76358f28eca65275a0908bc6679",
		},
		{
			"CRAM-SHA1-" + testChallengeHex,
			"CRAM-SHA1-67c8cbdb58fcf43a52521620a60ee14e6f9f9777",
		},
	}

	for _, test := range tests {
		ctx := NewCramContext()
		if err := ctx.AcceptChallenge(test.option); err != nil {
			t.Fatalf("AcceptChallenge(%q) errored: %v", test.option, err)
		}

		response, err := ctx.CreateResponse("secret")
		if err != nil {
			t.Fatalf("CreateResponse errored: %v", err)
		}
		if response != test.response {
			t.Fatalf("CreateResponse = %q, expected %q", response, test.response)
		}
	}
}

func TestCramChallengeResponse(t *testing.T) {
	answerer := NewCramContext()
	if err := answerer.GenerateChallenge(); err != nil {
		t.Fatalf("GenerateChallenge errored: %v", err)
	}

	option := answerer.OptionString()
	if !strings.HasPrefix(option, "CRAM-SHA1/MD5-") {
		t.Fatalf("OptionString = %q, expected CRAM-SHA1/MD5 prefix", option)
	}

	originator := NewCramContext()
	if err := originator.AcceptChallenge(option); err != nil {
		t.Fatalf("AcceptChallenge errored: %v", err)
	}
	if originator.Algorithm != CramSHA1 {
		t.Fatalf("selected %v, expected the strongest mutual algorithm SHA1", originator.Algorithm)
	}

	response, err := originator.CreateResponse("secret")
	if err != nil {
		t.Fatalf("CreateResponse errored: %v", err)
	}

	if err := answerer.VerifyResponse("secret", response); err != nil {
		t.Fatalf("VerifyResponse errored: %v", err)
	}

	if err := answerer.VerifyResponse("wrong", response); !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("VerifyResponse with wrong password returned %v, expected ErrAuthFailed", err)
	}
}

func TestCramAlgorithmSelection(t *testing.T) {
	// An MD5-only challenger limits an SHA1-preferring peer to MD5.
	ctx := NewCramContext()
	if err := ctx.AcceptChallenge("CRAM-MD5-" + testChallengeHex); err != nil {
		t.Fatalf("AcceptChallenge errored: %v", err)
	}
	if ctx.Algorithm != CramMD5 {
		t.Fatalf("selected %v, expected MD5", ctx.Algorithm)
	}

	// No common algorithm is a failure, never a downgrade to plaintext.
	md5Only := NewCramContext(CramMD5)
	if err := md5Only.AcceptChallenge("CRAM-SHA1-" + testChallengeHex); !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("AcceptChallenge returned %v, expected ErrAuthFailed", err)
	}
}

func TestCramChallengeBounds(t *testing.T) {
	tests := []string{
		// 8 octets, below the minimum of 16.
		"CRAM-MD5-3132333435363738",
		// 65 octets, above the maximum of 64.
		"CRAM-MD5-" + strings.Repeat("41", 65),
		// Odd-length hex.
		"CRAM-MD5-313",
	}

	for _, option := range tests {
		ctx := NewCramContext()
		if err := ctx.AcceptChallenge(option); !errors.Is(err, ErrAuthFailed) {
			t.Fatalf("AcceptChallenge(%q) returned %v, expected ErrAuthFailed", option, err)
		}
	}
}

func TestCramMalformedTokens(t *testing.T) {
	tests := []string{
		"CRAM-",
		"CRAM-MD5",
		"CRAM--abc",
		"MD5-" + testChallengeHex,
	}

	for _, token := range tests {
		ctx := NewCramContext()
		if err := ctx.AcceptChallenge(token); !errors.Is(err, ErrAuthFailed) {
			t.Fatalf("AcceptChallenge(%q) returned %v, expected ErrAuthFailed", token, err)
		}
	}

	if IsCramToken("MD5-abc") {
		t.Fatal("IsCramToken accepted a token without the CRAM- prefix")
	}
	if !IsCramToken("CRAM-MD5-abc") {
		t.Fatal("IsCramToken rejected a CRAM token")
	}
}

func TestCramResponseWithoutChallenge(t *testing.T) {
	ctx := NewCramContext()

	if _, err := ctx.CreateResponse("secret"); !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("CreateResponse returned %v, expected ErrAuthFailed", err)
	}
	if err := ctx.VerifyResponse("secret", "CRAM-MD5-00"); !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("VerifyResponse returned %v, expected ErrAuthFailed", err)
	}
}
