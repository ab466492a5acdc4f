// SPDX-FileCopyrightText: 2026 Andrew Young
//
// SPDX-License-Identifier: GPL-3.0-or-later

package binkp

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/rand"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"
)

// CRAM challenge/response authentication, FTS-1027. The challenger sends a
// random challenge inside an M_NUL OPT line; the peer answers M_PWD with
// "CRAM-<ALG>-<hex digest>" where the digest is an HMAC keyed with the
// session password over the raw challenge octets.

// CramAlgorithm enumerates the supported digest algorithms.
type CramAlgorithm uint8

const (
	CramNone CramAlgorithm = iota
	CramMD5
	CramSHA1
)

const (
	cramOptionPrefix = "CRAM-"

	// Challenge sizes in raw octets, before hex encoding.
	minChallengeLen = 16
	maxChallengeLen = 64

	// maxCramAlgorithms bounds the advertised algorithm list.
	maxCramAlgorithms = 8
)

func (a CramAlgorithm) String() string {
	switch a {
	case CramMD5:
		return "MD5"
	case CramSHA1:
		return "SHA1"
	default:
		return "NONE"
	}
}

func cramAlgorithmFromName(name string) CramAlgorithm {
	switch strings.ToUpper(name) {
	case "MD5":
		return CramMD5
	case "SHA1":
		return CramSHA1
	default:
		return CramNone
	}
}

func (a CramAlgorithm) newHash() func() hash.Hash {
	switch a {
	case CramMD5:
		return md5.New
	case CramSHA1:
		return sha1.New
	default:
		return nil
	}
}

// strength orders algorithms for selection; higher is preferred.
func (a CramAlgorithm) strength() int {
	switch a {
	case CramSHA1:
		return 2
	case CramMD5:
		return 1
	default:
		return 0
	}
}

// CramContext holds one session's challenge state. The challenger generates
// the challenge, the peer accepts it; both derive the selected algorithm.
type CramContext struct {
	algorithms   []CramAlgorithm
	challenge    []byte
	challengeHex string
	generated    bool

	// Algorithm is the selected digest, CramNone before selection.
	Algorithm CramAlgorithm
}

// NewCramContext creates a context advertising the given algorithms in
// order. Without arguments, SHA1 and MD5 are advertised.
func NewCramContext(algorithms ...CramAlgorithm) *CramContext {
	if len(algorithms) == 0 {
		algorithms = []CramAlgorithm{CramSHA1, CramMD5}
	}
	if len(algorithms) > maxCramAlgorithms {
		algorithms = algorithms[:maxCramAlgorithms]
	}

	return &CramContext{algorithms: algorithms}
}

// GenerateChallenge fills the context with fresh random challenge octets
// from a cryptographically secure source and selects the strongest
// advertised algorithm.
func (c *CramContext) GenerateChallenge() error {
	challenge := make([]byte, 32)
	if _, err := rand.Read(challenge); err != nil {
		return fmt.Errorf("%w: challenge generation: %v", ErrAuthFailed, err)
	}

	c.challenge = challenge
	c.challengeHex = hex.EncodeToString(challenge)
	c.generated = true
	c.Algorithm = c.strongest(c.algorithms)

	return nil
}

// OptionString renders the challenge as the OPT token sent in M_NUL:
// "CRAM-<ALG>[/<ALG>...]-<hex challenge>".
func (c *CramContext) OptionString() string {
	names := make([]string, len(c.algorithms))
	for i, a := range c.algorithms {
		names[i] = a.String()
	}

	return cramOptionPrefix + strings.Join(names, "/") + "-" + c.challengeHex
}

// AcceptChallenge parses a peer's CRAM option token, storing the challenge
// and selecting the strongest mutually supported algorithm. No common
// algorithm is an authentication failure, never a silent downgrade.
func (c *CramContext) AcceptChallenge(option string) error {
	algorithms, challengeHex, err := splitCramToken(option)
	if err != nil {
		return err
	}

	var offered []CramAlgorithm
	for _, name := range strings.Split(algorithms, "/") {
		if len(offered) == maxCramAlgorithms {
			break
		}
		if a := cramAlgorithmFromName(name); a != CramNone {
			offered = append(offered, a)
		}
	}

	selected := c.strongest(offered)
	if selected == CramNone {
		return fmt.Errorf("%w: no common CRAM algorithm in %q", ErrAuthFailed, algorithms)
	}

	challenge, err := hex.DecodeString(challengeHex)
	if err != nil {
		return fmt.Errorf("%w: bad challenge encoding", ErrAuthFailed)
	}
	if len(challenge) < minChallengeLen || len(challenge) > maxChallengeLen {
		return fmt.Errorf("%w: challenge length %d outside [%d, %d]",
			ErrAuthFailed, len(challenge), minChallengeLen, maxChallengeLen)
	}

	c.challenge = challenge
	c.challengeHex = challengeHex
	c.Algorithm = selected

	return nil
}

// strongest picks the strongest of the offered algorithms that is also
// locally supported.
func (c *CramContext) strongest(offered []CramAlgorithm) CramAlgorithm {
	best := CramNone
	for _, o := range offered {
		if o.strength() <= best.strength() {
			continue
		}
		for _, l := range c.algorithms {
			if l == o {
				best = o
				break
			}
		}
	}

	return best
}

// CreateResponse computes "CRAM-<ALG>-<hex digest>" for the M_PWD argument:
// an HMAC keyed with the password over the raw challenge octets.
func (c *CramContext) CreateResponse(password string) (string, error) {
	if c.Algorithm == CramNone || len(c.challenge) == 0 {
		return "", fmt.Errorf("%w: no challenge to respond to", ErrAuthFailed)
	}

	mac := hmac.New(c.Algorithm.newHash(), []byte(password))
	mac.Write(c.challenge)

	return cramOptionPrefix + c.Algorithm.String() + "-" + hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifyResponse recomputes the expected digest and compares it against the
// peer's M_PWD argument in constant time.
func (c *CramContext) VerifyResponse(password, response string) error {
	if !c.generated {
		return fmt.Errorf("%w: no challenge was generated", ErrAuthFailed)
	}

	algorithms, digestHex, err := splitCramToken(response)
	if err != nil {
		return err
	}

	algorithm := cramAlgorithmFromName(algorithms)
	if algorithm == CramNone || !c.advertised(algorithm) {
		return fmt.Errorf("%w: response uses unadvertised algorithm %q", ErrAuthFailed, algorithms)
	}

	digest, err := hex.DecodeString(digestHex)
	if err != nil {
		return fmt.Errorf("%w: bad digest encoding", ErrAuthFailed)
	}

	mac := hmac.New(algorithm.newHash(), []byte(password))
	mac.Write(c.challenge)

	if !hmac.Equal(digest, mac.Sum(nil)) {
		return fmt.Errorf("%w: digest mismatch", ErrAuthFailed)
	}

	return nil
}

func (c *CramContext) advertised(a CramAlgorithm) bool {
	for _, l := range c.algorithms {
		if l == a {
			return true
		}
	}
	return false
}

// IsCramToken reports whether an OPT token or M_PWD argument is CRAM-shaped.
func IsCramToken(token string) bool {
	return strings.HasPrefix(token, cramOptionPrefix)
}

// splitCramToken splits "CRAM-<algorithms>-<hex>" into its two parts.
func splitCramToken(token string) (algorithms, hexPart string, err error) {
	if !strings.HasPrefix(token, cramOptionPrefix) {
		return "", "", fmt.Errorf("%w: not a CRAM token", ErrAuthFailed)
	}

	rest := token[len(cramOptionPrefix):]
	idx := strings.IndexByte(rest, '-')
	if idx <= 0 || idx == len(rest)-1 {
		return "", "", fmt.Errorf("%w: malformed CRAM token", ErrAuthFailed)
	}

	return rest[:idx], rest[idx+1:], nil
}

// secureCompare compares two strings in constant time, used for plaintext
// password fallback so verification time stays independent of the mismatch
// position.
func secureCompare(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}
