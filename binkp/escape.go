// SPDX-FileCopyrightText: 2026 Andrew Young
//
// SPDX-License-Identifier: GPL-3.0-or-later

package binkp

import (
	"fmt"
	"strings"
)

const hexDigits = "0123456789abcdef"

// needsEscape reports if an octet must be hex-escaped within a filename
// argument: everything that is not printable ASCII, plus space and backslash.
func needsEscape(c byte) bool {
	return c <= 0x20 || c >= 0x7F || c == '\\'
}

// EscapeFilename replaces every non-printable, space or backslash octet of
// name by a four-octet `\xHH` escape. Escapes are always sent with lowercase
// hex digits; UnescapeFilename accepts both cases.
func EscapeFilename(name string) string {
	var b strings.Builder
	b.Grow(len(name))

	for i := 0; i < len(name); i++ {
		c := name[i]
		if needsEscape(c) {
			b.WriteByte('\\')
			b.WriteByte('x')
			b.WriteByte(hexDigits[c>>4])
			b.WriteByte(hexDigits[c&0x0F])
		} else {
			b.WriteByte(c)
		}
	}

	return b.String()
}

// UnescapeFilename reverses EscapeFilename, accepting both hex digit cases.
// A truncated or malformed escape sequence fails with ErrInvalidCommand.
func UnescapeFilename(escaped string) (string, error) {
	var b strings.Builder
	b.Grow(len(escaped))

	for i := 0; i < len(escaped); i++ {
		c := escaped[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}

		if i+3 >= len(escaped) || escaped[i+1] != 'x' {
			return "", fmt.Errorf("%w: truncated escape sequence in %q", ErrInvalidCommand, escaped)
		}

		hi, hiOk := hexDigitValue(escaped[i+2])
		lo, loOk := hexDigitValue(escaped[i+3])
		if !hiOk || !loOk {
			return "", fmt.Errorf("%w: bad escape sequence %q", ErrInvalidCommand, escaped[i:i+4])
		}

		b.WriteByte(hi<<4 | lo)
		i += 3
	}

	return b.String(), nil
}

func hexDigitValue(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	default:
		return 0, false
	}
}
