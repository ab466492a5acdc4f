// SPDX-FileCopyrightText: 2026 Andrew Young
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package binkp implements the binkp mailer protocol as defined in FTS-1026,
// together with the CRAM authentication (FTS-1027), non-reliable resume
// (FTS-1028), PLZ compression (FTS-1029) and CRC integrity (FTS-1030)
// extensions.
//
// The wire unit is the Frame, a two-octet header followed by up to 32767
// payload octets. Command frames carry one of the eleven binkp commands
// (M_NUL .. M_SKIP), data frames carry raw file content.
//
// A Session drives exactly one Connection through the originator or answerer
// state machine and the shared file-transfer phase. Files come from a
// FileSource and go into a FileSink; both are satisfied by the spool package
// or by custom implementations.
package binkp
