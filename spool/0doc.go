// SPDX-FileCopyrightText: 2026 Andrew Young
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package spool provides directory-backed file queues for binkp sessions: an
// outbound spool offering queued files to a session's source side and an
// inbound spool storing received files, with ".part" partials supporting
// resumed transfers.
package spool
