// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

// Package tracker is the client-side entry point for escalation incidents.
//
// A Tracker owns the incident store and wires it to a transport session: pushed
// states flow through the store's single writer, user transitions are checked by
// the policy engine and, when allowed, sent as ordered command sequences. Every
// dispatched transition leaves a Pending marker until a pushed state shows its
// outcome, which makes half-sent sequences visible after a connection loss.
package tracker
