// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-tpmsecret.
//
// go-tpmsecret is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package securedvalue

import (
	"fmt"
	"time"
)

// Status is a point-in-time report on a SecuredValue.
type Status struct {
	ID             string        `json:"id"`
	Name           string        `json:"name,omitempty"`
	Encrypted      bool          `json:"encrypted"`
	EncryptedSince time.Time     `json:"encrypted_since,omitempty"`
	NextEncryption time.Time     `json:"next_encryption,omitempty"`
	EncryptTimeout time.Duration `json:"encrypt_timeout"`
	RecryptTimeout time.Duration `json:"recrypt_timeout"`
	LastAccess     time.Time     `json:"last_access"`
	AccessCount    int64         `json:"access_count"`
	HardwareBound  bool          `json:"hardware_bound"`
}

// Entry is one labelled line of a status report.
type Entry struct {
	Name  string
	Value string
}

// Status reports the value's current state.
func (sv *SecuredValue) Status() Status {
	sv.lock()
	defer sv.gate.Leave()

	st := Status{
		ID:             sv.id,
		Name:           sv.name,
		Encrypted:      sv.encrypted != nil,
		EncryptedSince: sv.encryptedSince,
		EncryptTimeout: sv.encryptTimeout,
		RecryptTimeout: sv.recryptTimeout,
		LastAccess:     sv.lastAccess,
		AccessCount:    sv.accessCount,
		HardwareBound:  sv.engine != nil,
	}
	if sv.raw != nil {
		st.NextEncryption = sv.encryptDeadline
	}
	return st
}

// Entries renders the status as ordered label/value pairs.
func (s Status) Entries() []Entry {
	since := "-"
	if s.Encrypted {
		since = s.EncryptedSince.Format(time.RFC3339Nano)
	}
	next := "-"
	if !s.NextEncryption.IsZero() {
		next = s.NextEncryption.Format(time.RFC3339Nano)
	}
	return []Entry{
		{"ID", s.ID},
		{"Name", s.Name},
		{"Encrypted", fmt.Sprintf("%t (since %s)", s.Encrypted, since)},
		{"Encryption", next},
		{"Timeout", s.EncryptTimeout.String()},
		{"Re-crypt", s.RecryptTimeout.String()},
		{"Access time", s.LastAccess.Format(time.RFC3339Nano)},
		{"Access count", fmt.Sprint(s.AccessCount)},
		{"Hardware", fmt.Sprint(s.HardwareBound)},
	}
}

// Snapshot reports every open value.
func Snapshot() []Status {
	values := Values()
	out := make([]Status, 0, len(values))
	for _, sv := range values {
		out = append(out, sv.Status())
	}
	return out
}
