/*
 * Copyright 2017-2022 Provide Technologies Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package attest

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"time"
)

// Role identifies which principal produced a report
type Role string

const (
	RoleProver   Role = "prover"
	RoleVerifier Role = "verifier"
)

// Report binds a session's public outcome to the principal that produced
// it. It is generated only after the protocol reaches a terminal state and
// carries no private material; the digest covers every field so any
// post-hoc mutation is detectable.
type Report struct {
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Group     string    `json:"group"`
	Outcome   string    `json:"outcome"`
	Detail    string    `json:"detail"`
	IssuedAt  time.Time `json:"issued_at"`
	Digest    string    `json:"digest"`
}

// NewReport generates an attestation report for a completed session
func NewReport(sessionID string, role Role, group, outcome, detail string) *Report {
	report := &Report{
		SessionID: sessionID,
		Role:      role,
		Group:     group,
		Outcome:   outcome,
		Detail:    detail,
		IssuedAt:  time.Now().UTC(),
	}
	report.Digest = hex.EncodeToString(report.digest())
	return report
}

// Verify recomputes the digest and checks it against the recorded value
func (r *Report) Verify() error {
	if hex.EncodeToString(r.digest()) != r.Digest {
		return errors.New("attestation digest mismatch")
	}
	return nil
}

func (r *Report) digest() []byte {
	hash := sha256.New()
	for _, field := range []string{r.SessionID, string(r.Role), r.Group, r.Outcome, r.Detail} {
		var length [4]byte
		binary.BigEndian.PutUint32(length[:], uint32(len(field)))
		hash.Write(length[:])
		hash.Write([]byte(field))
	}
	var issuedAt [8]byte
	binary.BigEndian.PutUint64(issuedAt[:], uint64(r.IssuedAt.UnixNano()))
	hash.Write(issuedAt[:])
	return hash.Sum(nil)
}
