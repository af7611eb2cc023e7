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

package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Wire payloads are fixed-size with null-padded string fields and
// big-endian integers, so the relay never has to frame or interpret them.
// Decoders reject short, long or oversize input with a typed error rather
// than truncating.
const (
	// IdentityFieldSize is the capacity of identity and binding fields;
	// 64 hex chars, i.e. a 32-byte public id or issuer key
	IdentityFieldSize = 64

	// GroupFieldSize is the capacity of group name fields
	GroupFieldSize = 32

	// ProofFieldSize is the capacity of the serialized proof field
	ProofFieldSize = 4096

	// DetailFieldSize is the capacity of the result detail field
	DetailFieldSize = 128

	joinRequestSize     = IdentityFieldSize + GroupFieldSize
	challengeSize       = 8 + IdentityFieldSize + 8
	proofSubmissionSize = 8 + 4 + ProofFieldSize
	resultSize          = 1 + DetailFieldSize
)

// Outcome is the terminal verdict of a session
type Outcome uint8

const (
	// OutcomeValid indicates the prover was admitted to the group
	OutcomeValid Outcome = 1

	// OutcomeInvalid indicates the prover was rejected
	OutcomeInvalid Outcome = 2
)

func (o Outcome) String() string {
	switch o {
	case OutcomeValid:
		return "valid"
	case OutcomeInvalid:
		return "invalid"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(o))
	}
}

// JoinRequest is the prover's request to enter a named group; Identity is
// empty in the credential variant, where the group name alone selects the
// trusted issuer
type JoinRequest struct {
	Identity string
	Group    string
}

// Challenge is the verifier's freshness token, bound to the authorized
// identity or issuer key
type Challenge struct {
	Nonce    uint64
	Binding  string
	IssuedAt uint64
}

// ProofSubmission is the prover's response to a challenge; the proof is an
// opaque engine-specific payload
type ProofSubmission struct {
	Nonce uint64
	Proof []byte
}

// Result is the single terminal verdict delivered to the prover
type Result struct {
	Outcome Outcome
	Detail  string
}

func packString(dst []byte, val string) error {
	if len(val) > len(dst) {
		return fmt.Errorf("%w; field value of %d bytes exceeds %d-byte capacity", ErrMalformedMessage, len(val), len(dst))
	}
	copy(dst, val)
	return nil
}

func unpackString(src []byte) string {
	if i := bytes.IndexByte(src, 0); i >= 0 {
		return string(src[:i])
	}
	return string(src)
}

// Marshal encodes the join request into its fixed 96-byte wire form
func (m *JoinRequest) Marshal() ([]byte, error) {
	buf := make([]byte, joinRequestSize)
	if err := packString(buf[:IdentityFieldSize], m.Identity); err != nil {
		return nil, err
	}
	if err := packString(buf[IdentityFieldSize:], m.Group); err != nil {
		return nil, err
	}
	return buf, nil
}

// UnmarshalJoinRequest decodes a join request, rejecting payloads of the
// wrong size
func UnmarshalJoinRequest(buf []byte) (*JoinRequest, error) {
	if len(buf) != joinRequestSize {
		return nil, fmt.Errorf("%w; join request payload of %d bytes, expected %d", ErrMalformedMessage, len(buf), joinRequestSize)
	}
	return &JoinRequest{
		Identity: unpackString(buf[:IdentityFieldSize]),
		Group:    unpackString(buf[IdentityFieldSize:]),
	}, nil
}

// Marshal encodes the challenge into its fixed 80-byte wire form
func (m *Challenge) Marshal() ([]byte, error) {
	buf := make([]byte, challengeSize)
	binary.BigEndian.PutUint64(buf[:8], m.Nonce)
	if err := packString(buf[8:8+IdentityFieldSize], m.Binding); err != nil {
		return nil, err
	}
	binary.BigEndian.PutUint64(buf[8+IdentityFieldSize:], m.IssuedAt)
	return buf, nil
}

// UnmarshalChallenge decodes a challenge payload
func UnmarshalChallenge(buf []byte) (*Challenge, error) {
	if len(buf) != challengeSize {
		return nil, fmt.Errorf("%w; challenge payload of %d bytes, expected %d", ErrMalformedMessage, len(buf), challengeSize)
	}
	return &Challenge{
		Nonce:    binary.BigEndian.Uint64(buf[:8]),
		Binding:  unpackString(buf[8 : 8+IdentityFieldSize]),
		IssuedAt: binary.BigEndian.Uint64(buf[8+IdentityFieldSize:]),
	}, nil
}

// Marshal encodes the proof submission; proofs larger than the field
// capacity are rejected, never truncated
func (m *ProofSubmission) Marshal() ([]byte, error) {
	if len(m.Proof) > ProofFieldSize {
		return nil, fmt.Errorf("%w; proof of %d bytes exceeds %d-byte capacity", ErrMalformedMessage, len(m.Proof), ProofFieldSize)
	}
	buf := make([]byte, proofSubmissionSize)
	binary.BigEndian.PutUint64(buf[:8], m.Nonce)
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(m.Proof)))
	copy(buf[12:], m.Proof)
	return buf, nil
}

// UnmarshalProofSubmission decodes a proof submission, validating the
// declared proof length against the field capacity
func UnmarshalProofSubmission(buf []byte) (*ProofSubmission, error) {
	if len(buf) != proofSubmissionSize {
		return nil, fmt.Errorf("%w; proof submission payload of %d bytes, expected %d", ErrMalformedMessage, len(buf), proofSubmissionSize)
	}
	proofLen := binary.BigEndian.Uint32(buf[8:12])
	if proofLen > ProofFieldSize {
		return nil, fmt.Errorf("%w; declared proof length %d exceeds %d-byte capacity", ErrMalformedMessage, proofLen, ProofFieldSize)
	}
	proof := make([]byte, proofLen)
	copy(proof, buf[12:12+proofLen])
	return &ProofSubmission{
		Nonce: binary.BigEndian.Uint64(buf[:8]),
		Proof: proof,
	}, nil
}

// Marshal encodes the result into its fixed 129-byte wire form
func (m *Result) Marshal() ([]byte, error) {
	buf := make([]byte, resultSize)
	buf[0] = uint8(m.Outcome)
	if err := packString(buf[1:], m.Detail); err != nil {
		return nil, err
	}
	return buf, nil
}

// UnmarshalResult decodes a result payload, rejecting unknown outcome codes
func UnmarshalResult(buf []byte) (*Result, error) {
	if len(buf) != resultSize {
		return nil, fmt.Errorf("%w; result payload of %d bytes, expected %d", ErrMalformedMessage, len(buf), resultSize)
	}
	outcome := Outcome(buf[0])
	if outcome != OutcomeValid && outcome != OutcomeInvalid {
		return nil, fmt.Errorf("%w; unknown outcome code %d", ErrMalformedMessage, buf[0])
	}
	return &Result{
		Outcome: outcome,
		Detail:  unpackString(buf[1:]),
	}, nil
}
