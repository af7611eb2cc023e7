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
	"github.com/provideplatform/zkid/credential"
)

// ProofEngine abstracts the zero-knowledge backend behind the protocol
// state machines. Generate ops fail with ErrPredicateUnsatisfied when the
// private witness cannot satisfy the predicate; any other error is an
// engine fault. Verify ops separate the verdict from engine health: a
// well-formed proof that fails the predicate yields (false, nil), while a
// non-nil error always means the engine itself misbehaved and the session
// must abort rather than report Invalid.
type ProofEngine interface {
	// Init performs any one-time setup the backend requires before
	// proving or verifying
	Init() error

	// DerivePublicIdentity maps a private secret to the public identity
	// string a trust policy can be provisioned with
	DerivePublicIdentity(secret []byte) (string, error)

	// GenerateMembershipProof proves knowledge of the secret behind
	// publicID, bound to the challenge nonce
	GenerateMembershipProof(secret []byte, publicID string, nonce uint64) ([]byte, error)

	// VerifyMembershipProof checks a membership proof against the
	// expected public identity and challenge nonce
	VerifyMembershipProof(proof []byte, publicID string, nonce uint64) (bool, error)

	// GenerateCredentialProof proves possession of a credential signed by
	// the issuer key and valid at currentTime, bound to the challenge nonce
	GenerateCredentialProof(vc *credential.VerifiableCredential, issuerKey string, currentTime uint64, nonce uint64) ([]byte, error)

	// VerifyCredentialProof checks a credential proof against the trusted
	// issuer key, the verifier's clock reading and the challenge nonce
	VerifyCredentialProof(proof []byte, issuerKey string, currentTime uint64, nonce uint64) (bool, error)
}
