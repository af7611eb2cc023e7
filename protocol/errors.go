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

import "errors"

// Authentication-semantic failures; these recover locally into a terminal
// Invalid result and are never fatal to the process. The distinct causes
// are logged but collapse to a generic detail on the wire so the
// counterparty cannot use the verifier as an oracle.
var (
	// ErrAuthorizationDenied indicates the trust policy rejected the join
	// request; a policy decision, not a system fault
	ErrAuthorizationDenied = errors.New("authorization denied")

	// ErrChallengeNotFound indicates no active challenge record matched
	// the submitted nonce and binding; stale, forged or expired
	ErrChallengeNotFound = errors.New("challenge not found")

	// ErrChallengeReplay indicates the matched challenge record was
	// already consumed; a second redemption attempt
	ErrChallengeReplay = errors.New("challenge replay detected")

	// ErrChallengeExpired indicates the matched challenge record exceeded
	// the configured time bound before it was consumed
	ErrChallengeExpired = errors.New("challenge expired")

	// ErrProofInvalid indicates the proof engine rejected the submitted proof
	ErrProofInvalid = errors.New("proof verification failed")

	// ErrPredicateUnsatisfied indicates proof generation failed because the
	// private material does not satisfy the circuit predicate; the prover
	// terminates Invalid without submitting anything
	ErrPredicateUnsatisfied = errors.New("witness does not satisfy predicate")
)

// Infrastructure failures; these are fatal to the session and must never
// silently downgrade into an authentication verdict.
var (
	// ErrChallengeCapacity indicates the challenge ledger has no free slot
	ErrChallengeCapacity = errors.New("challenge ledger capacity exceeded")

	// ErrProofEngine indicates the proof engine itself failed; not a verdict
	ErrProofEngine = errors.New("proof engine failure")

	// ErrMalformedMessage indicates a wire payload could not be decoded
	ErrMalformedMessage = errors.New("malformed message")
)
