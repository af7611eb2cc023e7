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
	"context"
	"errors"
	"fmt"
	"time"

	uuid "github.com/kthomas/go.uuid"

	"github.com/provideplatform/zkid/attest"
	"github.com/provideplatform/zkid/common"
	"github.com/provideplatform/zkid/relay"
)

// VerifierState enumerates the verifier's protocol states
type VerifierState int

const (
	VerifierStateInit VerifierState = iota
	VerifierStateAwaitingRequest
	VerifierStateAuthorizing
	VerifierStateChallengeIssued
	VerifierStateAwaitingProof
	VerifierStateVerifying
	VerifierStateCompleted
)

func (s VerifierState) String() string {
	switch s {
	case VerifierStateInit:
		return "init"
	case VerifierStateAwaitingRequest:
		return "awaiting_request"
	case VerifierStateAuthorizing:
		return "authorizing"
	case VerifierStateChallengeIssued:
		return "challenge_issued"
	case VerifierStateAwaitingProof:
		return "awaiting_proof"
	case VerifierStateVerifying:
		return "verifying"
	case VerifierStateCompleted:
		return "completed"
	}
	return "unknown"
}

// wire-visible result details; replay, stale nonce, expiry and a failed
// proof all collapse to the same detail so the counterparty cannot use the
// verifier as an oracle
const (
	detailNotAuthorized = "not authorized"
	detailProofFailed   = "proof failed"
)

// Verifier drives one authentication session on behalf of the principal
// holding the trust policy. Authorization strictly precedes challenge
// issuance and any proof-engine work, and exactly one Result is sent per
// completed session.
type Verifier struct {
	SessionID string

	trust  TrustStore
	ledger *ChallengeLedger
	engine ProofEngine

	transport relay.Relay
	timeout   time.Duration
	now       func() uint64

	state   VerifierState
	group   string
	outcome Outcome
	detail  string
	cause   error
}

// VerifierOption configures a verifier
type VerifierOption func(*Verifier)

// WithVerifierReceiveTimeout overrides the per-receive deadline
func WithVerifierReceiveTimeout(timeout time.Duration) VerifierOption {
	return func(v *Verifier) {
		v.timeout = timeout
	}
}

// WithVerifierClock overrides the verifier's view of the current time
func WithVerifierClock(now func() uint64) VerifierOption {
	return func(v *Verifier) {
		v.now = now
	}
}

// NewVerifier initializes a verifier over the given trust policy,
// challenge ledger and proof engine
func NewVerifier(trust TrustStore, ledger *ChallengeLedger, engine ProofEngine, transport relay.Relay, opts ...VerifierOption) *Verifier {
	sessionID, _ := uuid.NewV4()
	v := &Verifier{
		SessionID: sessionID.String(),
		trust:     trust,
		ledger:    ledger,
		engine:    engine,
		transport: transport,
		timeout:   common.EnvDurationOrDefault("ZKID_RECEIVE_TIMEOUT", DefaultReceiveTimeout),
		now:       func() uint64 { return uint64(time.Now().Unix()) },
		state:     VerifierStateInit,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// State returns the verifier's current protocol state
func (v *Verifier) State() VerifierState {
	return v.state
}

// Outcome returns the terminal outcome; valid only after the verifier has
// reached the completed state
func (v *Verifier) Outcome() (Outcome, string) {
	return v.outcome, v.detail
}

// Attest generates an attestation report binding this session's public
// outcome to the verifier; callable only after completion
func (v *Verifier) Attest() (*attest.Report, error) {
	if v.state != VerifierStateCompleted {
		return nil, fmt.Errorf("failed to attest session %s; state: %s", v.SessionID, v.state)
	}
	return attest.NewReport(v.SessionID, attest.RoleVerifier, v.group, v.outcome.String(), v.detail), nil
}

// Cause returns the internal failure cause of an Invalid outcome; it is
// never transmitted and exists so logs and diagnostics can distinguish
// what the wire-visible detail deliberately collapses
func (v *Verifier) Cause() error {
	return v.cause
}

// Run executes one session to completion. Authentication-semantic failures
// terminate with an Invalid result and a nil error; infrastructure
// failures (transport, malformed payload, ledger capacity, engine fault)
// abort with a non-nil error and, per the single-result rule, send nothing
// further on the wire.
func (v *Verifier) Run(ctx context.Context) (*Result, error) {
	v.state = VerifierStateAwaitingRequest
	payload, err := v.receive(ctx, relay.ChannelRequest)
	if err != nil {
		return nil, fmt.Errorf("failed to receive join request; %w", err)
	}
	request, err := UnmarshalJoinRequest(payload)
	if err != nil {
		return nil, err
	}
	v.group = request.Group

	v.state = VerifierStateAuthorizing
	binding, err := v.trust.Authorize(request)
	if err != nil {
		if errors.Is(err, ErrAuthorizationDenied) {
			common.Log.Debugf("verifier %s denied admission to group %s; %s", v.SessionID, request.Group, err.Error())
			return v.respond(ctx, OutcomeInvalid, detailNotAuthorized, err)
		}
		return nil, fmt.Errorf("failed to authorize join request; %s", err.Error())
	}

	challenge, err := v.ledger.Issue(binding.Value)
	if err != nil {
		return nil, fmt.Errorf("failed to issue challenge; %w", err)
	}
	if binding.TimeBound {
		challenge.IssuedAt = v.now()
	}

	payload, err = challenge.Marshal()
	if err != nil {
		return nil, err
	}
	if err := v.transport.Send(ctx, relay.ChannelChallenge, payload); err != nil {
		return nil, fmt.Errorf("failed to send challenge; %w", err)
	}
	v.state = VerifierStateChallengeIssued
	common.Log.Debugf("verifier %s issued challenge %d for group %s", v.SessionID, challenge.Nonce, request.Group)

	v.state = VerifierStateAwaitingProof
	payload, err = v.receive(ctx, relay.ChannelProof)
	if err != nil {
		return nil, fmt.Errorf("failed to receive proof; %w", err)
	}
	submission, err := UnmarshalProofSubmission(payload)
	if err != nil {
		return nil, err
	}

	v.state = VerifierStateVerifying
	if err := v.ledger.Consume(submission.Nonce, binding.Value); err != nil {
		switch {
		case errors.Is(err, ErrChallengeReplay):
			common.Log.Warningf("verifier %s detected challenge replay; nonce: %d", v.SessionID, submission.Nonce)
		case errors.Is(err, ErrChallengeExpired):
			common.Log.Warningf("verifier %s rejected expired challenge; nonce: %d", v.SessionID, submission.Nonce)
		case errors.Is(err, ErrChallengeNotFound):
			common.Log.Warningf("verifier %s rejected unknown challenge; nonce: %d", v.SessionID, submission.Nonce)
		default:
			return nil, err
		}
		return v.respond(ctx, OutcomeInvalid, detailProofFailed, err)
	}

	valid, err := v.verify(submission, binding, challenge)
	if err != nil {
		return nil, fmt.Errorf("%w; %s", ErrProofEngine, err.Error())
	}
	if !valid {
		common.Log.Debugf("verifier %s rejected proof for group %s", v.SessionID, request.Group)
		return v.respond(ctx, OutcomeInvalid, detailProofFailed, ErrProofInvalid)
	}

	common.Log.Debugf("verifier %s admitted principal to group %s", v.SessionID, request.Group)
	return v.respond(ctx, OutcomeValid, request.Group, nil)
}

func (v *Verifier) receive(ctx context.Context, channel relay.Channel) ([]byte, error) {
	receiveCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()
	return v.transport.Receive(receiveCtx, channel)
}

func (v *Verifier) verify(submission *ProofSubmission, binding *TrustBinding, challenge *Challenge) (bool, error) {
	if binding.Kind == BindingIssuer {
		return v.engine.VerifyCredentialProof(submission.Proof, binding.Value, challenge.IssuedAt, submission.Nonce)
	}
	return v.engine.VerifyMembershipProof(submission.Proof, binding.Value, submission.Nonce)
}

// respond transmits the session's single Result and records the outcome
func (v *Verifier) respond(ctx context.Context, outcome Outcome, detail string, cause error) (*Result, error) {
	result := &Result{
		Outcome: outcome,
		Detail:  detail,
	}
	payload, err := result.Marshal()
	if err != nil {
		return nil, err
	}
	if err := v.transport.Send(ctx, relay.ChannelResult, payload); err != nil {
		return nil, fmt.Errorf("failed to send result; %w", err)
	}

	v.state = VerifierStateCompleted
	v.outcome = outcome
	v.detail = detail
	v.cause = cause
	return result, nil
}
