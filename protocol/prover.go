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
	"github.com/provideplatform/zkid/credential"
	"github.com/provideplatform/zkid/relay"
)

// ProverState enumerates the prover's protocol states
type ProverState int

const (
	ProverStateInit ProverState = iota
	ProverStateIdentityDerived
	ProverStateRequested
	ProverStateChallengeReceived
	ProverStateProofGenerated
	ProverStateSubmitted
	ProverStateCompleted
)

func (s ProverState) String() string {
	switch s {
	case ProverStateInit:
		return "init"
	case ProverStateIdentityDerived:
		return "identity_derived"
	case ProverStateRequested:
		return "requested"
	case ProverStateChallengeReceived:
		return "challenge_received"
	case ProverStateProofGenerated:
		return "proof_generated"
	case ProverStateSubmitted:
		return "submitted"
	case ProverStateCompleted:
		return "completed"
	}
	return "unknown"
}

// DefaultReceiveTimeout bounds each blocking receive; an absent
// counterparty is a liveness fault, not an authentication verdict
const DefaultReceiveTimeout = time.Second * 30

// Prover drives the holder of a private credential through the
// authentication protocol. Only derived public material and
// zero-knowledge proofs ever cross the relay; the secret and the
// credential stay local.
type Prover struct {
	SessionID string
	Group     string

	secret []byte
	vc     *credential.VerifiableCredential

	publicID string

	transport relay.Relay
	engine    ProofEngine
	timeout   time.Duration

	state   ProverState
	outcome Outcome
	detail  string
}

// ProverOption configures a prover
type ProverOption func(*Prover)

// WithProverReceiveTimeout overrides the per-receive deadline
func WithProverReceiveTimeout(timeout time.Duration) ProverOption {
	return func(p *Prover) {
		p.timeout = timeout
	}
}

func newProver(group string, transport relay.Relay, engine ProofEngine, opts []ProverOption) *Prover {
	sessionID, _ := uuid.NewV4()
	p := &Prover{
		SessionID: sessionID.String(),
		Group:     group,
		transport: transport,
		engine:    engine,
		timeout:   common.EnvDurationOrDefault("ZKID_RECEIVE_TIMEOUT", DefaultReceiveTimeout),
		state:     ProverStateInit,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewMembershipProver initializes a prover that authenticates by proving
// knowledge of the secret behind an allow-listed public identity
func NewMembershipProver(secret []byte, group string, transport relay.Relay, engine ProofEngine, opts ...ProverOption) (*Prover, error) {
	if len(secret) == 0 {
		return nil, errors.New("failed to initialize prover; empty secret")
	}
	p := newProver(group, transport, engine, opts)
	p.secret = secret
	return p, nil
}

// NewCredentialProver initializes a prover that authenticates by proving
// possession of a verifiable credential from a trusted issuer
func NewCredentialProver(vc *credential.VerifiableCredential, group string, transport relay.Relay, engine ProofEngine, opts ...ProverOption) (*Prover, error) {
	if vc == nil {
		return nil, errors.New("failed to initialize prover; nil credential")
	}
	p := newProver(group, transport, engine, opts)
	p.vc = vc
	return p, nil
}

// State returns the prover's current protocol state
func (p *Prover) State() ProverState {
	return p.state
}

// Outcome returns the terminal outcome; valid only after the prover has
// reached the completed state
func (p *Prover) Outcome() (Outcome, string) {
	return p.outcome, p.detail
}

// Attest generates an attestation report binding this session's public
// outcome to the prover; callable only after completion
func (p *Prover) Attest() (*attest.Report, error) {
	if p.state != ProverStateCompleted {
		return nil, fmt.Errorf("failed to attest session %s; state: %s", p.SessionID, p.state)
	}
	return attest.NewReport(p.SessionID, attest.RoleProver, p.Group, p.outcome.String(), p.detail), nil
}

type inbound struct {
	payload []byte
	err     error
}

// Run executes the protocol to completion. Authentication-semantic
// failures (denial, binding mismatch, rejected proof) complete the session
// with an Invalid result and a nil error; infrastructure failures (engine
// fault, transport fault, timeout) abort with a non-nil error and no
// synthesized result.
func (p *Prover) Run(ctx context.Context) (*Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	identity, err := p.deriveIdentity()
	if err != nil {
		return nil, err
	}
	p.state = ProverStateIdentityDerived

	request := &JoinRequest{
		Identity: identity,
		Group:    p.Group,
	}
	payload, err := request.Marshal()
	if err != nil {
		return nil, err
	}
	if err := p.transport.Send(ctx, relay.ChannelRequest, payload); err != nil {
		return nil, fmt.Errorf("failed to send join request; %w", err)
	}
	p.state = ProverStateRequested
	common.Log.Debugf("prover %s requested admission to group %s", p.SessionID, p.Group)

	// the result receive stays pending for the life of the session; an
	// early result is an authorization denial, a late one is the verdict
	results := make(chan *inbound, 1)
	go func() {
		payload, err := p.transport.Receive(ctx, relay.ChannelResult)
		results <- &inbound{payload: payload, err: err}
	}()

	challenges := make(chan *inbound, 1)
	go func() {
		challengeCtx, challengeCancel := context.WithTimeout(ctx, p.timeout)
		defer challengeCancel()
		payload, err := p.transport.Receive(challengeCtx, relay.ChannelChallenge)
		challenges <- &inbound{payload: payload, err: err}
	}()

	var challenge *Challenge
	select {
	case msg := <-results:
		if msg.err != nil {
			return nil, fmt.Errorf("failed to receive result; %w", msg.err)
		}
		return p.complete(msg.payload)
	case msg := <-challenges:
		if msg.err != nil {
			return nil, fmt.Errorf("failed to receive challenge; %w", msg.err)
		}
		challenge, err = UnmarshalChallenge(msg.payload)
		if err != nil {
			return nil, err
		}
	}
	p.state = ProverStateChallengeReceived

	proof, proofErr := p.prove(challenge)
	if proofErr != nil {
		if errors.Is(proofErr, ErrPredicateUnsatisfied) {
			// local short-circuit; no proof is generated or submitted
			common.Log.Debugf("prover %s short-circuited; %s", p.SessionID, proofErr.Error())
			p.state = ProverStateCompleted
			p.outcome = OutcomeInvalid
			p.detail = "credential does not satisfy challenge"
			return &Result{Outcome: p.outcome, Detail: p.detail}, nil
		}
		return nil, proofErr
	}
	p.state = ProverStateProofGenerated

	submission := &ProofSubmission{
		Nonce: challenge.Nonce,
		Proof: proof,
	}
	payload, err = submission.Marshal()
	if err != nil {
		return nil, err
	}
	if err := p.transport.Send(ctx, relay.ChannelProof, payload); err != nil {
		return nil, fmt.Errorf("failed to submit proof; %w", err)
	}
	p.state = ProverStateSubmitted

	select {
	case msg := <-results:
		if msg.err != nil {
			return nil, fmt.Errorf("failed to receive result; %w", msg.err)
		}
		return p.complete(msg.payload)
	case <-time.After(p.timeout):
		return nil, fmt.Errorf("%w; no result within %s", relay.ErrTimeout, p.timeout)
	}
}

func (p *Prover) deriveIdentity() (string, error) {
	if p.secret != nil {
		publicID, err := p.engine.DerivePublicIdentity(p.secret)
		if err != nil {
			return "", fmt.Errorf("%w; failed to derive public identity; %s", ErrProofEngine, err.Error())
		}
		p.publicID = publicID
		return publicID, nil
	}

	// the credential variant discloses only the group; the identity field
	// rides empty and authorization is implicit in the issuer's signature
	return "", nil
}

// prove pre-validates the challenge binding against the local credential
// before any engine work, then generates the proof. A binding mismatch
// surfaces as ErrPredicateUnsatisfied so the caller can complete Invalid
// without invoking the engine on mismatched inputs.
func (p *Prover) prove(challenge *Challenge) ([]byte, error) {
	if p.secret != nil {
		if challenge.Binding != p.publicID {
			return nil, fmt.Errorf("%w; challenge bound to foreign identity", ErrPredicateUnsatisfied)
		}

		proof, err := p.engine.GenerateMembershipProof(p.secret, challenge.Binding, challenge.Nonce)
		if err != nil {
			if errors.Is(err, ErrPredicateUnsatisfied) {
				return nil, err
			}
			return nil, fmt.Errorf("%w; %s", ErrProofEngine, err.Error())
		}
		return proof, nil
	}

	if err := p.vc.CheckBinding(challenge.Binding, challenge.IssuedAt); err != nil {
		return nil, fmt.Errorf("%w; %s", ErrPredicateUnsatisfied, err.Error())
	}

	proof, err := p.engine.GenerateCredentialProof(p.vc, challenge.Binding, challenge.IssuedAt, challenge.Nonce)
	if err != nil {
		if errors.Is(err, ErrPredicateUnsatisfied) {
			return nil, err
		}
		return nil, fmt.Errorf("%w; %s", ErrProofEngine, err.Error())
	}
	return proof, nil
}

func (p *Prover) complete(payload []byte) (*Result, error) {
	result, err := UnmarshalResult(payload)
	if err != nil {
		return nil, err
	}

	p.state = ProverStateCompleted
	p.outcome = result.Outcome
	p.detail = result.Detail
	common.Log.Debugf("prover %s completed; outcome: %s", p.SessionID, result.Outcome)
	return result, nil
}
