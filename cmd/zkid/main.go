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

package main

import (
	"context"
	"os"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/provideplatform/zkid/common"
	"github.com/provideplatform/zkid/credential"
	"github.com/provideplatform/zkid/protocol"
	"github.com/provideplatform/zkid/relay"
	"github.com/provideplatform/zkid/zkp/providers"
)

const (
	variantACL        = "acl"
	variantCredential = "vc"

	defaultGroup  = "GroupX"
	defaultSecret = "alice"

	// demo issuer seeds; reproducible keys for the demo registry only
	demoSeedHR         = 12345
	demoSeedGovernment = 67890
	demoSeedUniversity = 11111
)

func main() {
	variant := common.EnvOrDefault("ZKID_VARIANT", variantACL)
	common.Log.Debugf("starting zkid demo; variant: %s", variant)

	engine := providers.NewGnarkAuthProvider()
	if err := engine.Init(); err != nil {
		common.Log.Panicf("failed to initialize proof engine; %s", err.Error())
	}

	transport, cleanup := initRelay()
	defer cleanup()

	switch variant {
	case variantACL:
		runMembership(transport, engine)
	case variantCredential:
		runCredential(transport, engine)
	default:
		common.Log.Panicf("unknown variant: %s", variant)
	}
}

func initRelay() (relay.Relay, func()) {
	if natsURL := os.Getenv("ZKID_NATS_URL"); natsURL != "" {
		conn, err := nats.Connect(natsURL)
		if err != nil {
			common.Log.Panicf("failed to connect to NATS at %s; %s", natsURL, err.Error())
		}
		natsRelay, err := relay.NewNATSRelay(conn, common.RandomString(12))
		if err != nil {
			common.Log.Panicf("failed to initialize NATS relay; %s", err.Error())
		}
		return natsRelay, func() {
			natsRelay.Close()
			conn.Close()
		}
	}

	memoryRelay := relay.NewMemoryRelay(relay.DefaultChannelCapacity)
	return memoryRelay, memoryRelay.Close
}

func runMembership(transport relay.Relay, engine protocol.ProofEngine) {
	group := common.EnvOrDefault("ZKID_GROUP", defaultGroup)
	secret := []byte(common.EnvOrDefault("ZKID_PROVER_SECRET", defaultSecret))

	publicID, err := engine.DerivePublicIdentity(secret)
	if err != nil {
		common.Log.Panicf("failed to derive public identity; %s", err.Error())
	}

	var trust protocol.TrustStore
	if acl := os.Getenv("ZKID_TRUST_ACL"); acl != "" {
		trust, err = protocol.NewACLStoreFromEnv(acl)
		if err != nil {
			common.Log.Panicf("failed to parse trust policy; %s", err.Error())
		}
	} else {
		trust = protocol.NewACLStore(map[string][]string{
			group: {publicID},
		})
	}

	prover, err := protocol.NewMembershipProver(secret, group, transport, engine)
	if err != nil {
		common.Log.Panicf("failed to initialize prover; %s", err.Error())
	}

	runSession(prover, newVerifier(trust, engine, transport))
}

func runCredential(transport relay.Relay, engine protocol.ProofEngine) {
	group := common.EnvOrDefault("ZKID_GROUP", defaultGroup)
	holderID := common.EnvOrDefault("ZKID_PROVER_SECRET", defaultSecret)

	issuers := map[string]uint64{
		"GroupX": demoSeedHR,
		"GroupY": demoSeedGovernment,
		"GroupZ": demoSeedUniversity,
	}

	registry := make(map[string]string, len(issuers))
	var holderIssuer *credential.Issuer
	for issuerGroup, seed := range issuers {
		issuer, err := credential.NewDeterministicIssuer(issuerGroup, seed)
		if err != nil {
			common.Log.Panicf("failed to initialize issuer for %s; %s", issuerGroup, err.Error())
		}
		registry[issuerGroup] = issuer.PublicKeyHex()
		if issuerGroup == group {
			holderIssuer = issuer
		}
	}
	if holderIssuer == nil {
		common.Log.Panicf("no issuer configured for group %s", group)
	}

	now := uint64(time.Now().Unix())
	vc, err := holderIssuer.Issue(holderID, now-86400, now+86400*365)
	if err != nil {
		common.Log.Panicf("failed to issue credential; %s", err.Error())
	}

	prover, err := protocol.NewCredentialProver(vc, group, transport, engine)
	if err != nil {
		common.Log.Panicf("failed to initialize prover; %s", err.Error())
	}

	runSession(prover, newVerifier(protocol.NewIssuerRegistry(registry), engine, transport))
}

func newVerifier(trust protocol.TrustStore, engine protocol.ProofEngine, transport relay.Relay) *protocol.Verifier {
	capacity := common.EnvIntOrDefault("ZKID_CHALLENGE_CAPACITY", protocol.DefaultChallengeCapacity)
	opts := []protocol.LedgerOption{}
	if ttl := common.EnvDurationOrDefault("ZKID_CHALLENGE_TTL", 0); ttl > 0 {
		opts = append(opts, protocol.WithChallengeTTL(ttl))
	}
	ledger := protocol.NewChallengeLedger(capacity, protocol.NewSecureNonceSource(), opts...)
	return protocol.NewVerifier(trust, ledger, engine, transport)
}

func runSession(prover *protocol.Prover, verifier *protocol.Verifier) {
	ctx := context.Background()

	verdicts := make(chan error, 1)
	go func() {
		_, err := verifier.Run(ctx)
		verdicts <- err
	}()

	result, err := prover.Run(ctx)
	if err != nil {
		common.Log.Panicf("session failed; %s", err.Error())
	}
	if err := <-verdicts; err != nil {
		common.Log.Panicf("session failed; %s", err.Error())
	}

	common.Log.Debugf("session complete; outcome: %s; detail: %s", result.Outcome, result.Detail)

	proverReport, err := prover.Attest()
	if err != nil {
		common.Log.Warningf("failed to generate prover attestation; %s", err.Error())
	} else {
		common.Log.Debugf("prover attestation %s; digest: %s", proverReport.SessionID, proverReport.Digest)
	}

	verifierReport, err := verifier.Attest()
	if err != nil {
		common.Log.Warningf("failed to generate verifier attestation; %s", err.Error())
	} else {
		common.Log.Debugf("verifier attestation %s; digest: %s", verifierReport.SessionID, verifierReport.Digest)
	}
}
