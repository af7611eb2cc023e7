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
	"crypto/subtle"
	"fmt"
	"strings"
)

// BindingKind distinguishes what public value a challenge and proof are
// tied to
type BindingKind uint8

const (
	// BindingIdentity binds to the prover's derived public identity (ACL variant)
	BindingIdentity BindingKind = iota + 1

	// BindingIssuer binds to a trusted issuer public key (credential variant)
	BindingIssuer
)

// TrustBinding is the output of a successful authorization: the public
// value the subsequent challenge and proof must be tied to
type TrustBinding struct {
	Kind  BindingKind
	Group string
	Value string

	// TimeBound indicates the policy enforces credential validity windows
	TimeBound bool
}

// TrustStore evaluates a join request against the verifier's trust policy.
// Authorization is a pure lookup; a denial is a policy decision
// (ErrAuthorizationDenied), never a system error.
type TrustStore interface {
	Authorize(req *JoinRequest) (*TrustBinding, error)
}

// ACLStore authorizes by exact membership of the presented public identity
// in a per-group allow-set; comparison is case-sensitive over the full
// fixed-length value
type ACLStore struct {
	groups map[string][]string
}

// NewACLStore initializes an ACL trust store from a map of group name to
// allowed public identities
func NewACLStore(groups map[string][]string) *ACLStore {
	acl := &ACLStore{groups: map[string][]string{}}
	for group, identities := range groups {
		acl.groups[group] = append([]string{}, identities...)
	}
	return acl
}

// NewACLStoreFromEnv parses an ACL of the form
// "group:id,id;group:id,..." as provisioned via ZKID_TRUST_ACL
func NewACLStoreFromEnv(val string) (*ACLStore, error) {
	groups := map[string][]string{}
	for _, clause := range strings.Split(val, ";") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		parts := strings.SplitN(clause, ":", 2)
		if len(parts) != 2 || parts[0] == "" {
			return nil, fmt.Errorf("failed to parse trust ACL clause: %s", clause)
		}
		for _, id := range strings.Split(parts[1], ",") {
			if id = strings.TrimSpace(id); id != "" {
				groups[parts[0]] = append(groups[parts[0]], id)
			}
		}
	}
	return NewACLStore(groups), nil
}

// Authorize returns an identity binding iff the request's identity is a
// member of the allow-set for the requested group
func (acl *ACLStore) Authorize(req *JoinRequest) (*TrustBinding, error) {
	identities, groupOk := acl.groups[req.Group]
	if !groupOk {
		return nil, fmt.Errorf("%w; unrecognized group", ErrAuthorizationDenied)
	}

	for _, id := range identities {
		if len(id) == len(req.Identity) && subtle.ConstantTimeCompare([]byte(id), []byte(req.Identity)) == 1 {
			return &TrustBinding{
				Kind:  BindingIdentity,
				Group: req.Group,
				Value: id,
			}, nil
		}
	}

	return nil, fmt.Errorf("%w; identity not in allow-set", ErrAuthorizationDenied)
}

// IssuerRegistry authorizes implicitly: a join request names only a group,
// and the registry resolves the issuer key trusted for that group. Any
// principal holding a valid, unexpired credential from that issuer is
// authorized without the verifier ever learning who they are.
type IssuerRegistry struct {
	issuers map[string]string
}

// NewIssuerRegistry initializes a registry from a map of group name to
// trusted issuer public key (64-char hex)
func NewIssuerRegistry(issuers map[string]string) *IssuerRegistry {
	registry := &IssuerRegistry{issuers: map[string]string{}}
	for group, key := range issuers {
		registry.issuers[group] = key
	}
	return registry
}

// Authorize resolves the trusted issuer for the requested group; an
// unrecognized group is an authorization denial
func (r *IssuerRegistry) Authorize(req *JoinRequest) (*TrustBinding, error) {
	issuerKey, issuerOk := r.issuers[req.Group]
	if !issuerOk {
		return nil, fmt.Errorf("%w; unrecognized group", ErrAuthorizationDenied)
	}

	return &TrustBinding{
		Kind:      BindingIssuer,
		Group:     req.Group,
		Value:     issuerKey,
		TimeBound: true,
	}, nil
}
