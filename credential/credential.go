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

package credential

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"github.com/consensys/gnark-crypto/ecc/bn254/twistededwards/eddsa"

	"github.com/provideplatform/zkid/common"
)

// VerifiableCredential is a signed attestation that the issuer vouches for
// the holder within a validity window. The holder id is an opaque string;
// its digest is what the issuer signs and what the holder later proves
// knowledge of without disclosure.
type VerifiableCredential struct {
	HolderID   string
	Issuer     string
	IssueDate  uint64
	ExpiryDate uint64
	Signature  []byte
}

var (
	// ErrIssuerMismatch indicates the credential's issuer is not the one
	// the verifier trusts for the requested group
	ErrIssuerMismatch = errors.New("credential issuer mismatch")

	// ErrNotYetValid indicates the current time precedes the issue date
	ErrNotYetValid = errors.New("credential not yet valid")

	// ErrExpired indicates the current time exceeds the expiry date
	ErrExpired = errors.New("credential expired")
)

// Digest computes the MiMC digest the issuer signs: the reduced holder
// digest followed by the issue and expiry dates, each absorbed as a
// 32-byte field element
func (vc *VerifiableCredential) Digest() ([]byte, error) {
	return SignedDigest(HolderDigest(vc.HolderID), vc.IssueDate, vc.ExpiryDate)
}

// CheckBinding pre-checks the credential against a challenge before any
// proving work: the trusted issuer key must match the credential's issuer
// and the validity window must contain the current time, both bounds
// inclusive
func (vc *VerifiableCredential) CheckBinding(trustedIssuerKey string, currentTime uint64) error {
	if vc.Issuer != trustedIssuerKey {
		return ErrIssuerMismatch
	}
	if currentTime < vc.IssueDate {
		return fmt.Errorf("%w; current time %d precedes issue date %d", ErrNotYetValid, currentTime, vc.IssueDate)
	}
	if currentTime > vc.ExpiryDate {
		return fmt.Errorf("%w; current time %d exceeds expiry date %d", ErrExpired, currentTime, vc.ExpiryDate)
	}
	return nil
}

// HolderDigest reduces an opaque holder id to a BN254 scalar
func HolderDigest(holderID string) fr.Element {
	return common.HashToScalar([]byte(holderID))
}

// SignedDigest computes the MiMC image of (holderDigest, issueDate,
// expiryDate); the same image is recomputed inside the credential circuit
func SignedDigest(holderDigest fr.Element, issueDate, expiryDate uint64) ([]byte, error) {
	hFunc := mimc.NewMiMC()

	holderBytes := holderDigest.Bytes()
	if _, err := hFunc.Write(holderBytes[:]); err != nil {
		return nil, fmt.Errorf("failed to compute credential digest; %s", err.Error())
	}

	for _, date := range []uint64{issueDate, expiryDate} {
		var elem fr.Element
		elem.SetUint64(date)
		elemBytes := elem.Bytes()
		if _, err := hFunc.Write(elemBytes[:]); err != nil {
			return nil, fmt.Errorf("failed to compute credential digest; %s", err.Error())
		}
	}

	return hFunc.Sum(nil), nil
}

// Issuer mints credentials under a twisted Edwards EdDSA keypair suitable
// for in-circuit verification
type Issuer struct {
	Name string

	privateKey *eddsa.PrivateKey
}

// NewIssuer initializes an issuer with a freshly generated keypair drawn
// from the given entropy source
func NewIssuer(name string, entropy io.Reader) (*Issuer, error) {
	privateKey, err := eddsa.GenerateKey(entropy)
	if err != nil {
		return nil, fmt.Errorf("failed to generate issuer keypair; %s", err.Error())
	}

	return &Issuer{
		Name:       name,
		privateKey: privateKey,
	}, nil
}

// NewDeterministicIssuer derives the issuer keypair from a fixed seed; the
// demo registry and the fixtures rely on reproducible issuer keys
func NewDeterministicIssuer(name string, seed uint64) (*Issuer, error) {
	var seedBytes [8]byte
	binary.BigEndian.PutUint64(seedBytes[:], seed)
	return NewIssuer(name, newSeededReader(seedBytes[:]))
}

// PublicKeyHex returns the issuer's compressed public key as a hex string;
// this is the registry value a verifier trusts
func (i *Issuer) PublicKeyHex() string {
	pubBytes := i.privateKey.PublicKey.Bytes()
	return fmt.Sprintf("%x", pubBytes)
}

// PublicKeyBytes returns the issuer's compressed public key
func (i *Issuer) PublicKeyBytes() []byte {
	return i.privateKey.PublicKey.Bytes()
}

// Issue mints a credential for the holder over the given validity window
func (i *Issuer) Issue(holderID string, issueDate, expiryDate uint64) (*VerifiableCredential, error) {
	if expiryDate < issueDate {
		return nil, fmt.Errorf("failed to issue credential; expiry date %d precedes issue date %d", expiryDate, issueDate)
	}

	digest, err := SignedDigest(HolderDigest(holderID), issueDate, expiryDate)
	if err != nil {
		return nil, err
	}

	signature, err := i.privateKey.Sign(digest, mimc.NewMiMC())
	if err != nil {
		return nil, fmt.Errorf("failed to sign credential; %s", err.Error())
	}

	return &VerifiableCredential{
		HolderID:   holderID,
		Issuer:     i.PublicKeyHex(),
		IssueDate:  issueDate,
		ExpiryDate: expiryDate,
		Signature:  signature,
	}, nil
}

// VerifySignature checks the credential signature against its declared
// issuer key off-circuit; the same relation is enforced in-circuit during
// authentication
func VerifySignature(vc *VerifiableCredential) (bool, error) {
	var publicKey eddsa.PublicKey
	keyBytes, err := common.HexToBytes(vc.Issuer)
	if err != nil {
		return false, fmt.Errorf("failed to parse credential issuer key; %s", err.Error())
	}
	if _, err := publicKey.SetBytes(keyBytes); err != nil {
		return false, fmt.Errorf("failed to parse credential issuer key; %s", err.Error())
	}

	digest, err := vc.Digest()
	if err != nil {
		return false, err
	}

	return publicKey.Verify(vc.Signature, digest, mimc.NewMiMC())
}

// seededReader streams deterministic bytes derived from a seed by hashing
// a counter chain; it exists solely so demo issuers are reproducible
type seededReader struct {
	state [sha256.Size]byte
	buf   []byte
}

func newSeededReader(seed []byte) *seededReader {
	return &seededReader{state: sha256.Sum256(seed)}
}

func (r *seededReader) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if len(r.buf) == 0 {
			r.state = sha256.Sum256(r.state[:])
			r.buf = append(r.buf, r.state[:]...)
		}
		copied := copy(p[n:], r.buf)
		r.buf = r.buf[copied:]
		n += copied
	}
	return n, nil
}
