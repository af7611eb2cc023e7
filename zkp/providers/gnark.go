package providers

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	tedwards "github.com/consensys/gnark-crypto/ecc/twistededwards"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/consensys/gnark/std/signature/eddsa"

	"github.com/provideplatform/zkid/common"
	"github.com/provideplatform/zkid/credential"
	"github.com/provideplatform/zkid/protocol"
	zkidgnark "github.com/provideplatform/zkid/zkp/lib/circuits/gnark"
)

// freshnessTagSize is the size of the tag appended to each serialized
// proof; the tag is a public input and travels inside the proof envelope
const freshnessTagSize = fr.Bytes

// CircuitArtifacts holds the serialized constraint system and Groth16
// keypair for one circuit, suitable for provisioning a second principal
type CircuitArtifacts struct {
	ConstraintSystem []byte `json:"constraint_system"`
	ProvingKey       []byte `json:"proving_key"`
	VerifyingKey     []byte `json:"verifying_key"`
}

type compiledCircuit struct {
	ccs          constraint.ConstraintSystem
	provingKey   groth16.ProvingKey
	verifyingKey groth16.VerifyingKey
}

// GnarkAuthProvider implements the proof engine over gnark Groth16 on
// BN254. Init performs the one-time compile and trusted setup for both
// authentication circuits; in a real deployment the setup output would be
// produced by a ceremony and distributed, which Artifacts/ImportArtifacts
// model.
type GnarkAuthProvider struct {
	mutex    sync.Mutex
	circuits map[string]*compiledCircuit
}

// NewGnarkAuthProvider initializes an uninitialized gnark proof engine
func NewGnarkAuthProvider() *GnarkAuthProvider {
	return &GnarkAuthProvider{
		circuits: make(map[string]*compiledCircuit),
	}
}

// Init compiles the authentication circuits and runs the Groth16 setup;
// a no-op when artifacts were already imported
func (p *GnarkAuthProvider) Init() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if len(p.circuits) > 0 {
		return nil
	}

	for identifier, circuit := range map[string]frontend.Circuit{
		AuthCircuitIdentifierMembership: &zkidgnark.MembershipCircuit{},
		AuthCircuitIdentifierCredential: &zkidgnark.CredentialCircuit{},
	} {
		ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, circuit)
		if err != nil {
			return fmt.Errorf("failed to compile %s circuit; %s", identifier, err.Error())
		}

		provingKey, verifyingKey, err := groth16.Setup(ccs)
		if err != nil {
			return fmt.Errorf("failed to setup %s circuit; %s", identifier, err.Error())
		}

		p.circuits[identifier] = &compiledCircuit{
			ccs:          ccs,
			provingKey:   provingKey,
			verifyingKey: verifyingKey,
		}
		common.Log.Debugf("initialized %s circuit; %d constraints", identifier, ccs.GetNbConstraints())
	}

	return nil
}

// Artifacts exports the serialized constraint systems and keypairs for
// every initialized circuit
func (p *GnarkAuthProvider) Artifacts() (map[string]*CircuitArtifacts, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	artifacts := make(map[string]*CircuitArtifacts, len(p.circuits))
	for identifier, circuit := range p.circuits {
		var ccsBuf, pkBuf, vkBuf bytes.Buffer
		if _, err := circuit.ccs.WriteTo(&ccsBuf); err != nil {
			return nil, fmt.Errorf("failed to export %s constraint system; %s", identifier, err.Error())
		}
		if _, err := circuit.provingKey.WriteTo(&pkBuf); err != nil {
			return nil, fmt.Errorf("failed to export %s proving key; %s", identifier, err.Error())
		}
		if _, err := circuit.verifyingKey.WriteTo(&vkBuf); err != nil {
			return nil, fmt.Errorf("failed to export %s verifying key; %s", identifier, err.Error())
		}
		artifacts[identifier] = &CircuitArtifacts{
			ConstraintSystem: ccsBuf.Bytes(),
			ProvingKey:       pkBuf.Bytes(),
			VerifyingKey:     vkBuf.Bytes(),
		}
	}

	return artifacts, nil
}

// ImportArtifacts provisions the provider from previously exported
// artifacts in lieu of running its own setup
func (p *GnarkAuthProvider) ImportArtifacts(artifacts map[string]*CircuitArtifacts) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	for identifier, artifact := range artifacts {
		ccs := groth16.NewCS(ecc.BN254)
		if _, err := ccs.ReadFrom(bytes.NewReader(artifact.ConstraintSystem)); err != nil {
			return fmt.Errorf("failed to import %s constraint system; %s", identifier, err.Error())
		}
		provingKey := groth16.NewProvingKey(ecc.BN254)
		if _, err := provingKey.ReadFrom(bytes.NewReader(artifact.ProvingKey)); err != nil {
			return fmt.Errorf("failed to import %s proving key; %s", identifier, err.Error())
		}
		verifyingKey := groth16.NewVerifyingKey(ecc.BN254)
		if _, err := verifyingKey.ReadFrom(bytes.NewReader(artifact.VerifyingKey)); err != nil {
			return fmt.Errorf("failed to import %s verifying key; %s", identifier, err.Error())
		}
		p.circuits[identifier] = &compiledCircuit{
			ccs:          ccs,
			provingKey:   provingKey,
			verifyingKey: verifyingKey,
		}
	}

	return nil
}

func (p *GnarkAuthProvider) circuit(identifier string) (*compiledCircuit, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	circuit, circuitOk := p.circuits[identifier]
	if !circuitOk {
		return nil, fmt.Errorf("%s circuit not initialized", identifier)
	}
	return circuit, nil
}

// DerivePublicIdentity maps a secret onto its public identity: the mimc
// image of the secret's field reduction, hex encoded
func (p *GnarkAuthProvider) DerivePublicIdentity(secret []byte) (string, error) {
	digest, err := mimcDigest(common.HashToScalar(secret))
	if err != nil {
		return "", err
	}
	return common.ScalarToHex(digest), nil
}

// GenerateMembershipProof proves knowledge of the secret behind publicID,
// bound to the nonce via the freshness tag carried in the proof envelope
func (p *GnarkAuthProvider) GenerateMembershipProof(secret []byte, publicID string, nonce uint64) ([]byte, error) {
	circuit, err := p.circuit(AuthCircuitIdentifierMembership)
	if err != nil {
		return nil, err
	}

	derived, err := p.DerivePublicIdentity(secret)
	if err != nil {
		return nil, err
	}
	if derived != publicID {
		return nil, fmt.Errorf("%w; secret does not hash to the bound identity", protocol.ErrPredicateUnsatisfied)
	}

	secretScalar := common.HashToScalar(secret)
	publicScalar, err := common.HexToScalar(publicID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public identity; %s", err.Error())
	}

	var nonceScalar fr.Element
	nonceScalar.SetUint64(nonce)
	tag, err := mimcDigest(secretScalar, nonceScalar)
	if err != nil {
		return nil, err
	}

	assignment := &zkidgnark.MembershipCircuit{
		Secret:   secretScalar,
		PublicID: publicScalar,
		Nonce:    nonce,
		Tag:      tag,
	}

	return p.prove(circuit, assignment, tag)
}

// VerifyMembershipProof checks a membership proof against the expected
// public identity and nonce; a malformed or failing proof is a negative
// verdict, not an engine fault
func (p *GnarkAuthProvider) VerifyMembershipProof(proof []byte, publicID string, nonce uint64) (bool, error) {
	circuit, err := p.circuit(AuthCircuitIdentifierMembership)
	if err != nil {
		return false, err
	}

	publicScalar, err := common.HexToScalar(publicID)
	if err != nil {
		return false, fmt.Errorf("failed to parse public identity binding; %s", err.Error())
	}

	groth16Proof, tag, envelopeOk := p.decodeEnvelope(proof)
	if !envelopeOk {
		return false, nil
	}

	assignment := &zkidgnark.MembershipCircuit{
		PublicID: publicScalar,
		Nonce:    nonce,
		Tag:      tag,
	}

	return p.verifyAssignment(circuit, groth16Proof, assignment), nil
}

// GenerateCredentialProof proves possession of a credential signed by the
// trusted issuer and valid at currentTime, bound to the nonce
func (p *GnarkAuthProvider) GenerateCredentialProof(vc *credential.VerifiableCredential, issuerKey string, currentTime uint64, nonce uint64) ([]byte, error) {
	circuit, err := p.circuit(AuthCircuitIdentifierCredential)
	if err != nil {
		return nil, err
	}

	if err := vc.CheckBinding(issuerKey, currentTime); err != nil {
		return nil, fmt.Errorf("%w; %s", protocol.ErrPredicateUnsatisfied, err.Error())
	}

	keyBytes, err := hex.DecodeString(issuerKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse issuer key; %s", err.Error())
	}

	holderDigest := credential.HolderDigest(vc.HolderID)
	message, err := credential.SignedDigest(holderDigest, vc.IssueDate, vc.ExpiryDate)
	if err != nil {
		return nil, err
	}

	var messageScalar, nonceScalar fr.Element
	if err := messageScalar.SetBytesCanonical(message); err != nil {
		return nil, fmt.Errorf("failed to reduce credential digest; %s", err.Error())
	}
	nonceScalar.SetUint64(nonce)
	tag, err := mimcDigest(messageScalar, nonceScalar)
	if err != nil {
		return nil, err
	}

	var issuerPublicKey eddsa.PublicKey
	issuerPublicKey.Assign(tedwards.BN254, keyBytes)
	var signature eddsa.Signature
	signature.Assign(tedwards.BN254, vc.Signature)

	assignment := &zkidgnark.CredentialCircuit{
		HolderDigest: holderDigest,
		IssueDate:    vc.IssueDate,
		ExpiryDate:   vc.ExpiryDate,
		Signature:    signature,
		IssuerKey:    issuerPublicKey,
		CurrentTime:  currentTime,
		Nonce:        nonce,
		Tag:          tag,
	}

	return p.prove(circuit, assignment, tag)
}

// VerifyCredentialProof checks a credential proof against the trusted
// issuer key, the verifier's clock reading and the nonce
func (p *GnarkAuthProvider) VerifyCredentialProof(proof []byte, issuerKey string, currentTime uint64, nonce uint64) (bool, error) {
	circuit, err := p.circuit(AuthCircuitIdentifierCredential)
	if err != nil {
		return false, err
	}

	keyBytes, err := hex.DecodeString(issuerKey)
	if err != nil {
		return false, fmt.Errorf("failed to parse issuer key binding; %s", err.Error())
	}

	groth16Proof, tag, envelopeOk := p.decodeEnvelope(proof)
	if !envelopeOk {
		return false, nil
	}

	var issuerPublicKey eddsa.PublicKey
	issuerPublicKey.Assign(tedwards.BN254, keyBytes)

	assignment := &zkidgnark.CredentialCircuit{
		IssuerKey:   issuerPublicKey,
		CurrentTime: currentTime,
		Nonce:       nonce,
		Tag:         tag,
	}

	return p.verifyAssignment(circuit, groth16Proof, assignment), nil
}

// prove generates a Groth16 proof for the assignment and wraps it in the
// proof envelope together with the freshness tag
func (p *GnarkAuthProvider) prove(circuit *compiledCircuit, assignment frontend.Circuit, tag fr.Element) ([]byte, error) {
	witness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("failed to compute witness; %s", err.Error())
	}

	proof, err := groth16.Prove(circuit.ccs, circuit.provingKey, witness)
	if err != nil {
		return nil, fmt.Errorf("failed to generate proof; %s", err.Error())
	}

	var buf bytes.Buffer
	if _, err := proof.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to serialize proof; %s", err.Error())
	}

	tagBytes := tag.Bytes()
	return append(buf.Bytes(), tagBytes[:]...), nil
}

// decodeEnvelope splits a proof payload into the Groth16 proof and the
// freshness tag; any malformation yields a negative verdict upstream
func (p *GnarkAuthProvider) decodeEnvelope(payload []byte) (groth16.Proof, fr.Element, bool) {
	var tag fr.Element
	if len(payload) <= freshnessTagSize {
		return nil, tag, false
	}

	proofBytes := payload[:len(payload)-freshnessTagSize]
	if err := tag.SetBytesCanonical(payload[len(payload)-freshnessTagSize:]); err != nil {
		return nil, tag, false
	}

	proof := groth16.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(proofBytes)); err != nil {
		return nil, tag, false
	}

	return proof, tag, true
}

func (p *GnarkAuthProvider) verifyAssignment(circuit *compiledCircuit, proof groth16.Proof, assignment frontend.Circuit) bool {
	witness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		common.Log.Warningf("failed to compute public witness; %s", err.Error())
		return false
	}

	if err := groth16.Verify(proof, circuit.verifyingKey, witness); err != nil {
		common.Log.Debugf("proof verification failed; %s", err.Error())
		return false
	}

	return true
}

// mimcDigest hashes the given field elements with off-circuit MiMC,
// matching the in-circuit hash over the same sequence
func mimcDigest(elems ...fr.Element) (fr.Element, error) {
	var digest fr.Element
	hFunc := mimc.NewMiMC()
	for _, elem := range elems {
		elemBytes := elem.Bytes()
		if _, err := hFunc.Write(elemBytes[:]); err != nil {
			return digest, fmt.Errorf("failed to compute mimc digest; %s", err.Error())
		}
	}
	if err := digest.SetBytesCanonical(hFunc.Sum(nil)); err != nil {
		return digest, fmt.Errorf("failed to reduce mimc digest; %s", err.Error())
	}
	return digest, nil
}
