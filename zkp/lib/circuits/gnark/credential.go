package gnark

import (
	tedwards "github.com/consensys/gnark-crypto/ecc/twistededwards"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/algebra/native/twistededwards"
	"github.com/consensys/gnark/std/hash/mimc"
	"github.com/consensys/gnark/std/signature/eddsa"
)

// CredentialCircuit proves possession of a credential signed by a trusted
// issuer and valid at the verifier's clock reading, without revealing the
// holder. The issuer signature is verified in-circuit over the mimc image
// of (holder digest, issue date, expiry date); the validity window and the
// nonce binding are circuit constraints, not prover promises.
type CredentialCircuit struct {
	HolderDigest frontend.Variable // digest of the holder id, known to the prover only
	IssueDate    frontend.Variable
	ExpiryDate   frontend.Variable
	Signature    eddsa.Signature

	IssuerKey   eddsa.PublicKey   `gnark:",public"`
	CurrentTime frontend.Variable `gnark:",public"`
	Nonce       frontend.Variable `gnark:",public"`
	Tag         frontend.Variable `gnark:",public"` // mimc(message, nonce) freshness binding
}

// Define the credential circuit
func (circuit *CredentialCircuit) Define(api frontend.API) error {
	curve, err := twistededwards.NewEdCurve(api, tedwards.BN254)
	if err != nil {
		return err
	}

	messageHash, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	messageHash.Write(circuit.HolderDigest, circuit.IssueDate, circuit.ExpiryDate)
	message := messageHash.Sum()

	sigHash, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	if err := eddsa.Verify(curve, circuit.Signature, message, circuit.IssuerKey, &sigHash); err != nil {
		return err
	}

	// issueDate <= currentTime <= expiryDate, both bounds inclusive
	api.AssertIsLessOrEqual(circuit.IssueDate, circuit.CurrentTime)
	api.AssertIsLessOrEqual(circuit.CurrentTime, circuit.ExpiryDate)

	tagHash, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	tagHash.Write(message, circuit.Nonce)
	api.AssertIsEqual(circuit.Tag, tagHash.Sum())

	return nil
}
