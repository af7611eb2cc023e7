package gnark

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"
)

// MembershipCircuit proves knowledge of the secret behind an allow-listed
// public identity, bound to a verifier-issued nonce. The tag constrains
// the nonce for real: a proof carries weight only for the challenge it was
// generated against.
type MembershipCircuit struct {
	Secret   frontend.Variable // private credential known to the prover only
	PublicID frontend.Variable `gnark:",public"` // mimc image of the secret
	Nonce    frontend.Variable `gnark:",public"`
	Tag      frontend.Variable `gnark:",public"` // mimc(secret, nonce) freshness binding
}

// Define the membership circuit
func (circuit *MembershipCircuit) Define(api frontend.API) error {
	identityHash, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	identityHash.Write(circuit.Secret)
	api.AssertIsEqual(circuit.PublicID, identityHash.Sum())

	tagHash, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	tagHash.Write(circuit.Secret, circuit.Nonce)
	api.AssertIsEqual(circuit.Tag, tagHash.Sum())

	return nil
}
