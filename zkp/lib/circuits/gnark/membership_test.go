package gnark

import (
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
	"github.com/consensys/gnark/backend"
	"github.com/consensys/gnark/test"
)

func mimcSum(t *testing.T, elems ...fr.Element) fr.Element {
	t.Helper()
	hFunc := mimc.NewMiMC()
	for _, elem := range elems {
		elemBytes := elem.Bytes()
		if _, err := hFunc.Write(elemBytes[:]); err != nil {
			t.Fatalf("failed to hash field element; %s", err.Error())
		}
	}
	var sum fr.Element
	if err := sum.SetBytesCanonical(hFunc.Sum(nil)); err != nil {
		t.Fatalf("failed to reduce mimc digest; %s", err.Error())
	}
	return sum
}

func TestMembershipCircuit(t *testing.T) {
	assert := test.NewAssert(t)

	var secret, nonce fr.Element
	secret.SetString("483292113112330951323358932482378321378")
	nonce.SetUint64(0xfeedface)

	publicID := mimcSum(t, secret)
	tag := mimcSum(t, secret, nonce)

	assert.ProverSucceeded(&MembershipCircuit{}, &MembershipCircuit{
		Secret:   secret,
		PublicID: publicID,
		Nonce:    nonce,
		Tag:      tag,
	}, test.WithCurves(ecc.BN254), test.WithBackends(backend.GROTH16))
}

func TestMembershipCircuitWrongSecret(t *testing.T) {
	assert := test.NewAssert(t)

	var secret, wrong, nonce fr.Element
	secret.SetString("483292113112330951323358932482378321378")
	wrong.SetString("999999999999999999999999999")
	nonce.SetUint64(7)

	publicID := mimcSum(t, secret)
	tag := mimcSum(t, wrong, nonce)

	assert.ProverFailed(&MembershipCircuit{}, &MembershipCircuit{
		Secret:   wrong,
		PublicID: publicID,
		Nonce:    nonce,
		Tag:      tag,
	}, test.WithCurves(ecc.BN254), test.WithBackends(backend.GROTH16))
}

func TestMembershipCircuitStaleTag(t *testing.T) {
	assert := test.NewAssert(t)

	var secret, nonce, staleNonce fr.Element
	secret.SetString("483292113112330951323358932482378321378")
	nonce.SetUint64(100)
	staleNonce.SetUint64(99)

	publicID := mimcSum(t, secret)

	// a tag computed for an earlier nonce must not satisfy a new challenge
	assert.ProverFailed(&MembershipCircuit{}, &MembershipCircuit{
		Secret:   secret,
		PublicID: publicID,
		Nonce:    nonce,
		Tag:      mimcSum(t, secret, staleNonce),
	}, test.WithCurves(ecc.BN254), test.WithBackends(backend.GROTH16))
}
