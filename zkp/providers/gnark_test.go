package providers

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/provideplatform/zkid/credential"
	"github.com/provideplatform/zkid/protocol"
)

var (
	engineOnce sync.Once
	engine     *GnarkAuthProvider
	engineErr  error
)

// testEngine shares one compiled-and-setup provider across the package;
// the Groth16 setup dominates test runtime
func testEngine(t *testing.T) *GnarkAuthProvider {
	if testing.Short() {
		t.Skip("skipping proof engine setup in short mode")
	}
	engineOnce.Do(func() {
		engine = NewGnarkAuthProvider()
		engineErr = engine.Init()
	})
	require.NoError(t, engineErr)
	return engine
}

func TestDerivePublicIdentityDeterministic(t *testing.T) {
	e := testEngine(t)

	a, err := e.DerivePublicIdentity([]byte("alice"))
	require.NoError(t, err)
	b, err := e.DerivePublicIdentity([]byte("alice"))
	require.NoError(t, err)
	c, err := e.DerivePublicIdentity([]byte("bob"))
	require.NoError(t, err)

	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
	require.Len(t, a, 64)
}

func TestMembershipProofRoundtrip(t *testing.T) {
	e := testEngine(t)

	secret := []byte("alice")
	publicID, err := e.DerivePublicIdentity(secret)
	require.NoError(t, err)

	proof, err := e.GenerateMembershipProof(secret, publicID, 42)
	require.NoError(t, err)

	valid, err := e.VerifyMembershipProof(proof, publicID, 42)
	require.NoError(t, err)
	require.True(t, valid)
}

func TestMembershipProofBoundToNonce(t *testing.T) {
	e := testEngine(t)

	secret := []byte("alice")
	publicID, err := e.DerivePublicIdentity(secret)
	require.NoError(t, err)

	proof, err := e.GenerateMembershipProof(secret, publicID, 42)
	require.NoError(t, err)

	// the same proof presented against a different challenge fails
	valid, err := e.VerifyMembershipProof(proof, publicID, 43)
	require.NoError(t, err)
	require.False(t, valid)
}

func TestMembershipProofWrongSecret(t *testing.T) {
	e := testEngine(t)

	publicID, err := e.DerivePublicIdentity([]byte("alice"))
	require.NoError(t, err)

	_, err = e.GenerateMembershipProof([]byte("mallory"), publicID, 42)
	require.ErrorIs(t, err, protocol.ErrPredicateUnsatisfied)
}

func TestMembershipProofTamperedEnvelope(t *testing.T) {
	e := testEngine(t)

	secret := []byte("alice")
	publicID, err := e.DerivePublicIdentity(secret)
	require.NoError(t, err)

	proof, err := e.GenerateMembershipProof(secret, publicID, 42)
	require.NoError(t, err)

	tampered := append([]byte{}, proof...)
	tampered[len(tampered)-1] ^= 0x01
	valid, err := e.VerifyMembershipProof(tampered, publicID, 42)
	require.NoError(t, err)
	require.False(t, valid)

	valid, err = e.VerifyMembershipProof([]byte("short"), publicID, 42)
	require.NoError(t, err)
	require.False(t, valid)
}

func TestCredentialProofRoundtrip(t *testing.T) {
	e := testEngine(t)

	issuer, err := credential.NewDeterministicIssuer("HR", 12345)
	require.NoError(t, err)

	now := uint64(time.Now().Unix())
	vc, err := issuer.Issue("alice", now-1000, now+1000)
	require.NoError(t, err)

	proof, err := e.GenerateCredentialProof(vc, issuer.PublicKeyHex(), now, 42)
	require.NoError(t, err)

	valid, err := e.VerifyCredentialProof(proof, issuer.PublicKeyHex(), now, 42)
	require.NoError(t, err)
	require.True(t, valid)

	// a different clock reading invalidates the proof
	valid, err = e.VerifyCredentialProof(proof, issuer.PublicKeyHex(), now+1, 42)
	require.NoError(t, err)
	require.False(t, valid)
}

func TestCredentialProofWrongIssuer(t *testing.T) {
	e := testEngine(t)

	hr, err := credential.NewDeterministicIssuer("HR", 12345)
	require.NoError(t, err)
	gov, err := credential.NewDeterministicIssuer("Government", 67890)
	require.NoError(t, err)

	now := uint64(time.Now().Unix())
	vc, err := gov.Issue("alice", now-1000, now+1000)
	require.NoError(t, err)

	_, err = e.GenerateCredentialProof(vc, hr.PublicKeyHex(), now, 42)
	require.ErrorIs(t, err, protocol.ErrPredicateUnsatisfied)
}

func TestArtifactsExportImport(t *testing.T) {
	e := testEngine(t)

	artifacts, err := e.Artifacts()
	require.NoError(t, err)
	require.Contains(t, artifacts, AuthCircuitIdentifierMembership)
	require.Contains(t, artifacts, AuthCircuitIdentifierCredential)

	imported := NewGnarkAuthProvider()
	require.NoError(t, imported.ImportArtifacts(artifacts))
	require.NoError(t, imported.Init())

	// a proof generated by the importing principal verifies under the
	// exporting principal's keys
	secret := []byte("alice")
	publicID, err := imported.DerivePublicIdentity(secret)
	require.NoError(t, err)
	proof, err := imported.GenerateMembershipProof(secret, publicID, 7)
	require.NoError(t, err)

	valid, err := e.VerifyMembershipProof(proof, publicID, 7)
	require.NoError(t, err)
	require.True(t, valid)
}

func TestAuthProviderFactory(t *testing.T) {
	e, err := AuthProviderFactory(AuthProviderGnark)
	require.NoError(t, err)
	require.NotNil(t, e)

	_, err = AuthProviderFactory("bogus")
	require.Error(t, err)
}
