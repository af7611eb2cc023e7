package providers

import (
	"fmt"

	"github.com/provideplatform/zkid/protocol"
)

// AuthCircuitIdentifierMembership membership (allow-list) circuit
const AuthCircuitIdentifierMembership = "membership"

// AuthCircuitIdentifierCredential credential (trusted issuer) circuit
const AuthCircuitIdentifierCredential = "credential"

// AuthProviderGnark gnark Groth16 proof engine provider
const AuthProviderGnark = "gnark"

// AuthProviderFactory initializes the proof engine for the named provider
func AuthProviderFactory(provider string) (protocol.ProofEngine, error) {
	switch provider {
	case AuthProviderGnark:
		return NewGnarkAuthProvider(), nil
	}
	return nil, fmt.Errorf("failed to initialize proof engine; unknown provider: %s", provider)
}
