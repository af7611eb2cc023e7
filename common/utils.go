package common

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand"
	"time"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

var seededRand *rand.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))

// PanicIfEmpty panics if the given string is empty
func PanicIfEmpty(val string, msg string) {
	if val == "" {
		panic(msg)
	}
}

// StringOrNil returns the given string or nil when empty
func StringOrNil(str string) *string {
	if str == "" {
		return nil
	}
	return &str
}

// RandomString generates a random string of the given length
func RandomString(length int) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = charset[seededRand.Intn(len(charset))]
	}
	return string(b)
}

// SHA256 is a convenience method to return the sha256 hash of the given input
func SHA256(str string) string {
	digest := sha256.New()
	digest.Write([]byte(str))
	return hex.EncodeToString(digest.Sum(nil))
}

// HashToScalar maps arbitrary bytes onto the BN254 scalar field by way of
// a sha256 digest; the mapping is deterministic and one-way
func HashToScalar(data []byte) fr.Element {
	digest := sha256.Sum256(data)
	var elem fr.Element
	elem.SetBytes(digest[:])
	return elem
}

// ScalarToHex returns the canonical 64-char hex encoding of the given
// field element
func ScalarToHex(elem fr.Element) string {
	b := elem.Bytes()
	return hex.EncodeToString(b[:])
}

// HexToBytes decodes a hex string
func HexToBytes(str string) ([]byte, error) {
	return hex.DecodeString(str)
}

// HexToScalar parses a 64-char hex string into a field element; values are
// rejected rather than silently reduced when they exceed the field modulus
func HexToScalar(str string) (fr.Element, error) {
	var elem fr.Element
	b, err := hex.DecodeString(str)
	if err != nil {
		return elem, fmt.Errorf("failed to parse scalar from hex; %s", err.Error())
	}
	if len(b) != fr.Bytes {
		return elem, fmt.Errorf("failed to parse scalar; expected %d bytes, got %d", fr.Bytes, len(b))
	}
	if err := elem.SetBytesCanonical(b); err != nil {
		return elem, fmt.Errorf("failed to parse scalar; %s", err.Error())
	}
	return elem, nil
}
