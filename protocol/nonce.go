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
	"crypto/rand"
	"encoding/binary"
	"reflect"
	"sync"
	"time"

	"github.com/provideplatform/zkid/common"
)

// NonceSource produces 64-bit challenge values that never repeat within a
// session; the challenge ledger additionally rejects any nonce colliding
// with an active record
type NonceSource interface {
	Next() uint64
}

const (
	lcgMultiplier = 6364136223846793005
	lcgIncrement  = 1442695040888963407
)

// WeakNonceSource is a multiplicative congruential generator seeded from a
// wall-clock reading, an allocation address and a code address.
//
// WARNING: this is a demonstration-only entropy source carried over from
// environments with no OS randomness available; its output is predictable
// to an observer who can estimate process layout and start time. Use
// SecureNonceSource anywhere an adversary is assumed.
type WeakNonceSource struct {
	mutex   sync.Mutex
	state   uint64
	counter uint64
}

// NewWeakNonceSource seeds and returns a weak nonce source
func NewWeakNonceSource() *WeakNonceSource {
	src := &WeakNonceSource{}

	ts := uint64(time.Now().UnixNano())
	addr := uint64(reflect.ValueOf(src).Pointer())
	code := uint64(reflect.ValueOf(NewWeakNonceSource).Pointer())

	src.state = ts ^ (addr << 16) ^ (addr >> 16)
	src.state = src.state*lcgMultiplier + lcgIncrement
	src.state ^= code
	src.counter = ts

	return src
}

// Next advances the generator and returns the next nonce
func (src *WeakNonceSource) Next() uint64 {
	src.mutex.Lock()
	defer src.mutex.Unlock()

	src.state = src.state*lcgMultiplier + lcgIncrement
	src.counter++

	return src.state ^ src.counter ^ uint64(time.Now().UnixNano())
}

// SecureNonceSource draws nonces from the OS CSPRNG; this is the default
// source for both principals
type SecureNonceSource struct{}

// NewSecureNonceSource returns a CSPRNG-backed nonce source
func NewSecureNonceSource() *SecureNonceSource {
	return &SecureNonceSource{}
}

// Next returns an unpredictable 64-bit nonce
func (src *SecureNonceSource) Next() uint64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// the OS entropy source is assumed present; degrading to the weak
		// generator silently would mask a serious platform fault
		common.Log.Panicf("failed to read from OS entropy source; %s", err.Error())
	}
	return binary.BigEndian.Uint64(buf[:])
}
