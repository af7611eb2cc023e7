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
	"fmt"
	"sync"
	"time"
)

// DefaultChallengeCapacity bounds the number of challenge slots when no
// explicit capacity is configured
const DefaultChallengeCapacity = 10

// ChallengeRecord is a ledger entry for an issued challenge. A consumed
// record remains in its slot as a tombstone so a second redemption attempt
// is distinguishable from an unknown nonce; tombstoned slots are never
// recycled within a session.
type ChallengeRecord struct {
	Nonce    uint64
	Binding  string
	IssuedAt time.Time

	occupied bool
	used     bool
	active   bool
}

// ChallengeLedger is a fixed-capacity set of outstanding challenges; all
// mutations are atomic under a single exclusive lock
type ChallengeLedger struct {
	mutex  sync.Mutex
	slots  []ChallengeRecord
	source NonceSource
	ttl    time.Duration
	now    func() time.Time
}

// LedgerOption configures a challenge ledger
type LedgerOption func(*ChallengeLedger)

// WithChallengeTTL bounds the lifetime of an issued challenge; zero
// disables expiry
func WithChallengeTTL(ttl time.Duration) LedgerOption {
	return func(l *ChallengeLedger) {
		l.ttl = ttl
	}
}

// WithClock overrides the ledger time source
func WithClock(now func() time.Time) LedgerOption {
	return func(l *ChallengeLedger) {
		l.now = now
	}
}

// NewChallengeLedger initializes a ledger with the given slot capacity and
// nonce source
func NewChallengeLedger(capacity int, source NonceSource, opts ...LedgerOption) *ChallengeLedger {
	if capacity <= 0 {
		capacity = DefaultChallengeCapacity
	}

	ledger := &ChallengeLedger{
		slots:  make([]ChallengeRecord, capacity),
		source: source,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(ledger)
	}
	return ledger
}

// Issue allocates a slot, generates a nonce unique among all occupied
// records and returns the resulting challenge bound to the given identity
// or issuer key
func (l *ChallengeLedger) Issue(binding string) (*Challenge, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	slot := -1
	for i := range l.slots {
		if !l.slots[i].occupied {
			slot = i
			break
		}
	}
	if slot < 0 {
		return nil, fmt.Errorf("%w; %d slots occupied", ErrChallengeCapacity, len(l.slots))
	}

	var nonce uint64
	for {
		nonce = l.source.Next()
		if !l.nonceExists(nonce) {
			break
		}
	}

	issuedAt := l.now()
	l.slots[slot] = ChallengeRecord{
		Nonce:    nonce,
		Binding:  binding,
		IssuedAt: issuedAt,
		occupied: true,
		active:   true,
	}

	return &Challenge{
		Nonce:    nonce,
		Binding:  binding,
		IssuedAt: uint64(issuedAt.Unix()),
	}, nil
}

// Consume marks the challenge matching both nonce and binding as used.
// Exactly one of three outcomes results: nil on first redemption,
// ErrChallengeReplay when the record is a tombstone, ErrChallengeNotFound
// when no occupied record matches; with a TTL configured, a stale match
// yields ErrChallengeExpired and tombstones the record.
func (l *ChallengeLedger) Consume(nonce uint64, binding string) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	for i := range l.slots {
		record := &l.slots[i]
		if !record.occupied || record.Nonce != nonce || record.Binding != binding {
			continue
		}

		if record.used {
			return ErrChallengeReplay
		}

		record.used = true
		record.active = false

		if l.ttl > 0 && l.now().Sub(record.IssuedAt) > l.ttl {
			return ErrChallengeExpired
		}

		return nil
	}

	return ErrChallengeNotFound
}

// Outstanding returns the count of active, unconsumed challenges
func (l *ChallengeLedger) Outstanding() int {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	count := 0
	for i := range l.slots {
		if l.slots[i].active {
			count++
		}
	}
	return count
}

func (l *ChallengeLedger) nonceExists(nonce uint64) bool {
	for i := range l.slots {
		if l.slots[i].occupied && l.slots[i].Nonce == nonce {
			return true
		}
	}
	return false
}
