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

package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// The relay is an untrusted mediator: it forwards opaque payloads
// byte-exactly, performs no authorization and no parsing, and guarantees
// FIFO delivery within each logical channel only. Nothing is guaranteed
// about ordering across channels beyond what the protocol's own
// await-points enforce.

// Channel identifies one of the four logical message channels
type Channel string

const (
	// ChannelRequest carries join requests from prover to verifier
	ChannelRequest Channel = "request"

	// ChannelChallenge carries challenges from verifier to prover
	ChannelChallenge Channel = "challenge"

	// ChannelProof carries proof submissions from prover to verifier
	ChannelProof Channel = "proof"

	// ChannelResult carries the terminal verdict from verifier to prover
	ChannelResult Channel = "result"
)

// Channels enumerates every logical channel
var Channels = []Channel{ChannelRequest, ChannelChallenge, ChannelProof, ChannelResult}

var (
	// ErrTimeout indicates a receive exceeded its deadline; a liveness
	// fault of the counterparty, distinct from any authentication outcome
	ErrTimeout = errors.New("transport timeout")

	// ErrCapacityExceeded indicates a send found the channel buffer full
	ErrCapacityExceeded = errors.New("transport capacity exceeded")

	// ErrClosed indicates the relay has been closed
	ErrClosed = errors.New("transport closed")

	// ErrUnknownChannel indicates an operation referenced an undefined channel
	ErrUnknownChannel = errors.New("unknown transport channel")
)

// Relay moves opaque messages between two mutually distrusting principals.
// Send is non-blocking and succeeds whenever buffer capacity remains;
// Receive suspends the caller until a message arrives, the context
// expires, or the relay closes.
type Relay interface {
	Send(ctx context.Context, channel Channel, payload []byte) error
	Receive(ctx context.Context, channel Channel) ([]byte, error)
}

// DefaultChannelCapacity is the per-channel buffer depth of the in-memory
// relay; the protocol needs a single slot per channel
const DefaultChannelCapacity = 4

// MemoryRelay is an in-process relay backed by buffered Go channels; the
// blocking receive replaces the short-backoff polling loop of earlier
// revisions
type MemoryRelay struct {
	channels map[Channel]chan []byte
	closed   chan struct{}
	once     sync.Once
}

// NewMemoryRelay initializes an in-memory relay with the given per-channel
// buffer capacity
func NewMemoryRelay(capacity int) *MemoryRelay {
	if capacity < 1 {
		capacity = DefaultChannelCapacity
	}

	channels := make(map[Channel]chan []byte, len(Channels))
	for _, ch := range Channels {
		channels[ch] = make(chan []byte, capacity)
	}

	return &MemoryRelay{
		channels: channels,
		closed:   make(chan struct{}),
	}
}

// Send enqueues a copy of the payload on the given channel without
// blocking; a full buffer is a capacity error
func (r *MemoryRelay) Send(ctx context.Context, channel Channel, payload []byte) error {
	queue, channelOk := r.channels[channel]
	if !channelOk {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, channel)
	}

	select {
	case <-r.closed:
		return ErrClosed
	case <-ctx.Done():
		return fmt.Errorf("%w; %s", ErrTimeout, ctx.Err().Error())
	default:
	}

	buf := make([]byte, len(payload))
	copy(buf, payload)

	select {
	case queue <- buf:
		return nil
	default:
		return fmt.Errorf("%w; channel %s buffer full", ErrCapacityExceeded, channel)
	}
}

// Receive suspends until a message is available on the given channel; the
// context deadline bounds the wait
func (r *MemoryRelay) Receive(ctx context.Context, channel Channel) ([]byte, error) {
	queue, channelOk := r.channels[channel]
	if !channelOk {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, channel)
	}

	select {
	case payload := <-queue:
		return payload, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w; %s", ErrTimeout, ctx.Err().Error())
	case <-r.closed:
		// drain anything enqueued before close
		select {
		case payload := <-queue:
			return payload, nil
		default:
			return nil, ErrClosed
		}
	}
}

// Close releases all waiting receivers
func (r *MemoryRelay) Close() {
	r.once.Do(func() {
		close(r.closed)
	})
}
