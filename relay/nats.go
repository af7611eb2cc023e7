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
	"time"

	"github.com/nats-io/nats.go"

	"github.com/provideplatform/zkid/common"
)

const natsSubjectPrefix = "zkid.session"

// defaultReceiveWait bounds a NATS receive when the context carries no
// deadline of its own
const defaultReceiveWait = time.Second * 30

// NATSRelay is a relay backed by core NATS subjects, one subject per
// logical channel scoped to a session id so that concurrent sessions on a
// shared broker never cross-deliver. Subscriptions are synchronous; the
// subscriber must be created before the counterparty publishes since core
// NATS retains nothing.
type NATSRelay struct {
	conn          *nats.Conn
	sessionID     string
	subscriptions map[Channel]*nats.Subscription
}

// NewNATSRelay connects the relay to the given NATS connection and
// subscribes each logical channel under the session-scoped subject space
func NewNATSRelay(conn *nats.Conn, sessionID string) (*NATSRelay, error) {
	if conn == nil {
		return nil, errors.New("failed to initialize NATS relay; nil connection")
	}

	r := &NATSRelay{
		conn:          conn,
		sessionID:     sessionID,
		subscriptions: make(map[Channel]*nats.Subscription, len(Channels)),
	}

	for _, channel := range Channels {
		subscription, err := conn.SubscribeSync(r.subject(channel))
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("failed to subscribe NATS relay channel %s; %s", channel, err.Error())
		}
		r.subscriptions[channel] = subscription
	}

	common.Log.Debugf("initialized NATS relay for session %s", sessionID)
	return r, nil
}

func (r *NATSRelay) subject(channel Channel) string {
	return fmt.Sprintf("%s.%s.%s", natsSubjectPrefix, r.sessionID, channel)
}

// Send publishes the payload on the session-scoped subject for the channel
func (r *NATSRelay) Send(ctx context.Context, channel Channel, payload []byte) error {
	if _, channelOk := r.subscriptions[channel]; !channelOk {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, channel)
	}

	if err := r.conn.Publish(r.subject(channel), payload); err != nil {
		if errors.Is(err, nats.ErrConnectionClosed) {
			return ErrClosed
		}
		return fmt.Errorf("failed to publish %d-byte payload on channel %s; %s", len(payload), channel, err.Error())
	}

	return nil
}

// Receive blocks on the synchronous subscription for the channel until a
// message arrives or the context deadline lapses
func (r *NATSRelay) Receive(ctx context.Context, channel Channel) ([]byte, error) {
	subscription, channelOk := r.subscriptions[channel]
	if !channelOk {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, channel)
	}

	wait := defaultReceiveWait
	if deadline, deadlineOk := ctx.Deadline(); deadlineOk {
		wait = time.Until(deadline)
		if wait <= 0 {
			return nil, fmt.Errorf("%w; %s", ErrTimeout, context.DeadlineExceeded.Error())
		}
	}

	msg, err := subscription.NextMsg(wait)
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) {
			return nil, fmt.Errorf("%w; no message on channel %s within %s", ErrTimeout, channel, wait)
		}
		if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("failed to receive on channel %s; %s", channel, err.Error())
	}

	return msg.Data, nil
}

// Close drains the per-channel subscriptions; the underlying connection is
// owned by the caller and left open
func (r *NATSRelay) Close() {
	for channel, subscription := range r.subscriptions {
		if err := subscription.Unsubscribe(); err != nil {
			common.Log.Warningf("failed to unsubscribe NATS relay channel %s; %s", channel, err.Error())
		}
	}
}
