// Package envelope defines the wire-level message unit exchanged with the
// realtime API over either transport. Every update a consumer observes is an
// Envelope, whether it arrived on the persistent connection or through a
// polling fetch.
package envelope

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/foani/CTA-Mission-sub000/errors"
	"github.com/foani/CTA-Mission-sub000/pkg/timestamp"
)

// Control message types recognized by the realtime API.
const (
	TypeSubscribe    = "subscribe"
	TypeUnsubscribe  = "unsubscribe"
	TypeHeartbeat    = "heartbeat"
	TypeHeartbeatAck = "heartbeat_ack"
)

// PollingPrefix marks envelopes synthesized from polling fetches. The full
// type is "polling." + channel.
const PollingPrefix = "polling."

// Envelope is the canonical unit delivered to a consumer regardless of which
// transport produced it. Timestamp is producer-side wall clock in Unix
// milliseconds at send/fetch time; it is informative, not guaranteed
// monotonic across sources.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
	ID        string          `json:"id,omitempty"`
}

// subscribePayload is the data body of subscribe/unsubscribe control messages.
type subscribePayload struct {
	Channel string         `json:"channel"`
	Params  map[string]any `json:"params,omitempty"`
}

// New creates an application envelope with the current timestamp.
func New(msgType string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, errors.WrapInvalid(err, "Envelope", "New", "marshal data")
	}
	return Envelope{
		Type:      msgType,
		Data:      raw,
		Timestamp: timestamp.Now(),
	}, nil
}

// NewSubscribe creates the subscribe control message for a channel.
func NewSubscribe(channel string, params map[string]any) Envelope {
	return newControl(TypeSubscribe, channel, params)
}

// NewUnsubscribe creates the unsubscribe control message for a channel.
func NewUnsubscribe(channel string, params map[string]any) Envelope {
	return newControl(TypeUnsubscribe, channel, params)
}

func newControl(msgType, channel string, params map[string]any) Envelope {
	raw, _ := json.Marshal(subscribePayload{Channel: channel, Params: params})
	return Envelope{
		Type:      msgType,
		Data:      raw,
		Timestamp: timestamp.Now(),
	}
}

// NewHeartbeat creates a heartbeat request with a correlation ID so the ack
// can be matched for round-trip measurement.
func NewHeartbeat() Envelope {
	return Envelope{
		Type:      TypeHeartbeat,
		Timestamp: timestamp.Now(),
		ID:        uuid.NewString(),
	}
}

// NewPolled wraps a polling response body for a channel. The type is
// namespaced under "polling." so consumers can tell which transport produced
// the update.
func NewPolled(channel string, body []byte) Envelope {
	return Envelope{
		Type:      PollingPrefix + channel,
		Data:      body,
		Timestamp: timestamp.Now(),
	}
}

// Parse decodes a wire message into an Envelope. A message that is not valid
// JSON or carries no type is a protocol error; the connection stays open.
func Parse(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, errors.WrapProtocol(
			fmt.Errorf("%w: %v", errors.ErrMalformedEnvelope, err),
			"Envelope", "Parse", "unmarshal message")
	}
	if env.Type == "" {
		return Envelope{}, errors.WrapProtocol(
			errors.ErrMissingType, "Envelope", "Parse", "validate envelope")
	}
	return env, nil
}

// Encode serializes the envelope for the wire.
func (e Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Envelope", "Encode", "marshal envelope")
	}
	return data, nil
}

// IsHeartbeat reports whether the envelope is internal heartbeat traffic.
// Heartbeat envelopes are consumed by the session and never reach consumers.
func (e Envelope) IsHeartbeat() bool {
	return e.Type == TypeHeartbeat || e.Type == TypeHeartbeatAck
}

// IsControl reports whether the envelope is a control message rather than an
// application update.
func (e Envelope) IsControl() bool {
	switch e.Type {
	case TypeSubscribe, TypeUnsubscribe, TypeHeartbeat, TypeHeartbeatAck:
		return true
	}
	return false
}

// FromPolling reports whether the envelope was synthesized by the polling
// fallback, and if so for which channel.
func (e Envelope) FromPolling() (channel string, ok bool) {
	if len(e.Type) > len(PollingPrefix) && e.Type[:len(PollingPrefix)] == PollingPrefix {
		return e.Type[len(PollingPrefix):], true
	}
	return "", false
}

// Age returns the time elapsed since the envelope was produced. Zero if the
// timestamp is unset.
func (e Envelope) Age() time.Duration {
	return timestamp.Since(e.Timestamp)
}
