package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// EventKind identifies a class of event independent of the bot it targets.
type EventKind string

// Event kinds pushed by the backend. The wire-level event name scopes
// per-bot kinds with a "-<botId>" suffix ("code-42"); connection_update is
// global and carries the bot id in its payload instead.
const (
	KindCode       EventKind = "code"
	KindPairing    EventKind = "pairing"
	KindTimeout    EventKind = "timeout"
	KindConnection EventKind = "connection_update"
)

// Transport-local kinds, never seen on the wire. They describe the state of
// the channel itself.
const (
	KindReady        EventKind = "ready"
	KindDisconnected EventKind = "disconnected"
	KindError        EventKind = "error"
)

// Envelope is the parsed form of an inbound event: the wire name split into
// its kind and bot scope, with the payload left raw for the consumer.
type Envelope struct {
	Kind    EventKind
	BotID   int64
	Payload json.RawMessage
}

// Payload shapes for the backend event kinds.
type (
	// CodePayload carries raw scannable-code data for KindCode.
	CodePayload struct {
		Code string `json:"code"`
	}

	// PairingPayload carries the raw numeric pairing code for KindPairing.
	PairingPayload struct {
		Code string `json:"code"`
	}

	// TimeoutPayload signals an expired linking attempt for KindTimeout.
	TimeoutPayload struct {
		Timeout bool `json:"timeout"`
	}

	// ConnectionPayload reports a connection-state change for KindConnection.
	ConnectionPayload struct {
		BotID     int64  `json:"botId"`
		Connected bool   `json:"connected"`
		Status    string `json:"status"`
	}
)

// EventName formats the wire-level name for a kind scoped to a bot.
// Global and transport-local kinds have no suffix.
func EventName(kind EventKind, botID int64) string {
	switch kind {
	case KindCode, KindPairing, KindTimeout:
		return fmt.Sprintf("%s-%d", kind, botID)
	default:
		return string(kind)
	}
}

// ParseEventName splits a wire-level event name back into an event kind and
// bot id. Names without a recognized kind are rejected so a typo on the
// backend cannot be silently routed as a fresh subscription key.
func ParseEventName(name string) (EventKind, int64, error) {
	switch EventKind(name) {
	case KindConnection, KindReady, KindDisconnected, KindError:
		return EventKind(name), 0, nil
	}

	idx := strings.LastIndex(name, "-")
	if idx <= 0 || idx == len(name)-1 {
		return "", 0, fmt.Errorf("unrecognized event name %q", name)
	}

	kind := EventKind(name[:idx])
	switch kind {
	case KindCode, KindPairing, KindTimeout:
	default:
		return "", 0, fmt.Errorf("unrecognized event kind %q", name[:idx])
	}

	botID, err := strconv.ParseInt(name[idx+1:], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("event name %q: bad bot id: %w", name, err)
	}
	return kind, botID, nil
}

// ParseEnvelope converts an inbound event frame into an Envelope. For
// connection_update the bot id is lifted out of the payload so consumers can
// filter uniformly on Envelope.BotID.
func ParseEnvelope(frame EventFrame) (Envelope, error) {
	kind, botID, err := ParseEventName(frame.Event)
	if err != nil {
		return Envelope{}, err
	}

	env := Envelope{Kind: kind, BotID: botID, Payload: frame.Payload}
	if kind == KindConnection {
		var p ConnectionPayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			return Envelope{}, fmt.Errorf("connection_update payload: %w", err)
		}
		env.BotID = p.BotID
	}
	return env, nil
}
