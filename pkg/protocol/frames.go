// Package protocol defines the wire format shared with the BotNexa
// connection service: command frames sent by the client and event frames
// pushed by the backend while a device-linking attempt is in flight.
package protocol

import "encoding/json"

// Frame types
const (
	FrameTypeCommand = "cmd"
	FrameTypeEvent   = "event"
)

// Outbound command names understood by the connection service.
const (
	CommandConnect    = "connect"
	CommandDisconnect = "disconnect"
)

// Linking modes for the connect command.
const (
	ModeQR      = "qr"
	ModePairing = "pairing"
)

// CommandFrame wraps an outbound command. Event names the command and
// Payload carries its arguments, mirroring how inbound events are shaped.
type CommandFrame struct {
	Type    string `json:"type"` // always "cmd"
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
}

// ConnectRequest asks the backend to begin a linking attempt for a bot.
// RequestID is client-generated for correlation; older backends ignore it.
type ConnectRequest struct {
	BotID     int64  `json:"botId"`
	Mode      string `json:"mode"`
	RequestID string `json:"requestId,omitempty"`
}

// DisconnectRequest asks the backend to tear down a linking attempt.
type DisconnectRequest struct {
	BotID     int64  `json:"botId"`
	RequestID string `json:"requestId,omitempty"`
}

// EventFrame is pushed from the backend without a preceding request.
// Event carries the wire-level name, e.g. "code-42" or "connection_update".
type EventFrame struct {
	Type    string          `json:"type"` // always "event"
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ParseFrameType extracts the frame type from raw JSON bytes.
func ParseFrameType(data []byte) (string, error) {
	var raw struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return "", err
	}
	return raw.Type, nil
}
