// Package protocol defines the websocket messages of the remote-control
// channel. Remote callers submit utterances and answer confirmations; the
// server replies with results and streams pipeline events.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/teslashibe/go-parley/pkg/schema"
)

// MessageType identifies the type of websocket message.
type MessageType string

const (
	// Client → server
	TypeUtterance MessageType = "utterance" // Run the pipeline on text
	TypeConfirm   MessageType = "confirm"   // Resolve a pending confirmation
	TypeRefiner   MessageType = "refiner"   // Toggle refinement
	TypeStatus    MessageType = "status"    // Request a status snapshot

	// Server → client
	TypeResult MessageType = "result" // Pipeline result for an utterance
	TypeEvent  MessageType = "event"  // Live pipeline event
	TypeAck    MessageType = "ack"    // Control message accepted
	TypeError  MessageType = "error"  // Request failed
	TypeHello  MessageType = "hello"  // Sent once after connecting

	// Bidirectional
	TypePing MessageType = "ping" // Health check
	TypePong MessageType = "pong" // Health check response
)

// Message is the envelope of every websocket message. ID correlates a
// reply with the request that caused it.
type Message struct {
	Type      MessageType     `json:"type"`
	ID        string          `json:"id,omitempty"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp.
func NewMessage(msgType MessageType, data any) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// WithID sets the correlation id and returns m.
func (m *Message) WithID(id string) *Message {
	m.ID = id
	return m
}

// ParseData unmarshals the message data into v.
func (m *Message) ParseData(v any) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message.
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes.
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("failed to parse message: missing type")
	}
	return &msg, nil
}

// =============================================================================
// Client → Server Message Types
// =============================================================================

// UtteranceData submits text to the pipeline.
type UtteranceData struct {
	Text             string        `json:"text"`
	Mode             schema.Origin `json:"mode,omitempty"`
	Context          string        `json:"context,omitempty"`
	SkipConfirmation bool          `json:"skip_confirmation,omitempty"`
}

// ConfirmData answers a pending confirmation.
type ConfirmData struct {
	Action schema.ConfirmationOutcome `json:"action"`
}

// RefinerData switches refinement on or off.
type RefinerData struct {
	Enabled bool `json:"enabled"`
}

// =============================================================================
// Server → Client Message Types
// =============================================================================

// HelloData greets a newly connected client.
type HelloData struct {
	ConnectionID string `json:"connection_id"`
	Version      string `json:"version,omitempty"`
}

// AckData confirms a control message.
type AckData struct {
	OK bool `json:"ok"`
}

// ErrorData reports a failed request.
type ErrorData struct {
	Error string `json:"error"`
}

// =============================================================================
// Bidirectional Message Types
// =============================================================================

// PingData contains ping information
type PingData struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"ts"`
}

// PongData contains pong response
type PongData struct {
	ID        string `json:"id"`
	PingTS    int64  `json:"ping_ts"`
	PongTS    int64  `json:"pong_ts"`
	LatencyMs int64  `json:"latency_ms"`
}
