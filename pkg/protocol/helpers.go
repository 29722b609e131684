package protocol

import (
	"time"

	"github.com/teslashibe/go-parley/pkg/schema"
)

// =============================================================================
// Helper functions for creating messages
// =============================================================================

// NewUtteranceMessage creates an utterance request.
func NewUtteranceMessage(text string, mode schema.Origin, skipConfirmation bool) (*Message, error) {
	return NewMessage(TypeUtterance, UtteranceData{
		Text:             text,
		Mode:             mode,
		SkipConfirmation: skipConfirmation,
	})
}

// NewConfirmMessage creates a confirmation answer.
func NewConfirmMessage(action schema.ConfirmationOutcome) (*Message, error) {
	return NewMessage(TypeConfirm, ConfirmData{Action: action})
}

// NewRefinerMessage creates a refiner toggle.
func NewRefinerMessage(enabled bool) (*Message, error) {
	return NewMessage(TypeRefiner, RefinerData{Enabled: enabled})
}

// NewResultMessage wraps a pipeline result.
func NewResultMessage(res *schema.EngineResult) (*Message, error) {
	return NewMessage(TypeResult, res)
}

// NewEventMessage wraps a pipeline event.
func NewEventMessage(ev schema.RunEvent) (*Message, error) {
	return NewMessage(TypeEvent, ev)
}

// NewHelloMessage creates the greeting sent after connecting.
func NewHelloMessage(connectionID, version string) (*Message, error) {
	return NewMessage(TypeHello, HelloData{ConnectionID: connectionID, Version: version})
}

// NewAckMessage creates an acknowledgement.
func NewAckMessage(ok bool) (*Message, error) {
	return NewMessage(TypeAck, AckData{OK: ok})
}

// NewErrorMessage creates an error reply.
func NewErrorMessage(err error) (*Message, error) {
	return NewMessage(TypeError, ErrorData{Error: err.Error()})
}

// NewPingMessage creates a ping message
func NewPingMessage(id string) (*Message, error) {
	return NewMessage(TypePing, PingData{
		ID:        id,
		Timestamp: time.Now().UnixMilli(),
	})
}

// NewPongMessage creates a pong response message
func NewPongMessage(id string, pingTS, pongTS int64) (*Message, error) {
	return NewMessage(TypePong, PongData{
		ID:        id,
		PingTS:    pingTS,
		PongTS:    pongTS,
		LatencyMs: pongTS - pingTS,
	})
}

// =============================================================================
// Helper functions for parsing messages
// =============================================================================

// GetUtteranceData extracts an utterance request.
func (m *Message) GetUtteranceData() (*UtteranceData, error) {
	var data UtteranceData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetConfirmData extracts a confirmation answer.
func (m *Message) GetConfirmData() (*ConfirmData, error) {
	var data ConfirmData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetRefinerData extracts a refiner toggle.
func (m *Message) GetRefinerData() (*RefinerData, error) {
	var data RefinerData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetResult extracts a pipeline result.
func (m *Message) GetResult() (*schema.EngineResult, error) {
	var data schema.EngineResult
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetEvent extracts a pipeline event.
func (m *Message) GetEvent() (*schema.RunEvent, error) {
	var data schema.RunEvent
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetErrorData extracts an error reply.
func (m *Message) GetErrorData() (*ErrorData, error) {
	var data ErrorData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPingData extracts ping data from a message
func (m *Message) GetPingData() (*PingData, error) {
	var data PingData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPongData extracts pong data from a message
func (m *Message) GetPongData() (*PongData, error) {
	var data PongData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}
