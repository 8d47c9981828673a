package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeTextMessage    MessageType = "text_message"
	TypeAudioMessage   MessageType = "audio_message"
	TypeClientControl  MessageType = "client_control"
	TypeTextChunk      MessageType = "text_chunk"
	TypeAudioChunk     MessageType = "audio_chunk"
	TypeStreamComplete MessageType = "stream_complete"
	TypeStatusEvent    MessageType = "status_event"
	TypeErrorEvent     MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// TextMessage is a typed user turn.
type TextMessage struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
}

// AudioMessage is a spoken user turn, sent as one complete recording.
type AudioMessage struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	AudioBase64 string      `json:"audio_base64"`
	MimeType    string      `json:"mime_type"`
	Interrupted bool        `json:"interrupted"`
}

// ClientControl carries session-level actions: start (with mode/language),
// interrupt, reset.
type ClientControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Action    string      `json:"action"`
	Mode      string      `json:"mode,omitempty"`
	Language  string      `json:"language,omitempty"`
}

// TextChunk is one speakable unit of the assistant reply, in emission order.
type TextChunk struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id"`
	Index     int         `json:"index"`
	Text      string      `json:"text"`
}

// AudioChunk carries the synthesized audio for the text chunk with the same index.
type AudioChunk struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	TurnID      string      `json:"turn_id"`
	Index       int         `json:"index"`
	Format      string      `json:"format"`
	AudioBase64 string      `json:"audio_base64"`
}

// StreamComplete terminates a successful turn.
type StreamComplete struct {
	Type       MessageType `json:"type"`
	SessionID  string      `json:"session_id"`
	TurnID     string      `json:"turn_id"`
	FullText   string      `json:"full_text"`
	ChunkCount int         `json:"chunk_count"`
}

// StatusEvent is a terse user-facing notice (rate limited, could not hear you).
type StatusEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Message   string      `json:"message,omitempty"`
}

// ErrorEvent reports a failed turn. It never carries upstream error bodies.
type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
}

// ParseClientMessage decodes and validates an inbound client frame.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeTextMessage:
		var msg TextMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" {
			return nil, errors.New("invalid text_message")
		}
		return msg, nil
	case TypeAudioMessage:
		var msg AudioMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.AudioBase64 == "" {
			return nil, errors.New("invalid audio_message")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Action == "" {
			return nil, errors.New("invalid client_control")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
