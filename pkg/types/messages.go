package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Outbound is the closed set of messages the server writes to clients.
// Only the types in this file implement it.
type Outbound interface {
	MessageType() string
}

// InfoMessage is sent once right after the handshake.
type InfoMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (m InfoMessage) MessageType() string { return m.Type }

// NewInfo builds an info message.
func NewInfo(message string) InfoMessage {
	return InfoMessage{Type: MessageTypeInfo, Message: message}
}

// RoomJoinedMessage confirms a room association.
type RoomJoinedMessage struct {
	Type     string `json:"type"`
	RoomCode string `json:"roomCode"`
	IsHost   bool   `json:"isHost"`
	Message  string `json:"message"`
}

func (m RoomJoinedMessage) MessageType() string { return m.Type }

// NewRoomJoined builds the confirmation for host or student.
func NewRoomJoined(roomCode string, isHost bool) RoomJoinedMessage {
	msg := fmt.Sprintf("You joined room %s as a student", roomCode)
	if isHost {
		msg = fmt.Sprintf("You are hosting room %s", roomCode)
	}
	return RoomJoinedMessage{
		Type:     MessageTypeRoomJoined,
		RoomCode: roomCode,
		IsHost:   isHost,
		Message:  msg,
	}
}

// ErrorMessage carries both "error" and "room_error".
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (m ErrorMessage) MessageType() string { return m.Type }

// NewError builds a per-message error.
func NewError(message string) ErrorMessage {
	return ErrorMessage{Type: MessageTypeError, Message: message}
}

// NewRoomError builds a room membership error.
func NewRoomError(message string) ErrorMessage {
	return ErrorMessage{Type: MessageTypeRoomError, Message: message}
}

// TranscriptHistoryMessage replays the buffer to a late-joining student.
type TranscriptHistoryMessage struct {
	Type string            `json:"type"`
	Data []TranscriptEntry `json:"data"`
}

func (m TranscriptHistoryMessage) MessageType() string { return m.Type }

// NewTranscriptHistory copies entries so later appends cannot leak into an
// already queued message.
func NewTranscriptHistory(entries []TranscriptEntry) TranscriptHistoryMessage {
	data := make([]TranscriptEntry, len(entries))
	copy(data, entries)
	return TranscriptHistoryMessage{Type: MessageTypeTranscriptHistory, Data: data}
}

// RecognizedMessage carries the source text of one content event.
type RecognizedMessage struct {
	Type string `json:"type"`
	Lang string `json:"lang,omitempty"`
	Data string `json:"data"`
}

func (m RecognizedMessage) MessageType() string { return m.Type }

// NewRecognized builds a recognized message; lang is empty for audio.
func NewRecognized(lang, text string) RecognizedMessage {
	return RecognizedMessage{Type: MessageTypeRecognized, Lang: lang, Data: text}
}

// TranslationMessage carries one translation of a content event.
type TranslationMessage struct {
	Type string `json:"type"`
	Lang string `json:"lang"`
	Data string `json:"data"`
}

func (m TranslationMessage) MessageType() string { return m.Type }

// NewTranslation builds a translation message.
func NewTranslation(lang, text string) TranslationMessage {
	return TranslationMessage{Type: MessageTypeTranslation, Lang: lang, Data: text}
}

// NoticeMessage announces that a room or connection is going away.
type NoticeMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (m NoticeMessage) MessageType() string { return m.Type }

func NewHostDisconnected() NoticeMessage {
	return NoticeMessage{Type: MessageTypeHostDisconnected, Message: "The host has ended the session."}
}

func NewRoomExpired() NoticeMessage {
	return NoticeMessage{Type: MessageTypeRoomExpired, Message: "This room has expired due to inactivity."}
}

func NewRoomTerminated() NoticeMessage {
	return NoticeMessage{Type: MessageTypeRoomTerminated, Message: "This room has been terminated by an administrator."}
}

func NewAdminTerminated() NoticeMessage {
	return NoticeMessage{Type: MessageTypeAdminTerminated, Message: "Your connection has been terminated by an administrator."}
}

// Inbound is the closed set of client payloads the router understands.
type Inbound interface {
	inbound()
}

// AudioChunk is a raw binary audio payload.
type AudioChunk struct {
	Data []byte
}

func (AudioChunk) inbound() {}

// TextSubmit is typed text submitted in text mode.
type TextSubmit struct {
	Text string `json:"text"`
	Lang string `json:"lang"`
}

func (TextSubmit) inbound() {}

// ParseInbound classifies one frame. Binary frames that are not a JSON object
// are audio. A JSON object must carry a known type tag, otherwise the frame
// is malformed; text frames must always be JSON.
func ParseInbound(binary bool, data []byte) (Inbound, error) {
	trimmed := bytes.TrimSpace(data)
	if binary && (len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed)) {
		if len(data) == 0 {
			return nil, fmt.Errorf("%w: empty audio payload", ErrMalformedInput)
		}
		return AudioChunk{Data: data}, nil
	}

	var envelope struct {
		Type string  `json:"type"`
		Text *string `json:"text"`
		Lang string  `json:"lang"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}

	switch envelope.Type {
	case MessageTypeTextSubmit:
		if envelope.Text == nil {
			return nil, fmt.Errorf("%w: text_submit without text", ErrMalformedInput)
		}
		return TextSubmit{Text: *envelope.Text, Lang: envelope.Lang}, nil
	default:
		return nil, fmt.Errorf("%w: unknown message type %q", ErrMalformedInput, envelope.Type)
	}
}
