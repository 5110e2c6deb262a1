// Package protocol converts raw WebSocket text frames to and from the closed
// set of typed session messages. It performs no business logic.
package protocol

import (
	"encoding/json"
	"time"
)

// Version is carried on every outbound message so clients can detect
// incompatible payload changes. Consumers must tolerate unknown fields.
const Version = 1

// Header is embedded in every outbound message.
type Header struct {
	Type      string `json:"type"`
	Version   int    `json:"version"`
	Timestamp string `json:"timestamp"`
}

func newHeader(msgType string, now time.Time) Header {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return Header{
		Type:      msgType,
		Version:   Version,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}

// Utterance is one attributed piece of recognized speech. Append-only within
// a session; only the final flag ever transitions after creation.
type Utterance struct {
	ID          string  `json:"id"`
	SessionID   string  `json:"sessionId"`
	SpeakerID   string  `json:"speakerId"`
	SpeakerName string  `json:"speakerName"`
	Text        string  `json:"text"`
	StartTime   float64 `json:"startTime"`
	EndTime     float64 `json:"endTime"`
	Confidence  float64 `json:"confidence"`
	IsFinal     bool    `json:"isFinal"`
}

// SpeakerMapping associates a recognizer-assigned speaker id with a voice
// profile and a human display name.
type SpeakerMapping struct {
	SpeakerID   string `json:"speakerId"`
	ProfileID   string `json:"profileId"`
	DisplayName string `json:"displayName"`
}

type StatusMessage struct {
	Header
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type TranscriptionMessage struct {
	Header
	Utterance Utterance `json:"utterance"`
	IsFinal   bool      `json:"isFinal"`
}

type SpeakerRegisteredMessage struct {
	Header
	Mapping SpeakerMapping `json:"mapping"`
}

type EnrollmentWarningMessage struct {
	Header
	ProfileID   string `json:"profileId"`
	ProfileName string `json:"profileName"`
	Message     string `json:"message"`
}

// TimeoutStatusMessage is broadcast once per second while a session's
// timeout engine is running. Nil remaining values mean that axis is
// unlimited.
type TimeoutStatusMessage struct {
	Header
	SessionTimeoutRemaining *int64 `json:"sessionTimeoutRemaining"`
	SilenceTimeoutRemaining *int64 `json:"silenceTimeoutRemaining"`
}

type TimeoutWarningMessage struct {
	Header
	WarningType      string `json:"warningType"`
	RemainingSeconds int64  `json:"remainingSeconds"`
	Message          string `json:"message"`
}

type TimeoutEndedMessage struct {
	Header
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

type ErrorMessage struct {
	Header
	Code        string `json:"code"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

// Outbound constructors. Each returns the message ready for Encode.

func NewStatus(status, message string) StatusMessage {
	return StatusMessage{Header: newHeader("status", time.Time{}), Status: status, Message: message}
}

func NewTranscription(u Utterance) TranscriptionMessage {
	return TranscriptionMessage{Header: newHeader("transcription", time.Time{}), Utterance: u, IsFinal: u.IsFinal}
}

func NewSpeakerRegistered(m SpeakerMapping) SpeakerRegisteredMessage {
	return SpeakerRegisteredMessage{Header: newHeader("speaker_registered", time.Time{}), Mapping: m}
}

func NewEnrollmentWarning(profileID, profileName, message string) EnrollmentWarningMessage {
	return EnrollmentWarningMessage{
		Header:      newHeader("enrollment_warning", time.Time{}),
		ProfileID:   profileID,
		ProfileName: profileName,
		Message:     message,
	}
}

func NewTimeoutStatus(sessionRemaining, silenceRemaining *int64) TimeoutStatusMessage {
	return TimeoutStatusMessage{
		Header:                  newHeader("timeout_status", time.Time{}),
		SessionTimeoutRemaining: sessionRemaining,
		SilenceTimeoutRemaining: silenceRemaining,
	}
}

func NewTimeoutWarning(warningType string, remainingSeconds int64, message string) TimeoutWarningMessage {
	return TimeoutWarningMessage{
		Header:           newHeader("timeout_warning", time.Time{}),
		WarningType:      warningType,
		RemainingSeconds: remainingSeconds,
		Message:          message,
	}
}

func NewTimeoutEnded(reason, message string) TimeoutEndedMessage {
	return TimeoutEndedMessage{Header: newHeader("timeout_ended", time.Time{}), Reason: reason, Message: message}
}

func NewError(code, message string, recoverable bool) ErrorMessage {
	return ErrorMessage{Header: newHeader("error", time.Time{}), Code: code, Message: message, Recoverable: recoverable}
}

// Encode serializes an outbound message to a UTF-8 JSON frame.
func Encode(msg any) ([]byte, error) {
	return json.Marshal(msg)
}
