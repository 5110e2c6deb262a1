package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// Action is the discriminant of a control message.
type Action string

const (
	ActionStart      Action = "start"
	ActionStop       Action = "stop"
	ActionPause      Action = "pause"
	ActionResume     Action = "resume"
	ActionExtend     Action = "extend"
	ActionEnroll     Action = "enroll"
	ActionMapSpeaker Action = "mapSpeaker"
)

// Inbound is the closed set of client-to-server messages.
type Inbound interface {
	isInbound()
}

// AudioMessage carries one decoded audio chunk.
type AudioMessage struct {
	Data      []byte
	Timestamp time.Time
}

func (AudioMessage) isInbound() {}

// Profile is a voice profile supplied with an enroll action.
type Profile struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Audio string `json:"audio,omitempty"`
}

// ControlMessage carries one session control action with its payload.
type ControlMessage struct {
	Action      Action
	Profiles    []Profile
	SpeakerID   string
	ProfileID   string
	DisplayName string
}

func (ControlMessage) isInbound() {}

// DecodeErrorKind classifies why an inbound frame was rejected.
type DecodeErrorKind string

const (
	InvalidJSON   DecodeErrorKind = "invalid_json"
	MissingType   DecodeErrorKind = "missing_type"
	UnknownType   DecodeErrorKind = "unknown_type"
	UnknownAction DecodeErrorKind = "unknown_action"
	InvalidBase64 DecodeErrorKind = "invalid_base64"
)

// DecodeError describes a rejected frame. Every decode failure is
// recoverable: the sender gets an error message and the connection stays
// open.
type DecodeError struct {
	Kind    DecodeErrorKind
	Message string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

type envelope struct {
	Type        string    `json:"type"`
	Data        string    `json:"data"`
	Timestamp   string    `json:"timestamp"`
	Action      string    `json:"action"`
	Profiles    []Profile `json:"profiles"`
	SpeakerID   string    `json:"speakerId"`
	ProfileID   string    `json:"profileId"`
	DisplayName string    `json:"displayName"`
}

// Decode parses a raw text frame into one of the typed inbound messages.
func Decode(raw []byte) (Inbound, *DecodeError) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &DecodeError{Kind: InvalidJSON, Message: fmt.Sprintf("frame is not valid JSON: %v", err)}
	}

	switch env.Type {
	case "":
		return nil, &DecodeError{Kind: MissingType, Message: "message has no type field"}
	case "audio":
		return decodeAudio(env)
	case "control":
		return decodeControl(env)
	default:
		return nil, &DecodeError{Kind: UnknownType, Message: fmt.Sprintf("unknown message type %q", env.Type)}
	}
}

func decodeAudio(env envelope) (Inbound, *DecodeError) {
	data, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		return nil, &DecodeError{Kind: InvalidBase64, Message: fmt.Sprintf("audio data is not valid base64: %v", err)}
	}

	// The timestamp is advisory; a missing or malformed one is tolerated.
	var ts time.Time
	if env.Timestamp != "" {
		if parsed, perr := time.Parse(time.RFC3339Nano, env.Timestamp); perr == nil {
			ts = parsed
		}
	}

	return &AudioMessage{Data: data, Timestamp: ts}, nil
}

func decodeControl(env envelope) (Inbound, *DecodeError) {
	switch Action(env.Action) {
	case ActionStart, ActionStop, ActionPause, ActionResume, ActionExtend, ActionEnroll, ActionMapSpeaker:
	default:
		return nil, &DecodeError{Kind: UnknownAction, Message: fmt.Sprintf("unknown control action %q", env.Action)}
	}

	return &ControlMessage{
		Action:      Action(env.Action),
		Profiles:    env.Profiles,
		SpeakerID:   env.SpeakerID,
		ProfileID:   env.ProfileID,
		DisplayName: env.DisplayName,
	}, nil
}
